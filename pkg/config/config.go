package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// DefaultHost keeps the API on the loopback interface unless another
// address is configured.
const DefaultHost = "127.0.0.1"

// DefaultReleasesURL is the GitHub releases API queried for updates.
const DefaultReleasesURL = "https://api.github.com/repos/whatislife/game/releases"

// Config is read from SAVEKEEPER_* environment variables. Flags in cmd/*
// override individual fields.
type Config struct {
	AppDataDir  string `env:"SAVEKEEPER_APP_DATA_DIR"`
	DatabaseURL string `env:"SAVEKEEPER_DATABASE_URL" envDefault:"sqlite://"`
	ReleasesURL string `env:"SAVEKEEPER_RELEASES_URL" envDefault:"https://api.github.com/repos/whatislife/game/releases"`
	LogLevel    string `env:"SAVEKEEPER_LOG_LEVEL" envDefault:"info"`
	APIToken    string `env:"SAVEKEEPER_API_TOKEN"`
	AutoBan     bool   `env:"SAVEKEEPER_AUTO_BAN" envDefault:"false"`
	Host        string `env:"SAVEKEEPER_HOST" envDefault:"127.0.0.1"`
	Port        int    `env:"SAVEKEEPER_PORT" envDefault:"8080"`

	// AllowedOrigins are the browser origins accepted on the LAN websocket.
	// Without any, only same-origin and non-browser clients may connect.
	AllowedOrigins []string `env:"SAVEKEEPER_ALLOWED_ORIGINS" envSeparator:","`
}

// ParseEnv loads the configuration from the environment.
func ParseEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	return cfg, nil
}
