package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"

	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
	"github.com/whatislife/savekeeper/pkg/updates"
)

const SettingsFileName = "settings.toml"

// ErrDefaultSettingsGenerated means the settings file did not exist and
// the defaults were written in its place.
var ErrDefaultSettingsGenerated = errors.New("default settings generated")

type Settings struct {
	Updates UpdateSettings `toml:"updates"`
}

type UpdateSettings struct {
	Enabled            bool      `toml:"enabled"`
	CheckIntervalHours int       `toml:"check_interval_hours"`
	LastCheck          time.Time `toml:"last_check"`
	VersionComparison  string    `toml:"version_comparison"`
}

func NewSettings() *Settings {
	return &Settings{
		Updates: UpdateSettings{
			Enabled:            true,
			CheckIntervalHours: 24,
			VersionComparison:  string(updates.CompareExact),
		},
	}
}

// SettingsPath is config/settings.toml under the app data root.
func SettingsPath(layout *paths.Layout) string {
	return filepath.Join(layout.ConfigDir(), SettingsFileName)
}

// LoadSettingsOrDefault reads the settings file. If it does not exist the
// defaults are written to it and returned with ErrDefaultSettingsGenerated.
func LoadSettingsOrDefault(path string) (*Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		settings := NewSettings()
		if err := SaveSettings(path, settings); err != nil {
			return nil, err
		}
		return settings, ErrDefaultSettingsGenerated
	}

	settings := NewSettings()
	meta, err := toml.DecodeFile(path, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Info("Settings %s: undecoded keys %v", path, undecoded)
	}
	return settings, nil
}

// SaveSettings replaces the settings file atomically.
func SaveSettings(path string, settings *Settings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Policy converts the update settings into an update policy.
func (s *Settings) Policy() updates.Policy {
	return updates.Policy{
		Enabled:       s.Updates.Enabled,
		CheckInterval: time.Duration(s.Updates.CheckIntervalHours) * time.Hour,
		LastCheck:     s.Updates.LastCheck,
	}
}

// Comparison parses version_comparison. Unknown values are an error.
func (s *Settings) Comparison() (updates.Comparison, error) {
	return updates.ParseComparison(s.Updates.VersionComparison)
}
