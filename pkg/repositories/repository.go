package repositories

import (
	"context"
	"fmt"
	"net/url"

	"github.com/whatislife/savekeeper/pkg/paths"
)

// SaveRepository stores one opaque save payload per player.
// Absence of a save is never an error: LoadGame returns the empty string.
type SaveRepository interface {
	Close(ctx context.Context) error
	SaveGame(ctx context.Context, playerID string, data string) error
	LoadGame(ctx context.Context, playerID string) (string, error)
}

// Open selects a backend by the scheme of databaseURL:
// sqlite:// (per-player files under the layout), postgresql:// or redis://.
// An empty URL means sqlite.
func Open(ctx context.Context, databaseURL string, layout *paths.Layout) (SaveRepository, error) {
	if databaseURL == "" {
		databaseURL = "sqlite://"
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		return NewSQLiteRepository(layout), nil
	case "postgres", "postgresql":
		return NewPostgresRepository(ctx, databaseURL)
	case "redis", "rediss":
		return NewRedisRepository(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown database type %s", u.Scheme)
	}
}
