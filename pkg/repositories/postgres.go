package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
)

// PostgresRepository keeps all saves in one table keyed by player id.
// The primary key is the player namespace.
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository connects to the database and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %w", err)
	}
	log.Info("Connected to %s as %s", database, username)

	err = applyMigrations(ctx, "postgres", execFunc(func(ctx context.Context, query string) error {
		_, err := pool.Exec(ctx, query)
		return err
	}))
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{
		pool: pool,
		now:  time.Now,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) SaveGame(ctx context.Context, playerID string, data string) error {
	if _, err := paths.SanitizeID(playerID); err != nil {
		return err
	}

	q := `
	INSERT INTO game_data (player_id, data, last_modified, version) VALUES ($1, $2, $3, $4)
	ON CONFLICT (player_id) DO UPDATE SET data = $2, last_modified = $3, version = $4;
	`
	if _, err := r.pool.Exec(ctx, q, playerID, data, nowUnix(r.now), SaveFormatVersion); err != nil {
		return apperr.Errorf(apperr.KindIO, "saves.save", "failed to save game data: %w", err)
	}

	return nil
}

func (r *PostgresRepository) LoadGame(ctx context.Context, playerID string) (string, error) {
	if _, err := paths.SanitizeID(playerID); err != nil {
		return "", err
	}

	q := `
	SELECT data FROM game_data WHERE player_id = $1;
	`
	var data string
	if err := r.pool.QueryRow(ctx, q, playerID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", apperr.Errorf(apperr.KindIO, "saves.load", "failed to load game data: %w", err)
	}

	return data, nil
}
