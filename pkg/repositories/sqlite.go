package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
)

// SaveDBFileName is the database file inside a player namespace.
const SaveDBFileName = "save.db"

// SQLiteRepository keeps one SQLite database per player under
// <app-data>/saves/<player_id>/save.db, so a corrupted database only ever
// affects its own player. Databases are opened per call.
type SQLiteRepository struct {
	layout *paths.Layout
	now    func() time.Time
}

func NewSQLiteRepository(layout *paths.Layout) *SQLiteRepository {
	return &SQLiteRepository{
		layout: layout,
		now:    time.Now,
	}
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return nil
}

func (r *SQLiteRepository) SaveGame(ctx context.Context, playerID string, data string) error {
	const op = "saves.save"

	namespace, err := r.layout.PlayerNamespace(playerID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.layout.SavesDir(), 0o755); err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to create saves directory: %w", err)
	}
	if err := os.MkdirAll(namespace, 0o755); err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to create player directory: %w", err)
	}

	db, err := openSQLite(ctx, filepath.Join(namespace, SaveDBFileName), false)
	if err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to open database: %w", err)
	}
	defer db.Close()

	err = applyMigrations(ctx, "sqlite", execFunc(func(ctx context.Context, query string) error {
		_, err := db.ExecContext(ctx, query)
		return err
	}))
	if err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to create table: %w", err)
	}

	q := `
	INSERT OR REPLACE INTO game_data (id, data, player_id, last_modified, version)
	VALUES (1, ?, ?, ?, ?);
	`
	if _, err := db.ExecContext(ctx, q, data, playerID, nowUnix(r.now), SaveFormatVersion); err != nil {
		return apperr.Errorf(apperr.KindIO, op, "failed to save game data: %w", err)
	}

	log.Debug("Saved game for player %s (%d bytes)", playerID, len(data))
	return nil
}

func (r *SQLiteRepository) LoadGame(ctx context.Context, playerID string) (string, error) {
	const op = "saves.load"

	namespace, err := r.layout.PlayerNamespace(playerID)
	if err != nil {
		return "", err
	}
	dbPath := filepath.Join(namespace, SaveDBFileName)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", apperr.Errorf(apperr.KindIO, op, "failed to stat save file: %w", err)
	}

	db, err := openSQLite(ctx, dbPath, true)
	if err != nil {
		return "", apperr.Errorf(apperr.KindIO, op, "failed to open database: %w", err)
	}
	defer db.Close()

	q := `
	SELECT data FROM game_data WHERE id = 1 AND player_id = ?;
	`
	var data string
	if err := db.QueryRowContext(ctx, q, playerID).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return "", nil
		}
		return "", apperr.Errorf(apperr.KindIO, op, "failed to load game data: %w", err)
	}

	return data, nil
}

func openSQLite(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	dsn, err := sqliteDSN(path, readOnly)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN builds a file: URI for path. The path is percent-escaped so
// '#', '?' and '%' in a directory name stay part of the file name.
func sqliteDSN(path string, readOnly bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	query := url.Values{}
	query.Set("_busy_timeout", "5000")
	if readOnly {
		query.Set("mode", "ro")
	}
	u := &url.URL{
		Scheme:   "file",
		Path:     slashed,
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}

// isMissingTable treats a database file without the game_data table as a
// file holding no record.
func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
