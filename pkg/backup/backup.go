package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
)

const ManifestFileName = "manifest.json"

const (
	stagingPrefix = ".backup-"
	retiredSuffix = "-retired"
	// staleStagingAge is how old a staging directory must be before Create
	// treats it as left behind by an interrupted run.
	staleStagingAge = time.Hour
)

// Set describes the backup currently on disk.
type Set struct {
	ID        string   `json:"id"`
	CreatedAt int64    `json:"created_at"`
	Trees     []string `json:"trees"`
	Path      string   `json:"-"`
}

type tree struct {
	name string
	src  string
}

// Manager owns <app-data>/backup. Each Create replaces the previous set
// as a whole; sets are never merged and no history is kept.
type Manager struct {
	layout   *paths.Layout
	now      func() time.Time
	copyFile func(src, dst string, mode os.FileMode) error
}

func NewManager(layout *paths.Layout) *Manager {
	return &Manager{
		layout:   layout,
		now:      time.Now,
		copyFile: copyFile,
	}
}

func (m *Manager) trees() []tree {
	return []tree{
		{name: paths.SavesDirName, src: m.layout.SavesDir()},
		{name: paths.ConfigDirName, src: m.layout.ConfigDir()},
	}
}

// Create copies the saves tree and, if present, the config tree into a new
// backup set. The copy is assembled next to the backup directory and only
// swapped in once complete, so a failed Create leaves the previous set as
// it was. A missing source tree is skipped.
//
// Creates are not coordinated across processes. Staging directories older
// than an hour are assumed abandoned and swept first.
func (m *Manager) Create(ctx context.Context) (*Set, error) {
	const op = "backup.create"

	if err := os.MkdirAll(m.layout.Root, 0o755); err != nil {
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to create app data directory: %w", err)
	}

	m.sweepStaging()

	set := &Set{
		ID:        uuid.NewString(),
		CreatedAt: m.now().Unix(),
		Trees:     []string{},
		Path:      m.layout.BackupDir(),
	}
	staging := filepath.Join(m.layout.Root, stagingPrefix+set.ID)
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to create backup staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	for _, t := range m.trees() {
		info, err := os.Stat(t.src)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Debug("Skipping backup of %s: directory does not exist", t.name)
				continue
			}
			return nil, apperr.Errorf(apperr.KindIO, op, "failed to stat %s directory: %w", t.name, err)
		}
		if !info.IsDir() {
			return nil, apperr.Errorf(apperr.KindIO, op, "%s is not a directory", t.src)
		}

		if err := copyTree(ctx, t.src, filepath.Join(staging, t.name), m.copyFile); err != nil {
			return nil, apperr.Errorf(apperr.KindIO, op, "failed to back up %s directory: %w", t.name, err)
		}
		set.Trees = append(set.Trees, t.name)
	}

	manifest, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to serialize manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, ManifestFileName), manifest, 0o644); err != nil {
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to write manifest: %w", err)
	}

	if err := m.swap(staging); err != nil {
		return nil, apperr.Errorf(apperr.KindIO, op, "failed to replace previous backup: %w", err)
	}
	committed = true

	log.Info("Created backup %s of %v", set.ID, set.Trees)
	return set, nil
}

// swap moves staging into the backup directory, retiring the old set.
func (m *Manager) swap(staging string) error {
	target := m.layout.BackupDir()
	retired := staging + retiredSuffix

	hadPrevious := true
	if err := os.Rename(target, retired); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		hadPrevious = false
	}

	if err := os.Rename(staging, target); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(retired, target); restoreErr != nil {
				log.Error("Failed to put back previous backup from %s: %v", retired, restoreErr)
			}
		}
		return err
	}

	if hadPrevious {
		if err := os.RemoveAll(retired); err != nil {
			log.Warn("Failed to remove retired backup %s: %v", retired, err)
		}
	}
	return nil
}

// sweepStaging removes staging directories left by an interrupted Create.
// A retired set is moved back instead when the backup directory is missing,
// which happens if a swap was cut short between its two renames.
func (m *Manager) sweepStaging() {
	matches, err := filepath.Glob(filepath.Join(m.layout.Root, stagingPrefix+"*"))
	if err != nil {
		log.Warn("Failed to list backup staging directories: %v", err)
		return
	}
	cutoff := m.now().Add(-staleStagingAge)
	for _, dir := range matches {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if strings.HasSuffix(dir, retiredSuffix) {
			if _, err := os.Stat(m.layout.BackupDir()); errors.Is(err, os.ErrNotExist) {
				if err := os.Rename(dir, m.layout.BackupDir()); err == nil {
					log.Warn("Recovered backup from interrupted swap %s", dir)
					continue
				}
			}
		}
		log.Warn("Removing abandoned backup staging directory %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Failed to remove %s: %v", dir, err)
		}
	}
}

// Latest returns the set currently on disk, or nil if there is none.
func (m *Manager) Latest(ctx context.Context) (*Set, error) {
	content, err := os.ReadFile(filepath.Join(m.layout.BackupDir(), ManifestFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Errorf(apperr.KindIO, "backup.latest", "failed to read manifest: %w", err)
	}

	set := &Set{}
	if err := json.Unmarshal(content, set); err != nil {
		return nil, apperr.Errorf(apperr.KindMalformedInput, "backup.latest", "failed to parse manifest: %w", err)
	}
	set.Path = m.layout.BackupDir()
	return set, nil
}

// Restore copies every tree of the current set back over the live data.
// Files present in the live tree but not in the backup are left alone.
// It exists for manual recovery and is never run automatically.
func (m *Manager) Restore(ctx context.Context) (*Set, error) {
	const op = "backup.restore"

	set, err := m.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, apperr.Errorf(apperr.KindNotFound, op, "no backup to restore")
	}

	for _, t := range m.trees() {
		if !contains(set.Trees, t.name) {
			continue
		}
		if err := copyTree(ctx, filepath.Join(set.Path, t.name), t.src, m.copyFile); err != nil {
			return nil, apperr.Errorf(apperr.KindIO, op, "failed to restore %s directory: %w", t.name, err)
		}
	}

	log.Info("Restored backup %s", set.ID)
	return set, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func (s *Set) String() string {
	return fmt.Sprintf("%s (%s)", s.ID, time.Unix(s.CreatedAt, 0).UTC().Format(time.RFC3339))
}
