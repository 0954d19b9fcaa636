package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/whatislife/savekeeper/pkg/apperr"
)

const (
	SavesDirName   = "saves"
	BansDirName    = "bans"
	BackupDirName  = "backup"
	UpdatesDirName = "updates"
	ConfigDirName  = "config"

	maxIDLength = 128
)

// Resolver supplies the writable application data root.
type Resolver interface {
	AppDataDir() (string, error)
}

// StaticResolver always resolves to the same directory.
type StaticResolver string

func (r StaticResolver) AppDataDir() (string, error) {
	if r == "" {
		return "", fmt.Errorf("app data directory is not set")
	}
	return filepath.Clean(string(r)), nil
}

// UserResolver resolves to <user config dir>/<AppName>.
type UserResolver struct {
	AppName string
}

func (r UserResolver) AppDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, r.AppName), nil
}

// Layout is the on-disk layout under an application data root.
// Every path derived from a player id or a version goes through SanitizeID.
type Layout struct {
	Root string
}

// NewLayout resolves the application data root once.
func NewLayout(resolver Resolver) (*Layout, error) {
	root, err := resolver.AppDataDir()
	if err != nil {
		return nil, apperr.Errorf(apperr.KindIO, "paths.resolve", "failed to get app data directory: %w", err)
	}
	return &Layout{Root: root}, nil
}

func (l *Layout) SavesDir() string {
	return filepath.Join(l.Root, SavesDirName)
}

func (l *Layout) BansDir() string {
	return filepath.Join(l.Root, BansDirName)
}

func (l *Layout) BackupDir() string {
	return filepath.Join(l.Root, BackupDirName)
}

func (l *Layout) UpdatesDir() string {
	return filepath.Join(l.Root, UpdatesDirName)
}

func (l *Layout) ConfigDir() string {
	return filepath.Join(l.Root, ConfigDirName)
}

// PlayerNamespace returns the directory holding the save store of one player.
func (l *Layout) PlayerNamespace(playerID string) (string, error) {
	id, err := SanitizeID(playerID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.SavesDir(), id), nil
}

// BanFile returns the path of the ban record of one player.
func (l *Layout) BanFile(playerID string) (string, error) {
	id, err := SanitizeID(playerID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.BansDir(), id+".ban"), nil
}

// UpdateFile returns the staging path of the payload of one version.
func (l *Layout) UpdateFile(version string) (string, error) {
	v, err := SanitizeID(version)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.UpdatesDir(), "update_"+v), nil
}

// SanitizeID rejects identifiers that are unsafe as a single path element:
// empty, too long, starting with a dot, or containing anything other than
// ASCII letters, digits, '-', '_' and '.'.
func SanitizeID(id string) (string, error) {
	if id == "" {
		return "", apperr.Errorf(apperr.KindMalformedInput, "paths.sanitize", "identifier is empty")
	}
	if len(id) > maxIDLength {
		return "", apperr.Errorf(apperr.KindMalformedInput, "paths.sanitize", "identifier is longer than %d bytes", maxIDLength)
	}
	if id[0] == '.' {
		return "", apperr.Errorf(apperr.KindMalformedInput, "paths.sanitize", "identifier %q must not start with a dot", id)
	}
	for i := 0; i < len(id); i++ {
		if !allowedIDByte(id[i]) {
			return "", apperr.Errorf(apperr.KindMalformedInput, "paths.sanitize", "identifier %q contains a disallowed character", id)
		}
	}
	return id, nil
}

func allowedIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.':
		return true
	default:
		return false
	}
}

// Within reports whether path lies strictly inside dir after cleaning.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}
