package updates

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
)

// PendingFileName is written by PendingInstaller inside the updates directory.
const PendingFileName = "pending.json"

// Payload is a staged update that has been backed up against.
type Payload struct {
	Version  string `json:"version"`
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
	StagedAt int64  `json:"staged_at"`
}

// Installer applies a staged payload. It runs only after a fresh backup.
// The boolean reports whether the update was accepted for installation.
type Installer interface {
	Install(ctx context.Context, payload Payload) (bool, error)
}

// PendingInstaller hands the payload over to the external launcher by
// recording it in updates/pending.json. The running process never replaces
// its own files or restarts itself.
type PendingInstaller struct {
	layout *paths.Layout
	now    func() time.Time
}

func NewPendingInstaller(layout *paths.Layout) *PendingInstaller {
	return &PendingInstaller{
		layout: layout,
		now:    time.Now,
	}
}

func (i *PendingInstaller) Install(ctx context.Context, payload Payload) (bool, error) {
	payload.StagedAt = i.now().Unix()
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return false, err
	}
	pendingPath := filepath.Join(i.layout.UpdatesDir(), PendingFileName)
	if err := os.MkdirAll(i.layout.UpdatesDir(), 0o755); err != nil {
		return false, err
	}
	if err := atomic.WriteFile(pendingPath, bytes.NewReader(b)); err != nil {
		return false, err
	}
	log.Info("Update %s recorded as pending at %s", payload.Version, pendingPath)
	return true, nil
}

// ReadPending returns the pending update, or nil if there is none.
func ReadPending(layout *paths.Layout) (*Payload, error) {
	b, err := os.ReadFile(filepath.Join(layout.UpdatesDir(), PendingFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	payload := &Payload{}
	if err := json.Unmarshal(b, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
