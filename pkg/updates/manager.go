package updates

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/backup"
	"github.com/whatislife/savekeeper/pkg/log"
	"github.com/whatislife/savekeeper/pkg/paths"
)

type State int

const (
	StateIdle State = iota
	StateChecking
	StateUpToDate
	StateUpdateAvailable
	StateDownloading
	StateStaged
	StateBackingUp
	StateInstalling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateUpToDate:
		return "up_to_date"
	case StateUpdateAvailable:
		return "update_available"
	case StateDownloading:
		return "downloading"
	case StateStaged:
		return "staged"
	case StateBackingUp:
		return "backing_up"
	case StateInstalling:
		return "installing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Backuper takes the backup that must precede an install.
type Backuper interface {
	Create(ctx context.Context) (*backup.Set, error)
}

// Manager drives one update attempt at a time:
// check, download, back up, install. It never retries on its own.
// The one-install-at-a-time guard holds within a process only; a CLI
// install and a running server are not serialized against each other.
type Manager struct {
	layout     *paths.Layout
	source     ReleaseSource
	backups    Backuper
	installer  Installer
	client     *http.Client
	comparison Comparison

	lock         sync.Mutex
	state        State
	installing   bool
	downloadURLs map[string]string
}

type NewManagerOptions struct {
	Layout     *paths.Layout
	Source     ReleaseSource
	Backups    Backuper
	Installer  Installer
	HTTPClient *http.Client
	Comparison Comparison
}

func NewManager(opts NewManagerOptions) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	installer := opts.Installer
	if installer == nil {
		installer = NewPendingInstaller(opts.Layout)
	}
	comparison := opts.Comparison
	if comparison == "" {
		comparison = CompareExact
	}
	return &Manager{
		layout:       opts.Layout,
		source:       opts.Source,
		backups:      opts.Backups,
		installer:    installer,
		client:       client,
		comparison:   comparison,
		state:        StateIdle,
		downloadURLs: make(map[string]string),
	}
}

// State returns the state reached by the latest operation.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.lock.Lock()
	prev := m.state
	m.state = s
	m.lock.Unlock()
	log.Debug("Update manager: %s -> %s", prev, s)
}

// CheckForUpdate asks the release source for the latest release and
// compares it with currentVersion. A failed check is an error, never
// "no update".
func (m *Manager) CheckForUpdate(ctx context.Context, currentVersion string) (*Descriptor, error) {
	m.setState(StateChecking)

	release, err := m.source.LatestRelease(ctx)
	if err != nil {
		m.setState(StateFailed)
		if apperr.KindOf(err) == 0 {
			err = apperr.Errorf(apperr.KindRemote, "updates.check", "failed to check for updates: %w", err)
		}
		return nil, err
	}

	descriptor := &Descriptor{
		LatestVersion: release.Version,
		ChangelogURL:  release.ChangelogURL,
		DownloadURL:   release.DownloadURL,
		HasUpdate:     m.comparison.hasUpdate(currentVersion, release.Version),
	}

	m.lock.Lock()
	m.downloadURLs[release.Version] = release.DownloadURL
	m.lock.Unlock()

	if descriptor.HasUpdate {
		log.Info("Update available: %s -> %s", currentVersion, release.Version)
		m.setState(StateUpdateAvailable)
	} else {
		log.Info("Version %s is up to date", currentVersion)
		m.setState(StateUpToDate)
	}
	return descriptor, nil
}

// Download stages the payload of version at updates/update_<version>,
// replacing any payload already staged for that version.
func (m *Manager) Download(ctx context.Context, version string) (string, error) {
	const op = "updates.download"

	stagePath, err := m.layout.UpdateFile(version)
	if err != nil {
		return "", err
	}

	m.setState(StateDownloading)
	path, err := m.download(ctx, version, stagePath)
	if err != nil {
		m.setState(StateFailed)
		if apperr.KindOf(err) == 0 {
			err = apperr.Errorf(apperr.KindRemote, op, "failed to download update %s: %w", version, err)
		}
		return "", err
	}
	m.setState(StateStaged)
	return path, nil
}

func (m *Manager) download(ctx context.Context, version string, stagePath string) (string, error) {
	const op = "updates.download"

	downloadURL, err := m.resolveDownloadURL(ctx, version)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", apperr.Errorf(apperr.KindRemote, op, "failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", apperr.Errorf(apperr.KindRemote, op, "failed to download update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Errorf(apperr.KindRemote, op, "download returned %s", resp.Status)
	}

	if err := os.MkdirAll(m.layout.UpdatesDir(), 0o755); err != nil {
		return "", apperr.Errorf(apperr.KindIO, op, "failed to create updates directory: %w", err)
	}
	body := &countingReader{r: resp.Body}
	if err := atomic.WriteFile(stagePath, body); err != nil {
		if body.err != nil {
			return "", apperr.Errorf(apperr.KindRemote, op, "failed to read update payload: %w", body.err)
		}
		return "", apperr.Errorf(apperr.KindIO, op, "failed to write update payload: %w", err)
	}

	log.Info("Staged update %s at %s (%d bytes)", version, stagePath, body.n)
	return stagePath, nil
}

func (m *Manager) resolveDownloadURL(ctx context.Context, version string) (string, error) {
	m.lock.Lock()
	downloadURL, ok := m.downloadURLs[version]
	m.lock.Unlock()

	if !ok {
		release, err := m.source.ReleaseByTag(ctx, version)
		if err != nil {
			return "", err
		}
		downloadURL = release.DownloadURL
		m.lock.Lock()
		m.downloadURLs[version] = downloadURL
		m.lock.Unlock()
	}

	if downloadURL == "" {
		return "", apperr.Errorf(apperr.KindRemote, "updates.download", "release %s has no downloadable asset", version)
	}
	return downloadURL, nil
}

// Install backs up the save and config trees and only then hands the
// staged payload at path to the installer. If the backup fails the
// installer is never called. There is no rollback: after a failed install
// the backup stays on disk for manual recovery.
func (m *Manager) Install(ctx context.Context, path string) (bool, error) {
	const op = "updates.install"

	m.lock.Lock()
	if m.installing {
		m.lock.Unlock()
		return false, apperr.Errorf(apperr.KindMalformedInput, op, "install already in progress")
	}
	m.installing = true
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		m.installing = false
		m.lock.Unlock()
	}()

	payload, err := m.stagedPayload(path)
	if err != nil {
		return false, err
	}

	m.setState(StateBackingUp)
	set, err := m.backups.Create(ctx)
	if err != nil {
		m.setState(StateFailed)
		log.Error("Backup failed, not installing update %s: %v", payload.Version, err)
		return false, apperr.Errorf(apperr.KindBackupPrecondition, op, "backup failed, update not installed: %w", err)
	}
	payload.BackupID = set.ID

	m.setState(StateInstalling)
	installed, err := m.installer.Install(ctx, payload)
	if err != nil {
		m.setState(StateFailed)
		return false, apperr.Errorf(apperr.KindIO, op, "failed to install update %s: %w", payload.Version, err)
	}

	m.setState(StateDone)
	return installed, nil
}

// stagedPayload checks that path names a payload staged by Download.
func (m *Manager) stagedPayload(path string) (Payload, error) {
	const op = "updates.install"

	clean := filepath.Clean(path)
	base := filepath.Base(clean)
	if !paths.Within(m.layout.UpdatesDir(), clean) || filepath.Dir(clean) != filepath.Clean(m.layout.UpdatesDir()) || !strings.HasPrefix(base, "update_") {
		return Payload{}, apperr.Errorf(apperr.KindMalformedInput, op, "%s is not a staged update", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Payload{}, apperr.Errorf(apperr.KindNotFound, op, "staged update %s does not exist", path)
		}
		return Payload{}, apperr.Errorf(apperr.KindIO, op, "failed to stat staged update: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Payload{}, apperr.Errorf(apperr.KindMalformedInput, op, "%s is not a file", path)
	}

	return Payload{
		Version: strings.TrimPrefix(base, "update_"),
		Path:    clean,
	}, nil
}

type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}
