package updates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/backup"
	"github.com/whatislife/savekeeper/pkg/paths"
)

type mockBackuper struct {
	mock.Mock
}

func (m *mockBackuper) Create(ctx context.Context) (*backup.Set, error) {
	args := m.Called(ctx)
	set, _ := args.Get(0).(*backup.Set)
	return set, args.Error(1)
}

type mockInstaller struct {
	mock.Mock
}

func (m *mockInstaller) Install(ctx context.Context, payload Payload) (bool, error) {
	args := m.Called(ctx, payload)
	return args.Bool(0), args.Error(1)
}

// releaseServer serves a GitHub style releases API with one release, v,
// whose asset body is payload.
func releaseServer(t *testing.T, v string, payload string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	release := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tag_name": v,
			"html_url": server.URL + "/releases/" + v,
			"assets": []map[string]string{
				{"name": "game.zip", "browser_download_url": server.URL + "/assets/" + v},
			},
		})
	}
	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		release(w)
	})
	mux.HandleFunc("/releases/tags/"+v, func(w http.ResponseWriter, r *http.Request) {
		release(w)
	})
	mux.HandleFunc("/assets/"+v, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestLayout(t *testing.T) *paths.Layout {
	t.Helper()
	layout, err := paths.NewLayout(paths.StaticResolver(t.TempDir()))
	require.NoError(t, err)
	return layout
}

func newTestManager(t *testing.T, layout *paths.Layout, baseURL string, backups Backuper, installer Installer) *Manager {
	t.Helper()
	return NewManager(NewManagerOptions{
		Layout:    layout,
		Source:    NewGitHubReleaseSource(NewGitHubReleaseSourceOptions{BaseURL: baseURL + "/releases"}),
		Backups:   backups,
		Installer: installer,
	})
}

func TestManager_CheckForUpdate(t *testing.T) {
	server := releaseServer(t, "1.1.0", "payload")
	tests := []struct {
		name       string
		current    string
		comparison Comparison
		want       bool
		wantState  State
	}{
		{name: "same version", current: "1.1.0", want: false, wantState: StateUpToDate},
		{name: "older local", current: "1.0.0", want: true, wantState: StateUpdateAvailable},
		{name: "newer local still differs", current: "2.0.0", want: true, wantState: StateUpdateAvailable},
		{name: "prefix differs", current: "v1.1.0", want: true, wantState: StateUpdateAvailable},
		{name: "semver prefix equal", current: "v1.1.0", comparison: CompareSemver, want: false, wantState: StateUpToDate},
		{name: "semver newer local", current: "2.0.0", comparison: CompareSemver, want: false, wantState: StateUpToDate},
		{name: "semver older local", current: "1.0.9", comparison: CompareSemver, want: true, wantState: StateUpdateAvailable},
		{name: "semver unparseable falls back", current: "nightly", comparison: CompareSemver, want: true, wantState: StateUpdateAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t, newTestLayout(t), server.URL, nil, nil)
			if tt.comparison != "" {
				manager.comparison = tt.comparison
			}

			got, err := manager.CheckForUpdate(context.Background(), tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.HasUpdate)
			assert.Equal(t, "1.1.0", got.LatestVersion)
			assert.Equal(t, server.URL+"/releases/1.1.0", got.ChangelogURL)
			assert.Equal(t, server.URL+"/assets/1.1.0", got.DownloadURL)
			assert.Equal(t, tt.wantState, manager.State())
		})
	}
}

func TestManager_CheckForUpdateFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusForbidden)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
		},
		{
			name: "no tag",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"html_url":"x"}`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			manager := newTestManager(t, newTestLayout(t), server.URL, nil, nil)

			got, err := manager.CheckForUpdate(context.Background(), "1.0.0")
			require.Error(t, err)
			assert.Nil(t, got, "a failed check is never reported as no update")
			assert.True(t, apperr.Is(err, apperr.KindRemote))
			assert.Equal(t, StateFailed, manager.State())
		})
	}
}

func TestManager_CheckForUpdateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	manager := newTestManager(t, newTestLayout(t), url, nil, nil)
	_, err := manager.CheckForUpdate(context.Background(), "1.0.0")
	assert.True(t, apperr.Is(err, apperr.KindRemote))
}

func TestManager_Download(t *testing.T) {
	server := releaseServer(t, "1.1.0", "new build")
	layout := newTestLayout(t)
	manager := newTestManager(t, layout, server.URL, nil, nil)
	ctx := context.Background()

	// Without a prior check the release is looked up by tag.
	path, err := manager.Download(ctx, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.UpdatesDir(), "update_1.1.0"), path)
	assert.Equal(t, StateStaged, manager.State())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new build", string(content))

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	_, err = manager.Download(ctx, "1.1.0")
	require.NoError(t, err)
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new build", string(content), "a repeated download replaces the staged payload")
}

func TestManager_DownloadFailures(t *testing.T) {
	server := releaseServer(t, "1.1.0", "new build")
	layout := newTestLayout(t)
	manager := newTestManager(t, layout, server.URL, nil, nil)
	ctx := context.Background()

	_, err := manager.Download(ctx, "../../escape")
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))

	_, err = manager.Download(ctx, "9.9.9")
	assert.True(t, apperr.Is(err, apperr.KindRemote))
	assert.Equal(t, StateFailed, manager.State())

	manager.downloadURLs["2.0.0"] = ""
	_, err = manager.Download(ctx, "2.0.0")
	assert.True(t, apperr.Is(err, apperr.KindRemote))

	manager.downloadURLs["3.0.0"] = server.URL + "/assets/missing"
	_, err = manager.Download(ctx, "3.0.0")
	assert.True(t, apperr.Is(err, apperr.KindRemote))
	_, statErr := os.Stat(filepath.Join(layout.UpdatesDir(), "update_3.0.0"))
	assert.True(t, os.IsNotExist(statErr))
}

func stagePayload(t *testing.T, layout *paths.Layout, version string) string {
	t.Helper()
	path, err := layout.UpdateFile(version)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	return path
}

func TestManager_InstallBacksUpFirst(t *testing.T) {
	layout := newTestLayout(t)
	savePath := filepath.Join(layout.SavesDir(), "AB12C", "save.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(savePath), 0o755))
	require.NoError(t, os.WriteFile(savePath, []byte("precious"), 0o644))

	installer := &mockInstaller{}
	installer.On("Install", mock.Anything, mock.MatchedBy(func(p Payload) bool {
		backedUp, err := os.ReadFile(filepath.Join(layout.BackupDir(), "saves", "AB12C", "save.db"))
		return err == nil && string(backedUp) == "precious" && p.Version == "1.1.0" && p.BackupID != ""
	})).Return(false, nil).Once()

	manager := newTestManager(t, layout, "http://unused", backup.NewManager(layout), installer)
	installed, err := manager.Install(context.Background(), stagePayload(t, layout, "1.1.0"))
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, StateDone, manager.State())
	installer.AssertExpectations(t)

	backedUp, err := os.ReadFile(filepath.Join(layout.BackupDir(), "saves", "AB12C", "save.db"))
	require.NoError(t, err)
	assert.Equal(t, "precious", string(backedUp))
}

func TestManager_InstallAbortsWhenBackupFails(t *testing.T) {
	layout := newTestLayout(t)
	backups := &mockBackuper{}
	backups.On("Create", mock.Anything).Return(nil, apperr.New(apperr.KindIO, "backup.create", os.ErrPermission)).Once()
	installer := &mockInstaller{}

	manager := newTestManager(t, layout, "http://unused", backups, installer)
	installed, err := manager.Install(context.Background(), stagePayload(t, layout, "1.1.0"))
	require.Error(t, err)
	assert.False(t, installed)
	assert.True(t, apperr.Is(err, apperr.KindBackupPrecondition))
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Equal(t, StateFailed, manager.State())

	backups.AssertExpectations(t)
	installer.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
}

func TestManager_InstallFailureKeepsBackup(t *testing.T) {
	layout := newTestLayout(t)
	require.NoError(t, os.MkdirAll(layout.SavesDir(), 0o755))
	installer := &mockInstaller{}
	installer.On("Install", mock.Anything, mock.Anything).Return(false, errors.New("disk full")).Once()

	manager := newTestManager(t, layout, "http://unused", backup.NewManager(layout), installer)
	_, err := manager.Install(context.Background(), stagePayload(t, layout, "1.1.0"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIO))

	set, err := backup.NewManager(layout).Latest(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, set)
}

func TestManager_InstallRejectsUnstagedPaths(t *testing.T) {
	layout := newTestLayout(t)
	backups := &mockBackuper{}
	manager := newTestManager(t, layout, "http://unused", backups, &mockInstaller{})
	ctx := context.Background()

	outside := filepath.Join(layout.Root, "update_1.0.0")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	tests := []struct {
		name string
		path string
		kind apperr.Kind
	}{
		{name: "outside updates dir", path: outside, kind: apperr.KindMalformedInput},
		{name: "traversal", path: filepath.Join(layout.UpdatesDir(), "..", "update_1.0.0"), kind: apperr.KindMalformedInput},
		{name: "wrong name", path: filepath.Join(layout.UpdatesDir(), PendingFileName), kind: apperr.KindMalformedInput},
		{name: "missing", path: filepath.Join(layout.UpdatesDir(), "update_4.0.0"), kind: apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Install(ctx, tt.path)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}
	backups.AssertNotCalled(t, "Create", mock.Anything)
}

func TestPendingInstaller(t *testing.T) {
	layout := newTestLayout(t)
	installer := NewPendingInstaller(layout)
	installer.now = func() time.Time { return time.Unix(1700000000, 0) }

	pending, err := ReadPending(layout)
	require.NoError(t, err)
	assert.Nil(t, pending)

	ok, err := installer.Install(context.Background(), Payload{Version: "1.1.0", Path: "/x/update_1.1.0", BackupID: "b1"})
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err = ReadPending(layout)
	require.NoError(t, err)
	assert.Equal(t, &Payload{Version: "1.1.0", Path: "/x/update_1.1.0", BackupID: "b1", StagedAt: 1700000000}, pending)
}

func TestPolicy_Due(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{name: "disabled", policy: Policy{Enabled: false}, want: false},
		{name: "never checked", policy: Policy{Enabled: true, CheckInterval: time.Hour}, want: true},
		{name: "too soon", policy: Policy{Enabled: true, CheckInterval: 24 * time.Hour, LastCheck: now.Add(-time.Hour)}, want: false},
		{name: "interval elapsed", policy: Policy{Enabled: true, CheckInterval: 24 * time.Hour, LastCheck: now.Add(-25 * time.Hour)}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Due(now))
		})
	}
}

func TestParseComparison(t *testing.T) {
	c, err := ParseComparison("")
	require.NoError(t, err)
	assert.Equal(t, CompareExact, c)

	c, err = ParseComparison("semver")
	require.NoError(t, err)
	assert.Equal(t, CompareSemver, c)

	_, err = ParseComparison("calver")
	assert.Error(t, err)
}
