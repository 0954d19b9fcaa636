package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/paths"
)

func newTestManager(t *testing.T) (*Manager, *paths.Layout) {
	t.Helper()
	layout, err := paths.NewLayout(paths.StaticResolver(t.TempDir()))
	require.NoError(t, err)
	manager := NewManager(layout)
	manager.now = func() time.Time { return time.Unix(1700000000, 0) }
	return manager, layout
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestManager_CreateCopiesTrees(t *testing.T) {
	manager, layout := newTestManager(t)
	writeFile(t, filepath.Join(layout.SavesDir(), "AB12C", "save.db"), "binary\x00data")
	writeFile(t, filepath.Join(layout.SavesDir(), "ZZ99Z", "save.db"), "other")
	writeFile(t, filepath.Join(layout.ConfigDir(), "settings.toml"), "[updates]\n")

	set, err := manager.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"saves", "config"}, set.Trees)
	assert.Equal(t, int64(1700000000), set.CreatedAt)
	assert.NotEmpty(t, set.ID)

	assert.Equal(t, "binary\x00data", readFile(t, filepath.Join(layout.BackupDir(), "saves", "AB12C", "save.db")))
	assert.Equal(t, "other", readFile(t, filepath.Join(layout.BackupDir(), "saves", "ZZ99Z", "save.db")))
	assert.Equal(t, "[updates]\n", readFile(t, filepath.Join(layout.BackupDir(), "config", "settings.toml")))

	latest, err := manager.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, set.ID, latest.ID)
}

func TestManager_CreateWithoutSources(t *testing.T) {
	manager, layout := newTestManager(t)

	set, err := manager.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set.Trees)

	_, err = os.Stat(filepath.Join(layout.BackupDir(), "saves"))
	assert.True(t, os.IsNotExist(err))
}

func TestManager_CreateSupersedesPreviousSet(t *testing.T) {
	manager, layout := newTestManager(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(layout.SavesDir(), "OLD01", "save.db"), "old")
	first, err := manager.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(layout.SavesDir(), "OLD01")))
	writeFile(t, filepath.Join(layout.SavesDir(), "NEW01", "save.db"), "new")
	second, err := manager.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = os.Stat(filepath.Join(layout.BackupDir(), "saves", "OLD01"))
	assert.True(t, os.IsNotExist(err), "backups are replaced, not merged")
	assert.Equal(t, "new", readFile(t, filepath.Join(layout.BackupDir(), "saves", "NEW01", "save.db")))

	entries, err := os.ReadDir(layout.Root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".backup-", "staging directories are cleaned up")
	}
}

func TestManager_FailedCreateKeepsPreviousSet(t *testing.T) {
	manager, layout := newTestManager(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(layout.SavesDir(), "AB12C", "save.db"), "v1")
	first, err := manager.Create(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(layout.SavesDir(), "AB12C", "save.db"), "v2")
	manager.copyFile = func(src, dst string, mode os.FileMode) error {
		return os.ErrPermission
	}

	_, err = manager.Create(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIO))
	assert.True(t, errors.Is(err, os.ErrPermission))

	latest, err := manager.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, "v1", readFile(t, filepath.Join(layout.BackupDir(), "saves", "AB12C", "save.db")))
}

func TestManager_CreateUnreadableSource(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	manager, layout := newTestManager(t)
	locked := filepath.Join(layout.SavesDir(), "AB12C")
	writeFile(t, filepath.Join(locked, "save.db"), "data")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	_, err := manager.Create(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindIO))
}

func TestManager_Restore(t *testing.T) {
	manager, layout := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Restore(ctx)
	assert.True(t, apperr.IsNotFound(err))

	savePath := filepath.Join(layout.SavesDir(), "AB12C", "save.db")
	writeFile(t, savePath, "good")
	_, err = manager.Create(ctx)
	require.NoError(t, err)

	writeFile(t, savePath, "broken")
	set, err := manager.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"saves"}, set.Trees)
	assert.Equal(t, "good", readFile(t, savePath))
}

func TestManager_CreateHonoursCancellation(t *testing.T) {
	manager, layout := newTestManager(t)
	writeFile(t, filepath.Join(layout.SavesDir(), "AB12C", "save.db"), "data")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.Create(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	latest, err := manager.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestManager_CreateSweepsAbandonedStaging(t *testing.T) {
	manager, layout := newTestManager(t)
	writeFile(t, filepath.Join(layout.SavesDir(), "AB12C", "save.db"), "data")

	old := manager.now().Add(-2 * time.Hour)
	abandoned := filepath.Join(layout.Root, ".backup-abandoned")
	writeFile(t, filepath.Join(abandoned, "saves", "partial"), "x")
	require.NoError(t, os.Chtimes(abandoned, old, old))

	fresh := filepath.Join(layout.Root, ".backup-fresh")
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	recent := manager.now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(fresh, recent, recent))

	_, err := manager.Create(context.Background())
	require.NoError(t, err)

	assert.NoDirExists(t, abandoned)
	assert.DirExists(t, fresh, "a staging directory that may still be in use is kept")
}

func TestManager_CreateRecoversInterruptedSwap(t *testing.T) {
	manager, layout := newTestManager(t)

	retired := filepath.Join(layout.Root, ".backup-previous-retired")
	writeFile(t, filepath.Join(retired, ManifestFileName), `{"id":"previous","created_at":1,"trees":["saves"]}`)
	writeFile(t, filepath.Join(retired, "saves", "AB12C", "save.db"), "old")
	old := manager.now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(retired, old, old))

	manager.sweepStaging()

	assert.NoDirExists(t, retired)
	latest, err := manager.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "previous", latest.ID)
	assert.Equal(t, "old", readFile(t, filepath.Join(layout.BackupDir(), "saves", "AB12C", "save.db")))
}
