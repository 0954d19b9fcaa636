package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatislife/savekeeper/pkg/paths"
	"github.com/whatislife/savekeeper/pkg/updates"
	"github.com/whatislife/savekeeper/pkg/version"
)

type harness struct {
	t       *testing.T
	dataDir string
	extra   []string
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, dataDir: t.TempDir()}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out, strings.NewReader(stdin))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(append([]string{"--data-dir", h.dataDir}, h.extra...), args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, err := h.run(stdin, args...)
	require.NoError(h.t, err)
	return out
}

func TestCLI_SaveLoad(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "\n", h.mustRun("", "load", "AB12C"))

	h.mustRun(`{"wallet":7}`, "save", "AB12C")
	assert.Equal(t, "{\"wallet\":7}\n", h.mustRun("", "load", "AB12C"))

	file := filepath.Join(t.TempDir(), "save.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"wallet":8}`), 0o644))
	h.mustRun("", "save", "AB12C", "--file", file)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("", "-o", "json", "load", "AB12C")), &got))
	assert.Equal(t, `{"wallet":8}`, got["data"])

	_, err := h.run("x", "save", "../AB12C")
	assert.Error(t, err)
}

func TestCLI_Validate(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "true\n", h.mustRun(`{"wallet":100,"bank":50,"profile":{"level":10,"xp":500}}`, "validate", "AB12C"))
	assert.Equal(t, "false\n", h.mustRun(`{"wallet":100,"bank":50,"profile":{"level":0,"xp":500}}`, "validate", "AB12C"))

	_, err := h.run(`{"wallet":100,"bank":50,"profile":{"level":10}}`, "validate", "AB12C")
	assert.Error(t, err)
}

func TestCLI_Bans(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "not banned\n", h.mustRun("", "banned", "AB12C"))
	h.mustRun("", "ban", "AB12C", "r1")
	h.mustRun("", "ban", "AB12C", "r2")
	assert.Equal(t, "banned: r2\n", h.mustRun("", "banned", "AB12C"))

	var status banStatus
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("", "banned", "AB12C", "-o", "json")), &status))
	assert.Equal(t, banStatus{Banned: true, Reason: "r2"}, status)
}

func TestCLI_Backup(t *testing.T) {
	h := newHarness(t)
	h.mustRun("before", "save", "AB12C")

	out := h.mustRun("", "backup", "create")
	assert.Contains(t, out, "Backup ")
	assert.Contains(t, out, "saves")

	h.mustRun("after", "save", "AB12C")
	h.mustRun("", "backup", "restore")
	assert.Equal(t, "before\n", h.mustRun("", "load", "AB12C"))
}

func TestCLI_RestoreWithoutBackup(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "backup", "restore")
	assert.Error(t, err)
}

func TestCLI_UpdateCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"tag_name": "2.0.0", "html_url": "http://example.com/2.0.0"})
	}))
	defer server.Close()
	h := newHarness(t)
	h.extra = []string{"--releases-url", server.URL}

	out := h.mustRun("", "update", "check", "--current-version", "1.0.0")
	assert.Equal(t, "Update available: 2.0.0\nChangelog: http://example.com/2.0.0\n", out)

	out = h.mustRun("", "update", "check", "--current-version", "2.0.0")
	assert.Contains(t, out, "Up to date")
}

func TestCLI_UpdatePending(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "no pending update\n", h.mustRun("", "update", "pending"))
	assert.Equal(t, "null\n", h.mustRun("", "-o", "json", "update", "pending"))

	layout, err := paths.NewLayout(paths.StaticResolver(h.dataDir))
	require.NoError(t, err)
	staged := filepath.Join(layout.UpdatesDir(), "update_2.0.0")
	_, err = updates.NewPendingInstaller(layout).Install(context.Background(), updates.Payload{
		Version:  "2.0.0",
		Path:     staged,
		BackupID: "b1",
	})
	require.NoError(t, err)

	out := h.mustRun("", "update", "pending")
	assert.Equal(t, "Pending update 2.0.0 at "+staged+" (backup b1)\n", out)
}

func TestCLI_ClosesAppAfterEveryCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "success", args: []string{"load", "AB12C"}},
		{name: "failure after open", args: []string{"backup", "restore"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cli{out: &bytes.Buffer{}, in: strings.NewReader("")}
			cmd := newRootCmd(c)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(append([]string{"--data-dir", t.TempDir()}, tt.args...))

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Nil(t, c.app)
		})
	}
}

func TestCLI_Version(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, version.Get()+"\n", h.mustRun("", "version"))
	_, err := os.Stat(filepath.Join(h.dataDir, "config"))
	assert.True(t, os.IsNotExist(err), "version does not touch app data")
}
