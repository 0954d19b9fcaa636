package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatislife/savekeeper/pkg/apperr"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "generated id", id: "AB12C"},
		{name: "uuid", id: "3f1c2a9e-8d4b-4b7a-9d0e-1a2b3c4d5e6f"},
		{name: "version tag", id: "v1.2.3"},
		{name: "underscore", id: "player_1"},
		{name: "empty", id: "", wantErr: true},
		{name: "dot", id: ".", wantErr: true},
		{name: "dot dot", id: "..", wantErr: true},
		{name: "hidden", id: ".hidden", wantErr: true},
		{name: "traversal", id: "../etc", wantErr: true},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "backslash", id: `a\b`, wantErr: true},
		{name: "nul", id: "a\x00b", wantErr: true},
		{name: "space", id: "a b", wantErr: true},
		{name: "non ascii", id: "jösé", wantErr: true},
		{name: "too long", id: string(make([]byte, maxIDLength+1)), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, got)
		})
	}
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	layout, err := NewLayout(StaticResolver(root))
	require.NoError(t, err)

	ns, err := layout.PlayerNamespace("AB12C")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "saves", "AB12C"), ns)

	ban, err := layout.BanFile("AB12C")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bans", "AB12C.ban"), ban)

	update, err := layout.UpdateFile("1.2.0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "updates", "update_1.2.0"), update)

	_, err = layout.PlayerNamespace("../../outside")
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
}

func TestStaticResolverEmpty(t *testing.T) {
	_, err := NewLayout(StaticResolver(""))
	assert.True(t, apperr.Is(err, apperr.KindIO))
}

func TestWithin(t *testing.T) {
	dir := filepath.Join("app", "updates")
	assert.True(t, Within(dir, filepath.Join(dir, "update_1.0.0")))
	assert.False(t, Within(dir, dir))
	assert.False(t, Within(dir, filepath.Join(dir, "..", "saves", "x")))
	assert.False(t, Within(dir, filepath.Join("app", "updates2", "x")))
}
