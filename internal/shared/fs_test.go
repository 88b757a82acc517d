package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyDirOverwrites(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dest := filepath.Join(t.TempDir(), "dest")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "a.txt"), []byte("new"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "nested", "a.txt"), []byte("old"), 0644))

	require.NoError(t, CopyDir(src, dest))

	content, err := os.ReadFile(filepath.Join(dest, "nested", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestMoveDirReplacesDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dest := filepath.Join(root, "backup", "dest")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("x"), 0644))

	require.NoError(t, MoveDir(src, dest))

	assert.False(t, PathExists(src))
	assert.FileExists(t, filepath.Join(dest, "a.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "stale.txt"))
}

func TestMoveDirMissingSource(t *testing.T) {
	root := t.TempDir()
	err := MoveDir(filepath.Join(root, "missing"), filepath.Join(root, "dest"))
	require.Error(t, err)
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `"C:\Program Files\app.exe"`, want: `C:\Program Files\app.exe`},
		{in: `'single'`, want: "single"},
		{in: ` plain `, want: "plain"},
		{in: `"dangling`, want: "dangling"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Unquote(tt.in))
		})
	}
}

func TestNormalizePipName(t *testing.T) {
	assert.Equal(t, "zope-interface", NormalizePipName(" Zope.Interface "))
	assert.Equal(t, "my-pkg", NormalizePipName("my_pkg"))
}
