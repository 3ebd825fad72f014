package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "credentials.json"))
	require.NoError(t, err)
	return fs
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	fs := newTestFileStore(t)

	v, err := fs.Load(TokenKey)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	fs := newTestFileStore(t)

	require.NoError(t, fs.Save(TokenKey, "tok-1"))
	require.NoError(t, fs.Save("other", "x"))

	v, err := fs.Load(TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, fs.Delete(TokenKey))
	v, err = fs.Load(TokenKey)
	require.NoError(t, err)
	assert.Empty(t, v)

	// Unrelated keys survive.
	v, err = fs.Load("other")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(TokenKey, "tok-2"))

	second, err := NewFileStore(path)
	require.NoError(t, err)
	v, err := second.Load(TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v)
}

func TestFileStore_FileMode(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.Save(TokenKey, "tok"))

	info, err := os.Stat(fs.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_DeleteMissingKeyDoesNotCreateFile(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.Delete(TokenKey))

	_, err := os.Stat(fs.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0o700))
	require.NoError(t, os.WriteFile(fs.Path(), []byte("{not json"), 0o600))

	_, err := fs.Load(TokenKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential: decode")
}

func TestFileStore_EmptyFile(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(fs.Path()), 0o700))
	require.NoError(t, os.WriteFile(fs.Path(), nil, 0o600))

	v, err := fs.Load(TokenKey)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.config/farmdata/credentials.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/farmdata/credentials.json"), got)

	got, err = ExpandHome("/etc/farmdata.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/farmdata.json", got)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()

	v, err := m.Load(TokenKey)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, m.Save(TokenKey, "tok"))
	v, _ = m.Load(TokenKey)
	assert.Equal(t, "tok", v)

	require.NoError(t, m.Delete(TokenKey))
	v, _ = m.Load(TokenKey)
	assert.Empty(t, v)
}
