package update

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSettings(filepath.Join(dir, "update-settings.json"), "example", "app")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings("example", "app"), s)
}

func TestSaveThenLoadSettingsRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "update-settings.json")
	want := Settings{Channel: ChannelBeta, Owner: "example", Repo: "app"}

	require.NoError(t, SaveSettings(path, want))
	got, err := LoadSettings(path, "unused", "unused")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadSettingsCorruptFileReturnsCacheCorruptError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "update-settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadSettings(path, "example", "app")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrCacheCorrupt))
}
