package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestSaveBinary_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SaveBinary(path, "/usr/bin/vim"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "binary: /usr/bin/vim\n", string(data))
}

func TestSaveBinary_PreservesComments(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveBinary(path, "/opt/vim"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# vimpilot configuration")
	require.Contains(t, string(data), "binary: /opt/vim")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "/opt/vim", cfg.Binary)
}

func TestSaveBinary_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("binary: vim # old\nserver_prefix: X\n"), 0o600))

	require.NoError(t, SaveBinary(path, "gvim"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "binary: gvim # old\nserver_prefix: X\n", string(data))
}

func TestSetValue_RejectsNonMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))

	require.Error(t, SetValue(path, "binary", "vim"))
}
