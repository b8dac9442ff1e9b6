package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpeedLimit(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"unlimited", 0, false},
		{"UNLIMITED", 0, false},
		{"500k", 500 * 1024, false},
		{"10m", 10 * 1024 * 1024, false},
		{"2048", 2048, false},
		{"bogus", 0, true},
		{"-5", 0, true},
	}
	for _, c := range cases {
		got, err := ParseSpeedLimit(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestSurgeDir_HonorsSurgeHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SURGE_HOME", dir)
	assert.Equal(t, dir, SurgeDir())
}

func TestEnsureDirsAndPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SURGE_HOME", dir)

	require.NoError(t, EnsureDirs())
	assert.Equal(t, filepath.Join(dir, "settings.json"), SettingsPath())
	assert.Equal(t, filepath.Join(dir, "surge.db"), StorePath())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	cfg := Default()
	cfg.MaxConnections = 8
	cfg.GlobalSpeedLimit = "10m"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
