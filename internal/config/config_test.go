package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.ML.Enabled)
	assert.Equal(t, DefaultWorkers, cfg.Analyzer.Workers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"live without interface", func(c *Config) { c.Live = true }},
		{"zero workers", func(c *Config) { c.Analyzer.Workers = 0 }},
		{"negative ring", func(c *Config) { c.Analyzer.RingCapacity = -1 }},
		{"critical risk over 100", func(c *Config) { c.Analyzer.CriticalRisk = 101 }},
		{"zero block ttl", func(c *Config) { c.Defense.BlockTTLSeconds = 0 }},
		{"bad prefix", func(c *Config) { c.LocalPrefixes = []string{"not-a-cidr"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	body := `{
		"data_dir": "` + dir + `",
		"port": 9100,
		"seed": 7,
		"inmemory": true,
		"local_prefixes": ["100.64.0.0/10"],
		"defense": {"probe_enabled": false, "block_ttl_seconds": 120},
		"analyzer": {"workers": 2, "ring_capacity": 50, "critical_risk": 80}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.True(t, cfg.InMemory)
	assert.False(t, cfg.Defense.ProbeEnabled)
	assert.Equal(t, 120, cfg.Defense.BlockTTLSeconds)
	assert.Equal(t, 2, cfg.Analyzer.Workers)
	assert.Equal(t, filepath.Join(dir, "graph.db"), cfg.DatabasePath())
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`", "port": -1}`), 0644))

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/shadowhunter.json")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Port = 9200

	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, loaded.Port)
}
