package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/config"
)

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.ServerName)
	assert.Equal(t, 20000, cfg.Ports.RangeStart)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reservationd.yaml")
	contents := "serverName: gpu-box-1\nports:\n  rangeStart: 30000\n  rangeEnd: 31000\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpu-box-1", cfg.ServerName)
	assert.Equal(t, 30000, cfg.Ports.RangeStart)
	assert.Equal(t, 31000, cfg.Ports.RangeEnd)
	assert.Equal(t, "info", cfg.Logging.Level, "fields absent from the file keep their default")
}

func TestRAMDiskEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Launch.RAMDiskMinimumPercent = 10

	tests := []struct {
		name     string
		percent  int
		expected bool
	}{
		{"zero percent is disabled", 0, false},
		{"below minimum is disabled", 5, false},
		{"at minimum is enabled", 10, true},
		{"above minimum is enabled", 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cfg.RAMDiskEnabled(tt.percent))
		})
	}
}
