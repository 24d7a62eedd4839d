package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/submesh/objmap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
submap:
  radius: 20
  center_ref: bottom_median
registration:
  sigma: 0.2
  use_gravity: true
solver:
  max_iterations: 50
align:
  workers: 4
mqtt:
  broker: tcp://localhost:1883
  qos: 1
store:
  path: runs.db
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Submap.Radius)
	assert.Equal(t, 10.0, cfg.Submap.Distance, "default kept")
	assert.Equal(t, objmap.CenterBottomMedian, cfg.Submap.CenterRef)
	assert.True(t, math.IsInf(cfg.Submap.TimeThreshold, 1))

	assert.Equal(t, 0.2, cfg.Registration.Sigma)
	assert.Equal(t, 0.5, cfg.Registration.Epsilon, "default kept")
	assert.True(t, cfg.Registration.UseGravity)
	assert.Equal(t, 3, cfg.Registration.Dim)

	assert.Equal(t, 50, cfg.Solver.MaxIterations)
	assert.Equal(t, 4, cfg.Align.Workers)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "runs.db", cfg.Store.Path)
	assert.True(t, cfg.Output.GeoJSON)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "submap: [", "parsing config YAML"},
		{"negative radius", "submap:\n  radius: -1", "submap:"},
		{"unknown center ref", "submap:\n  center_ref: top", "center_ref"},
		{"bad dim", "registration:\n  dim: 4", "registration:"},
		{"gravity in 2d", "registration:\n  dim: 2\n  use_gravity: true", "gravity"},
		{"solver growth", "solver:\n  penalty_growth: 1", "solver:"},
		{"negative workers", "align:\n  workers: -2", "align.workers"},
		{"qos", "mqtt:\n  qos: 3", "mqtt.qos"},
		{"gt gap", "output:\n  gt_max_gap: 0", "gt_max_gap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Submap.MaxSize = 25
	cfg.Registration.VolumeEpsilon = 0.3
	cfg.MQTT.PublishPrefix = "lab"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "time_threshold: .inf")

	back, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
