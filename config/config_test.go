package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/snacdecomp/decomp"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	h := cfg.HexaMDConfig()
	assert.Equal(t, [3]int{6, 6, 6}, h.NodeCounts)
	assert.True(t, h.AllowPartitionOnNode)
	assert.False(t, h.AllowPartitionOnElement)
	assert.False(t, h.AllowUnbalancing)
	assert.False(t, h.AllowUnusedCPUs)
	assert.Equal(t, 1, h.ShadowDepth)
	assert.Equal(t, 1, h.NumPartitionedDims)
	assert.Equal(t, [3]bool{}, h.Periodic)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
worldSize: 4
logLevel: debug
mesh:
  nodeCounts: [9, 5, 3]
  hi: [2, 1, 0.5]
hexamd:
  shadowDepth: 2
  periodic: [true, false, false]
  numPartitionedDims: 2
remesh:
  presets: [core, viscoplastic]
  perturbation: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorldSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, [3]int{9, 5, 3}, cfg.HexaMDConfig().NodeCounts)
	lo, hi := cfg.Mesh.Box()
	assert.Zero(t, lo)
	assert.Equal(t, 0.5, hi.Z)
	assert.Equal(t, 2, cfg.HexaMD.ShadowDepth)
	assert.Equal(t, [3]bool{true, false, false}, cfg.HexaMD.Periodic)
	// Keys absent from the file keep their defaults
	assert.True(t, cfg.HexaMD.AllowPartitionOnNode)
	assert.Equal(t, [3]bool{true, true, true}, cfg.HexaMD.DecomposableAxes)
	assert.Equal(t, Structured, cfg.Mesh.Decomposition)
	assert.Equal(t, []string{"core", "viscoplastic"}, cfg.Remesh.Presets)
	assert.Equal(t, 1e-9, cfg.Remesh.Tolerance)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worldSize: 2\nranks: 3\n"), 0o644))
	_, err = Load(path)
	assert.True(t, errors.Is(err, decomp.ErrConfig), "unknown key: %v", err)
}

func TestParseEmpty(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	for name, edit := range map[string]func(*Config){
		"world size":     func(c *Config) { c.WorldSize = 0 },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"decomposition":  func(c *Config) { c.Mesh.Decomposition = "metis" },
		"file":           func(c *Config) { c.Mesh.File = "cube.neu" },
		"strategy":       func(c *Config) { c.Mesh.Decomposition, c.Mesh.Strategy = Irregular, "spectral" },
		"node counts":    func(c *Config) { c.Mesh.NodeCounts[1] = 1 },
		"extent":         func(c *Config) { c.Mesh.Hi[2] = c.Mesh.Lo[2] },
		"shadow depth":   func(c *Config) { c.HexaMD.ShadowDepth = -1 },
		"partition mode": func(c *Config) { c.HexaMD.AllowPartitionOnNode = false },
		"preset":         func(c *Config) { c.Remesh.Presets = []string{"elastic"} },
		"perturbation":   func(c *Config) { c.Remesh.Perturbation = 0.5 },
		"tolerance":      func(c *Config) { c.Remesh.Tolerance = -1 },
	} {
		cfg := Default()
		edit(&cfg)
		if err := cfg.Validate(); !errors.Is(err, decomp.ErrConfig) {
			t.Errorf("%s: got %v, want a configuration error", name, err)
		}
	}

	cfg := Default()
	cfg.Mesh.Decomposition = Irregular
	cfg.Mesh.File = "cube.neu"
	cfg.Mesh.NodeCounts = [3]int{}
	assert.NoError(t, cfg.Validate())
}
