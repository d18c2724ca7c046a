// Package config is the YAML run configuration of a decompose and remesh
// job.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/hexamd"
	"github.com/notargets/snacdecomp/journal"
	"github.com/notargets/snacdecomp/partitions"
	"github.com/notargets/snacdecomp/spr"
)

// Decomposition kinds
const (
	Structured = "hexamd"
	Irregular  = "irregular"
)

type Config struct {
	WorldSize int           `yaml:"worldSize"`
	LogLevel  string        `yaml:"logLevel"`
	Mesh      MeshConfig    `yaml:"mesh"`
	HexaMD    hexamd.Config `yaml:"hexamd"`
	Remesh    RemeshConfig  `yaml:"remesh"`
}

type MeshConfig struct {
	// Decomposition is hexamd or irregular
	Decomposition string `yaml:"decomposition"`
	// NodeCounts is the lattice size; it overrides hexamd.nodeCounts
	NodeCounts [3]int     `yaml:"nodeCounts"`
	Lo         [3]float64 `yaml:"lo"`
	Hi         [3]float64 `yaml:"hi"`
	// File is a gocfd-readable mesh used by the irregular decomposition in
	// place of the lattice
	File     string `yaml:"file"`
	Strategy string `yaml:"strategy"`
}

type RemeshConfig struct {
	Presets []string `yaml:"presets"`
	// Perturbation moves interior nodes of the regenerated mesh by up to
	// this fraction of a cell per axis
	Perturbation float64 `yaml:"perturbation"`
	Seed         uint64  `yaml:"seed"`
	Tolerance    float64 `yaml:"tolerance"`
}

func Default() Config {
	return Config{
		WorldSize: 2,
		LogLevel:  "info",
		Mesh: MeshConfig{
			Decomposition: Structured,
			NodeCounts:    [3]int{6, 6, 6},
			Hi:            [3]float64{1, 1, 1},
			Strategy:      partitions.CoordinateBisection.String(),
		},
		HexaMD: hexamd.DefaultConfig(),
		Remesh: RemeshConfig{
			Presets:      []string{"core", "plastic"},
			Perturbation: 0.2,
			Seed:         1,
			Tolerance:    1e-9,
		},
	}
}

// Load overlays the YAML file at path on Default and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Parse(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML onto cfg, leaving absent keys untouched. Unknown keys
// are an error.
func Parse(buf []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%v: %w", err, decomp.ErrConfig)
	}
	return nil
}

func (c Config) Validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("world size %d: %w", c.WorldSize, decomp.ErrConfig)
	}
	if _, err := journal.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%v: %w", err, decomp.ErrConfig)
	}
	switch c.Mesh.Decomposition {
	case Structured:
		if c.Mesh.File != "" {
			return fmt.Errorf("mesh file %q needs the %s decomposition: %w", c.Mesh.File, Irregular, decomp.ErrConfig)
		}
		if err := c.HexaMDConfig().Validate(); err != nil {
			return err
		}
	case Irregular:
		if _, err := partitions.ParseStrategy(c.Mesh.Strategy); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown decomposition %q: %w", c.Mesh.Decomposition, decomp.ErrConfig)
	}
	if c.Mesh.File == "" {
		for d, n := range c.Mesh.NodeCounts {
			if n < 2 {
				return fmt.Errorf("%d nodes on axis %d, need 2 or more: %w", n, d, decomp.ErrConfig)
			}
			if c.Mesh.Hi[d] <= c.Mesh.Lo[d] {
				return fmt.Errorf("empty extent %g..%g on axis %d: %w", c.Mesh.Lo[d], c.Mesh.Hi[d], d, decomp.ErrConfig)
			}
		}
	}
	known := spr.PresetNames()
	for _, p := range c.Remesh.Presets {
		if !slices.Contains(known, p) {
			return fmt.Errorf("unknown preset %q, have %v: %w", p, known, decomp.ErrConfig)
		}
	}
	if c.Remesh.Perturbation < 0 || c.Remesh.Perturbation >= 0.5 {
		return fmt.Errorf("perturbation %g outside [0, 0.5): %w", c.Remesh.Perturbation, decomp.ErrConfig)
	}
	if c.Remesh.Tolerance < 0 {
		return fmt.Errorf("negative locator tolerance %g: %w", c.Remesh.Tolerance, decomp.ErrConfig)
	}
	return nil
}

// HexaMDConfig is the hexamd block with the mesh node counts filled in
func (c Config) HexaMDConfig() hexamd.Config {
	h := c.HexaMD
	h.NodeCounts = c.Mesh.NodeCounts
	return h
}

// Box returns the mesh bounding box
func (m MeshConfig) Box() (lo, hi r3.Vec) {
	return r3.Vec{X: m.Lo[0], Y: m.Lo[1], Z: m.Lo[2]}, r3.Vec{X: m.Hi[0], Y: m.Hi[1], Z: m.Hi[2]}
}
