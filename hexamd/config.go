package hexamd

import (
	"fmt"

	"github.com/notargets/snacdecomp/decomp"
)

// Config is the decomposition policy of a structured hexahedral mesh
type Config struct {
	NodeCounts              [3]int  `yaml:"nodeCounts"`
	AllowPartitionOnNode    bool    `yaml:"allowPartitionOnNode"`
	AllowPartitionOnElement bool    `yaml:"allowPartitionOnElement"`
	AllowUnbalancing        bool    `yaml:"allowUnbalancing"`
	AllowUnusedCPUs         bool    `yaml:"allowUnusedCPUs"`
	ShadowDepth             int     `yaml:"shadowDepth"`
	Periodic                [3]bool `yaml:"periodic"`
	NumPartitionedDims      int     `yaml:"numPartitionedDims"`
	// DecomposableAxes restricts which axes may be split
	DecomposableAxes [3]bool `yaml:"decomposableAxes"`
}

func DefaultConfig() Config {
	return Config{
		AllowPartitionOnNode: true,
		ShadowDepth:          1,
		NumPartitionedDims:   1,
		DecomposableAxes:     [3]bool{true, true, true},
	}
}

func (c Config) Validate() error {
	for d, n := range c.NodeCounts {
		if n < 1 {
			return fmt.Errorf("node count %d on axis %d: %w", n, d, decomp.ErrConfig)
		}
	}
	if !c.AllowPartitionOnNode && !c.AllowPartitionOnElement {
		return fmt.Errorf("neither partition on node nor on element allowed: %w", decomp.ErrConfig)
	}
	if c.ShadowDepth < 0 {
		return fmt.Errorf("negative shadow depth %d: %w", c.ShadowDepth, decomp.ErrConfig)
	}
	if c.NumPartitionedDims < 1 || c.NumPartitionedDims > 3 {
		return fmt.Errorf("numPartitionedDims %d outside 1..3: %w", c.NumPartitionedDims, decomp.ErrConfig)
	}
	return nil
}

// partitionOnElement reports which basis the partition counts apply to
func (c Config) partitionOnElement() bool { return c.AllowPartitionOnElement }
