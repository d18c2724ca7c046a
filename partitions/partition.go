package partitions

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/utils"
)

// Partition is the set of elements one rank owns
type Partition struct {
	ID int

	Elements    []int // Global element indices, ascending
	NumElements int

	// Grouped by geometry for mixed meshes
	TypeGroups []ElementGroup
}

// ElementGroup lists the elements of one geometry within a partition
type ElementGroup struct {
	Geometry element.Geometry
	Elements []int
}

// PartitionLayout is the complete element decomposition
type PartitionLayout struct {
	Partitions []Partition

	MaxElements   int // max(NumElements) across partitions
	TotalElements int
	NumPartitions int

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// NewLayout builds the partitions described by an element to partition
// map. types may be nil.
func NewLayout(eToP []int, numPartitions int, types []element.Geometry) (*PartitionLayout, error) {
	layout := &PartitionLayout{
		Partitions:    make([]Partition, numPartitions),
		TotalElements: len(eToP),
		NumPartitions: numPartitions,
		EToP:          slices.Clone(eToP),
	}
	for i := range layout.Partitions {
		layout.Partitions[i].ID = i
	}
	for k, p := range eToP {
		if p < 0 || p >= numPartitions {
			return nil, fmt.Errorf("element %d assigned to partition %d of %d: %w", k, p, numPartitions, utils.ErrConfig)
		}
		part := &layout.Partitions[p]
		part.Elements = append(part.Elements, k)
		part.NumElements++
	}
	for i := range layout.Partitions {
		part := &layout.Partitions[i]
		layout.MaxElements = max(layout.MaxElements, part.NumElements)
		if types == nil {
			continue
		}
		byType := make(map[element.Geometry][]int)
		var order []element.Geometry
		for _, k := range part.Elements {
			if _, ok := byType[types[k]]; !ok {
				order = append(order, types[k])
			}
			byType[types[k]] = append(byType[types[k]], k)
		}
		slices.Sort(order)
		for _, g := range order {
			part.TypeGroups = append(part.TypeGroups, ElementGroup{Geometry: g, Elements: byType[g]})
		}
	}
	return layout, layout.ValidateLayout()
}

// GetPartition returns the partition holding element k, or -1
func (pl *PartitionLayout) GetPartition(k int) int {
	if k < 0 || k >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[k]
}

// ValidateLayout checks every element appears in exactly one partition and
// agrees with EToP
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions listed, %d declared: %w", len(pl.Partitions), pl.NumPartitions, utils.ErrConfig)
	}
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP has %d entries for %d elements: %w", len(pl.EToP), pl.TotalElements, utils.ErrConfig)
	}
	seen := make([]bool, pl.TotalElements)
	total := 0
	for p, part := range pl.Partitions {
		if part.NumElements != len(part.Elements) {
			return fmt.Errorf("partition %d counts %d elements but lists %d: %w",
				p, part.NumElements, len(part.Elements), utils.ErrConfig)
		}
		if part.NumElements > pl.MaxElements {
			return fmt.Errorf("partition %d has %d elements, above max %d: %w",
				p, part.NumElements, pl.MaxElements, utils.ErrConfig)
		}
		for _, k := range part.Elements {
			if k < 0 || k >= pl.TotalElements {
				return fmt.Errorf("partition %d lists element %d of %d: %w", p, k, pl.TotalElements, utils.ErrConfig)
			}
			if seen[k] {
				return fmt.Errorf("element %d appears in more than one partition: %w", k, utils.ErrConfig)
			}
			if pl.EToP[k] != p {
				return fmt.Errorf("element %d in partition %d but EToP says %d: %w", k, p, pl.EToP[k], utils.ErrConfig)
			}
			seen[k] = true
		}
		total += part.NumElements
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d of %d elements: %w", total, pl.TotalElements, utils.ErrConfig)
	}
	return nil
}

// PartitionStats summarises the balance and shape of a layout
type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	StdDev        float64
	Imbalance     float64 // max/avg - 1

	// Components[p] is the number of connected pieces of partition p
	Components []int
}

func (s PartitionStats) String() string {
	return fmt.Sprintf("%d partitions: elements min %d max %d avg %.1f stddev %.2f imbalance %.1f%%",
		s.NumPartitions, s.MinElements, s.MaxElements, s.AvgElements, s.StdDev, 100*s.Imbalance)
}

// PartitionStatistics computes layout statistics. Connectivity is measured
// on the shared-vertex graph of mc; with mc nil Components is left empty.
func (pl *PartitionLayout) PartitionStatistics(mc *MeshConnectivity) PartitionStats {
	stats := PartitionStats{NumPartitions: pl.NumPartitions}
	if pl.NumPartitions == 0 {
		return stats
	}
	counts := make([]float64, pl.NumPartitions)
	stats.MinElements = pl.Partitions[0].NumElements
	for i, part := range pl.Partitions {
		counts[i] = float64(part.NumElements)
		stats.MinElements = min(stats.MinElements, part.NumElements)
		stats.MaxElements = max(stats.MaxElements, part.NumElements)
	}
	stats.AvgElements, stats.StdDev = stat.MeanStdDev(counts, nil)
	if pl.NumPartitions == 1 {
		stats.StdDev = 0
	}
	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements)/stats.AvgElements - 1
	}

	if mc == nil {
		return stats
	}
	g := mc.AdjacencyGraph()
	stats.Components = make([]int, pl.NumPartitions)
	for i, part := range pl.Partitions {
		sub := simple.NewUndirectedGraph()
		for _, k := range part.Elements {
			sub.AddNode(simple.Node(k))
		}
		for _, k := range part.Elements {
			for it := g.From(int64(k)); it.Next(); {
				n := it.Node().ID()
				if n > int64(k) && pl.EToP[n] == i {
					sub.SetEdge(sub.NewEdge(simple.Node(k), simple.Node(n)))
				}
			}
		}
		stats.Components[i] = len(topo.ConnectedComponents(sub))
	}
	return stats
}
