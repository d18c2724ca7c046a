package partitions

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/utils"
)

// PartitionBuilder assigns the elements of a mesh to partitions
type PartitionBuilder struct {
	Mesh *MeshConnectivity

	NumPartitions int
	Strategy      PartitionStrategy
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	BlockPartition      PartitionStrategy = iota // Consecutive elements
	RoundRobin                                   // Distribute cyclically
	CoordinateBisection                          // Recursive bisection of centroids
	MeshPartition                                // Use the EToP read with the mesh
)

var strategyNames = map[PartitionStrategy]string{
	BlockPartition:      "block",
	RoundRobin:          "roundrobin",
	CoordinateBisection: "bisection",
	MeshPartition:       "mesh",
}

func (s PartitionStrategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy is the inverse of String
func ParseStrategy(name string) (PartitionStrategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown partition strategy %q: %w", name, utils.ErrConfig)
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil {
		return nil, fmt.Errorf("partition builder has no mesh: %w", utils.ErrConfig)
	}
	if err := pb.Mesh.Validate(); err != nil {
		return nil, err
	}
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("%d partitions: %w", pb.NumPartitions, utils.ErrConfig)
	}

	eToP, err := pb.partitionElements()
	if err != nil {
		return nil, err
	}
	layout, err := NewLayout(eToP, pb.NumPartitions, pb.Mesh.ElementTypes)
	if err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements() ([]int, error) {
	K, np := pb.Mesh.NumElements, pb.NumPartitions
	eToP := make([]int, K)

	switch pb.Strategy {
	case BlockPartition:
		for p := 0; p < np; p++ {
			off, cnt := utils.Split(K, np, p)
			for k := off; k < off+cnt; k++ {
				eToP[k] = p
			}
		}

	case RoundRobin:
		for k := range eToP {
			eToP[k] = k % np
		}

	case CoordinateBisection:
		centroids := make([]r3.Vec, K)
		elems := make([]int, K)
		for k := range elems {
			elems[k] = k
			centroids[k] = pb.Mesh.Centroid(k)
		}
		bisect(elems, centroids, 0, np, eToP)

	case MeshPartition:
		if pb.Mesh.EToP == nil {
			return nil, fmt.Errorf("mesh carries no partitioning: %w", utils.ErrConfig)
		}
		for k, p := range pb.Mesh.EToP {
			if p < 0 || p >= np {
				return nil, fmt.Errorf("mesh assigns element %d to partition %d of %d: %w", k, p, np, utils.ErrConfig)
			}
		}
		copy(eToP, pb.Mesh.EToP)

	default:
		return nil, fmt.Errorf("partition strategy %v: %w", pb.Strategy, utils.ErrConfig)
	}
	return eToP, nil
}

// bisect splits elems along the widest axis of their centroids' bounding
// box, proportionally to the partitions each half receives, and recurses
// until one partition is left
func bisect(elems []int, centroids []r3.Vec, first, parts int, eToP []int) {
	if parts == 1 || len(elems) == 0 {
		for _, k := range elems {
			eToP[k] = first
		}
		return
	}
	lo, hi := centroids[elems[0]], centroids[elems[0]]
	for _, k := range elems[1:] {
		c := centroids[k]
		lo = r3.Vec{X: min(lo.X, c.X), Y: min(lo.Y, c.Y), Z: min(lo.Z, c.Z)}
		hi = r3.Vec{X: max(hi.X, c.X), Y: max(hi.Y, c.Y), Z: max(hi.Z, c.Z)}
	}
	ext := r3.Sub(hi, lo)
	coord := func(v r3.Vec) float64 { return v.X }
	if ext.Y > ext.X && ext.Y >= ext.Z {
		coord = func(v r3.Vec) float64 { return v.Y }
	} else if ext.Z > ext.X && ext.Z > ext.Y {
		coord = func(v r3.Vec) float64 { return v.Z }
	}
	slices.SortStableFunc(elems, func(a, b int) int {
		if c := cmp.Compare(coord(centroids[a]), coord(centroids[b])); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	left := parts / 2
	cut := len(elems) * left / parts
	bisect(elems[:cut], centroids, first, left, eToP)
	bisect(elems[cut:], centroids, first+left, parts-left, eToP)
}
