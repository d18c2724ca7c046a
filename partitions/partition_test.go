package partitions

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/utils"
)

func brick(counts [3]int) *MeshConnectivity {
	return BrickMesh(counts, r3.Vec{}, r3.Vec{X: float64(counts[0]), Y: float64(counts[1]), Z: float64(counts[2])})
}

func TestBrickMesh(t *testing.T) {
	mc := brick([3]int{2, 1, 1})
	require.NoError(t, mc.Validate())
	assert.Equal(t, 2, mc.NumElements)
	assert.Equal(t, 12, mc.NumVertices())
	assert.Equal(t, []int{0, 1, 3, 4, 6, 7, 9, 10}, mc.EToV[0])
	assert.Equal(t, []int{1, 2, 4, 5, 7, 8, 10, 11}, mc.EToV[1])
	assert.Equal(t, r3.Vec{X: 2, Y: 1, Z: 1}, mc.Vertices[11])
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, mc.Centroid(0))
	assert.Equal(t, []element.Geometry{element.Hex, element.Hex}, mc.ElementTypes)

	ve := mc.VertexElements()
	assert.Equal(t, []int{0}, ve[0])
	assert.Equal(t, []int{0, 1}, ve[1])
	assert.Equal(t, []int{1}, ve[2])

	g := mc.AdjacencyGraph()
	assert.Equal(t, 2, g.Nodes().Len())
	assert.True(t, g.HasEdgeBetween(0, 1))
}

func TestValidateConnectivity(t *testing.T) {
	mc := brick([3]int{1, 1, 1})
	mc.EToV[0][3] = 99
	assert.True(t, errors.Is(mc.Validate(), utils.ErrConfig))

	mc = brick([3]int{1, 1, 1})
	mc.EToP = []int{0, 1}
	assert.True(t, errors.Is(mc.Validate(), utils.ErrConfig))
}

func TestReadMeshMissingFile(t *testing.T) {
	_, err := ReadMesh("testdata/does-not-exist.neu")
	assert.Error(t, err)
}

func build(t *testing.T, mc *MeshConnectivity, np int, s PartitionStrategy) *PartitionLayout {
	t.Helper()
	pb := &PartitionBuilder{Mesh: mc, NumPartitions: np, Strategy: s}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	return layout
}

func TestStrategies(t *testing.T) {
	mc := brick([3]int{4, 2, 1})

	layout := build(t, mc, 4, BlockPartition)
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3}, layout.EToP)
	assert.Equal(t, []int{2, 3}, layout.Partitions[1].Elements)
	assert.Equal(t, 2, layout.MaxElements)

	layout = build(t, mc, 4, RoundRobin)
	assert.Equal(t, []int{0, 1, 2, 3, 0, 1, 2, 3}, layout.EToP)

	// Uneven block split gives the remainder to the first partitions
	layout = build(t, brick([3]int{8, 1, 1}), 3, BlockPartition)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2, 2}, layout.EToP)
	assert.Equal(t, 3, layout.MaxElements)
}

func TestCoordinateBisection(t *testing.T) {
	// Four partitions of a 4x4 sheet are 2x2 blocks
	layout := build(t, brick([3]int{4, 4, 1}), 4, CoordinateBisection)
	assert.Equal(t, []int{
		0, 0, 2, 2,
		0, 0, 2, 2,
		1, 1, 3, 3,
		1, 1, 3, 3,
	}, layout.EToP)

	// An odd count splits proportionally
	layout = build(t, brick([3]int{6, 1, 1}), 3, CoordinateBisection)
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, layout.EToP)

	// Along the long axis first
	layout = build(t, brick([3]int{2, 4, 1}), 2, CoordinateBisection)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, layout.EToP)
}

func TestMeshPartition(t *testing.T) {
	mc := brick([3]int{3, 1, 1})
	pb := &PartitionBuilder{Mesh: mc, NumPartitions: 2, Strategy: MeshPartition}
	_, err := pb.BuildPartitions()
	assert.True(t, errors.Is(err, utils.ErrConfig))

	mc.EToP = []int{1, 0, 1}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, layout.EToP)
	assert.Equal(t, []int{0, 2}, layout.Partitions[1].Elements)

	mc.EToP = []int{0, 2, 1}
	_, err = pb.BuildPartitions()
	assert.True(t, errors.Is(err, utils.ErrConfig))
}

func TestBuilderErrors(t *testing.T) {
	_, err := (&PartitionBuilder{NumPartitions: 1}).BuildPartitions()
	assert.True(t, errors.Is(err, utils.ErrConfig))

	_, err = (&PartitionBuilder{Mesh: brick([3]int{1, 1, 1})}).BuildPartitions()
	assert.True(t, errors.Is(err, utils.ErrConfig))

	_, err = (&PartitionBuilder{Mesh: brick([3]int{1, 1, 1}), NumPartitions: 1, Strategy: 42}).BuildPartitions()
	assert.True(t, errors.Is(err, utils.ErrConfig))
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []PartitionStrategy{BlockPartition, RoundRobin, CoordinateBisection, MeshPartition} {
		got, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("metis")
	assert.True(t, errors.Is(err, utils.ErrConfig))
}

func TestValidateLayout(t *testing.T) {
	_, err := NewLayout([]int{0, 2}, 2, nil)
	assert.True(t, errors.Is(err, utils.ErrConfig))

	layout, err := NewLayout([]int{0, 1, 1}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, layout.GetPartition(2))
	assert.Equal(t, -1, layout.GetPartition(3))

	layout.EToP[0] = 1
	assert.True(t, errors.Is(layout.ValidateLayout(), utils.ErrConfig))

	layout, err = NewLayout([]int{0, 1, 1}, 2, nil)
	require.NoError(t, err)
	layout.Partitions[0].Elements = append(layout.Partitions[0].Elements, 1)
	layout.Partitions[0].NumElements++
	assert.Error(t, layout.ValidateLayout())
}

func TestTypeGroups(t *testing.T) {
	types := []element.Geometry{element.Hex, element.Tet, element.Hex}
	layout, err := NewLayout([]int{0, 0, 0}, 1, types)
	require.NoError(t, err)
	groups := layout.Partitions[0].TypeGroups
	require.Len(t, groups, 2)
	assert.Equal(t, ElementGroup{Geometry: element.Tet, Elements: []int{1}}, groups[0])
	assert.Equal(t, ElementGroup{Geometry: element.Hex, Elements: []int{0, 2}}, groups[1])
}

func TestPartitionStatistics(t *testing.T) {
	mc := brick([3]int{8, 1, 1})

	stats := build(t, mc, 3, BlockPartition).PartitionStatistics(mc)
	assert.Equal(t, 2, stats.MinElements)
	assert.Equal(t, 3, stats.MaxElements)
	assert.InDelta(t, 8.0/3, stats.AvgElements, 1e-12)
	assert.InDelta(t, math.Sqrt(1.0/3), stats.StdDev, 1e-12)
	assert.InDelta(t, 0.125, stats.Imbalance, 1e-12)
	assert.Equal(t, []int{1, 1, 1}, stats.Components)

	// Alternate elements share no vertex along a single row
	stats = build(t, mc, 2, RoundRobin).PartitionStatistics(mc)
	assert.Equal(t, []int{4, 4}, stats.Components)
	assert.Zero(t, stats.Imbalance)

	stats = build(t, mc, 1, BlockPartition).PartitionStatistics(nil)
	assert.Zero(t, stats.StdDev)
	assert.Nil(t, stats.Components)
}
