package partitions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/mesh"
)

func TestShadowElements(t *testing.T) {
	g := brick([3]int{5, 1, 1}).AdjacencyGraph()
	assert.Empty(t, ShadowElements(g, []int{2}, 0))
	assert.Equal(t, []int{1, 3}, ShadowElements(g, []int{2}, 1))
	assert.Equal(t, []int{0, 1, 3, 4}, ShadowElements(g, []int{2}, 2))
	assert.Equal(t, []int{0, 1, 3, 4}, ShadowElements(g, []int{2}, 9))
	assert.Equal(t, []int{2}, ShadowElements(g, []int{0, 1}, 1))
}

func TestExchangePlan(t *testing.T) {
	mc := brick([3]int{4, 1, 1})
	layout := build(t, mc, 2, BlockPartition)
	ep, err := NewExchangePlan(layout, mc, 1)
	require.NoError(t, err)
	require.NoError(t, ep.Verify())

	assert.Equal(t, [][]int{{2}, {1}}, ep.Shadows)
	assert.Equal(t, []int{2}, ep.GetPickIndices(1, 0))
	assert.Equal(t, []int{0}, ep.PickIndices[1][0].Locals)
	assert.Equal(t, []int{1}, ep.GetPickIndices(0, 1))
	assert.Equal(t, []int{1}, ep.PickIndices[0][1].Locals)
	assert.Equal(t, []int{2}, ep.GetPlaceIndices(0, 1))
	assert.Empty(t, ep.GetPickIndices(0, 0))
	assert.Nil(t, ep.GetPickIndices(0, 2))
	assert.Equal(t, 2, ep.Volume())
	assert.Equal(t, []int{1}, ep.Neighbours(0))

	ep.PlaceIndices[0][1].Elements = []int{3}
	assert.Error(t, ep.Verify())
}

func TestExchangePlanDeep(t *testing.T) {
	mc := brick([3]int{6, 3, 1})
	layout := build(t, mc, 3, CoordinateBisection)
	ep, err := NewExchangePlan(layout, mc, 2)
	require.NoError(t, err)
	require.NoError(t, ep.Verify())
	for p, shadows := range ep.Shadows {
		for _, k := range shadows {
			assert.NotEqual(t, p, layout.EToP[k])
		}
	}
}

func TestIrregularDecomp(t *testing.T) {
	// Two rows of four elements: rank 0 owns row j=0, rank 1 row j=1
	mc := brick([3]int{4, 2, 1})
	layout := build(t, mc, 2, BlockPartition)
	plan, err := NewExchangePlan(layout, mc, 1)
	require.NoError(t, err)

	err = comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		d, err := NewIrregularDecomp(ctx, c, layout, mc, 1)
		if err != nil {
			return err
		}
		r := c.Rank()
		nodes, elems := d.Nodes(), d.Elements()
		if nodes.Status() != decomp.Complete || elems.Status() != decomp.Complete {
			return fmt.Errorf("status %v %v", nodes.Status(), elems.Status())
		}
		if elems.NumShadows() != 4 {
			return fmt.Errorf("%d element shadows", elems.NumShadows())
		}
		// Nodes on the shared plane j=1 belong to rank 0
		wantLocals := []int{20, 10}[r]
		if nodes.NumLocals() != wantLocals || nodes.DomainSize() != 30 {
			return fmt.Errorf("%d local nodes, domain %d", nodes.NumLocals(), nodes.DomainSize())
		}
		if d.NodeOwner(6) != 0 || d.NodeOwner(11) != 1 {
			return fmt.Errorf("node owners %d %d", d.NodeOwner(6), d.NodeOwner(11))
		}
		if got := d.NodeElements(6); !slices.Equal(got, []int{0, 1, 4, 5}) {
			return fmt.Errorf("node 6 elements %v", got)
		}

		if err := plan.CheckSync(r, elems); err != nil {
			return err
		}

		m, err := mesh.New(d, func(g int) r3.Vec { return mc.Vertices[g] })
		if err != nil {
			return err
		}
		x := make([]float64, m.NodeDomainCount())
		for l := 0; l < nodes.NumLocals(); l++ {
			x[l] = m.Coords[l].X + 10*m.Coords[l].Y
		}
		if err := nodes.SendRecvArray(ctx, decomp.Float64Array(x, 1, 0, 1)); err != nil {
			return err
		}
		for dn, p := range m.Coords {
			if x[dn] != p.X+10*p.Y {
				return fmt.Errorf("node %d holds %v at %v", nodes.DomainToGlobal(dn), x[dn], p)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestIrregularDecompNoShadowLayers(t *testing.T) {
	mc := brick([3]int{4, 1, 1})
	layout := build(t, mc, 2, BlockPartition)
	plan, err := NewExchangePlan(layout, mc, 0)
	require.NoError(t, err)
	require.NoError(t, plan.Verify())
	// rank 0 owns the shared face and still needs the element beyond it
	assert.Equal(t, [][]int{{2}, nil}, plan.Shadows)
	assert.Equal(t, 1, plan.Volume())
	assert.Equal(t, []int{1}, plan.Neighbours(0))
	assert.Empty(t, plan.Neighbours(1))

	err = comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		d, err := NewIrregularDecomp(ctx, c, layout, mc, 0)
		if err != nil {
			return err
		}
		if err := plan.CheckSync(c.Rank(), d.Elements()); err != nil {
			return err
		}
		for _, v := range d.Nodes().Locals() {
			for _, k := range d.NodeElements(v) {
				if !d.Elements().IsDomain(k) {
					return fmt.Errorf("rank %d: element %d around node %d missing", c.Rank(), k, v)
				}
			}
		}
		return nil
	})
	require.NoError(t, err)

	// a plan for another depth disagrees with the negotiated exchange
	deep, err := NewExchangePlan(layout, mc, 1)
	require.NoError(t, err)
	err = comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		d, err := NewIrregularDecomp(ctx, c, layout, mc, 0)
		if err != nil {
			return err
		}
		if c.Rank() == 1 {
			return deep.CheckSync(1, d.Elements())
		}
		return nil
	})
	assert.True(t, errors.Is(err, decomp.ErrNegotiation))
}

func TestIrregularDecompErrors(t *testing.T) {
	mc := brick([3]int{3, 1, 1})
	layout := build(t, mc, 3, BlockPartition)
	c := comm.NewWorld(1).Comm(0)
	_, err := NewIrregularDecomp(context.Background(), c, layout, mc, 1)
	assert.True(t, errors.Is(err, decomp.ErrConfig))

	single := build(t, mc, 1, BlockPartition)
	_, err = NewIrregularDecomp(context.Background(), c, single, mc, -1)
	assert.True(t, errors.Is(err, decomp.ErrConfig))

	_, err = NewIrregularDecomp(context.Background(), c, single, brick([3]int{2, 1, 1}), 1)
	assert.True(t, errors.Is(err, decomp.ErrConfig))
}
