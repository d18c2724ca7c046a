package mesh

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/hexamd"
)

func TestRegularCoords(t *testing.T) {
	coord := RegularCoords(r3.Vec{}, r3.Vec{X: 3, Y: 1, Z: 2}, [3]int{4, 2, 3})
	assert.Equal(t, r3.Vec{}, coord(0))
	assert.Equal(t, r3.Vec{X: 1}, coord(1))
	assert.Equal(t, r3.Vec{X: 2, Y: 1, Z: 1}, coord(2+4*1+8*1))
	assert.Equal(t, r3.Vec{X: 3, Y: 1, Z: 2}, coord(23))
}

func TestPerturbedCoords(t *testing.T) {
	counts := [3]int{4, 3, 5}
	base := RegularCoords(r3.Vec{}, r3.Vec{X: 3, Y: 4, Z: 2}, counts)
	spacing := r3.Vec{X: 1, Y: 2, Z: 0.5}
	coord := PerturbedCoords(base, counts, spacing, 0.3, 7)
	again := PerturbedCoords(base, counts, spacing, 0.3, 7)
	still := PerturbedCoords(base, counts, spacing, 0, 7)

	moved := 0
	for g := 0; g < counts[0]*counts[1]*counts[2]; g++ {
		i, j, k := g%4, g/4%3, g/12
		p, b := coord(g), base(g)
		assert.Equal(t, p, again(g))
		assert.Equal(t, b, still(g))
		d := [3]float64{p.X - b.X, p.Y - b.Y, p.Z - b.Z}
		h := [3]float64{spacing.X, spacing.Y, spacing.Z}
		for a, idx := range [3]int{i, j, k} {
			if idx == 0 || idx == counts[a]-1 {
				assert.Zero(t, d[a], "node %d axis %d on the boundary", g, a)
				continue
			}
			if d[a] != 0 {
				moved++
			}
			if d[a] < -0.3*h[a] || d[a] > 0.3*h[a] {
				t.Errorf("node %d axis %d moved %g, more than %g", g, a, d[a], 0.3*h[a])
			}
		}
	}
	assert.NotZero(t, moved)
}

func TestNewFromHexaMD(t *testing.T) {
	counts := [3]int{4, 4, 4}
	coord := RegularCoords(r3.Vec{}, r3.Vec{X: 3, Y: 3, Z: 3}, counts)
	err := comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Comm) error {
		cfg := hexamd.DefaultConfig()
		cfg.NodeCounts = counts
		h, err := hexamd.New(ctx, c, cfg)
		if err != nil {
			return err
		}
		m, err := New(h, coord)
		if err != nil {
			return err
		}
		nodes, elems := m.Nodes(), m.Elements()
		if m.NodeDomainCount() != nodes.DomainSize() || m.ElementDomainCount() != elems.DomainSize() {
			return fmt.Errorf("domain sizes %d, %d", m.NodeDomainCount(), m.ElementDomainCount())
		}
		if _, ok := m.Structured(); !ok {
			return fmt.Errorf("hexamd mesh should be structured")
		}
		for de := range m.ElementNodes {
			hex := m.HexCorners(de)
			// unit spacing: corner c sits at the element origin plus its offset
			ijk := h.ElementIJK(elems.DomainToGlobal(de))
			origin := r3.Vec{X: float64(ijk[0]), Y: float64(ijk[1]), Z: float64(ijk[2])}
			if hex[0] != origin || hex[7] != r3.Add(origin, r3.Vec{X: 1, Y: 1, Z: 1}) {
				return fmt.Errorf("element %d corners %v", de, hex)
			}
		}
		for dn := range m.NodeElements {
			for s, de := range m.NodeElements[dn] {
				if de == m.ElementDomainCount() {
					continue
				}
				if m.ElementNodes[de][7-s] != dn {
					return fmt.Errorf("node %d slot %d inconsistent", dn, s)
				}
			}
		}
		// the grid corner node 0 lives on rank 0 and touches one element
		if c.Rank() == 0 {
			dn := nodes.GlobalToDomain(0)
			if n := m.NodeElementCount(dn); n != 1 {
				return fmt.Errorf("corner node has %d elements", n)
			}
			// node (1,1,1) is interior with all 8 elements in the domain
			if n := m.NodeElementCount(nodes.GlobalToDomain(1 + 4 + 16)); n != 8 {
				return fmt.Errorf("interior node has %d elements", n)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// twoElements is a decomposition whose second element refers to a node
// nobody declared
type twoElements struct {
	nodes, elems *decomp.Sync
}

func (d twoElements) Nodes() *decomp.Sync    { return d.nodes }
func (d twoElements) Elements() *decomp.Sync { return d.elems }
func (d twoElements) ElementNodes(g int) []int {
	return [][]int{{0, 1}, {1, 2}}[g]
}
func (d twoElements) NodeElements(g int) []int { return []int{decomp.Invalid} }

func TestNewMissingNode(t *testing.T) {
	ctx := context.Background()
	c := comm.NewWorld(1).Comm(0)
	d := twoElements{nodes: decomp.NewSync(decomp.New(c)), elems: decomp.NewSync(decomp.New(c))}
	require.NoError(t, d.nodes.SetLocals(ctx, []int{0, 1}))
	require.NoError(t, d.elems.SetLocals(ctx, []int{0, 1}))

	_, err := New(d, func(int) r3.Vec { return r3.Vec{} })
	assert.True(t, errors.Is(err, decomp.ErrConfig))
}
