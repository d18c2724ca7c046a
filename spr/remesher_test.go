package spr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/hexamd"
)

// rectilinear places node ijk at the per-axis coordinates xs, ys, zs
func rectilinear(xs, ys, zs []float64) func(ijk [3]int) r3.Vec {
	return func(ijk [3]int) r3.Vec {
		return r3.Vec{X: xs[ijk[0]], Y: ys[ijk[1]], Z: zs[ijk[2]]}
	}
}

var (
	oldPlace = rectilinear(
		[]float64{0, 0.7, 1.9, 3.1, 4},
		[]float64{0, 1.2, 1.9, 3},
		[]float64{0, 0.8, 2.2, 3},
	)
	newPlace = scaled(1, 1, 1)
)

func TestLocator(t *testing.T) {
	h, m := singleRank(t, [3]int{3, 3, 3}, scaled(1, 1, 1))
	loc := NewLocator(m, 1e-9)
	nodes := m.Nodes()

	want := nodes.GlobalToDomain(h.NodeGlobalIndex([3]int{1, 1, 0}))
	assert.Equal(t, want, loc.Nearest(r3.Vec{X: 1.1, Y: 0.9, Z: 0.2}))

	p := r3.Vec{X: 0.3, Y: 0.4, Z: 1.6}
	at, ok := loc.Locate(p)
	require.True(t, ok)
	assert.Equal(t, [3]int{0, 0, 1}, h.ElementIJK(m.Elements().DomainToGlobal(at.Element)))
	assert.InDelta(t, 1.0, floats.Sum(at.Weights[:]), 1e-12)
	var back r3.Vec
	for i, cn := range at.Corners {
		back = r3.Add(back, r3.Scale(at.Weights[i], m.Coords[cn]))
	}
	assert.InDelta(t, 0, r3.Norm(r3.Sub(back, p)), 1e-12)

	// On the boundary
	_, ok = loc.Locate(r3.Vec{X: 2, Y: 2, Z: 2})
	assert.True(t, ok)

	_, ok = loc.Locate(r3.Vec{X: 5, Y: 5, Z: 5})
	assert.False(t, ok)
}

func TestRemesherOrder(t *testing.T) {
	_, m := singleRank(t, [3]int{3, 3, 3}, scaled(1, 1, 1))
	reg := NewRegistry()
	linearRule(t, reg, false)
	old, err := NewStore(reg, m)
	require.NoError(t, err)
	dst, err := NewStore(reg, m)
	require.NoError(t, err)

	_, err = NewRemesher(NewRegistry(), old)
	assert.True(t, errors.Is(err, decomp.ErrConfig))

	r, err := NewRemesher(reg, old)
	require.NoError(t, err)
	ctx := context.Background()
	assert.True(t, errors.Is(r.Interpolate(ctx, dst, 1e-9), decomp.ErrConfig))
	assert.True(t, errors.Is(r.Rederive(ctx), decomp.ErrConfig))
	assert.Equal(t, OldMeshState, r.State())

	require.NoError(t, r.Recover(ctx))
	assert.Equal(t, Recovered, r.State())
	assert.True(t, errors.Is(r.Recover(ctx), decomp.ErrConfig))

	other := NewRegistry()
	foreign, err := NewStore(other, m)
	require.NoError(t, err)
	assert.True(t, errors.Is(r.Interpolate(ctx, foreign, 1e-9), decomp.ErrConfig))
	assert.Equal(t, Recovered, r.State())
	assert.Equal(t, "Recovered", r.State().String())
}

func TestRecoverFailureKeepsState(t *testing.T) {
	_, m := singleRank(t, [3]int{3, 3, 3}, func([3]int) r3.Vec { return r3.Vec{} })
	reg := NewRegistry()
	linearRule(t, reg, false)
	old, err := NewStore(reg, m)
	require.NoError(t, err)
	r, err := NewRemesher(reg, old)
	require.NoError(t, err)

	err = r.Recover(context.Background())
	assert.True(t, errors.Is(err, decomp.ErrNumerical))
	assert.Equal(t, OldMeshState, r.State())
}

// rankResult is what one rank saw of a remesh
type rankResult struct {
	externals []int
	state     State
	// worst deviation of the rederived tetrahedra from the linear field
	worst float64
}

func TestRemeshLinearRoundTrip(t *testing.T) {
	counts := [3]int{5, 4, 4}
	const size = 2
	results := make([]rankResult, size)
	err := comm.Run(context.Background(), size, func(ctx context.Context, c comm.Comm) error {
		_, oldMesh, err := hexMesh(ctx, c, counts, oldPlace)
		if err != nil {
			return err
		}
		_, newMesh, err := hexMesh(ctx, c, counts, newPlace)
		if err != nil {
			return err
		}
		reg := NewRegistry()
		e, _ := reg.Register(ElementKind, "f", 2)
		n, _ := reg.Register(NodeKind, "fSPR", 2)
		if err := reg.AddRecovery(RecoveryRule{Element: e, Node: n, SecondPatch: true}); err != nil {
			return err
		}
		old, err := NewStore(reg, oldMesh)
		if err != nil {
			return err
		}
		dst, err := NewStore(reg, newMesh)
		if err != nil {
			return err
		}
		fillTets(old, e, linear)

		r, err := NewRemesher(reg, old)
		if err != nil {
			return err
		}
		if err := r.Run(ctx, dst, 1e-9); err != nil {
			return err
		}
		res := rankResult{externals: r.Externals(), state: r.State()}
		for de := 0; de < newMesh.ElementDomainCount(); de++ {
			hex := newMesh.HexCorners(de)
			for tet := 0; tet < element.TetrahedraCount; tet++ {
				v := element.TetVertices(hex, tet)
				want := linear(element.Centroid(v[:]...))
				got := dst.Tetra(e, de, tet)
				for k := range want {
					res.worst = max(res.worst, math.Abs(got[k]-want[k]))
				}
			}
		}
		results[c.Rank()] = res
		return nil
	})
	require.NoError(t, err)
	for rank, res := range results {
		assert.Empty(t, res.externals, "rank %d", rank)
		assert.Equal(t, Rederived, res.state, "rank %d", rank)
		if res.worst > 1e-9 {
			t.Errorf("rank %d: rederived values off the linear field by %g", rank, res.worst)
		}
	}
}

func TestRemeshExternalNodes(t *testing.T) {
	_, oldMesh := singleRank(t, [3]int{3, 3, 3}, scaled(1, 1, 1))
	h, newMesh := singleRank(t, [3]int{3, 3, 3}, scaled(1.5, 1, 1))
	reg := NewRegistry()
	require.NoError(t, RegisterPresets(reg, "temperature"))
	temp := reg.Field(NodeKind, "temperature")
	old, err := NewStore(reg, oldMesh)
	require.NoError(t, err)
	dst, err := NewStore(reg, newMesh)
	require.NoError(t, err)
	for dn := range oldMesh.Coords {
		old.Node(temp, dn)[0] = oldMesh.Coords[dn].X
	}

	r, err := NewRemesher(reg, old)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), dst, 1e-9))

	// x = 3 lies beyond the old mesh and copies the nearest old node at x = 2
	var want []int
	for j := 0; j < 3; j++ {
		for k := 0; k < 3; k++ {
			want = append(want, h.NodeGlobalIndex([3]int{2, j, k}))
		}
	}
	assert.ElementsMatch(t, want, r.Externals())
	for dn, p := range newMesh.Coords {
		assert.InDelta(t, min(p.X, 2), dst.Node(temp, dn)[0], 1e-12, fmt.Sprint(p))
	}
}

func TestDistributedRecoveryMatchesSerial(t *testing.T) {
	field := func(p r3.Vec) []float64 { return []float64{p.X*p.Y + p.Z*p.Z} }
	wide := rectilinear(
		[]float64{0, 0.7, 1.9, 3.1, 4, 4.6},
		[]float64{0, 1.2, 1.9, 3},
		[]float64{0, 0.8, 2.2, 3},
	)
	cases := []struct {
		name  string
		size  int
		cfg   hexamd.Config
		place func([3]int) r3.Vec
	}{
		{"two ranks", 2, hexConfig([3]int{5, 4, 4}, 1), oldPlace},
		{"last rank without elements", 4, hexConfig([3]int{4, 4, 4}, 1), oldPlace},
		{"no shadow layers", 2, hexConfig([3]int{6, 4, 4}, 0), wide},
	}

	recoverAll := func(size int, cfg hexamd.Config, place func([3]int) r3.Vec) (map[int]float64, error) {
		got := make([]map[int]float64, size)
		err := comm.Run(context.Background(), size, func(ctx context.Context, c comm.Comm) error {
			_, m, err := hexMeshConfig(ctx, c, cfg, place)
			if err != nil {
				return err
			}
			reg := NewRegistry()
			e, _ := reg.Register(ElementKind, "g", 1)
			n, _ := reg.Register(NodeKind, "gSPR", 1)
			if err := reg.AddRecovery(RecoveryRule{Element: e, Node: n, SecondPatch: true}); err != nil {
				return err
			}
			s, err := NewStore(reg, m)
			if err != nil {
				return err
			}
			fillTets(s, e, field)
			r, err := NewRemesher(reg, s)
			if err != nil {
				return err
			}
			if err := r.Recover(ctx); err != nil {
				return err
			}
			vals := make(map[int]float64)
			for dn := 0; dn < m.NodeDomainCount(); dn++ {
				vals[m.Nodes().DomainToGlobal(dn)] = s.Node(n, dn)[0]
			}
			got[c.Rank()] = vals
			return nil
		})
		if err != nil {
			return nil, err
		}
		all := make(map[int]float64)
		for _, vals := range got {
			for g, v := range vals {
				if prev, ok := all[g]; ok && prev != v {
					return nil, fmt.Errorf("node %d differs across ranks: %g and %g", g, prev, v)
				}
				all[g] = v
			}
		}
		return all, nil
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			serial, err := recoverAll(1, tc.cfg, tc.place)
			require.NoError(t, err)
			distributed, err := recoverAll(tc.size, tc.cfg, tc.place)
			require.NoError(t, err)
			require.Len(t, distributed, len(serial))
			for g, v := range serial {
				assert.InDelta(t, v, distributed[g], 1e-12, "node %d", g)
			}
		})
	}
}

func hexConfig(counts [3]int, depth int) hexamd.Config {
	cfg := hexamd.DefaultConfig()
	cfg.NodeCounts = counts
	cfg.ShadowDepth = depth
	return cfg
}

func TestRemeshIdentity(t *testing.T) {
	_, m := singleRank(t, [3]int{4, 3, 3}, scaled(1, 0.5, 2))
	reg := NewRegistry()
	rule := linearRule(t, reg, false)
	old, err := NewStore(reg, m)
	require.NoError(t, err)
	dst, err := NewStore(reg, m)
	require.NoError(t, err)
	fillTets(old, rule.Element, linear)

	r, err := NewRemesher(reg, old)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), dst, 1e-9))
	assert.Empty(t, r.Externals())
	for de := 0; de < m.ElementLocalCount(); de++ {
		for tet := 0; tet < element.TetrahedraCount; tet++ {
			assert.InDeltaSlice(t, old.Tetra(rule.Element, de, tet), dst.Tetra(rule.Element, de, tet), 1e-9,
				"element %d tet %d", de, tet)
		}
	}
}
