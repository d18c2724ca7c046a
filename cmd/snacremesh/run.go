package main

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/config"
	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/hexamd"
	"github.com/notargets/snacdecomp/mesh"
	"github.com/notargets/snacdecomp/partitions"
	"github.com/notargets/snacdecomp/spr"
)

// decomposition is a mesh layout that can name the owner of any entity
type decomposition interface {
	mesh.Decomposition
	NodeOwner(g int) int
	ElementOwner(g int) int
}

// layout is one rank's decomposition with the node placement before and
// after the remesh
type layout struct {
	d                  decomposition
	oldCoord, newCoord func(g int) r3.Vec
	hexahedral         bool
}

// report is the world-wide outcome of a run, identical on every rank
type report struct {
	Nodes, Elements int
	Externals       int
	State           spr.State
	// Deviation is the largest difference between the remeshed values and
	// the starting field, per field name
	Deviation map[string]float64
}

func spacing(cfg config.Config) r3.Vec {
	lo, hi := cfg.Mesh.Box()
	n := cfg.Mesh.NodeCounts
	return r3.Vec{
		X: (hi.X - lo.X) / float64(n[0]-1),
		Y: (hi.Y - lo.Y) / float64(n[1]-1),
		Z: (hi.Z - lo.Z) / float64(n[2]-1),
	}
}

func build(ctx context.Context, c comm.Comm, cfg config.Config) (*layout, error) {
	lo, hi := cfg.Mesh.Box()
	counts := cfg.Mesh.NodeCounts
	perturb := func(base func(g int) r3.Vec) func(g int) r3.Vec {
		return mesh.PerturbedCoords(base, counts, spacing(cfg), cfg.Remesh.Perturbation, cfg.Remesh.Seed)
	}
	if cfg.Mesh.Decomposition == config.Structured {
		h, err := hexamd.New(ctx, c, cfg.HexaMDConfig())
		if err != nil {
			return nil, err
		}
		old := mesh.RegularCoords(lo, hi, counts)
		return &layout{d: h, oldCoord: old, newCoord: perturb(old), hexahedral: true}, nil
	}

	var mc *partitions.MeshConnectivity
	if cfg.Mesh.File != "" {
		var err error
		if mc, err = partitions.ReadMesh(cfg.Mesh.File); err != nil {
			return nil, err
		}
	} else {
		mc = partitions.BrickMesh([3]int{counts[0] - 1, counts[1] - 1, counts[2] - 1}, lo, hi)
	}
	strategy, err := partitions.ParseStrategy(cfg.Mesh.Strategy)
	if err != nil {
		return nil, err
	}
	pb := &partitions.PartitionBuilder{Mesh: mc, NumPartitions: c.Size(), Strategy: strategy}
	pl, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}
	if c.Rank() == 0 {
		decomp.RankLogger(c).Infof("%v partitions of %d elements: %v", strategy, mc.NumElements, pl.PartitionStatistics(mc))
	}
	d, err := partitions.NewIrregularDecomp(ctx, c, pl, mc, cfg.HexaMD.ShadowDepth)
	if err != nil {
		return nil, err
	}
	plan, err := partitions.NewExchangePlan(pl, mc, cfg.HexaMD.ShadowDepth)
	if err != nil {
		return nil, err
	}
	if err := plan.Verify(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, decomp.ErrNegotiation)
	}
	if c.Rank() == 0 {
		decomp.RankLogger(c).Infof("element exchange moves %d records", plan.Volume())
	}
	if err := plan.CheckSync(c.Rank(), d.Elements()); err != nil {
		return nil, err
	}
	old := func(g int) r3.Vec { return mc.Vertices[g] }
	l := &layout{d: d, oldCoord: old, newCoord: old, hexahedral: true}
	if cfg.Mesh.File == "" {
		l.newCoord = perturb(old)
	}
	for _, t := range mc.ElementTypes {
		if t != element.Hex {
			l.hexahedral = false
			break
		}
	}
	return l, nil
}

// checkShadows sends every owner its own rank over both index spaces and
// verifies each shadow received the rank the decomposition names
func checkShadows(ctx context.Context, c comm.Comm, d decomposition) error {
	for _, s := range []struct {
		kind  string
		sync  *decomp.Sync
		owner func(g int) int
	}{
		{"node", d.Nodes(), d.NodeOwner},
		{"element", d.Elements(), d.ElementOwner},
	} {
		ranks := make([]int, s.sync.DomainSize())
		for i := range s.sync.NumLocals() {
			ranks[i] = c.Rank()
		}
		if err := s.sync.SendRecvArray(ctx, decomp.IntArray(ranks, 1, 0, 1)); err != nil {
			return err
		}
		for dn := s.sync.NumLocals(); dn < len(ranks); dn++ {
			g := s.sync.DomainToGlobal(dn)
			if want := s.owner(g); ranks[dn] != want {
				return fmt.Errorf("rank %d: shadow %s %d came from rank %d, owner is %d: %w",
					c.Rank(), s.kind, g, ranks[dn], want, decomp.ErrNegotiation)
			}
		}
	}
	return nil
}

// analytic is the field the old mesh starts from. Linear fields remesh
// exactly; material is a sharp 0/1 interface and plasticStrain a kink.
func analytic(f *spr.Field, p, mid r3.Vec) []float64 {
	v := make([]float64, f.Components())
	d := r3.Sub(p, mid)
	switch f.Name() {
	case "material":
		if d.X > 0 {
			v[0] = 1
		}
	case "plasticStrain":
		v[0] = max(d.X, 0)
	default:
		for k := range v {
			v[k] = float64(k+1)*d.X - 0.5*d.Y + 0.25*float64(k)*d.Z
		}
	}
	return v
}

// seed fills the local elements and nodes of the old mesh with the
// analytic fields and refreshes the node shadows
func seed(ctx context.Context, s *spr.Store, mid r3.Vec) error {
	m, reg := s.Mesh(), s.Registry()
	for de := 0; de < m.ElementLocalCount(); de++ {
		hex := m.HexCorners(de)
		for t := 0; t < element.TetrahedraCount; t++ {
			tet := element.TetVertices(hex, t)
			c := element.Centroid(tet[:]...)
			for _, f := range reg.Fields(spr.ElementKind) {
				copy(s.Tetra(f, de, t), analytic(f, c, mid))
			}
		}
	}
	var nodal []*spr.Field
	for _, n := range reg.Nodals() {
		nodal = append(nodal, n.Field)
	}
	for dn := 0; dn < m.NodeLocalCount(); dn++ {
		for _, f := range nodal {
			copy(s.Node(f, dn), analytic(f, m.Coords[dn], mid))
		}
	}
	return s.SyncNodes(ctx, nodal...)
}

// deviations measures the local remeshed fields against the analytic ones:
// element fields at tetrahedron centroids, nodal fields at the nodes. Every
// field has an entry, so all ranks report the same names.
func deviations(s *spr.Store, mid r3.Vec) map[string]float64 {
	m, reg := s.Mesh(), s.Registry()
	dev := make(map[string]float64)
	for _, rule := range reg.Recoveries() {
		f := rule.Element
		dev[f.Name()] = 0
		for de := 0; de < m.ElementLocalCount(); de++ {
			hex := m.HexCorners(de)
			for t := 0; t < element.TetrahedraCount; t++ {
				tet := element.TetVertices(hex, t)
				want := analytic(f, element.Centroid(tet[:]...), mid)
				for k, got := range s.Tetra(f, de, t) {
					dev[f.Name()] = max(dev[f.Name()], math.Abs(got-want[k]))
				}
			}
		}
	}
	for _, n := range reg.Nodals() {
		f := n.Field
		dev[f.Name()] = 0
		for dn := 0; dn < m.NodeLocalCount(); dn++ {
			want := analytic(f, m.Coords[dn], mid)
			for k, got := range s.Node(f, dn) {
				dev[f.Name()] = max(dev[f.Name()], math.Abs(got-want[k]))
			}
		}
	}
	return dev
}

// allMax reduces v elementwise to its maximum over the world
func allMax(ctx context.Context, c comm.Comm, v []float64) ([]float64, error) {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		comm.PutFloat64(buf[8*i:], x)
	}
	all, err := comm.Allgather(ctx, c, buf)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(v)
	for r, b := range all {
		if len(b) != len(buf) {
			return nil, fmt.Errorf("rank %d sent %d bytes, want %d: %w", r, len(b), len(buf), decomp.ErrNegotiation)
		}
		for i := range out {
			out[i] = max(out[i], comm.Float64(b[8*i:]))
		}
	}
	return out, nil
}

// run is the whole job on one rank. It is collective.
func run(ctx context.Context, c comm.Comm, cfg config.Config) (*report, error) {
	log := decomp.RankLogger(c)
	l, err := build(ctx, c, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkShadows(ctx, c, l.d); err != nil {
		return nil, err
	}
	totals, err := comm.AllreduceInts(ctx, c, []int{l.d.Nodes().NumLocals(), l.d.Elements().NumLocals()}, comm.Sum)
	if err != nil {
		return nil, err
	}
	rep := &report{Nodes: totals[0], Elements: totals[1]}
	if c.Rank() == 0 {
		log.Infof("%d nodes and %d elements decomposed, shadows verified", rep.Nodes, rep.Elements)
	}
	if !l.hexahedral {
		if c.Rank() == 0 {
			log.Warnf("mesh has non-hexahedral elements, skipping the remesh")
		}
		return rep, nil
	}

	oldMesh, err := mesh.New(l.d, l.oldCoord)
	if err != nil {
		return nil, err
	}
	newMesh, err := mesh.New(l.d, l.newCoord)
	if err != nil {
		return nil, err
	}
	reg := spr.NewRegistry()
	if err := spr.RegisterPresets(reg, cfg.Remesh.Presets...); err != nil {
		return nil, err
	}
	old, err := spr.NewStore(reg, oldMesh)
	if err != nil {
		return nil, err
	}
	dst, err := spr.NewStore(reg, newMesh)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.Mesh.Box()
	mid := r3.Scale(0.5, r3.Add(lo, hi))
	if err := seed(ctx, old, mid); err != nil {
		return nil, err
	}

	r, err := spr.NewRemesher(reg, old)
	if err != nil {
		return nil, err
	}
	if err := r.Run(ctx, dst, cfg.Remesh.Tolerance); err != nil {
		return nil, err
	}
	rep.State = r.State()
	if rep.Externals, err = comm.AllreduceInt(ctx, c, len(r.Externals()), comm.Sum); err != nil {
		return nil, err
	}

	dev := deviations(dst, mid)
	names := make([]string, 0, len(dev))
	for name := range dev {
		names = append(names, name)
	}
	slices.Sort(names)
	local := make([]float64, len(names))
	for i, name := range names {
		local[i] = dev[name]
	}
	worst, err := allMax(ctx, c, local)
	if err != nil {
		return nil, err
	}
	rep.Deviation = make(map[string]float64, len(names))
	for i, name := range names {
		rep.Deviation[name] = worst[i]
	}
	if c.Rank() == 0 {
		log.Infof("remesh %v, %d new nodes outside the old mesh", rep.State, rep.Externals)
		for _, name := range names {
			log.Infof("  %-14s max |remeshed - initial| %.3g", name, rep.Deviation[name])
		}
	}
	return rep, nil
}
