package spr

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/journal"
)

// State is the progress of a remesh
type State int

const (
	OldMeshState State = iota
	Recovered
	Interpolated
	Rederived
)

func (s State) String() string {
	switch s {
	case OldMeshState:
		return "OldMesh"
	case Recovered:
		return "Recovered"
	case Interpolated:
		return "Interpolated"
	case Rederived:
		return "Rederived"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Remesher carries field values from an old mesh to a regenerated one. The
// steps must run in order: Recover, Interpolate, Rederive.
type Remesher struct {
	reg   *Registry
	old   *Store
	dst   *Store
	state State

	externals []int
	log       *journal.Logger
}

func NewRemesher(reg *Registry, old *Store) (*Remesher, error) {
	if old.reg != reg {
		return nil, fmt.Errorf("old store built from another registry: %w", decomp.ErrConfig)
	}
	return &Remesher{
		reg: reg,
		old: old,
		log: old.mesh.Nodes().Logger(),
	}, nil
}

func (r *Remesher) State() State { return r.state }

// Externals lists, ascending, the global new nodes that fell outside the
// old domain and kept the nearest old node's values
func (r *Remesher) Externals() []int { return r.externals }

func (r *Remesher) expect(s State, step string) error {
	if r.state != s {
		return fmt.Errorf("%s in state %v, expected %v: %w", step, r.state, s, decomp.ErrConfig)
	}
	return nil
}

// Recover refreshes the old element shadows, recovers every local node of
// the old mesh for every rule and syncs the result so shadow nodes match
// their owners. It is collective; a rank that fails still takes part in
// the final sync.
func (r *Remesher) Recover(ctx context.Context) error {
	if err := r.expect(OldMeshState, "recover"); err != nil {
		return err
	}
	if err := r.old.SyncElements(ctx, r.reg.elementFields()...); err != nil {
		return err
	}
	var errs []error
	nl := r.old.mesh.NodeLocalCount()
	for _, rule := range r.reg.recoveries {
		for dn := 0; dn < nl; dn++ {
			v, err := RecoverNode(r.old, rule, dn, rule.SecondPatch)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			copy(r.old.Node(rule.Node, dn), v)
		}
	}
	if err := r.old.SyncNodes(ctx, r.recoveredFields()...); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.state = Recovered
	return nil
}

func (r *Remesher) recoveredFields() []*Field {
	var fs []*Field
	for _, rule := range r.reg.recoveries {
		fs = append(fs, rule.Node)
	}
	return fs
}

// Interpolate locates every local node of the new mesh in the old domain
// and interpolates the recovered and nodal fields onto it. Nodes outside
// the old domain copy the nearest old node. It is collective.
func (r *Remesher) Interpolate(ctx context.Context, dst *Store, tol float64) error {
	if err := r.expect(Recovered, "interpolate"); err != nil {
		return err
	}
	if dst.reg != r.reg {
		return fmt.Errorf("new store built from another registry: %w", decomp.ErrConfig)
	}
	loc := NewLocator(r.old.mesh, tol)
	fields := r.reg.nodeFields()
	nonNeg := make(map[*Field]bool)
	for _, rule := range r.reg.recoveries {
		nonNeg[rule.Node] = rule.NonNegative
	}
	for _, n := range r.reg.nodal {
		nonNeg[n.Field] = n.NonNegative
	}

	var errs []error
	r.externals = r.externals[:0]
	newNodes := dst.mesh.Nodes()
	for dn := 0; dn < dst.mesh.NodeLocalCount(); dn++ {
		p := dst.mesh.Coords[dn]
		at, ok := loc.Locate(p)
		if !ok {
			r.externals = append(r.externals, newNodes.DomainToGlobal(dn))
			if near := loc.Nearest(p); near >= 0 {
				for _, f := range fields {
					copy(dst.Node(f, dn), r.old.Node(f, near))
				}
			}
			continue
		}
		for _, f := range fields {
			out := dst.Node(f, dn)
			var vals [4]float64
			for k := range out {
				for i, cn := range at.Corners {
					vals[i] = r.old.Node(f, cn)[k]
				}
				v, err := InterpolateNode(at.Weights, vals)
				if err != nil {
					errs = append(errs, fmt.Errorf("new node %d: %w", newNodes.DomainToGlobal(dn), err))
					break
				}
				if nonNeg[f] {
					v = max(v, 0)
				}
				out[k] = v
			}
		}
	}
	slices.Sort(r.externals)
	if len(r.externals) > 0 {
		r.log.Warnf("%d new nodes outside the old mesh keep their nearest old values: %v",
			len(r.externals), r.externals)
	}
	if err := dst.SyncNodes(ctx, fields...); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.dst = dst
	r.state = Interpolated
	return nil
}

// Rederive sets every tetrahedron of every local new element from the
// recovered values at its corners, then syncs the element fields. It is
// collective.
func (r *Remesher) Rederive(ctx context.Context) error {
	if err := r.expect(Interpolated, "rederive"); err != nil {
		return err
	}
	m := r.dst.mesh
	for de := 0; de < m.ElementLocalCount(); de++ {
		for t := 0; t < element.TetrahedraCount; t++ {
			for _, rule := range r.reg.recoveries {
				out := r.dst.Tetra(rule.Element, de, t)
				var corners [4]float64
				for k := range out {
					for i, c := range element.TetraToNode[t] {
						corners[i] = r.dst.Node(rule.Node, m.ElementNodes[de][c])[k]
					}
					out[k] = rule.InterpolateElement(corners)
				}
			}
		}
	}
	if err := r.dst.SyncElements(ctx, r.reg.elementFields()...); err != nil {
		return err
	}
	r.state = Rederived
	return nil
}

// Run performs the three steps in order
func (r *Remesher) Run(ctx context.Context, dst *Store, tol float64) error {
	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if err := r.Interpolate(ctx, dst, tol); err != nil {
		return fmt.Errorf("interpolate: %w", err)
	}
	if err := r.Rederive(ctx); err != nil {
		return fmt.Errorf("rederive: %w", err)
	}
	return nil
}
