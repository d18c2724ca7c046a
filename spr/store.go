package spr

import (
	"context"
	"fmt"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/mesh"
)

// Store holds the field values of one mesh's domain: one record of
// NodeStride float64s per domain node and ElementStride per domain element
type Store struct {
	reg  *Registry
	mesh *mesh.Mesh

	nodeStride, elemStride int
	nodes, elems           []float64
}

// NewStore allocates zeroed records for every domain entity of m and seals
// the registry. Every domain element must be a hexahedron.
func NewStore(reg *Registry, m *mesh.Mesh) (*Store, error) {
	for de, nodes := range m.ElementNodes {
		if len(nodes) != element.NodesPerElement {
			return nil, fmt.Errorf("element %d has %d nodes, remeshing needs hexahedra: %w",
				m.Elements().DomainToGlobal(de), len(nodes), decomp.ErrConfig)
		}
	}
	reg.sealed = true
	s := &Store{
		reg:        reg,
		mesh:       m,
		nodeStride: reg.NodeStride(),
		elemStride: reg.ElementStride(),
	}
	s.nodes = make([]float64, m.NodeDomainCount()*s.nodeStride)
	s.elems = make([]float64, m.ElementDomainCount()*s.elemStride)
	return s, nil
}

func (s *Store) Registry() *Registry { return s.reg }

func (s *Store) Mesh() *mesh.Mesh { return s.mesh }

func (s *Store) check(f *Field, kind EntityKind) {
	if !s.reg.owns(f) || f.kind != kind {
		panic(fmt.Sprintf("%v used as a %s field of this store", f, kind))
	}
}

// Node returns the components of f at a domain node
func (s *Store) Node(f *Field, dn int) []float64 {
	s.check(f, NodeKind)
	at := dn*s.nodeStride + f.offset
	return s.nodes[at : at+f.components : at+f.components]
}

// Tetra returns the components of f on one tetrahedron of a domain element
func (s *Store) Tetra(f *Field, de, tet int) []float64 {
	s.check(f, ElementKind)
	at := de*s.elemStride + f.offset + tet*f.components
	return s.elems[at : at+f.components : at+f.components]
}

// NodeArray views f over the node domain for exchange
func (s *Store) NodeArray(f *Field) decomp.Array {
	s.check(f, NodeKind)
	return decomp.Float64Array(s.nodes, s.nodeStride, f.offset, f.Width())
}

// ElementArray views f, every tetrahedron of it, over the element domain
func (s *Store) ElementArray(f *Field) decomp.Array {
	s.check(f, ElementKind)
	return decomp.Float64Array(s.elems, s.elemStride, f.offset, f.Width())
}

// SyncNodes refreshes the shadow nodes of the given fields, or of every
// node field when none are given. It is collective.
func (s *Store) SyncNodes(ctx context.Context, fields ...*Field) error {
	if len(fields) == 0 {
		fields = s.reg.Fields(NodeKind)
	}
	arrays := make([]decomp.Array, len(fields))
	for i, f := range fields {
		arrays[i] = s.NodeArray(f)
	}
	return syncArrays(ctx, s.mesh.Nodes(), arrays)
}

// SyncElements is SyncNodes for element fields
func (s *Store) SyncElements(ctx context.Context, fields ...*Field) error {
	if len(fields) == 0 {
		fields = s.reg.Fields(ElementKind)
	}
	arrays := make([]decomp.Array, len(fields))
	for i, f := range fields {
		arrays[i] = s.ElementArray(f)
	}
	return syncArrays(ctx, s.mesh.Elements(), arrays)
}

// syncArrays exchanges the arrays in one message per peer
func syncArrays(ctx context.Context, sync *decomp.Sync, arrays []decomp.Array) error {
	for i, a := range arrays {
		if err := sync.AddArray(a); err != nil {
			for _, b := range arrays[:i] {
				sync.RemoveArray(b)
			}
			return err
		}
	}
	defer func() {
		for _, a := range arrays {
			sync.RemoveArray(a)
		}
	}()
	return sync.SendRecv(ctx)
}
