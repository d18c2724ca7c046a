// Package spr remeshes a hexahedral mesh by superconvergent patch recovery:
// per-tetrahedron element fields are recovered to nodes, nodal values are
// interpolated onto the regenerated mesh, and element fields are rederived
// from the new nodes.
package spr

import (
	"fmt"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
)

// EntityKind says whether a field lives on nodes or elements
type EntityKind int

const (
	NodeKind EntityKind = iota
	ElementKind
)

func (k EntityKind) String() string {
	switch k {
	case NodeKind:
		return "node"
	case ElementKind:
		return "element"
	}
	return fmt.Sprintf("EntityKind(%d)", int(k))
}

// Field describes one registered quantity. Element fields hold one value
// per component per tetrahedron.
type Field struct {
	kind       EntityKind
	name       string
	components int
	offset     int
}

func (f *Field) Kind() EntityKind { return f.kind }

func (f *Field) Name() string { return f.name }

func (f *Field) Components() int { return f.components }

// Offset is the position of the field within its entity record, in float64s
func (f *Field) Offset() int { return f.offset }

// Width is the number of float64s the field occupies in a record
func (f *Field) Width() int {
	if f.kind == ElementKind {
		return f.components * element.TetrahedraCount
	}
	return f.components
}

func (f *Field) String() string {
	return fmt.Sprintf("%s field %q[%d]", f.kind, f.name, f.components)
}

// RecoveryRule maps an element field onto the node field it is recovered to.
// Encode is applied to element values before fitting and Decode to the
// rederived element value; nil means identity.
type RecoveryRule struct {
	Element *Field
	Node    *Field

	NonNegative bool
	SecondPatch bool

	Encode func(float64) float64
	Decode func(float64) float64
}

func (r RecoveryRule) encode(v float64) float64 {
	if r.Encode == nil {
		return v
	}
	return r.Encode(v)
}

func (r RecoveryRule) decode(v float64) float64 {
	if r.Decode == nil {
		return v
	}
	return r.Decode(v)
}

// NodalRule names a node field interpolated directly onto the new mesh
type NodalRule struct {
	Field       *Field
	NonNegative bool
}

type fieldKey struct {
	kind EntityKind
	name string
}

// Registry is the set of fields and rules a remesh carries. It is sealed
// once a Store has been built from it.
type Registry struct {
	fields  map[fieldKey]*Field
	ordered [2][]*Field
	strides [2]int

	recoveries []RecoveryRule
	nodal      []NodalRule
	sealed     bool
}

func NewRegistry() *Registry {
	return &Registry{fields: make(map[fieldKey]*Field)}
}

// Register adds a field with the given number of components
func (r *Registry) Register(kind EntityKind, name string, components int) (*Field, error) {
	if r.sealed {
		return nil, fmt.Errorf("register %s field %q after a store was built: %w", kind, name, decomp.ErrConfig)
	}
	if kind != NodeKind && kind != ElementKind {
		return nil, fmt.Errorf("register field %q of %v: %w", name, kind, decomp.ErrConfig)
	}
	if components < 1 {
		return nil, fmt.Errorf("register %s field %q with %d components: %w", kind, name, components, decomp.ErrConfig)
	}
	key := fieldKey{kind, name}
	if _, dup := r.fields[key]; dup {
		return nil, fmt.Errorf("%s field %q already registered: %w", kind, name, decomp.ErrConfig)
	}
	f := &Field{kind: kind, name: name, components: components, offset: r.strides[kind]}
	r.fields[key] = f
	r.ordered[kind] = append(r.ordered[kind], f)
	r.strides[kind] += f.Width()
	return f, nil
}

// Field returns the named field, or nil
func (r *Registry) Field(kind EntityKind, name string) *Field {
	return r.fields[fieldKey{kind, name}]
}

// Fields lists the fields of one kind in registration order
func (r *Registry) Fields(kind EntityKind) []*Field { return r.ordered[kind] }

func (r *Registry) NodeStride() int { return r.strides[NodeKind] }

func (r *Registry) ElementStride() int { return r.strides[ElementKind] }

func (r *Registry) owns(f *Field) bool {
	return f != nil && r.fields[fieldKey{f.kind, f.name}] == f
}

func (r *Registry) AddRecovery(rule RecoveryRule) error {
	if !r.owns(rule.Element) || rule.Element.kind != ElementKind {
		return fmt.Errorf("recovery source %v is not an element field of this registry: %w", rule.Element, decomp.ErrConfig)
	}
	if !r.owns(rule.Node) || rule.Node.kind != NodeKind {
		return fmt.Errorf("recovery target %v is not a node field of this registry: %w", rule.Node, decomp.ErrConfig)
	}
	if rule.Element.components != rule.Node.components {
		return fmt.Errorf("recovery of %v into %v: %w", rule.Element, rule.Node, decomp.ErrConfig)
	}
	r.recoveries = append(r.recoveries, rule)
	return nil
}

func (r *Registry) AddNodal(f *Field, nonNegative bool) error {
	if !r.owns(f) || f.kind != NodeKind {
		return fmt.Errorf("nodal rule for %v: %w", f, decomp.ErrConfig)
	}
	r.nodal = append(r.nodal, NodalRule{Field: f, NonNegative: nonNegative})
	return nil
}

func (r *Registry) Recoveries() []RecoveryRule { return r.recoveries }

func (r *Registry) Nodals() []NodalRule { return r.nodal }

// nodeFields lists the node fields a remesh writes on the new mesh
func (r *Registry) nodeFields() []*Field {
	var fs []*Field
	for _, rule := range r.recoveries {
		fs = append(fs, rule.Node)
	}
	for _, n := range r.nodal {
		fs = append(fs, n.Field)
	}
	return fs
}

func (r *Registry) elementFields() []*Field {
	var fs []*Field
	for _, rule := range r.recoveries {
		fs = append(fs, rule.Element)
	}
	return fs
}
