// Package mesh assembles the domain-indexed view of a decomposed mesh that
// numerical code works on: node coordinates and element/node adjacency in
// domain indices, built from any Decomposition.
package mesh

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/utils"
)

// Decomposition is a distributed mesh layout: node and element index
// spaces plus global adjacency. NodeElements lists are positional; absent
// neighbours are decomp.Invalid.
type Decomposition interface {
	Nodes() *decomp.Sync
	Elements() *decomp.Sync
	ElementNodes(g int) []int
	NodeElements(g int) []int
}

// Structured is implemented by decompositions of a logically rectangular
// node lattice
type Structured interface {
	NodeGlobal3DCounts() [3]int
	NodeIJK(g int) [3]int
	NodeGlobalIndex(ijk [3]int) int
}

// Mesh holds the geometry and adjacency of one rank's domain
type Mesh struct {
	Decomp Decomposition

	// Coords of every domain node
	Coords []r3.Vec
	// ElementNodes maps a domain element to its domain nodes
	ElementNodes [][]int
	// NodeElements maps a domain node to its incident elements by slot;
	// ElementDomainCount() marks a slot with no element in the domain
	NodeElements [][]int
}

// New builds the domain view of d. coord gives the position of a global node.
func New(d Decomposition, coord func(g int) r3.Vec) (*Mesh, error) {
	nodes, elems := d.Nodes(), d.Elements()
	m := &Mesh{
		Decomp:       d,
		Coords:       make([]r3.Vec, nodes.DomainSize()),
		ElementNodes: make([][]int, elems.DomainSize()),
		NodeElements: make([][]int, nodes.DomainSize()),
	}
	for dn := range m.Coords {
		m.Coords[dn] = coord(nodes.DomainToGlobal(dn))
	}
	for de := range m.ElementNodes {
		ge := elems.DomainToGlobal(de)
		gn := d.ElementNodes(ge)
		m.ElementNodes[de] = make([]int, len(gn))
		for c, g := range gn {
			dn := nodes.GlobalToDomain(g)
			if dn == nodes.DomainSize() {
				return nil, fmt.Errorf("node %d of domain element %d is outside the node domain: %w",
					g, ge, decomp.ErrConfig)
			}
			m.ElementNodes[de][c] = dn
		}
	}
	for dn := range m.NodeElements {
		ge := d.NodeElements(nodes.DomainToGlobal(dn))
		m.NodeElements[dn] = make([]int, len(ge))
		for s, g := range ge {
			if g == decomp.Invalid {
				m.NodeElements[dn][s] = elems.DomainSize()
				continue
			}
			m.NodeElements[dn][s] = elems.GlobalToDomain(g)
		}
	}
	return m, nil
}

func (m *Mesh) Nodes() *decomp.Sync { return m.Decomp.Nodes() }

func (m *Mesh) Elements() *decomp.Sync { return m.Decomp.Elements() }

func (m *Mesh) NodeDomainCount() int { return len(m.Coords) }

func (m *Mesh) ElementDomainCount() int { return len(m.ElementNodes) }

func (m *Mesh) NodeLocalCount() int { return m.Decomp.Nodes().NumLocals() }

func (m *Mesh) ElementLocalCount() int { return m.Decomp.Elements().NumLocals() }

// NodeElementCount is the number of a node's incident elements present in
// the element domain
func (m *Mesh) NodeElementCount(dn int) int {
	n := 0
	for _, de := range m.NodeElements[dn] {
		if de < m.ElementDomainCount() {
			n++
		}
	}
	return n
}

// Structured returns the lattice view when the decomposition has one
func (m *Mesh) Structured() (Structured, bool) {
	s, ok := m.Decomp.(Structured)
	return s, ok
}

// HexCorners returns the corner coordinates of a hexahedral domain element
func (m *Mesh) HexCorners(de int) [element.NodesPerElement]r3.Vec {
	var hex [element.NodesPerElement]r3.Vec
	for c, dn := range m.ElementNodes[de] {
		hex[c] = m.Coords[dn]
	}
	return hex
}

// RegularCoords places the nodes of a counts[0] x counts[1] x counts[2]
// lattice uniformly in the box [lo, hi]
func RegularCoords(lo, hi r3.Vec, counts [3]int) func(g int) r3.Vec {
	pts := slices.Collect(element.Corners(lo, hi, counts))
	return func(g int) r3.Vec { return pts[g] }
}

// PerturbedCoords jitters the interior nodes of a counts lattice placed by
// base by up to amount times spacing along each axis. Nodes keep their
// coordinate along any axis on which they lie on the boundary. The offset
// of a node depends only on seed and its global index.
func PerturbedCoords(base func(g int) r3.Vec, counts [3]int, spacing r3.Vec, amount float64, seed uint64) func(g int) r3.Vec {
	grid := utils.Grid3(counts)
	h := [3]float64{spacing.X, spacing.Y, spacing.Z}
	return func(g int) r3.Vec {
		ijk := grid.IJK(g)
		rng := rand.New(rand.NewPCG(seed, uint64(g)))
		var d [3]float64
		for a := range d {
			u := rng.Float64()
			if ijk[a] > 0 && ijk[a] < counts[a]-1 {
				d[a] = (2*u - 1) * amount * h[a]
			}
		}
		return r3.Add(base(g), r3.Vec{X: d[0], Y: d[1], Z: d[2]})
	}
}
