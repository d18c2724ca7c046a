package spr

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/mesh"
)

// nodePoint is a domain node of the old mesh stored in the k-d tree
type nodePoint struct {
	r3.Vec
	dn int
}

func coord(v r3.Vec, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	panic("illegal dimension")
}

func (p nodePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return coord(p.Vec, d) - coord(c.(nodePoint).Vec, d)
}

func (p nodePoint) Dims() int { return 3 }

func (p nodePoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(nodePoint).Vec))
}

type nodePoints []nodePoint

func (p nodePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p nodePoints) Len() int                              { return len(p) }
func (p nodePoints) Pivot(d kdtree.Dim) int                { return nodePlane{nodePoints: p, Dim: d}.Pivot() }
func (p nodePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type nodePlane struct {
	kdtree.Dim
	nodePoints
}

func (p nodePlane) Less(i, j int) bool {
	return coord(p.nodePoints[i].Vec, p.Dim) < coord(p.nodePoints[j].Vec, p.Dim)
}
func (p nodePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p nodePlane) Slice(start, end int) kdtree.SortSlicer {
	p.nodePoints = p.nodePoints[start:end]
	return p
}
func (p nodePlane) Swap(i, j int) {
	p.nodePoints[i], p.nodePoints[j] = p.nodePoints[j], p.nodePoints[i]
}

// Location is where a point falls in the old mesh: a domain element, the
// tetrahedron of it containing the point, that tetrahedron's domain nodes
// and the point's barycentric weights
type Location struct {
	Element int
	Tet     int
	Corners [4]int
	Weights [4]float64
}

// Locator finds points of the new mesh in the old mesh's domain
type Locator struct {
	m    *mesh.Mesh
	tree *kdtree.Tree
	tol  float64
}

// NewLocator indexes the domain nodes of m. tol widens tetrahedra so points
// on shared faces are found despite rounding.
func NewLocator(m *mesh.Mesh, tol float64) *Locator {
	pts := make(nodePoints, len(m.Coords))
	for dn, c := range m.Coords {
		pts[dn] = nodePoint{Vec: c, dn: dn}
	}
	l := &Locator{m: m, tol: tol}
	if len(pts) > 0 {
		l.tree = kdtree.New(pts, false)
	}
	return l
}

// Nearest returns the domain node closest to p, or -1 on an empty mesh
func (l *Locator) Nearest(p r3.Vec) int {
	if l.tree == nil {
		return -1
	}
	c, _ := l.tree.Nearest(nodePoint{Vec: p})
	return c.(nodePoint).dn
}

// Locate searches the domain elements around the node nearest p for one
// containing it
func (l *Locator) Locate(p r3.Vec) (Location, bool) {
	dn := l.Nearest(p)
	if dn < 0 {
		return Location{}, false
	}
	for _, de := range l.m.NodeElements[dn] {
		if de >= l.m.ElementDomainCount() {
			continue
		}
		t, w, ok := element.FindTetBarycenter(l.m.HexCorners(de), p, l.tol)
		if !ok {
			continue
		}
		loc := Location{Element: de, Tet: t, Weights: w}
		for i, c := range element.TetraToNode[t] {
			loc.Corners[i] = l.m.ElementNodes[de][c]
		}
		return loc, true
	}
	return Location{}, false
}
