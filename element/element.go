// Package element holds the fixed topology of the trilinear hexahedron used
// by the structured mesh and its split into linear tetrahedra, along with
// the small geometric kernels the remesher evaluates on them.
package element

import "fmt"

// Dimensionality represents the spatial dimension of an element
type Dimensionality uint8

const (
	D0 Dimensionality = iota // points
	D1                       // lines, edges
	D2                       // triangles, quadrilaterals
	D3                       // tetrahedra, hexahedra
)

type Geometry uint8

const (
	Tet Geometry = iota
	Hex
)

func (g Geometry) String() string {
	switch g {
	case Tet:
		return "Tet"
	case Hex:
		return "Hex"
	}
	return fmt.Sprintf("Geometry(%d)", uint8(g))
}

// Properties contains metadata describing an element type
type Properties struct {
	Name       string   // Full descriptive name
	ShortName  string   // Abbreviated name (e.g., "Hex8")
	Type       Geometry // Element shape
	NVp        int      // Number of vertex nodes
	NFaces     int      // Number of faces
	NEdges     int      // Number of edges
	NSub       int      // Number of linear tetrahedra the element is split into
	Dimensions Dimensionality
}

var (
	Hex8 = Properties{
		Name:       "Trilinear Hexahedron",
		ShortName:  "Hex8",
		Type:       Hex,
		NVp:        NodesPerElement,
		NFaces:     FacesPerElement,
		NEdges:     12,
		NSub:       TetrahedraCount,
		Dimensions: D3,
	}
	Tet4 = Properties{
		Name:       "Linear Tetrahedron",
		ShortName:  "Tet4",
		Type:       Tet,
		NVp:        4,
		NFaces:     4,
		NEdges:     6,
		NSub:       1,
		Dimensions: D3,
	}
)

func (p Properties) String() string {
	return fmt.Sprintf("%s (%s): %d vertices, %d faces, %d edges, %d sub-tetrahedra",
		p.Name, p.ShortName, p.NVp, p.NFaces, p.NEdges, p.NSub)
}
