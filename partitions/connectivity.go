package partitions

import (
	"fmt"
	"slices"

	"github.com/notargets/gocfd/DG3D/mesh"
	"github.com/notargets/gocfd/DG3D/mesh/readers"
	gocfdutils "github.com/notargets/gocfd/utils"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/utils"
)

// MeshConnectivity provides the mesh topology needed for partitioning
type MeshConnectivity struct {
	NumElements  int
	ElementTypes []element.Geometry
	EToV         [][]int // Element to corner vertices
	Vertices     []r3.Vec

	// EToP is the partitioning stored in the mesh file, if any
	EToP []int
}

// ReadMesh loads a mesh file through the gocfd readers. Only tetrahedral
// and hexahedral volume elements are accepted; higher order elements keep
// their corner vertices.
func ReadMesh(path string) (*MeshConnectivity, error) {
	m, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", path, err)
	}
	return FromMesh(m)
}

// FromMesh converts a gocfd mesh
func FromMesh(m *mesh.Mesh) (*MeshConnectivity, error) {
	mc := &MeshConnectivity{
		NumElements:  m.NumElements,
		ElementTypes: make([]element.Geometry, m.NumElements),
		EToV:         make([][]int, m.NumElements),
		Vertices:     make([]r3.Vec, len(m.Vertices)),
	}
	for i, v := range m.Vertices {
		if len(v) < 3 {
			return nil, fmt.Errorf("vertex %d has %d coordinates: %w", i, len(v), utils.ErrConfig)
		}
		mc.Vertices[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	for k := 0; k < m.NumElements; k++ {
		et := m.ElementTypes[k]
		if et.GetDimension() != 3 {
			return nil, fmt.Errorf("element %d is not 3D (type=%v): %w", k, et, utils.ErrConfig)
		}
		verts := m.EtoV[k]
		switch {
		case et == gocfdutils.Tet || et == gocfdutils.Tet10:
			mc.ElementTypes[k] = element.Tet
			verts = verts[:min(len(verts), element.Tet4.NVp)]
		case len(verts) >= element.Hex8.NVp:
			mc.ElementTypes[k] = element.Hex
			verts = verts[:element.Hex8.NVp]
		default:
			return nil, fmt.Errorf("element %d of type %v is neither tet nor hex: %w", k, et, utils.ErrConfig)
		}
		mc.EToV[k] = slices.Clone(verts)
	}
	if m.EToP != nil {
		mc.EToP = slices.Clone(m.EToP)
	}
	return mc, mc.Validate()
}

// BrickMesh builds the hexahedral mesh of a regular lattice with counts
// elements per axis spanning lo..hi. Vertex and element numbering are i
// fastest; corners follow c = x + 2y + 4z.
func BrickMesh(counts [3]int, lo, hi r3.Vec) *MeshConnectivity {
	nodes := utils.Grid3{counts[0] + 1, counts[1] + 1, counts[2] + 1}
	elems := utils.Grid3(counts)
	mc := &MeshConnectivity{
		NumElements:  elems.Len(),
		ElementTypes: make([]element.Geometry, elems.Len()),
		EToV:         make([][]int, elems.Len()),
	}
	for v := range element.Corners(lo, hi, nodes) {
		mc.Vertices = append(mc.Vertices, v)
	}
	for k := range mc.EToV {
		ijk := elems.IJK(k)
		mc.ElementTypes[k] = element.Hex
		mc.EToV[k] = make([]int, element.NodesPerElement)
		for c := range mc.EToV[k] {
			o := element.CornerOffset(c)
			mc.EToV[k][c] = nodes.Index([3]int{ijk[0] + o[0], ijk[1] + o[1], ijk[2] + o[2]})
		}
	}
	return mc
}

// Validate checks the element and vertex tables agree
func (mc *MeshConnectivity) Validate() error {
	if len(mc.EToV) != mc.NumElements {
		return fmt.Errorf("EToV has %d rows for %d elements: %w", len(mc.EToV), mc.NumElements, utils.ErrConfig)
	}
	for k, verts := range mc.EToV {
		for _, v := range verts {
			if v < 0 || v >= len(mc.Vertices) {
				return fmt.Errorf("element %d references vertex %d of %d: %w",
					k, v, len(mc.Vertices), utils.ErrConfig)
			}
		}
	}
	if mc.EToP != nil && len(mc.EToP) != mc.NumElements {
		return fmt.Errorf("EToP has %d entries for %d elements: %w", len(mc.EToP), mc.NumElements, utils.ErrConfig)
	}
	return nil
}

func (mc *MeshConnectivity) NumVertices() int { return len(mc.Vertices) }

// Centroid is the mean of an element's corner vertices
func (mc *MeshConnectivity) Centroid(k int) r3.Vec {
	pts := make([]r3.Vec, len(mc.EToV[k]))
	for c, v := range mc.EToV[k] {
		pts[c] = mc.Vertices[v]
	}
	return element.Centroid(pts...)
}

// VertexElements returns, for every vertex, the ascending list of elements
// that use it
func (mc *MeshConnectivity) VertexElements() [][]int {
	ve := make([][]int, len(mc.Vertices))
	for k, verts := range mc.EToV {
		for _, v := range verts {
			if n := len(ve[v]); n == 0 || ve[v][n-1] != k {
				ve[v] = append(ve[v], k)
			}
		}
	}
	return ve
}

// AdjacencyGraph connects every pair of elements sharing at least one
// vertex. Node IDs are element indices; every element is a node even if
// isolated.
func (mc *MeshConnectivity) AdjacencyGraph() *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for k := 0; k < mc.NumElements; k++ {
		g.AddNode(simple.Node(k))
	}
	for _, elems := range mc.VertexElements() {
		for a := 0; a < len(elems); a++ {
			for b := a + 1; b < len(elems); b++ {
				if !g.HasEdgeBetween(int64(elems[a]), int64(elems[b])) {
					g.SetEdge(g.NewEdge(simple.Node(elems[a]), simple.Node(elems[b])))
				}
			}
		}
	}
	return g
}
