package element

// Corner c of a hexahedron sits at offset (c&1, c>>1&1, c>>2&1) from its
// lowest corner, so c = x + 2y + 4z.
const (
	NodesPerElement = 8
	FacesPerElement = 6

	// TetrahedraCount is the number of tetrahedra per hexahedron: two
	// alternating five-tetrahedron subdivisions, A (0-4) and B (5-9)
	TetrahedraCount = 10
	// SubdivisionCount is the number of tetrahedra in one subdivision
	SubdivisionCount = 5
	// NodeElementTetrahedraCount is the number of tetrahedra of one
	// hexahedron that touch a given corner
	NodeElementTetrahedraCount = 5
)

// TetraToNode lists the element-local corners of each tetrahedron, oriented
// so an undistorted hexahedron gives positive volumes. Each subdivision has
// a central tetrahedron on one diagonal set of corners and four corner
// tetrahedra around it.
var TetraToNode = [TetrahedraCount][4]int{
	// subdivision A
	{0, 5, 3, 6},
	{1, 3, 0, 5},
	{2, 0, 3, 6},
	{4, 5, 0, 6},
	{7, 3, 5, 6},
	// subdivision B
	{1, 2, 4, 7},
	{0, 1, 2, 4},
	{3, 2, 1, 7},
	{5, 1, 4, 7},
	{6, 4, 2, 7},
}

// NodeToTetra[s] lists the tetrahedra of the element in node-incidence slot
// s that contain the node. The node is corner 7-s of that element.
var NodeToTetra = [NodesPerElement][NodeElementTetrahedraCount]int{
	{4, 5, 7, 8, 9},
	{0, 2, 3, 4, 9},
	{0, 1, 3, 4, 8},
	{3, 5, 6, 8, 9},
	{0, 1, 2, 4, 7},
	{2, 5, 6, 7, 9},
	{1, 5, 6, 7, 8},
	{0, 1, 2, 3, 6},
}

// FaceToNode lists the corners of the faces -x, +x, -y, +y, -z, +z, each
// as a cycle around the face
var FaceToNode = [FacesPerElement][4]int{
	{0, 4, 6, 2},
	{1, 3, 7, 5},
	{0, 1, 5, 4},
	{2, 6, 7, 3},
	{0, 2, 3, 1},
	{4, 5, 7, 6},
}

// CornerOffset returns the lattice offset of a corner
func CornerOffset(c int) [3]int {
	return [3]int{c & 1, c >> 1 & 1, c >> 2 & 1}
}

// SlotCorner is the corner a node occupies in the element of its incidence
// slot s
func SlotCorner(s int) int { return NodesPerElement - 1 - s }
