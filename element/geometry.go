package element

import (
	"iter"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Centroid is the mean of the points
func Centroid(pts ...r3.Vec) r3.Vec {
	var c r3.Vec
	for _, p := range pts {
		c = r3.Add(c, p)
	}
	return r3.Scale(1/float64(len(pts)), c)
}

// TetVolume is the signed volume, positive when (b-a, c-a, d-a) is right
// handed
func TetVolume(a, b, c, d r3.Vec) float64 {
	return r3.Dot(r3.Sub(b, a), r3.Cross(r3.Sub(c, a), r3.Sub(d, a))) / 6
}

// TetVertices gathers the vertices of tetrahedron t of a hexahedron
func TetVertices(hex [NodesPerElement]r3.Vec, t int) [4]r3.Vec {
	var v [4]r3.Vec
	for i, c := range TetraToNode[t] {
		v[i] = hex[c]
	}
	return v
}

// Barycentric returns the weights of p with respect to the tetrahedron's
// vertices. They sum to one; a degenerate tetrahedron gives NaN weights.
func Barycentric(tet [4]r3.Vec, p r3.Vec) [4]float64 {
	vol := TetVolume(tet[0], tet[1], tet[2], tet[3])
	if vol == 0 {
		return [4]float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	}
	var w [4]float64
	for i := range w {
		sub := tet
		sub[i] = p
		w[i] = TetVolume(sub[0], sub[1], sub[2], sub[3]) / vol
	}
	return w
}

// FindTetBarycenter searches the tetrahedra of subdivision A for one
// containing p, counting points within tol outside a face as inside. It
// returns the tetrahedron and the barycentric weights of p.
func FindTetBarycenter(hex [NodesPerElement]r3.Vec, p r3.Vec, tol float64) (tet int, w [4]float64, ok bool) {
	for t := 0; t < SubdivisionCount; t++ {
		w = Barycentric(TetVertices(hex, t), p)
		inside := true
		for _, wi := range w {
			if !(wi >= -tol) {
				inside = false
				break
			}
		}
		if inside {
			return t, w, true
		}
	}
	return -1, w, false
}

// Corners yields the points of a regular lattice of dims[d] points per axis
// spanning [lo, hi], i fastest. An axis with one point sits at lo.
func Corners(lo, hi r3.Vec, dims [3]int) iter.Seq[r3.Vec] {
	return func(yield func(r3.Vec) bool) {
		step := func(a, b float64, n int) float64 {
			if n < 2 {
				return 0
			}
			return (b - a) / float64(n-1)
		}
		dx := step(lo.X, hi.X, dims[0])
		dy := step(lo.Y, hi.Y, dims[1])
		dz := step(lo.Z, hi.Z, dims[2])
		for k := 0; k < dims[2]; k++ {
			for j := 0; j < dims[1]; j++ {
				for i := 0; i < dims[0]; i++ {
					p := r3.Vec{
						X: lo.X + float64(i)*dx,
						Y: lo.Y + float64(j)*dy,
						Z: lo.Z + float64(k)*dz,
					}
					if !yield(p) {
						return
					}
				}
			}
		}
	}
}
