package utils

import (
	"fmt"
	"iter"
)

// Grid3 is the extent of a structured 3D index space stored row-major:
// idx = i + Ni*j + Ni*Nj*k
type Grid3 [3]int

// Len is the number of points in the grid
func (g Grid3) Len() int { return g[0] * g[1] * g[2] }

func (g Grid3) Index(ijk [3]int) int {
	return ijk[0] + g[0]*(ijk[1]+g[1]*ijk[2])
}

func (g Grid3) IJK(idx int) [3]int {
	return [3]int{idx % g[0], (idx / g[0]) % g[1], idx / (g[0] * g[1])}
}

func (g Grid3) Contains(ijk [3]int) bool {
	for d := 0; d < 3; d++ {
		if ijk[d] < 0 || ijk[d] >= g[d] {
			return false
		}
	}
	return true
}

func (g Grid3) String() string {
	return fmt.Sprintf("%dx%dx%d", g[0], g[1], g[2])
}

// Box is the block of indices [Lo[d], Lo[d]+Count[d]) on each axis
type Box struct {
	Lo, Count [3]int
}

func (b Box) Len() int { return b.Count[0] * b.Count[1] * b.Count[2] }

func (b Box) Contains(ijk [3]int) bool {
	for d := 0; d < 3; d++ {
		if ijk[d] < b.Lo[d] || ijk[d] >= b.Lo[d]+b.Count[d] {
			return false
		}
	}
	return true
}

// All yields the box's points with i varying fastest, so points of a box
// spanning a whole grid come out in global index order
func (b Box) All() iter.Seq[[3]int] {
	return func(yield func([3]int) bool) {
		for k := b.Lo[2]; k < b.Lo[2]+b.Count[2]; k++ {
			for j := b.Lo[1]; j < b.Lo[1]+b.Count[1]; j++ {
				for i := b.Lo[0]; i < b.Lo[0]+b.Count[0]; i++ {
					if !yield([3]int{i, j, k}) {
						return
					}
				}
			}
		}
	}
}

// Product yields every combination of one value from each axis list, i
// fastest
func Product(axes [3][]int) iter.Seq[[3]int] {
	return func(yield func([3]int) bool) {
		for _, k := range axes[2] {
			for _, j := range axes[1] {
				for _, i := range axes[0] {
					if !yield([3]int{i, j, k}) {
						return
					}
				}
			}
		}
	}
}

// Split divides n items into count near-equal parts; the first n%count
// parts get one extra. It returns the offset and size of part p.
func Split(n, count, p int) (offset, size int) {
	div, rem := n/count, n%count
	offset = p*div + min(p, rem)
	size = div
	if p < rem {
		size++
	}
	return offset, size
}
