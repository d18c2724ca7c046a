package hexamd

import (
	"fmt"

	"github.com/notargets/snacdecomp/decomp"
)

type candidate struct {
	counts [3]int // clamped partition counts
}

func (c candidate) decomposed() int {
	n := 0
	for _, p := range c.counts {
		if p > 1 {
			n++
		}
	}
	return n
}

// surface is the boundary area proxy: the sum of the per-axis extents of a
// partition, in whole basis units
func (c candidate) surface(basis [3]int) int {
	s := 0
	for d := range basis {
		s += basis[d] / c.counts[d]
	}
	return s
}

func (c candidate) average(basis [3]int) float64 {
	a := 0.
	for d := range basis {
		a += float64(basis[d]) / float64(c.counts[d])
	}
	return a / 3
}

// choosePartition picks the partition counts per axis for nproc ranks over
// basis items per axis. Candidates are every factorization i*j*k = nproc,
// enumerated k, then j, then i; the first of the best survivors wins.
func choosePartition(basis [3]int, nproc int, cfg Config) ([3]int, error) {
	var cands []candidate
	for k := 1; k <= nproc; k++ {
		for j := 1; j <= nproc/k; j++ {
			for i := 1; i <= nproc/(k*j); i++ {
				if i*j*k != nproc {
					continue
				}
				raw := [3]int{i, j, k}

				// limit the order of decomposition
				split := 0
				eligible := true
				for d, p := range raw {
					if p > 1 {
						split++
						if !cfg.DecomposableAxes[d] {
							eligible = false
						}
					}
				}
				if !eligible || split > cfg.NumPartitionedDims {
					continue
				}

				// enough items to go around, and what is left over
				var c candidate
				residual := false
				product := 1
				for d, p := range raw {
					c.counts[d] = min(p, basis[d])
					if basis[d]%c.counts[d] != 0 {
						residual = true
					}
					product *= c.counts[d]
				}
				if residual && !cfg.AllowUnbalancing {
					continue
				}
				if product != nproc && !cfg.AllowUnusedCPUs {
					continue
				}
				cands = append(cands, c)
			}
		}
	}
	if len(cands) == 0 {
		return [3]int{}, fmt.Errorf("cannot decompose mesh of dimensions %v by %d processors allowing for up to %dD decomposition: %w",
			basis, nproc, cfg.NumPartitionedDims, decomp.ErrConfig)
	}

	// most decomposed axes
	highest := 0
	for _, c := range cands {
		highest = max(highest, c.decomposed())
	}
	cands = filter(cands, func(c candidate) bool { return c.decomposed() == highest })

	// lowest surface area proxy
	lowest := -1
	for _, c := range cands {
		if s := c.surface(basis); lowest < 0 || s < lowest {
			lowest = s
		}
	}
	cands = filter(cands, func(c candidate) bool { return c.surface(basis) == lowest })

	// most work per rank
	best := cands[0]
	for _, c := range cands[1:] {
		if c.average(basis) < best.average(basis) {
			best = c
		}
	}
	return best.counts, nil
}

func filter(cands []candidate, keep func(candidate) bool) []candidate {
	var out []candidate
	for _, c := range cands {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// axisOwner inverts utils.Split: the part holding item i when n items are
// split into count parts
func axisOwner(n, count, i int) int {
	div, rem := n/count, n%count
	big := rem * (div + 1)
	if i < big {
		return i / (div + 1)
	}
	return rem + (i-big)/div
}
