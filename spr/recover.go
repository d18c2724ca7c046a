package spr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/mesh"
)

// sumTolerance bounds how far barycentric weights may stray from a
// partition of unity
const sumTolerance = 1e-8

// patchCentres returns the domain nodes whose patches feed the recovery at
// dn: dn itself, and on a structured mesh with secondPatch set, the interior
// node reached by stepping each boundary axis inward in I, J, K order. Axes
// with two or fewer nodes are never stepped. An inward node missing from
// the domain is a configuration error.
func patchCentres(m *mesh.Mesh, dn int, secondPatch bool) ([]int, error) {
	centres := []int{dn}
	if !secondPatch {
		return centres, nil
	}
	st, ok := m.Structured()
	if !ok {
		return centres, nil
	}
	nodes := m.Nodes()
	g := nodes.DomainToGlobal(dn)
	ijk, counts := st.NodeIJK(g), st.NodeGlobal3DCounts()
	boundary := false
	for d := range ijk {
		if counts[d] <= 2 {
			continue
		}
		switch ijk[d] {
		case 0:
			ijk[d]++
			boundary = true
		case counts[d] - 1:
			ijk[d]--
			boundary = true
		}
	}
	if !boundary {
		return centres, nil
	}
	inner := nodes.GlobalToDomain(st.NodeGlobalIndex(ijk))
	if inner >= nodes.DomainSize() {
		return nil, fmt.Errorf("second patch centre %v of node %d is outside the node domain: %w",
			ijk, g, decomp.ErrConfig)
	}
	return append(centres, inner), nil
}

// cornerOf returns which corner of domain element de is domain node dn
func cornerOf(m *mesh.Mesh, de, dn int) int {
	for c, n := range m.ElementNodes[de] {
		if n == dn {
			return c
		}
	}
	return -1
}

// RecoverNode fits a linear polynomial, centred on the node, to the encoded
// tetrahedron values of rule.Element over the patches of dn and returns its
// value at the node, one entry per component
func RecoverNode(s *Store, rule RecoveryRule, dn int, secondPatch bool) ([]float64, error) {
	m := s.mesh
	xN := m.Coords[dn]
	comps := rule.Element.components

	A := mat.NewDense(4, 4, nil)
	b := make([]*mat.VecDense, comps)
	for k := range b {
		b[k] = mat.NewVecDense(4, nil)
	}
	var p [4]float64
	centres, err := patchCentres(m, dn, secondPatch)
	if err != nil {
		return nil, err
	}
	samples := 0
	for _, centre := range centres {
		for slot, de := range m.NodeElements[centre] {
			if de >= m.ElementDomainCount() {
				gc := m.Nodes().DomainToGlobal(centre)
				if ge := m.Decomp.NodeElements(gc)[slot]; ge != decomp.Invalid {
					return nil, fmt.Errorf("element %d around node %d is outside the element domain: %w",
						ge, gc, decomp.ErrConfig)
				}
				continue
			}
			c := cornerOf(m, de, centre)
			if c < 0 {
				return nil, fmt.Errorf("node %d is not a corner of its element %d: %w",
					m.Nodes().DomainToGlobal(centre), m.Elements().DomainToGlobal(de), decomp.ErrConfig)
			}
			hex := m.HexCorners(de)
			for _, t := range element.NodeToTetra[element.SlotCorner(c)] {
				tet := element.TetVertices(hex, t)
				d := r3.Sub(element.Centroid(tet[:]...), xN)
				p = [4]float64{1, d.X, d.Y, d.Z}
				vals := s.Tetra(rule.Element, de, t)
				for i := 0; i < 4; i++ {
					for j := 0; j < 4; j++ {
						A.Set(i, j, A.At(i, j)+p[i]*p[j])
					}
					for k := range b {
						b[k].SetVec(i, b[k].AtVec(i)+p[i]*rule.encode(vals[k]))
					}
				}
				samples++
			}
		}
	}

	g := m.Nodes().DomainToGlobal(dn)
	if samples < 4 {
		return nil, fmt.Errorf("node %d: %d samples cannot fit a linear patch: %w", g, samples, decomp.ErrNumerical)
	}
	var lu mat.LU
	lu.Factorize(A)
	if cond := lu.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > mat.ConditionTolerance {
		return nil, fmt.Errorf("node %d: patch system condition %g: %w", g, cond, decomp.ErrNumerical)
	}
	out := make([]float64, comps)
	var a mat.VecDense
	for k := range b {
		if err := lu.SolveVecTo(&a, false, b[k]); err != nil {
			return nil, fmt.Errorf("node %d: %v: %w", g, err, decomp.ErrNumerical)
		}
		v := a.AtVec(0)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("node %d: recovered %s[%d] is %g: %w", g, rule.Node.name, k, v, decomp.ErrNumerical)
		}
		if rule.NonNegative {
			v = max(v, 0)
		}
		out[k] = v
	}
	return out, nil
}

// InterpolateNode combines four corner values with barycentric weights
func InterpolateNode(weights, values [4]float64) (float64, error) {
	if sum := floats.Sum(weights[:]); math.Abs(sum-1) > sumTolerance || math.IsNaN(sum) {
		return 0, fmt.Errorf("weights %v sum to %g: %w", weights, sum, decomp.ErrNumerical)
	}
	return floats.Dot(weights[:], values[:]), nil
}

// InterpolateElement is the tetrahedron value rederived from its four
// corner values
func (r RecoveryRule) InterpolateElement(corners [4]float64) float64 {
	return r.decode(0.25 * floats.Sum(corners[:]))
}
