package decomp

import (
	"fmt"
	"slices"
	"sort"

	"github.com/notargets/snacdecomp/comm"
)

// Range is the half open interval [Begin, End)
type Range struct {
	Begin, End int
}

// RangeSet is a sorted list of disjoint, non-adjacent ranges. It is how a
// rank describes its owned global indices to the rest of the world.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet compresses indices into ranges. Duplicates count once.
func NewRangeSet(indices []int) RangeSet {
	if len(indices) == 0 {
		return RangeSet{}
	}
	v := slices.Clone(indices)
	slices.Sort(v)
	var rs []Range
	cur := Range{v[0], v[0] + 1}
	for _, g := range v[1:] {
		switch {
		case g < cur.End:
		case g == cur.End:
			cur.End++
		default:
			rs = append(rs, cur)
			cur = Range{g, g + 1}
		}
	}
	rs = append(rs, cur)
	return RangeSet{ranges: rs}
}

func (s RangeSet) Ranges() []Range { return s.ranges }

func (s RangeSet) NumRanges() int { return len(s.ranges) }

// Len is the number of indices covered
func (s RangeSet) Len() int {
	n := 0
	for _, r := range s.ranges {
		n += r.End - r.Begin
	}
	return n
}

func (s RangeSet) Contains(g int) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > g })
	return i < len(s.ranges) && s.ranges[i].Begin <= g
}

// Union merges two sets
func (s RangeSet) Union(o RangeSet) RangeSet {
	all := make([]Range, 0, len(s.ranges)+len(o.ranges))
	all = append(all, s.ranges...)
	all = append(all, o.ranges...)
	if len(all) == 0 {
		return RangeSet{}
	}
	slices.SortFunc(all, func(a, b Range) int { return a.Begin - b.Begin })
	out := []Range{all[0]}
	for _, r := range all[1:] {
		last := &out[len(out)-1]
		if r.Begin <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return RangeSet{ranges: out}
}

// Encode writes the ranges as begin, end pairs
func (s RangeSet) Encode() []byte {
	v := make([]int, 0, 2*len(s.ranges))
	for _, r := range s.ranges {
		v = append(v, r.Begin, r.End)
	}
	return comm.EncodeInts(v)
}

func DecodeRangeSet(buf []byte) (RangeSet, error) {
	v, err := comm.DecodeInts(buf)
	if err != nil {
		return RangeSet{}, err
	}
	if len(v)%2 != 0 {
		return RangeSet{}, fmt.Errorf("range set with %d bounds: %w", len(v), ErrNegotiation)
	}
	rs := make([]Range, len(v)/2)
	for i := range rs {
		rs[i] = Range{v[2*i], v[2*i+1]}
		if rs[i].Begin >= rs[i].End || (i > 0 && rs[i].Begin <= rs[i-1].End) {
			return RangeSet{}, fmt.Errorf("malformed range set %v: %w", v, ErrNegotiation)
		}
	}
	return RangeSet{ranges: rs}, nil
}
