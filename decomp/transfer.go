package decomp

import (
	"context"
	"errors"
	"fmt"

	"github.com/notargets/snacdecomp/comm"
)

// Transfer moves per-entity data from one decomposition to another, for
// instance from an old mesh's locals to the locals of a regenerated mesh
// whose ownership differs. Both decompositions must share a communicator.
type Transfer struct {
	src, dst *Decomp
	// Indexed by world rank, positional: record k sent from sendLocal[p][k]
	// on this rank lands in recvLocal[me][k] on rank p
	sendLocal [][]int
	recvLocal [][]int
}

func NewTransfer(src, dst *Decomp) *Transfer {
	return &Transfer{src: src, dst: dst}
}

// SetMapping builds the plan. mapping[l] is the destination global index of
// source local l, or Invalid to drop it. With owner nil the destination
// owners are looked up in a directory distributed over the ranks by g % P.
// A failed call leaves no plan behind.
func (t *Transfer) SetMapping(ctx context.Context, mapping []int, owner OwnerFunc) error {
	t.sendLocal, t.recvLocal = nil, nil
	c := t.src.c
	rank, size := c.Rank(), c.Size()
	if t.dst.c.Size() != size || t.dst.c.Rank() != rank {
		return fmt.Errorf("rank %d: transfer between different communicators: %w", rank, ErrConfig)
	}
	if len(mapping) != t.src.NumLocals() {
		return fmt.Errorf("rank %d: mapping of %d entries for %d locals: %w",
			rank, len(mapping), t.src.NumLocals(), ErrConfig)
	}

	var errs []error
	if owner == nil {
		dir, err := t.lookup(ctx, mapping)
		if err != nil {
			return err
		}
		owner = func(g int) int {
			if p, ok := dir[g]; ok {
				return p
			}
			return Invalid
		}
	}

	reqs := make([][]int, size)
	sendLocal := make([][]int, size)
	for l, g := range mapping {
		if g == Invalid {
			continue
		}
		if g < 0 {
			errs = append(errs, fmt.Errorf("rank %d: negative target %d of local %d: %w", rank, g, l, ErrConfig))
			continue
		}
		p := owner(g)
		if p < 0 || p >= size {
			errs = append(errs, fmt.Errorf("rank %d: no owner for target %d of local %d: %w", rank, g, l, ErrNegotiation))
			continue
		}
		reqs[p] = append(reqs[p], g)
		sendLocal[p] = append(sendLocal[p], l)
	}
	incoming, err := comm.AlltoallInts(ctx, c, reqs)
	if err != nil {
		return err
	}

	seen := make(map[int]int)
	recvLocal := make([][]int, size)
	for p, targets := range incoming {
		recvLocal[p] = make([]int, len(targets))
		for k, g := range targets {
			l := t.dst.GlobalToLocal(g)
			if l == t.dst.NumLocals() {
				errs = append(errs, fmt.Errorf("rank %d: target %d from rank %d is not local: %w", rank, g, p, ErrNegotiation))
				l = Invalid
			} else if from, dup := seen[g]; dup {
				errs = append(errs, fmt.Errorf("rank %d: target %d reached from ranks %d and %d: %w",
					rank, g, from, p, ErrNegotiation))
			}
			seen[g] = p
			recvLocal[p][k] = l
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	t.sendLocal, t.recvLocal = sendLocal, recvLocal
	return nil
}

// lookup resolves the destination owner of every mapped target through
// the directory ranks
func (t *Transfer) lookup(ctx context.Context, mapping []int) (map[int]int, error) {
	c := t.src.c
	rank, size := c.Rank(), c.Size()

	reg := make([][]int, size)
	for _, g := range t.dst.Locals() {
		reg[g%size] = append(reg[g%size], g)
	}
	registered, err := comm.AlltoallInts(ctx, c, reg)
	if err != nil {
		return nil, err
	}
	directory := make(map[int]int)
	for p, list := range registered {
		for _, g := range list {
			if _, ok := directory[g]; !ok {
				directory[g] = p
			}
		}
	}

	queries := make([][]int, size)
	for _, g := range mapping {
		if g >= 0 {
			queries[g%size] = append(queries[g%size], g)
		}
	}
	asked, err := comm.AlltoallInts(ctx, c, queries)
	if err != nil {
		return nil, err
	}
	answers := make([][]int, size)
	for p, list := range asked {
		answers[p] = make([]int, len(list))
		for k, g := range list {
			if o, ok := directory[g]; ok {
				answers[p][k] = o
			} else {
				answers[p][k] = Invalid
			}
		}
	}
	answered, err := comm.AlltoallInts(ctx, c, answers)
	if err != nil {
		return nil, err
	}

	owners := make(map[int]int)
	for p, list := range queries {
		if len(answered[p]) != len(list) {
			return nil, fmt.Errorf("rank %d: directory rank %d answered %d of %d queries: %w",
				rank, p, len(answered[p]), len(list), ErrNegotiation)
		}
		for k, g := range list {
			if answered[p][k] != Invalid {
				owners[g] = answered[p][k]
			}
		}
	}
	return owners, nil
}

// Execute copies records of from (indexed by source local) into to (indexed
// by destination local) following the plan
func (t *Transfer) Execute(ctx context.Context, from, to Array) error {
	c := t.src.c
	rank, size := c.Rank(), c.Size()
	if t.sendLocal == nil {
		return fmt.Errorf("rank %d: transfer executed before SetMapping: %w", rank, ErrConfig)
	}
	if from.ItemSize() != to.ItemSize() {
		return fmt.Errorf("rank %d: transfer from %d byte to %d byte records: %w",
			rank, from.ItemSize(), to.ItemSize(), ErrConfig)
	}
	if from.Len() < t.src.NumLocals() || to.Len() < t.dst.NumLocals() {
		return fmt.Errorf("rank %d: transfer arrays of %d and %d records for %d and %d locals: %w",
			rank, from.Len(), to.Len(), t.src.NumLocals(), t.dst.NumLocals(), ErrConfig)
	}
	n := from.ItemSize()

	buf := make([]byte, n)
	for k, l := range t.sendLocal[rank] {
		from.Pack(l, buf)
		if d := t.recvLocal[rank][k]; d != Invalid {
			to.Unpack(d, buf)
		}
	}

	out := make([][]byte, size)
	for p := 0; p < size; p++ {
		if p == rank {
			continue
		}
		out[p] = make([]byte, len(t.sendLocal[p])*n)
		for k, l := range t.sendLocal[p] {
			from.Pack(l, out[p][k*n:(k+1)*n])
		}
	}
	in, err := comm.Alltoall(ctx, c, out)
	if err != nil {
		return err
	}
	for p := 0; p < size; p++ {
		if p == rank {
			continue
		}
		if len(in[p]) != len(t.recvLocal[p])*n {
			return fmt.Errorf("rank %d: %d bytes from rank %d, expected %d records of %d bytes: %w",
				rank, len(in[p]), p, len(t.recvLocal[p]), n, ErrNegotiation)
		}
		for k, d := range t.recvLocal[p] {
			if d != Invalid {
				to.Unpack(d, in[p][k*n:(k+1)*n])
			}
		}
	}
	return nil
}
