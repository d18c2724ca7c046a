// Package decomp maps entity indices between the global, local, shadow and
// domain index spaces of a distributed mesh, negotiates which rank owns each
// shadow, and exchanges shadow data every timestep.
//
// Every rank holds a Decomp describing the global indices it owns (locals)
// and, through Sync, the indices it needs but does not own (shadows). The
// domain space lists locals first and shadows after them, so a domain array
// is a local array with ghost records appended.
package decomp

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/journal"
)

// Status describes the union of all ranks' locals
type Status int

const (
	Complete Status = 0
	// Incomplete means some index below the largest owned index has no owner
	Incomplete Status = 1 << iota
	// Overlapping means some index is owned by more than one rank
	Overlapping
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case Overlapping:
		return "overlapping"
	case Incomplete | Overlapping:
		return "incomplete|overlapping"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Decomp is one rank's share of a set of global indices
type Decomp struct {
	c          comm.Comm
	log        *journal.Logger
	locals     []int
	localIndex map[int]int
	numGlobals int
	status     Status
}

func New(c comm.Comm) *Decomp {
	return &Decomp{
		c:          c,
		log:        RankLogger(c),
		localIndex: make(map[int]int),
	}
}

// RankLogger returns the default logger prefixed with "rank r/n: "
func RankLogger(c comm.Comm) *journal.Logger {
	return journal.Default().WithPrefix(fmt.Sprintf("rank %d/%d: ", c.Rank(), c.Size()))
}

func (d *Decomp) Comm() comm.Comm { return d.c }

func (d *Decomp) Logger() *journal.Logger { return d.log }

// SetLocals declares the global indices this rank owns, in local order. It
// is collective: every rank's set is gathered so NumGlobals and Status
// describe the whole decomposition.
func (d *Decomp) SetLocals(ctx context.Context, globals []int) error {
	index := make(map[int]int, len(globals))
	for l, g := range globals {
		if g < 0 {
			return fmt.Errorf("rank %d: negative global index %d at local %d: %w", d.c.Rank(), g, l, ErrConfig)
		}
		if prev, dup := index[g]; dup {
			return fmt.Errorf("rank %d: global index %d repeated at locals %d and %d: %w",
				d.c.Rank(), g, prev, l, ErrConfig)
		}
		index[g] = l
	}
	d.locals = slices.Clone(globals)
	d.localIndex = index

	mine := NewRangeSet(globals)
	all, err := comm.Allgather(ctx, d.c, mine.Encode())
	if err != nil {
		return err
	}
	var union RangeSet
	sum := 0
	for p, buf := range all {
		rs, err := DecodeRangeSet(buf)
		if err != nil {
			return fmt.Errorf("rank %d: locals of rank %d: %w", d.c.Rank(), p, err)
		}
		sum += rs.Len()
		union = union.Union(rs)
	}
	d.numGlobals = union.Len()
	d.status = Complete
	if union.NumRanges() > 1 || (union.NumRanges() == 1 && union.Ranges()[0].Begin != 0) {
		d.status |= Incomplete
	}
	if sum != d.numGlobals {
		d.status |= Overlapping
		if d.c.Rank() == 0 {
			d.log.Warnf("%d indices are owned by more than one rank", sum-d.numGlobals)
		}
	}
	d.log.Debugf("%d locals in %d ranges, %d globals, %v", len(globals), mine.NumRanges(), d.numGlobals, d.status)
	return nil
}

func (d *Decomp) Status() Status { return d.status }

// NumGlobals is the number of distinct indices owned by any rank
func (d *Decomp) NumGlobals() int { return d.numGlobals }

func (d *Decomp) NumLocals() int { return len(d.locals) }

// Locals returns the owned global indices in local order
func (d *Decomp) Locals() []int { return d.locals }

func (d *Decomp) IsLocal(g int) bool {
	_, ok := d.localIndex[g]
	return ok
}

func (d *Decomp) LocalToGlobal(l int) int {
	if l < 0 || l >= len(d.locals) {
		return Invalid
	}
	return d.locals[l]
}

// GlobalToLocal returns NumLocals() when g is not owned here
func (d *Decomp) GlobalToLocal(g int) int {
	if l, ok := d.localIndex[g]; ok {
		return l
	}
	return len(d.locals)
}
