package decomp

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/topology"
)

// OwnerFunc names the rank owning global index g. Decompositions with an
// analytic layout pass one to skip the world-wide remote search.
type OwnerFunc func(g int) int

// Sync extends a Decomp with shadows: remote indices this rank needs, the
// peers that own them, and the registered arrays whose shadow records are
// refreshed by SendRecv.
type Sync struct {
	*Decomp
	top *topology.Topology

	remotes     []int
	shadowIndex map[int]int
	owners      []int

	// Indexed like top.Incidence(); globals ascending in each list
	sources      [][]int
	sinks        [][]int
	sourceShadow [][]int
	sinkLocal    [][]int

	arrays []Array

	sharedDomain []int
	sharedIndex  map[int]int
	sharers      [][]int
}

func NewSync(d *Decomp) *Sync {
	return &Sync{
		Decomp:      d,
		top:         topology.New(d.c),
		shadowIndex: make(map[int]int),
		sharedIndex: make(map[int]int),
	}
}

// SetRemotes declares the global indices this rank needs from other ranks
// and negotiates the exchange lists. It is collective. With owner nil the
// owners are found by a world-wide search in which the lowest owning rank
// wins.
func (s *Sync) SetRemotes(ctx context.Context, globals []int, owner OwnerFunc) error {
	rank := s.c.Rank()
	remotes := slices.Clone(globals)
	slices.Sort(remotes)
	remotes = slices.Compact(remotes)
	for _, g := range remotes {
		if g < 0 {
			return fmt.Errorf("rank %d: negative remote index %d: %w", rank, g, ErrConfig)
		}
		if s.IsLocal(g) {
			return fmt.Errorf("rank %d: remote index %d is local: %w", rank, g, ErrConfig)
		}
	}

	var (
		owners []int
		sinks  [][]int
		err    error
	)
	if owner != nil {
		owners, sinks, err = s.negotiateWithOwner(ctx, remotes, owner)
	} else {
		owners, sinks, err = s.searchOwners(ctx, remotes)
	}
	if err != nil {
		return err
	}

	s.remotes = remotes
	s.owners = owners
	s.shadowIndex = make(map[int]int, len(remotes))
	for i, g := range remotes {
		s.shadowIndex[g] = i
	}
	return s.buildLists(owners, sinks)
}

// negotiateWithOwner sends each request straight to its owner, then has
// the owner confirm every request over the resulting topology
func (s *Sync) negotiateWithOwner(ctx context.Context, remotes []int, owner OwnerFunc) ([]int, [][]int, error) {
	rank, size := s.c.Rank(), s.c.Size()
	var errs []error
	owners := make([]int, len(remotes))
	reqs := make([][]int, size)
	for i, g := range remotes {
		p := owner(g)
		owners[i] = p
		if p < 0 || p >= size || p == rank {
			errs = append(errs, fmt.Errorf("rank %d: owner of remote %d is rank %d: %w", rank, g, p, ErrNegotiation))
			continue
		}
		reqs[p] = append(reqs[p], g)
	}
	incoming, err := comm.AlltoallInts(ctx, s.c, reqs)
	if err != nil {
		return nil, nil, err
	}

	var peers []int
	for p := 0; p < size; p++ {
		if p != rank && (len(reqs[p]) > 0 || len(incoming[p]) > 0) {
			peers = append(peers, p)
		}
	}
	if err := s.top.SetIncidence(peers); err != nil {
		return nil, nil, err
	}

	flags := make([][]int, len(peers))
	for i, p := range peers {
		flags[i] = make([]int, len(incoming[p]))
		for j, g := range incoming[p] {
			if s.IsLocal(g) {
				flags[i][j] = 1
			} else {
				errs = append(errs, fmt.Errorf("rank %d: rank %d requested %d which is not local: %w",
					rank, p, g, ErrNegotiation))
			}
		}
	}
	found, err := s.top.AlltoallInts(ctx, flags)
	if err != nil {
		return nil, nil, err
	}
	for i, p := range peers {
		if len(found[i]) != len(reqs[p]) {
			errs = append(errs, fmt.Errorf("rank %d: rank %d answered %d of %d requests: %w",
				rank, p, len(found[i]), len(reqs[p]), ErrNegotiation))
			continue
		}
		for j, ok := range found[i] {
			if ok == 0 {
				errs = append(errs, fmt.Errorf("rank %d: remote %d not found on rank %d: %w",
					rank, reqs[p][j], p, ErrNegotiation))
			}
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return owners, incoming, nil
}

// searchOwners broadcasts every rank's remote list, collects the offers of
// owning ranks and settles each index on the lowest one
func (s *Sync) searchOwners(ctx context.Context, remotes []int) ([]int, [][]int, error) {
	rank, size := s.c.Rank(), s.c.Size()
	wanted, err := comm.AllgatherInts(ctx, s.c, remotes)
	if err != nil {
		return nil, nil, err
	}
	offers := make([][]int, size)
	for p, list := range wanted {
		if p == rank {
			continue
		}
		for _, g := range list {
			if s.IsLocal(g) {
				offers[p] = append(offers[p], g)
			}
		}
	}
	offered, err := comm.AlltoallInts(ctx, s.c, offers)
	if err != nil {
		return nil, nil, err
	}

	chosen := make(map[int]int, len(remotes))
	for p := 0; p < size; p++ {
		for _, g := range offered[p] {
			if _, ok := chosen[g]; !ok {
				chosen[g] = p
			}
		}
	}
	var errs []error
	owners := make([]int, len(remotes))
	reqs := make([][]int, size)
	for i, g := range remotes {
		p, ok := chosen[g]
		if !ok {
			owners[i] = Invalid
			errs = append(errs, fmt.Errorf("rank %d: no rank owns remote %d: %w", rank, g, ErrNegotiation))
			continue
		}
		owners[i] = p
		reqs[p] = append(reqs[p], g)
	}
	incoming, err := comm.AlltoallInts(ctx, s.c, reqs)
	if err != nil {
		return nil, nil, err
	}

	var peers []int
	for p := 0; p < size; p++ {
		if p != rank && (len(reqs[p]) > 0 || len(incoming[p]) > 0) {
			peers = append(peers, p)
		}
	}
	if err := s.top.SetIncidence(peers); err != nil {
		return nil, nil, err
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return owners, incoming, nil
}

// buildLists lays out sources and sinks per incident peer. sinks is indexed
// by world rank.
func (s *Sync) buildLists(owners []int, sinks [][]int) error {
	peers := s.top.Incidence()
	s.sources = make([][]int, len(peers))
	s.sourceShadow = make([][]int, len(peers))
	s.sinks = make([][]int, len(peers))
	s.sinkLocal = make([][]int, len(peers))
	for sh, p := range owners {
		i, ok := s.top.PeerIndex(p)
		if !ok {
			return fmt.Errorf("rank %d: owner %d of shadow %d is not incident: %w", s.c.Rank(), p, sh, ErrNegotiation)
		}
		s.sources[i] = append(s.sources[i], s.remotes[sh])
		s.sourceShadow[i] = append(s.sourceShadow[i], sh)
	}
	for i, p := range peers {
		s.sinks[i] = sinks[p]
		s.sinkLocal[i] = make([]int, len(sinks[p]))
		for j, g := range sinks[p] {
			s.sinkLocal[i][j] = s.GlobalToLocal(g)
		}
	}
	s.log.Debugf("%d shadows from %d peers", len(s.remotes), len(peers))
	return nil
}

// Decompose derives ownership from the indices each rank requires: an index
// is local to the lowest rank requiring it and a shadow everywhere else.
// Indices required by more than one rank are recorded as shared.
func (s *Sync) Decompose(ctx context.Context, required []int) error {
	rank := s.c.Rank()
	req := slices.Clone(required)
	slices.Sort(req)
	req = slices.Compact(req)
	all, err := comm.AllgatherInts(ctx, s.c, req)
	if err != nil {
		return err
	}
	mine := make(map[int]bool, len(req))
	for _, g := range req {
		mine[g] = true
	}
	// ranks requiring each of my indices, ascending
	requiredBy := make(map[int][]int, len(req))
	for p, list := range all {
		for _, g := range list {
			if mine[g] {
				requiredBy[g] = append(requiredBy[g], p)
			}
		}
	}

	var locals, remotes []int
	for _, g := range req {
		if requiredBy[g][0] == rank {
			locals = append(locals, g)
		} else {
			remotes = append(remotes, g)
		}
	}
	if err := s.SetLocals(ctx, locals); err != nil {
		return err
	}
	owner := func(g int) int {
		if by, ok := requiredBy[g]; ok {
			return by[0]
		}
		return Invalid
	}
	if err := s.SetRemotes(ctx, remotes, owner); err != nil {
		return err
	}

	s.sharedDomain = s.sharedDomain[:0]
	s.sharedIndex = make(map[int]int)
	s.sharers = s.sharers[:0]
	for _, g := range req {
		by := requiredBy[g]
		if len(by) < 2 {
			continue
		}
		others := make([]int, 0, len(by)-1)
		for _, p := range by {
			if p != rank {
				others = append(others, p)
			}
		}
		d := s.GlobalToDomain(g)
		s.sharedIndex[d] = len(s.sharedDomain)
		s.sharedDomain = append(s.sharedDomain, d)
		s.sharers = append(s.sharers, others)
	}
	return nil
}

func (s *Sync) Topology() *topology.Topology { return s.top }

func (s *Sync) IsRemote(g int) bool {
	_, ok := s.shadowIndex[g]
	return ok
}

func (s *Sync) IsDomain(g int) bool { return s.IsLocal(g) || s.IsRemote(g) }

func (s *Sync) NumShadows() int { return len(s.remotes) }

func (s *Sync) DomainSize() int { return s.NumLocals() + len(s.remotes) }

// Remotes returns the shadow globals in shadow order (ascending)
func (s *Sync) Remotes() []int { return s.remotes }

// GlobalToShadow returns NumShadows() when g is not a shadow
func (s *Sync) GlobalToShadow(g int) int {
	if sh, ok := s.shadowIndex[g]; ok {
		return sh
	}
	return len(s.remotes)
}

func (s *Sync) ShadowToGlobal(sh int) int {
	if sh < 0 || sh >= len(s.remotes) {
		return Invalid
	}
	return s.remotes[sh]
}

// GlobalToDomain returns DomainSize() when g is neither local nor shadow
func (s *Sync) GlobalToDomain(g int) int {
	if l, ok := s.localIndex[g]; ok {
		return l
	}
	if sh, ok := s.shadowIndex[g]; ok {
		return s.NumLocals() + sh
	}
	return s.DomainSize()
}

func (s *Sync) DomainToGlobal(d int) int {
	if d >= 0 && d < s.NumLocals() {
		return s.locals[d]
	}
	return s.ShadowToGlobal(d - s.NumLocals())
}

// Owner returns the rank owning a shadow
func (s *Sync) Owner(sh int) int {
	if sh < 0 || sh >= len(s.owners) {
		return Invalid
	}
	return s.owners[sh]
}

// Sources lists, per incident peer, the globals received from it
func (s *Sync) Sources() [][]int { return s.sources }

// Sinks lists, per incident peer, the globals sent to it
func (s *Sync) Sinks() [][]int { return s.sinks }

func (s *Sync) NumShared() int { return len(s.sharedDomain) }

func (s *Sync) SharedToDomain(sh int) int {
	if sh < 0 || sh >= len(s.sharedDomain) {
		return Invalid
	}
	return s.sharedDomain[sh]
}

// DomainToShared returns NumShared() when the domain index is not shared
func (s *Sync) DomainToShared(d int) int {
	if sh, ok := s.sharedIndex[d]; ok {
		return sh
	}
	return len(s.sharedDomain)
}

// Sharers returns the other ranks requiring a shared index
func (s *Sync) Sharers(sh int) []int {
	if sh < 0 || sh >= len(s.sharers) {
		return nil
	}
	return s.sharers[sh]
}

// AddArray registers a domain array for SendRecv. Arrays are packed in
// registration order.
func (s *Sync) AddArray(a Array) error {
	if a.Len() < s.DomainSize() {
		return fmt.Errorf("rank %d: array of %d records is shorter than the domain of %d: %w",
			s.c.Rank(), a.Len(), s.DomainSize(), ErrConfig)
	}
	s.arrays = append(s.arrays, a)
	return nil
}

func (s *Sync) RemoveArray(a Array) {
	s.arrays = slices.DeleteFunc(s.arrays, func(b Array) bool { return b == a })
}

func (s *Sync) Arrays() []Array { return s.arrays }

// SendRecv refreshes the shadow records of every registered array from
// their owners
func (s *Sync) SendRecv(ctx context.Context) error {
	return s.exchange(ctx, s.arrays)
}

// SendRecvArray refreshes the shadows of one array that need not be
// registered
func (s *Sync) SendRecvArray(ctx context.Context, a Array) error {
	if a.Len() < s.DomainSize() {
		return fmt.Errorf("rank %d: array of %d records is shorter than the domain of %d: %w",
			s.c.Rank(), a.Len(), s.DomainSize(), ErrConfig)
	}
	return s.exchange(ctx, []Array{a})
}

func (s *Sync) exchange(ctx context.Context, arrays []Array) error {
	record := 0
	for _, a := range arrays {
		record += a.ItemSize()
	}
	out := make([][]byte, len(s.sinkLocal))
	for i, locals := range s.sinkLocal {
		buf := make([]byte, len(locals)*record)
		pos := 0
		for _, a := range arrays {
			n := a.ItemSize()
			for _, l := range locals {
				a.Pack(l, buf[pos:pos+n])
				pos += n
			}
		}
		out[i] = buf
	}
	in, err := s.top.Alltoall(ctx, out)
	if err != nil {
		return err
	}
	nl := s.NumLocals()
	for i, shadows := range s.sourceShadow {
		buf := in[i]
		if len(buf) != len(shadows)*record {
			return fmt.Errorf("rank %d: %d bytes from rank %d, expected %d records of %d bytes: %w",
				s.c.Rank(), len(buf), s.top.Incidence()[i], len(shadows), record, ErrNegotiation)
		}
		pos := 0
		for _, a := range arrays {
			n := a.ItemSize()
			for _, sh := range shadows {
				a.Unpack(nl+sh, buf[pos:pos+n])
				pos += n
			}
		}
	}
	return nil
}
