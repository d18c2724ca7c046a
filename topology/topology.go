// Package topology restricts collectives to a rank's incident peers. Each
// rank names the peers it exchanges with; an allgather or alltoall then
// touches only those links, which keeps halo exchange cost proportional to
// the number of neighbours instead of the world size.
package topology

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/utils"
)

const (
	tagAllgather = comm.TagTopology - iota
	tagAlltoall
)

// Topology is a communicator plus an incidence list. Incidence must be
// symmetric across ranks: if p lists q then q lists p.
type Topology struct {
	c     comm.Comm
	peers []int
}

func New(c comm.Comm) *Topology {
	return &Topology{c: c}
}

func (t *Topology) Comm() comm.Comm { return t.c }

// SetIncidence replaces the peer list. The list is sorted and de-duplicated;
// an empty list is valid.
func (t *Topology) SetIncidence(peers []int) error {
	ps := slices.Clone(peers)
	slices.Sort(ps)
	ps = slices.Compact(ps)
	for _, p := range ps {
		if p == t.c.Rank() || p < 0 || p >= t.c.Size() {
			return fmt.Errorf("rank %d: invalid incident peer %d of %d: %w",
				t.c.Rank(), p, t.c.Size(), utils.ErrConfig)
		}
	}
	t.peers = ps
	return nil
}

// Incidence returns the sorted peer list; results of Allgather and Alltoall
// are indexed the same way
func (t *Topology) Incidence() []int { return t.peers }

func (t *Topology) NumIncident() int { return len(t.peers) }

// PeerIndex returns the position of rank in Incidence
func (t *Topology) PeerIndex(rank int) (int, bool) {
	return slices.BinarySearch(t.peers, rank)
}

// Allgather sends items to every incident peer and returns what each of them
// sent. Every payload must be a whole number of itemSize records.
func (t *Topology) Allgather(ctx context.Context, itemSize int, items []byte) ([][]byte, error) {
	if itemSize <= 0 || len(items)%itemSize != 0 {
		return nil, fmt.Errorf("rank %d: allgather payload of %d bytes with item size %d: %w",
			t.c.Rank(), len(items), itemSize, utils.ErrNegotiation)
	}
	out := make([][]byte, len(t.peers))
	for i := range out {
		out[i] = items
	}
	in, err := t.exchange(ctx, tagAllgather, out)
	if err != nil {
		return nil, err
	}
	for i, buf := range in {
		if len(buf)%itemSize != 0 {
			return nil, fmt.Errorf("rank %d: %d bytes from rank %d is not a multiple of %d: %w",
				t.c.Rank(), len(buf), t.peers[i], itemSize, utils.ErrNegotiation)
		}
	}
	return in, nil
}

// Alltoall sends perPeer[i] to Incidence()[i] and returns the buffer each
// peer sent here
func (t *Topology) Alltoall(ctx context.Context, perPeer [][]byte) ([][]byte, error) {
	if len(perPeer) != len(t.peers) {
		return nil, fmt.Errorf("rank %d: alltoall with %d buffers for %d peers: %w",
			t.c.Rank(), len(perPeer), len(t.peers), utils.ErrNegotiation)
	}
	return t.exchange(ctx, tagAlltoall, perPeer)
}

func (t *Topology) AllgatherInts(ctx context.Context, v []int) ([][]int, error) {
	in, err := t.Allgather(ctx, 8, comm.EncodeInts(v))
	if err != nil {
		return nil, err
	}
	return t.decode(in)
}

func (t *Topology) AlltoallInts(ctx context.Context, perPeer [][]int) ([][]int, error) {
	if len(perPeer) != len(t.peers) {
		return nil, fmt.Errorf("rank %d: alltoall with %d buffers for %d peers: %w",
			t.c.Rank(), len(perPeer), len(t.peers), utils.ErrNegotiation)
	}
	out := make([][]byte, len(perPeer))
	for i, v := range perPeer {
		out[i] = comm.EncodeInts(v)
	}
	in, err := t.exchange(ctx, tagAlltoall, out)
	if err != nil {
		return nil, err
	}
	return t.decode(in)
}

func (t *Topology) exchange(ctx context.Context, tag int, out [][]byte) ([][]byte, error) {
	for i, p := range t.peers {
		if err := t.c.Send(ctx, p, tag, out[i]); err != nil {
			return nil, err
		}
	}
	in := make([][]byte, len(t.peers))
	for i, p := range t.peers {
		msg, err := t.c.Recv(ctx, p, tag)
		if err != nil {
			return nil, err
		}
		in[i] = msg
	}
	return in, nil
}

func (t *Topology) decode(in [][]byte) ([][]int, error) {
	res := make([][]int, len(in))
	for i, buf := range in {
		v, err := comm.DecodeInts(buf)
		if err != nil {
			return nil, fmt.Errorf("rank %d from %d: %v: %w", t.c.Rank(), t.peers[i], err, utils.ErrNegotiation)
		}
		res[i] = v
	}
	return res, nil
}
