package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

type mailKey struct {
	src, tag int
}

// mailbox is an unbounded per-rank queue of messages keyed by source and tag
type mailbox struct {
	mu      sync.Mutex
	queues  map[mailKey][][]byte
	waiters map[mailKey]chan struct{}
	err     error
}

// fail wakes every waiter; receives on empty queues then return err
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	for k, ch := range m.waiters {
		close(ch)
		delete(m.waiters, k)
	}
	m.mu.Unlock()
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:  make(map[mailKey][][]byte),
		waiters: make(map[mailKey]chan struct{}),
	}
}

func (m *mailbox) put(src, tag int, msg []byte) {
	k := mailKey{src, tag}
	m.mu.Lock()
	m.queues[k] = append(m.queues[k], msg)
	if ch, ok := m.waiters[k]; ok {
		close(ch)
		delete(m.waiters, k)
	}
	m.mu.Unlock()
}

func (m *mailbox) take(ctx context.Context, src, tag int) ([]byte, error) {
	k := mailKey{src, tag}
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			msg := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return msg, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, fmt.Errorf("recv from %d tag %d: %w", src, tag, err)
		}
		ch, ok := m.waiters[k]
		if !ok {
			ch = make(chan struct{})
			m.waiters[k] = ch
		}
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("recv from %d tag %d: %w", src, tag, ctx.Err())
		}
	}
}

// World is a set of ranks living in one process
type World struct {
	boxes []*mailbox
}

func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("world size %d must be positive", size))
	}
	w := &World{boxes: make([]*mailbox, size)}
	for i := range w.boxes {
		w.boxes[i] = newMailbox()
	}
	return w
}

func (w *World) Size() int { return len(w.boxes) }

// Comm returns the communicator of one rank
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= len(w.boxes) {
		panic(fmt.Sprintf("rank %d outside world of %d", rank, len(w.boxes)))
	}
	return &localComm{world: w, rank: rank}
}

type localComm struct {
	world *World
	rank  int
}

func (c *localComm) Rank() int { return c.rank }

func (c *localComm) Size() int { return len(c.world.boxes) }

func (c *localComm) Send(ctx context.Context, dest, tag int, data []byte) error {
	if err := checkPeer(c, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	c.world.boxes[dest].put(c.rank, tag, msg)
	return nil
}

func (c *localComm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := checkPeer(c, src); err != nil {
		return nil, err
	}
	return c.world.boxes[c.rank].take(ctx, src, tag)
}

// Run executes fn once per rank of a fresh in-process world, each on its own
// goroutine. The first error cancels the context handed to every rank so
// peers blocked in Recv return instead of hanging, and that error is
// returned.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	w := NewWorld(size)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
