package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var endian = binary.LittleEndian

var ErrClosed = errors.New("communicator closed")

// handshake is the first thing a dialing rank writes on a new connection
type handshake struct {
	Rank int32
	Size int32
}

func (h handshake) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *handshake) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

// frameHeader precedes every message payload on the wire
type frameHeader struct {
	Src    int32
	Tag    int32
	Length uint32
}

func (h frameHeader) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *frameHeader) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

type peerConn struct {
	sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// TCP is a Comm whose ranks are separate processes (or goroutines) joined
// by a full mesh of TCP connections.
type TCP struct {
	rank  int
	size  int
	ln    net.Listener
	peers []*peerConn
	box   *mailbox
	once  sync.Once
	wg    sync.WaitGroup
}

// Listen opens the listener a rank must own before Dial is called on any rank
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Dial joins rank to the mesh described by addrs, where addrs[r] is the
// listen address of rank r. Lower ranks accept, higher ranks dial, so every
// pair shares exactly one connection. Dial blocks until all size-1
// connections are up or ctx is done.
func Dial(ctx context.Context, rank int, ln net.Listener, addrs []string) (*TCP, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d of %d: %w", rank, size, ErrRank)
	}
	c := &TCP{
		rank:  rank,
		size:  size,
		ln:    ln,
		peers: make([]*peerConn, size),
		box:   newMailbox(),
	}

	errc := make(chan error, 2)
	go func() { errc <- c.acceptLower(ctx) }()
	go func() { errc <- c.dialHigher(ctx, addrs) }()
	var first error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		c.Close()
		return nil, first
	}

	for p, pc := range c.peers {
		if pc == nil {
			continue
		}
		c.wg.Add(1)
		go c.readLoop(p, pc.conn)
	}
	return c, nil
}

// acceptLower accepts one connection from every rank above this one
func (c *TCP) acceptLower(ctx context.Context) error {
	want := c.size - 1 - c.rank
	if want == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { c.ln.Close() })
	defer stop()
	for n := 0; n < want; n++ {
		conn, err := c.ln.Accept()
		if err != nil {
			return fmt.Errorf("rank %d accept: %w", c.rank, err)
		}
		var h handshake
		if err := h.ReadFrom(conn); err != nil {
			conn.Close()
			return fmt.Errorf("rank %d handshake: %w", c.rank, err)
		}
		p := int(h.Rank)
		if p <= c.rank || p >= c.size || int(h.Size) != c.size || c.peers[p] != nil {
			conn.Close()
			return fmt.Errorf("rank %d: unexpected handshake from rank %d of %d: %w",
				c.rank, h.Rank, h.Size, ErrRank)
		}
		c.peers[p] = &peerConn{conn: conn, w: bufio.NewWriter(conn)}
	}
	return nil
}

// dialHigher connects to every rank below this one, retrying until the
// peer's listener answers
func (c *TCP) dialHigher(ctx context.Context, addrs []string) error {
	var d net.Dialer
	for p := 0; p < c.rank; p++ {
		var conn net.Conn
		for {
			var err error
			conn, err = d.DialContext(ctx, "tcp", addrs[p])
			if err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("rank %d dial %s: %w", c.rank, addrs[p], ctx.Err())
			case <-time.After(20 * time.Millisecond):
			}
		}
		if err := (handshake{Rank: int32(c.rank), Size: int32(c.size)}).WriteTo(conn); err != nil {
			conn.Close()
			return fmt.Errorf("rank %d handshake to %d: %w", c.rank, p, err)
		}
		c.peers[p] = &peerConn{conn: conn, w: bufio.NewWriter(conn)}
	}
	return nil
}

func (c *TCP) readLoop(peer int, conn net.Conn) {
	defer c.wg.Done()
	r := bufio.NewReader(conn)
	for {
		var h frameHeader
		if err := h.ReadFrom(r); err != nil {
			c.box.fail(fmt.Errorf("connection to rank %d: %w", peer, ErrClosed))
			return
		}
		msg := make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg); err != nil {
			c.box.fail(fmt.Errorf("connection to rank %d: %w", peer, ErrTruncated))
			return
		}
		c.box.put(peer, int(h.Tag), msg)
	}
}

func (c *TCP) Rank() int { return c.rank }

func (c *TCP) Size() int { return c.size }

func (c *TCP) Send(ctx context.Context, dest, tag int, data []byte) error {
	if err := checkPeer(c, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest == c.rank {
		c.box.put(c.rank, tag, append([]byte(nil), data...))
		return nil
	}
	pc := c.peers[dest]
	pc.Lock()
	defer pc.Unlock()
	h := frameHeader{Src: int32(c.rank), Tag: int32(tag), Length: uint32(len(data))}
	if err := h.WriteTo(pc.w); err != nil {
		return fmt.Errorf("send to %d: %w", dest, err)
	}
	if _, err := pc.w.Write(data); err != nil {
		return fmt.Errorf("send to %d: %w", dest, err)
	}
	return pc.w.Flush()
}

func (c *TCP) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := checkPeer(c, src); err != nil {
		return nil, err
	}
	return c.box.take(ctx, src, tag)
}

// Close tears down every connection and the listener
func (c *TCP) Close() error {
	c.once.Do(func() {
		if c.ln != nil {
			c.ln.Close()
		}
		for _, pc := range c.peers {
			if pc != nil {
				pc.conn.Close()
			}
		}
		c.wg.Wait()
		c.box.fail(ErrClosed)
	})
	return nil
}
