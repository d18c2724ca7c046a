package comm

import (
	"context"
	"fmt"
)

// Op is a reduction operator for AllreduceInts
type Op int

const (
	Sum Op = iota
	Max
	Min
)

func (op Op) apply(a, b int) int {
	switch op {
	case Max:
		if b > a {
			return b
		}
		return a
	case Min:
		if b < a {
			return b
		}
		return a
	default:
		return a + b
	}
}

// exchange sends out[p] to every rank p != self and returns what each rank
// sent back on the same tag. The own slot of the result is out[self].
func exchange(ctx context.Context, c Comm, tag int, out [][]byte) ([][]byte, error) {
	size, rank := c.Size(), c.Rank()
	if len(out) != size {
		return nil, fmt.Errorf("exchange needs %d buffers, got %d", size, len(out))
	}
	for p := 0; p < size; p++ {
		if p == rank {
			continue
		}
		if err := c.Send(ctx, p, tag, out[p]); err != nil {
			return nil, err
		}
	}
	in := make([][]byte, size)
	in[rank] = append([]byte(nil), out[rank]...)
	for p := 0; p < size; p++ {
		if p == rank {
			continue
		}
		msg, err := c.Recv(ctx, p, tag)
		if err != nil {
			return nil, err
		}
		in[p] = msg
	}
	return in, nil
}

// Allgather returns every rank's data, indexed by rank
func Allgather(ctx context.Context, c Comm, data []byte) ([][]byte, error) {
	out := make([][]byte, c.Size())
	for p := range out {
		out[p] = data
	}
	return exchange(ctx, c, tagAllgather, out)
}

// Alltoall sends out[p] to rank p and returns in[p], the buffer rank p sent here
func Alltoall(ctx context.Context, c Comm, out [][]byte) ([][]byte, error) {
	return exchange(ctx, c, tagAlltoall, out)
}

// Barrier returns once every rank has entered it
func Barrier(ctx context.Context, c Comm) error {
	out := make([][]byte, c.Size())
	_, err := exchange(ctx, c, tagBarrier, out)
	return err
}

// AllreduceInts reduces v element-wise over all ranks
func AllreduceInts(ctx context.Context, c Comm, v []int, op Op) ([]int, error) {
	out := make([][]byte, c.Size())
	enc := EncodeInts(v)
	for p := range out {
		out[p] = enc
	}
	in, err := exchange(ctx, c, tagAllreduce, out)
	if err != nil {
		return nil, err
	}
	res := append([]int(nil), v...)
	for p, buf := range in {
		if p == c.Rank() {
			continue
		}
		w, err := DecodeInts(buf)
		if err != nil {
			return nil, err
		}
		if len(w) != len(v) {
			return nil, fmt.Errorf("allreduce: rank %d contributed %d values, expected %d",
				p, len(w), len(v))
		}
		for i := range res {
			res[i] = op.apply(res[i], w[i])
		}
	}
	return res, nil
}

// AllreduceInt is AllreduceInts for a single value
func AllreduceInt(ctx context.Context, c Comm, v int, op Op) (int, error) {
	res, err := AllreduceInts(ctx, c, []int{v}, op)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

// Bcast distributes root's data to every rank. Non-root ranks ignore their
// data argument.
func Bcast(ctx context.Context, c Comm, root int, data []byte) ([]byte, error) {
	if err := checkPeer(c, root); err != nil {
		return nil, err
	}
	if c.Rank() == root {
		for p := 0; p < c.Size(); p++ {
			if p == root {
				continue
			}
			if err := c.Send(ctx, p, tagBcast, data); err != nil {
				return nil, err
			}
		}
		return append([]byte(nil), data...), nil
	}
	return c.Recv(ctx, root, tagBcast)
}

// AllgatherInts is Allgather for int slices
func AllgatherInts(ctx context.Context, c Comm, v []int) ([][]int, error) {
	in, err := Allgather(ctx, c, EncodeInts(v))
	if err != nil {
		return nil, err
	}
	return decodeAll(in)
}

// AlltoallInts is Alltoall for int slices
func AlltoallInts(ctx context.Context, c Comm, out [][]int) ([][]int, error) {
	enc := make([][]byte, len(out))
	for p := range out {
		enc[p] = EncodeInts(out[p])
	}
	in, err := Alltoall(ctx, c, enc)
	if err != nil {
		return nil, err
	}
	return decodeAll(in)
}

func decodeAll(in [][]byte) ([][]int, error) {
	res := make([][]int, len(in))
	for p, buf := range in {
		v, err := DecodeInts(buf)
		if err != nil {
			return nil, fmt.Errorf("from rank %d: %w", p, err)
		}
		res[p] = v
	}
	return res, nil
}
