// Package comm provides the message passing layer the decomposition runs on:
// a rank-addressed point-to-point interface with blocking receives, an
// in-process world where every rank is a goroutine, a TCP transport for
// multi-process runs, and collectives built from point-to-point messages.
package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Comm is one rank's view of a communicator. Messages between a given
// (source, destination, tag) triple are delivered in the order they were
// sent. Send does not wait for the matching Recv.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest, tag int, data []byte) error
	Recv(ctx context.Context, src, tag int) ([]byte, error)
}

// Tags below zero are reserved for collectives in this module
const (
	tagBarrier = -1 - iota
	tagAllreduce
	tagAllgather
	tagAlltoall
	tagBcast
	// TagTopology is the first tag handed to topology collectives
	TagTopology = -64
)

var (
	ErrRank      = errors.New("rank out of range")
	ErrTruncated = errors.New("truncated message")
)

func checkPeer(c Comm, peer int) error {
	if peer < 0 || peer >= c.Size() {
		return fmt.Errorf("peer %d of %d: %w", peer, c.Size(), ErrRank)
	}
	return nil
}

// EncodeInts packs ints as little-endian int64 words
func EncodeInts(v []int) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(int64(x)))
	}
	return buf
}

// DecodeInts is the inverse of EncodeInts
func DecodeInts(buf []byte) ([]int, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of int64 words: %w", len(buf), ErrTruncated)
	}
	v := make([]int, len(buf)/8)
	for i := range v {
		v[i] = int(int64(binary.LittleEndian.Uint64(buf[8*i:])))
	}
	return v, nil
}

// PutFloat64 / Float64 are the float wire format used by strided arrays
func PutFloat64(dst []byte, f float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
}

func Float64(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}
