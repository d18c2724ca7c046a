package decomp

import (
	"encoding/binary"
	"fmt"

	"github.com/notargets/snacdecomp/comm"
)

// Array describes one field of a domain-indexed record layout for exchange.
// Record d of the array is the data of domain index d.
type Array interface {
	// Len is the number of domain records the array covers
	Len() int
	// ItemSize is the packed size in bytes of one record
	ItemSize() int
	Pack(domain int, dst []byte)
	Unpack(domain int, src []byte)
}

type float64Array struct {
	data                  []float64
	stride, offset, width int
}

// Float64Array views width consecutive values starting at offset inside
// records of stride values. Several views over the same slice can address
// different members of one record layout.
func Float64Array(data []float64, stride, offset, width int) Array {
	checkLayout(stride, offset, width)
	return &float64Array{data: data, stride: stride, offset: offset, width: width}
}

func (a *float64Array) Len() int { return len(a.data) / a.stride }

func (a *float64Array) ItemSize() int { return 8 * a.width }

func (a *float64Array) Pack(d int, dst []byte) {
	base := d*a.stride + a.offset
	for j := 0; j < a.width; j++ {
		comm.PutFloat64(dst[8*j:], a.data[base+j])
	}
}

func (a *float64Array) Unpack(d int, src []byte) {
	base := d*a.stride + a.offset
	for j := 0; j < a.width; j++ {
		a.data[base+j] = comm.Float64(src[8*j:])
	}
}

type intArray struct {
	data                  []int
	stride, offset, width int
}

// IntArray is Float64Array for ints, packed as int64
func IntArray(data []int, stride, offset, width int) Array {
	checkLayout(stride, offset, width)
	return &intArray{data: data, stride: stride, offset: offset, width: width}
}

func (a *intArray) Len() int { return len(a.data) / a.stride }

func (a *intArray) ItemSize() int { return 8 * a.width }

func (a *intArray) Pack(d int, dst []byte) {
	base := d*a.stride + a.offset
	for j := 0; j < a.width; j++ {
		binary.LittleEndian.PutUint64(dst[8*j:], uint64(int64(a.data[base+j])))
	}
}

func (a *intArray) Unpack(d int, src []byte) {
	base := d*a.stride + a.offset
	for j := 0; j < a.width; j++ {
		a.data[base+j] = int(int64(binary.LittleEndian.Uint64(src[8*j:])))
	}
}

func checkLayout(stride, offset, width int) {
	if width < 1 || offset < 0 || stride < offset+width {
		panic(fmt.Sprintf("bad record layout: stride %d offset %d width %d", stride, offset, width))
	}
}

type funcArray struct {
	n, itemSize int
	pack        func(d int, dst []byte)
	unpack      func(d int, src []byte)
}

// FuncArray adapts arbitrary record storage of n records
func FuncArray(n, itemSize int, pack func(d int, dst []byte), unpack func(d int, src []byte)) Array {
	return &funcArray{n: n, itemSize: itemSize, pack: pack, unpack: unpack}
}

func (a *funcArray) Len() int                 { return a.n }
func (a *funcArray) ItemSize() int            { return a.itemSize }
func (a *funcArray) Pack(d int, dst []byte)   { a.pack(d, dst) }
func (a *funcArray) Unpack(d int, src []byte) { a.unpack(d, src) }
