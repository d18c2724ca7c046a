// Package hexamd decomposes a structured hexahedral mesh across ranks by
// splitting its node and element lattices into boxes along up to three
// axes, with a configurable depth of shadow elements around each box.
package hexamd

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/decomp"
	"github.com/notargets/snacdecomp/element"
	"github.com/notargets/snacdecomp/journal"
	"github.com/notargets/snacdecomp/utils"
)

// HexaMD is one rank's view of a structured mesh decomposition
type HexaMD struct {
	cfg      Config
	rank     int
	nproc    int
	log      *journal.Logger
	nodeGrid utils.Grid3
	elemGrid utils.Grid3
	basis    [3]int

	partition3DCounts [3]int
	partitionedAxis   [3]bool
	procsInUse        int

	nodes    *decomp.Sync
	elements *decomp.Sync
}

// New chooses the partition shape and builds the node and element
// decompositions. It is collective.
func New(ctx context.Context, c comm.Comm, cfg Config) (*HexaMD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &HexaMD{
		cfg:      cfg,
		rank:     c.Rank(),
		nproc:    c.Size(),
		nodeGrid: utils.Grid3(cfg.NodeCounts),
	}
	for d, n := range cfg.NodeCounts {
		h.elemGrid[d] = max(n-1, 0)
		if cfg.partitionOnElement() {
			h.basis[d] = max(h.elemGrid[d], 1)
		} else {
			h.basis[d] = n
		}
	}

	counts, err := choosePartition(h.basis, h.nproc, cfg)
	if err != nil {
		return nil, err
	}
	h.partition3DCounts = counts
	h.procsInUse = 1
	for d, p := range counts {
		h.partitionedAxis[d] = p > 1
		h.procsInUse *= p
		if p > 1 && cfg.ShadowDepth >= h.elemGrid[d] {
			return nil, fmt.Errorf("shadow depth %d not less than %d elements on partitioned axis %d: %w",
				cfg.ShadowDepth, h.elemGrid[d], d, decomp.ErrConfig)
		}
	}

	nd := decomp.New(c)
	h.log = nd.Logger()
	if h.rank == 0 {
		on := "nodes"
		if cfg.partitionOnElement() {
			on = "elements"
		}
		h.log.Infof("%s nodes over %d ranks: partitions %v on %s, %d in use",
			h.nodeGrid, h.nproc, counts, on, h.procsInUse)
	}

	elemLocals, elemDomain := h.elementDomain()
	elemRemotes := without(elemDomain, elemLocals)
	h.elements = decomp.NewSync(decomp.New(c))
	if err := h.elements.SetLocals(ctx, elemLocals); err != nil {
		return nil, err
	}
	if err := h.elements.SetRemotes(ctx, elemRemotes, h.ElementOwner); err != nil {
		return nil, err
	}

	nodeLocals := h.boxIndices(h.nodeGrid, h.nodeBox(h.rank))
	var nodeDomain []int
	for _, e := range elemDomain {
		nodeDomain = append(nodeDomain, h.ElementNodes(e)...)
	}
	slices.Sort(nodeDomain)
	nodeDomain = slices.Compact(nodeDomain)
	h.nodes = decomp.NewSync(nd)
	if err := h.nodes.SetLocals(ctx, nodeLocals); err != nil {
		return nil, err
	}
	if err := h.nodes.SetRemotes(ctx, without(nodeDomain, nodeLocals), h.NodeOwner); err != nil {
		return nil, err
	}
	h.log.Debugf("%d/%d local/shadow nodes, %d/%d local/shadow elements",
		h.nodes.NumLocals(), h.nodes.NumShadows(), h.elements.NumLocals(), h.elements.NumShadows())
	return h, nil
}

// without returns the sorted values of all not present in sorted drop
func without(all, drop []int) []int {
	var out []int
	for _, g := range all {
		if _, found := slices.BinarySearch(drop, g); !found {
			out = append(out, g)
		}
	}
	return out
}

func (h *HexaMD) boxIndices(g utils.Grid3, b utils.Box) []int {
	idx := make([]int, 0, b.Len())
	for ijk := range b.All() {
		idx = append(idx, g.Index(ijk))
	}
	return idx
}

// elementDomain returns the local elements and the whole element domain,
// both ascending. The domain extends the local box by the shadow depth on
// each partitioned axis, and always holds the recovery patch of every local
// node: the elements around it and, for a node on a global face, the
// elements around its inward neighbour. A rank whose node box has no
// elements of its own still gets that patch.
func (h *HexaMD) elementDomain() (locals, domain []int) {
	box := h.elementBox(h.rank)
	locals = h.boxIndices(h.elemGrid, box)
	if h.rank >= h.procsInUse {
		return locals, locals
	}
	nodes := h.nodeBox(h.rank)
	var axes [3][]int
	for d := 0; d < 3; d++ {
		lo, n := box.Lo[d], box.Count[d]
		E := h.elemGrid[d]
		for e := lo; e < lo+n; e++ {
			axes[d] = append(axes[d], e)
		}
		if !h.partitionedAxis[d] {
			continue
		}
		for _, e := range h.patchRange(d, nodes.Lo[d], nodes.Count[d]) {
			axes[d] = append(axes[d], e)
		}
		for s := 1; s <= h.cfg.ShadowDepth; s++ {
			for _, e := range []int{lo - s, lo + n - 1 + s} {
				switch {
				case e >= 0 && e < E:
				case h.cfg.Periodic[d]:
					e = (e%E + E) % E
				default:
					continue
				}
				axes[d] = append(axes[d], e)
			}
		}
		slices.Sort(axes[d])
		axes[d] = slices.Compact(axes[d])
	}
	for ijk := range utils.Product(axes) {
		domain = append(domain, h.elemGrid.Index(ijk))
	}
	slices.Sort(domain)
	return locals, domain
}

// patchRange lists the elements along axis d that touch the nodes
// off..off+cnt-1 or, at either end of the axis, the node one layer in
func (h *HexaMD) patchRange(d, off, cnt int) []int {
	if cnt == 0 {
		return nil
	}
	N, E := h.nodeGrid[d], h.elemGrid[d]
	lo, hi := off-1, off+cnt-1
	if N > 2 {
		if off == 0 {
			hi = max(hi, 1)
		}
		if off+cnt == N {
			lo = min(lo, N-3)
		}
	}
	var out []int
	for e := max(lo, 0); e <= min(hi, E-1); e++ {
		out = append(out, e)
	}
	return out
}

// partitionIJK is the partition coordinate of a rank in use
func (h *HexaMD) partitionIJK(proc int) [3]int {
	P := h.partition3DCounts
	return [3]int{proc % P[0], (proc / P[0]) % P[1], proc / (P[0] * P[1])}
}

// elementRange is the element span of partition p along axis d
func (h *HexaMD) elementRange(d, p int) (off, cnt int) {
	P, E := h.partition3DCounts[d], h.elemGrid[d]
	if h.cfg.partitionOnElement() {
		return utils.Split(E, P, p)
	}
	off, cnt = utils.Split(h.nodeGrid[d], P, p)
	return off, max(min(off+cnt, E)-off, 0)
}

// nodeRange is the node span of partition p along axis d. Nodes share the
// lower index of their elements and the last partition takes the final
// node layer.
func (h *HexaMD) nodeRange(d, p int) (off, cnt int) {
	P := h.partition3DCounts[d]
	if h.cfg.partitionOnElement() {
		off, cnt = utils.Split(h.elemGrid[d], P, p)
		if p == P-1 {
			cnt = h.nodeGrid[d] - off
		}
		return off, cnt
	}
	return utils.Split(h.nodeGrid[d], P, p)
}

func (h *HexaMD) elementBox(proc int) utils.Box {
	var b utils.Box
	if proc >= h.procsInUse {
		return b
	}
	pijk := h.partitionIJK(proc)
	for d := 0; d < 3; d++ {
		b.Lo[d], b.Count[d] = h.elementRange(d, pijk[d])
	}
	return b
}

func (h *HexaMD) nodeBox(proc int) utils.Box {
	var b utils.Box
	if proc >= h.procsInUse {
		return b
	}
	pijk := h.partitionIJK(proc)
	for d := 0; d < 3; d++ {
		b.Lo[d], b.Count[d] = h.nodeRange(d, pijk[d])
	}
	return b
}

func (h *HexaMD) procOf(pijk [3]int) int {
	P := h.partition3DCounts
	return pijk[0] + P[0]*(pijk[1]+P[1]*pijk[2])
}

// NodeOwner returns the rank owning global node g
func (h *HexaMD) NodeOwner(g int) int {
	if g < 0 || g >= h.nodeGrid.Len() {
		return decomp.Invalid
	}
	ijk := h.nodeGrid.IJK(g)
	var pijk [3]int
	for d := 0; d < 3; d++ {
		P := h.partition3DCounts[d]
		switch {
		case P == 1:
		case h.cfg.partitionOnElement() && ijk[d] >= h.elemGrid[d]:
			pijk[d] = P - 1
		case h.cfg.partitionOnElement():
			pijk[d] = axisOwner(h.elemGrid[d], P, ijk[d])
		default:
			pijk[d] = axisOwner(h.nodeGrid[d], P, ijk[d])
		}
	}
	return h.procOf(pijk)
}

// ElementOwner returns the rank owning global element g
func (h *HexaMD) ElementOwner(g int) int {
	if g < 0 || g >= h.elemGrid.Len() {
		return decomp.Invalid
	}
	ijk := h.elemGrid.IJK(g)
	var pijk [3]int
	for d := 0; d < 3; d++ {
		if P := h.partition3DCounts[d]; P > 1 {
			pijk[d] = axisOwner(h.basis[d], P, ijk[d])
		}
	}
	return h.procOf(pijk)
}

func (h *HexaMD) Config() Config { return h.cfg }

func (h *HexaMD) NodeDecomp() *decomp.Sync { return h.nodes }

func (h *HexaMD) ElementDecomp() *decomp.Sync { return h.elements }

// Nodes and Elements satisfy mesh.Decomposition
func (h *HexaMD) Nodes() *decomp.Sync { return h.nodes }

func (h *HexaMD) Elements() *decomp.Sync { return h.elements }

func (h *HexaMD) Partition3DCounts() [3]int { return h.partition3DCounts }

func (h *HexaMD) PartitionedAxis() [3]bool { return h.partitionedAxis }

func (h *HexaMD) ProcsInUse() int { return h.procsInUse }

func (h *HexaMD) NodeGlobal3DCounts() [3]int { return h.nodeGrid }

func (h *HexaMD) ElementGlobal3DCounts() [3]int { return h.elemGrid }

func (h *HexaMD) NodeLocal3DCounts(proc int) [3]int { return h.nodeBox(proc).Count }

func (h *HexaMD) NodeLocal3DOffsets(proc int) [3]int { return h.nodeBox(proc).Lo }

func (h *HexaMD) ElementLocal3DCounts(proc int) [3]int { return h.elementBox(proc).Count }

func (h *HexaMD) ElementLocal3DOffsets(proc int) [3]int { return h.elementBox(proc).Lo }

func (h *HexaMD) NodeIJK(g int) [3]int { return h.nodeGrid.IJK(g) }

func (h *HexaMD) ElementIJK(g int) [3]int { return h.elemGrid.IJK(g) }

func (h *HexaMD) NodeGlobalIndex(ijk [3]int) int {
	if !h.nodeGrid.Contains(ijk) {
		return decomp.Invalid
	}
	return h.nodeGrid.Index(ijk)
}

// ElementNodes returns the 8 global nodes of element g in corner order
// c = x + 2y + 4z
func (h *HexaMD) ElementNodes(g int) []int {
	if g < 0 || g >= h.elemGrid.Len() {
		return nil
	}
	ijk := h.elemGrid.IJK(g)
	nodes := make([]int, element.NodesPerElement)
	for c := range nodes {
		o := element.CornerOffset(c)
		nodes[c] = h.nodeGrid.Index([3]int{ijk[0] + o[0], ijk[1] + o[1], ijk[2] + o[2]})
	}
	return nodes
}

// NodeElements returns the 8 elements around node g. Slot s = a + 2b + 4c
// holds element (i-1+a, j-1+b, k-1+c), or decomp.Invalid outside the grid.
func (h *HexaMD) NodeElements(g int) []int {
	if g < 0 || g >= h.nodeGrid.Len() {
		return nil
	}
	ijk := h.nodeGrid.IJK(g)
	elems := make([]int, element.NodesPerElement)
	for s := range elems {
		o := element.CornerOffset(s)
		e := [3]int{ijk[0] - 1 + o[0], ijk[1] - 1 + o[1], ijk[2] - 1 + o[2]}
		if h.elemGrid.Contains(e) {
			elems[s] = h.elemGrid.Index(e)
		} else {
			elems[s] = decomp.Invalid
		}
	}
	return elems
}
