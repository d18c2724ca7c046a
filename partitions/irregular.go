package partitions

import (
	"context"
	"fmt"
	"slices"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/decomp"
)

// IrregularDecomp decomposes an unstructured mesh following a partition
// layout: partition p is rank p. Elements are owned by their partition;
// a node is owned by the lowest partition among its incident elements.
// The element domain holds the shadow layers plus every element around a
// local node.
type IrregularDecomp struct {
	mesh   *MeshConnectivity
	layout *PartitionLayout
	depth  int

	nodeOwner      []int
	vertexElements [][]int

	nodes    *decomp.Sync
	elements *decomp.Sync
}

// NewIrregularDecomp builds the node and element decompositions of one
// rank. Every rank must pass the same layout and mesh. It is collective.
func NewIrregularDecomp(ctx context.Context, c comm.Comm, layout *PartitionLayout, mc *MeshConnectivity,
	shadowDepth int) (*IrregularDecomp, error) {
	if layout.NumPartitions != c.Size() {
		return nil, fmt.Errorf("%d partitions for %d ranks: %w", layout.NumPartitions, c.Size(), decomp.ErrConfig)
	}
	if layout.TotalElements != mc.NumElements {
		return nil, fmt.Errorf("layout of %d elements for a mesh of %d: %w",
			layout.TotalElements, mc.NumElements, decomp.ErrConfig)
	}
	if shadowDepth < 0 {
		return nil, fmt.Errorf("shadow depth %d: %w", shadowDepth, decomp.ErrConfig)
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, err
	}
	rank := c.Rank()
	ve := mc.VertexElements()
	d := &IrregularDecomp{
		mesh:           mc,
		layout:         layout,
		depth:          shadowDepth,
		vertexElements: ve,
		nodeOwner:      NodeOwners(layout, ve),
	}

	elemLocals := layout.Partitions[rank].Elements
	elemShadows := domainShadows(mc.AdjacencyGraph(), layout, ve, d.nodeOwner, rank, shadowDepth)

	ed := decomp.New(c)
	log := ed.Logger()
	if rank == 0 {
		log.Infof("%d elements, %d nodes over %d ranks, shadow depth %d",
			mc.NumElements, mc.NumVertices(), c.Size(), shadowDepth)
	}
	d.elements = decomp.NewSync(ed)
	if err := d.elements.SetLocals(ctx, elemLocals); err != nil {
		return nil, err
	}
	if err := d.elements.SetRemotes(ctx, elemShadows, d.ElementOwner); err != nil {
		return nil, err
	}

	var nodeLocals, nodeRemotes []int
	for v, p := range d.nodeOwner {
		if p == rank {
			nodeLocals = append(nodeLocals, v)
		}
	}
	for _, k := range slices.Concat(elemLocals, elemShadows) {
		for _, v := range mc.EToV[k] {
			if d.nodeOwner[v] != rank {
				nodeRemotes = append(nodeRemotes, v)
			}
		}
	}
	slices.Sort(nodeRemotes)
	nodeRemotes = slices.Compact(nodeRemotes)

	d.nodes = decomp.NewSync(decomp.New(c))
	if err := d.nodes.SetLocals(ctx, nodeLocals); err != nil {
		return nil, err
	}
	if err := d.nodes.SetRemotes(ctx, nodeRemotes, d.NodeOwner); err != nil {
		return nil, err
	}
	log.Debugf("%d/%d local/shadow nodes, %d/%d local/shadow elements",
		d.nodes.NumLocals(), d.nodes.NumShadows(), d.elements.NumLocals(), d.elements.NumShadows())
	return d, nil
}

func (d *IrregularDecomp) Nodes() *decomp.Sync { return d.nodes }

func (d *IrregularDecomp) Elements() *decomp.Sync { return d.elements }

func (d *IrregularDecomp) Layout() *PartitionLayout { return d.layout }

func (d *IrregularDecomp) Mesh() *MeshConnectivity { return d.mesh }

func (d *IrregularDecomp) ShadowDepth() int { return d.depth }

func (d *IrregularDecomp) ElementOwner(g int) int {
	if g < 0 || g >= len(d.layout.EToP) {
		return decomp.Invalid
	}
	return d.layout.EToP[g]
}

func (d *IrregularDecomp) NodeOwner(g int) int {
	if g < 0 || g >= len(d.nodeOwner) {
		return decomp.Invalid
	}
	return d.nodeOwner[g]
}

// ElementNodes returns the corner vertices of element g
func (d *IrregularDecomp) ElementNodes(g int) []int {
	if g < 0 || g >= d.mesh.NumElements {
		return nil
	}
	return slices.Clone(d.mesh.EToV[g])
}

// NodeElements returns the elements using node g, ascending. Lists vary in
// length with the mesh.
func (d *IrregularDecomp) NodeElements(g int) []int {
	if g < 0 || g >= len(d.vertexElements) {
		return nil
	}
	return slices.Clone(d.vertexElements[g])
}
