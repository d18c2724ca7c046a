package partitions

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"

	"github.com/notargets/snacdecomp/decomp"
)

// ShadowElements returns, ascending, the elements within depth adjacency
// layers of locals that are not themselves local
func ShadowElements(g graph.Undirected, locals []int, depth int) []int {
	visited := make(map[int64]bool, len(locals))
	frontier := make([]int64, 0, len(locals))
	for _, k := range locals {
		visited[int64(k)] = true
		frontier = append(frontier, int64(k))
	}
	var shadows []int
	for layer := 0; layer < depth && len(frontier) > 0; layer++ {
		var next []int64
		for _, id := range frontier {
			for it := g.From(id); it.Next(); {
				n := it.Node().ID()
				if visited[n] {
					continue
				}
				visited[n] = true
				next = append(next, n)
				shadows = append(shadows, int(n))
			}
		}
		frontier = next
	}
	slices.Sort(shadows)
	return shadows
}

// NodeOwners gives every vertex to the lowest partition among the elements
// using it. Vertices no element uses stay with partition 0.
func NodeOwners(layout *PartitionLayout, vertexElements [][]int) []int {
	owners := make([]int, len(vertexElements))
	for v, elems := range vertexElements {
		if len(elems) > 0 {
			owners[v] = layout.EToP[elems[0]]
			for _, k := range elems[1:] {
				owners[v] = min(owners[v], layout.EToP[k])
			}
		}
	}
	return owners
}

// domainShadows is ShadowElements for partition p widened by every element
// around a vertex p owns, so each local node sees all of its elements even
// with no shadow layers
func domainShadows(g graph.Undirected, layout *PartitionLayout, vertexElements [][]int, owners []int,
	p, depth int) []int {
	shadows := ShadowElements(g, layout.Partitions[p].Elements, depth)
	for v, o := range owners {
		if o != p {
			continue
		}
		for _, k := range vertexElements[v] {
			if layout.EToP[k] != p {
				shadows = append(shadows, k)
			}
		}
	}
	slices.Sort(shadows)
	return slices.Compact(shadows)
}

// ExchangePlan is the whole-layout view of an element shadow exchange: for
// every ordered pair of partitions, what the source picks from its locals
// and where the target places it among its shadows. Ranks build their own
// half of it collectively through decomp.Sync; the plan is the serial
// reference CheckSync holds them to.
type ExchangePlan struct {
	NumPartitions int

	// Shadows[p] lists partition p's shadow elements, ascending
	Shadows [][]int

	// Pick/Place indices per partition
	PickIndices  [][]PickBuffer  // [sourcePartition][targetPartition]
	PlaceIndices [][]PlaceBuffer // [targetPartition][sourcePartition]

	layout *PartitionLayout
}

// PickBuffer lists the elements a source sends to one target
type PickBuffer struct {
	Elements        []int // Global element indices, ascending
	Locals          []int // Positions in the source partition's element list
	TargetPartition int
}

// PlaceBuffer lists where a target stores what one source sent
type PlaceBuffer struct {
	Elements        []int // Global element indices, ascending
	Shadows         []int // Positions in the target's shadow list
	SourcePartition int
}

// NewExchangePlan builds the plan of the element shadow exchange of
// NewIrregularDecomp with depth shadow layers over mc
func NewExchangePlan(layout *PartitionLayout, mc *MeshConnectivity, depth int) (*ExchangePlan, error) {
	if err := layout.ValidateLayout(); err != nil {
		return nil, err
	}
	g := mc.AdjacencyGraph()
	ve := mc.VertexElements()
	owners := NodeOwners(layout, ve)
	np := layout.NumPartitions
	ep := &ExchangePlan{
		NumPartitions: np,
		Shadows:       make([][]int, np),
		PickIndices:   make([][]PickBuffer, np),
		PlaceIndices:  make([][]PlaceBuffer, np),
		layout:        layout,
	}
	for p := 0; p < np; p++ {
		ep.PickIndices[p] = make([]PickBuffer, np)
		ep.PlaceIndices[p] = make([]PlaceBuffer, np)
		for q := 0; q < np; q++ {
			ep.PickIndices[p][q].TargetPartition = q
			ep.PlaceIndices[p][q].SourcePartition = q
		}
	}

	for p := range layout.Partitions {
		ep.Shadows[p] = domainShadows(g, layout, ve, owners, p, depth)
		for sh, k := range ep.Shadows[p] {
			src := layout.EToP[k]
			local, ok := slices.BinarySearch(layout.Partitions[src].Elements, k)
			if !ok {
				return nil, fmt.Errorf("shadow element %d of partition %d missing from partition %d", k, p, src)
			}
			pick := &ep.PickIndices[src][p]
			pick.Elements = append(pick.Elements, k)
			pick.Locals = append(pick.Locals, local)
			place := &ep.PlaceIndices[p][src]
			place.Elements = append(place.Elements, k)
			place.Shadows = append(place.Shadows, sh)
		}
	}
	return ep, nil
}

// GetPickIndices returns the global elements sent from source to target
func (ep *ExchangePlan) GetPickIndices(sourcePartition, targetPartition int) []int {
	if sourcePartition < 0 || sourcePartition >= ep.NumPartitions ||
		targetPartition < 0 || targetPartition >= ep.NumPartitions {
		return nil
	}
	return ep.PickIndices[sourcePartition][targetPartition].Elements
}

// GetPlaceIndices returns the global elements target receives from source
func (ep *ExchangePlan) GetPlaceIndices(targetPartition, sourcePartition int) []int {
	if targetPartition < 0 || targetPartition >= ep.NumPartitions ||
		sourcePartition < 0 || sourcePartition >= ep.NumPartitions {
		return nil
	}
	return ep.PlaceIndices[targetPartition][sourcePartition].Elements
}

// Volume is the number of element records moved by one exchange
func (ep *ExchangePlan) Volume() int {
	n := 0
	for _, s := range ep.Shadows {
		n += len(s)
	}
	return n
}

// Neighbours returns the partitions p receives from
func (ep *ExchangePlan) Neighbours(p int) []int {
	var peers []int
	for q, place := range ep.PlaceIndices[p] {
		if len(place.Elements) > 0 {
			peers = append(peers, q)
		}
	}
	return peers
}

// Verify checks index validity and conservation properties
func (ep *ExchangePlan) Verify() error {
	// Local validity: every pick is a local of the source
	for p := 0; p < ep.NumPartitions; p++ {
		elems := ep.layout.Partitions[p].Elements
		for q := 0; q < ep.NumPartitions; q++ {
			pick := ep.PickIndices[p][q]
			if p == q && len(pick.Elements) > 0 {
				return fmt.Errorf("partition %d picks %d elements for itself", p, len(pick.Elements))
			}
			for i, l := range pick.Locals {
				if l < 0 || l >= len(elems) || elems[l] != pick.Elements[i] {
					return fmt.Errorf("invalid pick %d of element %d for partition %d", l, pick.Elements[i], p)
				}
			}
		}
	}

	// Correspondence: both sides agree on the records and their order
	for p := 0; p < ep.NumPartitions; p++ {
		for q := 0; q < ep.NumPartitions; q++ {
			if !slices.Equal(ep.PickIndices[p][q].Elements, ep.PlaceIndices[q][p].Elements) {
				return fmt.Errorf("mismatch: pick[%d][%d] has %d elements, place[%d][%d] has %d",
					p, q, len(ep.PickIndices[p][q].Elements), q, p, len(ep.PlaceIndices[q][p].Elements))
			}
		}
	}

	// Conservation: every shadow is placed exactly once
	totalPicks := 0
	for p := 0; p < ep.NumPartitions; p++ {
		placed := make([]bool, len(ep.Shadows[p]))
		for q := 0; q < ep.NumPartitions; q++ {
			totalPicks += len(ep.PickIndices[q][p].Elements)
			for _, sh := range ep.PlaceIndices[p][q].Shadows {
				if sh < 0 || sh >= len(placed) || placed[sh] {
					return fmt.Errorf("partition %d places shadow %d twice or out of range", p, sh)
				}
				placed[sh] = true
			}
		}
	}
	if totalPicks != ep.Volume() {
		return fmt.Errorf("conservation error: total picks %d != total shadows %d", totalPicks, ep.Volume())
	}
	return nil
}

// CheckSync compares the element exchange rank negotiated in elems with
// the plan: per incident peer, what it receives and what it sends
func (ep *ExchangePlan) CheckSync(rank int, elems *decomp.Sync) error {
	if !slices.Equal(elems.Remotes(), ep.Shadows[rank]) {
		return fmt.Errorf("rank %d: %d shadow elements, plan has %d: %w",
			rank, elems.NumShadows(), len(ep.Shadows[rank]), decomp.ErrNegotiation)
	}
	peers := elems.Topology().Incidence()
	for i, q := range peers {
		if !slices.Equal(elems.Sources()[i], ep.GetPlaceIndices(rank, q)) {
			return fmt.Errorf("rank %d: receives %v from %d, plan has %v: %w",
				rank, elems.Sources()[i], q, ep.GetPlaceIndices(rank, q), decomp.ErrNegotiation)
		}
		if !slices.Equal(elems.Sinks()[i], ep.GetPickIndices(rank, q)) {
			return fmt.Errorf("rank %d: sends %v to %d, plan has %v: %w",
				rank, elems.Sinks()[i], q, ep.GetPickIndices(rank, q), decomp.ErrNegotiation)
		}
	}
	for _, q := range ep.Neighbours(rank) {
		if !slices.Contains(peers, q) {
			return fmt.Errorf("rank %d: plan neighbour %d is not incident: %w", rank, q, decomp.ErrNegotiation)
		}
	}
	return nil
}
