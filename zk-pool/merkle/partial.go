package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
)

// PartialTree knows the leaves from its edge rightward plus the edge proof.
// Nodes left of the edge are never materialized; where one is needed the
// sibling from the edge proof stands in for it.
type PartialTree struct {
	levels int
	zeros  []fr.Element
	edge   Edge

	// layers[l][k] is the node at index (edge.EdgeIndex >> l) + k
	layers [][]fr.Element
}

var _ Snapshot = (*PartialTree)(nil)

// NewPartial builds a tree from edge and the leaves starting at the edge.
// edge.EdgeIndex + len(leaves) must equal edge.EdgeElementsCount.
func NewPartial(levels int, edge Edge, leaves []fr.Element, zero fr.Element) (*PartialTree, error) {
	if levels <= 0 || levels > MaxLevels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevels, levels)
	}
	if err := checkEdge(levels, &edge, leaves); err != nil {
		return nil, err
	}
	if edge.EdgeIndex+len(leaves) != edge.EdgeElementsCount {
		return nil, fmt.Errorf("%w: invalid number of elements: %d + %d != %d",
			ErrInvalidEdge, edge.EdgeIndex, len(leaves), edge.EdgeElementsCount)
	}
	if uint64(edge.EdgeElementsCount) > capacity(levels) {
		return nil, ErrTreeFull
	}
	pt := &PartialTree{
		levels: levels,
		zeros:  zeroLayers(levels, zero),
		edge:   edge,
		layers: make([][]fr.Element, levels+1),
	}
	pt.layers[0] = append([]fr.Element(nil), leaves...)
	pt.rebuild(edge.EdgeIndex)
	return pt, nil
}

func checkEdge(levels int, edge *Edge, elements []fr.Element) error {
	if edge.EdgeIndex < 0 {
		return fmt.Errorf("%w: negative edge index", ErrInvalidEdge)
	}
	if len(edge.EdgePath.Elements) != levels {
		return fmt.Errorf("%w: edge path has %d elements, want %d", ErrInvalidEdge, len(edge.EdgePath.Elements), levels)
	}
	if len(elements) == 0 || !elements[0].Equal(&edge.EdgeElement) {
		return fmt.Errorf("%w: elements do not start with the edge element", ErrInvalidEdge)
	}
	return nil
}

func (pt *PartialTree) start(level int) int {
	return pt.edge.EdgeIndex >> uint(level)
}

func (pt *PartialTree) Levels() int {
	return pt.levels
}

func (pt *PartialTree) Edge() Edge {
	return pt.edge
}

func (pt *PartialTree) EdgeIndex() int {
	return pt.edge.EdgeIndex
}

// Len counts every leaf, including the unknown ones left of the edge.
func (pt *PartialTree) Len() int {
	return pt.edge.EdgeIndex + len(pt.layers[0])
}

func (pt *PartialTree) Root() fr.Element {
	return pt.layers[pt.levels][0]
}

// Elements returns the known leaves, starting at the edge.
func (pt *PartialTree) Elements() []fr.Element {
	return append([]fr.Element(nil), pt.layers[0]...)
}

func (pt *PartialTree) rebuild(from int) {
	idx := from
	for l := 1; l <= pt.levels; l++ {
		idx >>= 1
		s, ps := pt.start(l), pt.start(l-1)
		prev := pt.layers[l-1]
		prevLen := ps + len(prev)
		n := (prevLen + 1) / 2

		keep := min(max(idx-s, 0), len(pt.layers[l]))
		layer := pt.layers[l][:keep]
		for j := s + keep; j < n; j++ {
			var left fr.Element
			if 2*j < ps {
				left = pt.edge.EdgePath.Elements[l-1]
			} else {
				left = prev[2*j-ps]
			}
			right := pt.zeros[l-1]
			if 2*j+1 < prevLen {
				right = prev[2*j+1-ps]
			}
			layer = append(layer, utils.Hash(left, right))
		}
		pt.layers[l] = layer
	}
}

func (pt *PartialTree) BulkInsert(elements []fr.Element) error {
	if len(elements) == 0 {
		return nil
	}
	if uint64(pt.Len()+len(elements)) > capacity(pt.levels) {
		return ErrTreeFull
	}
	from := pt.Len()
	pt.layers[0] = append(pt.layers[0], elements...)
	pt.rebuild(from)
	return nil
}

// ShiftEdge moves the edge left to edge, prepending elements, which must
// cover exactly the leaves between the new and the current edge.
func (pt *PartialTree) ShiftEdge(edge Edge, elements []fr.Element) error {
	if edge.EdgeIndex >= pt.edge.EdgeIndex {
		return fmt.Errorf("%w: new edge index should be less than %d", ErrInvalidEdge, pt.edge.EdgeIndex)
	}
	if len(elements) != pt.edge.EdgeIndex-edge.EdgeIndex {
		return fmt.Errorf("%w: elements length should be %d", ErrInvalidEdge, pt.edge.EdgeIndex-edge.EdgeIndex)
	}
	if err := checkEdge(pt.levels, &edge, elements); err != nil {
		return err
	}
	leaves := make([]fr.Element, 0, len(elements)+len(pt.layers[0]))
	leaves = append(leaves, elements...)
	leaves = append(leaves, pt.layers[0]...)

	pt.edge = edge
	pt.layers = make([][]fr.Element, pt.levels+1)
	pt.layers[0] = leaves
	pt.rebuild(edge.EdgeIndex)
	return nil
}

// IndexOf only sees leaves at or right of the edge.
func (pt *PartialTree) IndexOf(element fr.Element) int {
	for i := range pt.layers[0] {
		if pt.layers[0][i].Equal(&element) {
			return pt.edge.EdgeIndex + i
		}
	}
	return -1
}

// Path is only defined for indices at or right of the edge.
func (pt *PartialTree) Path(index int) (*Path, error) {
	if index < pt.edge.EdgeIndex || index >= pt.Len() {
		return nil, fmt.Errorf("%w: %d not in [%d, %d)", ErrIndexOutOfBounds, index, pt.edge.EdgeIndex, pt.Len())
	}
	p := newPath(pt.levels, index)
	idx := index
	for l := 0; l < pt.levels; l++ {
		p.Indices[l] = idx & 1
		s := pt.start(l)
		n := s + len(pt.layers[l])
		sib := idx ^ 1
		switch {
		case sib >= n:
			p.Elements[l] = pt.zeros[l]
		case sib < s:
			p.Elements[l] = pt.edge.EdgePath.Elements[l]
			p.Positions[l] = sib
		default:
			p.Elements[l] = pt.layers[l][sib-s]
			p.Positions[l] = sib
		}
		idx >>= 1
	}
	p.Root = pt.Root()
	return p, nil
}
