package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/utils"
)

// MaxLevels bounds the tree height so leaf indices fit in an int everywhere.
const MaxLevels = 32

var (
	ErrTreeFull         = errors.New("merkle tree is full")
	ErrIndexOutOfBounds = errors.New("leaf index out of bounds")
	ErrInvalidLevels    = errors.New("invalid tree levels")
	ErrInvalidEdge      = errors.New("invalid tree edge")
)

// DefaultZero is keccak256("zkpool") mod FieldSize, the value of an empty leaf.
var DefaultZero = func() fr.Element {
	var e fr.Element
	e.SetBigInt(utils.Mod(new(big.Int).SetBytes(ethcrypto.Keccak256([]byte("zkpool")))))
	return e
}()

// Snapshot is the read side shared by full and partial trees.
type Snapshot interface {
	Levels() int
	Len() int
	Root() fr.Element
	IndexOf(element fr.Element) int
	Path(index int) (*Path, error)
}

// Tree is an append-only Merkle tree of fixed height holding every leaf.
// A node is Hash(left, right); a missing right child is the zero subtree of
// that level.
type Tree struct {
	levels int
	zeros  []fr.Element
	layers [][]fr.Element
}

var _ Snapshot = (*Tree)(nil)

func New(levels int, leaves []fr.Element, zero fr.Element) (*Tree, error) {
	if levels <= 0 || levels > MaxLevels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevels, levels)
	}
	t := &Tree{
		levels: levels,
		zeros:  zeroLayers(levels, zero),
		layers: make([][]fr.Element, levels+1),
	}
	if err := t.BulkInsert(leaves); err != nil {
		return nil, err
	}
	return t, nil
}

func zeroLayers(levels int, zero fr.Element) []fr.Element {
	zeros := make([]fr.Element, levels+1)
	zeros[0] = zero
	for i := 1; i <= levels; i++ {
		zeros[i] = utils.Hash(zeros[i-1], zeros[i-1])
	}
	return zeros
}

func capacity(levels int) uint64 {
	return uint64(1) << uint(levels)
}

func (t *Tree) Levels() int {
	return t.levels
}

func (t *Tree) Capacity() uint64 {
	return capacity(t.levels)
}

func (t *Tree) Len() int {
	return len(t.layers[0])
}

func (t *Tree) Zeros() []fr.Element {
	return append([]fr.Element(nil), t.zeros...)
}

func (t *Tree) Root() fr.Element {
	if top := t.layers[t.levels]; len(top) > 0 {
		return top[0]
	}
	return t.zeros[t.levels]
}

// Elements returns a copy of the leaves.
func (t *Tree) Elements() []fr.Element {
	return append([]fr.Element(nil), t.layers[0]...)
}

func (t *Tree) Insert(element fr.Element) error {
	return t.BulkInsert([]fr.Element{element})
}

func (t *Tree) BulkInsert(elements []fr.Element) error {
	if len(elements) == 0 {
		return nil
	}
	if uint64(t.Len()+len(elements)) > t.Capacity() {
		return ErrTreeFull
	}
	from := t.Len()
	t.layers[0] = append(t.layers[0], elements...)
	t.rebuild(from)
	return nil
}

// rebuild recomputes every node covering a leaf at index >= from.
func (t *Tree) rebuild(from int) {
	idx := from
	for l := 1; l <= t.levels; l++ {
		idx >>= 1
		prev := t.layers[l-1]
		n := (len(prev) + 1) / 2
		layer := t.layers[l][:min(idx, len(t.layers[l]))]
		for j := len(layer); j < n; j++ {
			right := t.zeros[l-1]
			if 2*j+1 < len(prev) {
				right = prev[2*j+1]
			}
			layer = append(layer, utils.Hash(prev[2*j], right))
		}
		t.layers[l] = layer
	}
}

func (t *Tree) IndexOf(element fr.Element) int {
	for i := range t.layers[0] {
		if t.layers[0][i].Equal(&element) {
			return i
		}
	}
	return -1
}

func (t *Tree) Path(index int) (*Path, error) {
	if index < 0 || index >= t.Len() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfBounds, index, t.Len())
	}
	p := newPath(t.levels, index)
	idx := index
	for l := 0; l < t.levels; l++ {
		p.Indices[l] = idx & 1
		sib := idx ^ 1
		if sib < len(t.layers[l]) {
			p.Elements[l] = t.layers[l][sib]
			p.Positions[l] = sib
		} else {
			p.Elements[l] = t.zeros[l]
		}
		idx >>= 1
	}
	p.Root = t.Root()
	return p, nil
}

// Edge captures what a partial tree needs to start at index.
func (t *Tree) Edge(index int) (*Edge, error) {
	path, err := t.Path(index)
	if err != nil {
		return nil, err
	}
	return &Edge{
		EdgePath:          *path,
		EdgeElement:       t.layers[0][index],
		EdgeIndex:         index,
		EdgeElementsCount: t.Len(),
	}, nil
}

// Slices splits the leaves into about count consecutive slices of even
// size, each carrying the edge at its first leaf.
func (t *Tree) Slices(count int) ([]*Slice, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid slice count %d", count)
	}
	length := t.Len()
	size := (length + count - 1) / count
	if size%2 == 1 {
		size++
	}
	var slices []*Slice
	for i := 0; i < length; i += size {
		edge, err := t.Edge(i)
		if err != nil {
			return nil, err
		}
		end := min(i+size, length)
		slices = append(slices, &Slice{
			Edge:     *edge,
			Elements: append([]fr.Element(nil), t.layers[0][i:end]...),
		})
	}
	return slices, nil
}
