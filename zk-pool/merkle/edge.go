package merkle

import (
	"encoding/json"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
)

// Path is a membership proof. Indices[l] is 1 when the node at level l is a
// right child; Positions[l] is the sibling index, or 0 when the sibling is
// the zero subtree.
type Path struct {
	Index     int
	Elements  []fr.Element
	Indices   []int
	Positions []int
	Root      fr.Element
}

func newPath(levels, index int) *Path {
	return &Path{
		Index:     index,
		Elements:  make([]fr.Element, levels),
		Indices:   make([]int, levels),
		Positions: make([]int, levels),
	}
}

// ComputeRoot folds leaf up the path.
func (p *Path) ComputeRoot(leaf fr.Element) fr.Element {
	cur := leaf
	for l := range p.Elements {
		if p.Indices[l] == 1 {
			cur = utils.Hash(p.Elements[l], cur)
		} else {
			cur = utils.Hash(cur, p.Elements[l])
		}
	}
	return cur
}

// Edge is the leftmost known leaf of a partial tree with its proof.
type Edge struct {
	EdgePath          Path
	EdgeElement       fr.Element
	EdgeIndex         int
	EdgeElementsCount int
}

// Slice is a contiguous run of leaves starting at Edge.EdgeIndex.
type Slice struct {
	Edge     Edge
	Elements []fr.Element
}

type pathJSON struct {
	PathElements  []common.Hash `json:"pathElements"`
	PathIndices   []int         `json:"pathIndices"`
	PathPositions []int         `json:"pathPositions"`
	PathRoot      common.Hash   `json:"pathRoot"`
}

type edgeJSON struct {
	EdgePath          pathJSON    `json:"edgePath"`
	EdgeElement       common.Hash `json:"edgeElement"`
	EdgeIndex         int         `json:"edgeIndex"`
	EdgeElementsCount int         `json:"edgeElementsCount"`
}

type sliceJSON struct {
	Edge     edgeJSON      `json:"edge"`
	Elements []common.Hash `json:"elements"`
}

func toHash(e fr.Element) common.Hash {
	return common.Hash(e.Bytes())
}

func toHashes(es []fr.Element) []common.Hash {
	out := make([]common.Hash, len(es))
	for i := range es {
		out[i] = toHash(es[i])
	}
	return out
}

func fromHash(h common.Hash) (fr.Element, error) {
	var e fr.Element
	err := e.SetBytesCanonical(h[:])
	return e, err
}

func fromHashes(hs []common.Hash) ([]fr.Element, error) {
	out := make([]fr.Element, len(hs))
	for i := range hs {
		e, err := fromHash(hs[i])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (s *Slice) MarshalJSON() ([]byte, error) {
	p := s.Edge.EdgePath
	return json.Marshal(&sliceJSON{
		Edge: edgeJSON{
			EdgePath: pathJSON{
				PathElements:  toHashes(p.Elements),
				PathIndices:   p.Indices,
				PathPositions: p.Positions,
				PathRoot:      toHash(p.Root),
			},
			EdgeElement:       toHash(s.Edge.EdgeElement),
			EdgeIndex:         s.Edge.EdgeIndex,
			EdgeElementsCount: s.Edge.EdgeElementsCount,
		},
		Elements: toHashes(s.Elements),
	})
}

func (s *Slice) UnmarshalJSON(data []byte) error {
	var v sliceJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	elems, err := fromHashes(v.Edge.EdgePath.PathElements)
	if err != nil {
		return err
	}
	root, err := fromHash(v.Edge.EdgePath.PathRoot)
	if err != nil {
		return err
	}
	edgeElement, err := fromHash(v.Edge.EdgeElement)
	if err != nil {
		return err
	}
	leaves, err := fromHashes(v.Elements)
	if err != nil {
		return err
	}
	*s = Slice{
		Edge: Edge{
			EdgePath: Path{
				Index:     v.Edge.EdgeIndex,
				Elements:  elems,
				Indices:   v.Edge.EdgePath.PathIndices,
				Positions: v.Edge.EdgePath.PathPositions,
				Root:      root,
			},
			EdgeElement:       edgeElement,
			EdgeIndex:         v.Edge.EdgeIndex,
			EdgeElementsCount: v.Edge.EdgeElementsCount,
		},
		Elements: leaves,
	}
	return nil
}
