package circuit

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/kysee/zkpool/utils"
)

// Witness holds the values of every circuit input. Input arrays are padded
// to the circuit variant (2 or 16) and output arrays have Outputs entries.
type Witness struct {
	Root           fr.Element
	PublicAmount   fr.Element
	ExtDataHash    fr.Element
	InputNullifier []fr.Element
	InAmount       []fr.Element
	InPrivateKey   []fr.Element
	InBlinding     []fr.Element
	InPathIndices  []uint64
	InPathElements [][]fr.Element

	OutputCommitment []fr.Element
	OutAmount        []fr.Element
	OutPubkey        []fr.Element
	OutBlinding      []fr.Element
}

func (w *Witness) Inputs() int {
	return len(w.InAmount)
}

func (w *Witness) check(levels int) error {
	n := w.Inputs()
	if len(w.InputNullifier) != n || len(w.InPrivateKey) != n || len(w.InBlinding) != n ||
		len(w.InPathIndices) != n || len(w.InPathElements) != n {
		return fmt.Errorf("witness input arrays differ in length")
	}
	for _, path := range w.InPathElements {
		if len(path) != levels {
			return fmt.Errorf("witness path has %d elements, want %d", len(path), levels)
		}
	}
	if len(w.OutputCommitment) != Outputs || len(w.OutAmount) != Outputs ||
		len(w.OutPubkey) != Outputs || len(w.OutBlinding) != Outputs {
		return fmt.Errorf("witness must have %d outputs", Outputs)
	}
	return nil
}

func bigs(dst []frontend.Variable, src []fr.Element) {
	for i := range src {
		dst[i] = utils.ElementBig(src[i])
	}
}

// Assignment converts w to a full circuit assignment for a tree of height
// levels.
func (w *Witness) Assignment(levels int) (*Transaction, error) {
	if err := w.check(levels); err != nil {
		return nil, err
	}
	a := New(levels, w.Inputs())
	a.Root = utils.ElementBig(w.Root)
	a.PublicAmount = utils.ElementBig(w.PublicAmount)
	a.ExtDataHash = utils.ElementBig(w.ExtDataHash)
	bigs(a.InputNullifier, w.InputNullifier)
	bigs(a.OutputCommitment, w.OutputCommitment)
	bigs(a.InAmount, w.InAmount)
	bigs(a.InPrivateKey, w.InPrivateKey)
	bigs(a.InBlinding, w.InBlinding)
	for i, idx := range w.InPathIndices {
		a.InPathIndices[i] = new(big.Int).SetUint64(idx)
		bigs(a.InPathElements[i], w.InPathElements[i])
	}
	bigs(a.OutAmount, w.OutAmount)
	bigs(a.OutPubkey, w.OutPubkey)
	bigs(a.OutBlinding, w.OutBlinding)
	return a, nil
}

// Full returns the complete gnark witness.
func (w *Witness) Full(levels int) (witness.Witness, error) {
	a, err := w.Assignment(levels)
	if err != nil {
		return nil, err
	}
	return frontend.NewWitness(a, ecc.BN254.ScalarField())
}

// PublicAssignment assigns only the public inputs, in circuit order.
func PublicAssignment(levels int, root, publicAmount, extDataHash fr.Element, nullifiers, commitments []fr.Element) *Transaction {
	a := New(levels, len(nullifiers))
	a.Root = utils.ElementBig(root)
	a.PublicAmount = utils.ElementBig(publicAmount)
	a.ExtDataHash = utils.ElementBig(extDataHash)
	bigs(a.InputNullifier, nullifiers)
	bigs(a.OutputCommitment, commitments)
	return a
}

// Public returns the public gnark witness a verifier checks a proof against.
func Public(levels int, root, publicAmount, extDataHash fr.Element, nullifiers, commitments []fr.Element) (witness.Witness, error) {
	if len(commitments) != Outputs {
		return nil, fmt.Errorf("want %d output commitments, got %d", Outputs, len(commitments))
	}
	a := PublicAssignment(levels, root, publicAmount, extDataHash, nullifiers, commitments)
	return frontend.NewWitness(a, ecc.BN254.ScalarField(), frontend.PublicOnly())
}
