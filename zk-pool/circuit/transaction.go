package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// AmountBits is the range every output amount is checked against.
const AmountBits = 248

// Outputs is the fixed number of notes a transaction creates.
const Outputs = 2

// Transaction proves that the spender owns unspent notes in the tree under
// Root and that the notes it creates keep the value balanced. Deposits and
// withdrawals satisfy sum(inputs) + PublicAmount == sum(outputs); a transfer
// carries its fee as PublicAmount and satisfies
// sum(inputs) == sum(outputs) + PublicAmount. The circuit accepts either
// relation; the pool contract recomputes PublicAmount from the ext data of
// the transaction kind.
type Transaction struct {
	Root             frontend.Variable   `gnark:",public"`
	PublicAmount     frontend.Variable   `gnark:",public"`
	ExtDataHash      frontend.Variable   `gnark:",public"`
	InputNullifier   []frontend.Variable `gnark:",public"`
	OutputCommitment []frontend.Variable `gnark:",public"`

	InAmount       []frontend.Variable
	InPrivateKey   []frontend.Variable
	InBlinding     []frontend.Variable
	InPathIndices  []frontend.Variable
	InPathElements [][]frontend.Variable

	OutAmount   []frontend.Variable
	OutPubkey   []frontend.Variable
	OutBlinding []frontend.Variable
}

// New allocates a circuit for a tree of the given height.
func New(levels, nIns int) *Transaction {
	c := &Transaction{
		InputNullifier:   make([]frontend.Variable, nIns),
		OutputCommitment: make([]frontend.Variable, Outputs),
		InAmount:         make([]frontend.Variable, nIns),
		InPrivateKey:     make([]frontend.Variable, nIns),
		InBlinding:       make([]frontend.Variable, nIns),
		InPathIndices:    make([]frontend.Variable, nIns),
		InPathElements:   make([][]frontend.Variable, nIns),
		OutAmount:        make([]frontend.Variable, Outputs),
		OutPubkey:        make([]frontend.Variable, Outputs),
		OutBlinding:      make([]frontend.Variable, Outputs),
	}
	for i := range c.InPathElements {
		c.InPathElements[i] = make([]frontend.Variable, levels)
	}
	return c
}

func hash(h *mimc.MiMC, vals ...frontend.Variable) frontend.Variable {
	h.Reset()
	h.Write(vals...)
	return h.Sum()
}

func (c *Transaction) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	levels := len(c.InPathElements[0])

	sumIns := frontend.Variable(0)
	for i := range c.InAmount {
		pub := hash(&h, c.InPrivateKey[i])
		cm := hash(&h, c.InAmount[i], pub, c.InBlinding[i])
		sig := hash(&h, c.InPrivateKey[i], cm, c.InPathIndices[i])
		nf := hash(&h, cm, c.InPathIndices[i], sig)
		api.AssertIsEqual(c.InputNullifier[i], nf)

		// membership is only enforced for notes that carry value
		root := cm
		bits := api.ToBinary(c.InPathIndices[i], levels)
		for l := 0; l < levels; l++ {
			left := api.Select(bits[l], c.InPathElements[i][l], root)
			right := api.Select(bits[l], root, c.InPathElements[i][l])
			root = hash(&h, left, right)
		}
		api.AssertIsEqual(api.Mul(api.Sub(root, c.Root), c.InAmount[i]), 0)

		sumIns = api.Add(sumIns, c.InAmount[i])
	}

	sumOuts := frontend.Variable(0)
	for j := range c.OutAmount {
		cm := hash(&h, c.OutAmount[j], c.OutPubkey[j], c.OutBlinding[j])
		api.AssertIsEqual(c.OutputCommitment[j], cm)
		api.ToBinary(c.OutAmount[j], AmountBits)
		sumOuts = api.Add(sumOuts, c.OutAmount[j])
	}

	for i := range c.InputNullifier {
		for j := i + 1; j < len(c.InputNullifier); j++ {
			api.AssertIsDifferent(c.InputNullifier[i], c.InputNullifier[j])
		}
	}

	inflow := api.Sub(api.Add(sumIns, c.PublicAmount), sumOuts)
	outflow := api.Sub(sumIns, api.Add(sumOuts, c.PublicAmount))
	api.AssertIsEqual(api.Mul(inflow, outflow), 0)

	// binds ExtDataHash into the proof
	api.Mul(c.ExtDataHash, c.ExtDataHash)
	return nil
}

// Compile builds the PLONK constraint system of the nIns input variant.
func Compile(levels, nIns int) (constraint.ConstraintSystem, error) {
	if levels <= 0 || nIns <= 0 {
		return nil, fmt.Errorf("invalid circuit shape: levels %d, inputs %d", levels, nIns)
	}
	return frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, New(levels, nIns), frontend.IgnoreUnconstrainedInputs())
}
