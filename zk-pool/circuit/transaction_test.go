package circuit

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/test"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/stretchr/testify/require"
)

const testLevels = 4

type note struct {
	amount   fr.Element
	priv     fr.Element
	blinding fr.Element
	index    uint64
}

func newNote(amount uint64) note {
	return note{
		amount:   utils.Uint64Element(amount),
		priv:     utils.RandomElement(31),
		blinding: utils.RandomElement(31),
	}
}

func (n note) pub() fr.Element {
	return utils.Hash(n.priv)
}

func (n note) commitment() fr.Element {
	return utils.Hash(n.amount, n.pub(), n.blinding)
}

func (n note) nullifier() fr.Element {
	cm := n.commitment()
	idx := utils.Uint64Element(n.index)
	return utils.Hash(cm, idx, utils.Hash(n.priv, cm, idx))
}

// spend builds a witness spending ins (placed in tree when non-zero) into
// outs, with publicAmount balancing the difference.
func spend(t *testing.T, ins, outs []note, publicAmount fr.Element) *Witness {
	leaves := []fr.Element{utils.RandomElement(31)}
	for i := range ins {
		if !ins[i].amount.IsZero() {
			ins[i].index = uint64(len(leaves))
			leaves = append(leaves, ins[i].commitment())
		}
	}
	tree, err := merkle.New(testLevels, leaves, merkle.DefaultZero)
	require.NoError(t, err)

	w := &Witness{Root: tree.Root(), PublicAmount: publicAmount, ExtDataHash: utils.RandomElement(31)}
	for _, in := range ins {
		path := make([]fr.Element, testLevels)
		if !in.amount.IsZero() {
			p, err := tree.Path(int(in.index))
			require.NoError(t, err)
			path = p.Elements
		}
		w.InputNullifier = append(w.InputNullifier, in.nullifier())
		w.InAmount = append(w.InAmount, in.amount)
		w.InPrivateKey = append(w.InPrivateKey, in.priv)
		w.InBlinding = append(w.InBlinding, in.blinding)
		w.InPathIndices = append(w.InPathIndices, in.index)
		w.InPathElements = append(w.InPathElements, path)
	}
	for _, out := range outs {
		w.OutputCommitment = append(w.OutputCommitment, out.commitment())
		w.OutAmount = append(w.OutAmount, out.amount)
		w.OutPubkey = append(w.OutPubkey, out.pub())
		w.OutBlinding = append(w.OutBlinding, out.blinding)
	}
	return w
}

func solved(t *testing.T, w *Witness) error {
	a, err := w.Assignment(testLevels)
	require.NoError(t, err)
	return test.IsSolved(New(testLevels, w.Inputs()), a, ecc.BN254.ScalarField())
}

func negate(v uint64) fr.Element {
	e := utils.Uint64Element(v)
	e.Neg(&e)
	return e
}

func TestDeposit(t *testing.T) {
	w := spend(t, []note{newNote(0), newNote(0)}, []note{newNote(100), newNote(0)}, utils.Uint64Element(100))
	require.NoError(t, solved(t, w))
}

func TestWithdrawAndTransfer(t *testing.T) {
	// withdraw 30 with fee 2 out of 50: change 18
	w := spend(t, []note{newNote(50), newNote(0)}, []note{newNote(18), newNote(0)}, negate(32))
	require.NoError(t, solved(t, w))

	// transfer 25 with fee 1 out of 20 + 10: change 4, public amount is the fee
	w = spend(t, []note{newNote(20), newNote(10)}, []note{newNote(25), newNote(4)}, utils.Uint64Element(1))
	require.NoError(t, solved(t, w))
}

func TestSixteenInputs(t *testing.T) {
	ins := make([]note, 16)
	for i := range ins {
		ins[i] = newNote(0)
	}
	ins[3], ins[9] = newNote(7), newNote(5)
	w := spend(t, ins, []note{newNote(12), newNote(0)}, fr.Element{})
	require.NoError(t, solved(t, w))
}

func TestRejectsUnbalanced(t *testing.T) {
	w := spend(t, []note{newNote(50), newNote(0)}, []note{newNote(18), newNote(0)}, negate(31))
	require.Error(t, solved(t, w))

	// transfer claiming a fee of 2 while only 1 is left over
	w = spend(t, []note{newNote(20), newNote(10)}, []note{newNote(25), newNote(4)}, utils.Uint64Element(2))
	require.Error(t, solved(t, w))
}

func TestRejectsWrongRoot(t *testing.T) {
	w := spend(t, []note{newNote(50), newNote(0)}, []note{newNote(50), newNote(0)}, fr.Element{})
	w.Root = utils.RandomElement(31)
	require.Error(t, solved(t, w))

	// zero-value inputs are not checked against the root
	w = spend(t, []note{newNote(0), newNote(0)}, []note{newNote(0), newNote(0)}, fr.Element{})
	w.Root = utils.RandomElement(31)
	require.NoError(t, solved(t, w))
}

func TestRejectsWrongNullifier(t *testing.T) {
	w := spend(t, []note{newNote(50), newNote(0)}, []note{newNote(50), newNote(0)}, fr.Element{})
	w.InputNullifier[0] = utils.RandomElement(31)
	require.Error(t, solved(t, w))
}

func TestRejectsDuplicateInputs(t *testing.T) {
	n := newNote(0)
	w := spend(t, []note{n, n}, []note{newNote(0), newNote(0)}, fr.Element{})
	require.Error(t, solved(t, w))
}

func TestRejectsOutOfRangeAmount(t *testing.T) {
	big248 := new(big.Int).Lsh(big.NewInt(1), AmountBits)
	out := newNote(0)
	out.amount.SetBigInt(big248)
	var pa fr.Element
	pa.SetBigInt(big248)
	w := spend(t, []note{newNote(0), newNote(0)}, []note{out, newNote(0)}, pa)
	require.Error(t, solved(t, w))
}

func TestWitnessShape(t *testing.T) {
	w := spend(t, []note{newNote(0), newNote(0)}, []note{newNote(0), newNote(0)}, fr.Element{})
	_, err := w.Assignment(testLevels + 1)
	require.Error(t, err)

	w.OutAmount = w.OutAmount[:1]
	_, err = w.Assignment(testLevels)
	require.Error(t, err)
}
