package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

var recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newLedger(t *testing.T, opts ...Option) *Ledger {
	l, err := New(8, merkle.DefaultZero, opts...)
	require.NoError(t, err)
	return l
}

func makeTx(t *testing.T, l *Ledger, kind types.TxKind, extAmount, fee int64, nullifiers ...fr.Element) *types.Transaction {
	ext := &types.ExtData{
		ExtAmount:        big.NewInt(extAmount),
		Fee:              big.NewInt(fee),
		EncryptedOutput1: []byte{1},
		EncryptedOutput2: []byte{2},
	}
	if kind == types.Withdraw {
		ext.Recipient = recipient
	}
	hash, err := ext.Hash()
	require.NoError(t, err)
	pa, err := ext.PublicAmount(kind)
	require.NoError(t, err)
	if len(nullifiers) == 0 {
		nullifiers = []fr.Element{utils.RandomElement(31), utils.RandomElement(31)}
	}
	return &types.Transaction{
		Kind: kind,
		ProofArgs: &types.ProofArgs{
			Root:              l.Root(),
			InputNullifiers:   nullifiers,
			OutputCommitments: [2]fr.Element{utils.RandomElement(31), utils.RandomElement(31)},
			PublicAmount:      pa,
			ExtDataHash:       hash,
		},
		ExtData: ext,
	}
}

func TestLedgerDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, WithDeployedBlock(50))

	dep := makeTx(t, l, types.Deposit, 100, 0)
	require.NoError(t, l.Transact(ctx, dep))
	require.Equal(t, int64(100), l.Balance().Int64())

	block, err := l.BlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(51), block)

	cms, err := l.CommitmentEvents(ctx, 51, 51)
	require.NoError(t, err)
	require.Len(t, cms, 2)
	require.Equal(t, uint64(1), cms[1].LeafIndex)
	require.Equal(t, common.Hash(dep.ProofArgs.OutputCommitments[1].Bytes()), cms[1].Commitment)
	require.Equal(t, []byte{2}, []byte(cms[1].EncryptedOutput))

	known, err := l.IsKnownRoot(ctx, l.Root())
	require.NoError(t, err)
	require.True(t, known)
	known, err = l.IsKnownRoot(ctx, dep.ProofArgs.Root)
	require.NoError(t, err)
	require.True(t, known)

	wd := makeTx(t, l, types.Withdraw, 40, 5)
	require.NoError(t, l.Transact(ctx, wd))
	require.Equal(t, int64(55), l.Balance().Int64())

	spent, err := l.IsSpent(ctx, wd.ProofArgs.InputNullifiers[0])
	require.NoError(t, err)
	require.True(t, spent)

	nfs, err := l.NullifierEvents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, nfs, 4)

	// replaying the same inputs is a double spend
	again := makeTx(t, l, types.Withdraw, 1, 0, wd.ProofArgs.InputNullifiers...)
	require.ErrorIs(t, l.Transact(ctx, again), ErrNullifierSpent)
}

func TestLedgerRejects(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Transact(ctx, makeTx(t, l, types.Deposit, 10, 0)))

	nf := utils.RandomElement(31)
	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Transfer, 0, 1, nf, nf)), ErrDuplicateNullifier)

	tx := makeTx(t, l, types.Transfer, 0, 1)
	tx.ProofArgs.Root = utils.RandomElement(31)
	require.ErrorIs(t, l.Transact(ctx, tx), types.ErrUnknownRoot)

	tx = makeTx(t, l, types.Transfer, 0, 1)
	tx.ExtData.Fee = big.NewInt(2)
	require.ErrorIs(t, l.Transact(ctx, tx), ErrInvalidExtDataHash)

	// a transfer's public amount is the fee itself, not FieldSize - fee
	tx = makeTx(t, l, types.Transfer, 0, 1)
	require.Equal(t, utils.Uint64Element(1), tx.ProofArgs.PublicAmount)
	negFee := utils.Uint64Element(1)
	negFee.Neg(&negFee)
	tx.ProofArgs.PublicAmount = negFee
	require.ErrorIs(t, l.Transact(ctx, tx), ErrInvalidPublicAmount)

	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Deposit, 10, 1)), ErrInvalidExtData)
	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Transfer, 3, 0)), ErrInvalidExtData)
	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Withdraw, -5, 0)), ErrInvalidExtData)
	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Withdraw, 0, 1)), ErrInvalidExtData)

	tx = makeTx(t, l, types.Transfer, 0, 0, utils.RandomElement(31), utils.RandomElement(31), utils.RandomElement(31))
	require.ErrorIs(t, l.Transact(ctx, tx), types.ErrTooManyInputs)

	require.ErrorIs(t, l.Transact(ctx, makeTx(t, l, types.Withdraw, 20, 0)), ErrPoolBalance)
	require.Equal(t, int64(10), l.Balance().Int64())
}

func TestLedgerRootHistory(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	first := l.Root()
	for i := 0; i < RootHistorySize; i++ {
		require.NoError(t, l.Transact(ctx, makeTx(t, l, types.Deposit, 1, 0)))
	}
	known, err := l.IsKnownRoot(ctx, first)
	require.NoError(t, err)
	require.False(t, known)

	known, err = l.IsKnownRoot(ctx, fr.Element{})
	require.NoError(t, err)
	require.False(t, known)
}

type rejectAll struct{}

func (rejectAll) Verify(*types.ProofArgs) error {
	return errors.New("pairing check failed")
}

func TestLedgerVerifier(t *testing.T) {
	l := newLedger(t, WithVerifier(rejectAll{}))
	err := l.Transact(context.Background(), makeTx(t, l, types.Deposit, 1, 0))
	require.ErrorIs(t, err, ErrInvalidProof)
	require.ErrorIs(t, err, types.ErrProof)
	require.Zero(t, l.Balance().Sign())
}

func TestLedgerRegistrar(t *testing.T) {
	l := newLedger(t)
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_, err := l.KeyPairOf(context.Background(), owner)
	require.ErrorIs(t, err, types.ErrValidation)

	kp := types.NewRandomKeyPair()
	l.Register(owner, kp)
	got, err := l.KeyPairOf(context.Background(), owner)
	require.NoError(t, err)
	require.True(t, got.Equals(kp))
	require.True(t, got.IsViewOnly())
}
