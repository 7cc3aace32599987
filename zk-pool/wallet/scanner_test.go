package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type spentSet map[fr.Element]bool

func (s spentSet) IsSpent(_ context.Context, nf fr.Element) (bool, error) {
	return s[nf], nil
}

type failingChecker struct{}

func (failingChecker) IsSpent(context.Context, fr.Element) (bool, error) {
	return false, errors.New("connection refused")
}

func appendNote(t *testing.T, evs []events.CommitmentEvent, amount uint64, owner *types.KeyPair) ([]events.CommitmentEvent, *types.Utxo) {
	u, err := types.NewUtxo(uint256.NewInt(amount), owner, types.WithLeafIndex(uint64(len(evs))))
	require.NoError(t, err)
	enc, err := u.Encrypt()
	require.NoError(t, err)
	cm := u.Commitment()
	return append(evs, events.CommitmentEvent{
		LeafIndex:       uint64(len(evs)),
		Commitment:      common.Hash(cm.Bytes()),
		EncryptedOutput: enc,
	}), u
}

func TestNotesAndBalance(t *testing.T) {
	alice, bob := types.NewRandomKeyPair(), types.NewRandomKeyPair()

	var evs []events.CommitmentEvent
	evs, a1 := appendNote(t, evs, 100, alice)
	evs, _ = appendNote(t, evs, 70, bob)
	evs, _ = appendNote(t, evs, 0, alice)
	evs, a2 := appendNote(t, evs, 30, alice)
	evs, a3 := appendNote(t, evs, 5, alice)

	log, err := events.VerifyCommitments(evs)
	require.NoError(t, err)

	nf, err := a3.Nullifier()
	require.NoError(t, err)
	s := NewScanner(spentSet{nf: true}, zerolog.Nop())

	notes, err := s.Notes(alice, log)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	for i, want := range []*types.Utxo{a1, a2, a3} {
		require.Equal(t, want.Commitment(), notes[i].Commitment())
		wantIdx, _ := want.LeafIndex()
		idx, ok := notes[i].LeafIndex()
		require.True(t, ok)
		require.Equal(t, wantIdx, idx)
	}

	unspent, err := s.UnspentNotes(context.Background(), alice, log)
	require.NoError(t, err)
	require.Len(t, unspent, 2)

	bal, err := s.Balance(context.Background(), alice, log)
	require.NoError(t, err)
	require.Equal(t, uint64(130), bal.Uint64())

	bal, err = s.Balance(context.Background(), bob, log)
	require.NoError(t, err)
	require.Equal(t, uint64(70), bal.Uint64())

	bal, err = s.Balance(context.Background(), types.NewRandomKeyPair(), log)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestSkipsMismatchedCommitment(t *testing.T) {
	alice := types.NewRandomKeyPair()
	evs, _ := appendNote(t, nil, 10, alice)
	forged := utils.Uint64Element(42)
	evs[0].Commitment = common.Hash(forged.Bytes())
	log, err := events.VerifyCommitments(evs)
	require.NoError(t, err)

	notes, err := NewScanner(spentSet{}, zerolog.Nop()).Notes(alice, log)
	require.NoError(t, err)
	require.Empty(t, notes)
}

func TestScannerErrors(t *testing.T) {
	alice := types.NewRandomKeyPair()
	evs, _ := appendNote(t, nil, 10, alice)
	log, err := events.VerifyCommitments(evs)
	require.NoError(t, err)

	_, err = NewScanner(spentSet{}, zerolog.Nop()).Notes(alice.ViewOnly(), log)
	require.ErrorIs(t, err, types.ErrViewOnlyKey)

	_, err = NewScanner(failingChecker{}, zerolog.Nop()).UnspentNotes(context.Background(), alice, log)
	require.ErrorIs(t, err, types.ErrNetwork)
}

func TestLargest(t *testing.T) {
	kp := types.NewRandomKeyPair()
	var notes []*types.Utxo
	for i, amount := range []uint64{5, 50, 1, 20, 7} {
		u, err := types.NewUtxo(uint256.NewInt(amount), kp, types.WithLeafIndex(uint64(i)))
		require.NoError(t, err)
		notes = append(notes, u)
	}

	top := Largest(notes, 3)
	require.Len(t, top, 3)
	var got []uint64
	for _, u := range top {
		got = append(got, u.Amount().Uint64())
	}
	require.Equal(t, []uint64{50, 20, 7}, got)

	require.Len(t, Largest(notes, 10), 5)
}
