package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// SpentChecker reports whether a nullifier was published by the pool.
type SpentChecker interface {
	IsSpent(ctx context.Context, nullifier fr.Element) (bool, error)
}

// Scanner finds the notes a key pair owns in a commitment log.
type Scanner struct {
	spent SpentChecker
	log   zerolog.Logger
}

func NewScanner(spent SpentChecker, log zerolog.Logger) *Scanner {
	return &Scanner{
		spent: spent,
		log:   log.With().Str("module", "wallet").Logger(),
	}
}

// Notes decrypts every non-zero note of kp in log, spent or not, ordered by
// leaf index.
func (s *Scanner) Notes(kp *types.KeyPair, log *events.VerifiedLog) ([]*types.Utxo, error) {
	if kp.IsViewOnly() {
		return nil, fmt.Errorf("scan notes: %w", types.ErrViewOnlyKey)
	}
	var notes []*types.Utxo
	for _, ev := range log.Events() {
		u, err := types.DecryptUtxo(kp, ev.EncryptedOutput, ev.LeafIndex)
		if errors.Is(err, types.ErrDecryptionFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", ev.LeafIndex, err)
		}
		cm := u.Commitment()
		if evCm, err := ev.Element(); err != nil || !evCm.Equal(&cm) {
			s.log.Warn().Uint64("leaf", ev.LeafIndex).Str("tx", ev.TxHash.Hex()).
				Msg("note decrypts but does not match its commitment")
			continue
		}
		if u.IsZero() {
			continue
		}
		notes = append(notes, u)
	}
	return notes, nil
}

// UnspentNotes is Notes without the notes whose nullifier is spent.
func (s *Scanner) UnspentNotes(ctx context.Context, kp *types.KeyPair, log *events.VerifiedLog) ([]*types.Utxo, error) {
	notes, err := s.Notes(kp, log)
	if err != nil {
		return nil, err
	}
	unspent := notes[:0]
	for _, u := range notes {
		nf, err := u.Nullifier()
		if err != nil {
			return nil, err
		}
		spent, err := s.spent.IsSpent(ctx, nf)
		if err != nil {
			return nil, fmt.Errorf("%w: isSpent %s: %w", types.ErrNetwork, utils.ElementHex(nf), err)
		}
		if !spent {
			unspent = append(unspent, u)
		}
	}
	s.log.Debug().Int("owned", len(notes)).Int("unspent", len(unspent)).Msg("notes scanned")
	return unspent, nil
}

// Balance sums the unspent notes of kp.
func (s *Scanner) Balance(ctx context.Context, kp *types.KeyPair, log *events.VerifiedLog) (*uint256.Int, error) {
	notes, err := s.UnspentNotes(ctx, kp, log)
	if err != nil {
		return nil, err
	}
	return types.SumAmounts(notes), nil
}

// Largest returns at most n notes with the highest amounts, ordered by leaf
// index.
func Largest(notes []*types.Utxo, n int) []*types.Utxo {
	if len(notes) <= n {
		return notes
	}
	sorted := append([]*types.Utxo(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount().Gt(sorted[j].Amount())
	})
	sorted = sorted[:n]
	sort.Slice(sorted, func(i, j int) bool {
		a, _ := sorted[i].LeafIndex()
		b, _ := sorted[j].LeafIndex()
		return a < b
	})
	return sorted
}
