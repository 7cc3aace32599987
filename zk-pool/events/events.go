package events

import (
	"context"
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kysee/zkpool/zk-pool/types"
)

// CommitmentEvent is one CommitmentInserted log of the pool.
type CommitmentEvent struct {
	LeafIndex       uint64        `json:"leafIndex"`
	Commitment      common.Hash   `json:"commitment"`
	EncryptedOutput hexutil.Bytes `json:"encryptedOutput"`
	BlockNumber     uint64        `json:"blockNumber"`
	TxHash          common.Hash   `json:"transactionHash"`
}

// Element returns the commitment as a field element.
func (e *CommitmentEvent) Element() (fr.Element, error) {
	var el fr.Element
	if err := el.SetBytesCanonical(e.Commitment[:]); err != nil {
		return el, fmt.Errorf("%w: commitment %s at %d is not a field element", types.ErrState, e.Commitment.Hex(), e.LeafIndex)
	}
	return el, nil
}

// NullifierEvent is one NewNullifier log of the pool.
type NullifierEvent struct {
	Nullifier   common.Hash `json:"nullifier"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      common.Hash `json:"transactionHash"`
}

// Cache is a persisted event log and the last block it covers.
type Cache[T any] struct {
	LastBlock uint64 `json:"lastBlock"`
	Events    []T    `json:"events"`
}

// Source reads pool logs over inclusive block ranges.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CommitmentEvents(ctx context.Context, from, to uint64) ([]CommitmentEvent, error)
	NullifierEvents(ctx context.Context, from, to uint64) ([]NullifierEvent, error)
}

// VerifiedLog is a commitment log that passed the contiguity check: the
// event at position i has leaf index i. Only VerifyCommitments builds one.
type VerifiedLog struct {
	events []CommitmentEvent
	leaves []fr.Element
}

// VerifyCommitments orders events by leaf index, drops exact duplicates and
// checks that indices run 0, 1, 2, ... without gaps or conflicts.
func VerifyCommitments(events []CommitmentEvent) (*VerifiedLog, error) {
	sorted := append([]CommitmentEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LeafIndex < sorted[j].LeafIndex
	})

	log := &VerifiedLog{}
	for i := range sorted {
		ev := sorted[i]
		if n := len(log.events); n > 0 && log.events[n-1].LeafIndex == ev.LeafIndex {
			if log.events[n-1].Commitment != ev.Commitment {
				return nil, fmt.Errorf("%w: conflicting commitments at leaf %d", types.ErrSequenceGapDetected, ev.LeafIndex)
			}
			continue
		}
		if ev.LeafIndex != uint64(len(log.events)) {
			return nil, fmt.Errorf("%w: leaf index %d at position %d", types.ErrSequenceGapDetected, ev.LeafIndex, len(log.events))
		}
		el, err := ev.Element()
		if err != nil {
			return nil, err
		}
		log.events = append(log.events, ev)
		log.leaves = append(log.leaves, el)
	}
	return log, nil
}

func (l *VerifiedLog) Len() int {
	return len(l.events)
}

// Events returns a copy of the log.
func (l *VerifiedLog) Events() []CommitmentEvent {
	return append([]CommitmentEvent(nil), l.events...)
}

// Leaves returns the commitments in leaf order.
func (l *VerifiedLog) Leaves() []fr.Element {
	return append([]fr.Element(nil), l.leaves...)
}

// NullifierSet is a nullifier log deduplicated by value.
type NullifierSet struct {
	events []NullifierEvent
	index  map[common.Hash]struct{}
}

func NewNullifierSet(events []NullifierEvent) *NullifierSet {
	s := &NullifierSet{index: make(map[common.Hash]struct{}, len(events))}
	for _, ev := range events {
		if _, ok := s.index[ev.Nullifier]; ok {
			continue
		}
		s.index[ev.Nullifier] = struct{}{}
		s.events = append(s.events, ev)
	}
	return s
}

func (s *NullifierSet) Len() int {
	return len(s.events)
}

func (s *NullifierSet) Events() []NullifierEvent {
	return append([]NullifierEvent(nil), s.events...)
}

func (s *NullifierSet) Contains(nullifier fr.Element) bool {
	_, ok := s.index[common.Hash(nullifier.Bytes())]
	return ok
}

// IsSpent answers spentness from the local log.
func (s *NullifierSet) IsSpent(_ context.Context, nullifier fr.Element) (bool, error) {
	return s.Contains(nullifier), nil
}
