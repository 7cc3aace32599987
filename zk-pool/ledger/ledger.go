package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// RootHistorySize is how many recent roots are accepted as proof roots.
const RootHistorySize = 100

// MaxExtAmount bounds the external amount and the fee.
var MaxExtAmount = new(big.Int).Lsh(big.NewInt(1), types.MaxAmountBits)

var (
	ErrNullifierSpent      = fmt.Errorf("%w: input is already spent", types.ErrState)
	ErrDuplicateNullifier  = fmt.Errorf("%w: duplicate input nullifier", types.ErrValidation)
	ErrInvalidExtData      = fmt.Errorf("%w: invalid ext data", types.ErrValidation)
	ErrInvalidExtDataHash  = fmt.Errorf("%w: incorrect external data hash", types.ErrValidation)
	ErrInvalidPublicAmount = fmt.Errorf("%w: invalid public amount", types.ErrValidation)
	ErrInvalidProof        = fmt.Errorf("%w: invalid transaction proof", types.ErrProof)
	ErrPoolBalance         = fmt.Errorf("%w: pool cannot cover the withdrawal", types.ErrBalance)
)

// Verifier checks the proof of a transaction against its public inputs.
type Verifier interface {
	Verify(args *types.ProofArgs) error
}

// Ledger is an in-memory pool contract. Every accepted transaction is
// mined in its own block.
type Ledger struct {
	mtx sync.RWMutex

	tree       *merkle.Tree
	roots      [RootHistorySize]fr.Element
	rootIndex  int
	nullifiers map[fr.Element]struct{}

	commitmentLog []events.CommitmentEvent
	nullifierLog  []events.NullifierEvent
	registrations map[common.Address][]byte

	balance  *big.Int
	block    uint64
	verifier Verifier
	log      zerolog.Logger
}

var _ events.Source = (*Ledger)(nil)

type Option func(*Ledger)

// WithVerifier makes the ledger check every proof.
func WithVerifier(v Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithDeployedBlock sets the block the ledger starts at.
func WithDeployedBlock(block uint64) Option {
	return func(l *Ledger) { l.block = block }
}

func New(levels int, zero fr.Element, opts ...Option) (*Ledger, error) {
	tree, err := merkle.New(levels, nil, zero)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		tree:          tree,
		nullifiers:    make(map[fr.Element]struct{}),
		registrations: make(map[common.Address][]byte),
		balance:       new(big.Int),
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.roots[0] = tree.Root()
	return l, nil
}

func (l *Ledger) BlockNumber(context.Context) (uint64, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.block, nil
}

func (l *Ledger) CommitmentEvents(_ context.Context, from, to uint64) ([]events.CommitmentEvent, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	var out []events.CommitmentEvent
	for _, ev := range l.commitmentLog {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *Ledger) NullifierEvents(_ context.Context, from, to uint64) ([]events.NullifierEvent, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	var out []events.NullifierEvent
	for _, ev := range l.nullifierLog {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *Ledger) IsSpent(_ context.Context, nullifier fr.Element) (bool, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	_, ok := l.nullifiers[nullifier]
	return ok, nil
}

func (l *Ledger) IsKnownRoot(_ context.Context, root fr.Element) (bool, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.isKnownRoot(root), nil
}

func (l *Ledger) isKnownRoot(root fr.Element) bool {
	if root.IsZero() {
		return false
	}
	for i := range l.roots {
		if l.roots[i].Equal(&root) {
			return true
		}
	}
	return false
}

// Root is the current tree root.
func (l *Ledger) Root() fr.Element {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.tree.Root()
}

// Balance is the amount of tokens held by the pool.
func (l *Ledger) Balance() *big.Int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return new(big.Int).Set(l.balance)
}

func (l *Ledger) checkExtData(kind types.TxKind, ext *types.ExtData) error {
	if ext.ExtAmount == nil || ext.Fee == nil {
		return fmt.Errorf("%w: missing amounts", ErrInvalidExtData)
	}
	if ext.Fee.Sign() < 0 || ext.Fee.Cmp(MaxExtAmount) >= 0 {
		return fmt.Errorf("%w: fee %s out of range", ErrInvalidExtData, ext.Fee)
	}
	if ext.ExtAmount.Sign() < 0 || ext.ExtAmount.Cmp(MaxExtAmount) >= 0 {
		return fmt.Errorf("%w: ext amount %s out of range", ErrInvalidExtData, ext.ExtAmount)
	}
	switch kind {
	case types.Deposit:
		if ext.ExtAmount.Sign() <= 0 || ext.Fee.Sign() != 0 {
			return fmt.Errorf("%w: deposit needs a positive ext amount and no fee", ErrInvalidExtData)
		}
	case types.Withdraw:
		if ext.ExtAmount.Sign() == 0 {
			return fmt.Errorf("%w: withdraw needs a positive ext amount", ErrInvalidExtData)
		}
		if ext.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: withdraw to the zero address", ErrInvalidExtData)
		}
	case types.Transfer:
		if ext.ExtAmount.Sign() != 0 {
			return fmt.Errorf("%w: transfer must not move tokens across the pool boundary", ErrInvalidExtData)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidExtData, kind)
	}
	return nil
}

// Transact validates tx like the pool contract does and applies it.
func (l *Ledger) Transact(_ context.Context, tx *types.Transaction) error {
	if tx == nil || tx.ProofArgs == nil || tx.ExtData == nil {
		return fmt.Errorf("%w: incomplete transaction", types.ErrValidation)
	}
	args, ext := tx.ProofArgs, tx.ExtData
	if err := l.checkExtData(tx.Kind, ext); err != nil {
		return err
	}
	if n := len(args.InputNullifiers); n != 2 && n != 16 {
		return fmt.Errorf("%w: %d inputs", types.ErrTooManyInputs, n)
	}
	hash, err := ext.Hash()
	if err != nil {
		return err
	}
	if !hash.Equal(&args.ExtDataHash) {
		return ErrInvalidExtDataHash
	}
	pa, err := ext.PublicAmount(tx.Kind)
	if err != nil {
		return err
	}
	if !pa.Equal(&args.PublicAmount) {
		return fmt.Errorf("%w: want %s", ErrInvalidPublicAmount, utils.ElementHex(pa))
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if !l.isKnownRoot(args.Root) {
		return fmt.Errorf("%w: %s", types.ErrUnknownRoot, utils.ElementHex(args.Root))
	}
	seen := make(map[fr.Element]struct{}, len(args.InputNullifiers))
	for _, nf := range args.InputNullifiers {
		if _, ok := l.nullifiers[nf]; ok {
			return fmt.Errorf("%w: %s", ErrNullifierSpent, utils.ElementHex(nf))
		}
		if _, ok := seen[nf]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNullifier, utils.ElementHex(nf))
		}
		seen[nf] = struct{}{}
	}
	if l.verifier != nil {
		if err := l.verifier.Verify(args); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProof, err)
		}
	}
	// deposits add extAmount; withdrawals and transfers pay out
	// extAmount + fee
	balance := new(big.Int).Set(l.balance)
	if tx.Kind == types.Deposit {
		balance.Add(balance, ext.ExtAmount)
	} else {
		balance.Sub(balance, ext.ExtAmount)
		balance.Sub(balance, ext.Fee)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("%w: holds %s", ErrPoolBalance, l.balance)
	}

	if err := l.tree.BulkInsert(args.OutputCommitments[:]); err != nil {
		return err
	}
	l.block++
	l.balance = balance
	l.rootIndex = (l.rootIndex + 1) % RootHistorySize
	l.roots[l.rootIndex] = l.tree.Root()

	txHash := common.BytesToHash(crypto.Keccak256(hash.Marshal(), new(big.Int).SetUint64(l.block).Bytes()))
	for _, nf := range args.InputNullifiers {
		l.nullifiers[nf] = struct{}{}
		l.nullifierLog = append(l.nullifierLog, events.NullifierEvent{
			Nullifier:   nf.Bytes(),
			BlockNumber: l.block,
			TxHash:      txHash,
		})
	}
	outputs := [2][]byte{ext.EncryptedOutput1, ext.EncryptedOutput2}
	first := uint64(l.tree.Len() - 2)
	for i, cm := range args.OutputCommitments {
		l.commitmentLog = append(l.commitmentLog, events.CommitmentEvent{
			LeafIndex:       first + uint64(i),
			Commitment:      cm.Bytes(),
			EncryptedOutput: append([]byte(nil), outputs[i]...),
			BlockNumber:     l.block,
			TxHash:          txHash,
		})
	}
	l.log.Info().Str("kind", string(tx.Kind)).Uint64("block", l.block).
		Str("extAmount", ext.ExtAmount.String()).Str("fee", ext.Fee.String()).
		Str("root", utils.ElementHex(l.tree.Root())).Msg("transaction applied")
	return nil
}
