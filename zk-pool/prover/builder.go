package prover

import (
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/wallet"
	"github.com/rs/zerolog"
)

const (
	// SmallInputs and LargeInputs are the two input counts a circuit exists for.
	SmallInputs = 2
	LargeInputs = 16
)

// Config selects the tree height and the circuit of each input count.
type Config struct {
	Levels   int
	Circuits map[int]CircuitPath
}

// CommitmentSource yields the verified commitment log of the pool.
type CommitmentSource interface {
	Commitments(ctx context.Context) (*events.VerifiedLog, error)
}

// TreeBuilder produces a root-checked tree over a log in which targets can
// be located.
type TreeBuilder interface {
	Build(ctx context.Context, log *events.VerifiedLog, targets ...fr.Element) (merkle.Snapshot, error)
}

// Builder prepares proven pool transactions for one pool instance.
type Builder struct {
	cfg         Config
	commitments CommitmentSource
	trees       TreeBuilder
	scanner     *wallet.Scanner
	prover      ProofGenerator
	log         zerolog.Logger
}

func NewBuilder(cfg Config, commitments CommitmentSource, trees TreeBuilder, scanner *wallet.Scanner, prover ProofGenerator, log zerolog.Logger) *Builder {
	return &Builder{
		cfg:         cfg,
		commitments: commitments,
		trees:       trees,
		scanner:     scanner,
		prover:      prover,
		log:         log.With().Str("module", "builder").Logger(),
	}
}

// DepositRequest moves Amount into the pool as a note of Receiver. When
// Spender equals Receiver the spender's unspent notes are folded into the
// new note.
type DepositRequest struct {
	Amount   *uint256.Int
	Spender  *types.KeyPair
	Receiver *types.KeyPair
}

// WithdrawRequest moves Amount out of the pool to Recipient, paying Fee to
// Relayer.
type WithdrawRequest struct {
	Amount    *uint256.Int
	Spender   *types.KeyPair
	Recipient common.Address
	Relayer   common.Address
	Fee       *uint256.Int
}

// TransferRequest gives Receiver a note of Amount, paying Fee to Relayer.
type TransferRequest struct {
	Amount   *uint256.Int
	Spender  *types.KeyPair
	Receiver *types.KeyPair
	Relayer  common.Address
	Fee      *uint256.Int
}

// Params is the input of PrepareTransaction.
type Params struct {
	Kind      types.TxKind
	Inputs    []*types.Utxo
	Outputs   []*types.Utxo
	Fee       *uint256.Int
	Recipient common.Address
	Relayer   common.Address
}

func checkAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return types.ErrInvalidAmount
	}
	if amount.BitLen() > types.MaxAmountBits {
		return fmt.Errorf("%w: %s exceeds %d bits", types.ErrInvalidAmount, amount.Dec(), types.MaxAmountBits)
	}
	return nil
}

func checkSpender(kp *types.KeyPair) error {
	if kp == nil {
		return fmt.Errorf("%w: spender key is required", types.ErrValidation)
	}
	if kp.IsViewOnly() {
		return fmt.Errorf("spender: %w", types.ErrViewOnlyKey)
	}
	return nil
}

// checkInputCount rejects note sets no circuit can spend at once.
func checkInputCount(inputs []*types.Utxo) error {
	if len(inputs) > LargeInputs {
		return fmt.Errorf("%w: %d unspent notes, at most %d fit one transaction; fold them with a self-deposit first",
			types.ErrTooManyInputs, len(inputs), LargeInputs)
	}
	return nil
}

func feeOrZero(fee *uint256.Int) *uint256.Int {
	if fee == nil {
		return new(uint256.Int)
	}
	return fee
}

// spendable syncs the log and returns the spender's unspent notes.
func (b *Builder) spendable(ctx context.Context, spender *types.KeyPair) (*events.VerifiedLog, []*types.Utxo, error) {
	log, err := b.commitments.Commitments(ctx)
	if err != nil {
		return nil, nil, err
	}
	notes, err := b.scanner.UnspentNotes(ctx, spender, log)
	if err != nil {
		return nil, nil, err
	}
	return log, notes, nil
}

func (b *Builder) prepare(ctx context.Context, log *events.VerifiedLog, p Params) (*types.Transaction, error) {
	targets := make([]fr.Element, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		if !in.IsZero() {
			targets = append(targets, in.Commitment())
		}
	}
	tree, err := b.trees.Build(ctx, log, targets...)
	if err != nil {
		return nil, err
	}
	return b.PrepareTransaction(ctx, tree, p)
}

func (b *Builder) PrepareDeposit(ctx context.Context, req DepositRequest) (*types.Transaction, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	receiver := req.Receiver
	if receiver == nil {
		receiver = req.Spender
	}
	if receiver == nil {
		return nil, fmt.Errorf("%w: deposit receiver is required", types.ErrValidation)
	}

	var inputs []*types.Utxo
	var log *events.VerifiedLog
	var err error
	if req.Spender != nil && !req.Spender.IsViewOnly() && req.Spender.Equals(receiver) {
		var notes []*types.Utxo
		if log, notes, err = b.spendable(ctx, req.Spender); err != nil {
			return nil, err
		}
		inputs = wallet.Largest(notes, LargeInputs)
	} else if log, err = b.commitments.Commitments(ctx); err != nil {
		return nil, err
	}

	total := new(uint256.Int).Add(req.Amount, types.SumAmounts(inputs))
	out, err := types.NewUtxo(total, receiver)
	if err != nil {
		return nil, err
	}
	b.log.Debug().Int("folded", len(inputs)).Str("amount", req.Amount.Dec()).Msg("preparing deposit")
	return b.prepare(ctx, log, Params{
		Kind:    types.Deposit,
		Inputs:  inputs,
		Outputs: []*types.Utxo{out},
	})
}

func (b *Builder) PrepareWithdraw(ctx context.Context, req WithdrawRequest) (*types.Transaction, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := checkSpender(req.Spender); err != nil {
		return nil, err
	}
	if req.Recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: withdraw to the zero address", types.ErrInvalidRecipient)
	}
	fee := feeOrZero(req.Fee)

	log, inputs, err := b.spendable(ctx, req.Spender)
	if err != nil {
		return nil, err
	}
	if err := checkInputCount(inputs); err != nil {
		return nil, err
	}
	required := new(uint256.Int).Add(req.Amount, fee)
	available := types.SumAmounts(inputs)
	if available.Lt(required) {
		return nil, &types.InsufficientBalanceError{Required: required, Available: available}
	}
	change, err := types.NewUtxo(new(uint256.Int).Sub(available, required), req.Spender)
	if err != nil {
		return nil, err
	}
	b.log.Debug().Int("inputs", len(inputs)).Str("amount", req.Amount.Dec()).Str("fee", fee.Dec()).Msg("preparing withdraw")
	return b.prepare(ctx, log, Params{
		Kind:      types.Withdraw,
		Inputs:    inputs,
		Outputs:   []*types.Utxo{change},
		Fee:       fee,
		Recipient: req.Recipient,
		Relayer:   req.Relayer,
	})
}

func (b *Builder) PrepareTransfer(ctx context.Context, req TransferRequest) (*types.Transaction, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := checkSpender(req.Spender); err != nil {
		return nil, err
	}
	if req.Receiver == nil {
		return nil, fmt.Errorf("%w: transfer receiver is required", types.ErrInvalidAddress)
	}
	if req.Spender.Equals(req.Receiver) {
		return nil, types.ErrSelfTransferNotAllowed
	}
	fee := feeOrZero(req.Fee)

	log, inputs, err := b.spendable(ctx, req.Spender)
	if err != nil {
		return nil, err
	}
	if err := checkInputCount(inputs); err != nil {
		return nil, err
	}
	required := new(uint256.Int).Add(req.Amount, fee)
	available := types.SumAmounts(inputs)
	if available.Lt(required) {
		return nil, &types.InsufficientBalanceError{Required: required, Available: available}
	}
	out, err := types.NewUtxo(req.Amount, req.Receiver)
	if err != nil {
		return nil, err
	}
	change, err := types.NewUtxo(new(uint256.Int).Sub(available, required), req.Spender)
	if err != nil {
		return nil, err
	}
	b.log.Debug().Int("inputs", len(inputs)).Str("amount", req.Amount.Dec()).Str("fee", fee.Dec()).Msg("preparing transfer")
	return b.prepare(ctx, log, Params{
		Kind:    types.Transfer,
		Inputs:  inputs,
		Outputs: []*types.Utxo{out, change},
		Fee:     fee,
		Relayer: req.Relayer,
	})
}

func pad(utxos []*types.Utxo, n int) []*types.Utxo {
	out := append([]*types.Utxo(nil), utxos...)
	for len(out) < n {
		out = append(out, types.ZeroUtxo())
	}
	return out
}

// PrepareTransaction pads the notes, locates the inputs in tree, builds the
// witness and asks the prover for a proof. Every check runs before the
// prover is invoked.
func (b *Builder) PrepareTransaction(ctx context.Context, tree merkle.Snapshot, p Params) (*types.Transaction, error) {
	if len(p.Inputs) > LargeInputs {
		return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManyInputs, len(p.Inputs), LargeInputs)
	}
	if len(p.Outputs) > circuit.Outputs {
		return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManyOutputs, len(p.Outputs), circuit.Outputs)
	}
	nIns := SmallInputs
	if len(p.Inputs) > SmallInputs {
		nIns = LargeInputs
	}
	path, ok := b.cfg.Circuits[nIns]
	if !ok {
		return nil, fmt.Errorf("%w: no circuit for %d inputs", types.ErrProofGeneration, nIns)
	}
	if tree.Levels() != b.cfg.Levels {
		return nil, fmt.Errorf("%w: tree has %d levels, circuit %d", types.ErrValidation, tree.Levels(), b.cfg.Levels)
	}
	inputs := pad(p.Inputs, nIns)
	outputs := pad(p.Outputs, circuit.Outputs)
	fee := feeOrZero(p.Fee)

	sumIns, sumOuts := types.SumAmounts(inputs).ToBig(), types.SumAmounts(outputs).ToBig()
	var extAmount *big.Int
	switch p.Kind {
	case types.Deposit:
		// fee + sum(outputs) - sum(inputs)
		extAmount = new(big.Int).Add(fee.ToBig(), sumOuts)
		extAmount.Sub(extAmount, sumIns)
	case types.Withdraw, types.Transfer:
		// sum(inputs) - sum(outputs) - fee
		extAmount = new(big.Int).Sub(sumIns, sumOuts)
		extAmount.Sub(extAmount, fee.ToBig())
	default:
		return nil, fmt.Errorf("%w: unknown transaction kind %q", types.ErrValidation, p.Kind)
	}
	if extAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s notes do not cover their outputs and fee", types.ErrValidation, p.Kind)
	}

	root := tree.Root()
	w := &circuit.Witness{Root: root}
	for i, in := range inputs {
		var index uint64
		elements := make([]fr.Element, b.cfg.Levels)
		if !in.IsZero() {
			cm := in.Commitment()
			idx := tree.IndexOf(cm)
			if idx < 0 {
				return nil, fmt.Errorf("%w: input %d %s", types.ErrCommitmentNotFound, i, utils.ElementHex(cm))
			}
			mp, err := tree.Path(idx)
			if err != nil {
				return nil, err
			}
			index, elements = uint64(idx), mp.Elements
			in = in.WithLeafIndex(index)
			inputs[i] = in
		} else if idx, ok := in.LeafIndex(); ok {
			index = idx
		}
		priv, ok := in.Owner().PrivateKey()
		if !ok {
			return nil, fmt.Errorf("input %d: %w", i, types.ErrViewOnlyKey)
		}
		nf, err := in.Nullifier()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		w.InputNullifier = append(w.InputNullifier, nf)
		w.InAmount = append(w.InAmount, in.AmountElement())
		w.InPrivateKey = append(w.InPrivateKey, priv)
		w.InBlinding = append(w.InBlinding, in.Blinding())
		w.InPathIndices = append(w.InPathIndices, index)
		w.InPathElements = append(w.InPathElements, elements)
	}

	encrypted := make([][]byte, len(outputs))
	for j, out := range outputs {
		enc, err := out.Encrypt()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}
		encrypted[j] = enc
		w.OutputCommitment = append(w.OutputCommitment, out.Commitment())
		w.OutAmount = append(w.OutAmount, out.AmountElement())
		w.OutPubkey = append(w.OutPubkey, out.Owner().PublicKey())
		w.OutBlinding = append(w.OutBlinding, out.Blinding())
	}

	ext := &types.ExtData{
		Recipient:        p.Recipient,
		ExtAmount:        extAmount,
		Relayer:          p.Relayer,
		Fee:              fee.ToBig(),
		EncryptedOutput1: encrypted[0],
		EncryptedOutput2: encrypted[1],
	}
	extDataHash, err := ext.Hash()
	if err != nil {
		return nil, err
	}
	publicAmount, err := ext.PublicAmount(p.Kind)
	if err != nil {
		return nil, err
	}
	w.ExtDataHash = extDataHash
	w.PublicAmount = publicAmount

	proof, err := b.prover.GenerateProof(ctx, path, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrProofGeneration, err)
	}

	args := &types.ProofArgs{
		Proof:           proof,
		Root:            root,
		InputNullifiers: w.InputNullifier,
		PublicAmount:    w.PublicAmount,
		ExtDataHash:     extDataHash,
	}
	copy(args.OutputCommitments[:], w.OutputCommitment)

	b.log.Info().Str("kind", string(p.Kind)).Int("inputs", nIns).
		Str("extAmount", extAmount.String()).Str("root", utils.ElementHex(root)).Msg("transaction prepared")
	return &types.Transaction{
		Kind:      p.Kind,
		ProofArgs: args,
		ExtData:   ext,
		Inputs:    inputs,
		Outputs:   outputs,
	}, nil
}
