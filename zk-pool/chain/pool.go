package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// Client is the subset of ethclient.Client the adapters need.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Pool reads and writes one pool contract instance.
type Pool struct {
	client  Client
	address common.Address
	log     zerolog.Logger
}

var _ events.Source = (*Pool)(nil)

func NewPool(client Client, address common.Address, log zerolog.Logger) *Pool {
	return &Pool{
		client:  client,
		address: address,
		log:     log.With().Str("module", "chain").Str("pool", address.Hex()).Logger(),
	}
}

func (p *Pool) Address() common.Address {
	return p.address
}

func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func filterQuery(address common.Address, event abi.Event, from, to uint64, topics ...common.Hash) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{event.ID}},
	}
	for _, t := range topics {
		q.Topics = append(q.Topics, []common.Hash{t})
	}
	return q
}

func (p *Pool) CommitmentEvents(ctx context.Context, from, to uint64) ([]events.CommitmentEvent, error) {
	event := poolABI.Events["CommitmentInserted"]
	logs, err := p.client.FilterLogs(ctx, filterQuery(p.address, event, from, to))
	if err != nil {
		return nil, err
	}
	out := make([]events.CommitmentEvent, 0, len(logs))
	for _, lg := range logs {
		var ev struct {
			LeafIndex       *big.Int
			Commitment      [32]byte
			EncryptedOutput []byte
		}
		if err := poolABI.UnpackIntoInterface(&ev, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s in %s: %w", event.Name, lg.TxHash.Hex(), err)
		}
		if !ev.LeafIndex.IsUint64() {
			return nil, fmt.Errorf("%w: leaf index %s", types.ErrState, ev.LeafIndex)
		}
		out = append(out, events.CommitmentEvent{
			LeafIndex:       ev.LeafIndex.Uint64(),
			Commitment:      ev.Commitment,
			EncryptedOutput: ev.EncryptedOutput,
			BlockNumber:     lg.BlockNumber,
			TxHash:          lg.TxHash,
		})
	}
	return out, nil
}

func (p *Pool) NullifierEvents(ctx context.Context, from, to uint64) ([]events.NullifierEvent, error) {
	event := poolABI.Events["NewNullifier"]
	logs, err := p.client.FilterLogs(ctx, filterQuery(p.address, event, from, to))
	if err != nil {
		return nil, err
	}
	out := make([]events.NullifierEvent, 0, len(logs))
	for _, lg := range logs {
		var ev struct{ Nullifier [32]byte }
		if err := poolABI.UnpackIntoInterface(&ev, event.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s in %s: %w", event.Name, lg.TxHash.Hex(), err)
		}
		out = append(out, events.NullifierEvent{
			Nullifier:   ev.Nullifier,
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash,
		})
	}
	return out, nil
}

func (p *Pool) callBool(ctx context.Context, method string, arg fr.Element) (bool, error) {
	data, err := poolABI.Pack(method, [32]byte(arg.Bytes()))
	if err != nil {
		return false, err
	}
	res, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &p.address, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", types.ErrNetwork, method, err)
	}
	out, err := poolABI.Unpack(method, res)
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (p *Pool) IsSpent(ctx context.Context, nullifier fr.Element) (bool, error) {
	return p.callBool(ctx, "isSpent", nullifier)
}

func (p *Pool) IsKnownRoot(ctx context.Context, root fr.Element) (bool, error) {
	return p.callBool(ctx, "isKnownRoot", root)
}

// Submit sends tx to the pool signed by key. value is attached to deposits
// into a native token pool and nil otherwise.
func (p *Pool) Submit(ctx context.Context, key *ecdsa.PrivateKey, tx *types.Transaction, value *big.Int) (common.Hash, error) {
	data, err := PackTransaction(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack %s: %w", types.ErrValidation, tx.Kind, err)
	}
	hash, err := send(ctx, p.client, key, p.address, data, value)
	if err != nil {
		return common.Hash{}, err
	}
	p.log.Info().Str("kind", string(tx.Kind)).Str("tx", hash.Hex()).Msg("transaction sent")
	return hash, nil
}

// send signs and broadcasts a legacy transaction calling to with data.
func send(ctx context.Context, client Client, key *ecdsa.PrivateKey, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: chain id: %w", types.ErrNetwork, err)
	}
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce: %w", types.ErrNetwork, err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %w", types.ErrNetwork, err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: send: %w", types.ErrNetwork, err)
	}
	return signed.Hash(), nil
}
