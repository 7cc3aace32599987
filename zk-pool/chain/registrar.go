package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// ErrNotRegistered is returned when an account never published a shielded
// address.
var ErrNotRegistered = fmt.Errorf("%w: account has no shielded address", types.ErrValidation)

// Registrar resolves chain accounts to shielded key pairs.
type Registrar struct {
	client        Client
	address       common.Address
	deployedBlock uint64
	log           zerolog.Logger
}

func NewRegistrar(client Client, address common.Address, deployedBlock uint64, log zerolog.Logger) *Registrar {
	return &Registrar{
		client:        client,
		address:       address,
		deployedBlock: deployedBlock,
		log:           log.With().Str("module", "registrar").Logger(),
	}
}

// KeyPairOf returns the view-only key pair of the latest registration of
// owner.
func (r *Registrar) KeyPairOf(ctx context.Context, owner common.Address) (*types.KeyPair, error) {
	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %w", types.ErrNetwork, err)
	}
	event := registrarABI.Events["ShieldedAddress"]
	q := filterQuery(r.address, event, r.deployedBlock, head, common.BytesToHash(owner.Bytes()))
	logs, err := r.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: registrar logs: %w", types.ErrNetwork, err)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, owner.Hex())
	}

	var ev struct{ ShieldedAddress []byte }
	if err := registrarABI.UnpackIntoInterface(&ev, event.Name, logs[len(logs)-1].Data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return types.KeyPairFromAddressBytes(ev.ShieldedAddress)
}

// Register publishes the shielded address of kp for the account of key.
func (r *Registrar) Register(ctx context.Context, key *ecdsa.PrivateKey, kp *types.KeyPair) (common.Hash, error) {
	data, err := registrarABI.Pack("register", kp.AddressBytes())
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := send(ctx, r.client, key, r.address, data, nil)
	if err != nil {
		return common.Hash{}, err
	}
	r.log.Info().Str("address", kp.Address()).Str("tx", hash.Hex()).Msg("shielded address registered")
	return hash, nil
}
