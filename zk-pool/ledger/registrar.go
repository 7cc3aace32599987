package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Register records the shielded address of owner, replacing an older one.
func (l *Ledger) Register(owner common.Address, kp *types.KeyPair) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.registrations[owner] = kp.AddressBytes()
}

// KeyPairOf returns the view-only key pair registered for owner.
func (l *Ledger) KeyPairOf(_ context.Context, owner common.Address) (*types.KeyPair, error) {
	l.mtx.RLock()
	payload, ok := l.registrations[owner]
	l.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", types.ErrValidation, owner.Hex())
	}
	return types.KeyPairFromAddressBytes(payload)
}
