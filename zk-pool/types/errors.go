package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Error categories. Every specific error below wraps exactly one of them so
// callers can branch on either level with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrBalance    = errors.New("balance error")
	ErrCrypto     = errors.New("crypto error")
	ErrProof      = errors.New("proof error")
	ErrNetwork    = errors.New("network error")
)

var (
	ErrTooManyInputs          = fmt.Errorf("%w: too many inputs", ErrValidation)
	ErrTooManyOutputs         = fmt.Errorf("%w: too many outputs", ErrValidation)
	ErrInvalidAddress         = fmt.Errorf("%w: invalid shielded address", ErrValidation)
	ErrInvalidRecipient       = fmt.Errorf("%w: invalid recipient account", ErrValidation)
	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrSelfTransferNotAllowed = fmt.Errorf("%w: spender and receiver are the same", ErrValidation)

	ErrCommitmentNotFound  = fmt.Errorf("%w: commitment not found", ErrState)
	ErrSequenceGapDetected = fmt.Errorf("%w: commitment sequence gap", ErrState)
	ErrUnknownRoot         = fmt.Errorf("%w: unknown root", ErrState)
	ErrCacheUnavailable    = fmt.Errorf("%w: cached tree unavailable", ErrState)

	ErrDecryptionFailed  = fmt.Errorf("%w: decryption failed", ErrCrypto)
	ErrMissingIndexOrKey = fmt.Errorf("%w: nullifier needs a leaf index and a private key", ErrCrypto)
	ErrViewOnlyKey       = fmt.Errorf("%w: key pair has no private key", ErrCrypto)

	ErrProofGeneration = fmt.Errorf("%w: proof generation failed", ErrProof)
)

// InsufficientBalanceError reports the amount a transaction needs and what
// the spender actually holds.
type InsufficientBalanceError struct {
	Required  *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("not enough utxo amount sum: %s < %s", e.Available.Dec(), e.Required.Dec())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrBalance
}
