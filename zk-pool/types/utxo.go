package types

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
)

const (
	// noteFieldSize is the width of the amount and blinding fields inside
	// an encrypted note.
	noteFieldSize = 31

	// MaxAmountBits bounds note amounts so they fit the encrypted payload
	// and the range check of the transaction circuit.
	MaxAmountBits = 8 * noteFieldSize

	notePlaintextSize = 2 * noteFieldSize
)

// Utxo is a shielded note. Fields are fixed at construction; commitment and
// nullifier are computed lazily and cached.
type Utxo struct {
	amount    *uint256.Int
	blinding  fr.Element
	owner     *KeyPair
	leafIndex *uint64

	commitmentOnce sync.Once
	commitment     fr.Element

	nullifierMu sync.Mutex
	nullifier   *fr.Element
}

type UtxoOption func(*Utxo)

func WithBlinding(blinding fr.Element) UtxoOption {
	return func(u *Utxo) {
		u.blinding = blinding
	}
}

func WithLeafIndex(index uint64) UtxoOption {
	return func(u *Utxo) {
		i := index
		u.leafIndex = &i
	}
}

// NewUtxo creates a note of amount owned by owner. A fresh 31-byte blinding
// is drawn unless WithBlinding is given.
func NewUtxo(amount *uint256.Int, owner *KeyPair, opts ...UtxoOption) (*Utxo, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if amount.BitLen() > MaxAmountBits {
		return nil, fmt.Errorf("%w: amount %s exceeds %d bits", ErrInvalidAmount, amount.Dec(), MaxAmountBits)
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: utxo owner is required", ErrValidation)
	}
	u := &Utxo{
		amount:   amount.Clone(),
		blinding: utils.RandomElement(noteFieldSize),
		owner:    owner,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// ZeroUtxo is a valueless note owned by a throwaway key, used as padding.
func ZeroUtxo() *Utxo {
	u, _ := NewUtxo(new(uint256.Int), NewRandomKeyPair())
	return u
}

// WithLeafIndex returns a copy of u placed at index.
func (u *Utxo) WithLeafIndex(index uint64) *Utxo {
	c, _ := NewUtxo(u.amount, u.owner, WithBlinding(u.blinding), WithLeafIndex(index))
	return c
}

func (u *Utxo) Amount() *uint256.Int {
	return u.amount.Clone()
}

func (u *Utxo) AmountElement() fr.Element {
	var e fr.Element
	e.SetBigInt(u.amount.ToBig())
	return e
}

func (u *Utxo) Blinding() fr.Element {
	return u.blinding
}

func (u *Utxo) Owner() *KeyPair {
	return u.owner
}

func (u *Utxo) LeafIndex() (uint64, bool) {
	if u.leafIndex == nil {
		return 0, false
	}
	return *u.leafIndex, true
}

func (u *Utxo) IsZero() bool {
	return u.amount.IsZero()
}

// Commitment = Hash(amount, owner.publicKey, blinding)
func (u *Utxo) Commitment() fr.Element {
	u.commitmentOnce.Do(func() {
		u.commitment = utils.Hash(u.AmountElement(), u.owner.PublicKey(), u.blinding)
	})
	return u.commitment
}

// Nullifier = Hash(commitment, leafIndex, owner.Sign(commitment, leafIndex)).
// A missing index counts as 0 and a view-only owner signs with 0, which is
// only acceptable for zero-amount notes.
func (u *Utxo) Nullifier() (fr.Element, error) {
	u.nullifierMu.Lock()
	defer u.nullifierMu.Unlock()
	if u.nullifier != nil {
		return *u.nullifier, nil
	}

	if !u.IsZero() && (u.leafIndex == nil || u.owner.IsViewOnly()) {
		return fr.Element{}, ErrMissingIndexOrKey
	}

	var index uint64
	if u.leafIndex != nil {
		index = *u.leafIndex
	}
	cm := u.Commitment()

	var sig fr.Element
	if !u.owner.IsViewOnly() {
		var err error
		if sig, err = u.owner.Sign(cm, index); err != nil {
			return fr.Element{}, err
		}
	}
	nf := utils.Hash(cm, utils.Uint64Element(index), sig)
	u.nullifier = &nf
	return nf, nil
}

// Encrypt packs amount(31) || blinding(31) and seals it to the owner.
func (u *Utxo) Encrypt() ([]byte, error) {
	amount, err := utils.ToFixedBytes(u.amount.ToBig(), noteFieldSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	blinding, err := utils.ToFixedBytes(utils.ElementBig(u.blinding), noteFieldSize)
	if err != nil {
		return nil, fmt.Errorf("%w: blinding: %v", ErrValidation, err)
	}
	return u.owner.Encrypt(append(amount, blinding...))
}

// DecryptUtxo opens an encrypted note with kp and places it at leafIndex.
func DecryptUtxo(kp *KeyPair, data []byte, leafIndex uint64) (*Utxo, error) {
	pt, err := kp.Decrypt(data)
	if err != nil {
		return nil, err
	}
	if len(pt) != notePlaintextSize {
		return nil, fmt.Errorf("%w: note payload is %d bytes", ErrDecryptionFailed, len(pt))
	}
	amount := new(uint256.Int).SetBytes(pt[:noteFieldSize])
	var blinding fr.Element
	blinding.SetBigInt(new(big.Int).SetBytes(pt[noteFieldSize:]))
	return NewUtxo(amount, kp, WithBlinding(blinding), WithLeafIndex(leafIndex))
}

// SumAmounts totals the amounts of utxos.
func SumAmounts(utxos []*Utxo) *uint256.Int {
	sum := new(uint256.Int)
	for _, u := range utxos {
		sum.Add(sum, u.amount)
	}
	return sum
}
