package types

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/crypto"
	"lukechampine.com/frand"
)

const encKeyDomain = "zkpool_NoteKey"

// KeyPair is a shielded identity. A spendable pair holds the private key;
// a view-only pair (decoded from an address) only carries the public halves
// and can receive notes but never sign or decrypt.
type KeyPair struct {
	privateKey *fr.Element
	publicKey  fr.Element

	// note encryption key pair on baby jubjub, derived from privateKey
	encScalar *big.Int
	encKey    tedwards.PointAffine
}

func NewRandomKeyPair() *KeyPair {
	var priv fr.Element
	priv.SetBytes(frand.Bytes(32))
	return NewKeyPair(priv)
}

func NewKeyPair(privateKey fr.Element) *KeyPair {
	priv := privateKey
	b := priv.Bytes()
	s := crypto.ScalarFromSeed(encKeyDomain, b[:])
	return &KeyPair{
		privateKey: &priv,
		publicKey:  utils.Hash(priv),
		encScalar:  s,
		encKey:     crypto.PublicPoint(s),
	}
}

func KeyPairFromHex(privateKey string) (*KeyPair, error) {
	priv, err := utils.HexToElement(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrValidation, err)
	}
	return NewKeyPair(priv), nil
}

// KeyPairFromSignature derives the shielded key from a wallet signature over
// a fixed message, so the key can be recovered from the wallet alone.
func KeyPairFromSignature(signature []byte) *KeyPair {
	h := new(big.Int).SetBytes(ethcrypto.Keccak256(signature))
	var priv fr.Element
	priv.SetBigInt(utils.Mod(h))
	return NewKeyPair(priv)
}

// KeyPairFromAddress returns the view-only identity behind a shielded address.
func KeyPairFromAddress(addr string) (*KeyPair, error) {
	payload, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	return KeyPairFromAddressBytes(payload)
}

func KeyPairFromAddressBytes(payload []byte) (*KeyPair, error) {
	if len(payload) != AddressPayloadSize {
		return nil, fmt.Errorf("%w: wrong payload length: %d", ErrInvalidAddress, len(payload))
	}
	kp := &KeyPair{}
	if err := kp.publicKey.SetBytesCanonical(payload[:fr.Bytes]); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidAddress, err)
	}
	encKey, err := crypto.ParsePoint(payload[fr.Bytes:])
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key: %v", ErrInvalidAddress, err)
	}
	kp.encKey = encKey
	return kp, nil
}

func (kp *KeyPair) IsViewOnly() bool {
	return kp.privateKey == nil
}

// PrivateKey returns false for view-only pairs.
func (kp *KeyPair) PrivateKey() (fr.Element, bool) {
	if kp.privateKey == nil {
		return fr.Element{}, false
	}
	return *kp.privateKey, true
}

func (kp *KeyPair) PublicKey() fr.Element {
	return kp.publicKey
}

func (kp *KeyPair) EncryptionKey() tedwards.PointAffine {
	return kp.encKey
}

// ViewOnly drops the private material.
func (kp *KeyPair) ViewOnly() *KeyPair {
	return &KeyPair{publicKey: kp.publicKey, encKey: kp.encKey}
}

func (kp *KeyPair) AddressBytes() []byte {
	pub := kp.publicKey.Bytes()
	enc := kp.encKey.Bytes()
	out := make([]byte, 0, AddressPayloadSize)
	out = append(out, pub[:]...)
	return append(out, enc[:]...)
}

func (kp *KeyPair) Address() string {
	return EncodeAddress(kp.AddressBytes())
}

// Sign returns Hash(privateKey, message, index).
func (kp *KeyPair) Sign(message fr.Element, index uint64) (fr.Element, error) {
	if kp.privateKey == nil {
		return fr.Element{}, ErrViewOnlyKey
	}
	return utils.HashUint64([]fr.Element{*kp.privateKey, message}, index), nil
}

// Encrypt seals plaintext to this key: epk(32) || chacha20poly1305(plaintext).
// The ephemeral public key is bound as associated data.
func (kp *KeyPair) Encrypt(plaintext []byte) ([]byte, error) {
	e := crypto.NewScalar()
	epk := crypto.PublicPoint(e)
	shared, err := crypto.ECDHEComputeSharedSecret(e, &kp.encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	epkBytes := epk.Bytes()
	ct, err := crypto.SealNote(shared, plaintext, epkBytes[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return append(epkBytes[:], ct...), nil
}

// Decrypt reverses Encrypt. Every failure, including a ciphertext addressed
// to someone else, is reported as ErrDecryptionFailed.
func (kp *KeyPair) Decrypt(data []byte) ([]byte, error) {
	if kp.encScalar == nil {
		return nil, ErrViewOnlyKey
	}
	if len(data) < crypto.PointSize+crypto.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	epk, err := crypto.ParsePoint(data[:crypto.PointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	shared, err := crypto.ECDHEComputeSharedSecret(kp.encScalar, &epk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	pt, err := crypto.OpenNote(shared, data[crypto.PointSize:], data[:crypto.PointSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}

func (kp *KeyPair) Equals(other *KeyPair) bool {
	if other == nil {
		return false
	}
	return kp.publicKey.Equal(&other.publicKey) && kp.encKey.Equal(&other.encKey)
}
