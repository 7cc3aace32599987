package crypto

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// noteKeyLen is key(32) || nonce(12) as produced by ExpandKDF.
const noteKeyLen = chacha20poly1305.KeySize + chacha20poly1305.NonceSize

// Overhead is the authentication tag length appended by EncryptNote.
const Overhead = chacha20poly1305.Overhead

// EncryptNote encrypts the note plaintext using the ChaCha20-Poly1305 AEAD.
// additionalData is authenticated but not encrypted; notes bind the
// ephemeral public key there.
func EncryptNote(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// DecryptNote decrypts and authenticates a note ciphertext.
func DecryptNote(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt note: %w", err)
	}
	return plaintext, nil
}

// SealNote expands the shared secret into a key and nonce and encrypts.
func SealNote(sharedSecret, plaintext, additionalData []byte) ([]byte, error) {
	ks, err := ExpandKDF(sharedSecret, noteKeyLen)
	if err != nil {
		return nil, err
	}
	return EncryptNote(ks[:chacha20poly1305.KeySize], ks[chacha20poly1305.KeySize:], plaintext, additionalData)
}

func OpenNote(sharedSecret, ciphertext, additionalData []byte) ([]byte, error) {
	ks, err := ExpandKDF(sharedSecret, noteKeyLen)
	if err != nil {
		return nil, err
	}
	return DecryptNote(ks[:chacha20poly1305.KeySize], ks[chacha20poly1305.KeySize:], ciphertext, additionalData)
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid nonce size: must be %d bytes", chacha20poly1305.NonceSize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}
	return aead, nil
}
