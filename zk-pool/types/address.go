package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

const (
	addrPrefix = "bz"
	ver        = 0x01

	// AddressPayloadSize is publicKey(32) || compressed encryption key(32).
	AddressPayloadSize = 64
)

func EncodeAddress(payload []byte) string {
	return addrPrefix + base58.CheckEncode(payload, ver)
}

func DecodeAddress(addr string) ([]byte, error) {
	if !strings.HasPrefix(addr, addrPrefix) {
		head := addr
		if len(head) > 2 {
			head = head[:2]
		}
		return nil, fmt.Errorf("%w: wrong prefix: got(%s)", ErrInvalidAddress, head)
	}
	bz, _ver, err := base58.CheckDecode(addr[len(addrPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if _ver != ver {
		return nil, fmt.Errorf("%w: wrong version: expected(%d), got(%d)", ErrInvalidAddress, ver, _ver)
	}
	if len(bz) != AddressPayloadSize {
		return nil, fmt.Errorf("%w: wrong payload length: %d", ErrInvalidAddress, len(bz))
	}
	return bz, nil
}
