package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/utils"
)

var extDataArgs abi.Arguments

func init() {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "recipient", Type: "address"},
		{Name: "extAmount", Type: "int256"},
		{Name: "relayer", Type: "address"},
		{Name: "fee", Type: "uint256"},
		{Name: "encryptedOutput1", Type: "bytes"},
		{Name: "encryptedOutput2", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	extDataArgs = abi.Arguments{{Type: t}}
}

// ExtData holds the public parameters of a transaction. ExtAmount is the
// amount crossing the pool boundary: deposited for a deposit, paid to
// Recipient for a withdrawal and zero for a transfer. It is encoded as an
// int256.
type ExtData struct {
	Recipient        common.Address
	ExtAmount        *big.Int
	Relayer          common.Address
	Fee              *big.Int
	EncryptedOutput1 []byte
	EncryptedOutput2 []byte
}

// Encode returns the ABI encoding of the ExtData tuple.
func (d *ExtData) Encode() ([]byte, error) {
	return extDataArgs.Pack(*d)
}

// Hash is keccak256(abi.encode(extData)) mod FieldSize.
func (d *ExtData) Hash() (fr.Element, error) {
	enc, err := d.Encode()
	if err != nil {
		return fr.Element{}, fmt.Errorf("%w: encode ext data: %v", ErrValidation, err)
	}
	var e fr.Element
	e.SetBigInt(utils.Mod(new(big.Int).SetBytes(ethcrypto.Keccak256(enc))))
	return e, nil
}

// PublicAmount is the public circuit input the contract recomputes from the
// ext data of a kind: extAmount for a deposit, FieldSize - (extAmount + fee)
// for a withdrawal and fee for a transfer.
func (d *ExtData) PublicAmount(kind TxKind) (fr.Element, error) {
	var v *big.Int
	switch kind {
	case Deposit:
		v = new(big.Int).Set(d.ExtAmount)
	case Withdraw:
		v = new(big.Int).Add(d.ExtAmount, d.Fee)
		v.Sub(utils.FieldSize, v)
	case Transfer:
		v = new(big.Int).Set(d.Fee)
	default:
		return fr.Element{}, fmt.Errorf("%w: unknown transaction kind %q", ErrValidation, kind)
	}
	var e fr.Element
	e.SetBigInt(utils.Mod(v))
	return e, nil
}

type extDataJSON struct {
	Recipient        common.Address `json:"recipient"`
	ExtAmount        string         `json:"extAmount"`
	Relayer          common.Address `json:"relayer"`
	Fee              string         `json:"fee"`
	EncryptedOutput1 hexutil.Bytes  `json:"encryptedOutput1"`
	EncryptedOutput2 hexutil.Bytes  `json:"encryptedOutput2"`
}

func (d *ExtData) MarshalJSON() ([]byte, error) {
	return json.Marshal(&extDataJSON{
		Recipient:        d.Recipient,
		ExtAmount:        utils.ToFixedHex(d.ExtAmount, 32),
		Relayer:          d.Relayer,
		Fee:              utils.ToFixedHex(d.Fee, 32),
		EncryptedOutput1: d.EncryptedOutput1,
		EncryptedOutput2: d.EncryptedOutput2,
	})
}

func (d *ExtData) UnmarshalJSON(data []byte) error {
	var v extDataJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	extAmount, err := utils.FromFixedHex(v.ExtAmount, 32)
	if err != nil {
		return fmt.Errorf("extAmount: %w", err)
	}
	fee, err := utils.ParseHex(v.Fee)
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	*d = ExtData{
		Recipient:        v.Recipient,
		ExtAmount:        extAmount,
		Relayer:          v.Relayer,
		Fee:              fee,
		EncryptedOutput1: v.EncryptedOutput1,
		EncryptedOutput2: v.EncryptedOutput2,
	}
	return nil
}
