package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	chainID *big.Int
	head    uint64
	logs    []ethtypes.Log
	spent   map[[32]byte]bool
	roots   map[[32]byte]bool
	sent    []*ethtypes.Transaction
	callErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chainID: big.NewInt(100),
		head:    1000,
		spent:   map[[32]byte]bool{},
		roots:   map[[32]byte]bool{},
	}
}

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) { return c.chainID, nil }

func (c *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var out []ethtypes.Log
	for _, lg := range c.logs {
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		match := true
		for i, want := range q.Topics {
			if i >= len(lg.Topics) || lg.Topics[i] != want[0] {
				match = false
			}
		}
		if match {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (c *fakeClient) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	method, err := poolABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	key := args[0].([32]byte)
	switch method.Name {
	case "isSpent":
		return method.Outputs.Pack(c.spent[key])
	default:
		return method.Outputs.Pack(c.roots[key])
	}
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(c.sent)), nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (c *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 500_000, nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	c.sent = append(c.sent, tx)
	return nil
}

var poolAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func commitmentLog(t *testing.T, idx int64, cm fr.Element, block uint64) ethtypes.Log {
	event := poolABI.Events["CommitmentInserted"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(idx), [32]byte(cm.Bytes()), []byte{0xde, 0xad})
	require.NoError(t, err)
	return ethtypes.Log{
		Address:     poolAddress,
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.Hash{byte(idx)},
	}
}

func TestPoolEvents(t *testing.T) {
	client := newFakeClient()
	cm0, cm1 := utils.RandomElement(31), utils.RandomElement(31)
	nf := utils.RandomElement(31)

	nfEvent := poolABI.Events["NewNullifier"]
	nfData, err := nfEvent.Inputs.NonIndexed().Pack([32]byte(nf.Bytes()))
	require.NoError(t, err)
	client.logs = []ethtypes.Log{
		commitmentLog(t, 0, cm0, 10),
		commitmentLog(t, 1, cm1, 20),
		{Address: poolAddress, Topics: []common.Hash{nfEvent.ID}, Data: nfData, BlockNumber: 20},
	}

	pool := NewPool(client, poolAddress, zerolog.Nop())
	ctx := context.Background()

	cms, err := pool.CommitmentEvents(ctx, 0, 15)
	require.NoError(t, err)
	require.Len(t, cms, 1)
	require.Equal(t, common.Hash(cm0.Bytes()), cms[0].Commitment)
	require.Equal(t, []byte{0xde, 0xad}, []byte(cms[0].EncryptedOutput))
	require.Equal(t, uint64(10), cms[0].BlockNumber)

	cms, err = pool.CommitmentEvents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, cms, 2)
	require.Equal(t, uint64(1), cms[1].LeafIndex)

	nfs, err := pool.NullifierEvents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, nfs, 1)
	require.Equal(t, common.Hash(nf.Bytes()), nfs[0].Nullifier)
}

func TestPoolViews(t *testing.T) {
	client := newFakeClient()
	pool := NewPool(client, poolAddress, zerolog.Nop())
	ctx := context.Background()

	nf, root := utils.RandomElement(31), utils.RandomElement(31)
	client.spent[nf.Bytes()] = true
	client.roots[root.Bytes()] = true

	spent, err := pool.IsSpent(ctx, nf)
	require.NoError(t, err)
	require.True(t, spent)
	spent, err = pool.IsSpent(ctx, root)
	require.NoError(t, err)
	require.False(t, spent)

	known, err := pool.IsKnownRoot(ctx, root)
	require.NoError(t, err)
	require.True(t, known)

	client.callErr = errors.New("connection refused")
	_, err = pool.IsKnownRoot(ctx, root)
	require.ErrorIs(t, err, types.ErrNetwork)
}

func testTransaction() *types.Transaction {
	return &types.Transaction{
		Kind: types.Withdraw,
		ProofArgs: &types.ProofArgs{
			Proof:             []byte{1, 2, 3},
			Root:              utils.RandomElement(31),
			InputNullifiers:   []fr.Element{utils.RandomElement(31), utils.RandomElement(31)},
			OutputCommitments: [2]fr.Element{utils.RandomElement(31), utils.RandomElement(31)},
			PublicAmount:      utils.RandomElement(31),
			ExtDataHash:       utils.RandomElement(31),
		},
		ExtData: &types.ExtData{
			Recipient:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
			ExtAmount:        big.NewInt(50_000),
			Relayer:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Fee:              big.NewInt(1_000),
			EncryptedOutput1: []byte{0xaa},
			EncryptedOutput2: []byte{0xbb, 0xcc},
		},
	}
}

func TestPackTransaction(t *testing.T) {
	tx := testTransaction()
	data, err := PackTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, poolABI.Methods["withdraw"].ID, data[:4])

	back, err := UnpackTransaction(data)
	require.NoError(t, err)
	require.Equal(t, tx.Kind, back.Kind)
	require.Equal(t, tx.ProofArgs, back.ProofArgs)
	require.Equal(t, tx.ExtData.ExtAmount.String(), back.ExtData.ExtAmount.String())
	require.Equal(t, tx.ExtData.Recipient, back.ExtData.Recipient)
	require.Equal(t, tx.ExtData.EncryptedOutput2, back.ExtData.EncryptedOutput2)

	h1, err := tx.ExtData.Hash()
	require.NoError(t, err)
	h2, err := back.ExtData.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	_, err = UnpackTransaction([]byte{1, 2})
	require.Error(t, err)
}

func TestPoolSubmit(t *testing.T) {
	client := newFakeClient()
	pool := NewPool(client, poolAddress, zerolog.Nop())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := testTransaction()
	hash, err := pool.Submit(context.Background(), key, tx, nil)
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	sent := client.sent[0]
	require.Equal(t, hash, sent.Hash())
	require.Equal(t, poolAddress, *sent.To())
	require.Equal(t, uint64(500_000), sent.Gas())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(client.chainID), sent)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)

	back, err := UnpackTransaction(sent.Data())
	require.NoError(t, err)
	require.Equal(t, tx.ProofArgs, back.ProofArgs)
}

func TestRegistrar(t *testing.T) {
	client := newFakeClient()
	registrarAddress := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	reg := NewRegistrar(client, registrarAddress, 0, zerolog.Nop())
	ctx := context.Background()

	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err := reg.KeyPairOf(ctx, owner)
	require.ErrorIs(t, err, ErrNotRegistered)

	event := registrarABI.Events["ShieldedAddress"]
	var kps []*types.KeyPair
	for i := 0; i < 2; i++ {
		kp := types.NewRandomKeyPair()
		kps = append(kps, kp)
		data, err := event.Inputs.NonIndexed().Pack(kp.AddressBytes())
		require.NoError(t, err)
		client.logs = append(client.logs, ethtypes.Log{
			Address:     registrarAddress,
			Topics:      []common.Hash{event.ID, common.BytesToHash(owner.Bytes())},
			Data:        data,
			BlockNumber: uint64(10 + i),
		})
	}

	kp, err := reg.KeyPairOf(ctx, owner)
	require.NoError(t, err)
	require.True(t, kp.IsViewOnly())
	require.True(t, kp.Equals(kps[1]))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = reg.Register(ctx, key, kps[0])
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	require.Equal(t, registrarAddress, *client.sent[0].To())
}
