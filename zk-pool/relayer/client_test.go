package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var pool = common.HexToAddress("0x4444444444444444444444444444444444444444")

func testTx() *types.Transaction {
	return &types.Transaction{
		Kind: types.Withdraw,
		ProofArgs: &types.ProofArgs{
			Proof:             []byte{1, 2, 3},
			Root:              utils.RandomElement(31),
			InputNullifiers:   []fr.Element{utils.RandomElement(31), utils.RandomElement(31)},
			OutputCommitments: [2]fr.Element{utils.RandomElement(31), utils.RandomElement(31)},
			PublicAmount:      utils.Uint64Element(9),
			ExtDataHash:       utils.RandomElement(31),
		},
		ExtData: &types.ExtData{
			Recipient:        common.HexToAddress("0x5555555555555555555555555555555555555555"),
			ExtAmount:        big.NewInt(10),
			Fee:              big.NewInt(1),
			EncryptedOutput1: []byte{4},
			EncryptedOutput2: []byte{5},
		},
	}
}

func TestRelay(t *testing.T) {
	tx := testTx()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/relay/withdraw", r.URL.Path)

		var req RelayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, uint64(5), req.ChainID)
		require.Equal(t, pool, req.PoolAddress)
		require.Equal(t, tx.ProofArgs.Root, req.Args.ProofArgs.Root)
		require.Equal(t, tx.ProofArgs.InputNullifiers, req.Args.ProofArgs.InputNullifiers)
		require.Equal(t, int64(10), req.Args.ExtData.ExtAmount.Int64())
		require.Equal(t, tx.ExtData.Recipient, req.Args.ExtData.Recipient)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", zerolog.Nop())
	id, err := c.Relay(context.Background(), types.Withdraw, NewRelayRequest(5, pool, tx))
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	_, err = c.Relay(context.Background(), types.Deposit, NewRelayRequest(5, pool, tx))
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown job", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.Job(context.Background(), "nope")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.Equal(t, "unknown job", httpErr.Body)

	// 4xx is not retried
	_, err = c.Wait(context.Background(), "nope", time.Millisecond)
	require.True(t, errors.As(err, &httpErr))

	srv.Close()
	_, err = c.Status(context.Background())
	require.ErrorIs(t, err, types.ErrNetwork)
}

func TestStatusAndWait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rewardAccount":"0x4444444444444444444444444444444444444444","version":"1.2.0","health":{"status":"true","error":""},"currentQueue":3}`))
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := StatusSent
		if polls.Add(1) >= 3 {
			status = StatusConfirmed
		}
		_ = json.NewEncoder(w).Encode(&Job{ID: "job-1", Status: status, TxHash: common.HexToHash("0xaa")})
	})
	mux.HandleFunc("/jobs/job-2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&Job{ID: "job-2", Status: StatusFailed, FailedReason: "gas too low"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := NewClient(srv.URL, zerolog.Nop())

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, pool, st.RewardAccount)
	require.Equal(t, 3, st.CurrentQueue)

	job, err := c.Wait(context.Background(), "job-1", time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, job.Status)
	require.Equal(t, int32(3), polls.Load())

	job, err = c.Wait(context.Background(), "job-2", time.Millisecond)
	require.ErrorIs(t, err, ErrJobFailed)
	require.Equal(t, StatusFailed, job.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Wait(ctx, "job-1", time.Millisecond)
	require.Error(t, err)
}
