package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// JobStatus is the lifecycle state of a relayed transaction.
type JobStatus string

const (
	StatusQueued      JobStatus = "QUEUED"
	StatusAccepted    JobStatus = "ACCEPTED"
	StatusSent        JobStatus = "SENT"
	StatusMined       JobStatus = "MINED"
	StatusResubmitted JobStatus = "RESUBMITTED"
	StatusConfirmed   JobStatus = "CONFIRMED"
	StatusFailed      JobStatus = "FAILED"
)

// Final reports whether the job will not change state anymore.
func (s JobStatus) Final() bool {
	return s == StatusConfirmed || s == StatusFailed
}

var ErrJobFailed = errors.New("relay job failed")

// Args carries the proof package the relayer submits.
type Args struct {
	ProofArgs *types.ProofArgs `json:"proofArgs"`
	ExtData   *types.ExtData   `json:"extData"`
}

type RelayRequest struct {
	ChainID     uint64         `json:"chainId"`
	Args        Args           `json:"args"`
	PoolAddress common.Address `json:"poolAddress"`
}

// NewRelayRequest wraps a prepared transaction for the pool at pool.
func NewRelayRequest(chainID uint64, pool common.Address, tx *types.Transaction) *RelayRequest {
	return &RelayRequest{
		ChainID:     chainID,
		Args:        Args{ProofArgs: tx.ProofArgs, ExtData: tx.ExtData},
		PoolAddress: pool,
	}
}

type Job struct {
	ID           string      `json:"id"`
	Status       JobStatus   `json:"status"`
	TxHash       common.Hash `json:"txHash,omitempty"`
	FailedReason string      `json:"failedReason,omitempty"`
}

// Status is the liveness report of a relayer.
type Status struct {
	RewardAccount common.Address `json:"rewardAccount"`
	Version       string         `json:"version"`
	Health        struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"health"`
	CurrentQueue int `json:"currentQueue"`
}

// HTTPError is a non-2xx answer of the relayer.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relayer responded %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("module", "relayer").Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", types.ErrNetwork, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Relay hands a withdraw or transfer to the relayer and returns the job id.
func (c *Client) Relay(ctx context.Context, kind types.TxKind, req *RelayRequest) (string, error) {
	if kind != types.Withdraw && kind != types.Transfer {
		return "", fmt.Errorf("%w: %s cannot be relayed", types.ErrValidation, kind)
	}
	var job Job
	if err := c.do(ctx, http.MethodPost, "/relay/"+string(kind), req, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("relayer returned no job id")
	}
	c.log.Info().Str("kind", string(kind)).Str("job", job.ID).Msg("transaction relayed")
	return job.ID, nil
}

func (c *Client) Job(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

var errPending = errors.New("job pending")

// Wait polls the job every interval until it is confirmed or failed.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	var job *Job
	op := func() error {
		j, err := c.Job(ctx, id)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		job = j
		if !j.Status.Final() {
			c.log.Debug().Str("job", id).Str("status", string(j.Status)).Msg("waiting for relay job")
			return errPending
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	if job.Status == StatusFailed {
		return job, fmt.Errorf("%w: %s", ErrJobFailed, job.FailedReason)
	}
	return job, nil
}
