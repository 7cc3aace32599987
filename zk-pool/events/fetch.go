package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// FetchConfig shapes the chunked log download.
type FetchConfig struct {
	// ChunkCount splits the pending range into this many chunks when
	// ChunkSize is zero.
	ChunkCount uint64 `yaml:"chunkCount"`
	// ChunkSize fixes the number of blocks per request, for providers
	// with a hard log query limit.
	ChunkSize uint64 `yaml:"chunkSize"`
	// RequestDelay is waited between two consecutive requests.
	RequestDelay time.Duration `yaml:"requestDelay"`

	MaxRetries     uint64        `yaml:"maxRetries"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		ChunkCount:     20,
		RequestDelay:   200 * time.Millisecond,
		MaxRetries:     8,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func (c FetchConfig) chunkSize(from, to uint64) uint64 {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	count := max(c.ChunkCount, 1)
	return max((to-from+1+count-1)/count, 1)
}

func (c FetchConfig) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
}

// fetchRange downloads [from, to] chunk by chunk, sequentially. A failing
// chunk is retried with exponential backoff and half its size each time;
// after MaxRetries failures the whole fetch fails with ErrNetwork.
func fetchRange[T any](
	ctx context.Context,
	cfg FetchConfig,
	log zerolog.Logger,
	from, to uint64,
	get func(ctx context.Context, from, to uint64) ([]T, error),
) ([]T, error) {
	if from > to {
		return nil, nil
	}
	size := cfg.chunkSize(from, to)

	var out []T
	for start := from; start <= to; {
		var (
			end uint64
			got []T
		)
		op := func() error {
			end = min(start+size-1, to)
			res, err := get(ctx, start, end)
			if err != nil {
				return err
			}
			got = res
			return nil
		}
		notify := func(err error, wait time.Duration) {
			size = max(size/2, 1)
			log.Warn().Err(err).Uint64("from", start).Uint64("to", end).
				Uint64("nextSize", size).Dur("wait", wait).Msg("fetch events failed, retrying")
		}
		if err := backoff.RetryNotify(op, cfg.backoff(ctx), notify); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: fetch blocks %d-%d: %w", types.ErrNetwork, start, end, err)
		}
		log.Debug().Uint64("from", start).Uint64("to", end).Int("events", len(got)).Msg("fetched events")
		out = append(out, got...)

		if end == to {
			break
		}
		start = end + 1
		if cfg.RequestDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RequestDelay):
			}
		}
	}
	return out, nil
}
