package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// Syncer brings the persisted event logs of one pool up to the chain head.
type Syncer struct {
	src           Source
	store         Store
	deployedBlock uint64
	cfg           FetchConfig
	log           zerolog.Logger
}

func NewSyncer(src Source, store Store, deployedBlock uint64, cfg FetchConfig, log zerolog.Logger) *Syncer {
	return &Syncer{
		src:           src,
		store:         store,
		deployedBlock: deployedBlock,
		cfg:           cfg,
		log:           log.With().Str("module", "events").Logger(),
	}
}

func (s *Syncer) startBlock(lastBlock uint64) uint64 {
	return max(lastBlock, s.deployedBlock) + 1
}

// Commitments returns the complete, verified commitment log. When the
// cached part and the fresh part do not join into a gapless sequence, the
// cache is thrown away and the log is downloaded again from the deployment
// block, once.
func (s *Syncer) Commitments(ctx context.Context) (*VerifiedLog, error) {
	cached, err := s.store.LoadCommitments(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("commitment cache unreadable, syncing from deployment")
		cached = &Cache[CommitmentEvent]{}
	}
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %w", types.ErrNetwork, err)
	}

	log, err := s.syncCommitments(ctx, cached, head)
	if errors.Is(err, types.ErrSequenceGapDetected) && len(cached.Events) > 0 {
		s.log.Warn().Err(err).Uint64("cachedTo", cached.LastBlock).Msg("commitment log has a gap, resyncing")
		log, err = s.syncCommitments(ctx, &Cache[CommitmentEvent]{}, head)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveCommitments(ctx, &Cache[CommitmentEvent]{
		LastBlock: max(head, cached.LastBlock),
		Events:    log.events,
	}); err != nil {
		return nil, fmt.Errorf("save commitments: %w", err)
	}
	s.log.Info().Int("commitments", log.Len()).Uint64("head", head).Msg("commitments synced")
	return log, nil
}

func (s *Syncer) syncCommitments(ctx context.Context, cached *Cache[CommitmentEvent], head uint64) (*VerifiedLog, error) {
	fresh, err := fetchRange(ctx, s.cfg, s.log, s.startBlock(cached.LastBlock), head, s.src.CommitmentEvents)
	if err != nil {
		return nil, err
	}
	all := make([]CommitmentEvent, 0, len(cached.Events)+len(fresh))
	all = append(all, cached.Events...)
	all = append(all, fresh...)
	return VerifyCommitments(all)
}

// Nullifiers returns every nullifier published so far.
func (s *Syncer) Nullifiers(ctx context.Context) (*NullifierSet, error) {
	cached, err := s.store.LoadNullifiers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("nullifier cache unreadable, syncing from deployment")
		cached = &Cache[NullifierEvent]{}
	}
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %w", types.ErrNetwork, err)
	}
	fresh, err := fetchRange(ctx, s.cfg, s.log, s.startBlock(cached.LastBlock), head, s.src.NullifierEvents)
	if err != nil {
		return nil, err
	}
	set := NewNullifierSet(append(cached.Events, fresh...))

	if err := s.store.SaveNullifiers(ctx, &Cache[NullifierEvent]{
		LastBlock: max(head, cached.LastBlock),
		Events:    set.events,
	}); err != nil {
		return nil, fmt.Errorf("save nullifiers: %w", err)
	}
	s.log.Info().Int("nullifiers", set.Len()).Uint64("head", head).Msg("nullifiers synced")
	return set, nil
}
