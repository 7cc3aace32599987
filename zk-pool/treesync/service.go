package treesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/cache"
	"github.com/kysee/zkpool/zk-pool/events"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// DefaultParts is the number of slices a cached tree is split into.
const DefaultParts = 4

type Config struct {
	ChainID uint64
	Token   string
	Levels  int
	Zero    fr.Element
	Parts   int
}

// RootChecker asks the pool whether root is one of its recent roots.
type RootChecker interface {
	IsKnownRoot(ctx context.Context, root fr.Element) (bool, error)
}

// Service rebuilds the commitment tree of one pool instance. It holds no
// tree itself: every call returns a fresh snapshot owned by the caller.
type Service struct {
	cfg    Config
	reader *cache.Reader
	roots  RootChecker
	log    zerolog.Logger
}

// NewService returns a service reading cached slices through reader, which
// may be nil when no cache is published for the instance.
func NewService(cfg Config, reader *cache.Reader, roots RootChecker, log zerolog.Logger) *Service {
	if cfg.Parts <= 0 {
		cfg.Parts = DefaultParts
	}
	return &Service{
		cfg:    cfg,
		reader: reader,
		roots:  roots,
		log:    log.With().Str("module", "treesync").Str("token", cfg.Token).Logger(),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) key() cache.Key {
	return cache.Key{ChainID: s.cfg.ChainID, Token: s.cfg.Token}
}

// CreateTree builds a full tree from a verified commitment log.
func (s *Service) CreateTree(log *events.VerifiedLog) (*merkle.Tree, error) {
	return merkle.New(s.cfg.Levels, log.Leaves(), s.cfg.Zero)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", types.ErrCacheUnavailable, err)
}

func containsElement(elements []fr.Element, target fr.Element) bool {
	for i := range elements {
		if elements[i].Equal(&target) {
			return true
		}
	}
	return false
}

// GetTree reconstructs a partial tree from the cached slices. The most recent
// slice is always loaded; older slices are loaded right to left only when
// target is not in it and the bloom filter says it may be in the cache.
// Missing or corrupt artifacts yield ErrCacheUnavailable.
func (s *Service) GetTree(ctx context.Context, target *fr.Element) (*merkle.PartialTree, error) {
	if s.reader == nil {
		return nil, unavailable(errors.New("no cache source"))
	}
	key := s.key()
	last, err := s.reader.Slice(ctx, key, s.cfg.Parts)
	if err != nil {
		return nil, unavailable(err)
	}
	pt, err := merkle.NewPartial(s.cfg.Levels, last.Edge, last.Elements, s.cfg.Zero)
	if err != nil {
		return nil, unavailable(err)
	}
	if target == nil || pt.IndexOf(*target) >= 0 {
		return pt, nil
	}

	filter, err := s.reader.Bloom(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	if !filter.Test(*target) {
		s.log.Debug().Str("target", utils.ElementHex(*target)).Msg("target not in cached slices")
		return pt, nil
	}

	var (
		edge     merkle.Edge
		elements []fr.Element
	)
	for n := s.cfg.Parts - 1; n >= 1; n-- {
		slice, err := s.reader.Slice(ctx, key, n)
		if err != nil {
			return nil, unavailable(err)
		}
		edge = slice.Edge
		elements = append(slice.Elements, elements...)
		if containsElement(slice.Elements, *target) {
			break
		}
	}
	if len(elements) > 0 {
		if err := pt.ShiftEdge(edge, elements); err != nil {
			return nil, unavailable(err)
		}
	}
	s.log.Debug().Int("edge", pt.EdgeIndex()).Int("len", pt.Len()).Msg("tree restored from cache")
	return pt, nil
}

// Build returns a tree over the whole log whose root the pool recognizes and
// in which every target can be located. The cached partial tree is preferred;
// a full tree is built from the log when the cache is unavailable, disagrees
// with the log, or yields a root the pool does not know.
func (s *Service) Build(ctx context.Context, log *events.VerifiedLog, targets ...fr.Element) (merkle.Snapshot, error) {
	tree, err := s.fromCache(ctx, log, targets)
	if err != nil {
		s.log.Info().Err(err).Msg("building full tree")
		return s.buildFull(ctx, log)
	}

	ok, err := s.isKnownRoot(ctx, tree.Root())
	if err != nil {
		return nil, err
	}
	if ok {
		return tree, nil
	}
	s.log.Warn().Str("root", utils.ElementHex(tree.Root())).Msg("cached tree root unknown, rebuilding")
	return s.buildFull(ctx, log)
}

func (s *Service) buildFull(ctx context.Context, log *events.VerifiedLog) (merkle.Snapshot, error) {
	tree, err := s.CreateTree(log)
	if err != nil {
		return nil, err
	}
	ok, err := s.isKnownRoot(ctx, tree.Root())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownRoot, utils.ElementHex(tree.Root()))
	}
	return tree, nil
}

func (s *Service) isKnownRoot(ctx context.Context, root fr.Element) (bool, error) {
	ok, err := s.roots.IsKnownRoot(ctx, root)
	if err != nil {
		return false, fmt.Errorf("%w: isKnownRoot: %w", types.ErrNetwork, err)
	}
	return ok, nil
}

// fromCache restores the cached tree for the oldest target and appends the
// leaves logged since the cache was produced.
func (s *Service) fromCache(ctx context.Context, log *events.VerifiedLog, targets []fr.Element) (*merkle.PartialTree, error) {
	leaves := log.Leaves()

	var target *fr.Element
	oldest := len(leaves)
	for i := range targets {
		for j := 0; j < oldest; j++ {
			if leaves[j].Equal(&targets[i]) {
				oldest, target = j, &targets[i]
				break
			}
		}
	}

	pt, err := s.GetTree(ctx, target)
	if err != nil {
		return nil, err
	}
	if pt.Len() > len(leaves) {
		return nil, unavailable(fmt.Errorf("cache holds %d leaves, log only %d", pt.Len(), len(leaves)))
	}
	known := pt.Elements()
	for i := range known {
		if !known[i].Equal(&leaves[pt.EdgeIndex()+i]) {
			return nil, unavailable(fmt.Errorf("cached leaf %d differs from the log", pt.EdgeIndex()+i))
		}
	}
	if err := pt.BulkInsert(leaves[pt.Len():]); err != nil {
		return nil, err
	}
	for i := range targets {
		if pt.IndexOf(targets[i]) < 0 && oldest < pt.EdgeIndex() {
			return nil, unavailable(fmt.Errorf("leaf %d is left of the cached edge %d", oldest, pt.EdgeIndex()))
		}
	}
	return pt, nil
}

// Publish writes the slices and bloom filter of the full tree over log.
func (s *Service) Publish(w *cache.Writer, log *events.VerifiedLog) (*merkle.Tree, error) {
	tree, err := s.CreateTree(log)
	if err != nil {
		return nil, err
	}
	if err := w.WriteTree(s.key(), tree, s.cfg.Parts); err != nil {
		return nil, err
	}
	return tree, nil
}
