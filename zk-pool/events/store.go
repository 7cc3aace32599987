package events

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/kysee/zkpool/zk-pool/cache"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store persists the event caches of one pool instance. Load returns an
// empty cache and no error when nothing was stored yet.
type Store interface {
	LoadCommitments(ctx context.Context) (*Cache[CommitmentEvent], error)
	SaveCommitments(ctx context.Context, c *Cache[CommitmentEvent]) error
	LoadNullifiers(ctx context.Context) (*Cache[NullifierEvent], error)
	SaveNullifiers(ctx context.Context, c *Cache[NullifierEvent]) error
}

// ZipStore keeps the caches as zipped JSON artifacts, the format shipped
// to clients.
type ZipStore struct {
	key    cache.Key
	reader *cache.Reader
	writer *cache.Writer
}

func NewZipStore(dir string, key cache.Key, log zerolog.Logger) *ZipStore {
	return &ZipStore{
		key:    key,
		reader: cache.NewReader(cache.DirSource{Root: dir}),
		writer: cache.NewWriter(dir, log),
	}
}

func loadZip[T any](ctx context.Context, s *ZipStore, kind cache.EventKind) (*Cache[T], error) {
	var c Cache[T]
	err := s.reader.Events(ctx, s.key, kind, &c)
	if errors.Is(err, cache.ErrNotFound) {
		return &Cache[T]{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ZipStore) LoadCommitments(ctx context.Context) (*Cache[CommitmentEvent], error) {
	return loadZip[CommitmentEvent](ctx, s, cache.Commitments)
}

func (s *ZipStore) SaveCommitments(_ context.Context, c *Cache[CommitmentEvent]) error {
	return s.writer.WriteEvents(s.key, cache.Commitments, c)
}

func (s *ZipStore) LoadNullifiers(ctx context.Context) (*Cache[NullifierEvent], error) {
	return loadZip[NullifierEvent](ctx, s, cache.Nullifiers)
}

func (s *ZipStore) SaveNullifiers(_ context.Context, c *Cache[NullifierEvent]) error {
	return s.writer.WriteEvents(s.key, cache.Nullifiers, c)
}

const (
	commitmentPrefix = "cm_"
	nullifierPrefix  = "nf_"
	lastBlockPrefix  = "last_"
)

// LevelDBStore keeps one RLP record per event under cm_<leafIndex> and
// nf_<nullifier> keys, plus the last synced block per log.
type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func commitmentKey(leafIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", commitmentPrefix, leafIndex))
}

func nullifierKey(nullifier common.Hash) []byte {
	return []byte(nullifierPrefix + strings.TrimPrefix(nullifier.Hex(), "0x"))
}

func lastBlockKey(prefix string) []byte {
	return []byte(lastBlockPrefix + prefix)
}

func (s *LevelDBStore) lastBlock(prefix string) (uint64, error) {
	v, err := s.db.Get(lastBlockKey(prefix), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func loadLevelDB[T any](s *LevelDBStore, prefix string) (*Cache[T], error) {
	last, err := s.lastBlock(prefix)
	if err != nil {
		return nil, err
	}
	c := &Cache[T]{LastBlock: last}

	// cm_ keys are zero padded, so iteration order is leaf order
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var ev T
		if err := rlp.DecodeBytes(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		c.Events = append(c.Events, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// saveLevelDB replaces every record under prefix in one batch.
func saveLevelDB[T any](s *LevelDBStore, prefix string, c *Cache[T], key func(*T) []byte) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for i := range c.Events {
		v, err := rlp.EncodeToBytes(&c.Events[i])
		if err != nil {
			return err
		}
		batch.Put(key(&c.Events[i]), v)
	}
	var last [8]byte
	binary.BigEndian.PutUint64(last[:], c.LastBlock)
	batch.Put(lastBlockKey(prefix), last[:])
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) LoadCommitments(_ context.Context) (*Cache[CommitmentEvent], error) {
	return loadLevelDB[CommitmentEvent](s, commitmentPrefix)
}

func (s *LevelDBStore) SaveCommitments(_ context.Context, c *Cache[CommitmentEvent]) error {
	return saveLevelDB(s, commitmentPrefix, c, func(ev *CommitmentEvent) []byte {
		return commitmentKey(ev.LeafIndex)
	})
}

func (s *LevelDBStore) LoadNullifiers(_ context.Context) (*Cache[NullifierEvent], error) {
	return loadLevelDB[NullifierEvent](s, nullifierPrefix)
}

func (s *LevelDBStore) SaveNullifiers(_ context.Context, c *Cache[NullifierEvent]) error {
	return saveLevelDB(s, nullifierPrefix, c, func(ev *NullifierEvent) []byte {
		return nullifierKey(ev.Nullifier)
	})
}

// IsSpent checks a nullifier against the stored log.
func (s *LevelDBStore) IsSpent(_ context.Context, nullifier common.Hash) (bool, error) {
	_, err := s.db.Get(nullifierKey(nullifier), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
