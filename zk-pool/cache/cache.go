package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kysee/zkpool/zk-pool/bloom"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/rs/zerolog"
)

// Reader decodes tree slices, bloom filters and event logs from a Source.
type Reader struct {
	src Source
}

func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

func (r *Reader) Slice(ctx context.Context, key Key, n int) (*merkle.Slice, error) {
	data, err := r.open(ctx, SliceName(key, n), sliceEntry(key, n))
	if err != nil {
		return nil, err
	}
	var s merkle.Slice
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: slice %d: %v", ErrCorrupt, n, err)
	}
	return &s, nil
}

func (r *Reader) Bloom(ctx context.Context, key Key) (*bloom.Filter, error) {
	data, err := r.open(ctx, BloomName(key), bloomEntry(key))
	if err != nil {
		return nil, err
	}
	f, err := bloom.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f, nil
}

// Events decodes the event log artifact of kind into v.
func (r *Reader) Events(ctx context.Context, key Key, kind EventKind, v any) error {
	data, err := r.open(ctx, EventsName(key, kind), eventsEntry(key, kind))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s events: %v", ErrCorrupt, kind, err)
	}
	return nil
}

func (r *Reader) open(ctx context.Context, name, entry string) ([]byte, error) {
	archive, err := r.src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return unpackZip(archive, entry)
}

// Writer produces the artifacts under a local directory.
type Writer struct {
	root string
	log  zerolog.Logger
}

func NewWriter(root string, log zerolog.Logger) *Writer {
	return &Writer{root: root, log: log}
}

// WriteTree splits tree into parts slices and writes them together with a
// bloom filter over every slice except the most recent one, which clients
// always download anyway.
func (w *Writer) WriteTree(key Key, tree *merkle.Tree, parts int) error {
	if tree.Len() == 0 {
		return fmt.Errorf("refusing to write an empty tree")
	}
	slices, err := tree.Slices(parts)
	if err != nil {
		return err
	}
	if len(slices) < parts {
		w.log.Warn().Int("slices", len(slices)).Int("parts", parts).
			Msg("tree too small for the configured number of parts")
	}
	for i, s := range slices {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := w.write(SliceName(key, i+1), sliceEntry(key, i+1), data); err != nil {
			return err
		}
	}

	f, err := bloom.New(tree.Len(), bloom.DefaultFalsePositiveRate)
	if err != nil {
		return err
	}
	added := 0
	for _, s := range slices[:len(slices)-1] {
		for _, e := range s.Elements {
			f.Add(e)
			added++
		}
	}
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if err := w.write(BloomName(key), bloomEntry(key), data); err != nil {
		return err
	}
	w.log.Info().Uint64("chain", key.ChainID).Str("token", key.Token).
		Int("leaves", tree.Len()).Int("slices", len(slices)).Int("bloom", added).
		Msg("tree cache written")
	return nil
}

func (w *Writer) WriteEvents(key Key, kind EventKind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(EventsName(key, kind), eventsEntry(key, kind), data)
}

// write replaces name atomically.
func (w *Writer) write(name, entry string, data []byte) error {
	archive, err := packZip(entry, data)
	if err != nil {
		return err
	}
	dst := filepath.Join(w.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, archive, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
