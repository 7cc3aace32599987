package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound = errors.New("cache artifact not found")
	ErrCorrupt  = errors.New("cache artifact corrupt")
)

// Source fetches raw artifact bytes by relative name.
type Source interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

// DirSource reads artifacts from a local directory.
type DirSource struct {
	Root string
}

func (s DirSource) Open(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// HTTPSource downloads artifacts from a static file server.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s HTTPSource) Open(ctx context.Context, name string) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
