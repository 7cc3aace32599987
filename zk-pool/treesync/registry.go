package treesync

import (
	"fmt"
	"sync"
)

// Registry holds one Service per token. It is passed explicitly to whoever
// needs trees; there is no package level instance.
type Registry struct {
	mtx      sync.RWMutex
	services map[string]*Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register adds svc, replacing any service registered for the same token.
func (r *Registry) Register(svc *Service) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.services[svc.cfg.Token] = svc
}

func (r *Registry) Service(token string) (*Service, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	svc, ok := r.services[token]
	if !ok {
		return nil, fmt.Errorf("no tree service for token %q", token)
	}
	return svc, nil
}
