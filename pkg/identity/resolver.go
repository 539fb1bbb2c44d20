// Package identity is the boundary to the external directory. Profiles only
// ever decorate payloads; authorization is membership-based and never
// consults the resolver.
package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/mahaj/staff-chat/pkg/model"
)

type Resolver interface {
	Resolve(ctx context.Context, identity string) (*model.Profile, error)
}

// Static is an in-process resolver over a fixed directory snapshot. It stands
// in for the real directory service in development and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
}

func NewStatic(profiles map[string]model.Profile) *Static {
	if profiles == nil {
		profiles = make(map[string]model.Profile)
	}
	return &Static{profiles: profiles}
}

func (s *Static) Resolve(_ context.Context, identity string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[identity]
	if !ok {
		return nil, fmt.Errorf("%w: identity %s", model.ErrNotFound, identity)
	}
	out := p
	return &out, nil
}

func (s *Static) Put(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Identity] = p
}
