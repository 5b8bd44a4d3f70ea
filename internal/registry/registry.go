// Package registry keeps remote webhook registrations in step with the
// current tunnel URL. It removes registrations left behind by earlier runs
// of the same host before creating fresh ones, and tracks the registrations
// this process owns until they are released on shutdown.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/koltyakov/hooktunnel/internal/domain"
)

// API is the remote registration service.
type API interface {
	ListRegistrations(ctx context.Context, resource domain.ResourceID) ([]domain.Registration, error)
	CreateRegistration(ctx context.Context, resource domain.ResourceID, data domain.RegistrationData) (domain.Registration, error)
	DeleteRegistration(ctx context.Context, reg domain.Registration) error
}

// Journal persists created and deleted registrations so that a crashed
// process can be cleaned up later. Journal failures are logged, never fatal.
type Journal interface {
	RecordCreated(ctx context.Context, reg domain.Registration) error
	RecordDeleted(ctx context.Context, reg domain.Registration) error
}

// Observer receives synchronization notifications. Nil fields are skipped.
// Callbacks run one at a time on the synchronizing goroutine.
type Observer struct {
	Created func(domain.Registration)
	Deleted func(domain.Registration)
	Failed  func(error)
}

func (o Observer) created(reg domain.Registration) {
	if o.Created != nil {
		o.Created(reg)
	}
}

func (o Observer) deleted(reg domain.Registration) {
	if o.Deleted != nil {
		o.Deleted(reg)
	}
}

func (o Observer) failed(err error) {
	if o.Failed != nil {
		o.Failed(err)
	}
}

// OwnedSet maps each target resource to the one registration this process
// created there.
type OwnedSet struct {
	mu sync.Mutex
	m  map[domain.ResourceID]domain.Registration
}

// NewOwnedSet returns an empty set.
func NewOwnedSet() *OwnedSet {
	return &OwnedSet{m: make(map[domain.ResourceID]domain.Registration)}
}

// Add records reg as owned, returning any entry it replaced.
func (s *OwnedSet) Add(reg domain.Registration) (domain.Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.m[reg.Resource]
	s.m[reg.Resource] = reg
	return prev, ok
}

// Remove drops the entry for reg.Resource if it still holds reg.ID.
func (s *OwnedSet) Remove(reg domain.Registration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[reg.Resource]
	if !ok || cur.ID != reg.ID {
		return false
	}
	delete(s.m, reg.Resource)
	return true
}

// Snapshot returns the owned registrations ordered by resource.
func (s *OwnedSet) Snapshot() []domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.m)
}

// Drain empties the set and returns what it held, ordered by resource.
func (s *OwnedSet) Drain() []domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sortedValues(s.m)
	s.m = make(map[domain.ResourceID]domain.Registration)
	return out
}

func sortedValues(m map[domain.ResourceID]domain.Registration) []domain.Registration {
	out := make([]domain.Registration, 0, len(m))
	for _, reg := range m {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}
