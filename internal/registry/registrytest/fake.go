// Package registrytest provides an in-memory registry.API for tests.
package registrytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/koltyakov/hooktunnel/internal/domain"
)

// Call is one recorded API invocation.
type Call struct {
	Op       string // "list", "create" or "delete"
	Resource domain.ResourceID
	ID       string
}

// Fake is an in-memory remote registration service. Zero value is not
// usable; call [New].
type Fake struct {
	mu      sync.Mutex
	records map[domain.ResourceID][]domain.Registration
	calls   []Call
	nextID  int

	ListErr   map[domain.ResourceID]error
	CreateErr map[domain.ResourceID]error
	DeleteErr map[string]error

	// ListGate, when set, blocks every list until it is closed or the
	// caller's context ends.
	ListGate chan struct{}
	// ListStarted receives the resource of each list as it begins.
	ListStarted chan domain.ResourceID
	// CreateGate, when set, blocks every create until it is closed.
	CreateGate chan struct{}
	// CreateStarted receives the resource of each create as it begins.
	CreateStarted chan domain.ResourceID
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		records:   make(map[domain.ResourceID][]domain.Registration),
		ListErr:   make(map[domain.ResourceID]error),
		CreateErr: make(map[domain.ResourceID]error),
		DeleteErr: make(map[string]error),
	}
}

// Seed stores reg as if it had been created remotely earlier.
func (f *Fake) Seed(reg domain.Registration) domain.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reg.ID == "" {
		f.nextID++
		reg.ID = fmt.Sprintf("seed-%d", f.nextID)
	}
	f.records[reg.Resource] = append(f.records[reg.Resource], reg)
	return reg
}

// Records returns the registrations currently stored for resource.
func (f *Fake) Records(resource domain.ResourceID) []domain.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Registration(nil), f.records[resource]...)
}

// Count returns how many registrations with identity exist on resource.
func (f *Fake) Count(resource domain.ResourceID, identity string) int {
	n := 0
	for _, reg := range f.Records(resource) {
		if reg.IdentityLabel == identity {
			n++
		}
	}
	return n
}

// Calls returns every recorded call in order of completion.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) ListRegistrations(ctx context.Context, resource domain.ResourceID) ([]domain.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ListStarted != nil {
		f.ListStarted <- resource
	}
	if f.ListGate != nil {
		select {
		case <-f.ListGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "list", Resource: resource})
	if err := f.ListErr[resource]; err != nil {
		return nil, err
	}
	return append([]domain.Registration(nil), f.records[resource]...), nil
}

func (f *Fake) CreateRegistration(ctx context.Context, resource domain.ResourceID, data domain.RegistrationData) (domain.Registration, error) {
	if f.CreateStarted != nil {
		f.CreateStarted <- resource
	}
	if f.CreateGate != nil {
		<-f.CreateGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.CreateErr[resource]; err != nil {
		f.calls = append(f.calls, Call{Op: "create", Resource: resource})
		return domain.Registration{}, err
	}
	f.nextID++
	reg := domain.Registration{
		ID:            fmt.Sprintf("wh-%d", f.nextID),
		Resource:      resource,
		URL:           data.URL,
		IdentityLabel: data.Name,
		Username:      data.Username,
		Headers:       append([]domain.Header(nil), data.Headers...),
		Topics:        append([]string(nil), data.Topics...),
	}
	f.records[resource] = append(f.records[resource], reg)
	f.calls = append(f.calls, Call{Op: "create", Resource: resource, ID: reg.ID})
	return reg, nil
}

func (f *Fake) DeleteRegistration(ctx context.Context, reg domain.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "delete", Resource: reg.Resource, ID: reg.ID})
	if err := f.DeleteErr[reg.ID]; err != nil {
		return err
	}
	regs := f.records[reg.Resource]
	for i, r := range regs {
		if r.ID == reg.ID {
			f.records[reg.Resource] = append(regs[:i:i], regs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("registration %s not found", reg.ID)
}
