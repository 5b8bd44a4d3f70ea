package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/hooktunnel/internal/domain"
)

// Request describes one synchronization pass.
type Request struct {
	Targets   []domain.ResourceID
	PublicURL string
	Identity  string
	Username  string
	Password  string
	Topics    []string
}

// Result summarizes a synchronization pass.
type Result struct {
	Deleted  []domain.Registration
	Created  []domain.Registration
	Failures []error
}

// Synchronizer runs fetch, filter, delete and create against an [API].
type Synchronizer struct {
	api     API
	owned   *OwnedSet
	journal Journal
	log     *slog.Logger
	now     func() time.Time
}

// NewSynchronizer returns a Synchronizer that adds created registrations
// to owned. journal may be nil.
func NewSynchronizer(api API, owned *OwnedSet, journal Journal, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{api: api, owned: owned, journal: journal, log: logger, now: time.Now}
}

// Synchronize replaces this host's registrations on every target with one
// pointing at req.PublicURL.
//
// A failed list or delete aborts the pass with a [*domain.SyncError] before
// anything is created. Creates are independent: each failure is reported to
// obs as a [*domain.RegistrationError] and collected in the result, and the
// pass still succeeds. Creates are not cancelled by ctx, so every record the
// remote side accepted ends up in the owned set.
func (s *Synchronizer) Synchronize(ctx context.Context, req Request, obs Observer) (Result, error) {
	var res Result
	if len(req.Targets) == 0 {
		return res, nil
	}

	deleted, err := s.purge(ctx, req.Targets, req.Identity, obs)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	data := s.payload(req)
	type outcome struct {
		resource domain.ResourceID
		reg      domain.Registration
		err      error
	}
	results := make(chan outcome, len(req.Targets))
	createCtx := context.WithoutCancel(ctx)
	for _, resource := range req.Targets {
		go func() {
			reg, err := s.api.CreateRegistration(createCtx, resource, data)
			results <- outcome{resource: resource, reg: reg, err: err}
		}()
	}
	for range req.Targets {
		out := <-results
		if out.err != nil {
			rerr := &domain.RegistrationError{Resource: out.resource, Err: out.err}
			s.log.Warn("create registration failed", "resource", out.resource, "err", out.err)
			res.Failures = append(res.Failures, rerr)
			obs.failed(rerr)
			continue
		}
		if out.reg.Resource == "" {
			out.reg.Resource = out.resource
		}
		if prev, replaced := s.owned.Add(out.reg); replaced {
			s.log.Warn("owned registration replaced", "resource", prev.Resource, "id", prev.ID)
		}
		s.record(createCtx, out.reg, true)
		s.log.Info("registration created", "resource", out.reg.Resource, "id", out.reg.ID, "url", out.reg.URL)
		res.Created = append(res.Created, out.reg)
		obs.created(out.reg)
	}
	return res, nil
}

// Purge removes this host's registrations from every target without
// creating new ones.
func (s *Synchronizer) Purge(ctx context.Context, targets []domain.ResourceID, identity string, obs Observer) ([]domain.Registration, error) {
	return s.purge(ctx, targets, identity, obs)
}

func (s *Synchronizer) purge(ctx context.Context, targets []domain.ResourceID, identity string, obs Observer) ([]domain.Registration, error) {
	stale, err := s.fetchStale(ctx, targets, identity)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		deleted []domain.Registration
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range stale {
		g.Go(func() error {
			if err := s.api.DeleteRegistration(gctx, reg); err != nil {
				return &domain.SyncError{Phase: "delete", Resource: reg.Resource, Err: err}
			}
			mu.Lock()
			deleted = append(deleted, reg)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	for _, reg := range deleted {
		s.owned.Remove(reg)
		s.record(context.WithoutCancel(ctx), reg, false)
		s.log.Info("stale registration deleted", "resource", reg.Resource, "id", reg.ID)
		obs.deleted(reg)
	}
	return deleted, err
}

func (s *Synchronizer) fetchStale(ctx context.Context, targets []domain.ResourceID, identity string) ([]domain.Registration, error) {
	lists := make([][]domain.Registration, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, resource := range targets {
		g.Go(func() error {
			regs, err := s.api.ListRegistrations(gctx, resource)
			if err != nil {
				return &domain.SyncError{Phase: "fetch", Resource: resource, Err: err}
			}
			lists[i] = regs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var stale []domain.Registration
	for i, regs := range lists {
		for _, reg := range regs {
			if reg.IdentityLabel != identity {
				continue
			}
			if reg.Resource == "" {
				reg.Resource = targets[i]
			}
			stale = append(stale, reg)
		}
	}
	return stale, nil
}

func (s *Synchronizer) payload(req Request) domain.RegistrationData {
	data := domain.RegistrationData{
		Name: req.Identity,
		URL:  req.PublicURL,
		Headers: []domain.Header{
			{Key: domain.HeaderIdentity, Value: req.Identity},
			{Key: domain.HeaderDateCreated, Value: s.now().UTC().Format(time.RFC3339)},
		},
		Topics: append([]string(nil), req.Topics...),
	}
	if req.Username != "" {
		data.Username = req.Username
		data.Password = req.Password
	}
	return data
}

func (s *Synchronizer) record(ctx context.Context, reg domain.Registration, created bool) {
	if s.journal == nil {
		return
	}
	var err error
	if created {
		err = s.journal.RecordCreated(ctx, reg)
	} else {
		err = s.journal.RecordDeleted(ctx, reg)
	}
	if err != nil {
		s.log.Warn("journal write failed", "resource", reg.Resource, "id", reg.ID, "err", err)
	}
}

// ReleaseAll deletes every owned registration concurrently. The set is
// emptied regardless of outcome; each failure is returned as a
// [*domain.CleanupError].
func (s *Synchronizer) ReleaseAll(ctx context.Context) ([]domain.Registration, []error) {
	regs := s.owned.Drain()
	if len(regs) == 0 {
		return nil, nil
	}
	errs := make([]error, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.api.DeleteRegistration(ctx, reg); err != nil {
				errs[i] = &domain.CleanupError{Op: "delete registration", Resource: reg.Resource, Err: err}
			}
		}()
	}
	wg.Wait()

	var (
		deleted  []domain.Registration
		failures []error
	)
	for i, reg := range regs {
		if errs[i] != nil {
			s.log.Warn("release registration failed", "resource", reg.Resource, "id", reg.ID, "err", errs[i])
			failures = append(failures, errs[i])
			continue
		}
		s.record(context.WithoutCancel(ctx), reg, false)
		s.log.Info("registration deleted", "resource", reg.Resource, "id", reg.ID)
		deleted = append(deleted, reg)
	}
	return deleted, failures
}
