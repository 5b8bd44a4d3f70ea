// Package lifecycle drives one webhook tunnel session: bind the local
// listener, open the tunnel, replace this host's remote registrations, and
// tear all of it down again in reverse order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/registry"
	"github.com/koltyakov/hooktunnel/internal/tunnel"
)

// Listener is the local HTTP server the tunnel forwards to. Listen returns
// the bound port; Close must be idempotent.
type Listener interface {
	Listen(ctx context.Context, port int) (int, error)
	Close(ctx context.Context) error
}

// Deps are the collaborators of an [Orchestrator].
type Deps struct {
	Listener Listener
	Tunnel   tunnel.Client
	// API may be nil when the configuration has no targets.
	API     registry.API
	Journal registry.Journal
	// Hostname overrides the configured host name in the identity label.
	Hostname string
	Logger   *slog.Logger
}

// Orchestrator owns the configuration, the tunnel session and the set of
// registrations created by this process.
type Orchestrator struct {
	cfg      config.Config
	identity string
	log      *slog.Logger
	listener Listener
	session  *tunnel.Session
	sync     *registry.Synchronizer
	owned    *registry.OwnedSet
	events   *dispatcher
	bg       sync.WaitGroup

	mu          sync.Mutex
	state       State
	err         error
	port        int
	handle      tunnel.Handle
	phaseCancel context.CancelFunc
	phaseDone   chan struct{}
	closeDone   chan struct{}
}

// New returns an idle orchestrator. cfg is deep-copied.
func New(cfg config.Config, deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.Clone()
	identity := cfg.IdentityLabel()
	if deps.Hostname != "" {
		identity = domain.IdentityLabel(deps.Hostname)
	}
	owned := registry.NewOwnedSet()
	var api registry.API = unavailableAPI{}
	if deps.API != nil {
		api = deps.API
	}
	o := &Orchestrator{
		cfg:      cfg,
		identity: identity,
		log:      log,
		listener: deps.Listener,
		session:  tunnel.NewSession(deps.Tunnel, log),
		sync:     registry.NewSynchronizer(api, owned, deps.Journal, log),
		owned:    owned,
		events:   newDispatcher(),
	}
	o.session.Observe(o.onTunnelEvent)
	return o
}

// Subscribe registers fn for every subsequent event. Subscribers run one at
// a time on a dedicated goroutine and may call [Orchestrator.Close].
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.events.subscribe(fn)
}

// Identity returns the label this session matches registrations by.
func (o *Orchestrator) Identity() string {
	return o.identity
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that moved the session to [StateFailed], if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Port returns the bound listener port, or 0 before Listen succeeded.
func (o *Orchestrator) Port() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.port
}

// Handle returns the open tunnel, if any.
func (o *Orchestrator) Handle() (tunnel.Handle, bool) {
	return o.session.Handle()
}

// Owned returns the registrations this session currently owns.
func (o *Orchestrator) Owned() []domain.Registration {
	return o.owned.Snapshot()
}

// Done is closed once the session is closed and every event has been
// delivered.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.events.done
}

// Wait blocks until [Orchestrator.Done] and returns [Orchestrator.Err].
func (o *Orchestrator) Wait() error {
	<-o.Done()
	return o.Err()
}

// Listen binds the listener and starts the tunnel and synchronization
// phases in the background. ctx bounds the bind only; the phases run until
// Close.
func (o *Orchestrator) Listen(ctx context.Context, port int) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("listen: session is %s", state)
	}
	o.mu.Unlock()

	bound, err := o.listener.Listen(ctx, port)
	if err != nil {
		var le *domain.ListenError
		if !errors.As(err, &le) {
			err = &domain.ListenError{Addr: fmt.Sprintf(":%d", port), Err: err}
		}
		o.fail(err)
		return err
	}

	phaseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	o.mu.Lock()
	if o.state != StateIdle {
		// Closed while binding.
		o.mu.Unlock()
		cancel()
		_ = o.listener.Close(context.WithoutCancel(ctx))
		return domain.ErrClosed
	}
	o.port = bound
	o.phaseCancel = cancel
	o.phaseDone = done
	o.setStateLocked(StateListening)
	o.mu.Unlock()

	o.log.Info("listening", "port", bound)
	o.events.emit(Event{Kind: EventListening, Port: bound})

	go func() {
		defer close(done)
		defer cancel()
		o.run(phaseCtx, bound)
	}()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, port int) {
	if !o.advance(StateTunnelPending) {
		return
	}
	h, err := o.session.Open(ctx, o.cfg.TunnelConfig(port))
	if err != nil {
		if ctx.Err() == nil {
			o.fail(err)
		}
		return
	}
	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
	o.events.emit(Event{Kind: EventTunnelConnected, URL: h.PublicURL, InspectURL: h.InspectURL, Port: h.LocalPort})

	if !o.advance(StateSynchronizing) {
		return
	}
	if len(o.cfg.Targets) > 0 {
		if err := o.cfg.RequireAPICredential(); err != nil {
			o.fail(err)
			return
		}
	}
	req := registry.Request{
		Targets:   o.cfg.Targets,
		PublicURL: h.PublicURL,
		Identity:  o.identity,
		Topics:    o.cfg.Topics,
	}
	if o.cfg.BasicAuth != nil {
		req.Username = o.cfg.BasicAuth.User
		req.Password = o.cfg.BasicAuth.Password
	}
	res, err := o.sync.Synchronize(ctx, req, registry.Observer{
		Created: func(reg domain.Registration) {
			o.events.emit(Event{Kind: EventRegistrationCreated, Registration: reg})
		},
		Deleted: func(reg domain.Registration) {
			o.events.emit(Event{Kind: EventRegistrationDeleted, Registration: reg})
		},
		Failed: func(err error) {
			o.events.emit(Event{Kind: EventError, Err: err})
		},
	})
	if err != nil {
		if ctx.Err() == nil {
			o.fail(err)
		}
		return
	}
	if !o.advance(StateReady) {
		return
	}
	o.log.Info("ready", "url", h.PublicURL, "created", len(res.Created), "deleted", len(res.Deleted), "failed", len(res.Failures))
	o.events.emit(Event{Kind: EventReady, URL: h.PublicURL, Port: port})
}

// advance moves to next unless a close or failure got there first.
func (o *Orchestrator) advance(next State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.terminal() {
		return false
	}
	o.setStateLocked(next)
	return true
}

func (o *Orchestrator) setStateLocked(next State) {
	if o.state == next {
		return
	}
	o.state = next
	o.events.emit(Event{Kind: EventStateChanged, State: next})
}

// fail moves the session to StateFailed, stops the phase goroutine and tears
// down the tunnel and the listener in the background. Failures after close
// started are only logged.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	if o.state.terminal() {
		o.mu.Unlock()
		o.log.Debug("error after shutdown started", "err", err)
		return
	}
	o.err = err
	o.setStateLocked(StateFailed)
	o.bg.Add(1)
	cancel := o.phaseCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	o.log.Error("session failed", "err", err)
	o.events.emit(Event{Kind: EventError, Err: err})

	go func() {
		defer o.bg.Done()
		ctx := context.Background()
		if err := o.session.Close(ctx); err != nil {
			o.log.Warn("close tunnel after failure", "err", err)
		}
		if err := o.listener.Close(ctx); err != nil {
			o.log.Warn("stop listener after failure", "err", err)
		}
	}()
}

func (o *Orchestrator) onTunnelEvent(ev tunnel.Event) {
	switch ev.Kind {
	case tunnel.EventDisconnected:
		o.log.Info("tunnel disconnected", "url", ev.URL)
		o.events.emit(Event{Kind: EventTunnelDisconnected, URL: ev.URL})
	case tunnel.EventError:
		o.fail(&domain.TunnelError{URL: ev.URL, Op: "session", Err: ev.Err})
	}
}

// Close releases owned registrations, closes the tunnel and stops the
// listener. Only the first call does the work; later calls wait for it and
// return nil. Cleanup failures are emitted as error events and joined into
// the returned error.
//
// A failed session stays in [StateFailed] but is still cleaned up.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closeDone != nil {
		done := o.closeDone
		o.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.closeDone = make(chan struct{})
	failed := o.state == StateFailed
	if !failed {
		o.setStateLocked(StateClosing)
	}
	cancel, phaseDone := o.phaseCancel, o.phaseDone
	o.mu.Unlock()
	defer close(o.closeDone)

	// The phase goroutine is the only other writer of the owned set; wait
	// for it before releasing.
	if cancel != nil {
		cancel()
		<-phaseDone
	}
	o.bg.Wait()

	var errs []error
	report := func(err error) {
		errs = append(errs, err)
		o.events.emit(Event{Kind: EventError, Err: err})
	}

	deleted, failures := o.sync.ReleaseAll(ctx)
	for _, reg := range deleted {
		o.events.emit(Event{Kind: EventRegistrationDeleted, Registration: reg})
	}
	for _, err := range failures {
		report(err)
	}

	_, hadTunnel := o.session.Handle()
	if err := o.session.Close(ctx); err != nil {
		report(&domain.CleanupError{Op: "close tunnel", Err: err})
	} else if hadTunnel {
		o.mu.Lock()
		url := o.handle.PublicURL
		o.mu.Unlock()
		o.events.emit(Event{Kind: EventTunnelDisconnected, URL: url})
	}

	if err := o.listener.Close(ctx); err != nil {
		report(&domain.CleanupError{Op: "stop listener", Err: err})
	}

	o.mu.Lock()
	if !failed {
		o.setStateLocked(StateClosed)
	}
	o.mu.Unlock()

	o.log.Info("closed", "released", len(deleted), "cleanup_errors", len(errs))
	o.events.emit(Event{Kind: EventClosed})
	o.events.close()
	return errors.Join(errs...)
}

// CloseWithCallback runs Close in the background and reports its result to
// fn.
func (o *Orchestrator) CloseWithCallback(fn func(error)) {
	go func() {
		err := o.Close(context.Background())
		if fn != nil {
			fn(err)
		}
	}()
}

// unavailableAPI stands in when no registration API was configured. It is
// only reached with targets, after the credential check passed.
type unavailableAPI struct{}

var errNoAPI = &domain.ConfigError{Field: "platform", Err: errors.New("no registration API configured")}

func (unavailableAPI) ListRegistrations(context.Context, domain.ResourceID) ([]domain.Registration, error) {
	return nil, errNoAPI
}

func (unavailableAPI) CreateRegistration(context.Context, domain.ResourceID, domain.RegistrationData) (domain.Registration, error) {
	return domain.Registration{}, errNoAPI
}

func (unavailableAPI) DeleteRegistration(context.Context, domain.Registration) error {
	return errNoAPI
}
