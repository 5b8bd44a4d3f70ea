package tunnel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateOpening
	stateOpen
	stateFailed
	stateClosed
)

// Session drives a single tunnel through open and close.
type Session struct {
	client Client
	log    *slog.Logger

	mu         sync.Mutex
	state      sessionState
	handle     Handle
	cancelOpen context.CancelFunc
	openDone   chan struct{}
	observer   func(Event)
	stopWatch  chan struct{}
	watchDone  chan struct{}
}

// NewSession returns an idle session around client.
func NewSession(client Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{client: client, log: logger}
}

// Observe registers fn to receive client notifications after the tunnel
// opens. It must be called before Open.
func (s *Session) Observe(fn func(Event)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Handle returns the open tunnel, if any.
func (s *Session) Handle() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.state == stateOpen
}

// Open connects the tunnel. Only the first call reaches the client; later
// calls fail with [domain.ErrAlreadyOpening] while it is pending and
// [domain.ErrAlreadyOpen] once it resolved.
func (s *Session) Open(ctx context.Context, cfg config.Tunnel) (Handle, error) {
	s.mu.Lock()
	switch s.state {
	case stateOpening:
		s.mu.Unlock()
		return Handle{}, domain.ErrAlreadyOpening
	case stateOpen, stateFailed:
		h := s.handle
		s.mu.Unlock()
		return h, domain.ErrAlreadyOpen
	case stateClosed:
		s.mu.Unlock()
		return Handle{}, &domain.TunnelError{Op: "connect", Err: domain.ErrClosed}
	}
	openCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = stateOpening
	s.cancelOpen = cancel
	s.openDone = done
	s.mu.Unlock()

	defer close(done)
	defer cancel()

	ep, err := s.client.Connect(openCtx, cfg)

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		if err == nil {
			s.log.Debug("tunnel resolved after close; disconnecting", "url", ep.PublicURL)
			if derr := s.client.Disconnect(context.WithoutCancel(ctx), ep.PublicURL); derr != nil {
				s.log.Warn("disconnect late tunnel failed", "url", ep.PublicURL, "err", derr)
			}
		}
		return Handle{}, &domain.TunnelError{Op: "connect", Err: domain.ErrClosed}
	}
	if err != nil {
		s.state = stateFailed
		s.mu.Unlock()
		return Handle{}, &domain.TunnelError{Op: "connect", Err: err}
	}
	s.handle = Handle{PublicURL: ep.PublicURL, InspectURL: ep.InspectURL, LocalPort: cfg.LocalPort}
	s.state = stateOpen
	h := s.handle
	s.startWatchLocked()
	s.mu.Unlock()

	s.log.Info("tunnel open", "url", h.PublicURL, "local_port", h.LocalPort)
	return h, nil
}

// Close disconnects the tunnel. It is a no-op when the session never opened
// or is already closed. Closing during a pending Open cancels it and waits
// for it to settle.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return nil
	case stateIdle, stateFailed:
		s.state = stateClosed
		s.mu.Unlock()
		return nil
	case stateOpening:
		s.state = stateClosed
		cancel, done := s.cancelOpen, s.openDone
		s.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return &domain.TunnelError{Op: "close", Err: ctx.Err()}
		}
		return nil
	}

	s.state = stateClosed
	url := s.handle.PublicURL
	s.stopWatchLocked()
	watchDone := s.watchDone
	s.mu.Unlock()

	if watchDone != nil {
		<-watchDone
	}
	if err := s.client.Disconnect(ctx, url); err != nil {
		if kerr := s.client.Kill(); kerr != nil {
			s.log.Warn("kill tunnel failed", "url", url, "err", kerr)
		}
		return &domain.TunnelError{URL: url, Op: "disconnect", Err: err}
	}
	s.log.Info("tunnel closed", "url", url)
	return nil
}

func (s *Session) startWatchLocked() {
	events := s.client.Events()
	if events == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopWatch, s.watchDone = stop, done
	observer := s.observer
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if observer != nil {
					observer(ev)
				}
			}
		}
	}()
}

func (s *Session) stopWatchLocked() {
	if s.stopWatch != nil {
		close(s.stopWatch)
		s.stopWatch = nil
	}
}
