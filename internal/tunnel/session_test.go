package tunnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
)

type fakeClient struct {
	mu           sync.Mutex
	connects     int
	disconnected []string
	killed       int
	gate         chan struct{}
	connectErr   error
	disconnErr   error
	events       chan Event
}

func (f *fakeClient) Connect(ctx context.Context, cfg config.Tunnel) (Endpoint, error) {
	f.mu.Lock()
	f.connects++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Endpoint{}, ctx.Err()
		}
	}
	if f.connectErr != nil {
		return Endpoint{}, f.connectErr
	}
	return Endpoint{PublicURL: "https://abc.example.test", InspectURL: "http://127.0.0.1:4040"}, nil
}

func (f *fakeClient) Disconnect(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, url)
	return f.disconnErr
}

func (f *fakeClient) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed++
	return nil
}

func (f *fakeClient) Events() <-chan Event {
	if f.events == nil {
		return nil
	}
	return f.events
}

func (f *fakeClient) snapshot() (int, []string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, append([]string(nil), f.disconnected...), f.killed
}

func TestSessionOpenAndClose(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	s := NewSession(fc, ilog.Discard())

	h, err := s.Open(context.Background(), config.Tunnel{LocalPort: 9000})
	if err != nil {
		t.Fatal(err)
	}
	if h.PublicURL != "https://abc.example.test" || h.LocalPort != 9000 || h.InspectURL == "" {
		t.Fatalf("unexpected handle %+v", h)
	}
	if _, err := s.Open(context.Background(), config.Tunnel{}); !errors.Is(err, domain.ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
	connects, disconnected, _ := fc.snapshot()
	if connects != 1 || len(disconnected) != 1 {
		t.Fatalf("expected 1 connect and 1 disconnect, got %d and %v", connects, disconnected)
	}
}

func TestSessionRejectsSecondOpenWhilePending(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{gate: make(chan struct{})}
	s := NewSession(fc, ilog.Discard())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Open(context.Background(), config.Tunnel{})
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, _, _ := fc.snapshot(); c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connect was not called")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Open(context.Background(), config.Tunnel{}); !errors.Is(err, domain.ErrAlreadyOpening) {
		t.Fatalf("expected ErrAlreadyOpening, got %v", err)
	}
	close(fc.gate)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if c, _, _ := fc.snapshot(); c != 1 {
		t.Fatalf("expected exactly one connect, got %d", c)
	}
}

func TestSessionCloseNeverOpened(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	s := NewSession(fc, ilog.Discard())
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, disconnected, _ := fc.snapshot()
	if len(disconnected) != 0 {
		t.Fatalf("expected no disconnect, got %v", disconnected)
	}
	if _, err := s.Open(context.Background(), config.Tunnel{}); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestSessionCloseCancelsPendingOpen(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{gate: make(chan struct{})}
	s := NewSession(fc, ilog.Discard())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Open(context.Background(), config.Tunnel{})
		errCh <- err
	}()
	for {
		if c, _, _ := fc.snapshot(); c == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := <-errCh
	var te *domain.TunnelError
	if !errors.As(err, &te) || !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected TunnelError wrapping ErrClosed, got %v", err)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connectErr: errors.New("no route")}
	s := NewSession(fc, ilog.Discard())

	_, err := s.Open(context.Background(), config.Tunnel{})
	var te *domain.TunnelError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("expected connect TunnelError, got %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close after failed open must be a no-op, got %v", err)
	}
}

func TestSessionDisconnectFailureKills(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{disconnErr: errors.New("gone")}
	s := NewSession(fc, ilog.Discard())
	if _, err := s.Open(context.Background(), config.Tunnel{}); err != nil {
		t.Fatal(err)
	}
	err := s.Close(context.Background())
	var te *domain.TunnelError
	if !errors.As(err, &te) || te.Op != "disconnect" || te.URL == "" {
		t.Fatalf("expected disconnect TunnelError, got %v", err)
	}
	if _, _, killed := fc.snapshot(); killed != 1 {
		t.Fatalf("expected kill after failed disconnect, got %d", killed)
	}
}

func TestSessionForwardsEvents(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{events: make(chan Event, 1)}
	s := NewSession(fc, ilog.Discard())
	got := make(chan Event, 1)
	s.Observe(func(ev Event) { got <- ev })

	if _, err := s.Open(context.Background(), config.Tunnel{}); err != nil {
		t.Fatal(err)
	}
	fc.events <- Event{Kind: EventDisconnected, URL: "https://abc.example.test"}

	select {
	case ev := <-got:
		if ev.Kind != EventDisconnected {
			t.Fatalf("unexpected event %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not forwarded")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
