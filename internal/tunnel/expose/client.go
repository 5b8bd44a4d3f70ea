// Package expose implements a tunnel client for expose-compatible relay
// servers: it registers for a public URL over HTTP, then relays incoming
// requests to the local listener over a WebSocket session.
package expose

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/netutil"
	"github.com/koltyakov/hooktunnel/internal/tunnel"
)

const (
	maxConcurrentForwards      = 32
	wsMessageBufferSize        = 64
	wsWriteQueueSize           = 32
	clientWSWriteTimeout       = 15 * time.Second
	clientWSReadLimit          = 16 * 1024 * 1024
	localForwardResponseMaxB64 = 10 * 1024 * 1024
	wsHandshakeTimeout         = 10 * time.Second
	defaultPingInterval        = 20 * time.Second
	eventBufferSize            = 16
)

var errMissingServer = errors.New("expose provider requires a server URL")

// Client connects to an expose relay. One Client may hold several tunnels,
// each keyed by its public URL.
type Client struct {
	log          *slog.Logger
	version      string
	apiClient    *http.Client
	fwdClient    *http.Client
	pingInterval time.Duration
	events       chan tunnel.Event

	mu       sync.Mutex
	sessions map[string]*sessionRuntime
}

var _ tunnel.Client = (*Client)(nil)

// New creates a Client. version is reported to the relay on register.
func New(logger *slog.Logger, version string) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		log:          logger,
		version:      version,
		apiClient:    &http.Client{},
		fwdClient:    &http.Client{Transport: newForwardHTTPTransport()},
		pingInterval: defaultPingInterval,
		events:       make(chan tunnel.Event, eventBufferSize),
		sessions:     make(map[string]*sessionRuntime),
	}
}

func newForwardHTTPTransport() *http.Transport {
	base, _ := http.DefaultTransport.(*http.Transport)
	tr := base.Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = maxConcurrentForwards
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = 2 * time.Minute
	return tr
}

// Connect registers with the relay and starts relaying traffic to
// cfg.LocalPort. It returns once the WebSocket session is established.
func (c *Client) Connect(ctx context.Context, cfg config.Tunnel) (tunnel.Endpoint, error) {
	if cfg.ServerURL == "" {
		return tunnel.Endpoint{}, errMissingServer
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	reg, err := c.register(ctx, cfg)
	if err != nil {
		return tunnel.Endpoint{}, err
	}
	rt, err := newSessionRuntime(ctx, c, netutil.LoopbackURL(cfg.LocalPort), reg)
	if err != nil {
		return tunnel.Endpoint{}, err
	}

	c.mu.Lock()
	c.sessions[reg.PublicURL] = rt
	c.mu.Unlock()

	go func() {
		err := rt.run()
		rt.close()
		c.mu.Lock()
		if c.sessions[reg.PublicURL] == rt {
			delete(c.sessions, reg.PublicURL)
		}
		c.mu.Unlock()
		if !rt.stopping() {
			c.log.Warn("tunnel session ended", "url", reg.PublicURL, "err", err)
			c.emit(tunnel.Event{Kind: tunnel.EventError, URL: reg.PublicURL, Err: err})
		}
		c.emit(tunnel.Event{Kind: tunnel.EventDisconnected, URL: reg.PublicURL})
	}()

	c.emit(tunnel.Event{Kind: tunnel.EventConnected, URL: reg.PublicURL})
	return tunnel.Endpoint{PublicURL: reg.PublicURL, InspectURL: reg.InspectURL}, nil
}

// Disconnect ends the session serving publicURL. Unknown URLs are ignored.
func (c *Client) Disconnect(ctx context.Context, publicURL string) error {
	c.mu.Lock()
	rt := c.sessions[publicURL]
	delete(c.sessions, publicURL)
	c.mu.Unlock()
	if rt == nil {
		return nil
	}
	rt.shutdown()
	select {
	case <-rt.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill drops every session without notifying the relay.
func (c *Client) Kill() error {
	c.mu.Lock()
	sessions := make([]*sessionRuntime, 0, len(c.sessions))
	for url, rt := range c.sessions {
		delete(c.sessions, url)
		sessions = append(sessions, rt)
	}
	c.mu.Unlock()
	for _, rt := range sessions {
		rt.markStopping()
		rt.cancel()
		<-rt.done
	}
	return nil
}

// Events returns asynchronous connect, disconnect and error notifications.
func (c *Client) Events() <-chan tunnel.Event {
	return c.events
}

func (c *Client) emit(ev tunnel.Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug("dropping tunnel event", "kind", ev.Kind.String(), "url", ev.URL)
	}
}
