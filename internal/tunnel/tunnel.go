// Package tunnel wraps a tunneling client in a session that opens at most
// one public URL and can be closed any number of times.
package tunnel

import (
	"context"

	"github.com/koltyakov/hooktunnel/internal/config"
)

// Endpoint is what a client reports once a tunnel is up.
type Endpoint struct {
	PublicURL  string
	InspectURL string
}

// Handle describes an open tunnel. It is owned by the [Session].
type Handle struct {
	PublicURL  string
	InspectURL string
	LocalPort  int
}

// EventKind classifies asynchronous client notifications.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an asynchronous notification from a tunnel client.
type Event struct {
	Kind EventKind
	URL  string
	Err  error
}

// Client is a tunneling backend. Connect blocks until the public URL is
// known or ctx is done. Events may be nil when the backend has nothing to
// report asynchronously.
type Client interface {
	Connect(ctx context.Context, cfg config.Tunnel) (Endpoint, error)
	Disconnect(ctx context.Context, publicURL string) error
	Kill() error
	Events() <-chan Event
}
