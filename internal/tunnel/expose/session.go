package expose

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/hooktunnel/internal/tunnelproto"
)

var errServerClosed = errors.New("server closed tunnel")

type sessionRuntime struct {
	client    *Client
	localBase *url.URL
	conn      *websocket.Conn
	writer    *tunnelproto.Writer

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	stop      atomic.Bool

	requestWG  sync.WaitGroup
	requestSem chan struct{}

	pingSentMu sync.Mutex
	pingSentAt time.Time

	msgCh        chan tunnelproto.Message
	readErr      chan error
	keepaliveErr chan error
}

// newSessionRuntime dials the relay. The dial honors ctx; the session
// itself outlives it and ends on shutdown or connection loss.
func newSessionRuntime(ctx context.Context, c *Client, localBase *url.URL, reg tunnelproto.RegisterResponse) (*sessionRuntime, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	conn, _, err := dialer.DialContext(ctx, reg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}
	conn.SetReadLimit(clientWSReadLimit)

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &sessionRuntime{
		client:       c,
		localBase:    localBase,
		conn:         conn,
		writer:       tunnelproto.NewWriter(conn, clientWSWriteTimeout, wsWriteQueueSize),
		ctx:          sessionCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
		requestSem:   make(chan struct{}, maxConcurrentForwards),
		msgCh:        make(chan tunnelproto.Message, wsMessageBufferSize),
		readErr:      make(chan error, 1),
		keepaliveErr: make(chan error, 1),
	}

	go func() {
		<-rt.ctx.Done()
		_ = rt.conn.Close()
	}()

	if err := rt.sendPing(); err != nil {
		rt.close()
		return nil, err
	}
	rt.startKeepaliveLoop()
	rt.startReadLoop()
	return rt, nil
}

func (rt *sessionRuntime) markStopping() {
	rt.stop.Store(true)
}

func (rt *sessionRuntime) stopping() bool {
	return rt.stop.Load()
}

// shutdown tells the relay the tunnel is going away and ends the session.
func (rt *sessionRuntime) shutdown() {
	rt.markStopping()
	_ = rt.writeJSON(tunnelproto.Message{Kind: tunnelproto.KindClose})
	rt.cancel()
}

func (rt *sessionRuntime) close() {
	rt.closeOnce.Do(func() {
		rt.cancel()
		_ = rt.conn.Close()
		rt.writer.Close()
		rt.requestWG.Wait()
		close(rt.done)
	})
}

func (rt *sessionRuntime) run() error {
	for {
		select {
		case <-rt.ctx.Done():
			return rt.ctx.Err()
		case err := <-rt.keepaliveErr:
			if rt.ctx.Err() != nil {
				return rt.ctx.Err()
			}
			return err
		case err := <-rt.readErr:
			if rt.ctx.Err() != nil {
				return rt.ctx.Err()
			}
			return err
		case msg := <-rt.msgCh:
			if err := rt.handleMessage(msg); err != nil {
				return err
			}
		}
	}
}

func (rt *sessionRuntime) handleMessage(msg tunnelproto.Message) error {
	switch msg.Kind {
	case tunnelproto.KindRequest:
		rt.handleRequest(msg.Request)
	case tunnelproto.KindPing:
		if err := rt.writeJSON(tunnelproto.Message{Kind: tunnelproto.KindPong}); err != nil && rt.ctx.Err() == nil {
			return err
		}
	case tunnelproto.KindPong:
		rt.pingSentMu.Lock()
		sentAt := rt.pingSentAt
		rt.pingSentMu.Unlock()
		if !sentAt.IsZero() {
			rt.client.log.Debug("latency", "duration", time.Since(sentAt).String())
		}
	case tunnelproto.KindError:
		rt.client.log.Warn("relay error", "err", msg.Error)
	case tunnelproto.KindClose:
		return errServerClosed
	}
	return nil
}

func (rt *sessionRuntime) sendPing() error {
	rt.pingSentMu.Lock()
	rt.pingSentAt = time.Now()
	rt.pingSentMu.Unlock()
	return rt.writeJSON(tunnelproto.Message{Kind: tunnelproto.KindPing})
}

func (rt *sessionRuntime) startKeepaliveLoop() {
	if rt.client.pingInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(rt.client.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-ticker.C:
				if err := rt.sendPing(); err != nil {
					select {
					case rt.keepaliveErr <- err:
					default:
					}
					return
				}
			}
		}
	}()
}

func (rt *sessionRuntime) startReadLoop() {
	go func() {
		for {
			var msg tunnelproto.Message
			if err := tunnelproto.ReadWSMessage(rt.conn, &msg); err != nil {
				select {
				case rt.readErr <- err:
				default:
				}
				return
			}
			select {
			case rt.msgCh <- msg:
			case <-rt.ctx.Done():
				return
			}
		}
	}()
}

func (rt *sessionRuntime) writeJSON(msg tunnelproto.Message) error {
	ctx, cancel := context.WithTimeout(rt.ctx, clientWSWriteTimeout)
	defer cancel()
	return rt.writer.Send(ctx, msg)
}

func (rt *sessionRuntime) handleRequest(req *tunnelproto.HTTPRequest) {
	if req == nil {
		return
	}

	select {
	case rt.requestSem <- struct{}{}:
	case <-rt.ctx.Done():
		return
	}

	rt.requestWG.Add(1)
	reqCopy := *req
	go func() {
		defer rt.requestWG.Done()
		defer func() { <-rt.requestSem }()

		started := time.Now()
		resp := rt.client.forwardLocal(rt.ctx, rt.localBase, &reqCopy)
		if err := rt.writeJSON(tunnelproto.Message{Kind: tunnelproto.KindResponse, Response: resp}); err != nil {
			rt.client.log.Debug("send response failed", "request_id", reqCopy.ID, "err", err)
		}
		rt.client.log.Debug("forwarded request", "method", reqCopy.Method, "path", reqCopy.Path, "status", resp.Status, "duration", time.Since(started).String())
	}()
}
