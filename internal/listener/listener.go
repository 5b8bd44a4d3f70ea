// Package listener runs the local HTTP server that receives webhook
// deliveries through the tunnel.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/koltyakov/hooktunnel/internal/auth"
	"github.com/koltyakov/hooktunnel/internal/domain"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxDeliveryBytes  = 10 << 20
)

// Delivery describes one received webhook event.
type Delivery struct {
	Platform string
	Topic    string
	ID       string
	Method   string
	Path     string
	Received time.Time
}

// Options configures a Server.
type Options struct {
	// Platform selects the delivery decoder: "contentful" or "github".
	Platform string
	// Verifier gates every delivery with HTTP basic auth when set.
	Verifier *auth.Verifier
	// Secret verifies X-Hub-Signature-256 on GitHub deliveries.
	Secret string
	// OnDelivery is called for each accepted delivery.
	OnDelivery func(Delivery)
	Logger     *slog.Logger
}

// Server is the local webhook receiver. It binds once; Close is idempotent.
type Server struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	srv    *http.Server
	port   int
	served chan struct{}
	closed bool
}

// New returns an unbound server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{opts: opts, log: log}
}

// Listen binds 127.0.0.1:port (an ephemeral port when port is 0) and starts
// serving. It returns the bound port.
func (s *Server) Listen(ctx context.Context, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, domain.ErrClosed
	}
	if s.srv != nil {
		return 0, fmt.Errorf("listener already bound on port %d", s.port)
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return 0, &domain.ListenError{Addr: addr, Err: err}
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.served = make(chan struct{})

	srv, served := s.srv, s.served
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("listener stopped", "err", err)
		}
	}()
	s.log.Debug("listener bound", "addr", ln.Addr().String())
	return s.port, nil
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Close shuts the server down gracefully. Calling it on an unbound or closed
// server is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv, served := s.srv, s.served
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = srv.Close()
	}
	<-served
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) routes() http.Handler {
	var deliveries http.Handler
	switch s.opts.Platform {
	case "github":
		deliveries = newGitHubHandler(s.opts.Secret, s.log, s.emit)
	default:
		deliveries = contentfulHandler{log: s.log, emit: s.emit}
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireBasicAuth)
		r.Use(chimw.RequestSize(maxDeliveryBytes))
		r.Handle("/*", deliveries)
	})
	return r
}

func (s *Server) requireBasicAuth(next http.Handler) http.Handler {
	if s.opts.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !s.opts.Verifier.Verify(user, password) {
			s.log.Warn("delivery rejected", "reason", "basic auth", "remote", r.RemoteAddr)
			writeBasicAuthChallenge(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeBasicAuthChallenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="hooktunnel", charset="UTF-8"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
}

func (s *Server) emit(d Delivery) {
	d.Platform = s.opts.Platform
	if d.Received.IsZero() {
		d.Received = time.Now()
	}
	s.log.Info("delivery received", "topic", d.Topic, "id", d.ID, "path", d.Path)
	if s.opts.OnDelivery != nil {
		s.opts.OnDelivery(d)
	}
}
