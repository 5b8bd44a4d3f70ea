// Package debughttp serves optional diagnostics for a running session:
// pprof profiles and a JSON snapshot of the session state.
package debughttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"strings"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Start serves diagnostics on addr until ctx is canceled. An empty addr
// disables the server. status, when set, backs GET /debug/session. Start
// returns once the address is bound so conflicts fail fast.
func Start(ctx context.Context, addr string, status func() any, log *slog.Logger) (net.Addr, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           newMux(status),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diagnostics server error", "err", err)
		}
	}()
	log.Info("diagnostics listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

func newMux(status func() any) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	mux.HandleFunc("GET /debug/session", func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status())
	})
	return mux
}
