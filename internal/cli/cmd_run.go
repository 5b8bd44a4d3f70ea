package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/koltyakov/hooktunnel/internal/debughttp"
	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/lifecycle"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
)

func runRun(args []string) int {
	cfg, err := resolveRunConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "run command error:", err)
		return 2
	}

	logger := ilog.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journal := openJournal(ctx, cfg.JournalPath, logger)
	if journal != nil {
		defer func() { _ = journal.Close() }()
		if open, err := journal.ListOpen(ctx, cfg.IdentityLabel()); err == nil && len(open) > 0 {
			logger.Info("journal lists registrations from an earlier run", "count", len(open))
		}
	}

	api, err := newAPI(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run command error:", err)
		return 2
	}

	disp := newDisplay(os.Stdout, cfg)
	ln, err := newListener(cfg, logger, disp.delivery)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run command error:", err)
		return 1
	}

	o := lifecycle.New(cfg, lifecycle.Deps{
		Listener: ln,
		Tunnel:   newTunnelClient(cfg, logger),
		API:      api,
		Journal:  journalDep(journal),
		Logger:   logger,
	})
	o.Subscribe(disp.event)
	o.Subscribe(func(ev lifecycle.Event) {
		if ev.Kind == lifecycle.EventError && domain.IsFatal(ev.Err) {
			o.CloseWithCallback(nil)
		}
	})
	if _, err := debughttp.Start(ctx, cfg.PprofAddr, func() any { return snapshot(o) }, logger); err != nil {
		_ = o.Close(context.Background())
		fmt.Fprintln(os.Stderr, "diagnostics:", err)
		return 1
	}
	codes := o.WatchSignals(ctx, os.Interrupt, syscall.SIGTERM)

	if err := o.Listen(ctx, cfg.Port); err != nil {
		_ = o.Close(context.Background())
		fmt.Fprintln(os.Stderr, "listen:", err)
		return 1
	}

	<-o.Done()
	if code, ok := <-codes; ok {
		return code
	}
	if o.Err() != nil {
		return 1
	}
	return 0
}

type sessionSnapshot struct {
	State         string                `json:"state"`
	Identity      string                `json:"identity"`
	Port          int                   `json:"port"`
	PublicURL     string                `json:"public_url,omitempty"`
	Registrations []registrationSummary `json:"registrations"`
}

type registrationSummary struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
	URL      string `json:"url"`
}

func snapshot(o *lifecycle.Orchestrator) sessionSnapshot {
	s := sessionSnapshot{
		State:         o.State().String(),
		Identity:      o.Identity(),
		Port:          o.Port(),
		Registrations: []registrationSummary{},
	}
	if h, ok := o.Handle(); ok {
		s.PublicURL = h.PublicURL
	}
	for _, reg := range o.Owned() {
		s.Registrations = append(s.Registrations, registrationSummary{Resource: string(reg.Resource), ID: reg.ID, URL: reg.URL})
	}
	return s
}
