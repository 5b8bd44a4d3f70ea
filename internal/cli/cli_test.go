package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/lifecycle"
	"github.com/koltyakov/hooktunnel/internal/listener"
	"github.com/koltyakov/hooktunnel/internal/store/sqlite"
)

func TestRunUsageExitCodes(t *testing.T) {
	if code := Run([]string{"help"}); code != 0 {
		t.Fatalf("expected help to exit 0, got %d", code)
	}
	if code := Run([]string{"version"}); code != 0 {
		t.Fatalf("expected version to exit 0, got %d", code)
	}
	if code := Run([]string{"run", "--no-such-flag"}); code != 2 {
		t.Fatalf("expected usage error exit 2, got %d", code)
	}
	if code := Run([]string{"run", "--port", "70000"}); code != 2 {
		t.Fatalf("expected config error exit 2, got %d", code)
	}
	if code := Run([]string{"status", "--bogus"}); code != 2 {
		t.Fatalf("expected status usage error exit 2, got %d", code)
	}
}

func TestDisplayEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := config.Config{BasicAuth: &config.BasicAuth{User: "webhook", Password: "gen", Generated: true}, Targets: []domain.ResourceID{"R1"}}
	d := newDisplay(&buf, cfg)

	d.event(lifecycle.Event{Kind: lifecycle.EventListening, Port: 4321})
	d.event(lifecycle.Event{Kind: lifecycle.EventTunnelConnected, URL: "https://abc.example.test", InspectURL: "http://127.0.0.1:4040", Port: 4321})
	d.event(lifecycle.Event{Kind: lifecycle.EventRegistrationCreated, Registration: domain.Registration{Resource: "R1", ID: "wh1"}})
	d.event(lifecycle.Event{Kind: lifecycle.EventReady})
	d.event(lifecycle.Event{Kind: lifecycle.EventError, Err: errors.New("boom")})
	d.delivery(listener.Delivery{Topic: "ContentManagement.Entry.publish", ID: "entry1", Received: time.Date(2024, 1, 1, 10, 11, 12, 0, time.UTC)})

	out := buf.String()
	for _, want := range []string{
		"Listening       127.0.0.1:4321",
		"Forwarding      https://abc.example.test -> 127.0.0.1:4321",
		"Inspect         http://127.0.0.1:4040",
		"Registered      R1 wh1",
		"Session Status  online",
		"Basic Auth      webhook:gen",
		"Error           boom",
		"10:11:12  ContentManagement.Entry.publish entry1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatal("expected no ANSI codes for a non-terminal writer")
	}
}

func TestPrintEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printEntries(&buf, nil)
	if !strings.Contains(buf.String(), "No open registrations.") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	printEntries(&buf, []sqlite.Entry{{Resource: "R1", ID: "wh1", Identity: "Tunnel to h", URL: "https://a.example", CreatedAt: time.Now()}})
	out := buf.String()
	if !strings.Contains(out, "RESOURCE") || !strings.Contains(out, "wh1") || !strings.Contains(out, "Tunnel to h") {
		t.Fatalf("unexpected table %q", out)
	}
}

func TestPurgeTargetsFallBackToJournal(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, reg := range []domain.Registration{
		{ID: "a", Resource: "R1", IdentityLabel: "Tunnel to h"},
		{ID: "b", Resource: "R1", IdentityLabel: "Tunnel to h"},
		{ID: "c", Resource: "R2", IdentityLabel: "Tunnel to h"},
		{ID: "d", Resource: "R3", IdentityLabel: "Tunnel to other"},
	} {
		if err := store.RecordCreated(ctx, reg); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Config{Hostname: "h"}
	got := purgeTargets(ctx, cfg, store)
	if len(got) != 2 || got[0] != "R1" || got[1] != "R2" {
		t.Fatalf("unexpected journal targets %v", got)
	}

	cfg.Targets = []domain.ResourceID{"R9"}
	if got := purgeTargets(ctx, cfg, store); len(got) != 1 || got[0] != "R9" {
		t.Fatalf("expected explicit targets to win, got %v", got)
	}
	if got := purgeTargets(ctx, config.Config{Hostname: "h"}, nil); len(got) != 0 {
		t.Fatalf("expected no targets without a journal, got %v", got)
	}
}

func TestNewListenerPicksGate(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Platform: config.PlatformContentful, BasicAuth: &config.BasicAuth{User: "u", Password: "p"}}
	if _, err := newListener(cfg, nil, nil); err != nil {
		t.Fatal(err)
	}
	api, err := newAPI(config.Config{Platform: config.PlatformGitHub}, nil)
	if err != nil || api != nil {
		t.Fatalf("expected no API without a token, got %v %v", api, err)
	}
	api, err = newAPI(config.Config{Platform: config.PlatformGitHub, APIToken: "t", Timeout: time.Second}, nil)
	if err != nil || api == nil {
		t.Fatalf("expected github API, got %v %v", api, err)
	}
}

func TestSnapshotOfIdleSession(t *testing.T) {
	t.Parallel()

	o := lifecycle.New(config.Config{Hostname: "box"}, lifecycle.Deps{})
	s := snapshot(o)
	if s.State != "idle" || s.Identity != "Tunnel to box" || s.Port != 0 || s.PublicURL != "" {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.Registrations == nil || len(s.Registrations) != 0 {
		t.Fatalf("expected an empty registration list, got %v", s.Registrations)
	}
}
