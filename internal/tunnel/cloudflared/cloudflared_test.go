package cloudflared

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
	"github.com/koltyakov/hooktunnel/internal/tunnel"
)

const helperEnv = "HOOKTUNNEL_CLOUDFLARED_HELPER"

// TestHelperProcess stands in for the cloudflared binary.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	switch mode {
	case "quick":
		fmt.Fprintln(os.Stderr, "INF Requesting new quick Tunnel on trycloudflare.com...")
		fmt.Fprintln(os.Stderr, "INF |  https://calm-river-1234.trycloudflare.com  |")
		time.Sleep(time.Minute)
	case "named":
		fmt.Fprintln(os.Stderr, "INF Registered tunnel connection connIndex=0")
		time.Sleep(time.Minute)
	case "fail":
		fmt.Fprintln(os.Stderr, "ERR failed to start")
	}
	os.Exit(0)
}

func helperClient(mode string, seen *[]string) *Client {
	c := New(ilog.Discard(), "")
	c.newCmd = func(name string, args ...string) *exec.Cmd {
		if seen != nil {
			*seen = append([]string{name}, args...)
		}
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), helperEnv+"="+mode)
		return cmd
	}
	return c
}

func TestQuickTunnelReportsURL(t *testing.T) {
	t.Parallel()

	var seen []string
	c := helperClient("quick", &seen)
	ep, err := c.Connect(context.Background(), config.Tunnel{Proto: "http", LocalPort: 8080, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if ep.PublicURL != "https://calm-river-1234.trycloudflare.com" {
		t.Fatalf("unexpected URL %q", ep.PublicURL)
	}
	if !slices.Contains(seen, "http://127.0.0.1:8080") {
		t.Fatalf("expected local URL in args, got %v", seen)
	}

	ev := <-c.Events()
	if ev.Kind != tunnel.EventConnected {
		t.Fatalf("expected connected event, got %v", ev.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx, ep.PublicURL); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-c.Events():
		if ev.Kind != tunnel.EventDisconnected {
			t.Fatalf("expected disconnected event, got %v", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnected event")
	}
}

func TestNamedTunnelUsesSubdomain(t *testing.T) {
	t.Parallel()

	var seen []string
	c := helperClient("named", &seen)
	ep, err := c.Connect(context.Background(), config.Tunnel{AuthToken: "tok", Subdomain: "hooks.example.com", Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if ep.PublicURL != "https://hooks.example.com" {
		t.Fatalf("unexpected URL %q", ep.PublicURL)
	}
	if !slices.Contains(seen, "--token") {
		t.Fatalf("expected token args, got %v", seen)
	}
	if err := c.Kill(); err != nil {
		t.Fatal(err)
	}
}

func TestNamedTunnelRequiresSubdomain(t *testing.T) {
	t.Parallel()

	c := helperClient("named", nil)
	if _, err := c.Connect(context.Background(), config.Tunnel{AuthToken: "tok"}); !errors.Is(err, errNamedHostname) {
		t.Fatalf("expected errNamedHostname, got %v", err)
	}
}

func TestProcessExitBeforeURL(t *testing.T) {
	t.Parallel()

	c := helperClient("fail", nil)
	if _, err := c.Connect(context.Background(), config.Tunnel{LocalPort: 1, Timeout: 10 * time.Second}); !errors.Is(err, errNoURL) {
		t.Fatalf("expected errNoURL, got %v", err)
	}
}

func TestConnectHonorsContext(t *testing.T) {
	t.Parallel()

	c := helperClient("named", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// named output never carries a quick tunnel URL
	if _, err := c.Connect(ctx, config.Tunnel{LocalPort: 1, Timeout: 10 * time.Second}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractURL(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{in: "INF |  https://a-b.trycloudflare.com  |", want: "https://a-b.trycloudflare.com"},
		{in: "INF Requesting on https://api.trycloudflare.com", want: ""},
		{in: "no url here", want: ""},
	}
	for _, tt := range tests {
		if got := extractURL(tt.in); got != tt.want {
			t.Fatalf("extractURL(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
