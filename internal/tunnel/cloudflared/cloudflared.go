// Package cloudflared runs a cloudflared process as a tunnel backend. Quick
// tunnels need no account; with an auth token a named tunnel is run and
// the subdomain is taken as its public host name.
package cloudflared

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/tunnel"
)

const (
	defaultBinary   = "cloudflared"
	defaultTimeout  = 30 * time.Second
	eventBufferSize = 16
	stopGracePeriod = 5 * time.Second
)

var (
	errNoURL         = errors.New("cloudflared exited before reporting a tunnel URL")
	errNamedHostname = errors.New("named cloudflared tunnels need a subdomain (public host name)")
)

type commandFunc func(name string, args ...string) *exec.Cmd

// Client starts one cloudflared process per tunnel.
type Client struct {
	log    *slog.Logger
	binary string
	newCmd commandFunc
	events chan tunnel.Event

	mu    sync.Mutex
	procs map[string]*process
}

var _ tunnel.Client = (*Client)(nil)

type process struct {
	cmd      *exec.Cmd
	exited   chan struct{}
	stopping bool
}

// New returns a Client that runs binary, or "cloudflared" from PATH when
// binary is empty.
func New(logger *slog.Logger, binary string) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if binary == "" {
		binary = defaultBinary
	}
	return &Client{
		log:    logger,
		binary: binary,
		newCmd: exec.Command,
		events: make(chan tunnel.Event, eventBufferSize),
		procs:  make(map[string]*process),
	}
}

func args(cfg config.Tunnel) []string {
	if cfg.AuthToken != "" {
		return []string{"tunnel", "--no-autoupdate", "run", "--token", cfg.AuthToken}
	}
	return []string{"tunnel", "--no-autoupdate", "--url", fmt.Sprintf("%s://127.0.0.1:%d", cfg.Proto, cfg.LocalPort)}
}

// Connect starts cloudflared and waits for it to report the public URL.
func (c *Client) Connect(ctx context.Context, cfg config.Tunnel) (tunnel.Endpoint, error) {
	if cfg.Proto == "" {
		cfg.Proto = "http"
	}
	named := cfg.AuthToken != ""
	if named && cfg.Subdomain == "" {
		return tunnel.Endpoint{}, errNamedHostname
	}

	cmd := c.newCmd(c.binary, args(cfg)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return tunnel.Endpoint{}, fmt.Errorf("stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return tunnel.Endpoint{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return tunnel.Endpoint{}, fmt.Errorf("start cloudflared: %w", err)
	}
	c.log.Debug("cloudflared started", "pid", cmd.Process.Pid)

	urlCh := make(chan string, 1)
	readyCh := make(chan struct{}, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go c.scan(stderr, urlCh, readyCh, &readers)
	go c.scan(stdout, urlCh, readyCh, &readers)

	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		readers.Wait()
		_ = cmd.Wait()
		close(p.exited)
	}()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var publicURL string
	if named {
		publicURL = "https://" + strings.TrimPrefix(cfg.Subdomain, "https://")
		select {
		case <-readyCh:
		case <-p.exited:
			return tunnel.Endpoint{}, errNoURL
		case <-timer.C:
			c.stop(p)
			return tunnel.Endpoint{}, fmt.Errorf("timeout waiting for cloudflared connection after %s", timeout)
		case <-ctx.Done():
			c.stop(p)
			return tunnel.Endpoint{}, ctx.Err()
		}
	} else {
		select {
		case publicURL = <-urlCh:
		case <-p.exited:
			return tunnel.Endpoint{}, errNoURL
		case <-timer.C:
			c.stop(p)
			return tunnel.Endpoint{}, fmt.Errorf("timeout waiting for tunnel URL after %s", timeout)
		case <-ctx.Done():
			c.stop(p)
			return tunnel.Endpoint{}, ctx.Err()
		}
	}

	c.mu.Lock()
	c.procs[publicURL] = p
	c.mu.Unlock()

	go c.watch(publicURL, p)
	c.emit(tunnel.Event{Kind: tunnel.EventConnected, URL: publicURL})
	return tunnel.Endpoint{PublicURL: publicURL}, nil
}

func (c *Client) watch(url string, p *process) {
	<-p.exited
	c.mu.Lock()
	stopping := p.stopping
	if c.procs[url] == p {
		delete(c.procs, url)
	}
	c.mu.Unlock()
	if !stopping {
		c.log.Warn("cloudflared exited", "url", url)
		c.emit(tunnel.Event{Kind: tunnel.EventError, URL: url, Err: errors.New("cloudflared exited unexpectedly")})
	}
	c.emit(tunnel.Event{Kind: tunnel.EventDisconnected, URL: url})
}

func (c *Client) scan(r io.Reader, urlCh chan<- string, readyCh chan<- struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		c.log.Debug("cloudflared", "line", line)
		if strings.Contains(line, "Registered tunnel connection") {
			select {
			case readyCh <- struct{}{}:
			default:
			}
		}
		if strings.Contains(line, "trycloudflare.com") {
			if u := extractURL(line); u != "" {
				select {
				case urlCh <- u:
				default:
				}
			}
		}
	}
}

func extractURL(line string) string {
	idx := strings.Index(line, "https://")
	if idx == -1 {
		return ""
	}
	u := line[idx:]
	if end := strings.IndexAny(u, " \t\r\n|"); end != -1 {
		u = u[:end]
	}
	if u == "https://api.trycloudflare.com" {
		return ""
	}
	return u
}

// Disconnect interrupts the process serving publicURL and waits for it to
// exit, killing it after a grace period.
func (c *Client) Disconnect(ctx context.Context, publicURL string) error {
	c.mu.Lock()
	p := c.procs[publicURL]
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	c.mu.Lock()
	p.stopping = true
	c.mu.Unlock()
	if err := interrupt(p.cmd); err != nil {
		_ = p.cmd.Process.Kill()
	}
	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.exited
		return nil
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		return ctx.Err()
	}
}

// Kill terminates every process immediately.
func (c *Client) Kill() error {
	c.mu.Lock()
	procs := make([]*process, 0, len(c.procs))
	for _, p := range c.procs {
		p.stopping = true
		procs = append(procs, p)
	}
	c.mu.Unlock()
	for _, p := range procs {
		c.stop(p)
	}
	return nil
}

func (c *Client) stop(p *process) {
	c.mu.Lock()
	p.stopping = true
	c.mu.Unlock()
	_ = p.cmd.Process.Kill()
	<-p.exited
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
