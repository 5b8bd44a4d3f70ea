package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/lifecycle"
	"github.com/koltyakov/hooktunnel/internal/listener"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

const displayFieldWidth = 16

// display prints lifecycle events and deliveries as one line each.
type display struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	cfg   config.Config
	now   func() time.Time
}

func newDisplay(w io.Writer, cfg config.Config) *display {
	return &display{w: w, color: isTerminal(w), cfg: cfg, now: time.Now}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (d *display) event(ev lifecycle.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case lifecycle.EventListening:
		d.writeField("Listening", fmt.Sprintf("127.0.0.1:%d", ev.Port))
	case lifecycle.EventTunnelConnected:
		d.writeField("Forwarding", fmt.Sprintf("%s -> 127.0.0.1:%d", d.styled(ansiBold+ansiCyan, ev.URL), ev.Port))
		if ev.InspectURL != "" {
			d.writeField("Inspect", ev.InspectURL)
		}
	case lifecycle.EventTunnelDisconnected:
		d.writeField("Tunnel", d.styled(ansiYellow, "disconnected"))
	case lifecycle.EventRegistrationCreated:
		d.writeField("Registered", fmt.Sprintf("%s %s", ev.Registration.Resource, d.styled(ansiDim, ev.Registration.ID)))
	case lifecycle.EventRegistrationDeleted:
		d.writeField("Removed", fmt.Sprintf("%s %s", ev.Registration.Resource, d.styled(ansiDim, ev.Registration.ID)))
	case lifecycle.EventReady:
		d.writeField("Session Status", d.styled(ansiGreen, "online"))
		if ba := d.cfg.BasicAuth; ba != nil && ba.Generated {
			d.writeField("Basic Auth", ba.String())
		}
		if len(d.cfg.Targets) == 0 {
			d.writeField("Targets", d.styled(ansiDim, "none; nothing registered"))
		}
	case lifecycle.EventError:
		d.writeField("Error", d.styled(ansiRed, ev.Err.Error()))
	case lifecycle.EventClosed:
		d.writeField("Session Status", d.styled(ansiDim, "closed"))
	}
}

func (d *display) delivery(dl listener.Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := dl.Received
	if ts.IsZero() {
		ts = d.now()
	}
	line := fmt.Sprintf("%s  %s", ts.Format("15:04:05"), dl.Topic)
	if dl.ID != "" {
		line += " " + d.styled(ansiDim, dl.ID)
	}
	fmt.Fprintln(d.w, line)
}

func (d *display) writeField(label, value string) {
	pad := max(displayFieldWidth-len(label), 1)
	fmt.Fprintf(d.w, "%s%s%s\n", label, strings.Repeat(" ", pad), value)
}

func (d *display) styled(code, text string) string {
	if !d.color {
		return text
	}
	return code + text + ansiReset
}
