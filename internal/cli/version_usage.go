package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/koltyakov/hooktunnel/internal/versionutil"
)

func printUsage() {
	fmt.Println(`hooktunnel - receive platform webhooks on a local port

Opens a public tunnel to a local listener and registers it as a webhook on
each target. Registrations created by this host are replaced on start and
removed on exit.

Usage:
  hooktunnel [run] [flags] [target...]  Listen, tunnel and register webhooks
  hooktunnel status                     List registrations the journal still holds
  hooktunnel purge --target ID          Remove this host's registrations
  hooktunnel version                    Print version
  hooktunnel help                       Show this help

Run Flags:
  --port N                  Local listen port (0 picks a free port)
  --target ID               Contentful space ID or GitHub owner/repo (repeatable)
  --basic-auth user:pass    Delivery credentials, "generate" or "none" (requires an auth token)
  --provider P              Tunnel provider: expose|cloudflared
  --server URL              Expose server URL (selects the expose provider)
  --auth-token T            Tunnel auth token
  --subdomain S             Reserved tunnel subdomain (requires an auth token)
  --region R                Tunnel region (default us)
  --platform P              Registration platform: contentful|github
  --topic T                 Event topic (repeatable, default *.* or * on GitHub)
  --config FILE             YAML config file
  --journal PATH            SQLite registration journal (default ./hooktunnel.db)
  --log-level L             Log level: debug|info|warn|error
  --pprof ADDR              Serve pprof on ADDR

Environment Variables:
  HOOKTUNNEL_REGION                   Tunnel region (NGROK_REGION is also read)
  HOOKTUNNEL_SUBDOMAIN                Tunnel subdomain (NGROK_SUBDOMAIN is also read)
  HOOKTUNNEL_AUTH_TOKEN               Tunnel auth token (NGROK_AUTH_TOKEN is also read)
  HOOKTUNNEL_SERVER                   Expose server URL
  HOOKTUNNEL_HOSTNAME                 Host name used for the identity label
  HOOKTUNNEL_LOG_LEVEL                Log level
  CONTENTFUL_MANAGEMENT_ACCESS_TOKEN  Contentful Management API token
  GITHUB_TOKEN                        GitHub API token

Exit status is 0 on a clean close, 1 on failure, 2 on usage errors and
128+N when stopped by signal N.`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	if Version != "dev" {
		Version = versionutil.EnsureVPrefix(Version)
	}
}

func printVersion() {
	fmt.Println("hooktunnel", Version)
}
