package config

import (
	"flag"
	"io"
	"strings"
)

type stringListFlag []string

func (s *stringListFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// RunFlags is the parsed command line of the run command.
type RunFlags struct {
	Options    Options
	ConfigFile string
	EnvFile    string
}

// ParseRunFlags parses run-command flags. Only explicitly provided values
// are set on the returned Options so they can be merged over a file.
func ParseRunFlags(args []string, output io.Writer) (RunFlags, error) {
	var out RunFlags
	var targets, topics stringListFlag
	o := &out.Options

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&out.ConfigFile, "config", "", "YAML config file")
	fs.StringVar(&out.EnvFile, "env-file", ".env", "Dotenv file to load before resolving")
	fs.IntVar(&o.Port, "port", 0, "Local listen port (0 picks a free port)")
	fs.Var(&targets, "target", "Target resource ID, e.g. a Contentful space or GitHub owner/repo (repeatable)")
	fs.Var(&targets, "space", "Alias for --target")
	fs.StringVar(&o.BasicAuth, "basic-auth", "", `Delivery credentials "user:pass", "generate" or "none" (requires an auth token)`)
	fs.StringVar(&o.Proto, "proto", "", "Tunnel protocol: http|https")
	fs.StringVar(&o.Region, "region", "", "Tunnel region (default us)")
	fs.StringVar(&o.Subdomain, "subdomain", "", "Reserved tunnel subdomain (requires an auth token)")
	fs.StringVar(&o.AuthToken, "auth-token", "", "Tunnel auth token")
	fs.StringVar(&o.Provider, "provider", "", "Tunnel provider: expose|cloudflared")
	fs.StringVar(&o.ServerURL, "server", "", "Expose server URL")
	fs.StringVar(&o.Platform, "platform", "", "Registration platform: contentful|github")
	fs.Var(&topics, "topic", "Event topic to subscribe (repeatable)")
	fs.StringVar(&o.APIToken, "api-token", "", "Registration API token")
	fs.StringVar(&o.Hostname, "hostname", "", "Host name used for the identity label")
	fs.StringVar(&o.Journal, "journal", "", "SQLite registration journal path")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&o.PprofAddr, "pprof", "", "Optional pprof listen address")
	if err := fs.Parse(args); err != nil {
		return out, err
	}
	o.Targets = append([]string(nil), targets...)
	o.Targets = append(o.Targets, fs.Args()...)
	o.Topics = append([]string(nil), topics...)
	return out, nil
}
