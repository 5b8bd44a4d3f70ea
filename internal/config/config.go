package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/koltyakov/hooktunnel/internal/auth"
	"github.com/koltyakov/hooktunnel/internal/domain"
)

// Provider selects the tunnel backend.
type Provider string

const (
	ProviderExpose      Provider = "expose"
	ProviderCloudflared Provider = "cloudflared"
)

// Platform selects the remote registration API.
type Platform string

const (
	PlatformContentful Platform = "contentful"
	PlatformGitHub     Platform = "github"
)

// BasicAuth values for Options.BasicAuth besides a literal "user:pass".
const (
	BasicAuthGenerate = "generate"
	BasicAuthNone     = "none"
)

const (
	defaultProto   = "http"
	defaultRegion  = "us"
	defaultTimeout = 30 * time.Second
	defaultTopic   = "*.*"

	// DefaultJournalPath is where the registration journal lives unless
	// configured.
	DefaultJournalPath = "./hooktunnel.db"
)

// Options are caller-supplied values. Zero values mean "not set".
type Options struct {
	Port      int      `yaml:"port"`
	Targets   []string `yaml:"targets"`
	BasicAuth string   `yaml:"basic_auth"`
	Proto     string   `yaml:"proto"`
	Region    string   `yaml:"region"`
	Subdomain string   `yaml:"subdomain"`
	AuthToken string   `yaml:"auth_token"`
	Provider  string   `yaml:"provider"`
	ServerURL string   `yaml:"server"`
	Platform  string   `yaml:"platform"`
	Topics    []string `yaml:"topics"`
	APIToken  string   `yaml:"api_token"`
	Hostname  string   `yaml:"hostname"`
	Journal   string   `yaml:"journal"`
	LogLevel  string   `yaml:"log_level"`
	PprofAddr string   `yaml:"pprof"`
}

// Env holds environment overrides. The NGROK_* names are accepted as
// fallbacks for the HOOKTUNNEL_* ones.
type Env struct {
	Region         string `envconfig:"HOOKTUNNEL_REGION"`
	Subdomain      string `envconfig:"HOOKTUNNEL_SUBDOMAIN"`
	AuthToken      string `envconfig:"HOOKTUNNEL_AUTH_TOKEN"`
	ServerURL      string `envconfig:"HOOKTUNNEL_SERVER"`
	Hostname       string `envconfig:"HOOKTUNNEL_HOSTNAME"`
	LogLevel       string `envconfig:"HOOKTUNNEL_LOG_LEVEL"`
	NgrokRegion    string `envconfig:"NGROK_REGION"`
	NgrokSubdomain string `envconfig:"NGROK_SUBDOMAIN"`
	NgrokAuthToken string `envconfig:"NGROK_AUTH_TOKEN"`

	ContentfulToken string `envconfig:"CONTENTFUL_MANAGEMENT_ACCESS_TOKEN"`
	GitHubToken     string `envconfig:"GITHUB_TOKEN"`
}

// LoadEnv reads [Env] from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("load environment: %w", err)
	}
	return env, nil
}

// BasicAuth holds credentials the remote platform must present to the
// local listener.
type BasicAuth struct {
	User      string
	Password  string
	Generated bool
}

// String renders the credentials as "user:pass".
func (b BasicAuth) String() string {
	return b.User + ":" + b.Password
}

// Config is the fully resolved, immutable configuration of one session.
type Config struct {
	Proto     string
	Region    string
	AuthToken string
	BasicAuth *BasicAuth
	Subdomain string
	Targets   []domain.ResourceID
	Port      int

	Provider  Provider
	ServerURL string

	Platform Platform
	APIToken string
	Topics   []string
	Hostname string
	Timeout  time.Duration

	JournalPath string
	LogLevel    string
	PprofAddr   string
}

// Tunnel is the payload handed to a tunnel client's connect call.
type Tunnel struct {
	Proto     string
	LocalPort int
	Region    string
	AuthToken string
	Subdomain string
	Auth      *BasicAuth
	ServerURL string
	Timeout   time.Duration
}

// Resolve merges built-in defaults, caller options and environment
// overrides (later wins). Token-gated fields are dropped, not rejected,
// when no auth token resolves.
func Resolve(opts Options, env Env) (Config, error) {
	cfg := Config{
		Proto:       defaultProto,
		Region:      defaultRegion,
		Platform:    PlatformContentful,
		Topics:      []string{defaultTopic},
		Timeout:     defaultTimeout,
		JournalPath: DefaultJournalPath,
		LogLevel:    "info",
	}

	if v := strings.TrimSpace(opts.Proto); v != "" {
		cfg.Proto = strings.ToLower(v)
	}
	if v := strings.TrimSpace(opts.Region); v != "" {
		cfg.Region = v
	}
	cfg.Subdomain = strings.TrimSpace(opts.Subdomain)
	cfg.AuthToken = strings.TrimSpace(opts.AuthToken)
	cfg.ServerURL = strings.TrimSpace(opts.ServerURL)
	cfg.APIToken = strings.TrimSpace(opts.APIToken)
	cfg.Hostname = strings.TrimSpace(opts.Hostname)
	cfg.PprofAddr = strings.TrimSpace(opts.PprofAddr)
	if v := strings.TrimSpace(opts.Journal); v != "" {
		cfg.JournalPath = v
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if topics := cleanList(opts.Topics); len(topics) > 0 {
		cfg.Topics = topics
	}
	for _, t := range cleanList(opts.Targets) {
		cfg.Targets = append(cfg.Targets, domain.ResourceID(t))
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return Config{}, &domain.ConfigError{Field: "port", Err: errors.New("must be between 0 and 65535")}
	}
	cfg.Port = opts.Port

	switch cfg.Proto {
	case "http", "https":
	default:
		return Config{}, &domain.ConfigError{Field: "proto", Err: fmt.Errorf("unsupported proto %q (expected http or https)", cfg.Proto)}
	}

	cfg.Region = firstNonEmpty(env.Region, env.NgrokRegion, cfg.Region)
	cfg.Subdomain = firstNonEmpty(env.Subdomain, env.NgrokSubdomain, cfg.Subdomain)
	cfg.AuthToken = firstNonEmpty(env.AuthToken, env.NgrokAuthToken, cfg.AuthToken)
	cfg.ServerURL = firstNonEmpty(env.ServerURL, cfg.ServerURL)
	cfg.Hostname = firstNonEmpty(env.Hostname, cfg.Hostname)
	cfg.LogLevel = firstNonEmpty(env.LogLevel, cfg.LogLevel)

	switch Provider(strings.ToLower(strings.TrimSpace(opts.Provider))) {
	case "":
		if cfg.ServerURL != "" {
			cfg.Provider = ProviderExpose
		} else {
			cfg.Provider = ProviderCloudflared
		}
	case ProviderExpose:
		cfg.Provider = ProviderExpose
	case ProviderCloudflared:
		cfg.Provider = ProviderCloudflared
	default:
		return Config{}, &domain.ConfigError{Field: "provider", Err: fmt.Errorf("unknown provider %q", opts.Provider)}
	}

	switch Platform(strings.ToLower(strings.TrimSpace(opts.Platform))) {
	case "", PlatformContentful:
		cfg.Platform = PlatformContentful
		cfg.APIToken = firstNonEmpty(cfg.APIToken, env.ContentfulToken)
	case PlatformGitHub:
		cfg.Platform = PlatformGitHub
		cfg.APIToken = firstNonEmpty(cfg.APIToken, env.GitHubToken)
		if len(cleanList(opts.Topics)) == 0 {
			cfg.Topics = []string{"*"}
		}
	default:
		return Config{}, &domain.ConfigError{Field: "platform", Err: fmt.Errorf("unknown platform %q", opts.Platform)}
	}

	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}

	if cfg.AuthToken == "" {
		cfg.Subdomain = ""
		return cfg, nil
	}

	ba, err := resolveBasicAuth(opts.BasicAuth)
	if err != nil {
		return Config{}, err
	}
	cfg.BasicAuth = ba
	return cfg, nil
}

func resolveBasicAuth(v string) (*BasicAuth, error) {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case BasicAuthNone:
		return nil, nil
	case "", BasicAuthGenerate:
		secret, err := auth.GenerateSecret(18)
		if err != nil {
			return nil, &domain.ConfigError{Field: "basic_auth", Err: err}
		}
		return &BasicAuth{User: auth.DefaultUser, Password: secret, Generated: true}, nil
	}
	user, pass, err := auth.ParseBasicAuth(v)
	if err != nil {
		return nil, &domain.ConfigError{Field: "basic_auth", Err: err}
	}
	return &BasicAuth{User: user, Password: pass}, nil
}

// TunnelConfig builds the tunnel-open payload for a bound local port.
// Subdomain and Auth are carried only when an auth token is present. GitHub
// deliveries sign with the secret instead of sending basic auth, so Auth is
// never set for that platform.
func (c Config) TunnelConfig(localPort int) Tunnel {
	t := Tunnel{
		Proto:     c.Proto,
		LocalPort: localPort,
		Region:    c.Region,
		ServerURL: c.ServerURL,
		Timeout:   c.Timeout,
	}
	if c.AuthToken == "" {
		return t
	}
	t.AuthToken = c.AuthToken
	t.Subdomain = c.Subdomain
	if c.BasicAuth != nil && c.Platform != PlatformGitHub {
		ba := *c.BasicAuth
		t.Auth = &ba
	}
	return t
}

// RequireAPICredential reports a [domain.ConfigError] when the remote
// registration API token is absent. It is checked lazily, right before
// synchronization, so the listener can still start for diagnostics.
func (c Config) RequireAPICredential() error {
	if strings.TrimSpace(c.APIToken) != "" {
		return nil
	}
	name := "CONTENTFUL_MANAGEMENT_ACCESS_TOKEN"
	if c.Platform == PlatformGitHub {
		name = "GITHUB_TOKEN"
	}
	return &domain.ConfigError{Field: name, Err: domain.ErrMissingCredential}
}

// IdentityLabel is the dedup label derived from the host name.
func (c Config) IdentityLabel() string {
	return domain.IdentityLabel(c.Hostname)
}

// Clone returns a deep copy so callers cannot mutate a running session's
// configuration through shared slices or pointers.
func (c Config) Clone() Config {
	out := c
	out.Targets = slices.Clone(c.Targets)
	out.Topics = slices.Clone(c.Topics)
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		out.BasicAuth = &ba
	}
	return out
}

// Merge returns base with every non-zero field of over applied.
func Merge(base, over Options) Options {
	out := base
	if over.Port != 0 {
		out.Port = over.Port
	}
	if len(over.Targets) > 0 {
		out.Targets = slices.Clone(over.Targets)
	}
	if len(over.Topics) > 0 {
		out.Topics = slices.Clone(over.Topics)
	}
	setIf(&out.BasicAuth, over.BasicAuth)
	setIf(&out.Proto, over.Proto)
	setIf(&out.Region, over.Region)
	setIf(&out.Subdomain, over.Subdomain)
	setIf(&out.AuthToken, over.AuthToken)
	setIf(&out.Provider, over.Provider)
	setIf(&out.ServerURL, over.ServerURL)
	setIf(&out.Platform, over.Platform)
	setIf(&out.APIToken, over.APIToken)
	setIf(&out.Hostname, over.Hostname)
	setIf(&out.Journal, over.Journal)
	setIf(&out.LogLevel, over.LogLevel)
	setIf(&out.PprofAddr, over.PprofAddr)
	return out
}

func setIf(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}
