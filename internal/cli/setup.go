package cli

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/koltyakov/hooktunnel/internal/auth"
	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/listener"
	"github.com/koltyakov/hooktunnel/internal/registry"
	"github.com/koltyakov/hooktunnel/internal/registry/contentful"
	"github.com/koltyakov/hooktunnel/internal/registry/github"
	"github.com/koltyakov/hooktunnel/internal/store/sqlite"
	"github.com/koltyakov/hooktunnel/internal/tunnel"
	"github.com/koltyakov/hooktunnel/internal/tunnel/cloudflared"
	"github.com/koltyakov/hooktunnel/internal/tunnel/expose"
	"github.com/koltyakov/hooktunnel/internal/versionutil"
)

const journalRetention = 30 * 24 * time.Hour

// resolveRunConfig layers the YAML file, flags, dotenv and environment into
// a resolved Config. Every error it returns is a usage error.
func resolveRunConfig(args []string) (config.Config, error) {
	flags, err := config.ParseRunFlags(args, nil)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		return config.Config{}, err
	}

	var opts config.Options
	if flags.ConfigFile != "" {
		opts, err = config.LoadFile(flags.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
	}
	opts = config.Merge(opts, flags.Options)

	env, err := config.LoadEnv()
	if err != nil {
		return config.Config{}, err
	}
	return config.Resolve(opts, env)
}

// newAPI returns the registration API for cfg.Platform, or nil when no
// credential is configured.
func newAPI(cfg config.Config, log *slog.Logger) (registry.API, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, nil
	}
	ua := versionutil.UserAgent(Version)
	switch cfg.Platform {
	case config.PlatformGitHub:
		client, err := github.New(cfg.APIToken, "", &http.Client{Timeout: cfg.Timeout}, log)
		if err != nil {
			return nil, err
		}
		return client.WithUserAgent(ua), nil
	default:
		return contentful.New(contentful.DefaultBaseURL, cfg.APIToken, cfg.Timeout, log).WithUserAgent(ua), nil
	}
}

func newTunnelClient(cfg config.Config, log *slog.Logger) tunnel.Client {
	if cfg.Provider == config.ProviderExpose {
		return expose.New(log, Version)
	}
	return cloudflared.New(log, "")
}

func newListener(cfg config.Config, log *slog.Logger, onDelivery func(listener.Delivery)) (*listener.Server, error) {
	opts := listener.Options{
		Platform:   string(cfg.Platform),
		OnDelivery: onDelivery,
		Logger:     log,
	}
	if cfg.BasicAuth != nil {
		if cfg.Platform == config.PlatformGitHub {
			opts.Secret = cfg.BasicAuth.Password
		} else {
			v, err := auth.NewVerifier(cfg.BasicAuth.User, cfg.BasicAuth.Password)
			if err != nil {
				return nil, err
			}
			opts.Verifier = v
		}
	}
	return listener.New(opts), nil
}

// openJournal opens the registration journal and prunes old deletions. A
// journal that cannot be opened is logged and skipped.
func openJournal(ctx context.Context, path string, log *slog.Logger) *sqlite.Store {
	path = strings.TrimSpace(path)
	if path == "" || path == "none" {
		return nil
	}
	store, err := sqlite.Open(path)
	if err != nil {
		log.Warn("registration journal unavailable", "path", path, "err", err)
		return nil
	}
	if n, err := store.PruneDeleted(ctx, time.Now().Add(-journalRetention)); err != nil {
		log.Warn("prune registration journal", "err", err)
	} else if n > 0 {
		log.Debug("pruned registration journal", "rows", n)
	}
	return store
}

// journalDep avoids handing a typed nil to an interface field.
func journalDep(store *sqlite.Store) registry.Journal {
	if store == nil {
		return nil
	}
	return store
}
