package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
	ilog "github.com/koltyakov/hooktunnel/internal/log"
	"github.com/koltyakov/hooktunnel/internal/registry"
	"github.com/koltyakov/hooktunnel/internal/store/sqlite"
)

func runPurge(ctx context.Context, args []string) int {
	cfg, err := resolveRunConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge command error:", err)
		return 2
	}
	if err := cfg.RequireAPICredential(); err != nil {
		fmt.Fprintln(os.Stderr, "purge command error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	journal := openJournal(ctx, cfg.JournalPath, logger)
	if journal != nil {
		defer func() { _ = journal.Close() }()
	}
	targets := purgeTargets(ctx, cfg, journal)
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "purge command error: no targets given and none in the journal")
		return 2
	}

	api, err := newAPI(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge command error:", err)
		return 2
	}
	s := registry.NewSynchronizer(api, registry.NewOwnedSet(), journalDep(journal), logger)
	deleted, err := s.Purge(ctx, targets, cfg.IdentityLabel(), registry.Observer{
		Deleted: func(reg domain.Registration) {
			fmt.Printf("Removed %s %s\n", reg.Resource, reg.ID)
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "purge:", err)
		return 1
	}
	fmt.Printf("%d registration(s) removed for %q\n", len(deleted), cfg.IdentityLabel())
	return 0
}

// purgeTargets falls back to the resources the journal still lists for this
// host when none were given.
func purgeTargets(ctx context.Context, cfg config.Config, journal *sqlite.Store) []domain.ResourceID {
	if len(cfg.Targets) > 0 || journal == nil {
		return cfg.Targets
	}
	entries, err := journal.ListOpen(ctx, cfg.IdentityLabel())
	if err != nil {
		return nil
	}
	seen := make(map[domain.ResourceID]bool)
	var out []domain.ResourceID
	for _, e := range entries {
		if !seen[e.Resource] {
			seen[e.Resource] = true
			out = append(out, e.Resource)
		}
	}
	return out
}
