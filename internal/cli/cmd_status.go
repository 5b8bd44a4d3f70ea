package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/koltyakov/hooktunnel/internal/config"
	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/store/sqlite"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	journalPath := fs.String("journal", config.DefaultJournalPath, "SQLite registration journal path")
	hostname := fs.String("hostname", "", "Host name used for the identity label (default: this host)")
	all := fs.Bool("all", false, "List entries of every host in the journal")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "status command error:", err)
		return 2
	}

	store, err := sqlite.Open(*journalPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open journal:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	identity := ""
	if !*all {
		host := *hostname
		if host == "" {
			host, _ = os.Hostname()
		}
		identity = domain.IdentityLabel(host)
	}
	entries, err := store.ListOpen(context.Background(), identity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		return 1
	}
	printEntries(os.Stdout, entries)
	return 0
}

func printEntries(w io.Writer, entries []sqlite.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No open registrations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tID\tIDENTITY\tURL\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Resource, e.ID, e.Identity, e.URL, e.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}
