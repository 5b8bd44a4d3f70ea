package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		return runRun(args)
	}

	switch args[0] {
	case "run":
		return runRun(args[1:])
	case "status":
		return runStatus(args[1:])
	case "purge":
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runPurge(ctx, args[1:])
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		return runRun(args)
	}
}
