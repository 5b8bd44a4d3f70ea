package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ExitCode returns the conventional 128+signum process exit status for sig.
func ExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// WatchSignals installs one handler for the given signals. The first signal
// closes the session through [Orchestrator.Close] and then sends
// [ExitCode] of that signal on the returned channel. Later signals are
// ignored while the close runs. The handler is removed and the channel
// closed when ctx is done or the session closes, so a receive that reports
// !ok means no signal ended the session.
func (o *Orchestrator) WatchSignals(ctx context.Context, sigs ...os.Signal) <-chan int {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return o.watch(ctx, func(ch chan<- os.Signal) func() {
		signal.Notify(ch, sigs...)
		return func() { signal.Stop(ch) }
	})
}

func (o *Orchestrator) watch(ctx context.Context, install func(chan<- os.Signal) func()) <-chan int {
	ch := make(chan os.Signal, 1)
	codes := make(chan int, 1)
	stop := install(ch)
	go func() {
		defer close(codes)
		defer stop()
		select {
		case sig := <-ch:
			o.log.Info("signal received; closing", "signal", sig.String())
			if err := o.Close(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("close after signal", "err", err)
			}
			codes <- ExitCode(sig)
		case <-ctx.Done():
		case <-o.Done():
		}
	}()
	return codes
}
