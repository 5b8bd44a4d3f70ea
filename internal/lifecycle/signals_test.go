package lifecycle

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSignalsStopsWithContext(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHarness(t)
	h.start(t, cfg)
	waitState(t, h.o, StateReady)

	stopped := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	codes := h.o.watch(ctx, func(chan<- os.Signal) func() {
		return func() { close(stopped) }
	})
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler was not removed")
	}
	if code, ok := <-codes; ok {
		t.Fatalf("unexpected exit code %d", code)
	}
	assert.Equal(t, StateReady, h.o.State())
}

func TestSecondSignalIsIgnored(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHarness(t)
	h.start(t, cfg)
	waitState(t, h.o, StateReady)

	var sigs chan<- os.Signal
	codes := h.o.watch(context.Background(), func(ch chan<- os.Signal) func() {
		sigs = ch
		return func() {}
	})
	sigs <- syscall.SIGINT
	sigs <- syscall.SIGTERM

	select {
	case code := <-codes:
		assert.Equal(t, 130, code)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit code")
	}
	require.Equal(t, StateClosed, h.o.State())
	<-h.o.Done()
	if code, ok := <-codes; ok {
		t.Fatalf("unexpected second exit code %d", code)
	}
	assert.Len(t, h.log.ofKind(EventClosed), 1)
}
