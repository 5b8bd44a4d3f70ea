package tunnelproto

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWriterClosed is returned by Send once the writer has stopped.
var ErrWriterClosed = errors.New("websocket writer closed")

type outgoing struct {
	msg    Message
	result chan error
}

// Writer owns the write side of one WebSocket connection. Frames other than
// responses are written ahead of queued responses. The first write failure
// stops the writer and aborts the connection.
type Writer struct {
	write func(Message) error
	abort func()

	control chan outgoing
	data    chan outgoing
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// NewWriter starts a writer for conn. Each frame gets timeout to reach the
// socket; queue bounds each lane.
func NewWriter(conn *websocket.Conn, timeout time.Duration, queue int) *Writer {
	return newWriter(func(msg Message) error {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		return conn.WriteJSON(msg)
	}, func() { _ = conn.Close() }, queue)
}

func newWriter(write func(Message) error, abort func(), queue int) *Writer {
	queue = max(queue, 1)
	w := &Writer{
		write:   write,
		abort:   abort,
		control: make(chan outgoing, queue),
		data:    make(chan outgoing, queue),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Send queues msg and waits until it is written, the writer stops or ctx
// ends. A message abandoned by ctx may still be written later.
func (w *Writer) Send(ctx context.Context, msg Message) error {
	lane := w.control
	if msg.Kind == KindResponse {
		lane = w.data
	}
	out := outgoing{msg: msg, result: make(chan error, 1)}
	select {
	case <-w.quit:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	case lane <- out:
	}

	select {
	case err := <-out.result:
		return err
	case <-w.stopped:
		select {
		case err := <-out.result:
			return err
		default:
			return w.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error that stopped the writer, or nil while it runs.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the writer and fails every queued message. It does not close
// the connection.
func (w *Writer) Close() {
	w.stop(ErrWriterClosed, false)
	<-w.stopped
}

func (w *Writer) stop(err error, abort bool) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.quit)
		if abort && w.abort != nil {
			w.abort()
		}
	})
}

func (w *Writer) loop() {
	defer close(w.stopped)
	for {
		out, ok := w.next()
		if !ok {
			w.drain(w.Err())
			return
		}
		err := w.write(out.msg)
		out.result <- err
		if err != nil {
			w.stop(err, true)
			w.drain(err)
			return
		}
	}
}

func (w *Writer) next() (outgoing, bool) {
	select {
	case out := <-w.control:
		return out, true
	default:
	}
	select {
	case <-w.quit:
		return outgoing{}, false
	case out := <-w.control:
		return out, true
	case out := <-w.data:
		return out, true
	}
}

func (w *Writer) drain(err error) {
	for {
		select {
		case out := <-w.control:
			out.result <- err
		case out := <-w.data:
			out.result <- err
		default:
			return
		}
	}
}
