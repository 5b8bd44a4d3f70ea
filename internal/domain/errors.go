package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrAlreadyOpening is returned when a tunnel open is requested while a
	// previous open on the same session has not resolved yet.
	ErrAlreadyOpening = errors.New("tunnel open already in progress")

	// ErrAlreadyOpen is returned when a session that already resolved a
	// tunnel is asked to open another one.
	ErrAlreadyOpen = errors.New("tunnel already open")

	// ErrMissingCredential indicates the remote registration API token is
	// absent at the time it is needed.
	ErrMissingCredential = errors.New("missing remote API credential")

	// ErrClosed is returned by operations attempted after shutdown started.
	ErrClosed = errors.New("session closed")

	// ErrNotListening means the tunnel was requested before a local port was
	// bound.
	ErrNotListening = errors.New("listener not bound")
)

// ConfigError reports a configuration problem detected at use time.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ListenError wraps a local bind failure.
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen %s: %v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

// TunnelError wraps an underlying error with tunnel context.
type TunnelError struct {
	URL string
	Op  string
	Err error
}

func (e *TunnelError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("tunnel %s: %s: %v", e.URL, e.Op, e.Err)
	}
	return fmt.Sprintf("tunnel %s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

// SyncError is the abortive failure of a fetch or delete phase. Resource
// names the first resource whose call failed.
type SyncError struct {
	Phase    string
	Resource ResourceID
	Err      error
}

func (e *SyncError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("sync %s %s: %v", e.Phase, e.Resource, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// RegistrationError is an isolated create failure for one resource.
type RegistrationError struct {
	Resource ResourceID
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("create registration on %s: %v", e.Resource, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// CleanupError is a non-fatal failure during shutdown.
type CleanupError struct {
	Op       string
	Resource ResourceID
	Err      error
}

func (e *CleanupError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("cleanup %s %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("cleanup %s: %v", e.Op, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err moves a session to the failed state.
// Registration and cleanup errors are isolated; everything else is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var re *RegistrationError
	if errors.As(err, &re) {
		return false
	}
	var ce *CleanupError
	return !errors.As(err, &ce)
}
