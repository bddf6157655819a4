package remote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncompatibleBinary is returned when an explicitly requested binary
	// does not advertise client/server support (or cannot be run at all).
	ErrIncompatibleBinary = errors.New("vim binary does not support client-server mode")

	// ErrNoCompatibleBinary is returned when none of the candidate binaries
	// support client/server mode.
	ErrNoCompatibleBinary = errors.New("no vim binary with client-server support found")

	// ErrInvalidKeystrokeInput is returned when a --remote-send call reports an error.
	ErrInvalidKeystrokeInput = errors.New("invalid keystroke input")

	// ErrInvalidExpression is returned when a --remote-expr call reports an error.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrStartTimeout is returned when a spawned server does not register its
	// name within the configured start timeout.
	ErrStartTimeout = errors.New("vim server did not become ready")

	// ErrStillListed is returned by Stop when a forked editor keeps its name
	// registered after the quit request and the stop timeout.
	ErrStillListed = errors.New("vim server still listed after stop")
)

// RemoteError describes a failed --remote-send or --remote-expr invocation.
// It unwraps to ErrInvalidKeystrokeInput or ErrInvalidExpression.
type RemoteError struct {
	Op     string // "remote-send" or "remote-expr"
	Server string
	Input  string
	Stderr string
	Kind   error
	Err    error // underlying exec error, if any
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s to %s: %v", e.Op, e.Server, e.Kind)
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the error kind and the underlying exec error.
func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
