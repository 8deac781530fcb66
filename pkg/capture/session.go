package capture

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"framecap/pkg/frame"
)

// Process exit statuses the harness distinguishes.
const (
	// ExitFatalError is used when a chunk terminated via an unrecovered
	// panic; the diagnostic frame on the error channel precedes the exit.
	ExitFatalError = 2

	// ExitTransportFailure is used when a frame could not be completed on
	// the wire. The connection is unrecoverable at that point.
	ExitTransportFailure = 3
)

// Session is one runtime session's pair of intercepted channels. Exactly
// one Session exists per runner process; it lives from session start to
// process exit.
type Session struct {
	// Primary captures what the running code writes to standard output.
	Primary *Stream

	// Error captures what the running code writes to standard error, plus
	// the diagnostic report Guard produces on fatal failure.
	Error *Stream

	// exit terminates the process; replaced in tests.
	exit func(int)
}

// NewSession builds the interceptor pair over the two real transports.
// Both channels use the same codec; mixing codecs across channels would
// leave the harness unable to decode one of them.
func NewSession(primary, errOut io.Writer, codec frame.Codec) *Session {
	return &Session{
		Primary: NewStream("primary", primary, codec),
		Error:   NewStream("error", errOut, codec),
		exit:    os.Exit,
	}
}

// EmitAll releases both channels' buffered output, always primary first so
// the harness can read the pair in a fixed order.
func (s *Session) EmitAll() error {
	if err := s.Primary.Emit(); err != nil {
		return err
	}
	return s.Error.Emit()
}

// Guard runs fn and guarantees the harness still receives a frame if fn
// panics instead of returning. The panic value and stack are rendered into
// the error channel and emitted directly; the primary channel's pending
// bytes are intentionally left unemitted, since the chunk never completed.
// After emitting, the process exits with ExitFatalError (or
// ExitTransportFailure if even the diagnostic frame could not be
// delivered), so the harness can tell failure from success.
//
// Guard writes through the Stream's own emit path, not through any
// redirected ambient handle, so a fault in the capture plumbing cannot
// re-enter itself.
func (s *Session) Guard(fn func() error) error {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		_, _ = fmt.Fprintf(s.Error, "fatal: %v\n\n%s", r, debug.Stack())
		if err := s.Error.Emit(); err != nil {
			s.exit(ExitTransportFailure)
			return
		}
		s.exit(ExitFatalError)
	}()
	return fn()
}
