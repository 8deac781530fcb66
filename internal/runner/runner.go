// Package runner is the supervised side of a framecap session: it reads
// chunk scripts from a control stream, executes each one with its output
// captured, and emits one frame pair per chunk back to the harness.
package runner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"framecap/pkg/capture"
	"framecap/pkg/frame"
)

// ErrTransport marks a failed frame emission. The wire is desynchronized
// once this happens, so callers terminate with
// capture.ExitTransportFailure instead of continuing.
var ErrTransport = errors.New("transport failure")

// Options configures a runner session.
type Options struct {
	// Shell interprets chunk scripts; default "sh".
	Shell string

	// Codec frames both channels and the control stream; default binary.
	Codec frame.Codec

	// UsePTY runs each chunk under a pseudo-terminal. The pty merges the
	// child's stdout and stderr, so everything it prints arrives on the
	// primary channel; the error channel then carries only runner
	// diagnostics.
	UsePTY bool

	// Dir is the working directory for chunk commands; default inherited.
	Dir string

	// Logger receives the runner's own diagnostics. It must never point at
	// a captured channel or its transport. Default: discard.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = "sh"
	}
	if o.Codec == nil {
		o.Codec = frame.Binary
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Run drives a whole session: chunk scripts arrive as frames on control,
// captured output leaves as frame pairs on primary and errOut. It returns
// nil on clean control-stream EOF. Errors wrapping ErrTransport mean the
// connection is beyond recovery.
func Run(control io.Reader, primary, errOut io.Writer, opts Options) error {
	opts = opts.withDefaults()
	sess := capture.NewSession(primary, errOut, opts.Codec)
	return RunSession(control, sess, opts)
}

// RunSession is Run over a caller-built session. The loop runs inside the
// session's Guard, so a panic anywhere in chunk handling still produces a
// final diagnostic frame before the process exits.
func RunSession(control io.Reader, sess *capture.Session, opts Options) error {
	opts = opts.withDefaults()
	return sess.Guard(func() error {
		for chunk := 1; ; chunk++ {
			script, err := frame.Read(control, opts.Codec)
			if err == io.EOF {
				opts.Logger.Info("control stream closed", "chunks", chunk-1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading chunk script: %w", err)
			}

			start := time.Now()
			exitCode, err := RunChunk(sess, string(script), opts)
			if err != nil {
				// The chunk never ran (missing shell, pty failure). The
				// harness still gets its frame pair, with the reason on
				// the error channel.
				_, _ = fmt.Fprintf(sess.Error, "framecap: %v\n", err)
			}

			opts.Logger.Info("chunk complete",
				"chunk", chunk,
				"exit_code", exitCode,
				"duration", time.Since(start),
				"primary_bytes", sess.Primary.Buffered(),
				"error_bytes", sess.Error.Buffered())

			if err := sess.EmitAll(); err != nil {
				return fmt.Errorf("%w: %v", ErrTransport, err)
			}
		}
	})
}

// RunChunk executes one chunk script with stdout captured on the primary
// channel and stderr on the error channel. It returns the chunk's exit
// code; a non-nil error means the chunk could not be executed at all.
// Frames are not emitted here; that is the caller's chunk boundary.
func RunChunk(sess *capture.Session, script string, opts Options) (int, error) {
	opts = opts.withDefaults()

	cmd := exec.Command(opts.Shell, "-c", script)
	cmd.Dir = opts.Dir

	if opts.UsePTY {
		return runChunkPTY(sess, cmd)
	}

	cmd.Stdout = sess.Primary
	cmd.Stderr = sess.Error
	return chunkExit(sess, cmd.Run())
}

func runChunkPTY(sess *capture.Session, cmd *exec.Cmd) (int, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("starting command with pty: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	// Reading the master side fails with EIO once the child closes the
	// slave; that is the pty's EOF.
	if _, err := io.Copy(sess.Primary, ptmx); err != nil && !errors.Is(err, syscall.EIO) {
		_ = cmd.Wait()
		return -1, fmt.Errorf("reading pty output: %w", err)
	}
	return chunkExit(sess, cmd.Wait())
}

// chunkExit converts a Wait result into an exit code. A failing chunk gets
// a one-line trailer on the error channel so the harness sees the status
// inside the frame, not just in the runner's log.
func chunkExit(sess *capture.Session, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		_, _ = fmt.Fprintf(sess.Error, "command exited with status %d\n", code)
		return code, nil
	}
	return -1, err
}
