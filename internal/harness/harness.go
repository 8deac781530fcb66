// Package harness is the supervising side of a framecap session: it feeds
// chunk scripts to a runner and reassembles the captured output from the
// frame pair each chunk produces.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/google/uuid"

	"framecap/pkg/frame"
)

// ChunkResult is one chunk's captured output, one frame per channel. A
// zero-length channel means the chunk wrote nothing there; it is never an
// error.
type ChunkResult struct {
	ID      uuid.UUID
	Script  string
	Primary []byte
	Error   []byte
}

// Client drives one runner session over three byte streams: framed chunk
// scripts out on the control stream, framed output back on the primary and
// error streams.
type Client struct {
	codec   frame.Codec
	control io.Writer
	primary io.Reader
	errors  io.Reader

	cmd    *exec.Cmd
	logger *slog.Logger
}

// Attach builds a Client over already-connected streams. Used by tests and
// by callers that manage the runner process themselves.
func Attach(control io.Writer, primary, errStream io.Reader, codec frame.Codec) *Client {
	if codec == nil {
		codec = frame.Binary
	}
	return &Client{
		codec:   codec,
		control: control,
		primary: primary,
		errors:  errStream,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Spawn starts a runner subprocess and connects to it: its stdin carries
// the control stream, its stdout and stderr carry the primary and error
// channels. The runner must frame with the same codec.
func Spawn(ctx context.Context, codec frame.Codec, binary string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	control, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating control pipe: %w", err)
	}
	primary, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating primary pipe: %w", err)
	}
	errStream, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating error pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting runner: %w", err)
	}

	c := Attach(control, primary, errStream, codec)
	c.cmd = cmd
	return c, nil
}

// SetLogger routes the client's diagnostics (chunk sizes, runner resource
// samples) to logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Run executes one chunk: it sends the script as a control frame, then
// reads exactly one primary frame and one error frame. The read order
// matches the runner's fixed emission order.
func (c *Client) Run(script string) (*ChunkResult, error) {
	id := uuid.New()

	if err := frame.Write(c.control, c.codec, []byte(script)); err != nil {
		return nil, fmt.Errorf("sending chunk %s: %w", id, err)
	}

	primary, err := frame.Read(c.primary, c.codec)
	if err != nil {
		return nil, fmt.Errorf("reading primary frame for chunk %s: %w", id, err)
	}
	errOut, err := frame.Read(c.errors, c.codec)
	if err != nil {
		return nil, fmt.Errorf("reading error frame for chunk %s: %w", id, err)
	}

	c.logger.Info("chunk captured",
		"chunk_id", id,
		"primary_bytes", len(primary),
		"error_bytes", len(errOut))

	if stats, err := c.Stats(); err == nil && stats != nil {
		c.logger.Info("runner stats",
			"chunk_id", id,
			"cpu_percent", stats.CPUPercent,
			"rss_mb", float64(stats.RSSBytes)/(1024*1024))
	}

	return &ChunkResult{
		ID:      id,
		Script:  script,
		Primary: primary,
		Error:   errOut,
	}, nil
}

// Close ends the session: closing the control stream signals EOF to the
// runner, which exits its chunk loop. For spawned runners Close then waits
// for the process and returns its exit error, if any.
func (c *Client) Close() error {
	if closer, ok := c.control.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing control stream: %w", err)
		}
	}
	if c.cmd != nil {
		if err := c.cmd.Wait(); err != nil {
			return fmt.Errorf("runner exited: %w", err)
		}
	}
	return nil
}
