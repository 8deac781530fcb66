// Package capture buffers everything a chunk of program code writes to an
// output channel and releases it to the real transport as one atomic frame
// per chunk. It is the in-process stand-in for stdout/stderr while a
// supervised runner executes code on behalf of a harness.
package capture

import (
	"fmt"
	"io"
	"os"

	"framecap/pkg/frame"
)

// Stream intercepts one logical output channel. Writes accumulate in memory
// and reach the real transport only when Emit is called; the harness on the
// other end then sees exactly one frame per chunk.
//
// A Stream is not safe for concurrent writers. The caller (the runner's
// chunk loop) serializes access by executing one chunk at a time.
type Stream struct {
	name      string
	codec     frame.Codec
	transport io.Writer
	pieces    [][]byte
}

// NewStream creates a Stream named for diagnostics, writing frames to
// transport with the given codec. The transport is shared, not owned: the
// Stream never closes it.
func NewStream(name string, transport io.Writer, codec frame.Codec) *Stream {
	if codec == nil {
		codec = frame.Binary
	}
	return &Stream{
		name:      name,
		codec:     codec,
		transport: transport,
	}
}

// Write buffers a copy of p and reports len(p) written. Buffering cannot
// fail, so the returned error is always nil; the signature exists to
// satisfy io.Writer so a Stream can stand in anywhere a real output handle
// is expected (exec.Cmd.Stdout, fmt.Fprintf, ...).
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.pieces = append(s.pieces, append([]byte(nil), p...))
	return len(p), nil
}

// WriteString buffers the UTF-8 bytes of str. The returned count is a byte
// count, matching io.StringWriter; Go strings are byte sequences already,
// so no conversion happens and no data is ever dropped or substituted.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Flush is deliberately a no-op. Code under capture routinely flushes what
// it believes is a real output handle; honoring that would release bytes
// mid-chunk and fragment the frame. Only Emit moves bytes to the transport.
func (s *Stream) Flush() error {
	return nil
}

// Buffered returns the number of payload bytes accumulated since the last
// Emit.
func (s *Stream) Buffered() int {
	total := 0
	for _, p := range s.pieces {
		total += len(p)
	}
	return total
}

// Emit writes everything buffered since the last Emit as one frame: the
// length header, then each buffered piece in write order, then a transport
// flush. The buffer is cleared afterwards. An empty buffer emits a valid
// zero-length frame.
//
// Once the header is on the wire the frame must complete; any transport
// error here desynchronizes the peer permanently, so callers must treat a
// non-nil return as fatal for the connection.
func (s *Stream) Emit() error {
	if err := s.codec.WriteHeader(s.transport, s.Buffered()); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	for _, p := range s.pieces {
		if _, err := s.transport.Write(p); err != nil {
			return fmt.Errorf("%s: writing frame payload: %w", s.name, err)
		}
	}
	if err := flushTransport(s.transport); err != nil {
		return fmt.Errorf("%s: flushing transport: %w", s.name, err)
	}
	s.pieces = nil
	return nil
}

// flushTransport pushes buffered bytes down to the peer. Pipes and sockets
// wrapped in *os.File are unbuffered, so only regular files need a Sync
// (fsync on a pipe fails with EINVAL).
func flushTransport(w io.Writer) error {
	switch t := w.(type) {
	case interface{ Flush() error }:
		return t.Flush()
	case *os.File:
		info, err := t.Stat()
		if err == nil && info.Mode().IsRegular() {
			return t.Sync()
		}
	}
	return nil
}
