// Package frame defines the self-delimiting frame format used to carry one
// chunk's worth of captured output over a shared byte stream. See doc.go for
// the format specification.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayload is the largest payload a reader accepts. A header declaring
// more than this is treated as stream corruption rather than an allocation
// request.
const MaxPayload = 1 << 30

// Codec encodes and decodes the length header of a frame. The payload bytes
// themselves are written and read verbatim, so a codec only has to agree
// with the peer about the header.
type Codec interface {
	// Name returns the codec's configuration name ("binary" or "delimited").
	Name() string

	// WriteHeader writes the header declaring a payload of length bytes.
	WriteHeader(w io.Writer, length int) error

	// ReadHeader reads one header and returns the declared payload length.
	// It returns io.EOF only when the stream ends cleanly at a frame
	// boundary, before any header byte was read.
	ReadHeader(r io.Reader) (int, error)
}

var (
	// Binary is the fixed-width native-order header encoding (the default).
	Binary Codec = binaryCodec{}

	// Delimited is the decimal-plus-':' header encoding.
	Delimited Codec = delimitedCodec{}
)

// CodecByName resolves a configuration value to a codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", Binary.Name():
		return Binary, nil
	case Delimited.Name():
		return Delimited, nil
	default:
		return nil, fmt.Errorf("unknown frame codec %q (want %q or %q)", name, Binary.Name(), Delimited.Name())
	}
}

// Write writes one complete frame: header, then payload. A nil or empty
// payload produces a valid zero-length frame.
func Write(w io.Writer, c Codec, payload []byte) error {
	if err := c.WriteHeader(w, len(payload)); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// Read reads one complete frame and returns its payload. A zero-length
// frame returns an empty (non-nil) slice. io.EOF is returned only at a
// clean frame boundary.
func Read(r io.Reader, c Codec) ([]byte, error) {
	length, err := c.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload (%d bytes): %w", length, err)
	}
	return payload, nil
}

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) WriteHeader(w io.Writer, length int) error {
	var header [8]byte
	binary.NativeEndian.PutUint64(header[:], uint64(length))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	return nil
}

func (binaryCodec) ReadHeader(r io.Reader) (int, error) {
	var header [8]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("reading frame header: %w", err)
	}
	length := binary.NativeEndian.Uint64(header[:])
	if length > MaxPayload {
		return 0, fmt.Errorf("frame declares %d bytes, exceeds limit of %d", length, MaxPayload)
	}
	return int(length), nil
}

type delimitedCodec struct{}

func (delimitedCodec) Name() string { return "delimited" }

func (delimitedCodec) WriteHeader(w io.Writer, length int) error {
	if _, err := fmt.Fprintf(w, "%d:", length); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	return nil
}

func (delimitedCodec) ReadHeader(r io.Reader) (int, error) {
	// MaxPayload fits in 10 decimal digits.
	const maxDigits = 10

	var length int
	buf := make([]byte, 1)
	for i := 0; ; i++ {
		n, err := r.Read(buf)
		if n == 0 {
			if err == io.EOF && i == 0 {
				return 0, io.EOF
			}
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("reading frame header: %w", err)
		}
		b := buf[0]
		if b == ':' {
			if i == 0 {
				return 0, fmt.Errorf("frame header has no digits before delimiter")
			}
			return length, nil
		}
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("frame header contains non-digit byte %q", b)
		}
		if i >= maxDigits {
			return 0, fmt.Errorf("frame header longer than %d digits", maxDigits)
		}
		length = length*10 + int(b-'0')
		if length > MaxPayload {
			return 0, fmt.Errorf("frame declares %d bytes, exceeds limit of %d", length, MaxPayload)
		}
	}
}
