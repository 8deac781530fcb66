// Package frame defines the self-delimiting frame format used to carry one
// chunk's worth of captured output over a shared byte stream.
//
// # Frame Format
//
// # Overview
//
// Goals:
//
//  1. Preserve the exact output including binary data
//  2. Let a reader know exactly where one chunk's output ends, without
//     sentinel bytes that could collide with the payload
//  3. Make "no output" representable (a zero-length frame is valid)
//  4. Detect truncated frames instead of silently losing bytes
//
// # Format Specification
//
// Each frame consists of a length header immediately followed by exactly
// that many payload bytes:
//
//	header payload
//
// Two header encodings exist. A connection uses one encoding for its whole
// lifetime; they are not interchangeable on the wire.
//
// # Binary encoding (default)
//
// The header is a fixed-width 8-byte unsigned integer in native byte order.
// This matches what a harness reading with the platform's native word size
// expects on 64-bit systems.
//
// Example: the payload "hello" is framed as
//
//	0x05 0x00 0x00 0x00 0x00 0x00 0x00 0x00 h e l l o    (little-endian)
//
// # Delimited encoding
//
// The header is the decimal ASCII representation of the payload length
// followed by a single ':' byte. The delimiter cannot appear inside the
// digits, so the header is unambiguous.
//
// Example: the payload "hello" is framed as
//
//	5:hello
//
// # Binary Data Support
//
// The payload is raw bytes. Null bytes, invalid UTF-8, and embedded
// newlines all round-trip unchanged; the declared length is always a byte
// count, never a character count.
package frame
