package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("héllo"),
		{0x00, 0xff, 0x00, 0x10},
		[]byte("line one\nline two\n"),
		bytes.Repeat([]byte("x"), 100_000),
	}

	for _, codec := range []Codec{Binary, Delimited} {
		var buf bytes.Buffer
		for _, payload := range payloads {
			require.NoError(t, Write(&buf, codec, payload))
		}

		wire := append([]byte(nil), buf.Bytes()...)

		var reencoded bytes.Buffer
		for _, want := range payloads {
			got, err := Read(&buf, codec)
			require.NoError(t, err)
			require.Equal(t, want, got, "codec %s", codec.Name())
			require.NoError(t, Write(&reencoded, codec, got))
		}

		// Decoding and re-encoding reproduces the identical wire bytes.
		require.Equal(t, wire, reencoded.Bytes(), "codec %s", codec.Name())

		_, err := Read(&buf, codec)
		require.Equal(t, io.EOF, err)
	}
}

func TestWrite_BinaryHeaderIsNativeOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Binary, []byte("hello")))

	wire := buf.Bytes()
	require.Len(t, wire, 8+5)
	require.Equal(t, uint64(5), binary.NativeEndian.Uint64(wire[:8]))
	require.Equal(t, "hello", string(wire[8:]))
}

func TestWrite_DelimitedHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Delimited, []byte("hello")))
	require.Equal(t, "5:hello", buf.String())
}

func TestWrite_MultiByteCharactersCountBytes(t *testing.T) {
	// "héllo" is 5 characters but 6 bytes.
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Delimited, []byte("héllo")))
	require.True(t, strings.HasPrefix(buf.String(), "6:"))
}

func TestWrite_ZeroLengthFrame(t *testing.T) {
	for _, codec := range []Codec{Binary, Delimited} {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, codec, nil))
		require.NoError(t, Write(&buf, codec, []byte{}))

		for i := 0; i < 2; i++ {
			payload, err := Read(&buf, codec)
			require.NoError(t, err)
			require.Empty(t, payload)
		}

		_, err := Read(&buf, codec)
		require.Equal(t, io.EOF, err)
	}
}

func TestRead_TruncatedPayload(t *testing.T) {
	for _, codec := range []Codec{Binary, Delimited} {
		var buf bytes.Buffer
		require.NoError(t, codec.WriteHeader(&buf, 10))
		buf.WriteString("short")

		_, err := Read(&buf, codec)
		require.Error(t, err, "codec %s", codec.Name())
		require.NotEqual(t, io.EOF, err)
	}
}

func TestRead_TruncatedHeader(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x05, 0x00}), Binary)
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)

	_, err = Read(strings.NewReader("12"), Delimited)
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
}

func TestRead_DelimitedRejectsBadHeader(t *testing.T) {
	_, err := Read(strings.NewReader(":payload"), Delimited)
	require.Error(t, err)

	_, err = Read(strings.NewReader("1a:payload"), Delimited)
	require.Error(t, err)

	_, err = Read(strings.NewReader("99999999999:x"), Delimited)
	require.Error(t, err)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("binary")
	require.NoError(t, err)
	require.Equal(t, Binary, c)

	c, err = CodecByName("delimited")
	require.NoError(t, err)
	require.Equal(t, Delimited, c)

	// Empty selects the default.
	c, err = CodecByName("")
	require.NoError(t, err)
	require.Equal(t, Binary, c)

	_, err = CodecByName("json")
	require.Error(t, err)
}
