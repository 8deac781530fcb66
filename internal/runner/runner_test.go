package runner

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"framecap/pkg/frame"
)

// controlFor frames each script into one control stream, ending with EOF.
func controlFor(t *testing.T, scripts ...string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	for _, script := range scripts {
		require.NoError(t, frame.Write(&buf, frame.Binary, []byte(script)))
	}
	return &buf
}

func readFrame(t *testing.T, r io.Reader) []byte {
	t.Helper()
	payload, err := frame.Read(r, frame.Binary)
	require.NoError(t, err)
	return payload
}

func requireEOF(t *testing.T, r io.Reader) {
	t.Helper()
	_, err := frame.Read(r, frame.Binary)
	require.Equal(t, io.EOF, err)
}

func TestRun_SingleChunk(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "echo hello"), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Equal(t, "hello\n", string(readFrame(t, &primary)))
	require.Empty(t, readFrame(t, &errOut))
	requireEOF(t, &primary)
	requireEOF(t, &errOut)
}

func TestRun_MultipleChunksResetBetween(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "echo one", "echo two"), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Equal(t, "one\n", string(readFrame(t, &primary)))
	require.Equal(t, "two\n", string(readFrame(t, &primary)))
	require.Empty(t, readFrame(t, &errOut))
	require.Empty(t, readFrame(t, &errOut))
}

func TestRun_NoOutputChunk(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "true"), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Empty(t, readFrame(t, &primary))
	require.Empty(t, readFrame(t, &errOut))
}

func TestRun_EmptySession(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Zero(t, primary.Len())
	require.Zero(t, errOut.Len())
}

func TestRun_MultipleWritesOneFrame(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "printf a; printf b"), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Equal(t, "ab", string(readFrame(t, &primary)))
	requireEOF(t, &primary)
}

func TestRun_StderrSeparatedWithExitTrailer(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "echo out; echo oops >&2; exit 3"), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Equal(t, "out\n", string(readFrame(t, &primary)))

	report := string(readFrame(t, &errOut))
	require.Contains(t, report, "oops\n")
	require.Contains(t, report, "command exited with status 3")
}

func TestRun_MultiByteOutput(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "printf 'héllo'"), &primary, &errOut, Options{})
	require.NoError(t, err)

	payload := readFrame(t, &primary)
	require.Len(t, payload, 6)
	require.Equal(t, "héllo", string(payload))
}

func TestRun_BinaryOutput(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, `printf 'a\0b'`), &primary, &errOut, Options{})
	require.NoError(t, err)

	require.Equal(t, []byte{'a', 0x00, 'b'}, readFrame(t, &primary))
}

func TestRun_DelimitedCodec(t *testing.T) {
	var control, primary, errOut bytes.Buffer
	require.NoError(t, frame.Write(&control, frame.Delimited, []byte("echo hi")))

	err := Run(&control, &primary, &errOut, Options{Codec: frame.Delimited})
	require.NoError(t, err)

	require.Equal(t, "3:hi\n", primary.String())
	require.Equal(t, "0:", errOut.String())
}

func TestRun_MissingShellReportedInFrame(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "echo hi"), &primary, &errOut, Options{Shell: "/nonexistent/shell"})
	require.NoError(t, err)

	require.Empty(t, readFrame(t, &primary))
	require.Contains(t, string(readFrame(t, &errOut)), "framecap:")
}

func TestRun_CorruptControlStream(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(strings.NewReader("garbage that is no frame"), &primary, &errOut, Options{})
	require.Error(t, err)
}

func TestRunChunk_PTYMergesOutput(t *testing.T) {
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "echo out; echo err >&2"), &primary, &errOut, Options{UsePTY: true})
	require.NoError(t, err)

	merged := string(readFrame(t, &primary))
	require.Contains(t, merged, "out")
	require.Contains(t, merged, "err")
	require.Empty(t, readFrame(t, &errOut))
}

func TestRunChunk_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	var primary, errOut bytes.Buffer
	err := Run(controlFor(t, "pwd"), &primary, &errOut, Options{Dir: dir})
	require.NoError(t, err)

	require.Contains(t, string(readFrame(t, &primary)), dir)
}
