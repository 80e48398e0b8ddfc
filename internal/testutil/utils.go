package testutil

import (
	"bufio"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// LineClient drives the client end of a line protocol connection.
type LineClient struct {
	t    *testing.T
	Conn net.Conn
	r    *bufio.Reader
}

func NewLineClient(t *testing.T, conn net.Conn) *LineClient {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &LineClient{t: t, Conn: conn, r: bufio.NewReader(conn)}
}

// Expect reads exactly len(want) bytes and compares them with want.
func (lc *LineClient) Expect(want string) {
	lc.t.Helper()

	buf := make([]byte, len(want))
	_, err := io.ReadFull(lc.r, buf)
	require.NoError(lc.t, err, "expected to read %q", want)
	require.Equal(lc.t, want, string(buf))
}

// ReadN reads exactly n bytes.
func (lc *LineClient) ReadN(n int) string {
	lc.t.Helper()

	buf := make([]byte, n)
	_, err := io.ReadFull(lc.r, buf)
	require.NoError(lc.t, err, "expected %d bytes from the server", n)
	return string(buf)
}

func (lc *LineClient) ReadLine() string {
	lc.t.Helper()

	line, err := lc.r.ReadString('\n')
	require.NoError(lc.t, err, "expected a line from the server")
	return line
}

func (lc *LineClient) Send(line string) {
	lc.t.Helper()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := lc.Conn.Write([]byte(line))
	require.NoError(lc.t, err, "expected to write %q", line)
}

// ExpectClosed asserts that the server closed the connection.
func (lc *LineClient) ExpectClosed() {
	lc.t.Helper()

	_, err := lc.r.ReadByte()
	require.ErrorIs(lc.t, err, io.EOF, "expected the connection to be closed")
}
