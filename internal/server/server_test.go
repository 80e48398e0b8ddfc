package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/npezzotti/go-linechat/internal/accounts"
	"github.com/npezzotti/go-linechat/internal/database"
	"github.com/npezzotti/go-linechat/internal/history"
	"github.com/npezzotti/go-linechat/internal/stats"
	"github.com/npezzotti/go-linechat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	cs       *ChatServer
	users    database.Store
	channels database.Store
	accounts *accounts.Repository
	history  *history.History
}

// newTestChatServer creates a ChatServer backed by in-memory stores unless
// channels is given.
func newTestChatServer(t *testing.T, opts Options, channels database.Store) *testEnv {
	t.Helper()

	users := database.NewMemoryStore()
	if channels == nil {
		channels = database.NewMemoryStore()
	}

	env := &testEnv{
		users:    users,
		channels: channels,
		accounts: accounts.NewRepository(users),
		history:  history.New(channels),
	}

	cs, err := NewChatServer(testutil.TestLogger(t), env.accounts, env.history, stats.NewPermissiveMock(), opts)
	require.NoError(t, err, "failed to create test ChatServer")
	env.cs = cs

	return env
}

// connect starts a session on one end of a pipe and returns the other.
func (env *testEnv) connect(t *testing.T) *testutil.LineClient {
	t.Helper()

	srv, cli := net.Pipe()
	done := make(chan struct{})
	go func() {
		env.cs.ServeConn(context.Background(), srv)
		close(done)
	}()

	t.Cleanup(func() {
		cli.Close()
		<-done
	})

	return testutil.NewLineClient(t, cli)
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return().Times(6)

	logger := testutil.TestLogger(t)
	repo := accounts.NewRepository(database.NewMemoryStore())
	hist := history.New(database.NewMemoryStore())

	cs, err := NewChatServer(logger, repo, hist, su, Options{ReplayOnJoin: true})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, repo, cs.accounts, "expected account repository to be set")
	assert.True(t, cs.opts.ReplayOnJoin, "expected options to be set")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.userMap, "expected userMap to be initialized")
}

func TestNewChatServerRequiresStores(t *testing.T) {
	_, err := NewChatServer(testutil.TestLogger(t), nil, nil, stats.NewPermissiveMock(), Options{})
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	env := newTestChatServer(t, Options{}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.cs.Serve(ctx, ln)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	lc := testutil.NewLineClient(t, conn)
	lc.Expect(promptUsername)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err, "expected Serve to return cleanly on cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, env.cs.Shutdown(shutdownCtx))
	lc.ExpectClosed()
}

type fakeListener struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (l *fakeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.errs[l.calls]
	l.calls++
	return nil, err
}

func (l *fakeListener) Close() error   { return nil }
func (l *fakeListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServeRetriesTemporaryErrors(t *testing.T) {
	env := newTestChatServer(t, Options{}, nil)

	permanent := errors.New("listener broken")
	ln := &fakeListener{errs: []error{
		&net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)},
		&net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.ECONNABORTED)},
		permanent,
	}}

	err := env.cs.Serve(context.Background(), ln)
	assert.ErrorIs(t, err, permanent, "expected permanent accept error to stop the server")
	assert.Equal(t, 3, ln.calls, "expected temporary errors to be retried")
}

func TestShutdownRejectsNewConnections(t *testing.T) {
	env := newTestChatServer(t, Options{}, nil)
	require.NoError(t, env.cs.Shutdown(context.Background()))

	srv, cli := net.Pipe()
	defer cli.Close()

	done := make(chan struct{})
	go func() {
		env.cs.ServeConn(context.Background(), srv)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected ServeConn to return immediately after shutdown")
	}

	lc := testutil.NewLineClient(t, cli)
	lc.ExpectClosed()
}

func TestShutdownTimeout(t *testing.T) {
	env := newTestChatServer(t, Options{}, nil)

	// a session that is registered but never finishes
	env.cs.sessions.Add(1)
	defer env.cs.sessions.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.cs.Shutdown(ctx), context.DeadlineExceeded)
}

func Test_isTemporary(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "emfile", err: os.NewSyscallError("accept", syscall.EMFILE), expected: true},
		{name: "connection aborted", err: &net.OpError{Op: "accept", Err: syscall.ECONNABORTED}, expected: true},
		{name: "timeout", err: &net.OpError{Op: "accept", Err: os.ErrDeadlineExceeded}, expected: true},
		{name: "closed", err: net.ErrClosed, expected: false},
		{name: "plain", err: errors.New("boom"), expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTemporary(tc.err))
		})
	}
}

func TestDeliverToUser(t *testing.T) {
	env := newTestChatServer(t, Options{}, nil)
	logger := testutil.TestLogger(t)

	srv, cli := net.Pipe()
	defer cli.Close()

	c := NewClient(srv, logger)
	c.user.Username = "bob"
	env.cs.addUserClient(c)
	assert.Equal(t, 1, env.cs.Online("bob"))

	assert.Equal(t, 1, env.cs.deliverToUser("bob", []byte("PM:{}\n")))
	assert.Len(t, c.send, 1, "expected line to be queued on bob's client")
	assert.Equal(t, 0, env.cs.deliverToUser("carol", []byte("PM:{}\n")))

	env.cs.removeUserClient(c)
	assert.Equal(t, 0, env.cs.Online("bob"))
	assert.Empty(t, env.cs.userMap, "expected empty user entries to be removed")
}
