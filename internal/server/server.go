package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/npezzotti/go-linechat/internal/accounts"
	"github.com/npezzotti/go-linechat/internal/history"
	"github.com/npezzotti/go-linechat/internal/stats"
)

type Options struct {
	// ReplayOnJoin replays a channel's history after every /join, not
	// only at session start.
	ReplayOnJoin bool
}

type ChatServer struct {
	log      *log.Logger
	accounts *accounts.Repository
	history  *history.History
	stats    stats.StatsProvider
	opts     Options

	clients      map[*Client]struct{}
	userMap      map[string]map[*Client]struct{}
	clientsLock  sync.RWMutex
	sessions     sync.WaitGroup
	shuttingDown bool
}

func NewChatServer(logger *log.Logger, accts *accounts.Repository, hist *history.History, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if accts == nil || hist == nil {
		return nil, errors.New("account repository and history are required")
	}

	for _, m := range []string{
		stats.ActiveSessions,
		stats.TotalSessions,
		stats.AuthFailures,
		stats.AccountsCreated,
		stats.MessagesPersisted,
		stats.WhispersSent,
	} {
		su.RegisterMetric(m)
	}

	return &ChatServer{
		log:      logger,
		accounts: accts,
		history:  hist,
		stats:    su,
		opts:     opts,
		clients:  make(map[*Client]struct{}),
		userMap:  make(map[string]map[*Client]struct{}),
	}, nil
}

// Serve accepts connections on ln until ctx is cancelled or accepting
// fails permanently. Temporary accept errors are retried with
// exponential backoff.
func (cs *ChatServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	cs.log.Printf("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !isTemporary(err) {
				return fmt.Errorf("accept: %w", err)
			}

			wait := b.NextBackOff()
			cs.log.Printf("accept: %v; retrying in %v", err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		b.Reset()

		go cs.ServeConn(ctx, conn)
	}
}

// ServeConn runs one session on conn and returns when it ends. The
// connection is closed on return.
func (cs *ChatServer) ServeConn(ctx context.Context, conn Conn) {
	c := NewClient(conn, cs.log)
	if !cs.addClient(c) {
		conn.Close()
		return
	}
	defer cs.sessions.Done()

	go c.Write()
	defer func() {
		c.Close()
		cs.removeClient(c)
	}()

	cs.stats.Incr(stats.TotalSessions)
	cs.stats.Incr(stats.ActiveSessions)
	defer cs.stats.Decr(stats.ActiveSessions)

	cs.log.Printf("[%s] connection from %s", c.id, conn.RemoteAddr())

	err := newSession(cs, c).run(ctx)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		cs.log.Printf("[%s] client disconnected", c.id)
	case isAuthError(err), errors.Is(err, accounts.ErrAccountExists):
		cs.log.Printf("[%s] authentication ended: %v", c.id, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		cs.log.Printf("[%s] connection closed", c.id)
	default:
		cs.log.Printf("[%s] session error: %v", c.id, err)
	}
}

// Shutdown closes every connection and waits for their sessions to end.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	cs.shuttingDown = true
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	cs.log.Printf("closing %d connections", len(clients))
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		cs.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

func (cs *ChatServer) addClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.shuttingDown {
		return false
	}
	cs.sessions.Add(1)
	cs.clients[c] = struct{}{}
	return true
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) addUserClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.userMap[c.user.Username] == nil {
		cs.userMap[c.user.Username] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Username][c] = struct{}{}
}

func (cs *ChatServer) removeUserClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if userClients, ok := cs.userMap[c.user.Username]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Username)
		}
	}
}

// deliverToUser queues line on every session of username and returns how
// many accepted it.
func (cs *ChatServer) deliverToUser(username string, line []byte) int {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	n := 0
	for c := range cs.userMap[username] {
		if c.queueMessage(line) {
			n++
		}
	}
	return n
}

// Online reports how many sessions username currently has.
func (cs *ChatServer) Online(username string) int {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()
	return len(cs.userMap[username])
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}
