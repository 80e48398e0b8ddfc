package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/npezzotti/go-linechat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	sendBufferSize = 256
	maxLineSize    = 64 * 1024
)

// Conn is a bidirectional byte stream carrying one client. net.Conn
// satisfies it, as does the WebSocket adapter in package api.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

type outbound struct {
	data []byte
	// nil for fire-and-forget pushes
	result chan error
}

// Client owns one connection. Only the Write goroutine touches the write
// side; everyone else goes through WriteLine or queueMessage.
type Client struct {
	id     string
	conn   Conn
	reader *bufio.Reader
	log    *log.Logger
	user   types.UserAccount
	send   chan *outbound
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	errLock   sync.Mutex
	err       error
}

func NewClient(conn Conn, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = conn.RemoteAddr().String()
	}

	return &Client{
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		log:    l,
		send:   make(chan *outbound, sendBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Write drains the send queue until the client is closed or a write
// fails. The connection is closed when it returns.
func (c *Client) Write() {
	defer func() {
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case out := <-c.send:
			_, err := c.conn.Write(out.data)
			if err != nil {
				err = &IOError{Op: "write", Err: err}
				c.setErr(err)
			}
			if out.result != nil {
				out.result <- err
			}
			if err != nil {
				c.log.Printf("[%s] %v", c.id, err)
				return
			}
		case <-c.stop:
			return
		}
	}
}

// WriteLine writes line to the connection and waits for the result.
func (c *Client) WriteLine(ctx context.Context, line []byte) error {
	out := &outbound{data: line, result: make(chan error, 1)}

	select {
	case c.send <- out:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-c.done:
		select {
		case err := <-out.result:
			return err
		default:
			return c.closedErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) writeString(ctx context.Context, s string) error {
	return c.WriteLine(ctx, []byte(s))
}

// queueMessage pushes line without waiting for it to be written. It
// returns false if the client is gone or its queue is full.
func (c *Client) queueMessage(line []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- &outbound{data: line}:
	default:
		c.log.Printf("[%s] failed to queue message, send queue is full", c.id)
		return false
	}

	return true
}

// ReadLine returns the next line including its terminator. A final line
// without a terminator is returned as is; io.EOF follows it.
func (c *Client) ReadLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := c.reader.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > maxLineSize {
			return nil, &IOError{Op: "read", Err: ErrLineTooLong}
		}

		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, &IOError{Op: "read", Err: err}
		}
	}
}

// Close stops the writer and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// unblocks a writer stuck on a stalled peer
		c.conn.Close()
	})
	<-c.done
}

func (c *Client) setErr(err error) {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) closedErr() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	if c.err != nil {
		return c.err
	}
	return &IOError{Op: "write", Err: net.ErrClosed}
}
