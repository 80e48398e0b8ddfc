package api

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// wsConn carries the line protocol over a WebSocket. Every text frame
// from the peer is one line; every write is sent as one text frame.
type wsConn struct {
	ws      *websocket.Conn
	pending bytes.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for c.pending.Len() == 0 {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return 0, io.EOF
			}
			return 0, err
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\n')
		}
		c.pending.Reset(data)
	}

	return c.pending.Read(p)
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
		Error: func(w http.ResponseWriter, _ *http.Request, status int, reason error) {
			errResp := NewApiError(status, reason)
			s.writeJson(w, errResp.StatusCode, errResp)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.cs.ServeConn(r.Context(), newWSConn(conn))
}
