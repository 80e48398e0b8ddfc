// Package api serves the operations HTTP endpoints: runtime stats and a
// WebSocket transport for the chat protocol.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-linechat/internal/config"
	"github.com/npezzotti/go-linechat/internal/server"
)

type Server struct {
	log            *log.Logger
	srv            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
}

// NewServer adds the WebSocket route to mux, which is expected to already
// carry the stats handler, and wraps it with CORS, request logging and
// panic recovery.
func NewServer(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, cfg *config.Config) *Server {
	s := &Server{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Printf("starting HTTP server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Println("write json:", err)
	}
}
