package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/job"
)

type Server struct {
	srv *http.Server
	hub *Hub
}

// New creates a server. The baseCtx is used as the base context for all
// incoming requests (via BaseContext).
func New(baseCtx context.Context, port string, jobSvc *job.Service, hub *Hub) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: newMux(jobSvc, hub),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		hub: hub,
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and drops websocket subscribers, which
// http.Server.Shutdown does not track.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}
