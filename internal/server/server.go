package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Server struct {
	srv *http.Server
}

// New creates a server listening on port. Every request context derives
// from baseCtx, so cancelling it stops source resolution a request started.
func New(baseCtx context.Context, port string, svc Services) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    net.JoinHostPort("", port),
			Handler: NewHandler(svc),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Resolve walks a whole source chain.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
