package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Astemirdum/library-circulation/circulation/config"
)

type Server struct {
	httpServer *http.Server
}

// NewServer builds an HTTP server whose request contexts derive from ctx, so
// cancelling ctx ends long-lived responses such as availability streams.
func NewServer(ctx context.Context, cfg config.HTTPServer, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:           net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: 1 << 20,
			BaseContext:    func(net.Listener) context.Context { return ctx },
		},
	}
}

// Run blocks until the server is stopped.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until the server is stopped.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
