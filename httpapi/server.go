package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goliatone/go-mailevents/core"
)

type Server struct {
	httpServer *http.Server
	logger     core.Logger
}

func NewServer(address string, handler http.Handler, logger core.Logger) *Server {
	if address == "" {
		address = core.DefaultHTTPAddress
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("http server listening", "address", s.httpServer.Addr)
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
