/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/acronis/go-quotakit/log"
)

// Server serves the diagnostics router.
type Server struct {
	HTTPServer      *http.Server
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new Server for the given handler (usually created by NewRouter).
func NewServer(cfg *Config, handler http.Handler, logger log.FieldLogger) *Server {
	shutdownTimeout := time.Duration(cfg.ShutdownTimeout)
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Logger:          log.NewComponentLogger(logger, "diag"),
		ShutdownTimeout: shutdownTimeout,
	}
}

// Listen opens the listening socket. It's called by Start if it has not been called before.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the address the server listens on (nil before Listen).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start starts the server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *Server) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	logger := s.Logger.With(log.String("address", s.HTTPServer.Addr))
	if err := s.Listen(); err != nil {
		logger.Error("diagnostics HTTP server error", log.Error(err))
		fatalError <- err
		return
	}

	logger.Info("starting diagnostics HTTP server...", log.String("listen_address", s.Addr().String()))
	if err := s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("diagnostics HTTP server closed")
			return
		}
		logger.Error("diagnostics HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops the server (gracefully or not).
func (s *Server) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing diagnostics HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("diagnostics HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down diagnostics HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("diagnostics HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("diagnostics HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *Server) waitDone() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done // Wait for the listener to be closed.
	}
}
