// Package server hosts the authority service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
	httpapi "github.com/datarivers-io/alohomora/internal/services/authority/api/http"
	"github.com/datarivers-io/alohomora/internal/services/authority/ledger"
	"github.com/datarivers-io/alohomora/internal/services/authority/notify"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage/sqlite"
)

// Config holds authority server configuration.
type Config struct {
	Addr         string
	StoragePath  string
	AdminKey     string
	ReapInterval time.Duration // zero disables the session reaper
}

// Server hosts the authority HTTP API over its SQLite store.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *sqlite.Store
	service      *ledger.Service
	reapInterval time.Duration
}

// New creates a configured authority server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := sqlite.Open(cfg.StoragePath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open authority store: %w", err)
	}

	service := ledger.New(ledger.Config{
		Store:    store,
		Notifier: notify.New(store, nil),
		AdminKey: cfg.AdminKey,
	})

	mux := http.NewServeMux()
	httpapi.New(service, nil).Register(mux)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:        store,
		service:      service,
		reapInterval: cfg.ReapInterval,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an authority server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the authority server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("authority listening on %s", s.Addr())

	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	if s.reapInterval > 0 {
		go s.reapLoop(reapCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("authority shutdown: %v", err)
		}
		<-errCh
		return s.Close()
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// reapLoop deletes expired sessions on a timer.
func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.service.ReapExpiredSessions(ctx)
			if err != nil {
				log.Printf("reap sessions: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("reaped %d expired sessions", deleted)
			}
		}
	}
}

// Close releases the server's resources.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}
