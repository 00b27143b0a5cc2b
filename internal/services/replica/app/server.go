// Package server hosts a replica service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
	httpapi "github.com/datarivers-io/alohomora/internal/services/replica/api/http"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage/sqlite"
	"github.com/datarivers-io/alohomora/internal/services/replica/sync"
)

// Config holds replica server configuration.
type Config struct {
	Addr         string
	StoragePath  string
	AuthorityURL string
	GroupID      string
	ReplicaID    string
	SyncInterval time.Duration
}

// Server hosts the replica HTTP API over its SQLite mirror and keeps the
// mirror fresh through the sync engine.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	engine     *sync.Engine
}

// New creates a configured replica server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.AuthorityURL) == "" {
		return nil, fmt.Errorf("authority URL is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("group id is required")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := sqlite.Open(cfg.StoragePath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open replica store: %w", err)
	}

	engine := sync.New(sync.Config{
		Store:     store,
		Client:    sync.NewAuthorityClient(cfg.AuthorityURL, nil),
		ReplicaID: cfg.ReplicaID,
		GroupID:   cfg.GroupID,
		Interval:  cfg.SyncInterval,
	})

	mux := http.NewServeMux()
	httpapi.New(store, engine.Health, cfg.GroupID, nil).Register(mux)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:  store,
		engine: engine,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a replica server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the replica server and blocks until it stops or the context
// ends. The sync loop runs for the server's whole lifetime; while it fails,
// reads serve the last-known-good snapshot.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("replica listening on %s", s.Addr())

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go s.engine.Run(syncCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("replica shutdown: %v", err)
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

// Close releases the server's resources.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}
