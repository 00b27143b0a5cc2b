// Package server hosts a member app service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
	httpapi "github.com/datarivers-io/alohomora/internal/services/app/api/http"
	"github.com/datarivers-io/alohomora/internal/services/app/client"
	"github.com/datarivers-io/alohomora/internal/services/app/storage/sqlite"
	"github.com/datarivers-io/alohomora/internal/services/app/token"
)

// Config holds member app server configuration.
type Config struct {
	Addr         string
	StoragePath  string
	AuthorityURL string
	ReplicaURL   string // optional; empty sends inquiries to the authority
	SystemID     string
	SystemName   string
	TokenSecret  string
}

// Server hosts the member app HTTP API over its local SQLite store.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured member app server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.AuthorityURL) == "" {
		return nil, fmt.Errorf("authority URL is required")
	}

	minter, err := token.NewMinter([]byte(cfg.TokenSecret), cfg.SystemName, nil)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := sqlite.Open(cfg.StoragePath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open app store: %w", err)
	}

	mux := http.NewServeMux()
	httpapi.New(httpapi.Config{
		Store:      store,
		Authority:  client.NewAuthorityClient(cfg.AuthorityURL, nil),
		Inquirer:   client.NewInquirer(cfg.ReplicaURL, cfg.AuthorityURL, nil),
		Minter:     minter,
		SystemID:   cfg.SystemID,
		SystemName: cfg.SystemName,
	}).Register(mux)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store: store,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a member app server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the member app server and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("app listening on %s", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("app shutdown: %v", err)
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
