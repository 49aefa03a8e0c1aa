// Package server hosts the relay's HTTP surface: the OpenAI-compatible
// chat completion API (blocking and SSE), the abort endpoint, and the
// raw passthrough stream.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/config"
	"github.com/genai-os/relay/pkg/dispatch"
	"github.com/genai-os/relay/pkg/history"
	"github.com/genai-os/relay/pkg/registry"
	"github.com/genai-os/relay/pkg/relay"
)

// Deps bundles the collaborators the server wires together.
type Deps struct {
	Transport  channel.Transport
	Registry   registry.Registry
	Store      history.Store
	Dispatcher dispatch.Dispatcher
	Aborter    dispatch.Aborter
	Resolver   UserResolver
}

// Server owns the HTTP handlers and the relay they drive.
type Server struct {
	// baseCtx outlives individual requests: relays run on it so a client
	// disconnect never cancels a generation mid-flight.
	baseCtx  context.Context
	settings config.ServerSettings
	models   map[string]struct{}

	deps  Deps
	relay *relay.Relay

	mux    *http.ServeMux
	server *http.Server
}

func New(ctx context.Context, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Transport == nil || deps.Registry == nil || deps.Store == nil {
		return nil, errors.New("server: transport, registry and store are required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("server: user resolver is required")
	}

	r, err := relay.New(deps.Transport, deps.Registry, deps.Store)
	if err != nil {
		return nil, err
	}

	var models map[string]struct{}
	if len(cfg.Models.Codes) > 0 {
		models = make(map[string]struct{}, len(cfg.Models.Codes))
		for _, code := range cfg.Models.Codes {
			models[code] = struct{}{}
		}
	}

	s := &Server{
		baseCtx:  ctx,
		settings: cfg.Server,
		models:   models,
		deps:     deps,
		relay:    r,
		mux:      http.NewServeMux(),
	}
	s.registerHandlers()

	s.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams stay open for the lifetime of a generation; no write
		// deadline.
		IdleTimeout: 120 * time.Second,
	}
	return s, nil
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("/v1/chat/completions", s.handleCompletions)
	s.mux.HandleFunc("/v1/chat/abort", s.handleAbort)
	s.mux.HandleFunc("/v1/chat/stream", s.handleRawStream)
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.settings.Addr).Msg("starting relay server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		srvCancel()
		return nil
	})

	return eg.Wait()
}

func (s *Server) modelExists(code string) bool {
	if s.models == nil {
		return true
	}
	_, ok := s.models[code]
	return ok
}
