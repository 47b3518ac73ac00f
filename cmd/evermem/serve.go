package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	debughttp "github.com/evermem/evermem/internal/api/http"
	"github.com/evermem/evermem/internal/config"
	"github.com/evermem/evermem/internal/embeddings"
	"github.com/evermem/evermem/internal/factory"
	"github.com/evermem/evermem/internal/maintenance"
	"github.com/evermem/evermem/internal/memory"
	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/platform/logger"
	"github.com/evermem/evermem/internal/tools"
	"github.com/evermem/evermem/internal/vectorindex"
)

// subsystem bundles everything the memory tools need. A nil subsystem means
// degraded mode: housekeeping tools only.
type subsystem struct {
	svc  *memory.Service
	meta metastore.Store
	idx  vectorindex.Index
	emb  embeddings.Provider
	wrk  *maintenance.Worker
}

func runServe() error {
	log := logger.NewWithLevel("evermem", logLevelFlag)

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}
	if mcpTransportFlag != "" {
		cfg.MCPTransport = mcpTransportFlag
		if err := cfg.ResolveDefaults(); err != nil {
			log.Error().Err(err).Msg("invalid transport override")
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup failures here disable the memory subsystem, never the process.
	sub := buildSubsystem(ctx, cfg, log)

	var svc *memory.Service
	if sub != nil {
		svc = sub.svc
		defer func() {
			if err := sub.meta.Close(); err != nil {
				log.Error().Err(err).Msg("metadata store close failed")
			}
		}()
	}

	mcpSrv, err := tools.NewServer(cfg, svc, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build tool server")
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serveMCP(ctx, cfg, mcpSrv, log) })
	g.Go(func() error { return serveDebugHTTP(ctx, cfg, sub, log) })
	if sub != nil {
		g.Go(func() error {
			if err := sub.wrk.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server exited with error")
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

// buildSubsystem wires provider, index, store, service and maintenance
// worker. Any failure is logged as a diagnostic and reported as nil so the
// housekeeping tools keep running.
func buildSubsystem(ctx context.Context, cfg *config.Config, log zerolog.Logger) *subsystem {
	emb, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("memory subsystem disabled: embedding provider init failed")
		return nil
	}

	idx, err := factory.NewVectorIndex(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("memory subsystem disabled: vector index init failed")
		return nil
	}

	meta, err := factory.NewMetaStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("memory subsystem disabled: metadata store init failed")
		return nil
	}

	svc := memory.NewService(emb, idx, meta, log)
	wrk := maintenance.NewWorker(meta, idx, maintenance.Config{
		CleanupInterval: cfg.CleanupInterval,
		DecayInterval:   cfg.DecayInterval,
		MinImportance:   cfg.MinImportance,
		StaleMaxAccess:  cfg.StaleMaxAccess,
		DecayFactor:     cfg.DecayFactor,
		DecayMinAge:     cfg.DecayMinAge(),
	}, log)

	return &subsystem{svc: svc, meta: meta, idx: idx, emb: emb, wrk: wrk}
}

// serveMCP runs the tool server on the configured transport until ctx is
// canceled.
func serveMCP(ctx context.Context, cfg *config.Config, s *mcpserver.MCPServer, log zerolog.Logger) error {
	if cfg.MCPTransport == "stdio" {
		log.Info().Msg("tool server starting (stdio transport)")
		stdio := mcpserver.NewStdioServer(s)
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	log.Info().Str("addr", cfg.GetMCPAddr()).Msg("tool server starting (streamable HTTP transport)")
	streamSrv := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithEndpointPath("/mcp"))
	srv := &http.Server{
		Addr:        cfg.GetMCPAddr(),
		Handler:     streamSrv,
		ReadTimeout: 5 * time.Second,
		// WriteTimeout stays zero: SSE streams have no deadline.
		IdleTimeout: 120 * time.Second,
	}
	return serveUntilCanceled(ctx, srv, log)
}

// serveDebugHTTP runs health, stats and metrics endpoints until ctx is
// canceled. In degraded mode the stats route is absent and /healthz reports
// only what exists.
func serveDebugHTTP(ctx context.Context, cfg *config.Config, sub *subsystem, log zerolog.Logger) error {
	var health *debughttp.HealthHandler
	var stats *debughttp.StatsHandler
	if sub != nil {
		health = debughttp.NewHealthHandler(sub.meta, sub.idx, sub.emb)
		stats = debughttp.NewStatsHandler(sub.svc)
	} else {
		health = debughttp.NewHealthHandler(nil, nil, nil)
	}

	srv := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      debughttp.NewRouter(health, stats),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Str("addr", cfg.GetHTTPAddr()).Msg("debug HTTP server starting")
	return serveUntilCanceled(ctx, srv, log)
}

func serveUntilCanceled(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("server forced to shutdown")
		}
		return ctx.Err()
	}
}
