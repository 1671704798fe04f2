package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/chromemdb"
	"document-qa/internal/models"
	"document-qa/internal/server"
	"document-qa/internal/session"
	"document-qa/internal/tracer"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var snapshot string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP question-answering service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), snapshot)
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Preload the default session from an index exported with 'index'")
	return cmd
}

func runServe(ctx context.Context, snapshot string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracer := tracer.InitTracer(ctx, &cfg.Tracing)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn().Err(err).Msg("Error shutting down tracer")
		}
	}()

	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if snapshot != "" {
		m, err := chromemdb.NewIndexer(b.embedder, cfg.RAG.EncryptionKey).Load(snapshot, models.DefaultSessionID)
		if err != nil {
			return err
		}
		b.svc.Install(models.DefaultSessionID, m, session.Info{Filename: snapshot, Chunks: m.Count(), IndexedAt: time.Now()})
		log.Info().Str("snapshot", snapshot).Int("documents", m.Count()).Msg("Loaded snapshot into default session")
	}

	limiter, err := newLimiter(&cfg.RateLimit)
	if err != nil {
		return err
	}

	srv := server.New(&cfg.Server, b.svc, limiter)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
