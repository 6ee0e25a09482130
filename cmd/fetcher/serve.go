package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"wayback-fetcher/internal/config"
	apphttp "wayback-fetcher/internal/http"
	"wayback-fetcher/internal/metrics"
)

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	bindFlags(cmd, map[string]string{"addr": "server.addr"})
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg)

	db, runs, err := openLedger(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Warnf("storage disabled: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	m := metrics.New(nil)
	if err := m.Register(metrics.NewLedgerCollector(runs)); err != nil {
		return fmt.Errorf("register ledger metrics: %w", err)
	}
	handler := apphttp.NewHandler(runs, store, cfg.Storage.Bucket, m.Handler())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
	return nil
}
