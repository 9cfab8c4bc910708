package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-authlens/internal/api"
	"github.com/miradorstack/mirador-authlens/internal/metrics"
	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/telemetry"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analytics HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
			logger.Info("starting mirador-authlens",
				slog.String("address", cfg.Server.Address),
				slog.String("project", cfg.Warehouse.ProjectID),
				slog.String("dataset", cfg.Warehouse.Dataset))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					logger.Warn("telemetry shutdown", slog.Any("error", err))
				}
			}()

			st, err := buildStack(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			handler := api.NewRouter(&api.Handler{
				Service:    st.service,
				Logger:     logger,
				Models:     models.DefaultModelCatalog(),
				Revalidate: cfg.Cache.Revalidate,
			}, cfg.Server.RequestTimeout)
			httpServer := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
				IdleTimeout:       60 * time.Second,
			}

			var admin *api.AdminServer
			if cfg.Server.AdminAddress != "" {
				admin, err = api.NewAdminServer(cfg.Server.AdminAddress)
				if err != nil {
					return err
				}
				go func() {
					logger.Info("admin gRPC server listening", slog.String("address", admin.Address()))
					if err := admin.Start(); err != nil {
						logger.Error("admin gRPC server exited", slog.Any("error", err))
						stop()
					}
				}()
			}

			var metricsServer *http.Server
			if cfg.Server.MetricsAddress != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{
					Addr:         cfg.Server.MetricsAddress,
					Handler:      mux,
					ReadTimeout:  5 * time.Second,
					WriteTimeout: 15 * time.Second,
				}
				go func() {
					logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server exited", slog.Any("error", err))
						stop()
					}
				}()
			}

			go func() {
				logger.Info("analytics API listening", slog.String("address", cfg.Server.Address))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("analytics API exited", slog.Any("error", err))
					stop()
				}
			}()
			if admin != nil {
				admin.SetServing(true)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
			defer cancel()
			if admin != nil {
				admin.SetServing(false)
			}
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("analytics API shutdown", slog.Any("error", err))
			}
			if admin != nil {
				admin.Shutdown(shutdownCtx)
			}
			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics server shutdown", slog.Any("error", err))
				}
			}

			logger.Info("mirador-authlens stopped", slog.Duration("p95", st.service.LatencyP95()))
			return nil
		},
	}
}
