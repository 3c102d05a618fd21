package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/metrics"
	"github.com/drywest/timsusofun/internal/notify"
	"github.com/drywest/timsusofun/internal/server"
	"github.com/drywest/timsusofun/internal/sse"
	"github.com/drywest/timsusofun/internal/stream"
	"github.com/drywest/timsusofun/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Bool("wsEnabled", cfg.WS.Enabled),
		zap.Bool("sseEnabled", cfg.SSE.Enabled),
		zap.Bool("metricsEnabled", cfg.Metrics.Enabled),
		zap.Bool("notifyEnabled", cfg.Notify.Enabled),
	)

	var routes server.Routes
	if cfg.Metrics.Enabled {
		metrics.Init()
		routes.Metrics = promhttp.Handler()
	}

	encoder, err := stream.NewEncoder()
	if err != nil {
		return err
	}
	defer encoder.Close()

	notifier := notify.New(cfg.NotifierConfig(), logger)
	defer notifier.Close()

	resolver, chatClient := upstream()
	registry := stream.NewRegistry(resolver, chatClient, encoder, notifier, cfg.StreamOptions(), logger)

	var hub *ws.Hub
	var conns server.ConnCounter
	if cfg.WS.Enabled {
		hub = ws.NewHub("chat", logger)
		conns = hub
		routes.WS = ws.NewHandler(hub, registry, cfg.Fanout.SubscriberBuffer, server.OriginChecker(cfg.Server.AllowedOrigins), logger)
	}
	if cfg.SSE.Enabled {
		keepAlive := time.Duration(cfg.SSE.KeepAliveSec) * time.Second
		routes.SSE = sse.NewHandler(registry, cfg.Fanout.SubscriberBuffer, keepAlive, logger)
	}

	srv := server.NewServer(registry, conns, logger)
	router := server.NewRouter(srv, routes, cfg.Server.AllowedOrigins, logger)

	// No write timeout: subscriber connections are long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			registry.Close()
			return err
		}
	}

	logger.Info("shutting down server...")

	// Subscribers get a close reason before the listener goes away.
	registry.Close()
	if hub != nil {
		hub.Shutdown(stream.ReasonShutdown)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
