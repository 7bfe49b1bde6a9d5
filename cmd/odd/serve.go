package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orderdeck/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/retention"
	"github.com/orderdeck/orderdeck/internal/server"
	"github.com/orderdeck/orderdeck/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orderdeck event distribution server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres (event log).
		log, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// Pick the bus backend. The default rides the same database via
		// LISTEN/NOTIFY; NATS is for deployments that already run it.
		var (
			publisher  events.Publisher
			subscriber events.Subscriber
		)
		switch cfg.Bus {
		case config.BusNATS:
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				log.Close()
				return err
			}
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				pub.Close()
				log.Close()
				return err
			}
			publisher, subscriber = pub, sub
			logger.Info("bus backend: nats", "url", cfg.NATSURL)
		default:
			publisher = events.NewPGPublisher(log.DB())
			subscriber = events.NewPGSubscriber(cfg.DatabaseURL, logger)
			logger.Info("bus backend: postgres listen/notify")
		}

		evsrv := server.New(log, publisher,
			server.WithKeepaliveInterval(cfg.KeepaliveInterval),
		)

		// Start the bus bridge (single subscription, self-healing).
		bridgeCtx, bridgeStop := context.WithCancel(context.Background())
		defer bridgeStop()
		if err := evsrv.StartBridge(bridgeCtx, subscriber); err != nil {
			publisher.Close()
			subscriber.Close()
			log.Close()
			return err
		}
		logger.Info("bus bridge started", "channels", len(events.Channels()))

		// Start the HTTP server.
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: evsrv.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start the retention sweeper.
		var sweeper *retention.Sweeper
		if cfg.RetentionWindow > 0 {
			var archiver retention.Archiver
			if cfg.ArchiveS3Bucket != "" {
				a, err := retention.NewS3Archiver(
					context.Background(),
					cfg.ArchiveS3Bucket,
					cfg.ArchiveS3Prefix,
					cfg.ArchiveS3Region,
					cfg.ArchiveS3Endpoint,
				)
				if err != nil {
					logger.Error("failed to create S3 archiver", "err", err)
				} else {
					archiver = a
					logger.Info("retention archive enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
				}
			}
			sweeper = retention.New(log, archiver, cfg.RetentionWindow, cfg.SweepInterval, logger)
			sweeper.Start()
			logger.Info("retention sweeper started", "window", cfg.RetentionWindow, "interval", cfg.SweepInterval)
		}

		logger.Info("orderdeck server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown: stop the sweeper, drain-close every stream so
		// clients get an explicit close, then stop the HTTP listener.
		if sweeper != nil {
			sweeper.Stop()
			logger.Info("retention sweeper stopped")
		}

		evsrv.Shutdown()
		logger.Info("streams drained")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := subscriber.Close(); err != nil {
			logger.Error("error closing subscriber", "err", err)
		}
		if err := log.Close(); err != nil {
			logger.Error("error closing event log", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
