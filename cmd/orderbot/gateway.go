package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/channel"
	"orderbot/internal/config"
	"orderbot/internal/metrics"
	"orderbot/internal/storage"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the enabled channels and the HTTP server",
		Long: "Starts Telegram polling, the WhatsApp and JSON webhooks, /metrics and /healthz.\n" +
			"Press Ctrl+C to stop.",
		RunE: runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	stopDispatch := a.run(ctx)

	var whatsapp *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		whatsapp = channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config:        cfg.Channels.WhatsApp,
			MaxMediaBytes: cfg.Images.MaxBytes,
			Logger:        logger,
		})
		if err := whatsapp.Start(ctx, a.bus); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
	}

	var webhook *channel.Webhook
	if cfg.Channels.Webhook.Enabled {
		webhook = channel.NewWebhook(channel.WebhookConfig{
			Path:      cfg.Channels.Webhook.Path,
			Secret:    cfg.Channels.Webhook.Secret,
			Processor: a.dispatcher,
			Logger:    logger,
		})
		if err := webhook.Start(ctx, a.bus); err != nil {
			return fmt.Errorf("webhook channel: %w", err)
		}
	}

	if cfg.Channels.Telegram.Enabled {
		telegram := channel.NewTelegram(channel.TelegramConfig{
			Token:         cfg.Channels.Telegram.Token,
			AllowFrom:     cfg.Channels.Telegram.AllowFrom,
			MaxMediaBytes: cfg.Images.MaxBytes,
			Logger:        logger,
		})
		go func() {
			if err := telegram.Start(ctx, a.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           gatewayMux(cfg, a.store, whatsapp, webhook),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("gateway started. Press Ctrl+C to stop.", "addr", server.Addr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("http server failed", "err", runErr)
	}
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		stopDispatch()
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = errors.New("shutdown timed out")
		}
	}
	return runErr
}

// gatewayMux mounts the enabled HTTP surfaces. Nil channels are skipped.
func gatewayMux(cfg *config.Config, store *storage.Store, whatsapp *channel.WhatsApp, webhook *channel.Webhook) *http.ServeMux {
	mux := http.NewServeMux()
	if whatsapp != nil {
		path := cfg.Channels.WhatsApp.WebhookPath
		if path == "" {
			path = "/webhook/whatsapp"
		}
		mux.Handle(path, whatsapp.Handler())
	}
	if webhook != nil {
		mux.Handle(webhook.Path(), webhook.Handler())
	}
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return mux
}
