package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/auth"
	"github.com/ineyio/chatgate/billing"
	"github.com/ineyio/chatgate/httpapi"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func serve(ctx context.Context, cfg chatgate.Config, cmd *cobra.Command) error {
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := ensureSchema(ctx, store); err != nil {
		return err
	}

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	mp, shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	m, err := newMeter(logger, mp)
	if err != nil {
		return err
	}

	gate, err := chatgate.NewGate(store, store, provider,
		chatgate.WithLimits(cfg.Limits),
		chatgate.WithPricing(cfg.Pricing),
		chatgate.WithModel(cfg.Provider.Model),
		chatgate.WithMeter(m),
		chatgate.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	validator, err := auth.NewValidator(cfg.Auth)
	if err != nil {
		return err
	}

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if cfg.Billing.SecretKey != "" {
		api, err := billing.NewClient(cfg.Billing.SecretKey, nil)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithCheckout(billing.NewCheckout(api, cfg.Billing)))
	}
	if cfg.Billing.WebhookSecret != "" {
		opts = append(opts, httpapi.WithWebhook(
			billing.NewWebhookHandler(store, cfg.Billing.WebhookSecret, billing.WithLogger(logger)),
		))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.New(gate, validator, opts...).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "provider", provider.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
