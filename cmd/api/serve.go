package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/storefront/internal/api"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/ratelimit"
	"github.com/safar/storefront/internal/reconcile"
	"github.com/safar/storefront/internal/telemetry"
	"github.com/safar/storefront/internal/webhook"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout and webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.WithError(err).Warn("shutdown tracer")
		}
	}()

	st, closeStore, err := openBackend(ctx, &cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var rateLimit func(http.Handler) http.Handler
	if cfg.Redis.RateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, checkout rate limiting fails open until it recovers")
		}
		rateLimit = ratelimit.New(rdb, "checkout", cfg.Redis.RateLimit, cfg.Redis.RateWindow, log).Middleware
	}

	gateway := checkout.NewStripeGateway(cfg.Stripe, log)
	service := checkout.NewService(
		checkout.NewValidator(st, cfg.Checkout),
		checkout.NewBuilder(cfg.Checkout),
		gateway,
		log,
	)

	router := api.NewRouter(api.Dependencies{
		Checkout:     service,
		Verifier:     webhook.NewVerifier(cfg.Stripe.WebhookSecret),
		Reconciler:   reconcile.New(st, log),
		Orders:       st,
		RateLimit:    rateLimit,
		AdminToken:   cfg.Admin.Token,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		TrustProxy:   cfg.Server.TrustProxy,
		Log:          log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("storefront server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
