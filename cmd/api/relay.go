package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/relay"
	"github.com/spf13/cobra"
)

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish recorded orders to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateRelay(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openBackend(ctx, &cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	writer := relay.NewKafkaWriter(cfg.Kafka)
	defer func() {
		if err := writer.Close(); err != nil {
			log.WithError(err).Warn("close kafka writer")
		}
	}()

	log.WithField("topic", cfg.Kafka.Topic).Info("order relay starting")
	relay.New(st, writer, cfg.Kafka, log).Run(ctx)
	log.Info("order relay stopped")

	return nil
}
