package main

import (
	"context"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/api"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/reconcile"
	"github.com/safar/storefront/internal/relay"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/store/mongostore"
	"github.com/sirupsen/logrus"
)

// backend is everything the commands need from a store implementation.
type backend interface {
	reconcile.Store
	api.OrderReader
	relay.OrderSource
}

var (
	_ backend = (*store.Postgres)(nil)
	_ backend = (*mongostore.Store)(nil)
)

func openBackend(ctx context.Context, cfg *config.DatabaseConfig, log logrus.FieldLogger) (backend, func(), error) {
	switch cfg.Backend {
	case "mongo":
		db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.Client().Disconnect(ctx); err != nil {
				log.WithError(err).Warn("disconnect mongodb")
			}
		}

		s := mongostore.New(db)
		if err := s.CreateIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}

		log.WithField("database", cfg.MongoDatabase).Info("connected to mongodb")
		return s, closeFn, nil

	case "postgres":
		db, err := database.NewConnection(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		log.Info("connected to postgres")
		return store.NewPostgres(db), func() { db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
}
