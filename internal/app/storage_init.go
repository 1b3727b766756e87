package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/health"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/postgres"
)

// initRuntimeDependencies поднимает хранилища по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		products := memory.NewProductRepository()
		seed, err := parseSeedProducts(cfg.MemorySeedProducts)
		if err != nil {
			return runtimeDependencies{}, err
		}
		for _, product := range seed {
			product.UpdatedAt = time.Now().UTC()
			if err := products.Upsert(ctx, product); err != nil {
				return runtimeDependencies{}, fmt.Errorf("seed product %s: %w", product.ID, err)
			}
		}
		if len(seed) > 0 {
			logger.WithField("products", len(seed)).Info("in-memory catalog seeded")
		}
		return runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			payments:        memory.NewPaymentRepository(),
			products:        products,
			coupons:         memory.NewCouponRepository(),
			carts:           memory.NewCartRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return runtimeDependencies{}, errors.New("postgres storage driver requires OMS_POSTGRES_DSN")
	}

	storeLogger := logger.WithField("storage", StorageDriverPostgres)
	store, err := postgres.Open(ctx, dsn, postgres.WithStoreLogger(storeLogger))
	if err != nil {
		return runtimeDependencies{}, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
		}
		storeLogger.Info("postgres schema is up to date")
	}

	return runtimeDependencies{
		repo:            postgres.NewOrderRepository(store),
		payments:        postgres.NewPaymentRepository(store),
		products:        postgres.NewProductRepository(store),
		coupons:         postgres.NewCouponRepository(store),
		carts:           postgres.NewCartRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  health.NewPingChecker("storage", 0, store.Ping),
		closeFn:         store.Close,
	}, nil
}
