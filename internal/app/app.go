// Package app assembles the service graph shared by the binaries.
package app

import (
	"context"
	"fmt"

	"goldledger/internal/config"
	"goldledger/internal/db"
	"goldledger/internal/invoice"
	"goldledger/internal/repository"
	"goldledger/internal/service"
	"goldledger/internal/store"
	"goldledger/internal/store/memory"

	"github.com/sirupsen/logrus"
)

type App struct {
	DB      store.Database
	Service *service.Service
	close   func()
}

// Open connects the configured store, applies migrations when it is
// PostgreSQL and wires the service on top.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	database, closeFn, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	orch := invoice.NewOrchestrator(database, invoice.PricingDefaults{
		LaborPercentage:  cfg.DefaultLaborPercentage,
		ProfitPercentage: cfg.DefaultProfitPercentage,
		TaxPercentage:    cfg.DefaultTaxPercentage,
	}, log)
	return &App{
		DB:      database,
		Service: service.New(database, orch, log),
		close:   closeFn,
	}, nil
}

func (a *App) Close() {
	if a.close != nil {
		a.close()
	}
}

func openDatabase(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Database, func(), error) {
	if cfg.UseMemoryStore() {
		mem := memory.New()
		for _, id := range cfg.MemoryCustomers {
			mem.AddCustomer(id)
		}
		log.WithField("customers", cfg.MemoryCustomers).Warn("using in-memory store; data is lost on exit")
		return mem, func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return repository.New(pool), pool.Close, nil
}
