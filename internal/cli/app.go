package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"identify/internal/contact"
	contactmetrics "identify/internal/contact/metrics"
	"identify/internal/contact/service"
	"identify/internal/contact/store"
	"identify/internal/platform/config"
	"identify/internal/platform/database"
	"identify/internal/platform/logger"
)

// contactStore is what every store implementation offers the process.
type contactStore interface {
	contact.Store
	contact.StoreTx
	Ping(ctx context.Context) error
	Close() error
}

// app is the wired process: configuration, logger, store, and reconciler.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    contactStore
	service  *contact.Service
}

// newApp loads configuration and opens the configured store. logOut
// receives log lines; commands that print results keep them off stdout.
func newApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc := contact.NewService(st, st,
		service.WithLogger(log),
		service.WithMetrics(contactmetrics.New(registry)),
	)

	return &app{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		store:    st,
		service:  svc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, cfg config.Database, log *slog.Logger) (contactStore, error) {
	if cfg.Driver == config.DriverMemory {
		log.InfoContext(ctx, "using in-memory contact store")
		return store.NewInMemoryStore(store.WithMemoryTxTimeout(cfg.TxTimeout)), nil
	}

	dialect, err := store.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	log.InfoContext(ctx, "using SQL contact store",
		"driver", cfg.Driver,
		"dialect", string(dialect),
		"max_open_conns", cfg.MaxOpenConns,
	)
	return store.NewSQLStore(db, dialect, store.WithSQLTxTimeout(cfg.TxTimeout)), nil
}
