package main

import (
	"fmt"
	"log/slog"

	"rewards-backend/catalog"
	"rewards-backend/config"
	"rewards-backend/coupon"
	"rewards-backend/database"
	"rewards-backend/ledger"
	"rewards-backend/limits"
	"rewards-backend/logging"
	"rewards-backend/metrics"
	"rewards-backend/notify"
	"rewards-backend/redemption"
	"rewards-backend/routes"
	"rewards-backend/subscription"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// app holds the services shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	email  *notify.EmailSender
	deps   routes.Deps
}

func newApp() (*app, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := config.ValidateEnv(); err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	email := notify.NewEmailSender(cfg.SMTP, notify.GormDirectory{DB: db}, logger)
	notifier := notify.Multi{notify.LogSender{Logger: logger}, email}

	tx := database.TxOptions{Timeout: cfg.TxTimeout, MaxRetries: cfg.TxMaxRetries}
	l := ledger.New(db, ledger.Options{Rules: cfg.Rules.Actions, Tx: tx, Metrics: m, Logger: logger})
	lim := limits.New(db, limits.Options{Features: cfg.Rules.Features, Tx: tx})
	store := catalog.NewStore(db)
	lookup := catalog.NewCachedLookup(store, cfg.CatalogCacheSize, cfg.CatalogCacheTTL)
	coupons := coupon.New(db, coupon.Options{
		Ledger:      l,
		Notifier:    notifier,
		Metrics:     m,
		Logger:      logger,
		Tx:          tx,
		Concurrency: cfg.SweepConcurrency,
	})
	subs := subscription.NewService(db, subscription.Options{Coupons: coupons, Notifier: notifier, Logger: logger, Tx: tx})
	redemptions := redemption.NewService(db, l, redemption.Options{
		Lookup:   lookup,
		Notifier: notifier,
		Metrics:  m,
		Logger:   logger,
		Tx:       tx,
	})
	sweeper, err := coupon.NewSweeper(coupons, coupon.SweeperOptions{
		Schedule: cfg.SweepSchedule,
		Expirer:  subs,
		Pruner:   lim,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		email:  email,
		deps: routes.Deps{
			DB:            db,
			Products:      store,
			Lookup:        lookup,
			Ledger:        l,
			Limits:        lim,
			Redemptions:   redemptions,
			Subscriptions: subs,
			Coupons:       coupons,
			Sweeper:       sweeper,
			Metrics:       m,
		},
	}, nil
}

// close waits for queued emails and releases the database.
func (a *app) close() {
	a.email.Wait()
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.logger.Error("error closing database connection", "error", err)
		return
	}
	a.logger.Info("database connection closed")
}
