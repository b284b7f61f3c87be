package main

import (
	"context"
	"fmt"
	"time"

	"orderbot/internal/bus"
	"orderbot/internal/config"
	"orderbot/internal/dispatch"
	"orderbot/internal/flow"
	"orderbot/internal/imaging"
	"orderbot/internal/metrics"
	"orderbot/internal/storage"
)

// app holds the long-lived pieces shared by chat and gateway.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	bus        *bus.InMemoryBus
	events     *bus.EventBus
	engine     *flow.Engine
	dispatcher *dispatch.Dispatcher
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	dialect, err := storage.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(dialect, cfg.Storage.DataSource(), storage.Options{
		DefaultLeadTimeDays:    cfg.Orders.DefaultLeadTimeDays,
		InitialStageID:         cfg.Orders.InitialStageID,
		InProductionSettingKey: cfg.Orders.InProductionSettingKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	events := bus.NewEventBus(logger)
	bus.AttachAudit(events, store, logger)
	metrics.ObserveEvents(events)

	engine := flow.NewEngine(flow.Deps{
		Customers:  store.Customers(),
		Products:   store.Products(),
		Payments:   store.Payments(),
		Orders:     store.Orders(),
		Normalizer: imaging.NewNormalizer(cfg.Images.JPEGQuality, cfg.Images.MaxDimension),
		Images:     store,
	}, flow.Options{
		InitialStatusCode: cfg.Orders.InitialStatusCode,
		SearchLimit:       cfg.Orders.SearchLimit,
		IdleTimeout:       time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute,
		MaxImageBytes:     cfg.Images.MaxBytes,
	}, nil, events, logger)

	messageBus := bus.New(100, logger)
	d := dispatch.New(dispatch.Config{
		Engine:        engine,
		Bus:           messageBus,
		Events:        events,
		Logger:        logger,
		Concurrency:   cfg.General.MaxConcurrentMessages,
		RatePerMinute: cfg.RateLimit.PerMinute,
		Burst:         cfg.RateLimit.Burst,
		SessionCount:  engine.Sessions().Len,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		bus:        messageBus,
		events:     events,
		engine:     engine,
		dispatcher: d,
	}, nil
}

// run starts the dispatcher and returns a func that stops it and waits.
func (a *app) run(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dispatcher.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("closing store", "err", err)
	}
}
