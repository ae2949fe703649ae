// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"fmt"

	"PointsSettlement/internal/config"
	"PointsSettlement/internal/db"
	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/maintenance"
	"PointsSettlement/internal/notify"
	"PointsSettlement/internal/pricing"
	"PointsSettlement/internal/runlock"
	"PointsSettlement/internal/services"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store"
	"PointsSettlement/internal/store/memstore"
	"PointsSettlement/internal/worker"

	"github.com/redis/go-redis/v9"
)

const memoryDSN = "memory://"

type App struct {
	Config      *config.Config
	Store       store.Transactor
	Gateway     *settlement.MultiClient
	Redis       *redis.Client
	Maintenance maintenance.Gate
	Locker      runlock.Locker
	Notifier    notify.Sink

	Orders     *services.OrderService
	Operations *services.OperationService
	Settlement *services.SettlementService

	closers []func()
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.DB.DSN == memoryDSN {
		logger.Warn("using in-memory store, data is lost on exit")
		a.Store = memstore.New()
	} else {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Store = store.New(pool)
	}

	gw, err := settlement.NewMultiClient(cfg.Settlement.Endpoints, cfg.Settlement.APIKey,
		cfg.SettlementTimeout(), cfg.Settlement.FailoverThreshold)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Gateway = gw

	static := maintenance.Static{Disabled: cfg.Maintenance.Disabled}
	a.Maintenance = static
	if cfg.Redis.URL != "" {
		rdb, err := runlock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Redis = rdb
		a.Maintenance = maintenance.RedisGate{Client: rdb, Key: cfg.Maintenance.RedisKey, Fallback: static}
		a.Locker = runlock.Redis{Client: rdb, Prefix: "points:lock:"}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, func() { _ = sink.Close() })
		a.Notifier = sink
	} else {
		a.Notifier = notify.LogSink{}
	}

	a.Orders = &services.OrderService{
		Store:          a.Store,
		Gateway:        gw,
		Pricing:        pricing.Service{Rates: gw, BaseCurrency: cfg.Orders.BaseCurrency},
		Maintenance:    a.Maintenance,
		MaxFinishAge:   cfg.MaxFinishAge(),
		TargetCurrency: cfg.Orders.TargetCurrency,
	}
	a.Operations = &services.OperationService{Store: a.Store, Notifier: a.Notifier, Maintenance: a.Maintenance}
	a.Settlement = &services.SettlementService{Store: a.Store, Notifier: a.Notifier}
	return a, nil
}

func (a *App) Worker() *worker.Worker {
	return &worker.Worker{
		Store:       a.Store,
		Statuses:    a.Gateway,
		Settlement:  a.Settlement,
		Operations:  a.Operations,
		Locker:      a.Locker,
		Interval:    a.Config.WorkerInterval(),
		StuckAfter:  a.Config.StuckAfter(),
		LockTTL:     a.Config.LockTTL(),
		BatchSize:   a.Config.Worker.BatchSize,
		WSEndpoints: a.Config.Settlement.WSEndpoints,
		APIKey:      a.Config.Settlement.APIKey,

		PreparedLookback: a.Config.PreparedLookback(),
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
