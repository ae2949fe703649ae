package worker

import (
	"context"
	"errors"
	"time"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/runlock"
	"PointsSettlement/internal/services"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store"
)

const (
	lockReconcile = "reconcile"
	lockRefund    = "refund"
	lockNotify    = "notify"
)

type Worker struct {
	Store       store.Transactor
	Statuses    settlement.StatusQuery
	Settlement  *services.SettlementService
	Operations  *services.OperationService
	Locker      runlock.Locker
	Interval    time.Duration
	StuckAfter  time.Duration
	LockTTL     time.Duration
	BatchSize   int
	WSEndpoints []string
	APIKey      string
	Now         func() time.Time

	// PreparedLookback bounds the sweep of checkouts that never reached
	// PENDING. Zero disables it.
	PreparedLookback time.Duration
}

// Report counts what one sweep did.
type Report struct {
	Checked int
	Applied int
	Skipped int
	Missing int
	Failed  int
}

func (r Report) add(o Report) Report {
	return Report{
		Checked: r.Checked + o.Checked,
		Applied: r.Applied + o.Applied,
		Skipped: r.Skipped + o.Skipped,
		Missing: r.Missing + o.Missing,
		Failed:  r.Failed + o.Failed,
	}
}

func (w *Worker) Run(ctx context.Context) {
	go w.RunEvents(ctx)
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil {
			logger.Error("sync error", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs every sweep once, each under its own run-lock.
func (w *Worker) SyncOnce(ctx context.Context) error {
	var errs []error
	if err := w.WithLock(ctx, lockReconcile, func(ctx context.Context) error {
		rep, err := w.Reconcile(ctx)
		logSweep("reconcile", rep)
		return err
	}); err != nil {
		errs = append(errs, err)
	}
	if err := w.WithLock(ctx, lockRefund, func(ctx context.Context) error {
		rep, err := w.RefundOperations(ctx)
		logSweep("refund", rep)
		return err
	}); err != nil {
		errs = append(errs, err)
	}
	if err := w.WithLock(ctx, lockNotify, func(ctx context.Context) error {
		rep, err := w.ResendNotifications(ctx)
		logSweep("notify", rep)
		return err
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithLock runs fn unless another process holds the named lock; a held lock is not an error.
func (w *Worker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if w.Locker == nil {
		return fn(ctx)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	release, err := w.Locker.Acquire(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			logger.Info("sweep skipped, lock held", "sweep", name)
			return nil
		}
		return err
	}
	defer release()
	return fn(ctx)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Worker) batch() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return 100
}

func logSweep(name string, r Report) {
	if r.Checked == 0 {
		logger.Debug("sweep done", "sweep", name, "checked", 0)
		return
	}
	logger.Info("sweep done", "sweep", name, "checked", r.Checked, "applied", r.Applied,
		"skipped", r.Skipped, "missing", r.Missing, "failed", r.Failed)
}
