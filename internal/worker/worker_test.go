package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PointsSettlement/internal/models"
	"PointsSettlement/internal/runlock"
	"PointsSettlement/internal/services"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store"
	"PointsSettlement/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatuses struct {
	mu    sync.Mutex
	calls map[string][][]string
	data  map[string]map[string]settlement.Status
}

func (f *fakeStatuses) GetStatuses(_ context.Context, kind string, ids []string) (map[string]settlement.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string][][]string{}
	}
	f.calls[kind] = append(f.calls[kind], ids)
	out := map[string]settlement.Status{}
	for _, id := range ids {
		if st, ok := f.data[kind][id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

type countingSink struct {
	mu        sync.Mutex
	templates []string
}

func (s *countingSink) Send(_ context.Context, _ int64, templateID string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, templateID)
	return nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, runlock.ErrHeld
}

type env struct {
	st       *memstore.Store
	statuses *fakeStatuses
	sink     *countingSink
	w        *Worker
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	st.PutUser(models.User{ID: 42, FirstName: "Ada"})
	st.PutWallet(42, 100)

	statuses := &fakeStatuses{data: map[string]map[string]settlement.Status{
		settlement.KindOrder:     {},
		settlement.KindOperation: {},
	}}
	sink := &countingSink{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	return &env{
		st:       st,
		statuses: statuses,
		sink:     sink,
		now:      now,
		w: &Worker{
			Store:      st,
			Statuses:   statuses,
			Settlement: &services.SettlementService{Store: st, Notifier: sink},
			Operations: &services.OperationService{Store: st, Notifier: sink, Now: clock},
			StuckAfter: 30 * time.Minute,
			BatchSize:  10,
			Now:        clock,
		},
	}
}

// pendingOrder stores an order already transferred to settlement.
func (e *env) pendingOrder(t *testing.T, createdAt time.Time) int64 {
	t.Helper()
	return e.storeOrder(t, models.OrderPending, createdAt)
}

// preparedOrder stores a checkout whose finish was never recorded.
func (e *env) preparedOrder(t *testing.T, createdAt time.Time) int64 {
	t.Helper()
	return e.storeOrder(t, models.OrderPrepared, createdAt)
}

func (e *env) storeOrder(t *testing.T, status models.OrderStatus, createdAt time.Time) int64 {
	t.Helper()
	uid := int64(42)
	o := &models.Order{
		UserID:                  &uid,
		Status:                  status,
		TransferredToSettlement: status != models.OrderPrepared,
		TargetCurrencyCode:      "PLN",
		Payment:                 models.PaymentProcessData{PaymentToolName: "transfer", ToolData: models.ToolData{}},
		Cost:                    models.Cost{TotalGross: decimal.NewFromInt(10), TotalNet: decimal.NewFromInt(10), Currency: "PLN"},
		Products:                []models.ProductSnapshot{{ProductID: 1, Points: 10, PriceNet: decimal.NewFromInt(10)}},
		CreatedAt:               createdAt,
	}
	require.NoError(t, e.st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateOrder(context.Background(), o)
	}))
	return o.ID
}

func (e *env) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	var o *models.Order
	require.NoError(t, e.st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(context.Background(), id)
		return err
	}))
	return o
}

func (e *env) historyCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.st.WithTx(context.Background(), func(tx store.Tx) error {
		h, err := tx.ListHistory(context.Background(), 42)
		n = len(h)
		return err
	}))
	return n
}

func TestStuckOrderRescuedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.pendingOrder(t, e.now.Add(-2*time.Hour))
	e.statuses.data[settlement.KindOrder]["1"] = settlement.Status{
		Status: "IMPORTED", MoneyAcknowledged: decimal.NewFromInt(10), TransactionID: "tx-9",
	}

	rep, err := e.w.ReconcileOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 1, rep.Applied)

	o := e.order(t, id)
	assert.Equal(t, models.OrderActivated, o.Status)
	assert.True(t, o.Activated)
	assert.EqualValues(t, 110, e.st.Wallet(42))

	// activated orders drop out of the sweep
	rep, err = e.w.ReconcileOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked)

	// a manual re-drive sees the status already applied
	rep, err = e.w.FinishPending(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, e.historyCount(t))
	assert.EqualValues(t, 110, e.st.Wallet(42))
	assert.Equal(t, []string{"order_activated"}, e.sink.templates)
}

func TestReconcileSkipsFreshMissingAndUnsettled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.pendingOrder(t, e.now.Add(-5*time.Minute))
	missing := e.pendingOrder(t, e.now.Add(-time.Hour))
	unsettled := e.pendingOrder(t, e.now.Add(-time.Hour))
	e.statuses.data[settlement.KindOrder]["3"] = settlement.Status{Status: "PENDING"}

	rep, err := e.w.ReconcileOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Missing)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Applied)
	assert.Equal(t, [][]string{{"2", "3"}}, e.statuses.calls[settlement.KindOrder])
	assert.Equal(t, models.OrderPending, e.order(t, missing).Status)
	assert.Equal(t, models.OrderPending, e.order(t, unsettled).Status)
}

func TestReconcileRescuesPreparedOrdersKnownToSettlement(t *testing.T) {
	e := newEnv(t)
	e.w.PreparedLookback = 48 * time.Hour
	ctx := context.Background()
	lost := e.pendingOrder(t, e.now.Add(-time.Hour))
	unrecorded := e.preparedOrder(t, e.now.Add(-2*time.Hour))
	abandoned := e.preparedOrder(t, e.now.Add(-3*time.Hour))
	ancient := e.preparedOrder(t, e.now.Add(-72*time.Hour))
	e.preparedOrder(t, e.now.Add(-5*time.Minute))
	e.statuses.data[settlement.KindOrder]["2"] = settlement.Status{
		Status: "IMPORTED", MoneyAcknowledged: decimal.NewFromInt(10), TransactionID: "tx-2",
	}
	e.statuses.data[settlement.KindOrder]["4"] = settlement.Status{
		Status: "IMPORTED", MoneyAcknowledged: decimal.NewFromInt(10), TransactionID: "tx-4",
	}

	rep, err := e.w.ReconcileOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 3, Applied: 1, Skipped: 1, Missing: 1}, rep)
	assert.Equal(t, [][]string{{"1", "2", "3"}}, e.statuses.calls[settlement.KindOrder])

	o := e.order(t, unrecorded)
	assert.Equal(t, models.OrderActivated, o.Status)
	assert.True(t, o.Activated)
	assert.True(t, o.TransferredToSettlement)
	assert.EqualValues(t, 110, e.st.Wallet(42))
	assert.Equal(t, 1, e.historyCount(t))

	assert.Equal(t, models.OrderPending, e.order(t, lost).Status)
	assert.Equal(t, models.OrderPrepared, e.order(t, abandoned).Status)
	assert.Equal(t, models.OrderPrepared, e.order(t, ancient).Status)
}

func TestReconcileIgnoresPreparedWithoutLookback(t *testing.T) {
	e := newEnv(t)
	id := e.preparedOrder(t, e.now.Add(-2*time.Hour))
	e.statuses.data[settlement.KindOrder]["1"] = settlement.Status{
		Status: "IMPORTED", MoneyAcknowledged: decimal.NewFromInt(10),
	}

	rep, err := e.w.ReconcileOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, models.OrderPrepared, e.order(t, id).Status)
}

func TestReconcileFailureStatus(t *testing.T) {
	e := newEnv(t)
	id := e.pendingOrder(t, e.now.Add(-time.Hour))
	e.statuses.data[settlement.KindOrder]["1"] = settlement.Status{Status: "REJECTED"}

	rep, err := e.w.ReconcileOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, models.OrderError, e.order(t, id).Status)
	assert.Equal(t, 0, e.historyCount(t))
}

func TestOperationSyncAndRefund(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op, err := e.w.Operations.StartOperation(ctx, services.StartOperationRequest{UserID: 42, Points: 100, Kind: "search", ExternalID: "s-1"})
	require.NoError(t, err)
	e.statuses.data[settlement.KindOperation]["1"] = settlement.Status{Status: "PARTIALLY_DONE", PercentageDone: 70, ExternalID: "s-1"}

	rep, err := e.w.ReconcileOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)

	rep, err = e.w.RefundOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.EqualValues(t, 30, e.st.Wallet(42))

	rep, err = e.w.RefundOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked)
	assert.EqualValues(t, 30, e.st.Wallet(42))

	var got *models.Operation
	require.NoError(t, e.st.WithTx(ctx, func(tx store.Tx) error {
		got, err = tx.GetOperation(ctx, op.ID)
		return err
	}))
	assert.NotNil(t, got.ReturnedPointsHistoryID)
}

func TestOperationExternalIDMismatchIsNotApplied(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.w.Operations.StartOperation(ctx, services.StartOperationRequest{UserID: 42, Points: 10, Kind: "search", ExternalID: "s-1"})
	require.NoError(t, err)
	e.statuses.data[settlement.KindOperation]["1"] = settlement.Status{Status: "DONE", PercentageDone: 100, ExternalID: "other"}

	rep, err := e.w.ReconcileOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
}

func TestHandleEvent(t *testing.T) {
	e := newEnv(t)
	id := e.pendingOrder(t, e.now)

	e.w.HandleEvent(context.Background(), []byte(`{"type":"transaction.status","data":{"orderId":1,"status":"PENDING"}}`))
	assert.Equal(t, models.OrderPending, e.order(t, id).Status)

	e.w.HandleEvent(context.Background(), []byte(`{"type":"transaction.status","data":{"orderId":1,"status":"IMPORTED","moneyAcknowledged":"10"}}`))
	assert.Equal(t, models.OrderActivated, e.order(t, id).Status)
	assert.EqualValues(t, 110, e.st.Wallet(42))
}

func TestWithLockSkipsWhenHeld(t *testing.T) {
	e := newEnv(t)
	e.w.Locker = heldLocker{}
	ran := false
	err := e.w.WithLock(context.Background(), "reconcile", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)

	e.w.Locker = nil
	err = e.w.WithLock(context.Background(), "reconcile", func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
}

func TestResendNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.pendingOrder(t, e.now.Add(-time.Hour))
	e.w.Settlement.Notifier = failingSink{}
	e.statuses.data[settlement.KindOrder]["1"] = settlement.Status{Status: "IMPORTED", MoneyAcknowledged: decimal.NewFromInt(10)}
	_, err := e.w.ReconcileOrders(ctx)
	require.NoError(t, err)
	assert.False(t, e.order(t, id).Mailed)

	e.w.Settlement.Notifier = e.sink
	rep, err := e.w.ResendNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.True(t, e.order(t, id).Mailed)

	rep, err = e.w.ResendNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked)
}

type failingSink struct{}

func (failingSink) Send(context.Context, int64, string, map[string]any) error {
	return errors.New("broker down")
}
