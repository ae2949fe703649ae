package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPrepared, OrderPending, true},
		{OrderPrepared, OrderActivated, true},
		{OrderPrepared, OrderCancelled, true},
		{OrderPrepared, OrderError, true},
		{OrderPending, OrderActivated, true},
		{OrderPending, OrderError, true},
		{OrderPending, OrderCancelled, false},
		{OrderPending, OrderPrepared, false},
		{OrderError, OrderActivated, true},
		{OrderError, OrderCancelled, false},
		{OrderCancelled, OrderActivated, false},
		{OrderActivated, OrderError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			o := &Order{Status: tt.from}
			err := o.TransitionTo(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, o.Status)
			} else {
				require.ErrorIs(t, err, ErrIllegalTransition)
				assert.Equal(t, tt.from, o.Status)
			}
		})
	}
}

func TestOrderProductSnapshotInvariant(t *testing.T) {
	o := &Order{ID: 7}
	_, err := o.Product()
	require.ErrorIs(t, err, ErrNoProduct)

	o.Products = []ProductSnapshot{{ProductID: 1, Points: 10}}
	p, err := o.Product()
	require.NoError(t, err)
	assert.EqualValues(t, 10, p.Points)

	o.Products = append(o.Products, ProductSnapshot{ProductID: 2})
	_, err = o.Product()
	require.ErrorIs(t, err, ErrMultipleProducts)
}

func TestOrderOwner(t *testing.T) {
	o := &Order{ID: 1}
	_, err := o.Owner()
	require.ErrorIs(t, err, ErrMissingUser)
	assert.False(t, o.IsOwnedBy(42))

	uid := int64(42)
	o.UserID = &uid
	got, err := o.Owner()
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
	assert.True(t, o.IsOwnedBy(42))
}

func TestToolDataMergeKeepsEarlierKeys(t *testing.T) {
	o := &Order{}
	o.MergeToolData(map[string]any{"sessionId": "s-1", "step": "init"})
	o.MergeToolData(map[string]any{"paymentId": "p-9", "step": "confirm"})

	assert.Equal(t, ToolData{"sessionId": "s-1", "paymentId": "p-9", "step": "confirm"}, o.Payment.ToolData)

	c := o.Payment.ToolData.Clone()
	c["step"] = "done"
	assert.Equal(t, "confirm", o.Payment.ToolData["step"])
}

func TestOutcomeOf(t *testing.T) {
	out, err := OutcomeOf(TransactionDetail{OrderID: 1, Status: SettlementImported})
	require.NoError(t, err)
	assert.IsType(t, Success{}, out)

	out, err = OutcomeOf(TransactionDetail{OrderID: 1, Status: SettlementRejected})
	require.NoError(t, err)
	f, ok := out.(Failure)
	require.True(t, ok)
	assert.Contains(t, f.Reason, "REJECTED")

	_, err = OutcomeOf(TransactionDetail{OrderID: 1, Status: SettlementPending})
	require.ErrorIs(t, err, ErrNotSettled)

	_, err = OutcomeOf(TransactionDetail{OrderID: 1, Status: "WEIRD"})
	require.Error(t, err)
}

func TestPointHistoryDelta(t *testing.T) {
	h := UserPointHistory{AmountBefore: 100, AmountNow: 110}
	assert.EqualValues(t, 10, h.Delta())
	h = UserPointHistory{AmountBefore: 110, AmountNow: 60}
	assert.EqualValues(t, 50, h.Delta())
}
