package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PointsSettlement/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statuses", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req struct {
			Kind string   `json:"kind"`
			IDs  []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, KindOrder, req.Kind)
		assert.Equal(t, []string{"1", "2"}, req.IDs)
		_, _ = w.Write([]byte(`{"statuses":{"1":{"status":"IMPORTED","moneyAcknowledged":"12.30"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Second)
	got, err := c.GetStatuses(context.Background(), KindOrder, []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "IMPORTED", got["1"].Status)
	assert.True(t, got["1"].MoneyAcknowledged.Equal(decimal.RequireFromString("12.3")))
}

func TestClientInsertTransactionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accepted":false,"message":"duplicate"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).InsertTransaction(context.Background(), Transaction{TransactionID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).GetTaxPercentage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestMultiClientFailsOverReads(t *testing.T) {
	var badHits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"percentage":"23"}`))
	}))
	defer good.Close()

	m, err := NewMultiClient([]string{bad.URL, good.URL + "/", bad.URL}, "", time.Second, 1)
	require.NoError(t, err)

	tax, err := m.GetTaxPercentage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "23", tax.String())
	assert.Equal(t, good.URL, m.BaseURL())
	assert.EqualValues(t, 1, atomic.LoadInt32(&badHits))
}

func TestMultiClientRotatesWritesAfterThreshold(t *testing.T) {
	var badHits, goodHits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&goodHits, 1)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer good.Close()

	m, err := NewMultiClient([]string{bad.URL, good.URL}, "", time.Second, 2)
	require.NoError(t, err)
	ctx := context.Background()
	tx := Transaction{TransactionID: "tx-1", OrderID: 1}

	require.Error(t, m.InsertTransaction(ctx, tx))
	assert.Equal(t, bad.URL, m.BaseURL())
	require.Error(t, m.InsertTransaction(ctx, tx))
	assert.Equal(t, good.URL, m.BaseURL())
	require.NoError(t, m.InsertTransaction(ctx, tx))

	assert.EqualValues(t, 2, atomic.LoadInt32(&badHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&goodHits))
}

func TestMultiClientConcurrentReadFailuresRotateOnce(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"percentage":"23"}`))
	}))
	defer good.Close()

	m, err := NewMultiClient([]string{bad.URL, good.URL}, "", time.Second, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tax, err := m.GetTaxPercentage(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "23", tax.String())
		}()
	}
	wg.Wait()
	assert.Equal(t, good.URL, m.BaseURL())
}

func TestNewMultiClientRequiresEndpoints(t *testing.T) {
	_, err := NewMultiClient([]string{" ", ""}, "", time.Second, 0)
	require.Error(t, err)
}

func TestLimitsAllows(t *testing.T) {
	l := Limits{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(100)}
	assert.False(t, l.Allows(decimal.NewFromInt(4)))
	assert.True(t, l.Allows(decimal.NewFromInt(5)))
	assert.True(t, l.Allows(decimal.NewFromInt(100)))
	assert.False(t, l.Allows(decimal.RequireFromString("100.01")))
	assert.True(t, Limits{}.Allows(decimal.NewFromInt(1_000_000)))
}

func TestSignature(t *testing.T) {
	body := []byte(`{"orderId":1}`)
	sig, err := Sign("secret", body)
	require.NoError(t, err)

	require.NoError(t, VerifySignature("secret", body, sig))
	flip := byte('0')
	if sig[len(sig)-1] == '0' {
		flip = '1'
	}
	require.ErrorIs(t, VerifySignature("secret", body, sig[:len(sig)-1]+string(flip)), ErrBadSignature)
	require.ErrorIs(t, VerifySignature("other", body, sig), ErrBadSignature)
	require.ErrorIs(t, VerifySignature("", body, ""), ErrBadSignature)
	unkeyed, err := Sign("", body)
	require.NoError(t, err)
	require.ErrorIs(t, VerifySignature("", body, unkeyed), ErrBadSignature)
}

func TestParseEvent(t *testing.T) {
	d, ok, err := ParseEvent([]byte(`{"type":"transaction.status","data":{"orderId":9,"status":"IMPORTED","moneyAcknowledged":"10"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 9, d.OrderID)
	assert.Equal(t, models.SettlementImported, d.Status)

	_, ok, err = ParseEvent([]byte(`{"type":"subscribed"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseEvent([]byte(`{"error":{"code":1,"message":"nope"}}`))
	require.Error(t, err)

	_, _, err = ParseEvent([]byte(`{"type":"transaction.status","data":{"status":"IMPORTED"}}`))
	require.Error(t, err)
}

func TestStatusDetail(t *testing.T) {
	s := Status{Status: "ERROR", TransactionID: "tx", MoneyAcknowledged: decimal.NewFromInt(3)}
	d := s.Detail(4)
	assert.EqualValues(t, 4, d.OrderID)
	assert.Equal(t, models.SettlementError, d.Status)
	assert.Equal(t, "tx", d.TransactionID)
}
