package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PointsSettlement/internal/maintenance"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/pricing"
	"PointsSettlement/internal/services"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{}

func (stubGateway) InsertTransaction(context.Context, settlement.Transaction) error { return nil }
func (stubGateway) GetExchangeRate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}
func (stubGateway) GetTaxPercentage(context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (stubGateway) GetMinMaxTransactionLimits(context.Context, string) (settlement.Limits, error) {
	return settlement.Limits{}, nil
}

type nopSink struct{}

func (nopSink) Send(context.Context, int64, string, map[string]any) error { return nil }

func newTestServer(t *testing.T, secret string) (*httptest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.PutUser(models.User{ID: 42, FirstName: "Ada"})
	st.PutWallet(42, 100)
	st.PutProduct(models.Product{ID: 1, Name: "10 points", Points: 10, PriceNet: decimal.NewFromInt(10), Currency: "PLN", Active: true})

	gw := stubGateway{}
	orders := &services.OrderService{
		Store:          st,
		Gateway:        gw,
		Pricing:        pricing.Service{Rates: gw, BaseCurrency: "PLN"},
		Maintenance:    maintenance.Static{},
		MaxFinishAge:   4 * time.Hour,
		TargetCurrency: "PLN",
	}
	ops := &services.OperationService{Store: st, Notifier: nopSink{}}
	sts := &services.SettlementService{Store: st, Notifier: nopSink{}}
	srv := httptest.NewServer(NewServer(NewHandler(orders, ops, sts, secret)).Router)
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url, user, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func signed(t *testing.T, secret, body string) []string {
	t.Helper()
	sig, err := settlement.Sign(secret, []byte(body))
	require.NoError(t, err)
	return []string{"X-Signature", sig}
}

func TestOrderFlowOverHTTP(t *testing.T) {
	srv, st := newTestServer(t, "s3cret")

	resp, body := do(t, http.MethodPost, srv.URL+"/orders", "42", `{"productId":1,"paymentToolName":"card","paymentToolData":{"a":"1"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "PREPARED", body["status"])
	assert.Equal(t, "10.00", body["totalGross"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/1/tool-data", "42", `{"b":"2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, body["paymentToolData"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/1/finish", "7", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_owner", body["code"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders/1/finish", "42", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])

	cb := `{"orderId":1,"status":"IMPORTED","moneyAcknowledged":"10.00","transactionId":"t"}`
	resp, body = do(t, http.MethodPost, srv.URL+"/settlement/callback", "", cb, signed(t, "s3cret", cb)...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applied"])

	resp, body = do(t, http.MethodPost, srv.URL+"/settlement/callback", "", cb, signed(t, "s3cret", cb)...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])
	assert.EqualValues(t, 110, st.Wallet(42))

	resp, body = do(t, http.MethodGet, srv.URL+"/orders/1", "42", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACTIVATED", body["status"])
	assert.Equal(t, true, body["activated"])
}

func TestErrorResponses(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, body := do(t, http.MethodPost, srv.URL+"/orders", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])

	resp, body = do(t, http.MethodPost, srv.URL+"/orders", "42", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_payload", body["code"])

	resp, body = do(t, http.MethodGet, srv.URL+"/orders/99", "42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, body = do(t, http.MethodPost, srv.URL+"/operations", "42", `{"points":500,"kind":"search","externalId":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_points", body["code"])
}

func TestCallbackSignature(t *testing.T) {
	srv, _ := newTestServer(t, "s3cret")
	cb := `{"orderId":1,"status":"PENDING"}`

	resp, body := do(t, http.MethodPost, srv.URL+"/settlement/callback", "", cb, "X-Signature", "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_signature", body["code"])

	sig, err := settlement.Sign("s3cret", []byte(cb))
	require.NoError(t, err)
	resp, _ = do(t, http.MethodPost, srv.URL+"/settlement/callback", "", cb, "X-Signature", sig)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestUnsignedCallbackCannotCreditPoints(t *testing.T) {
	for _, secret := range []string{"", "s3cret"} {
		srv, st := newTestServer(t, secret)

		resp, _ := do(t, http.MethodPost, srv.URL+"/orders", "42", `{"productId":1,"paymentToolName":"card"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, _ = do(t, http.MethodPost, srv.URL+"/orders/1/finish", "42", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		forged := `{"orderId":1,"status":"IMPORTED","moneyAcknowledged":"10000"}`
		resp, body := do(t, http.MethodPost, srv.URL+"/settlement/callback", "", forged)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret %q", secret)
		assert.Equal(t, "invalid_signature", body["code"])

		resp, body = do(t, http.MethodPost, srv.URL+"/settlement/callback", "", forged, signed(t, "", forged)...)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret %q", secret)

		assert.EqualValues(t, 100, st.Wallet(42))
		resp, body = do(t, http.MethodGet, srv.URL+"/orders/1", "42", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "PENDING", body["status"])
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
