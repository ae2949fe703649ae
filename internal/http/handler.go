package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/services"
	"PointsSettlement/internal/settlement"

	"github.com/go-chi/chi/v5"
)

const maxCallbackBody = 1 << 20

type Handler struct {
	Orders         *services.OrderService
	Operations     *services.OperationService
	Settlement     *services.SettlementService
	CallbackSecret string
}

type orderResponse struct {
	ID                      int64          `json:"id"`
	Status                  string         `json:"status"`
	Activated               bool           `json:"activated"`
	TransferredToSettlement bool           `json:"transferredToSettlement"`
	Currency                string         `json:"currency"`
	TotalNet                string         `json:"totalNet"`
	TotalGross              string         `json:"totalGross"`
	TaxPercentage           string         `json:"taxPercentage"`
	UnitPriceGross          string         `json:"unitPriceGross"`
	Points                  int64          `json:"points"`
	PaymentToolName         string         `json:"paymentToolName"`
	PaymentToolData         map[string]any `json:"paymentToolData,omitempty"`
	CreatedAt               string         `json:"createdAt"`
}

type operationResponse struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	SpentPoints int64  `json:"spentPoints"`
	ExternalID  string `json:"externalId"`
}

type ingestResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status,omitempty"`
	Applied bool   `json:"applied"`
}

func NewHandler(orders *services.OrderService, operations *services.OperationService, st *services.SettlementService, callbackSecret string) *Handler {
	return &Handler{Orders: orders, Operations: operations, Settlement: st, CallbackSecret: callbackSecret}
}

func (h *Handler) PrepareOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req services.PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "invalid json body")
		return
	}
	req.UserID = userID

	order, err := h.Orders.Prepare(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := userAndOrder(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.Get(r.Context(), orderID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) FinishOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := userAndOrder(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.Finish(r.Context(), orderID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := userAndOrder(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.Cancel(r.Context(), orderID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) HandleOrderError(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := userAndOrder(w, r)
	if !ok {
		return
	}
	payload, ok := decodeMap(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.HandleError(r.Context(), orderID, userID, payload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) UpdatePaymentToolData(w http.ResponseWriter, r *http.Request) {
	userID, orderID, ok := userAndOrder(w, r)
	if !ok {
		return
	}
	payload, ok := decodeMap(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.UpdatePaymentToolData(r.Context(), orderID, userID, payload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) StartOperation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req services.StartOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "invalid json body")
		return
	}
	req.UserID = userID

	op, err := h.Operations.StartOperation(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, operationResponse{
		ID:          op.ID,
		Status:      string(op.Status),
		SpentPoints: op.SpentPoints,
		ExternalID:  op.ExternalID,
	})
}

// SettlementCallback ingests a status pushed by the finances service.
func (h *Handler) SettlementCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "unreadable body")
		return
	}
	if err := settlement.VerifySignature(h.CallbackSecret, body, r.Header.Get("X-Signature")); err != nil {
		logger.Warn("settlement callback rejected", "remote", r.RemoteAddr, "err", err)
		writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	var detail models.TransactionDetail
	if err := json.Unmarshal(body, &detail); err != nil || detail.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "invalid transaction detail")
		return
	}
	outcome, err := models.OutcomeOf(detail)
	if err != nil {
		if errors.Is(err, models.ErrNotSettled) {
			writeJSON(w, http.StatusAccepted, ingestResponse{OrderID: detail.OrderID})
			return
		}
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, err.Error())
		return
	}

	res, err := h.Settlement.Ingest(r.Context(), outcome)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{OrderID: res.OrderID, Status: string(res.Status), Applied: res.Applied})
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing user id")
		return 0, false
	}
	return id, true
}

func userAndOrder(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return 0, 0, false
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "invalid order id")
		return 0, 0, false
	}
	return userID, orderID, true
}

func decodeMap(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidPayload, "invalid json body")
		return nil, false
	}
	return m, true
}

func toOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:                      o.ID,
		Status:                  string(o.Status),
		Activated:               o.Activated,
		TransferredToSettlement: o.TransferredToSettlement,
		Currency:                o.Cost.Currency,
		TotalNet:                o.Cost.TotalNet.StringFixed(2),
		TotalGross:              o.Cost.TotalGross.StringFixed(2),
		TaxPercentage:           o.Cost.TaxPercentage.String(),
		UnitPriceGross:          o.Payment.UnitPriceGross.String(),
		PaymentToolName:         o.Payment.PaymentToolName,
		PaymentToolData:         o.Payment.ToolData,
		CreatedAt:               o.CreatedAt.Format(time.RFC3339),
	}
	if len(o.Products) == 1 {
		resp.Points = o.Products[0].Points
	}
	return resp
}
