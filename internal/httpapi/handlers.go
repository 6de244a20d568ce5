package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"nexora-analytics/internal/analytics"
	"nexora-analytics/internal/capture"
	"nexora-analytics/internal/period"
	"nexora-analytics/internal/storage"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type kpisResponse struct {
	BankID string         `json:"bank_id"`
	KPIs   analytics.KPIs `json:"kpis"`
}

type listResponse struct {
	BankID string `json:"bank_id"`
	Period string `json:"period"`
	Data   any    `json:"data"`
}

type dashboardResponse struct {
	BankID string `json:"bank_id"`
	analytics.Dashboard
}

type costComparisonResponse struct {
	TransactionID           string    `json:"transaction_id"`
	BankID                  string    `json:"bank_id"`
	TransferAmount          float64   `json:"transfer_amount"`
	NexoraFee               float64   `json:"nexora_fee"`
	SwiftEquivalentFee      float64   `json:"swift_equivalent_fee"`
	FeeSavings              float64   `json:"fee_savings"`
	NexoraSettlementSeconds int32     `json:"nexora_settlement_seconds"`
	SwiftSettlementSeconds  int32     `json:"swift_settlement_seconds"`
	CreatedAt               time.Time `json:"created_at"`
}

type transferRequest struct {
	ID                string           `json:"id" validate:"required"`
	BankID            string           `json:"bank_id" validate:"required"`
	Amount            *decimal.Decimal `json:"amount" validate:"required"`
	Fee               *decimal.Decimal `json:"fee,omitempty"`
	Status            string           `json:"status,omitempty"`
	CreatedAt         *time.Time       `json:"created_at,omitempty"`
	NetworkUsed       string           `json:"network_used,omitempty"`
	SettlementSeconds *int             `json:"settlement_time_seconds,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	TransferType      string           `json:"transfer_type,omitempty"`
}

type transferResponse struct {
	ID        string    `json:"id"`
	BankID    string    `json:"bank_id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Health.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) kpis(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	bankID := mux.Vars(r)["bankID"]
	kpis, err := h.deps.Metrics.KPIs(r.Context(), bankID, periodParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kpisResponse{BankID: bankID, KPIs: kpis})
}

func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	bankID, token := mux.Vars(r)["bankID"], periodParam(r)
	points, err := h.deps.Metrics.VolumeTrends(r.Context(), bankID, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{BankID: bankID, Period: token, Data: points})
}

func (h *Handler) distribution(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	bankID, token := mux.Vars(r)["bankID"], periodParam(r)
	shares, err := h.deps.Metrics.TransferTypeDistribution(r.Context(), bankID, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{BankID: bankID, Period: token, Data: shares})
}

func (h *Handler) networks(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	bankID, token := mux.Vars(r)["bankID"], periodParam(r)
	stats, err := h.deps.Metrics.NetworkPerformance(r.Context(), bankID, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{BankID: bankID, Period: token, Data: stats})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dashboard == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	bankID := mux.Vars(r)["bankID"]
	dash, err := h.deps.Dashboard.Build(r.Context(), bankID, periodParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{BankID: bankID, Dashboard: dash})
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rollup == nil {
		writeError(w, http.StatusServiceUnavailable, "rollup not configured")
		return
	}
	bankID := mux.Vars(r)["bankID"]
	rng, points, err := h.deps.Rollup.Daily(r.Context(), bankID, periodParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{BankID: bankID, Period: rng.Token, Data: points})
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	if h.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture not configured")
		return
	}

	var in capture.Input
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.deps.Capture.Capture(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.deps.Rollup != nil {
		if err := h.deps.Rollup.RecomputeForTransfer(r.Context(), res.BankID, res.TransactionID); err != nil {
			h.logger.Warn().Err(err).
				Str("request_id", RequestIDFrom(r.Context())).
				Str("transaction_id", res.TransactionID).
				Msg("daily aggregate refresh failed after capture")
		}
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) getCapture(w http.ResponseWriter, r *http.Request) {
	if h.deps.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture not configured")
		return
	}
	cc, err := h.deps.Capture.Get(r.Context(), mux.Vars(r)["transactionID"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, costComparisonResponse{
		TransactionID:           cc.TransactionID,
		BankID:                  cc.BankID,
		TransferAmount:          cc.TransferAmount.InexactFloat64(),
		NexoraFee:               cc.NexoraFee.InexactFloat64(),
		SwiftEquivalentFee:      cc.SwiftEquivalentFee.InexactFloat64(),
		FeeSavings:              cc.FeeSavings.InexactFloat64(),
		NexoraSettlementSeconds: cc.NexoraSettlementSeconds,
		SwiftSettlementSeconds:  cc.SwiftSettlementSeconds,
		CreatedAt:               cc.CreatedAt,
	})
}

// createTransfer stores the transfer, answers, then captures analytics in
// the background. Capture failures never change the response.
func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transfers == nil {
		writeError(w, http.StatusServiceUnavailable, "transfers not configured")
		return
	}

	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + fieldErrs[0].Field(), Field: fieldErrs[0].Field()})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := storage.Transfer{
		ID:                req.ID,
		BankID:            req.BankID,
		Amount:            *req.Amount,
		Fee:               req.Fee,
		Status:            req.Status,
		NetworkUsed:       optionalString(req.NetworkUsed),
		TransferType:      optionalString(req.TransferType),
		SettlementSeconds: optionalInt32(req.SettlementSeconds),
	}
	if req.CreatedAt != nil {
		record.CreatedAt = *req.CreatedAt
	}

	created, err := h.deps.Transfers.InsertTransfer(r.Context(), record)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, transferResponse{
		ID:        created.ID,
		BankID:    created.BankID,
		Amount:    created.Amount.InexactFloat64(),
		Status:    created.Status,
		CreatedAt: created.CreatedAt,
	})

	if h.deps.Capture != nil {
		h.deps.Capture.CaptureAsync(r.Context(), capture.Input{
			TransactionID:     created.ID,
			BankID:            created.BankID,
			Amount:            &created.Amount,
			NetworkUsed:       req.NetworkUsed,
			SettlementSeconds: req.SettlementSeconds,
			TransferType:      req.TransferType,
			Status:            created.Status,
		})
	}
}

// fail maps domain errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *capture.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, period.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicateTransfer):
		writeError(w, http.StatusConflict, "transfer already exists")
	default:
		h.logger.Error().Err(err).
			Str("request_id", RequestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func periodParam(r *http.Request) string {
	token := r.URL.Query().Get("period")
	if token == "" {
		return period.Default
	}
	return token
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}
