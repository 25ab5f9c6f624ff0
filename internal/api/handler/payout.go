package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PayoutHandler serves provider reference data and the operator review queue.
type PayoutHandler struct {
	withdrawals *service.WithdrawalService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(withdrawals *service.WithdrawalService) *PayoutHandler {
	return &PayoutHandler{withdrawals: withdrawals}
}

// ListCurrencies handles GET /v1/payouts/currencies.
func (h *PayoutHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.withdrawals.Currencies(r.Context())
	if err != nil {
		zap.L().Warn("list payout currencies failed", zap.Error(err))
		RespondError(w, r, http.StatusBadGateway, "payout/provider-unavailable", "Payout provider unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": currencies})
}

// ListInstitutions handles GET /v1/payouts/institutions/{currency}.
func (h *PayoutHandler) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.withdrawals.Institutions(r.Context(), chi.URLParam(r, "currency"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCurrency) {
			respondServiceError(w, r, err, "list institutions")
			return
		}
		zap.L().Warn("list payout institutions failed", zap.Error(err))
		RespondError(w, r, http.StatusBadGateway, "payout/provider-unavailable", "Payout provider unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": institutions})
}

// ListManualReview handles GET /v1/admin/withdrawals/review (admin only).
func (h *PayoutHandler) ListManualReview(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := pagination(w, r, 50)
	if !ok {
		return
	}
	items, err := h.withdrawals.ListWithdrawalsNeedingReview(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err, "list manual review withdrawals")
		return
	}
	total, err := h.withdrawals.ManualReviewQueueSize(r.Context())
	if err != nil {
		zap.L().Warn("failed to compute manual review queue size", zap.Error(err))
		total = len(items)
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       newWithdrawalViews(items),
		"limit":       limit,
		"count":       len(items),
		"total_count": total,
	})
}

type resolveManualReviewRequest struct {
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	OrderID    *string `json:"order_id,omitempty"`
	FiatAmount *string `json:"fiat_amount,omitempty"`
}

// ResolveManualReview handles POST /v1/admin/withdrawals/{id}/resolve (admin only).
func (h *PayoutHandler) ResolveManualReview(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "withdrawal")
	if !ok {
		return
	}

	var req resolveManualReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Decision == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-decision", "decision is required")
		return
	}
	if req.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	resolved, err := h.withdrawals.ResolveWithdrawal(r.Context(), service.ResolveWithdrawalRequest{
		WithdrawalID: id,
		Decision:     service.ReviewDecision(req.Decision),
		OrderID:      req.OrderID,
		FiatAmount:   req.FiatAmount,
		Reason:       req.Reason,
		ActorID:      &a.ID,
	})
	if err != nil {
		respondServiceError(w, r, err, "resolve manual review withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, newWithdrawalView(*resolved))
}
