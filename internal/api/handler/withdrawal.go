package handler

import (
	"net/http"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/go-chi/chi/v5"
)

// WithdrawalHandler serves the two step USDC to bank withdrawal flow.
type WithdrawalHandler struct {
	svc *service.WithdrawalService
}

func NewWithdrawalHandler(svc *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

type withdrawalView struct {
	models.Withdrawal
	Amount string `json:"amount"`
}

func newWithdrawalView(w models.Withdrawal) withdrawalView {
	return withdrawalView{Withdrawal: w, Amount: domain.FormatMicrosFixed(w.AmountMicros)}
}

func newWithdrawalViews(ws []models.Withdrawal) []withdrawalView {
	out := make([]withdrawalView, 0, len(ws))
	for _, w := range ws {
		out = append(out, newWithdrawalView(w))
	}
	return out
}

type initiateWithdrawalRequest struct {
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	InstitutionCode string `json:"institution_code"`
	AccountNumber   string `json:"account_number"`
	AccountName     string `json:"account_name,omitempty"`
}

// InitiateWithdrawal handles POST /v1/withdrawals. Funds are locked and a
// verification code is emailed; the payout is only submitted on verify.
func (h *WithdrawalHandler) InitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req initiateWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondServiceError(w, r, err, "parse amount")
		return
	}

	wd, err := h.svc.InitiateWithdrawal(r.Context(), service.InitiateWithdrawalRequest{
		UserID:          a.ID,
		AmountMicros:    amount,
		FiatCurrency:    req.Currency,
		InstitutionCode: req.InstitutionCode,
		AccountNumber:   req.AccountNumber,
		AccountName:     req.AccountName,
	})
	if err != nil {
		respondServiceError(w, r, err, "initiate withdrawal")
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]any{
		"withdrawal": newWithdrawalView(*wd),
		"message":    "A verification code has been sent to your email",
	})
}

type verifyWithdrawalRequest struct {
	Code          string `json:"code"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
}

// VerifyWithdrawal handles POST /v1/withdrawals/{id}/verify.
func (h *WithdrawalHandler) VerifyWithdrawal(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "withdrawal")
	if !ok {
		return
	}
	var req verifyWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-code", "code is required")
		return
	}

	wd, err := h.svc.VerifyWithdrawal(r.Context(), service.VerifyWithdrawalRequest{
		WithdrawalID:  id,
		UserID:        a.ID,
		Code:          strings.TrimSpace(req.Code),
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		respondServiceError(w, r, err, "verify withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, newWithdrawalView(*wd))
}

// GetWithdrawal handles GET /v1/withdrawals/{id}.
func (h *WithdrawalHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "withdrawal")
	if !ok {
		return
	}
	wd, err := h.svc.GetWithdrawal(r.Context(), id, a.ID)
	if err != nil {
		respondServiceError(w, r, err, "get withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, newWithdrawalView(*wd))
}

// ListWithdrawals handles GET /v1/withdrawals.
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r, 20)
	if !ok {
		return
	}
	items, err := h.svc.ListWithdrawals(r.Context(), a.ID, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  newWithdrawalViews(items),
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}
