package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/service"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type balanceResponse struct {
	Asset           string    `json:"asset"`
	Available       string    `json:"available"`
	Locked          string    `json:"locked"`
	Total           string    `json:"total"`
	AvailableMicros int64     `json:"available_micros"`
	LockedMicros    int64     `json:"locked_micros"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newBalanceResponse(b models.Balance) balanceResponse {
	return balanceResponse{
		Asset:           b.Asset,
		Available:       domain.FormatMicrosFixed(b.Available),
		Locked:          domain.FormatMicrosFixed(b.Locked),
		Total:           domain.FormatMicrosFixed(b.Total()),
		AvailableMicros: b.Available,
		LockedMicros:    b.Locked,
		UpdatedAt:       b.UpdatedAt,
	}
}

// GetBalance handles GET /v1/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.GetBalance(r.Context(), a.ID)
	if err != nil {
		respondServiceError(w, r, err, "get balance")
		return
	}
	RespondJSON(w, http.StatusOK, newBalanceResponse(balance))
}

type historyEntry struct {
	models.LedgerEntry
	Amount string `json:"amount"`
}

// GetHistory handles GET /v1/balance/history, newest entries first.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}

	page, pageSize := 1, 20
	if v := r.URL.Query().Get("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-page", "page must be a positive integer")
			return
		}
		page = parsed
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-page-size", "page_size must be between 1 and 100")
			return
		}
		pageSize = parsed
	}

	entries, err := h.svc.GetStatement(r.Context(), a.ID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, err, "get statement")
		return
	}
	items := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyEntry{LedgerEntry: e, Amount: domain.FormatMicrosFixed(e.Amount)})
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
	})
}
