package handler

import (
	"net/http"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/go-chi/chi/v5"
)

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

type transferView struct {
	models.Transfer
	Amount string `json:"amount"`
}

func newTransferView(t models.Transfer) transferView {
	return transferView{Transfer: t, Amount: domain.FormatMicrosFixed(t.AmountMicros)}
}

func newTransferViews(ts []models.Transfer) []transferView {
	out := make([]transferView, 0, len(ts))
	for _, t := range ts {
		out = append(out, newTransferView(t))
	}
	return out
}

type sendTransferRequest struct {
	RecipientEmail string `json:"recipient_email"`
	Amount         string `json:"amount"`
	Note           string `json:"note,omitempty"`
}

// SendTransfer handles POST /v1/transfers.
func (h *TransferHandler) SendTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req sendTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondServiceError(w, r, err, "parse amount")
		return
	}

	result, err := h.svc.SendTransfer(r.Context(), service.SendTransferRequest{
		SenderID:       a.ID,
		SenderEmail:    a.Email,
		RecipientEmail: req.RecipientEmail,
		AmountMicros:   amount,
		Note:           req.Note,
	})
	if err != nil {
		respondServiceError(w, r, err, "send transfer")
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"transfer":       newTransferView(result.Transfer),
		"claim_required": result.ClaimRequired,
	})
}

type claimTransferRequest struct {
	Token string `json:"token"`
}

// ClaimTransfer handles POST /v1/transfers/claim.
func (h *TransferHandler) ClaimTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req claimTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-token", "token is required")
		return
	}
	t, err := h.svc.ClaimTransfer(r.Context(), req.Token, a.ID, a.Email)
	if err != nil {
		respondServiceError(w, r, err, "claim transfer")
		return
	}
	RespondJSON(w, http.StatusOK, newTransferView(*t))
}

// CancelTransfer handles POST /v1/transfers/{id}/cancel.
func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, chi.URLParam(r, "id"), "transfer")
	if !ok {
		return
	}
	t, err := h.svc.CancelTransfer(r.Context(), id, a.ID)
	if err != nil {
		respondServiceError(w, r, err, "cancel transfer")
		return
	}
	RespondJSON(w, http.StatusOK, newTransferView(*t))
}

// ListTransfers handles GET /v1/transfers?direction=all|sent|received.
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r, 20)
	if !ok {
		return
	}
	transfers, err := h.svc.ListTransfers(r.Context(), a.ID, r.URL.Query().Get("direction"), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list transfers")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  newTransferViews(transfers),
		"limit":  limit,
		"offset": offset,
		"count":  len(transfers),
	})
}

// PendingClaims handles GET /v1/transfers/pending-claims.
func (h *TransferHandler) PendingClaims(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	transfers, err := h.svc.PendingClaimsForEmail(r.Context(), a.Email)
	if err != nil {
		respondServiceError(w, r, err, "list pending claims")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": newTransferViews(transfers),
		"count": len(transfers),
	})
}
