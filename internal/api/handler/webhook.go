package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/Big6ixxx/sendzz/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBytes = 256 << 10

// WebhookHandler handles incoming webhook events from external systems.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandlePaycrestWebhook handles POST /v1/webhooks/paycrest.
func (h *WebhookHandler) HandlePaycrestWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	resp, err := h.webhookSvc.ProcessPaycrestWebhook(r.Context(), body, r.Header.Get(paycrest.SignatureHeader))
	h.respond(w, r, resp, err, "paycrest")
}

// HandleDepositWebhook handles POST /v1/webhooks/deposits.
// It verifies the HMAC signature and credits the deposit.
func (h *WebhookHandler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	resp, err := h.webhookSvc.ProcessDepositWebhook(r.Context(), body, r.Header.Get(service.DepositSignatureHeader))
	h.respond(w, r, resp, err, "deposit")
}

// respond reports failures with their mapped status so the provider retries.
// An event that was stored but not applied is also picked up by the replay
// in the payout worker.
func (h *WebhookHandler) respond(w http.ResponseWriter, r *http.Request, resp *service.WebhookResult, err error, provider string) {
	if err != nil {
		if errors.Is(err, service.ErrMissingSignature) || errors.Is(err, service.ErrInvalidSignature) || errors.Is(err, service.ErrMalformedPayload) {
			zap.L().Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
		}
		respondServiceError(w, r, err, "process "+provider+" webhook")
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return nil, false
	}
	return body, true
}
