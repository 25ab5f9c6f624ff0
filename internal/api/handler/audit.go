package handler

import (
	"net/http"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/google/uuid"
)

// AuditHandler exposes the audit trail to operators.
type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// ListAuditLogs handles GET /v1/admin/audit-logs?user_id=&action=.
func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r, 50)
	if !ok {
		return
	}
	var userID *uuid.UUID
	if v := strings.TrimSpace(r.URL.Query().Get("user_id")); v != "" {
		id, ok := pathUUID(w, r, v, "user")
		if !ok {
			return
		}
		userID = &id
	}
	entries, err := h.svc.List(r.Context(), userID, strings.TrimSpace(r.URL.Query().Get("action")), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list audit logs")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  entries,
		"limit":  limit,
		"offset": offset,
		"count":  len(entries),
	})
}
