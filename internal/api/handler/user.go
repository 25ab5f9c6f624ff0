package handler

import (
	"net/http"

	"github.com/Big6ixxx/sendzz/internal/service"
)

// UserHandler serves the signed in user's profile.
type UserHandler struct {
	svc *service.AccountService
}

func NewUserHandler(svc *service.AccountService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Me handles GET /v1/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := mustActor(w, r)
	if !ok {
		return
	}
	user, err := h.svc.GetUser(r.Context(), a.ID)
	if err != nil {
		respondServiceError(w, r, err, "get user")
		return
	}
	RespondJSON(w, http.StatusOK, user)
}
