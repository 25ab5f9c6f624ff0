package handler

import (
	"net/http"
	"time"

	"github.com/Big6ixxx/sendzz/internal/api/middleware"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/Big6ixxx/sendzz/internal/service"
	"go.uber.org/zap"
)

// AuthHandler serves passwordless sign in.
type AuthHandler struct {
	svc      *service.AuthService
	limiter  security.Limiter
	tokenTTL time.Duration
}

func NewAuthHandler(svc *service.AuthService, limiter security.Limiter, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthHandler{svc: svc, limiter: limiter, tokenTTL: tokenTTL}
}

type requestCodeRequest struct {
	Email string `json:"email"`
}

// RequestCode handles POST /v1/auth/otp.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		respondServiceError(w, r, err, "request login code")
		return
	}
	if !allow(w, r, h.limiter, "otp_request:"+email, security.LimitOTPRequest) {
		return
	}
	if err := h.svc.RequestLoginCode(r.Context(), email, clientIP(r), r.UserAgent()); err != nil {
		respondServiceError(w, r, err, "request login code")
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address can receive email, a sign in code is on its way",
	})
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// VerifyCode handles POST /v1/auth/verify and issues a session token.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		respondServiceError(w, r, err, "verify login code")
		return
	}
	if req.Code == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-code", "code is required")
		return
	}
	if !allow(w, r, h.limiter, "otp_verify:"+email, security.LimitOTPVerify) {
		return
	}

	user, err := h.svc.VerifyLoginCode(r.Context(), email, req.Code, clientIP(r), r.UserAgent())
	if err != nil {
		respondServiceError(w, r, err, "verify login code")
		return
	}

	token, expiresAt, err := middleware.IssueToken(user.ID.String(), user.Email, user.Role, time.Now(), h.tokenTTL)
	if err != nil {
		zap.L().Error("issue session token failed", zap.Error(err), zap.String("user_id", user.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to issue token")
		return
	}
	RespondJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt, User: *user})
}
