package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/api/middleware"
	"github.com/Big6ixxx/sendzz/internal/api/problem"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeJSON reads a size-capped JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Request body must contain a single JSON object")
		return false
	}
	return true
}

type actor struct {
	ID      uuid.UUID
	Email   string
	IsAdmin bool
}

func requestActor(r *http.Request) (actor, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return actor{}, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return actor{}, errors.New("invalid user_id in auth context")
	}

	return actor{
		ID:      actorID,
		Email:   middleware.UserEmailFromContext(r.Context()),
		IsAdmin: middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin,
	}, nil
}

// mustActor resolves the caller or writes a 401.
func mustActor(w http.ResponseWriter, r *http.Request) (actor, bool) {
	a, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return actor{}, false
	}
	return a, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name+"-id", "Invalid "+name+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// pagination parses limit and offset query parameters.
func pagination(w http.ResponseWriter, r *http.Request, defaultLimit int32) (int32, int32, bool) {
	limit := defaultLimit
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(min(parsed, 100))
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}

// allow consults the limiter for key. Limiter failures let the request through.
func allow(w http.ResponseWriter, r *http.Request, limiter security.Limiter, key string, limit security.Limit) bool {
	if limiter == nil {
		return true
	}
	decision, err := limiter.Allow(r.Context(), key, limit)
	if err != nil {
		zap.L().Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	if !decision.Allowed {
		problem.TooManyRequests(w, r, decision.RetryAfter, "Too many requests, try again later")
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorMapping struct {
	target      error
	status      int
	problemType string
}

// serviceErrors is ordered: an ambiguous payout wraps both submission
// sentinels and must resolve to the pending outcome.
var serviceErrors = []errorMapping{
	{domain.ErrInvalidEmail, http.StatusBadRequest, "validation/invalid-email"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "validation/invalid-amount"},
	{domain.ErrAmountTooLarge, http.StatusBadRequest, "validation/amount-too-large"},
	{domain.ErrInvalidCurrency, http.StatusBadRequest, "validation/invalid-currency"},
	{domain.ErrInvalidInstitutionCode, http.StatusBadRequest, "validation/invalid-institution-code"},
	{domain.ErrInvalidAccountNumber, http.StatusBadRequest, "validation/invalid-account-number"},
	{domain.ErrNoteTooLong, http.StatusBadRequest, "validation/note-too-long"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "validation/invalid-amount"},

	{service.ErrUserNotFound, http.StatusNotFound, "account/user-not-found"},
	{service.ErrInsufficientBalance, http.StatusBadRequest, "balance/insufficient-funds"},
	{models.ErrInsufficientFunds, http.StatusBadRequest, "balance/insufficient-funds"},
	{models.ErrConcurrentUpdate, http.StatusConflict, "balance/concurrent-update"},
	{service.ErrDebitFailed, http.StatusConflict, "balance/debit-failed"},
	{service.ErrLockFailed, http.StatusConflict, "balance/lock-failed"},

	{service.ErrSelfTransfer, http.StatusBadRequest, "transfer/self-transfer"},
	{service.ErrInvalidOrExpiredClaim, http.StatusBadRequest, "transfer/invalid-claim"},
	{service.ErrClaimExpired, http.StatusGone, "transfer/claim-expired"},
	{service.ErrRecipientMismatch, http.StatusForbidden, "transfer/recipient-mismatch"},
	{service.ErrTransferNotFound, http.StatusNotFound, "transfer/not-found"},
	{service.ErrTransferNotCancellable, http.StatusConflict, "transfer/not-cancellable"},
	{service.ErrInvalidDirection, http.StatusBadRequest, "transfer/invalid-direction"},

	{service.ErrPayoutPendingReconciliation, http.StatusConflict, "withdrawal/pending-reconciliation"},
	{service.ErrPayoutSubmissionFailed, http.StatusBadGateway, "withdrawal/payout-rejected"},
	{service.ErrInvalidInstitution, http.StatusBadRequest, "withdrawal/invalid-institution"},
	{service.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal/not-found"},
	{service.ErrUnauthorized, http.StatusForbidden, "auth/insufficient-permissions"},
	{service.ErrAlreadyProcessed, http.StatusConflict, "withdrawal/already-processed"},
	{service.ErrCodeExpired, http.StatusGone, "withdrawal/code-expired"},
	{service.ErrInvalidCode, http.StatusBadRequest, "withdrawal/invalid-code"},
	{service.ErrAccountMismatch, http.StatusBadRequest, "withdrawal/account-mismatch"},
	{service.ErrNotInReview, http.StatusConflict, "withdrawal/not-in-review"},
	{service.ErrInvalidReviewDecision, http.StatusBadRequest, "withdrawal/invalid-decision"},

	{service.ErrTooManyAttempts, http.StatusTooManyRequests, "auth/too-many-attempts"},
	{service.ErrInvalidLoginCode, http.StatusUnauthorized, "auth/invalid-code"},
	{service.ErrLoginCodeExpired, http.StatusUnauthorized, "auth/code-expired"},

	{service.ErrMissingSignature, http.StatusUnauthorized, "webhook/missing-signature"},
	{service.ErrInvalidSignature, http.StatusBadRequest, "webhook/invalid-signature"},
	{service.ErrMalformedPayload, http.StatusBadRequest, "webhook/malformed-payload"},
}

// respondServiceError maps a service error to its problem document. Unknown
// errors are logged and reported as 500 without leaking their text.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.problemType, m.target.Error())
			return
		}
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
