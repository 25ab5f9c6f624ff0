package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/Big6ixxx/sendzz/internal/api"
	"github.com/Big6ixxx/sendzz/internal/api/middleware"
	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/config"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/gateway"
	"github.com/Big6ixxx/sendzz/internal/idempotency"
	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret      = "test-secret-0123456789-test-secret"
	testJWTIssuer      = "sendzz-test"
	testJWTAudience    = "sendzz-api-test"
	testPaycrestSecret = "paycrest-secret"
	testDepositSecret  = "deposit-secret"
)

var (
	codePattern  = regexp.MustCompile(`is (\d{6})\.`)
	claimPattern = regexp.MustCompile(`/claim/([A-Za-z0-9_-]+)`)
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type outbox struct {
	mu   sync.Mutex
	sent map[string][]notify.Message
}

func (o *outbox) Notify(to string, msg notify.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[to] = append(o.sent[to], msg)
}

func (o *outbox) last(t *testing.T, to string) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.sent[to]
	require.NotEmpty(t, msgs, "no email sent to %s", to)
	return msgs[len(msgs)-1]
}

type testEnv struct {
	handler  http.Handler
	store    *repository.MemoryStore
	clock    *clock.FakeClock
	outbox   *outbox
	provider *gateway.SandboxProvider
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore(clk)
	box := &outbox{sent: make(map[string][]notify.Message)}
	provider := gateway.NewSandboxProvider(clk)

	withdrawals := service.NewWithdrawalService(store, provider, nil, box, clk, service.WithdrawalConfig{})
	services := api.Services{
		Accounts:    service.NewAccountService(store),
		Auth:        service.NewAuthService(store, box, clk, service.AuthConfig{AdminEmails: []string{"ops@sendzz.test"}}),
		Transfers:   service.NewTransferService(store, box, clk, service.TransferConfig{AppBaseURL: "https://app.sendzz.test"}),
		Withdrawals: withdrawals,
		Webhooks: service.NewWebhookService(store, withdrawals, box, clk, service.WebhookConfig{
			PaycrestSecret: testPaycrestSecret,
			DepositSecret:  testDepositSecret,
		}),
		Audit: service.NewAuditService(store),
	}
	cfg := &config.Config{
		JWTTTL:             time.Hour,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		IdempotencyTTL:     time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), services, api.Deps{
		Idempotency: idempotency.NewStore(nil, store.Queries(), cfg.IdempotencyTTL),
		Limiter:     security.NewMemoryLimiter(clk),
	})
	return &testEnv{handler: router.Routes(), store: store, clock: clk, outbox: box, provider: provider}
}

func (e *testEnv) createUser(t *testing.T, email string, units int64) models.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.store.Queries().CreateUser(ctx, repository.CreateUserParams{ID: uuid.New(), Email: email, Role: domain.RoleUser})
	require.NoError(t, err)
	require.NoError(t, e.store.Queries().EnsureBalance(ctx, u.ID, domain.AssetUSDC))
	if units > 0 {
		require.NoError(t, e.store.RunInTx(ctx, func(q repository.Querier) error {
			return ledger.New().Credit(ctx, q, u.ID, units*1_000_000, "seed:"+u.ID.String())
		}))
	}
	return u
}

func tokenFor(t *testing.T, u models.User) string {
	t.Helper()
	token, _, err := middleware.IssueToken(u.ID.String(), u.Email, u.Role, time.Now(), time.Hour)
	require.NoError(t, err)
	return token
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (e *testEnv) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := r.body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) emailedCode(t *testing.T, to string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(e.outbox.last(t, to).Text)
	require.Len(t, m, 2)
	return m[1]
}

func (e *testEnv) balance(t *testing.T, token string) map[string]any {
	t.Helper()
	w := e.do(t, request{method: http.MethodGet, path: "/v1/balance", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[map[string]any](t, w)
}

func TestRFC7807ProblemDetails(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, request{method: http.MethodGet, path: "/v1/balance"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode[map[string]any](t, w)
	assert.Equal(t, "https://errors.sendzz.io/auth/authorization-header-required", body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/balance", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestTraceIDIsEchoed(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, request{method: http.MethodGet, path: "/health/live", headers: map[string]string{"X-Trace-ID": "trace-123"}})
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w = env.do(t, request{method: http.MethodGet, path: "/health/live", headers: map[string]string{"X-Trace-ID": "has space"}})
	assert.NotEqual(t, "has space", w.Header().Get("X-Trace-ID"))
	_, err := uuid.Parse(w.Header().Get("X-Trace-ID"))
	assert.NoError(t, err)
}

func TestLoginIssuesSessionToken(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, request{method: http.MethodPost, path: "/v1/auth/otp", body: map[string]string{"email": "Ada@Example.com"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = env.do(t, request{method: http.MethodPost, path: "/v1/auth/verify", body: map[string]string{
		"email": "ada@example.com",
		"code":  env.emailedCode(t, "ada@example.com"),
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	type sessionBody struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	session := decode[sessionBody](t, w)
	assert.Equal(t, "ada@example.com", session.User.Email)

	parsed, err := jwt.Parse(session.Token, func(token *jwt.Token) (interface{}, error) {
		return middleware.JWTSecret(), nil
	}, jwt.WithIssuer(testJWTIssuer), jwt.WithAudience(testJWTAudience))
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, domain.RoleUser, claims["role"])
	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, session.User.ID.String(), claims["user_id"])

	w = env.do(t, request{method: http.MethodGet, path: "/v1/me", token: session.Token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.User.ID, decode[models.User](t, w).ID)

	bal := env.balance(t, session.Token)
	assert.Equal(t, "0.00", bal["available"])
}

func TestLoginRejections(t *testing.T) {
	env := setupAPI(t)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{name: "invalid_email", path: "/v1/auth/otp", body: map[string]string{"email": "nope"}, status: http.StatusBadRequest},
		{name: "unknown_field", path: "/v1/auth/otp", body: map[string]string{"email": "a@b.co", "role": "admin"}, status: http.StatusBadRequest},
		{name: "missing_code", path: "/v1/auth/verify", body: map[string]string{"email": "a@b.co"}, status: http.StatusBadRequest},
		{name: "no_challenge", path: "/v1/auth/verify", body: map[string]string{"email": "a@b.co", "code": "123456"}, status: http.StatusUnauthorized},
		{name: "malformed_json", path: "/v1/auth/otp", body: []byte(`{"email":`), status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, request{method: http.MethodPost, path: tc.path, body: tc.body})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestLoginCodeRequestsAreRateLimited(t *testing.T) {
	env := setupAPI(t)

	for i := 0; i < security.LimitOTPRequest.Max; i++ {
		w := env.do(t, request{method: http.MethodPost, path: "/v1/auth/otp", body: map[string]string{"email": "spam@example.com"}})
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	w := env.do(t, request{method: http.MethodPost, path: "/v1/auth/otp", body: map[string]string{"email": "spam@example.com"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Other addresses are unaffected.
	w = env.do(t, request{method: http.MethodPost, path: "/v1/auth/otp", body: map[string]string{"email": "other@example.com"}})
	assert.Equal(t, http.StatusAccepted, w.Code)

	env.clock.Advance(time.Hour + time.Second)
	w = env.do(t, request{method: http.MethodPost, path: "/v1/auth/otp", body: map[string]string{"email": "spam@example.com"}})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTransferIdempotency(t *testing.T) {
	env := setupAPI(t)
	sender := env.createUser(t, "ayo@test.com", 100)
	recipient := env.createUser(t, "david@test.com", 0)
	token := tokenFor(t, sender)

	body := map[string]string{"recipient_email": recipient.Email, "amount": "50"}
	key := uuid.NewString()

	w1 := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: body, token: token, headers: map[string]string{"Idempotency-Key": key}})
	require.Equal(t, http.StatusCreated, w1.Code, w1.Body.String())
	first := decode[struct {
		Transfer struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
			Amount string    `json:"amount"`
		} `json:"transfer"`
		ClaimRequired bool `json:"claim_required"`
	}](t, w1)
	assert.False(t, first.ClaimRequired)
	assert.Equal(t, domain.TransferStatusCompleted, first.Transfer.Status)
	assert.Equal(t, "50.00", first.Transfer.Amount)

	w2 := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: body, token: token, headers: map[string]string{"Idempotency-Key": key}})
	require.Equal(t, http.StatusCreated, w2.Code)
	assert.Equal(t, "database", w2.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, w1.Body.String(), w2.Body.String())

	assert.Equal(t, "50.00", env.balance(t, token)["available"])
	assert.Equal(t, "50.00", env.balance(t, tokenFor(t, recipient))["available"])

	w := env.do(t, request{method: http.MethodGet, path: "/v1/balance/history?page_size=10", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	history := decode[struct {
		Items []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
		} `json:"items"`
		PageSize int `json:"page_size"`
	}](t, w)
	assert.Equal(t, 10, history.PageSize)
	require.Len(t, history.Items, 2)
	assert.Equal(t, domain.EntryDebit, history.Items[0].Kind)
	assert.Equal(t, "50.00", history.Items[0].Amount)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/balance/history?page_size=500", token: token})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Same key, different body.
	w3 := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: map[string]string{"recipient_email": recipient.Email, "amount": "1"}, token: token, headers: map[string]string{"Idempotency-Key": key}})
	assert.Equal(t, http.StatusConflict, w3.Code)

	// Keys are scoped per user.
	w4 := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: map[string]string{"recipient_email": sender.Email, "amount": "5"}, token: tokenFor(t, recipient), headers: map[string]string{"Idempotency-Key": key}})
	assert.Equal(t, http.StatusCreated, w4.Code, w4.Body.String())

	w5 := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: body, token: token})
	assert.Equal(t, http.StatusBadRequest, w5.Code)
}

func TestTransferErrorsMapToProblems(t *testing.T) {
	env := setupAPI(t)
	sender := env.createUser(t, "poor@test.com", 5)
	token := tokenFor(t, sender)

	cases := []struct {
		name   string
		body   map[string]string
		status int
		slug   string
	}{
		{name: "insufficient", body: map[string]string{"recipient_email": "x@test.com", "amount": "10"}, status: http.StatusBadRequest, slug: "balance/insufficient-funds"},
		{name: "bad_amount", body: map[string]string{"recipient_email": "x@test.com", "amount": "1.2345678"}, status: http.StatusBadRequest, slug: "validation/invalid-amount"},
		{name: "self", body: map[string]string{"recipient_email": "POOR@test.com", "amount": "1"}, status: http.StatusBadRequest, slug: "transfer/self-transfer"},
		{name: "bad_email", body: map[string]string{"recipient_email": "nobody", "amount": "1"}, status: http.StatusBadRequest, slug: "validation/invalid-email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", body: tc.body, token: token, headers: map[string]string{"Idempotency-Key": uuid.NewString()}})
			require.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, "https://errors.sendzz.io/"+tc.slug, decode[map[string]any](t, w)["type"])
		})
	}
	assert.Equal(t, "5.00", env.balance(t, token)["available"])
}

func TestClaimAndCancelOverHTTP(t *testing.T) {
	env := setupAPI(t)
	sender := env.createUser(t, "sender@test.com", 40)
	senderToken := tokenFor(t, sender)

	w := env.do(t, request{method: http.MethodPost, path: "/v1/transfers", token: senderToken,
		body:    map[string]string{"recipient_email": "new@test.com", "amount": "15", "note": "lunch"},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, decode[map[string]any](t, w)["claim_required"].(bool))

	m := claimPattern.FindStringSubmatch(env.outbox.last(t, "new@test.com").Text)
	require.Len(t, m, 2)

	recipient := env.createUser(t, "new@test.com", 0)
	recipientToken := tokenFor(t, recipient)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/transfers/pending-claims", token: recipientToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/claim", token: recipientToken, body: map[string]string{"token": m[1]}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "15.00", env.balance(t, recipientToken)["available"])

	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/claim", token: recipientToken, body: map[string]string{"token": m[1]}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A second pending transfer is cancelled by the sender.
	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers", token: senderToken,
		body:    map[string]string{"recipient_email": "later@test.com", "amount": "5"},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()}})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[struct {
		Transfer struct {
			ID uuid.UUID `json:"id"`
		} `json:"transfer"`
	}](t, w).Transfer.ID

	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/" + id.String() + "/cancel", token: recipientToken})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/" + id.String() + "/cancel", token: senderToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/" + id.String() + "/cancel", token: senderToken})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, request{method: http.MethodPost, path: "/v1/transfers/not-a-uuid/cancel", token: senderToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, "25.00", env.balance(t, senderToken)["available"])

	w = env.do(t, request{method: http.MethodGet, path: "/v1/transfers?direction=sent", token: senderToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["count"])
	w = env.do(t, request{method: http.MethodGet, path: "/v1/transfers?direction=sideways", token: senderToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWithdrawalFlowOverHTTP(t *testing.T) {
	env := setupAPI(t)
	user := env.createUser(t, "payout@test.com", 100)
	token := tokenFor(t, user)

	w := env.do(t, request{method: http.MethodPost, path: "/v1/withdrawals", token: token,
		body: map[string]string{
			"amount":           "30",
			"currency":         "ngn",
			"institution_code": "GTBINGLA",
			"account_number":   "0123456789",
		},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[struct {
		Withdrawal struct {
			ID                uuid.UUID `json:"id"`
			Status            string    `json:"status"`
			BankAccountMasked string    `json:"bank_account_masked"`
		} `json:"withdrawal"`
	}](t, w).Withdrawal
	assert.Equal(t, domain.WithdrawalStatusAwaitingVerification, created.Status)
	assert.Equal(t, "******6789", created.BankAccountMasked)

	bal := env.balance(t, token)
	assert.Equal(t, "70.00", bal["available"])
	assert.Equal(t, "30.00", bal["locked"])

	verifyPath := "/v1/withdrawals/" + created.ID.String() + "/verify"
	w = env.do(t, request{method: http.MethodPost, path: verifyPath, token: token, body: map[string]string{"code": "000000", "account_number": "0123456789"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, request{method: http.MethodPost, path: verifyPath, token: token, body: map[string]string{
		"code":           env.emailedCode(t, user.Email),
		"account_number": "0123456789",
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[models.Withdrawal](t, w)
	assert.Equal(t, domain.WithdrawalStatusProcessing, verified.Status)
	require.NotNil(t, verified.PayoutOrderID)

	w = env.do(t, request{method: http.MethodPost, path: verifyPath, token: token, body: map[string]string{"code": "123456", "account_number": "0123456789"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Settlement arrives from the provider.
	event, err := json.Marshal(map[string]any{
		"event":     "order.settled",
		"eventId":   "evt-1",
		"timestamp": "2026-03-01T09:05:00Z",
		"data": map[string]any{
			"id":         *verified.PayoutOrderID,
			"reference":  verified.PayoutReference,
			"status":     "settled",
			"fiatAmount": "45000.00",
		},
	})
	require.NoError(t, err)
	w = env.do(t, request{method: http.MethodPost, path: "/v1/webhooks/paycrest", body: event, headers: map[string]string{"X-Paycrest-Signature": hexHMAC(event, testPaycrestSecret)}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, request{method: http.MethodGet, path: "/v1/withdrawals/" + created.ID.String(), token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.WithdrawalStatusCompleted, decode[models.Withdrawal](t, w).Status)

	bal = env.balance(t, token)
	assert.Equal(t, "70.00", bal["available"])
	assert.Equal(t, "0.00", bal["locked"])

	other := env.createUser(t, "other@test.com", 0)
	w = env.do(t, request{method: http.MethodGet, path: "/v1/withdrawals/" + created.ID.String(), token: tokenFor(t, other)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/withdrawals", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])
}

func TestPayoutReferenceData(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, request{method: http.MethodGet, path: "/v1/payouts/currencies"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/payouts/institutions/ngn"})
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[map[string][]map[string]any](t, w)["items"]
	assert.NotEmpty(t, items)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/payouts/institutions/naira"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := setupAPI(t)
	user := env.createUser(t, "user@test.com", 0)
	admin := env.createUser(t, "ops@sendzz.test", 0)
	admin.Role = domain.RoleAdmin

	for _, path := range []string{"/v1/admin/audit-logs", "/v1/admin/withdrawals/review"} {
		w := env.do(t, request{method: http.MethodGet, path: path, token: tokenFor(t, user)})
		assert.Equal(t, http.StatusForbidden, w.Code, path)

		w = env.do(t, request{method: http.MethodGet, path: path, token: tokenFor(t, admin)})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := env.do(t, request{method: http.MethodPost, path: "/v1/admin/withdrawals/" + uuid.NewString() + "/resolve", token: tokenFor(t, admin),
		body: map[string]string{"decision": "complete", "reason": "bank confirmed"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, request{method: http.MethodPost, path: "/v1/admin/withdrawals/" + uuid.NewString() + "/resolve", token: tokenFor(t, admin),
		body: map[string]string{"decision": "complete"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/v1/admin/audit-logs?user_id=nope", token: tokenFor(t, admin)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDepositWebhook(t *testing.T) {
	env := setupAPI(t)
	user := env.createUser(t, "dep@test.com", 0)

	body := []byte(`{"event_id":"dep-1","email":"dep@test.com","amount":"12.5","asset":"USDC","tx_hash":"0xabc"}`)

	cases := []struct {
		name    string
		sig     string
		status  int
		message string
	}{
		{name: "missing_signature", sig: "", status: http.StatusUnauthorized},
		{name: "bad_signature", sig: "sha256=deadbeef", status: http.StatusBadRequest},
		{name: "credited", sig: "sha256=" + hexHMAC(body, testDepositSecret), status: http.StatusOK, message: "deposit credited"},
		{name: "duplicate", sig: "sha256=" + hexHMAC(body, testDepositSecret), status: http.StatusOK, message: "deposit already processed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, request{method: http.MethodPost, path: "/v1/webhooks/deposits", body: body, headers: map[string]string{"X-Webhook-Signature": tc.sig}})
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.message != "" {
				assert.Equal(t, tc.message, decode[service.WebhookResult](t, w).Message)
			}
		})
	}
	assert.Equal(t, "12.50", env.balance(t, tokenFor(t, user))["available"])

	unknown := []byte(`{"event_id":"dep-2","email":"ghost@test.com","amount":"1"}`)
	w := env.do(t, request{method: http.MethodPost, path: "/v1/webhooks/deposits", body: unknown, headers: map[string]string{"X-Webhook-Signature": "sha256=" + hexHMAC(unknown, testDepositSecret)}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, request{method: http.MethodPost, path: "/v1/webhooks/paycrest", body: body, headers: map[string]string{"X-Paycrest-Signature": "00"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "https://errors.sendzz.io/webhook/invalid-signature", decode[map[string]any](t, w)["type"])

	w = env.do(t, request{method: http.MethodPost, path: "/v1/webhooks/paycrest", body: body})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "https://errors.sendzz.io/webhook/missing-signature", decode[map[string]any](t, w)["type"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, request{method: http.MethodGet, path: tc.path})
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestInvalidTokensAreRejected(t *testing.T) {
	env := setupAPI(t)
	user := env.createUser(t, "t@test.com", 0)

	expired, _, err := middleware.IssueToken(user.ID.String(), user.Email, user.Role, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID.String(),
		"email":   user.Email,
		"role":    domain.RoleAdmin,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	forgedToken, err := forged.SignedString([]byte("some-other-secret-that-is-long-enough"))
	require.NoError(t, err)

	for name, header := range map[string]string{
		"expired":    "Bearer " + expired,
		"forged":     "Bearer " + forgedToken,
		"not_bearer": "Token abc",
	} {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, request{method: http.MethodGet, path: "/v1/me", headers: map[string]string{"Authorization": header}})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func hexHMAC(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
