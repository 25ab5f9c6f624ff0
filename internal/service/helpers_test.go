package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/gateway"
	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testPaycrestSecret = "paycrest-webhook-secret"
	testDepositSecret  = "deposit-webhook-secret"
	testSealKey        = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

var (
	claimPathPattern = regexp.MustCompile(`/claim/([A-Za-z0-9_-]+)`)
	codePattern      = regexp.MustCompile(`is (\d{6})\.`)
)

func usdc(units int64) int64 {
	return units * 1_000_000
}

type sentEmail struct {
	To  string
	Msg notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (n *recordingNotifier) Notify(to string, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{To: to, Msg: msg})
}

func (n *recordingNotifier) to(email string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, s := range n.sent {
		if s.To == email {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (n *recordingNotifier) last(t *testing.T, email string) notify.Message {
	t.Helper()
	msgs := n.to(email)
	require.NotEmpty(t, msgs, "no email sent to %s", email)
	return msgs[len(msgs)-1]
}

type fixture struct {
	ctx      context.Context
	store    *repository.MemoryStore
	clock    *clock.FakeClock
	notifier *recordingNotifier
	provider *gateway.SandboxProvider

	accounts    *AccountService
	transfers   *TransferService
	withdrawals *WithdrawalService
	webhooks    *WebhookService
	auth        *AuthService
	audit       *AuditService
	recon       *ReconciliationService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	sealer   *security.Sealer
	provider func(*gateway.SandboxProvider) PayoutProvider
}

// withProvider replaces the payout provider; wrap receives the sandbox so
// reference data can still come from it.
func withProvider(wrap func(*gateway.SandboxProvider) PayoutProvider) fixtureOption {
	return func(c *fixtureConfig) {
		c.provider = wrap
	}
}

func withSealer(t *testing.T) fixtureOption {
	return func(c *fixtureConfig) {
		s, err := security.NewSealerFromHex(testSealKey)
		require.NoError(t, err)
		c.sealer = s
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore(clk)
	notifier := &recordingNotifier{}
	provider := gateway.NewSandboxProvider(clk)
	var payouts PayoutProvider = provider
	if cfg.provider != nil {
		payouts = cfg.provider(provider)
	}

	withdrawals := NewWithdrawalService(store, payouts, cfg.sealer, notifier, clk, WithdrawalConfig{})
	return &fixture{
		ctx:         context.Background(),
		store:       store,
		clock:       clk,
		notifier:    notifier,
		provider:    provider,
		accounts:    NewAccountService(store),
		transfers:   NewTransferService(store, notifier, clk, TransferConfig{AppBaseURL: "https://app.sendzz.test/"}),
		withdrawals: withdrawals,
		webhooks: NewWebhookService(store, withdrawals, notifier, clk, WebhookConfig{
			PaycrestSecret: testPaycrestSecret,
			DepositSecret:  testDepositSecret,
		}),
		auth:  NewAuthService(store, notifier, clk, AuthConfig{AdminEmails: []string{"ops@sendzz.test"}}),
		audit: NewAuditService(store),
		recon: NewReconciliationService(store),
	}
}

// createUser registers email and funds it with a seed credit.
func (f *fixture) createUser(t *testing.T, email string, funds int64) models.User {
	t.Helper()
	u, err := f.store.Queries().CreateUser(f.ctx, repository.CreateUserParams{
		ID: uuid.New(), Email: email, Role: domain.RoleUser,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Queries().EnsureBalance(f.ctx, u.ID, domain.AssetUSDC))
	if funds > 0 {
		err = f.store.RunInTx(f.ctx, func(q repository.Querier) error {
			return ledger.New().Credit(f.ctx, q, u.ID, funds, "seed:"+u.ID.String())
		})
		require.NoError(t, err)
	}
	return u
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) models.Balance {
	t.Helper()
	b, err := f.accounts.GetBalance(f.ctx, userID)
	require.NoError(t, err)
	return b
}

// requireBalanced asserts every balance row agrees with its journal.
func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	report, err := f.recon.Run(f.ctx)
	require.NoError(t, err)
	require.Zero(t, report.DriftRows)
	require.Zero(t, report.NegativeBalances)
}

func (f *fixture) claimToken(t *testing.T, email string) string {
	t.Helper()
	msg := f.notifier.last(t, email)
	m := claimPathPattern.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, "no claim link in %q", msg.Text)
	return m[1]
}

func (f *fixture) emailedCode(t *testing.T, email string) string {
	t.Helper()
	msg := f.notifier.last(t, email)
	m := codePattern.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, "no code in %q", msg.Text)
	return m[1]
}

func (f *fixture) auditActions(t *testing.T, userID *uuid.UUID) []string {
	t.Helper()
	entries, err := f.audit.List(f.ctx, userID, "", 500, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func hasSubject(msgs []notify.Message, fragment string) bool {
	for _, m := range msgs {
		if strings.Contains(m.Subject, fragment) {
			return true
		}
	}
	return false
}
