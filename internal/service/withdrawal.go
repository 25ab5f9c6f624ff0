package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayoutProvider is the fiat payout rail. paycrest.Client and
// gateway.SandboxProvider both satisfy it.
type PayoutProvider interface {
	CreateOrder(ctx context.Context, req paycrest.CreateOrderRequest) (*paycrest.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paycrest.Order, error)
	Currencies(ctx context.Context) ([]paycrest.Currency, error)
	Institutions(ctx context.Context, currency string) ([]paycrest.Institution, error)
}

const (
	DefaultOTPExpiry        = 10 * time.Minute
	DefaultOTPMaxFailures   = 5
	DefaultOTPFailureWindow = time.Hour
	DefaultPayoutStaleAfter = 15 * time.Minute

	bankAccountVisibleDigits = 4
)

type WithdrawalConfig struct {
	OTPExpiry        time.Duration
	OTPMaxFailures   int
	OTPFailureWindow time.Duration
	// StaleAfter is how long a payout may sit without news before the
	// reconciliation job polls the provider or flags it for review.
	StaleAfter    time.Duration
	PayoutToken   string
	PayoutNetwork string
}

func (c WithdrawalConfig) withDefaults() WithdrawalConfig {
	if c.OTPExpiry <= 0 {
		c.OTPExpiry = DefaultOTPExpiry
	}
	if c.OTPMaxFailures <= 0 {
		c.OTPMaxFailures = DefaultOTPMaxFailures
	}
	if c.OTPFailureWindow <= 0 {
		c.OTPFailureWindow = DefaultOTPFailureWindow
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultPayoutStaleAfter
	}
	if c.PayoutToken == "" {
		c.PayoutToken = domain.AssetUSDC
	}
	if c.PayoutNetwork == "" {
		c.PayoutNetwork = "base"
	}
	return c
}

// WithdrawalService drives a withdrawal from fund lock through code
// verification, provider submission and settlement.
type WithdrawalService struct {
	store    QueryStore
	ledger   *ledger.Ledger
	audit    *AuditService
	provider PayoutProvider
	sealer   *security.Sealer
	notifier Notifier
	clock    clock.Clock
	cfg      WithdrawalConfig
}

// NewWithdrawalService builds the service. sealer may be nil, in which case
// only the masked account number is stored and the caller must resend the
// full number at verification.
func NewWithdrawalService(store QueryStore, provider PayoutProvider, sealer *security.Sealer, notifier Notifier, clk clock.Clock, cfg WithdrawalConfig) *WithdrawalService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &WithdrawalService{
		store:    store,
		ledger:   ledger.New(),
		audit:    NewAuditService(store),
		provider: provider,
		sealer:   sealer,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg.withDefaults(),
	}
}

func withdrawalRef(id uuid.UUID, step string) string {
	return "withdrawal:" + id.String() + ":" + step
}

type InitiateWithdrawalRequest struct {
	UserID          uuid.UUID
	AmountMicros    int64
	FiatCurrency    string
	InstitutionCode string
	AccountNumber   string
	AccountName     string
}

// InitiateWithdrawal locks the amount, stores the withdrawal awaiting code
// verification and emails the code to the user.
func (s *WithdrawalService) InitiateWithdrawal(ctx context.Context, req InitiateWithdrawalRequest) (*models.Withdrawal, error) {
	if req.AmountMicros <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.AmountMicros > domain.MaxAmountMicros {
		return nil, domain.ErrAmountTooLarge
	}
	currency, err := domain.NormalizeCurrency(req.FiatCurrency)
	if err != nil {
		return nil, err
	}
	institution, err := domain.NormalizeInstitutionCode(req.InstitutionCode)
	if err != nil {
		return nil, err
	}
	account, err := domain.NormalizeAccountNumber(req.AccountNumber)
	if err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	user, err := queries.GetUser(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	balance, err := s.ledger.Balance(ctx, queries, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance.Available < req.AmountMicros {
		observability.IncrementWithdrawal("insufficient_balance")
		return nil, ErrInsufficientBalance
	}

	if err := s.checkInstitution(ctx, currency, institution); err != nil {
		return nil, err
	}

	code, err := security.GenerateOTPCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	withdrawalID := uuid.New()
	var sealed []byte
	if s.sealer != nil {
		sealed, err = s.sealer.Seal([]byte(account), []byte(withdrawalID.String()))
		if err != nil {
			return nil, fmt.Errorf("seal account number: %w", err)
		}
	}

	var w models.Withdrawal
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := s.ledger.Lock(ctx, q, req.UserID, req.AmountMicros, withdrawalRef(withdrawalID, "lock")); err != nil {
			if errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrConcurrentUpdate) {
				return fmt.Errorf("%w: %v", ErrLockFailed, err)
			}
			return fmt.Errorf("lock funds: %w", err)
		}

		w, err = q.CreateWithdrawal(ctx, repository.CreateWithdrawalParams{
			ID:                    withdrawalID,
			UserID:                req.UserID,
			AmountMicros:          req.AmountMicros,
			FiatCurrency:          currency,
			InstitutionCode:       institution,
			BankAccountMasked:     security.MaskSensitiveData(account, bankAccountVisibleDigits),
			BankAccountSealed:     sealed,
			AccountName:           strPtr(strings.TrimSpace(req.AccountName)),
			VerificationTokenHash: security.HashToken(code),
			VerificationExpiresAt: security.ExpiryAfter(s.clock.Now(), s.cfg.OTPExpiry),
			PayoutReference:       domain.PayoutReference(withdrawalID.String()),
		})
		if err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}

		return s.audit.Write(ctx, q, &req.UserID, domain.AuditWithdrawalInitiated, map[string]any{
			"withdrawal_id":    withdrawalID,
			"amount":           domain.FormatMicros(req.AmountMicros),
			"fiat_currency":    currency,
			"institution_code": institution,
		})
	})
	if err != nil {
		observability.IncrementWithdrawal("initiate_failed")
		return nil, err
	}

	observability.IncrementWithdrawal("initiated")
	send(s.notifier, user.Email, func() (notify.Message, error) {
		return notify.WithdrawalCode(code, domain.FormatMicrosFixed(w.AmountMicros), w.FiatCurrency)
	})
	return &w, nil
}

func (s *WithdrawalService) checkInstitution(ctx context.Context, currency, code string) error {
	institutions, err := s.provider.Institutions(ctx, currency)
	if err != nil {
		if paycrest.IsDefinite(err) {
			return fmt.Errorf("%w: %v", ErrInvalidInstitution, err)
		}
		return fmt.Errorf("lookup institutions: %w", err)
	}
	for _, inst := range institutions {
		if strings.EqualFold(inst.Code, code) {
			return nil
		}
	}
	return ErrInvalidInstitution
}

type VerifyWithdrawalRequest struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Code         string
	// AccountNumber may be empty when the number was sealed at initiation.
	AccountNumber string
	AccountName   string
	IP            string
	UserAgent     string
}

// VerifyWithdrawal checks the emailed code and submits the payout. A provider
// failure never unlocks funds: a definite rejection allows another attempt,
// an unknown outcome parks the withdrawal until the provider's webhook or an
// operator resolves it.
func (s *WithdrawalService) VerifyWithdrawal(ctx context.Context, req VerifyWithdrawalRequest) (*models.Withdrawal, error) {
	queries := s.store.Queries()
	w, err := queries.GetWithdrawal(ctx, req.WithdrawalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	if w.UserID != req.UserID {
		return nil, ErrUnauthorized
	}
	if w.VerificationStatus != domain.VerificationStatusPending {
		return nil, ErrAlreadyProcessed
	}
	if w.PayoutSubmittedAt != nil {
		return nil, ErrPayoutPendingReconciliation
	}

	now := s.clock.Now()
	if now.After(w.VerificationExpiresAt) {
		if _, err := s.expireWithdrawal(ctx, w, "verification code expired"); err != nil {
			zap.L().Error("lazy withdrawal expiry failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
			return nil, err
		}
		return nil, ErrCodeExpired
	}

	user, err := queries.GetUser(ctx, w.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	failures, err := queries.CountRecentFailedOTPAttempts(ctx, user.Email, domain.OTPPurposeWithdrawal, now.Add(-s.cfg.OTPFailureWindow))
	if err != nil {
		return nil, fmt.Errorf("count failed attempts: %w", err)
	}
	if failures >= int64(s.cfg.OTPMaxFailures) {
		return nil, ErrTooManyAttempts
	}

	logAttempt := func(success bool) {
		if err := queries.InsertOTPLog(ctx, repository.InsertOTPLogParams{
			UserID:    &w.UserID,
			Email:     user.Email,
			Purpose:   domain.OTPPurposeWithdrawal,
			Success:   success,
			IP:        req.IP,
			UserAgent: req.UserAgent,
		}); err != nil {
			zap.L().Warn("otp log write failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		}
	}
	if w.VerificationTokenHash == nil || !security.VerifyToken(strings.TrimSpace(req.Code), *w.VerificationTokenHash) {
		logAttempt(false)
		return nil, ErrInvalidCode
	}

	account, err := s.resolveAccountNumber(w, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	logAttempt(true)

	accountName := strings.TrimSpace(req.AccountName)
	if accountName == "" && w.AccountName != nil {
		accountName = *w.AccountName
	}

	rows, err := queries.MarkPayoutSubmitted(ctx, w.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark payout submitted: %w", err)
	}
	if rows == 0 {
		return nil, ErrAlreadyProcessed
	}

	order, err := s.provider.CreateOrder(ctx, paycrest.CreateOrderRequest{
		Amount:   domain.FormatMicros(w.AmountMicros),
		Token:    s.cfg.PayoutToken,
		Network:  s.cfg.PayoutNetwork,
		Currency: w.FiatCurrency,
		Recipient: paycrest.Recipient{
			InstitutionCode: w.InstitutionCode,
			AccountNumber:   account,
			AccountName:     accountName,
		},
		Reference: w.PayoutReference,
	})
	if err != nil {
		return nil, s.handleSubmissionFailure(ctx, w, err)
	}

	var verified models.Withdrawal
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.MarkWithdrawalVerified(ctx, w.ID, order.ID)
		if err != nil {
			return fmt.Errorf("mark withdrawal verified: %w", err)
		}
		if err := requireExactlyOne(rows, "mark withdrawal verified"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, q, &w.UserID, domain.AuditWithdrawalVerified, map[string]any{
			"withdrawal_id": w.ID,
			"order_id":      order.ID,
			"amount":        domain.FormatMicros(w.AmountMicros),
		}); err != nil {
			return err
		}
		verified, err = q.GetWithdrawal(ctx, w.ID)
		return err
	})
	if err != nil {
		// The provider holds the order; the submission marker stays set so the
		// webhook (matched by reference) or review settles it.
		zap.L().Error("payout accepted by provider but local finalization failed; left for reconciliation",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrPayoutPendingReconciliation, err)
	}

	observability.IncrementWithdrawal("verified")
	return &verified, nil
}

func (s *WithdrawalService) resolveAccountNumber(w models.Withdrawal, supplied string) (string, error) {
	supplied = strings.TrimSpace(supplied)
	if len(w.BankAccountSealed) > 0 && s.sealer != nil {
		plain, err := s.sealer.Open(w.BankAccountSealed, []byte(w.ID.String()))
		if err != nil {
			return "", fmt.Errorf("open sealed account: %w", err)
		}
		if supplied != "" && supplied != string(plain) {
			return "", ErrAccountMismatch
		}
		return string(plain), nil
	}

	account, err := domain.NormalizeAccountNumber(supplied)
	if err != nil {
		return "", err
	}
	if security.MaskSensitiveData(account, bankAccountVisibleDigits) != w.BankAccountMasked {
		return "", ErrAccountMismatch
	}
	return account, nil
}

func (s *WithdrawalService) handleSubmissionFailure(ctx context.Context, w models.Withdrawal, cause error) error {
	definite := paycrest.IsDefinite(cause)
	s.audit.Record(ctx, &w.UserID, domain.AuditWithdrawalSubmitFailed, map[string]any{
		"withdrawal_id": w.ID,
		"definite":      definite,
		"error":         cause.Error(),
	})

	if definite {
		if _, err := s.store.Queries().ClearPayoutSubmitted(ctx, w.ID); err != nil {
			zap.L().Error("clear payout submission marker failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		}
		observability.IncrementWithdrawal("submission_rejected")
		zap.L().Warn("payout rejected by provider", zap.String("withdrawal_id", w.ID.String()), zap.Error(cause))
		return fmt.Errorf("%w: %v", ErrPayoutSubmissionFailed, cause)
	}

	observability.IncrementWithdrawal("submission_ambiguous")
	zap.L().Error("payout submission outcome unknown; funds stay locked pending reconciliation",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("reference", w.PayoutReference),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %w: %v", ErrPayoutSubmissionFailed, ErrPayoutPendingReconciliation, cause)
}

// CompleteWithdrawal settles a withdrawal: the locked amount leaves the system.
func (s *WithdrawalService) CompleteWithdrawal(ctx context.Context, withdrawalID uuid.UUID, fiatAmount *string) (*models.Withdrawal, error) {
	return s.applyByID(ctx, withdrawalID, domain.PayoutCompleted, OutcomeOptions{FiatAmount: fiatAmount, Source: "api"})
}

// FailWithdrawal returns the locked amount to the user's available balance.
func (s *WithdrawalService) FailWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error) {
	return s.applyByID(ctx, withdrawalID, domain.PayoutFailed, OutcomeOptions{Reason: reason, Source: "api"})
}

func (s *WithdrawalService) applyByID(ctx context.Context, withdrawalID uuid.UUID, outcome domain.PayoutOutcome, opts OutcomeOptions) (*models.Withdrawal, error) {
	var (
		result  models.Withdrawal
		applied bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		w, err := q.GetWithdrawalForUpdate(ctx, withdrawalID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return fmt.Errorf("get withdrawal for update: %w", err)
		}
		result, applied, err = s.ApplyOutcome(ctx, q, w, outcome, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.NotifyOutcome(ctx, result)
	}
	return &result, nil
}

type OutcomeOptions struct {
	OrderID    *string
	FiatAmount *string
	Reason     string
	// Source names what reported the outcome: webhook, reconciliation, manual, api.
	Source string
}

// ApplyOutcome moves w to the status outcome implies and makes the matching
// ledger movement on q, so callers commit it with their own bookkeeping.
// applied is false when the outcome changes nothing; repeated or late reports
// are therefore harmless.
func (s *WithdrawalService) ApplyOutcome(ctx context.Context, q repository.Querier, w models.Withdrawal, outcome domain.PayoutOutcome, opts OutcomeOptions) (models.Withdrawal, bool, error) {
	next := outcomeStatus(outcome)
	if w.Status == next {
		return w, false, nil
	}
	submitted := w.Status != domain.WithdrawalStatusAwaitingVerification || w.PayoutSubmittedAt != nil
	if !submitted {
		return w, false, nil
	}

	if next == domain.WithdrawalStatusProcessing {
		return s.bindOrder(ctx, q, w, opts)
	}

	if !canTransition(w.Status, next) {
		if w.Status == domain.WithdrawalStatusFailed && next == domain.WithdrawalStatusCompleted {
			// The unlocked funds were paid out as well; only an operator can
			// recover them.
			observability.IncrementWithdrawal("settled_after_failure")
			zap.L().Error("provider settled a withdrawal already marked failed; manual review required",
				zap.String("withdrawal_id", w.ID.String()),
				zap.String("user_id", w.UserID.String()),
				zap.Int64("amount_micros", w.AmountMicros),
				zap.String("source", opts.Source),
			)
			metadata := map[string]any{
				"withdrawal_id": w.ID,
				"amount":        domain.FormatMicros(w.AmountMicros),
				"source":        opts.Source,
			}
			if opts.OrderID != nil {
				metadata["order_id"] = *opts.OrderID
			}
			if opts.FiatAmount != nil {
				metadata["fiat_amount"] = *opts.FiatAmount
			}
			if err := s.audit.Write(ctx, q, &w.UserID, domain.AuditWithdrawalSettleMismatch, metadata); err != nil {
				return w, false, err
			}
		}
		return w, false, nil
	}

	var (
		err    error
		action string
	)
	switch {
	case next == domain.WithdrawalStatusCompleted:
		action = domain.AuditWithdrawalCompleted
		err = s.ledger.Release(ctx, q, w.UserID, w.AmountMicros, withdrawalRef(w.ID, "release"))
	case next == domain.WithdrawalStatusReversed && w.Status == domain.WithdrawalStatusCompleted:
		action = domain.AuditWithdrawalReversed
		err = s.ledger.Credit(ctx, q, w.UserID, w.AmountMicros, withdrawalRef(w.ID, "reversal-credit"))
	case next == domain.WithdrawalStatusReversed:
		action = domain.AuditWithdrawalReversed
		err = s.ledger.Unlock(ctx, q, w.UserID, w.AmountMicros, withdrawalRef(w.ID, "unlock"))
	default:
		action = domain.AuditWithdrawalFailed
		err = s.ledger.Unlock(ctx, q, w.UserID, w.AmountMicros, withdrawalRef(w.ID, "unlock"))
	}
	if err != nil {
		return w, false, fmt.Errorf("%s withdrawal funds: %w", next, err)
	}

	params := repository.UpdateWithdrawalStatusParams{
		ID:            w.ID,
		FromStatus:    w.Status,
		ToStatus:      next,
		FiatAmount:    opts.FiatAmount,
		PayoutOrderID: opts.OrderID,
	}
	if next != domain.WithdrawalStatusCompleted {
		params.FailureReason = strPtr(opts.Reason)
	}
	rows, err := q.UpdateWithdrawalStatus(ctx, params)
	if err != nil {
		return w, false, fmt.Errorf("update withdrawal status: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdrawal status"); err != nil {
		return w, false, err
	}

	metadata := map[string]any{
		"withdrawal_id": w.ID,
		"amount":        domain.FormatMicros(w.AmountMicros),
		"from_status":   w.Status,
		"source":        opts.Source,
	}
	if opts.FiatAmount != nil {
		metadata["fiat_amount"] = *opts.FiatAmount
	}
	if opts.Reason != "" {
		metadata["reason"] = opts.Reason
	}
	if err := s.audit.Write(ctx, q, &w.UserID, action, metadata); err != nil {
		return w, false, err
	}

	updated, err := q.GetWithdrawal(ctx, w.ID)
	if err != nil {
		return w, false, fmt.Errorf("reload withdrawal: %w", err)
	}
	return updated, true, nil
}

// bindOrder records the provider order for a submission whose response was
// lost. Other processing reports change nothing.
func (s *WithdrawalService) bindOrder(ctx context.Context, q repository.Querier, w models.Withdrawal, opts OutcomeOptions) (models.Withdrawal, bool, error) {
	if w.Status != domain.WithdrawalStatusAwaitingVerification || opts.OrderID == nil || *opts.OrderID == "" {
		return w, false, nil
	}
	rows, err := q.MarkWithdrawalVerified(ctx, w.ID, *opts.OrderID)
	if err != nil {
		return w, false, fmt.Errorf("bind payout order: %w", err)
	}
	if rows == 0 {
		return w, false, nil
	}
	if err := s.audit.Write(ctx, q, &w.UserID, domain.AuditWithdrawalVerified, map[string]any{
		"withdrawal_id": w.ID,
		"order_id":      *opts.OrderID,
		"source":        opts.Source,
	}); err != nil {
		return w, false, err
	}
	updated, err := q.GetWithdrawal(ctx, w.ID)
	if err != nil {
		return w, false, fmt.Errorf("reload withdrawal: %w", err)
	}
	return updated, true, nil
}

// NotifyOutcome records metrics and emails the user after an applied outcome
// has committed.
func (s *WithdrawalService) NotifyOutcome(ctx context.Context, w models.Withdrawal) {
	observability.IncrementWithdrawal(w.Status)

	var render func() (notify.Message, error)
	amount := domain.FormatMicrosFixed(w.AmountMicros)
	switch w.Status {
	case domain.WithdrawalStatusCompleted:
		fiat := "-"
		if w.FiatAmount != nil {
			fiat = *w.FiatAmount
		}
		render = func() (notify.Message, error) {
			return notify.WithdrawalCompleted(amount, fiat, w.FiatCurrency, lastDigits(w.BankAccountMasked))
		}
	case domain.WithdrawalStatusFailed, domain.WithdrawalStatusReversed:
		reason := ""
		if w.FailureReason != nil {
			reason = *w.FailureReason
		}
		render = func() (notify.Message, error) {
			return notify.WithdrawalFailed(amount, w.FiatCurrency, reason)
		}
	default:
		return
	}

	user, err := s.store.Queries().GetUser(ctx, w.UserID)
	if err != nil {
		zap.L().Warn("withdrawal notification skipped: user lookup failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return
	}
	send(s.notifier, user.Email, render)
}

func lastDigits(masked string) string {
	if len(masked) <= bankAccountVisibleDigits {
		return masked
	}
	return masked[len(masked)-bankAccountVisibleDigits:]
}

// ExpireUnverifiedWithdrawals fails withdrawals whose code expired unused and
// unlocks their funds in the same transaction. Withdrawals already submitted
// to the provider are never expired.
func (s *WithdrawalService) ExpireUnverifiedWithdrawals(ctx context.Context, limit int32) (int, error) {
	limit, _ = normalizePage(limit, 0)
	stale, err := s.store.Queries().ListExpiredUnverifiedWithdrawals(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired withdrawals: %w", err)
	}

	expired := 0
	var errs []error
	for _, w := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.expireWithdrawal(ctx, w, "verification code expired")
		if err != nil {
			zap.L().Error("expire withdrawal failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *WithdrawalService) expireWithdrawal(ctx context.Context, w models.Withdrawal, reason string) (bool, error) {
	applied := false
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.ExpireWithdrawalVerification(ctx, w.ID, reason)
		if err != nil {
			return fmt.Errorf("expire withdrawal verification: %w", err)
		}
		if rows == 0 {
			return nil
		}
		if err := s.ledger.Unlock(ctx, q, w.UserID, w.AmountMicros, withdrawalRef(w.ID, "unlock")); err != nil {
			return fmt.Errorf("unlock expired withdrawal: %w", err)
		}
		applied = true
		return s.audit.Write(ctx, q, &w.UserID, domain.AuditWithdrawalFailed, map[string]any{
			"withdrawal_id": w.ID,
			"amount":        domain.FormatMicros(w.AmountMicros),
			"reason":        reason,
			"source":        "expiry",
		})
	})
	if err != nil || !applied {
		return false, err
	}
	observability.IncrementWithdrawal("expired")
	return true, nil
}

// ReconcileStaleWithdrawals polls the provider for processing withdrawals
// that have not changed for StaleAfter and applies any final status.
func (s *WithdrawalService) ReconcileStaleWithdrawals(ctx context.Context, limit int32) (int, error) {
	limit, _ = normalizePage(limit, 0)
	stale, err := s.store.Queries().ListStaleProcessingWithdrawals(ctx, s.clock.Now().Add(-s.cfg.StaleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale withdrawals: %w", err)
	}

	settled := 0
	var errs []error
	for _, w := range stale {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if w.PayoutOrderID == nil {
			continue
		}
		order, err := s.provider.GetOrder(ctx, *w.PayoutOrderID)
		if err != nil {
			zap.L().Warn("payout status poll failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		outcome := paycrest.MapOrderStatus(order.Status)
		if outcome == domain.PayoutProcessing {
			continue
		}
		opts := OutcomeOptions{FiatAmount: strPtr(order.FiatAmount), Source: "reconciliation"}
		if outcome != domain.PayoutCompleted {
			opts.Reason = "provider reported " + order.Status
		}
		if _, err := s.applyByID(ctx, w.ID, outcome, opts); err != nil {
			zap.L().Error("apply polled payout status failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}

// ListWithdrawalsNeedingReview returns submissions whose outcome is still
// unknown after StaleAfter.
func (s *WithdrawalService) ListWithdrawalsNeedingReview(ctx context.Context, limit int32) ([]models.Withdrawal, error) {
	limit, _ = normalizePage(limit, 0)
	items, err := s.store.Queries().ListWithdrawalsNeedingReview(ctx, s.clock.Now().Add(-s.cfg.StaleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals needing review: %w", err)
	}
	return items, nil
}

func (s *WithdrawalService) ManualReviewQueueSize(ctx context.Context) (int, error) {
	items, err := s.ListWithdrawalsNeedingReview(ctx, maxPageSize)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

type ReviewDecision string

const (
	DecisionComplete ReviewDecision = "complete"
	DecisionFail     ReviewDecision = "fail"
)

type ResolveWithdrawalRequest struct {
	WithdrawalID uuid.UUID
	Decision     ReviewDecision
	OrderID      *string
	FiatAmount   *string
	Reason       string
	ActorID      *uuid.UUID
}

// ResolveWithdrawal lets an operator settle a withdrawal whose provider
// outcome could not be determined automatically.
func (s *WithdrawalService) ResolveWithdrawal(ctx context.Context, req ResolveWithdrawalRequest) (*models.Withdrawal, error) {
	var outcome domain.PayoutOutcome
	switch ReviewDecision(strings.ToLower(strings.TrimSpace(string(req.Decision)))) {
	case DecisionComplete:
		outcome = domain.PayoutCompleted
	case DecisionFail:
		outcome = domain.PayoutFailed
	default:
		return nil, ErrInvalidReviewDecision
	}

	var resolved models.Withdrawal
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		w, err := q.GetWithdrawalForUpdate(ctx, req.WithdrawalID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWithdrawalNotFound
		}
		if err != nil {
			return fmt.Errorf("get withdrawal for update: %w", err)
		}
		inReview := w.Status == domain.WithdrawalStatusProcessing ||
			(w.Status == domain.WithdrawalStatusAwaitingVerification && w.PayoutSubmittedAt != nil)
		if !inReview {
			return ErrNotInReview
		}

		reason := strings.TrimSpace(req.Reason)
		var applied bool
		resolved, applied, err = s.ApplyOutcome(ctx, q, w, outcome, OutcomeOptions{
			OrderID:    req.OrderID,
			FiatAmount: req.FiatAmount,
			Reason:     reason,
			Source:     "manual",
		})
		if err != nil {
			return err
		}
		if !applied {
			return ErrNotInReview
		}

		metadata := map[string]any{
			"withdrawal_id": w.ID,
			"user_id":       w.UserID,
			"decision":      string(req.Decision),
			"reason":        reason,
		}
		if req.OrderID != nil {
			metadata["order_id"] = *req.OrderID
		}
		return s.audit.Write(ctx, q, req.ActorID, domain.AuditWithdrawalManualResolve, metadata)
	})
	if err != nil {
		return nil, err
	}
	s.NotifyOutcome(ctx, resolved)
	return &resolved, nil
}

// GetWithdrawal returns the caller's own withdrawal.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, withdrawalID, userID uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.store.Queries().GetWithdrawal(ctx, withdrawalID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && w.UserID != userID) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return &w, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Withdrawal, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.Queries().ListWithdrawalsByUser(ctx, repository.ListWithdrawalsParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return items, nil
}

func (s *WithdrawalService) Currencies(ctx context.Context) ([]paycrest.Currency, error) {
	return s.provider.Currencies(ctx)
}

func (s *WithdrawalService) Institutions(ctx context.Context, currency string) ([]paycrest.Institution, error) {
	currency, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	return s.provider.Institutions(ctx, currency)
}
