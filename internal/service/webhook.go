package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WebhookConfig struct {
	PaycrestSecret string
	DepositSecret  string
	// SkipSignature disables signature checks. Local development only.
	SkipSignature bool
}

// WebhookService applies provider callbacks exactly once per (provider, event id).
type WebhookService struct {
	store       QueryStore
	ledger      *ledger.Ledger
	audit       *AuditService
	withdrawals *WithdrawalService
	notifier    Notifier
	clock       clock.Clock
	cfg         WebhookConfig
}

func NewWebhookService(store QueryStore, withdrawals *WithdrawalService, notifier Notifier, clk clock.Clock, cfg WebhookConfig) *WebhookService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &WebhookService{
		store:       store,
		ledger:      ledger.New(),
		audit:       NewAuditService(store),
		withdrawals: withdrawals,
		notifier:    notifier,
		clock:       clk,
		cfg:         cfg,
	}
}

type WebhookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProcessPaycrestWebhook verifies and applies a payout provider callback.
// Duplicates and callbacks for unknown orders succeed without side effects.
func (s *WebhookService) ProcessPaycrestWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !s.cfg.SkipSignature && strings.TrimSpace(signature) == "" {
		observability.IncrementWebhook(domain.ProviderPaycrest, "missing_signature")
		return nil, ErrMissingSignature
	}
	if !s.cfg.SkipSignature && !paycrest.VerifySignature(body, signature, s.cfg.PaycrestSecret) {
		observability.IncrementWebhook(domain.ProviderPaycrest, "invalid_signature")
		return nil, ErrInvalidSignature
	}

	payload, err := paycrest.ParseWebhook(body)
	if err != nil {
		observability.IncrementWebhook(domain.ProviderPaycrest, "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event, fresh, err := s.recordEvent(ctx, domain.ProviderPaycrest, payload.EventID, payload.EventType, body)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		observability.IncrementWebhook(domain.ProviderPaycrest, "duplicate")
		return &WebhookResult{Success: true, Message: "event already processed"}, nil
	}
	if fresh {
		zap.L().Info("paycrest webhook received",
			zap.String("event_id", payload.EventID),
			zap.String("event_type", payload.EventType),
			zap.String("order_id", payload.Data.ID),
		)
	}

	msg, err := s.handlePaycrestEvent(ctx, event.ID, payload)
	if err != nil {
		observability.IncrementWebhook(domain.ProviderPaycrest, "error")
		zap.L().Error("paycrest webhook processing failed", zap.String("event_id", payload.EventID), zap.Error(err))
		return nil, err
	}
	return &WebhookResult{Success: true, Message: msg}, nil
}

// recordEvent stores the raw event, or fetches the stored copy of a
// redelivery. fresh reports whether this call inserted it.
func (s *WebhookService) recordEvent(ctx context.Context, provider, eventID, eventType string, body []byte) (models.WebhookEvent, bool, error) {
	id := uuid.New()
	event, err := s.store.Queries().UpsertWebhookEvent(ctx, repository.UpsertWebhookEventParams{
		ID:        id,
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   body,
	})
	if err != nil {
		return models.WebhookEvent{}, false, fmt.Errorf("record webhook event: %w", err)
	}
	fresh := event.ID == id
	if fresh {
		s.audit.Record(ctx, nil, domain.AuditWebhookReceived, map[string]any{
			"provider":   provider,
			"event_id":   eventID,
			"event_type": eventType,
		})
	}
	return event, fresh, nil
}

func (s *WebhookService) handlePaycrestEvent(ctx context.Context, eventID uuid.UUID, payload *paycrest.WebhookPayload) (string, error) {
	var (
		message string
		settled *models.Withdrawal
		outcome = paycrest.MapEventType(payload.EventType)
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		event, err := q.GetWebhookEventForUpdate(ctx, eventID)
		if err != nil {
			return fmt.Errorf("lock webhook event: %w", err)
		}
		if event.Processed {
			message = "event already processed"
			return nil
		}

		metadata := map[string]any{
			"provider":   domain.ProviderPaycrest,
			"event_id":   payload.EventID,
			"event_type": payload.EventType,
			"order_id":   payload.Data.ID,
		}

		w, err := findWithdrawalForOrder(ctx, q, payload.Data)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			message = "no withdrawal matches order"
			metadata["matched"] = false
			if err := s.markProcessed(ctx, q, eventID); err != nil {
				return err
			}
			return s.audit.Write(ctx, q, nil, domain.AuditWebhookProcessed, metadata)
		case err != nil:
			return err
		}

		opts := OutcomeOptions{
			OrderID:    strPtr(payload.Data.ID),
			FiatAmount: strPtr(payload.Data.FiatAmount),
			Source:     "webhook",
		}
		if outcome == domain.PayoutFailed || outcome == domain.PayoutReversed {
			opts.Reason = "provider reported " + payload.EventType
		}
		updated, applied, err := s.withdrawals.ApplyOutcome(ctx, q, w, outcome, opts)
		if err != nil {
			return err
		}
		if err := s.markProcessed(ctx, q, eventID); err != nil {
			return err
		}

		metadata["matched"] = true
		metadata["withdrawal_id"] = w.ID
		metadata["applied"] = applied
		if err := s.audit.Write(ctx, q, &w.UserID, domain.AuditWebhookProcessed, metadata); err != nil {
			return err
		}
		if applied {
			settled = &updated
			message = "withdrawal " + updated.Status
		} else {
			message = "no state change"
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	observability.IncrementWebhook(domain.ProviderPaycrest, string(outcome))
	if settled != nil {
		s.withdrawals.NotifyOutcome(ctx, *settled)
	}
	return message, nil
}

// findWithdrawalForOrder matches by provider order id first, then by payout
// reference for submissions whose response never arrived. The row is
// returned locked.
func findWithdrawalForOrder(ctx context.Context, q repository.Querier, order paycrest.Order) (models.Withdrawal, error) {
	var (
		w   models.Withdrawal
		err error
	)
	found := false
	if order.ID != "" {
		w, err = q.GetWithdrawalByPayoutOrderID(ctx, order.ID)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, repository.ErrNotFound):
			return models.Withdrawal{}, fmt.Errorf("get withdrawal by order id: %w", err)
		}
	}
	if !found && order.Reference != "" {
		w, err = q.GetWithdrawalByReference(ctx, order.Reference)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, repository.ErrNotFound):
			return models.Withdrawal{}, fmt.Errorf("get withdrawal by reference: %w", err)
		}
	}
	if !found {
		return models.Withdrawal{}, repository.ErrNotFound
	}

	w, err = q.GetWithdrawalForUpdate(ctx, w.ID)
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("lock withdrawal: %w", err)
	}
	return w, nil
}

func (s *WebhookService) markProcessed(ctx context.Context, q repository.Querier, eventID uuid.UUID) error {
	rows, err := q.MarkWebhookEventProcessed(ctx, eventID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return requireExactlyOne(rows, "mark webhook event processed")
}

// DepositSignatureHeader carries "sha256=<hex>" of the raw body.
const DepositSignatureHeader = "X-Webhook-Signature"

// DepositWebhookPayload is an inbound USDC credit from the custody wallet.
// The user is addressed by id or email.
type DepositWebhookPayload struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type deposit struct {
	DepositWebhookPayload
	userID *uuid.UUID
	email  string
	micros int64
}

func parseDeposit(body []byte) (deposit, error) {
	var d deposit
	if err := json.Unmarshal(body, &d.DepositWebhookPayload); err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	d.EventID = strings.TrimSpace(d.EventID)
	if d.EventID == "" {
		return d, fmt.Errorf("%w: event_id is required", ErrMalformedPayload)
	}

	asset := strings.ToUpper(strings.TrimSpace(d.Asset))
	if asset == "" {
		asset = domain.AssetUSDC
	}
	if asset != domain.AssetUSDC {
		return d, fmt.Errorf("%w: unsupported asset %q", ErrMalformedPayload, d.Asset)
	}
	d.Asset = asset

	micros, err := domain.ParseAmount(d.Amount)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	d.micros = micros

	switch {
	case strings.TrimSpace(d.UserID) != "":
		id, err := uuid.Parse(strings.TrimSpace(d.UserID))
		if err != nil {
			return d, fmt.Errorf("%w: invalid user_id", ErrMalformedPayload)
		}
		d.userID = &id
	case strings.TrimSpace(d.Email) != "":
		email, err := domain.NormalizeEmail(d.Email)
		if err != nil {
			return d, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		d.email = email
	default:
		return d, fmt.Errorf("%w: user_id or email is required", ErrMalformedPayload)
	}
	return d, nil
}

// ProcessDepositWebhook credits an inbound deposit to the user's available
// balance once per event id.
func (s *WebhookService) ProcessDepositWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !s.cfg.SkipSignature && strings.TrimSpace(signature) == "" {
		observability.IncrementWebhook(domain.ProviderDeposit, "missing_signature")
		return nil, ErrMissingSignature
	}
	if !s.verifyHMAC(body, signature) {
		observability.IncrementWebhook(domain.ProviderDeposit, "invalid_signature")
		return nil, ErrInvalidSignature
	}

	d, err := parseDeposit(body)
	if err != nil {
		observability.IncrementWebhook(domain.ProviderDeposit, "malformed")
		return nil, err
	}

	event, _, err := s.recordEvent(ctx, domain.ProviderDeposit, d.EventID, "deposit", body)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		observability.IncrementWebhook(domain.ProviderDeposit, "duplicate")
		return &WebhookResult{Success: true, Message: "deposit already processed"}, nil
	}

	if err := s.applyDeposit(ctx, event.ID, d); err != nil {
		observability.IncrementWebhook(domain.ProviderDeposit, "error")
		return nil, err
	}
	return &WebhookResult{Success: true, Message: "deposit credited"}, nil
}

func (s *WebhookService) applyDeposit(ctx context.Context, eventID uuid.UUID, d deposit) error {
	var (
		credited bool
		user     models.User
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		event, err := q.GetWebhookEventForUpdate(ctx, eventID)
		if err != nil {
			return fmt.Errorf("lock webhook event: %w", err)
		}
		if event.Processed {
			return nil
		}

		if d.userID != nil {
			user, err = q.GetUser(ctx, *d.userID)
		} else {
			user, err = q.GetUserByEmail(ctx, d.email)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve deposit user: %w", err)
		}

		if err := q.EnsureBalance(ctx, user.ID, domain.AssetUSDC); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
		if err := s.ledger.Credit(ctx, q, user.ID, d.micros, "deposit:"+d.EventID); err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		if err := s.markProcessed(ctx, q, eventID); err != nil {
			return err
		}
		credited = true
		return s.audit.Write(ctx, q, &user.ID, domain.AuditBalanceCredited, map[string]any{
			"source":   domain.ProviderDeposit,
			"event_id": d.EventID,
			"amount":   domain.FormatMicros(d.micros),
			"asset":    d.Asset,
			"tx_hash":  d.TxHash,
		})
	})
	if err != nil {
		zap.L().Error("deposit processing failed", zap.String("event_id", d.EventID), zap.Error(err))
		return err
	}
	if !credited {
		return nil
	}

	observability.IncrementWebhook(domain.ProviderDeposit, "credited")
	zap.L().Info("deposit credited",
		zap.String("event_id", d.EventID),
		zap.String("user_id", user.ID.String()),
		zap.Int64("amount_micros", d.micros),
	)
	amount := domain.FormatMicrosFixed(d.micros)
	send(s.notifier, user.Email, func() (notify.Message, error) {
		return notify.DepositReceived(amount, d.Asset)
	})
	return nil
}

// verifyHMAC checks a "sha256=<hex>" signature over the raw payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.cfg.SkipSignature {
		return true
	}
	if s.cfg.DepositSecret == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(s.cfg.DepositSecret))
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expectedSig))
}

// ReplayUnprocessed reapplies stored events that were recorded but never
// finished, for example after a crash between insert and processing.
func (s *WebhookService) ReplayUnprocessed(ctx context.Context, provider string, limit int32) (int, error) {
	limit, _ = normalizePage(limit, 0)
	events, err := s.store.Queries().ListUnprocessedWebhookEvents(ctx, provider, limit)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed webhook events: %w", err)
	}

	replayed := 0
	var errs []error
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := s.replay(ctx, event); err != nil {
			zap.L().Warn("webhook replay failed",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		replayed++
	}
	return replayed, errors.Join(errs...)
}

func (s *WebhookService) replay(ctx context.Context, event models.WebhookEvent) error {
	switch event.Provider {
	case domain.ProviderPaycrest:
		payload, err := paycrest.ParseWebhook(event.Payload)
		if err != nil {
			return err
		}
		_, err = s.handlePaycrestEvent(ctx, event.ID, payload)
		return err
	case domain.ProviderDeposit:
		d, err := parseDeposit(event.Payload)
		if err != nil {
			return err
		}
		return s.applyDeposit(ctx, event.ID, d)
	default:
		return fmt.Errorf("unknown webhook provider %q", event.Provider)
	}
}
