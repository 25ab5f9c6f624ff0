package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultClaimExpiryDays = 7

type TransferConfig struct {
	// AppBaseURL prefixes claim links: {AppBaseURL}/claim/{token}.
	AppBaseURL      string
	ClaimExpiryDays int
}

type TransferService struct {
	store    QueryStore
	ledger   *ledger.Ledger
	audit    *AuditService
	notifier Notifier
	clock    clock.Clock
	cfg      TransferConfig
}

func NewTransferService(store QueryStore, notifier Notifier, clk clock.Clock, cfg TransferConfig) *TransferService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.ClaimExpiryDays <= 0 {
		cfg.ClaimExpiryDays = DefaultClaimExpiryDays
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	return &TransferService{
		store:    store,
		ledger:   ledger.New(),
		audit:    NewAuditService(store),
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
	}
}

type SendTransferRequest struct {
	SenderID       uuid.UUID
	SenderEmail    string
	RecipientEmail string
	AmountMicros   int64
	Note           string
}

type SendTransferResult struct {
	Transfer      models.Transfer `json:"transfer"`
	ClaimRequired bool            `json:"claim_required"`
}

func transferRef(id uuid.UUID, step string) string {
	return "transfer:" + id.String() + ":" + step
}

// SendTransfer moves funds to recipientEmail. A registered recipient is
// credited immediately; anyone else receives a single-use claim link. The
// debit and everything that depends on it commit together, so a failure after
// the debit leaves the sender's balance untouched.
func (s *TransferService) SendTransfer(ctx context.Context, req SendTransferRequest) (*SendTransferResult, error) {
	if req.AmountMicros <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if req.AmountMicros > domain.MaxAmountMicros {
		return nil, domain.ErrAmountTooLarge
	}
	recipientEmail, err := domain.NormalizeEmail(req.RecipientEmail)
	if err != nil {
		return nil, err
	}
	note, err := domain.NormalizeNote(req.Note)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(req.SenderEmail), recipientEmail) {
		return nil, ErrSelfTransfer
	}

	balance, err := s.ledger.Balance(ctx, s.store.Queries(), req.SenderID)
	if err != nil {
		return nil, err
	}
	if balance.Available < req.AmountMicros {
		observability.IncrementTransfer("insufficient_balance")
		return nil, ErrInsufficientBalance
	}

	transferID := uuid.New()
	now := s.clock.Now()
	var (
		transfer   models.Transfer
		claimToken string
	)
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := s.ledger.Debit(ctx, q, req.SenderID, req.AmountMicros, transferRef(transferID, "debit")); err != nil {
			if errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrConcurrentUpdate) {
				return fmt.Errorf("%w: %v", ErrDebitFailed, err)
			}
			return fmt.Errorf("debit sender: %w", err)
		}

		params := repository.CreateTransferParams{
			ID:             transferID,
			SenderID:       req.SenderID,
			RecipientEmail: recipientEmail,
			AmountMicros:   req.AmountMicros,
			Note:           note,
		}

		recipient, err := q.GetUserByEmail(ctx, recipientEmail)
		switch {
		case err == nil:
			if err := s.ledger.Credit(ctx, q, recipient.ID, req.AmountMicros, transferRef(transferID, "credit")); err != nil {
				return fmt.Errorf("credit recipient: %w", err)
			}
			params.RecipientID = &recipient.ID
			params.Status = domain.TransferStatusCompleted
		case errors.Is(err, repository.ErrNotFound):
			claimToken, err = security.GenerateURLSafeToken()
			if err != nil {
				return fmt.Errorf("generate claim token: %w", err)
			}
			hash := security.HashToken(claimToken)
			expiresAt := security.ExpiryAfterDays(now, s.cfg.ClaimExpiryDays)
			params.Status = domain.TransferStatusPendingClaim
			params.ClaimTokenHash = &hash
			params.ExpiresAt = &expiresAt
		default:
			return fmt.Errorf("lookup recipient: %w", err)
		}

		transfer, err = q.CreateTransfer(ctx, params)
		if err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}

		return s.audit.Write(ctx, q, &req.SenderID, domain.AuditTransferInitiated, map[string]any{
			"transfer_id":     transferID,
			"recipient_email": recipientEmail,
			"amount":          domain.FormatMicros(req.AmountMicros),
			"instant":         transfer.Status == domain.TransferStatusCompleted,
		})
	})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrDebitFailed) {
			outcome = "debit_failed"
		}
		observability.IncrementTransfer(outcome)
		s.audit.Record(ctx, &req.SenderID, domain.AuditTransferFailed, map[string]any{
			"transfer_id":     transferID,
			"recipient_email": recipientEmail,
			"amount":          domain.FormatMicros(req.AmountMicros),
			"reason":          err.Error(),
		})
		return nil, err
	}

	amount := domain.FormatMicrosFixed(transfer.AmountMicros)
	if transfer.Status == domain.TransferStatusCompleted {
		observability.IncrementTransfer("completed")
		send(s.notifier, recipientEmail, func() (notify.Message, error) {
			return notify.TransferReceived(amount, req.SenderEmail, s.cfg.AppBaseURL, transfer.Note)
		})
		return &SendTransferResult{Transfer: transfer}, nil
	}

	observability.IncrementTransfer("pending_claim")
	claimURL := s.cfg.AppBaseURL + "/claim/" + claimToken
	send(s.notifier, recipientEmail, func() (notify.Message, error) {
		return notify.ClaimLink(amount, req.SenderEmail, claimURL, transfer.Note, s.cfg.ClaimExpiryDays)
	})
	return &SendTransferResult{Transfer: transfer, ClaimRequired: true}, nil
}

// ClaimTransfer binds a pending transfer to the claimant and credits them.
// The claim, the credit and the completion commit as one step; the token
// stops matching as soon as it does.
func (s *TransferService) ClaimTransfer(ctx context.Context, token string, claimantID uuid.UUID, claimantEmail string) (*models.Transfer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidOrExpiredClaim
	}

	pending, err := s.store.Queries().GetPendingTransferByClaimHash(ctx, security.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidOrExpiredClaim
	}
	if err != nil {
		return nil, fmt.Errorf("lookup claim: %w", err)
	}
	if pending.ClaimTokenHash == nil || !security.VerifyToken(token, *pending.ClaimTokenHash) {
		return nil, ErrInvalidOrExpiredClaim
	}

	now := s.clock.Now()
	if security.IsExpired(pending.ExpiresAt, now) {
		if _, err := s.expireTransfer(ctx, pending); err != nil {
			zap.L().Error("lazy transfer expiry failed", zap.String("transfer_id", pending.ID.String()), zap.Error(err))
		}
		return nil, ErrClaimExpired
	}
	if !strings.EqualFold(pending.RecipientEmail, strings.TrimSpace(claimantEmail)) {
		return nil, ErrRecipientMismatch
	}

	var claimed models.Transfer
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.ClaimTransfer(ctx, repository.ClaimTransferParams{
			ID:          pending.ID,
			RecipientID: claimantID,
			ClaimedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("claim transfer: %w", err)
		}
		if rows == 0 {
			return ErrInvalidOrExpiredClaim
		}

		if err := q.EnsureBalance(ctx, claimantID, domain.AssetUSDC); err != nil {
			return fmt.Errorf("ensure claimant balance: %w", err)
		}
		if err := s.ledger.Credit(ctx, q, claimantID, pending.AmountMicros, transferRef(pending.ID, "credit")); err != nil {
			return fmt.Errorf("credit claimant: %w", err)
		}

		rows, err = q.UpdateTransferStatus(ctx, repository.UpdateTransferStatusParams{
			ID:         pending.ID,
			FromStatus: domain.TransferStatusClaimed,
			ToStatus:   domain.TransferStatusCompleted,
		})
		if err != nil {
			return fmt.Errorf("complete transfer: %w", err)
		}
		if err := requireExactlyOne(rows, "complete claimed transfer"); err != nil {
			return err
		}

		if err := s.audit.Write(ctx, q, &claimantID, domain.AuditTransferClaimed, map[string]any{
			"transfer_id": pending.ID,
			"sender_id":   pending.SenderID,
			"amount":      domain.FormatMicros(pending.AmountMicros),
		}); err != nil {
			return err
		}

		claimed, err = q.GetTransfer(ctx, pending.ID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidOrExpiredClaim) {
			zap.L().Error("claim transfer failed", zap.String("transfer_id", pending.ID.String()), zap.Error(err))
		}
		return nil, err
	}

	observability.IncrementTransfer("claimed")
	if sender, err := s.store.Queries().GetUser(ctx, claimed.SenderID); err == nil {
		send(s.notifier, sender.Email, func() (notify.Message, error) {
			return notify.TransferClaimed(domain.FormatMicrosFixed(claimed.AmountMicros), claimed.RecipientEmail)
		})
	}
	return &claimed, nil
}

// CancelTransfer lets the sender take back a transfer nobody has claimed yet.
func (s *TransferService) CancelTransfer(ctx context.Context, transferID, senderID uuid.UUID) (*models.Transfer, error) {
	var cancelled models.Transfer
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		t, err := q.GetTransferForUpdate(ctx, transferID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && t.SenderID != senderID) {
			return ErrTransferNotFound
		}
		if err != nil {
			return fmt.Errorf("get transfer for update: %w", err)
		}
		if t.Status != domain.TransferStatusPendingClaim {
			return ErrTransferNotCancellable
		}
		if err := s.refund(ctx, q, t, domain.TransferStatusCancelled, domain.AuditTransferCancelled); err != nil {
			return err
		}
		cancelled, err = q.GetTransfer(ctx, transferID)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementTransfer("cancelled")
	return &cancelled, nil
}

// ExpireStaleTransfers refunds pending transfers whose claim window has
// closed. It returns how many were expired.
func (s *TransferService) ExpireStaleTransfers(ctx context.Context, limit int32) (int, error) {
	limit, _ = normalizePage(limit, 0)
	stale, err := s.store.Queries().ListExpiredPendingTransfers(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired transfers: %w", err)
	}

	expired := 0
	var errs []error
	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := s.expireTransfer(ctx, t)
		if err != nil {
			zap.L().Error("expire transfer failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// expireTransfer refunds t if it is still pending. It reports false when
// another request claimed or cancelled it first.
func (s *TransferService) expireTransfer(ctx context.Context, t models.Transfer) (bool, error) {
	applied := false
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetTransferForUpdate(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("get transfer for update: %w", err)
		}
		if current.Status != domain.TransferStatusPendingClaim {
			return nil
		}
		if err := s.refund(ctx, q, current, domain.TransferStatusExpired, domain.AuditTransferExpired); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}

	observability.IncrementTransfer("expired")
	if sender, err := s.store.Queries().GetUser(ctx, t.SenderID); err == nil {
		send(s.notifier, sender.Email, func() (notify.Message, error) {
			return notify.TransferRefunded(domain.FormatMicrosFixed(t.AmountMicros), t.RecipientEmail, "not claimed in time")
		})
	}
	return true, nil
}

// refund moves a pending transfer to status and credits the sender back.
// The journal reference makes a replayed refund a no-op.
func (s *TransferService) refund(ctx context.Context, q repository.Querier, t models.Transfer, status, action string) error {
	rows, err := q.UpdateTransferStatus(ctx, repository.UpdateTransferStatusParams{
		ID:         t.ID,
		FromStatus: domain.TransferStatusPendingClaim,
		ToStatus:   status,
	})
	if err != nil {
		return fmt.Errorf("mark transfer %s: %w", status, err)
	}
	if rows == 0 {
		return ErrTransferNotCancellable
	}
	if err := s.ledger.Credit(ctx, q, t.SenderID, t.AmountMicros, transferRef(t.ID, "refund")); err != nil {
		return fmt.Errorf("refund sender: %w", err)
	}
	return s.audit.Write(ctx, q, &t.SenderID, action, map[string]any{
		"transfer_id":     t.ID,
		"recipient_email": t.RecipientEmail,
		"amount":          domain.FormatMicros(t.AmountMicros),
	})
}

func (s *TransferService) ListTransfers(ctx context.Context, userID uuid.UUID, direction string, limit, offset int32) ([]models.Transfer, error) {
	switch direction {
	case "":
		direction = repository.DirectionAll
	case repository.DirectionAll, repository.DirectionSent, repository.DirectionReceived:
	default:
		return nil, ErrInvalidDirection
	}
	limit, offset = normalizePage(limit, offset)
	transfers, err := s.store.Queries().ListTransfersByUser(ctx, repository.ListTransfersParams{
		UserID:    userID,
		Direction: direction,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return transfers, nil
}

// PendingClaimsForEmail lists unclaimed transfers addressed to email, so a
// newly registered user can see what is waiting for them.
func (s *TransferService) PendingClaimsForEmail(ctx context.Context, email string) ([]models.Transfer, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	transfers, err := s.store.Queries().ListPendingClaimsForEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list pending claims: %w", err)
	}
	return transfers, nil
}
