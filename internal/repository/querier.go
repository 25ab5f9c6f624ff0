package repository

import (
	"context"
	"time"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

// Querier is every statement the services issue. Queries runs them against
// Postgres; MemoryStore provides the same contract for tests and local runs.
type Querier interface {
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	EnsureBalance(ctx context.Context, userID uuid.UUID, asset string) error
	GetBalance(ctx context.Context, userID uuid.UUID, asset string) (models.Balance, error)
	CompareAndSwapBalance(ctx context.Context, arg CompareAndSwapBalanceParams) (int64, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error)

	LedgerEntryExists(ctx context.Context, userID uuid.UUID, kind, reference string) (bool, error)
	InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) error
	ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]models.LedgerEntry, error)
	ListLedgerDrift(ctx context.Context) ([]models.LedgerDrift, error)

	CreateTransfer(ctx context.Context, arg CreateTransferParams) (models.Transfer, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (models.Transfer, error)
	GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.Transfer, error)
	GetPendingTransferByClaimHash(ctx context.Context, claimTokenHash string) (models.Transfer, error)
	ClaimTransfer(ctx context.Context, arg ClaimTransferParams) (int64, error)
	UpdateTransferStatus(ctx context.Context, arg UpdateTransferStatusParams) (int64, error)
	ListExpiredPendingTransfers(ctx context.Context, before time.Time, limit int32) ([]models.Transfer, error)
	ListTransfersByUser(ctx context.Context, arg ListTransfersParams) ([]models.Transfer, error)
	ListPendingClaimsForEmail(ctx context.Context, email string) ([]models.Transfer, error)

	CreateWithdrawal(ctx context.Context, arg CreateWithdrawalParams) (models.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	GetWithdrawalByPayoutOrderID(ctx context.Context, orderID string) (models.Withdrawal, error)
	GetWithdrawalByReference(ctx context.Context, reference string) (models.Withdrawal, error)
	MarkPayoutSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ClearPayoutSubmitted(ctx context.Context, id uuid.UUID) (int64, error)
	MarkWithdrawalVerified(ctx context.Context, id uuid.UUID, payoutOrderID string) (int64, error)
	ExpireWithdrawalVerification(ctx context.Context, id uuid.UUID, reason string) (int64, error)
	UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error)
	ListExpiredUnverifiedWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error)
	ListStaleProcessingWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error)
	ListWithdrawalsNeedingReview(ctx context.Context, submittedBefore time.Time, limit int32) ([]models.Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, arg ListWithdrawalsParams) ([]models.Withdrawal, error)

	UpsertWebhookEvent(ctx context.Context, arg UpsertWebhookEventParams) (models.WebhookEvent, error)
	GetWebhookEventForUpdate(ctx context.Context, id uuid.UUID) (models.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ListUnprocessedWebhookEvents(ctx context.Context, provider string, limit int32) ([]models.WebhookEvent, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error
	ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]models.AuditLogEntry, error)

	InsertOTPLog(ctx context.Context, arg InsertOTPLogParams) error
	CountRecentFailedOTPAttempts(ctx context.Context, email, purpose string, since time.Time) (int64, error)

	UpsertLoginChallenge(ctx context.Context, arg UpsertLoginChallengeParams) error
	GetLoginChallenge(ctx context.Context, email string) (models.LoginChallenge, error)
	DeleteLoginChallenge(ctx context.Context, email string) error

	GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) error
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

type CreateUserParams struct {
	ID    uuid.UUID
	Email string
	Role  string
}

type CompareAndSwapBalanceParams struct {
	UserID        uuid.UUID
	Asset         string
	PrevAvailable int64
	PrevLocked    int64
	Available     int64
	Locked        int64
}

type InsertLedgerEntryParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Kind      string
	Amount    int64
	Reference string
}

type ListLedgerEntriesParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

type CreateTransferParams struct {
	ID             uuid.UUID
	SenderID       uuid.UUID
	RecipientID    *uuid.UUID
	RecipientEmail string
	AmountMicros   int64
	Note           *string
	Status         string
	ClaimTokenHash *string
	ExpiresAt      *time.Time
	ClaimedAt      *time.Time
}

type ClaimTransferParams struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	ClaimedAt   time.Time
}

type UpdateTransferStatusParams struct {
	ID         uuid.UUID
	FromStatus string
	ToStatus   string
}

// Transfer list directions.
const (
	DirectionAll      = "all"
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

type ListTransfersParams struct {
	UserID    uuid.UUID
	Direction string
	Limit     int32
	Offset    int32
}

type CreateWithdrawalParams struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	AmountMicros          int64
	FiatCurrency          string
	InstitutionCode       string
	BankAccountMasked     string
	BankAccountSealed     []byte
	AccountName           *string
	VerificationTokenHash string
	VerificationExpiresAt time.Time
	PayoutReference       string
}

// UpdateWithdrawalStatusParams moves a withdrawal from FromStatus to ToStatus.
// Nil optional fields leave the stored value untouched; PayoutOrderID is only
// written when none is stored yet.
type UpdateWithdrawalStatusParams struct {
	ID            uuid.UUID
	FromStatus    string
	ToStatus      string
	FailureReason *string
	FiatAmount    *string
	PayoutOrderID *string
}

type ListWithdrawalsParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

type UpsertWebhookEventParams struct {
	ID        uuid.UUID
	Provider  string
	EventID   string
	EventType string
	Payload   []byte
}

type InsertAuditLogParams struct {
	UserID   *uuid.UUID
	Action   string
	Metadata []byte
}

type ListAuditLogsParams struct {
	UserID *uuid.UUID
	Action string
	Limit  int32
	Offset int32
}

type InsertOTPLogParams struct {
	UserID    *uuid.UUID
	Email     string
	Purpose   string
	Success   bool
	IP        string
	UserAgent string
}

type UpsertLoginChallengeParams struct {
	Email     string
	CodeHash  string
	ExpiresAt time.Time
}

type ReserveIdempotencyKeyParams struct {
	Key         string
	RequestHash string
	Method      string
	Path        string
}

type FinalizeIdempotencyKeyParams struct {
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
}
