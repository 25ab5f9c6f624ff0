package models

import (
	"encoding/json"
	"time"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance holds one user's position in one asset, in micros.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Asset     string    `json:"asset"`
	Available int64     `json:"available_micros"`
	Locked    int64     `json:"locked_micros"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Balance) Total() int64 {
	return b.Available + b.Locked
}

// LedgerEntry is the journal row written by every balance mutation.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Asset     string    `json:"asset"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount_micros"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

type Transfer struct {
	ID             uuid.UUID  `json:"id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	RecipientID    *uuid.UUID `json:"recipient_id,omitempty"`
	RecipientEmail string     `json:"recipient_email"`
	AmountMicros   int64      `json:"amount_micros"`
	Note           *string    `json:"note,omitempty"`
	Status         string     `json:"status"`
	ClaimTokenHash *string    `json:"-"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Withdrawal struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	AmountMicros          int64      `json:"amount_micros"`
	FiatCurrency          string     `json:"fiat_currency"`
	InstitutionCode       string     `json:"institution_code"`
	BankAccountMasked     string     `json:"bank_account_masked"`
	BankAccountSealed     []byte     `json:"-"`
	AccountName           *string    `json:"account_name,omitempty"`
	Status                string     `json:"status"`
	VerificationStatus    string     `json:"verification_status"`
	VerificationTokenHash *string    `json:"-"`
	VerificationExpiresAt time.Time  `json:"verification_expires_at"`
	PayoutOrderID         *string    `json:"payout_order_id,omitempty"`
	PayoutReference       string     `json:"payout_reference"`
	PayoutSubmittedAt     *time.Time `json:"payout_submitted_at,omitempty"`
	FiatAmount            *string    `json:"fiat_amount,omitempty"`
	FailureReason         *string    `json:"failure_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Terminal reports whether no further status transition is expected.
func (w Withdrawal) Terminal() bool {
	switch w.Status {
	case domain.WithdrawalStatusCompleted, domain.WithdrawalStatusFailed, domain.WithdrawalStatusReversed:
		return true
	}
	return false
}

type WebhookEvent struct {
	ID          uuid.UUID       `json:"id"`
	Provider    string          `json:"provider"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AuditLogEntry struct {
	ID        int64           `json:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type OTPLog struct {
	ID        int64      `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Email     string     `json:"email"`
	Purpose   string     `json:"purpose"`
	Success   bool       `json:"success"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// LoginChallenge is an outstanding one-time login code for an email address.
type LoginChallenge struct {
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type IdempotencyKey struct {
	Key            string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

// LedgerDrift describes a balance row that disagrees with its journal.
type LedgerDrift struct {
	UserID           uuid.UUID
	Asset            string
	Available        int64
	Locked           int64
	JournalAvailable int64
	JournalLocked    int64
}
