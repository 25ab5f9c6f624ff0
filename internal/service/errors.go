package service

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")

	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDebitFailed            = errors.New("failed to debit balance")
	ErrSelfTransfer           = errors.New("cannot transfer to yourself")
	ErrInvalidOrExpiredClaim  = errors.New("invalid or expired claim link")
	ErrClaimExpired           = errors.New("claim link has expired")
	ErrRecipientMismatch      = errors.New("transfer was sent to a different email address")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferNotCancellable = errors.New("transfer can no longer be cancelled")
	ErrInvalidDirection       = errors.New("direction must be all, sent or received")

	ErrInvalidInstitution          = errors.New("invalid institution for currency")
	ErrLockFailed                  = errors.New("failed to lock funds")
	ErrWithdrawalNotFound          = errors.New("withdrawal not found")
	ErrUnauthorized                = errors.New("not authorized for this withdrawal")
	ErrAlreadyProcessed            = errors.New("withdrawal already processed")
	ErrCodeExpired                 = errors.New("verification code expired")
	ErrInvalidCode                 = errors.New("invalid verification code")
	ErrTooManyAttempts             = errors.New("too many failed attempts")
	ErrAccountMismatch             = errors.New("account details do not match the withdrawal")
	ErrPayoutSubmissionFailed      = errors.New("payout submission failed")
	ErrPayoutPendingReconciliation = errors.New("payout submission outcome unknown, pending reconciliation")
	ErrNotInReview                 = errors.New("withdrawal is not awaiting manual review")
	ErrInvalidReviewDecision       = errors.New("invalid manual review decision")

	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")

	ErrInvalidLoginCode = errors.New("invalid login code")
	ErrLoginCodeExpired = errors.New("login code expired")
)
