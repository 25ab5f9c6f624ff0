package domain

const (
	AssetUSDC = "USDC"

	ProviderPaycrest = "paycrest"
	ProviderDeposit  = "deposit"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// Transfer statuses
	TransferStatusPendingClaim = "pending_claim"
	TransferStatusClaimed      = "claimed"
	TransferStatusCompleted    = "completed"
	TransferStatusCancelled    = "cancelled"
	TransferStatusExpired      = "expired"

	// Withdrawal statuses
	WithdrawalStatusAwaitingVerification = "awaiting_verification"
	WithdrawalStatusProcessing           = "processing"
	WithdrawalStatusCompleted            = "completed"
	WithdrawalStatusFailed               = "failed"
	WithdrawalStatusReversed             = "reversed"

	VerificationStatusPending  = "pending"
	VerificationStatusVerified = "verified"
	VerificationStatusExpired  = "expired"

	// Ledger journal kinds
	EntryCredit  = "credit"
	EntryDebit   = "debit"
	EntryLock    = "lock"
	EntryUnlock  = "unlock"
	EntryRelease = "release"

	OTPPurposeLogin      = "login"
	OTPPurposeWithdrawal = "withdrawal"

	PayoutReferencePrefix = "SENDZZ-"
)

// Audit actions
const (
	AuditLoginAttempt = "auth.login_attempt"
	AuditLoginSuccess = "auth.login_success"
	AuditLoginFailed  = "auth.login_failed"
	AuditLogout       = "auth.logout"

	AuditTransferInitiated = "transfer.initiated"
	AuditTransferClaimed   = "transfer.claimed"
	AuditTransferCancelled = "transfer.cancelled"
	AuditTransferExpired   = "transfer.expired"
	AuditTransferFailed    = "transfer.failed"

	AuditWithdrawalInitiated      = "withdrawal.initiated"
	AuditWithdrawalVerified       = "withdrawal.verified"
	AuditWithdrawalCompleted      = "withdrawal.completed"
	AuditWithdrawalFailed         = "withdrawal.failed"
	AuditWithdrawalReversed       = "withdrawal.reversed"
	AuditWithdrawalSubmitFailed   = "withdrawal.submission_failed"
	AuditWithdrawalManualResolve  = "withdrawal.manual_resolution"
	AuditWithdrawalSettleMismatch = "withdrawal.settled_after_failure"

	AuditBalanceCredited = "balance.credited"
	AuditBalanceDebited  = "balance.debited"

	AuditWebhookReceived  = "webhook.received"
	AuditWebhookProcessed = "webhook.processed"
)

// PayoutOutcome is the internal classification of a provider order status.
type PayoutOutcome string

const (
	PayoutProcessing PayoutOutcome = "processing"
	PayoutCompleted  PayoutOutcome = "completed"
	PayoutFailed     PayoutOutcome = "failed"
	PayoutReversed   PayoutOutcome = "reversed"
)
