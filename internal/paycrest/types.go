package paycrest

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Order statuses reported by the provider.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderSettled    = "settled"
	OrderFailed     = "failed"
	OrderRefunded   = "refunded"
)

// Webhook event types.
const (
	EventOrderPending    = "order.pending"
	EventOrderProcessing = "order.processing"
	EventOrderSettled    = "order.settled"
	EventOrderFailed     = "order.failed"
	EventOrderRefunded   = "order.refunded"
)

type Currency struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Decimals  int             `json:"decimals"`
	MinAmount decimal.Decimal `json:"minAmount"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

type Institution struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Recipient struct {
	InstitutionCode string `json:"institutionCode"`
	AccountNumber   string `json:"accountNumber"`
	AccountName     string `json:"accountName,omitempty"`
}

// CreateOrderRequest carries the full account number; it must never be logged.
type CreateOrderRequest struct {
	Amount    string    `json:"amount"`
	Token     string    `json:"token"`
	Network   string    `json:"network,omitempty"`
	Currency  string    `json:"currency"`
	Recipient Recipient `json:"recipient"`
	Reference string    `json:"reference,omitempty"`
}

type Order struct {
	ID             string    `json:"id"`
	Reference      string    `json:"reference"`
	Status         string    `json:"status"`
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	AmountReceived string    `json:"amountReceived,omitempty"`
	Currency       string    `json:"currency"`
	FiatAmount     string    `json:"fiatAmount,omitempty"`
	Rate           string    `json:"rate,omitempty"`
	Fee            string    `json:"fee,omitempty"`
	Recipient      Recipient `json:"recipient"`
	TxHash         string    `json:"txHash,omitempty"`
	CreatedAt      string    `json:"createdAt,omitempty"`
	UpdatedAt      string    `json:"updatedAt,omitempty"`
}

// envelope is the provider's response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}
