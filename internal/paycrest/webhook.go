package paycrest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Big6ixxx/sendzz/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Paycrest-Signature"

var ErrMalformedPayload = errors.New("malformed webhook payload")

// WebhookPayload is the provider's event envelope. Older deliveries name the
// type field "event" instead of "eventType".
type WebhookPayload struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      Order  `json:"data"`
}

// VerifySignature checks signature against the HMAC of body in constant time.
// An empty secret or signature never verifies.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the hex signature for body. Used by tests and the sandbox.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes and normalises a webhook body. Deliveries without an
// event id are keyed by order, type and timestamp.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.EventType == "" {
		p.EventType = p.Event
	}
	if p.EventType == "" || (p.Data.ID == "" && p.Data.Reference == "") {
		return nil, fmt.Errorf("%w: missing event type or order", ErrMalformedPayload)
	}
	if p.EventID == "" {
		p.EventID = fmt.Sprintf("%s:%s:%s", p.Data.ID, p.EventType, p.Timestamp)
	}
	return &p, nil
}

// MapEventType maps a webhook event to the withdrawal outcome it implies.
// Unknown events are treated as still processing.
func MapEventType(eventType string) domain.PayoutOutcome {
	switch eventType {
	case EventOrderSettled:
		return domain.PayoutCompleted
	case EventOrderFailed:
		return domain.PayoutFailed
	case EventOrderRefunded:
		return domain.PayoutReversed
	default:
		return domain.PayoutProcessing
	}
}

// MapOrderStatus maps a polled order status the same way.
func MapOrderStatus(status string) domain.PayoutOutcome {
	return MapEventType("order." + status)
}

func IsTerminalEvent(eventType string) bool {
	return MapEventType(eventType) != domain.PayoutProcessing
}
