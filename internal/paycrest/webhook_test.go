package paycrest

import (
	"testing"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"eventId":"e1","eventType":"order.settled","data":{"id":"ord_1"}}`)
	sig := Sign(body, "secret")

	assert.True(t, VerifySignature(body, sig, "secret"))
	assert.False(t, VerifySignature(body, sig, "other"))
	assert.False(t, VerifySignature(append(body, ' '), sig, "secret"))
	assert.False(t, VerifySignature(body, "", "secret"))
	assert.False(t, VerifySignature(body, sig, ""))
	assert.False(t, VerifySignature(body, "not-hex", "secret"))
}

func TestParseWebhook(t *testing.T) {
	p, err := ParseWebhook([]byte(`{"eventId":"e1","eventType":"order.settled","data":{"id":"ord_1","fiatAmount":"7500"}}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", p.EventID)
	assert.Equal(t, "7500", p.Data.FiatAmount)

	p, err = ParseWebhook([]byte(`{"event":"order.failed","timestamp":"2026-01-01T00:00:00Z","data":{"id":"ord_2"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventOrderFailed, p.EventType)
	assert.Equal(t, "ord_2:order.failed:2026-01-01T00:00:00Z", p.EventID)

	for _, body := range []string{`not json`, `{"eventId":"e"}`, `{"eventType":"order.settled","data":{}}`} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}

func TestMapEventType(t *testing.T) {
	tests := map[string]domain.PayoutOutcome{
		EventOrderPending:    domain.PayoutProcessing,
		EventOrderProcessing: domain.PayoutProcessing,
		EventOrderSettled:    domain.PayoutCompleted,
		EventOrderFailed:     domain.PayoutFailed,
		EventOrderRefunded:   domain.PayoutReversed,
		"order.unknown":      domain.PayoutProcessing,
	}
	for event, want := range tests {
		assert.Equal(t, want, MapEventType(event), event)
	}
	assert.Equal(t, domain.PayoutCompleted, MapOrderStatus(OrderSettled))
	assert.True(t, IsTerminalEvent(EventOrderRefunded))
	assert.False(t, IsTerminalEvent(EventOrderPending))
}
