// Package gateway holds a sandbox payout provider used when no provider
// credentials are configured. It accepts orders locally and settles them
// after a delay, so the reconciliation paths run end to end in development.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/shopspring/decimal"
)

// SandboxProvider simulates the payout provider.
type SandboxProvider struct {
	// FailureRate is the probability of an ambiguous submission failure (0.0 to 1.0).
	FailureRate float64
	// Latency is the simulated network delay per call.
	Latency time.Duration
	// SettleAfter is how long an accepted order stays processing.
	SettleAfter time.Duration

	clock clock.Clock

	mu           sync.Mutex
	orders       map[string]sandboxOrder
	byReference  map[string]string
	seq          int
	nextErr      error
	institutions map[string][]paycrest.Institution
}

type sandboxOrder struct {
	order     paycrest.Order
	createdAt time.Time
}

func NewSandboxProvider(c clock.Clock) *SandboxProvider {
	if c == nil {
		c = clock.RealClock{}
	}
	return &SandboxProvider{
		SettleAfter: 30 * time.Second,
		clock:       c,
		orders:      make(map[string]sandboxOrder),
		byReference: make(map[string]string),
		institutions: map[string][]paycrest.Institution{
			"NGN": {
				{Code: "GTBINGLA", Name: "Guaranty Trust Bank", Type: "bank"},
				{Code: "ABNGNGLA", Name: "Access Bank", Type: "bank"},
				{Code: "OPAYNGPC", Name: "OPay", Type: "mobile_money"},
			},
			"KES": {
				{Code: "KCBLKENX", Name: "KCB Bank", Type: "bank"},
				{Code: "SAFAKEPC", Name: "M-Pesa", Type: "mobile_money"},
			},
		},
	}
}

// FailNext makes the next CreateOrder call return err.
func (g *SandboxProvider) FailNext(err error) {
	g.mu.Lock()
	g.nextErr = err
	g.mu.Unlock()
}

func (g *SandboxProvider) wait(ctx context.Context) error {
	if g.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(g.Latency):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sandbox call canceled: %w", ctx.Err())
	}
}

func (g *SandboxProvider) CreateOrder(ctx context.Context, req paycrest.CreateOrderRequest) (*paycrest.Order, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.nextErr; err != nil {
		g.nextErr = nil
		return nil, err
	}
	if g.FailureRate > 0 && rand.Float64() < g.FailureRate {
		return nil, &paycrest.APIError{Code: "TIMEOUT", Message: "sandbox simulated timeout"}
	}
	if _, ok := g.institutions[req.Currency]; !ok {
		return nil, &paycrest.APIError{StatusCode: 400, Code: "UNSUPPORTED_CURRENCY", Message: "currency not supported"}
	}
	if id, ok := g.byReference[req.Reference]; ok && req.Reference != "" {
		o := g.orders[id].order
		return &o, nil
	}

	g.seq++
	now := g.clock.Now()
	order := paycrest.Order{
		ID:        fmt.Sprintf("SANDBOX-%s-%05d", now.Format("20060102-150405"), g.seq),
		Reference: req.Reference,
		Status:    paycrest.OrderPending,
		Token:     req.Token,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Recipient: paycrest.Recipient{
			InstitutionCode: req.Recipient.InstitutionCode,
			AccountName:     req.Recipient.AccountName,
		},
		CreatedAt: now.Format(time.RFC3339),
	}
	g.orders[order.ID] = sandboxOrder{order: order, createdAt: now}
	if req.Reference != "" {
		g.byReference[req.Reference] = order.ID
	}
	return &order, nil
}

// GetOrder reports an accepted order as settled once SettleAfter has passed.
func (g *SandboxProvider) GetOrder(ctx context.Context, orderID string) (*paycrest.Order, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return nil, &paycrest.APIError{StatusCode: 404, Code: "NOT_FOUND", Message: "order not found"}
	}
	order := o.order
	if order.Status == paycrest.OrderPending && !g.clock.Now().Before(o.createdAt.Add(g.SettleAfter)) {
		order.Status = paycrest.OrderSettled
		if amount, err := decimal.NewFromString(order.Amount); err == nil {
			order.FiatAmount = amount.Mul(decimal.NewFromInt(1500)).StringFixed(2)
		}
		o.order = order
		g.orders[orderID] = o
	}
	return &order, nil
}

// SetOrderStatus forces an order into status.
func (g *SandboxProvider) SetOrderStatus(orderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.order.Status = status
		g.orders[orderID] = o
	}
}

func (g *SandboxProvider) Currencies(ctx context.Context) ([]paycrest.Currency, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return []paycrest.Currency{
		{Code: "NGN", Name: "Nigerian Naira", Symbol: "₦", Decimals: 2, MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(10_000)},
		{Code: "KES", Name: "Kenyan Shilling", Symbol: "KSh", Decimals: 2, MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(10_000)},
	}, nil
}

func (g *SandboxProvider) Institutions(ctx context.Context, currency string) ([]paycrest.Institution, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	list, ok := g.institutions[strings.ToUpper(currency)]
	if !ok {
		return nil, &paycrest.APIError{StatusCode: 404, Code: "UNSUPPORTED_CURRENCY", Message: "currency not supported"}
	}
	return append([]paycrest.Institution(nil), list...), nil
}
