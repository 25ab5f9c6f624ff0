package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxSettlesAfterDelay(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	g := NewSandboxProvider(clk)
	g.SettleAfter = time.Minute

	order, err := g.CreateOrder(ctx, paycrest.CreateOrderRequest{Amount: "30", Token: "USDC", Currency: "NGN", Reference: "SENDZZ-1"})
	require.NoError(t, err)

	again, err := g.CreateOrder(ctx, paycrest.CreateOrderRequest{Amount: "30", Token: "USDC", Currency: "NGN", Reference: "SENDZZ-1"})
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID, "same reference returns the same order")

	got, err := g.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, paycrest.OrderPending, got.Status)

	clk.Advance(time.Minute)
	got, err = g.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, paycrest.OrderSettled, got.Status)
	assert.Equal(t, "45000.00", got.FiatAmount)
}

func TestSandboxFailures(t *testing.T) {
	ctx := context.Background()
	g := NewSandboxProvider(nil)

	_, err := g.CreateOrder(ctx, paycrest.CreateOrderRequest{Amount: "1", Currency: "XYZ"})
	assert.True(t, paycrest.IsDefinite(err))

	boom := errors.New("boom")
	g.FailNext(boom)
	_, err = g.CreateOrder(ctx, paycrest.CreateOrderRequest{Amount: "1", Currency: "NGN"})
	assert.ErrorIs(t, err, boom)
	_, err = g.CreateOrder(ctx, paycrest.CreateOrderRequest{Amount: "1", Currency: "NGN"})
	assert.NoError(t, err)

	_, err = g.Institutions(ctx, "xyz")
	assert.Error(t, err)
	inst, err := g.Institutions(ctx, "ngn")
	require.NoError(t, err)
	assert.NotEmpty(t, inst)
}
