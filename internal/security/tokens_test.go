package security

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokens(t *testing.T) {
	hexTok, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, hexTok, 64)

	urlTok, err := GenerateURLSafeToken()
	require.NoError(t, err)
	assert.Len(t, urlTok, 43)
	assert.NotContains(t, urlTok, "=")
	assert.NotContains(t, urlTok, "+")
	assert.NotContains(t, urlTok, "/")

	other, err := GenerateURLSafeToken()
	require.NoError(t, err)
	assert.NotEqual(t, urlTok, other)
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		tok, err := GenerateURLSafeToken()
		require.NoError(t, err)
		other, err := GenerateURLSafeToken()
		require.NoError(t, err)

		assert.True(t, VerifyToken(tok, HashToken(tok)))
		assert.False(t, VerifyToken(tok, HashToken(other)))
	}
	assert.False(t, VerifyToken("abc", "short"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestGenerateOTPCode(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := GenerateOTPCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestMaskSensitiveData(t *testing.T) {
	tests := []struct {
		value   string
		visible int
		want    string
	}{
		{"0123456789", 4, "******6789"},
		{"1234", 4, "****"},
		{"12", 4, "**"},
		{"", 4, ""},
		{"abcdef", 0, "******"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MaskSensitiveData(tc.value, tc.visible), tc.value)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := ExpiryAfterDays(now, 7)
	assert.Equal(t, now.Add(7*24*time.Hour), deadline)

	assert.False(t, IsExpired(&deadline, now))
	assert.True(t, IsExpired(&deadline, deadline.Add(time.Second)))
	assert.True(t, IsExpired(nil, now))
	assert.Equal(t, now.Add(10*time.Minute), ExpiryAfter(now, 10*time.Minute))
}

func TestMemoryLimiter(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(clk)
	limit := Limit{Max: 2, Window: time.Minute}
	ctx := context.Background()

	d, err := l.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, _ = l.Allow(ctx, "k", limit)
	assert.True(t, d.Allowed)

	d, _ = l.Allow(ctx, "k", limit)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	d, _ = l.Allow(ctx, "other", limit)
	assert.True(t, d.Allowed)

	clk.Advance(time.Minute)
	d, _ = l.Allow(ctx, "k", limit)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterSweepsPeriodically(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(clk)
	short := Limit{Max: 1, Window: time.Second}
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := l.Allow(ctx, "ip:"+strconv.Itoa(i), short)
		require.NoError(t, err)
	}
	clk.Advance(2 * time.Second)

	// Expired windows stay until the next sweep is due.
	_, _ = l.Allow(ctx, "ip:new", short)
	assert.Len(t, l.windows, 51)

	clk.Advance(memorySweepInterval)
	d, _ := l.Allow(ctx, "ip:0", short)
	assert.True(t, d.Allowed)
	assert.Len(t, l.windows, 1)
}

func TestSealer(t *testing.T) {
	s, err := NewSealerFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("0123456789"), []byte("withdrawal-1"))
	require.NoError(t, err)

	plain, err := s.Open(sealed, []byte("withdrawal-1"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(plain))

	_, err = s.Open(sealed, []byte("withdrawal-2"))
	assert.ErrorIs(t, err, ErrSealedDataInvalid)

	_, err = NewSealerFromHex("abcd")
	assert.Error(t, err)
}
