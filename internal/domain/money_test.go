package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDecimal(t *testing.T) {
	assert.Equal(t, "10.5", ToDecimal(10_500_000).String())
	assert.Equal(t, "10.50", FormatMicrosFixed(10_500_000))
	assert.Equal(t, "0.000001", FormatMicros(1))
}

func TestFromDecimal(t *testing.T) {
	micros, err := FromDecimal(decimal.RequireFromString("10.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(10_500_000), micros)

	_, err = FromDecimal(decimal.RequireFromString("0.0000001"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = FromDecimal(decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr error
	}{
		{in: "40", want: 40_000_000},
		{in: " 0.5 ", want: 500_000},
		{in: "1000000", want: MaxAmountMicros},
		{in: "1000000.000001", wantErr: ErrAmountTooLarge},
		{in: "0", wantErr: ErrInvalidAmount},
		{in: "-1", wantErr: ErrInvalidAmount},
		{in: "1e3", wantErr: ErrInvalidAmount},
		{in: "1.1234567", wantErr: ErrInvalidAmount},
		{in: "", wantErr: ErrInvalidAmount},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeInputs(t *testing.T) {
	email, err := NormalizeEmail("  New@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", email)

	_, err = NormalizeEmail("Jane <jane@example.com>")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	cur, err := NormalizeCurrency("ngn")
	require.NoError(t, err)
	assert.Equal(t, "NGN", cur)
	_, err = NormalizeCurrency("NG1")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = NormalizeAccountNumber("12ab5")
	assert.ErrorIs(t, err, ErrInvalidAccountNumber)
	_, err = NormalizeInstitutionCode("X")
	assert.ErrorIs(t, err, ErrInvalidInstitutionCode)

	note, err := NormalizeNote("   ")
	require.NoError(t, err)
	assert.Nil(t, note)
}

func TestPayoutReferenceRoundTrip(t *testing.T) {
	ref := PayoutReference("abc")
	assert.Equal(t, "SENDZZ-abc", ref)
	id, ok := WithdrawalIDFromReference(ref)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = WithdrawalIDFromReference("OTHER-abc")
	assert.False(t, ok)
}
