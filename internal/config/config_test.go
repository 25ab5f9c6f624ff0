package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DEPOSIT_WEBHOOK_SECRET", "deposit-secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, NotifyDriverLog, cfg.NotifyDriver)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTPExpiry)
	assert.Equal(t, time.Hour, cfg.OTPFailureWindow)
	assert.Equal(t, 7, cfg.ClaimTokenExpiryDays)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.UsesSandboxProvider())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SENDZZ_JWT_SECRET", testSecret)
	t.Setenv("DEPOSIT_WEBHOOK_SECRET", "deposit-secret")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("ADMIN_EMAILS", "ops@sendzz.io, , root@sendzz.io")
	t.Setenv("OTP_EXPIRY_MINUTES", "5")
	t.Setenv("IDEMPOTENCY_TTL", "90m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.JWTSecret)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"ops@sendzz.io", "root@sendzz.io"}, cfg.AdminEmails)
	assert.Equal(t, 5*time.Minute, cfg.OTPExpiry)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	setBaseEnv(t)

	t.Setenv("JWT_TTL", "forever")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_TTL")

	t.Setenv("JWT_TTL", "-1h")
	_, err = Load()
	assert.ErrorContains(t, err, "must be positive")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWTSecret:            testSecret,
			JWTIssuer:            "sendzz",
			JWTAudience:          "sendzz-api",
			StoreDriver:          StoreDriverMemory,
			NotifyDriver:         NotifyDriverLog,
			DepositWebhookSecret: "deposit-secret",
			ClaimTokenExpiryDays: 7,
			OTPMaxFailures:       5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "short_secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "at least 32"},
		{name: "postgres_without_url", mutate: func(c *Config) { c.StoreDriver = StoreDriverPostgres }, wantErr: "DATABASE_URL"},
		{name: "unknown_store", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: "STORE_DRIVER"},
		{name: "amqp_without_url", mutate: func(c *Config) { c.NotifyDriver = NotifyDriverAMQP }, wantErr: "AMQP_URL"},
		{name: "missing_deposit_secret", mutate: func(c *Config) { c.DepositWebhookSecret = "" }, wantErr: "DEPOSIT_WEBHOOK_SECRET"},
		{name: "skip_signature", mutate: func(c *Config) {
			c.DepositWebhookSecret = ""
			c.WebhookSkipSignature = true
		}},
		{name: "paycrest_without_secret", mutate: func(c *Config) { c.PaycrestAPIKey = "key" }, wantErr: "PAYCREST_WEBHOOK_SECRET"},
		{name: "bad_seal_key", mutate: func(c *Config) { c.AccountSealKey = "abcd" }, wantErr: "ACCOUNT_SEAL_KEY"},
		{name: "zero_claim_days", mutate: func(c *Config) { c.ClaimTokenExpiryDays = 0 }, wantErr: "CLAIM_TOKEN_EXPIRY_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
