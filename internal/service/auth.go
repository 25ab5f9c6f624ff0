package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthConfig struct {
	OTPExpiry        time.Duration
	OTPMaxFailures   int
	OTPFailureWindow time.Duration
	// AdminEmails get the admin role when their account is first created.
	AdminEmails []string
}

// AuthService implements passwordless email sign in with one-time codes.
type AuthService struct {
	store    QueryStore
	audit    *AuditService
	notifier Notifier
	clock    clock.Clock
	cfg      AuthConfig
	admins   map[string]struct{}
}

func NewAuthService(store QueryStore, notifier Notifier, clk clock.Clock, cfg AuthConfig) *AuthService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.OTPExpiry <= 0 {
		cfg.OTPExpiry = DefaultOTPExpiry
	}
	if cfg.OTPMaxFailures <= 0 {
		cfg.OTPMaxFailures = DefaultOTPMaxFailures
	}
	if cfg.OTPFailureWindow <= 0 {
		cfg.OTPFailureWindow = DefaultOTPFailureWindow
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		if email, err := domain.NormalizeEmail(e); err == nil {
			admins[email] = struct{}{}
		}
	}
	return &AuthService{
		store:    store,
		audit:    NewAuditService(store),
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		admins:   admins,
	}
}

// RequestLoginCode stores a fresh hashed code for email, replacing any
// outstanding one, and emails it.
func (s *AuthService) RequestLoginCode(ctx context.Context, email, ip, userAgent string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}

	code, err := security.GenerateOTPCode()
	if err != nil {
		return fmt.Errorf("generate login code: %w", err)
	}
	if err := s.store.Queries().UpsertLoginChallenge(ctx, repository.UpsertLoginChallengeParams{
		Email:     email,
		CodeHash:  security.HashToken(code),
		ExpiresAt: security.ExpiryAfter(s.clock.Now(), s.cfg.OTPExpiry),
	}); err != nil {
		return fmt.Errorf("store login challenge: %w", err)
	}

	s.audit.Record(ctx, nil, domain.AuditLoginAttempt, map[string]any{
		"email":      email,
		"ip":         ip,
		"user_agent": userAgent,
	})
	minutes := int(s.cfg.OTPExpiry / time.Minute)
	send(s.notifier, email, func() (notify.Message, error) {
		return notify.LoginCode(code, minutes)
	})
	return nil
}

// VerifyLoginCode consumes the outstanding code for email and returns the
// account, creating it on first sign in.
func (s *AuthService) VerifyLoginCode(ctx context.Context, email, code, ip, userAgent string) (*models.User, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	now := s.clock.Now()
	failures, err := queries.CountRecentFailedOTPAttempts(ctx, email, domain.OTPPurposeLogin, now.Add(-s.cfg.OTPFailureWindow))
	if err != nil {
		return nil, fmt.Errorf("count failed attempts: %w", err)
	}
	if failures >= int64(s.cfg.OTPMaxFailures) {
		return nil, ErrTooManyAttempts
	}

	challenge, err := queries.GetLoginChallenge(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.recordFailure(ctx, email, ip, userAgent, "no outstanding code")
		return nil, ErrInvalidLoginCode
	}
	if err != nil {
		return nil, fmt.Errorf("get login challenge: %w", err)
	}
	if now.After(challenge.ExpiresAt) {
		if err := queries.DeleteLoginChallenge(ctx, email); err != nil {
			zap.L().Warn("delete expired login challenge failed", zap.Error(err))
		}
		return nil, ErrLoginCodeExpired
	}
	if !security.VerifyToken(strings.TrimSpace(code), challenge.CodeHash) {
		s.recordFailure(ctx, email, ip, userAgent, "invalid code")
		return nil, ErrInvalidLoginCode
	}

	user, err := s.completeLogin(ctx, email, ip, userAgent)
	if repository.IsUniqueViolation(err) {
		// A concurrent first sign in created the account; the retry finds it.
		user, err = s.completeLogin(ctx, email, ip, userAgent)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) completeLogin(ctx context.Context, email, ip, userAgent string) (models.User, error) {
	var user models.User
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.DeleteLoginChallenge(ctx, email); err != nil {
			return fmt.Errorf("consume login challenge: %w", err)
		}

		var err error
		user, err = q.GetUserByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			role := domain.RoleUser
			if _, ok := s.admins[email]; ok {
				role = domain.RoleAdmin
			}
			user, err = q.CreateUser(ctx, repository.CreateUserParams{ID: uuid.New(), Email: email, Role: role})
		}
		if err != nil {
			return fmt.Errorf("get or create user: %w", err)
		}
		if err := q.EnsureBalance(ctx, user.ID, domain.AssetUSDC); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}

		if err := q.InsertOTPLog(ctx, repository.InsertOTPLogParams{
			UserID:    &user.ID,
			Email:     email,
			Purpose:   domain.OTPPurposeLogin,
			Success:   true,
			IP:        ip,
			UserAgent: userAgent,
		}); err != nil {
			return fmt.Errorf("insert otp log: %w", err)
		}
		return s.audit.Write(ctx, q, &user.ID, domain.AuditLoginSuccess, map[string]any{
			"email":      email,
			"ip":         ip,
			"user_agent": userAgent,
		})
	})
	return user, err
}

func (s *AuthService) recordFailure(ctx context.Context, email, ip, userAgent, reason string) {
	if err := s.store.Queries().InsertOTPLog(ctx, repository.InsertOTPLogParams{
		Email:     email,
		Purpose:   domain.OTPPurposeLogin,
		Success:   false,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		zap.L().Warn("otp log write failed", zap.Error(err))
	}
	s.audit.Record(ctx, nil, domain.AuditLoginFailed, map[string]any{
		"email":  email,
		"ip":     ip,
		"reason": reason,
	})
}
