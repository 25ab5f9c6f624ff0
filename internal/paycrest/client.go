// Package paycrest is the client for the fiat payout provider: order
// creation and lookup, reference data, and webhook verification.
package paycrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Big6ixxx/sendzz/internal/cache"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://api.paycrest.io/v1"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultCacheTTL   = time.Hour
	DefaultBackoff    = time.Second

	maxBackoffInterval = 10 * time.Second
)

// APIError is a failed provider call. StatusCode is zero when no HTTP
// response was received.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("paycrest: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("paycrest: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsDefinite reports whether err is a definite rejection (4xx): the provider
// received the request and refused it. Timeouts, 5xx and transport failures
// leave the outcome unknown, and so does 409: an order with the same
// reference already exists.
func IsDefinite(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusConflict
}

func isConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	CacheTTL   time.Duration

	// InitialBackoff is the first wait between retries.
	InitialBackoff time.Duration
}

type Client struct {
	apiKey         string
	baseURL        string
	maxRetries     uint64
	cacheTTL       time.Duration
	httpClient     *http.Client
	cache          cache.Cache
	initialBackoff time.Duration
}

// NewClient builds a client. c caches currencies and institutions and may be nil.
func NewClient(cfg Config, c cache.Cache) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paycrest api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultBackoff
	}
	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:     cfg.MaxRetries,
		cacheTTL:       cfg.CacheTTL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		cache:          c,
		initialBackoff: cfg.InitialBackoff,
	}, nil
}

// CreateOrder submits a payout. The reference makes a retried submission
// recognisable to the provider.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/sender/orders", req, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Code: "MISSING_ORDER_ID", Message: "order created without id"}
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.do(ctx, "get_order", http.MethodGet, "/sender/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) Currencies(ctx context.Context) ([]Currency, error) {
	return cache.GetOrLoad(ctx, c.cache, "paycrest:currencies", c.cacheTTL, func(ctx context.Context) ([]Currency, error) {
		var raw json.RawMessage
		if err := c.do(ctx, "currencies", http.MethodGet, "/currencies", nil, &raw); err != nil {
			return nil, err
		}
		var out []Currency
		if err := decodeList(raw, "currencies", &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (c *Client) Institutions(ctx context.Context, currency string) ([]Institution, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	return cache.GetOrLoad(ctx, c.cache, "paycrest:institutions:"+code, c.cacheTTL, func(ctx context.Context) ([]Institution, error) {
		var raw json.RawMessage
		if err := c.do(ctx, "institutions", http.MethodGet, "/institutions/"+url.PathEscape(code), nil, &raw); err != nil {
			return nil, err
		}
		var out []Institution
		if err := decodeList(raw, "institutions", &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// decodeList accepts both a bare array and an object wrapping it under field.
func decodeList(raw json.RawMessage, field string, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	inner, ok := wrapped[field]
	if !ok {
		return fmt.Errorf("decode %s: field missing", field)
	}
	return json.Unmarshal(inner, out)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = maxBackoffInterval
	policy.MaxElapsedTime = 0

	// unknown is set once an attempt may have reached the provider without a
	// usable answer. A rejection of a later non-GET attempt then says nothing
	// about the first one, so the outcome stays unknown.
	attempt := 0
	unknown := false
	op := func() error {
		attempt++
		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if IsDefinite(err) && unknown && method != http.MethodGet {
			return backoff.Permanent(&APIError{
				Code:    "OUTCOME_UNKNOWN",
				Message: fmt.Sprintf("attempt %d rejected after an unanswered attempt: %v", attempt, err),
			})
		}
		if IsDefinite(err) || isConflict(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		unknown = true
		zap.L().Warn("paycrest request failed, retrying",
			zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		observability.IncrementProviderRequest(endpoint, "error")
		return err
	}
	observability.IncrementProviderRequest(endpoint, "ok")
	return nil
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := "TRANSPORT"
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = "TIMEOUT"
		}
		return &APIError{Code: code, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{Code: "TRANSPORT", Message: fmt.Sprintf("read body: %v", err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Status == "error" {
		status := resp.StatusCode
		if status < 400 {
			// 2xx carrying an error envelope is a rejection of the request.
			status = http.StatusUnprocessableEntity
		}
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: status, Code: env.Code, Message: msg}
	}
	if decodeErr != nil {
		return &APIError{StatusCode: http.StatusBadGateway, Code: "BAD_RESPONSE", Message: decodeErr.Error()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{StatusCode: http.StatusBadGateway, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	return nil
}
