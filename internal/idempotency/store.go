// Package idempotency stores the responses of mutating requests keyed by the
// client's Idempotency-Key. SQL is the source of truth; the cache only saves
// round trips for replays.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Big6ixxx/sendzz/internal/cache"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const cacheKeyPrefix = "idempotency:"

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

type Store struct {
	cache   cache.Cache
	queries repository.Querier
	ttl     time.Duration
}

// NewStore builds a store; c may be nil.
func NewStore(c cache.Cache, queries repository.Querier, ttl time.Duration) *Store {
	return &Store{cache: c, queries: queries, ttl: ttl}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cacheKeyPrefix+key)
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal(raw, &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "cache",
				}, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			zap.L().Warn("idempotency cache lookup failed", zap.Error(err))
		}
	}

	row, err := s.queries.GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := Record{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Status:      row.ResponseStatus,
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    "database",
	}
	s.store(ctx, rec)
	return &rec, nil
}

// Reserve claims key for this request. false means another request owns it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	ok, err := s.queries.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		Key:         key,
		RequestHash: requestHash,
		Method:      method,
		Path:        path,
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	if err := s.queries.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		Key:            key,
		RequestHash:    requestHash,
		ResponseStatus: status,
		ResponseBody:   body,
		ContentType:    contentType,
	}); err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := &Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
		ServedBy:    "database",
	}
	s.store(ctx, *rec)
	return rec, nil
}

// Release drops an unfinished reservation so the client may retry.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.queries.DeleteIdempotencyKey(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func (s *Store) store(ctx context.Context, rec Record) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+rec.Key, payload, s.ttl); err != nil {
		zap.L().Warn("idempotency cache set failed", zap.Error(err))
	}
}
