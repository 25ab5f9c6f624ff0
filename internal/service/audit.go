package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single audit record using q, so it commits or rolls back
// with the caller's transaction.
func (s *AuditService) Write(ctx context.Context, q repository.Querier, userID *uuid.UUID, action string, metadata map[string]any) error {
	var raw []byte
	if len(metadata) > 0 {
		var err error
		raw, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	if err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		UserID:   userID,
		Action:   action,
		Metadata: raw,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Record writes an audit entry outside any transaction. Used for failure
// outcomes whose own transaction was rolled back.
func (s *AuditService) Record(ctx context.Context, userID *uuid.UUID, action string, metadata map[string]any) {
	if err := s.Write(ctx, s.store.Queries(), userID, action, metadata); err != nil {
		zap.L().Error("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuditService) List(ctx context.Context, userID *uuid.UUID, action string, limit, offset int32) ([]models.AuditLogEntry, error) {
	limit, offset = normalizePage(limit, offset)
	entries, err := s.store.Queries().ListAuditLogs(ctx, repository.ListAuditLogsParams{
		UserID: userID,
		Action: action,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}
