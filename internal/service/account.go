package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Big6ixxx/sendzz/internal/ledger"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/google/uuid"
)

// AccountService serves a user's own profile, balance and statement.
type AccountService struct {
	store  QueryStore
	ledger *ledger.Ledger
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{
		store:  store,
		ledger: ledger.New(),
	}
}

func (s *AccountService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.store.Queries().GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *AccountService) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	return s.ledger.Balance(ctx, s.store.Queries(), userID)
}

// GetStatement returns the user's journal entries, newest first.
func (s *AccountService) GetStatement(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.LedgerEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	limit, offset := normalizePage(int32(pageSize), int32((page-1)*pageSize))
	entries, err := s.store.Queries().ListLedgerEntries(ctx, repository.ListLedgerEntriesParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}
