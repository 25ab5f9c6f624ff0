package service

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// Inside RunInTx only the querier handed to fn may be used.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// Notifier queues an email for delivery. Implementations must not block.
type Notifier interface {
	Notify(to string, msg notify.Message)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, notify.Message) {}
