package service

import (
	"fmt"

	"github.com/Big6ixxx/sendzz/internal/notify"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func normalizePage(limit, offset int32) (int32, int32) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// send renders and queues an email. Rendering failures are logged; they never
// fail the operation that produced the email.
func send(n Notifier, to string, render func() (notify.Message, error)) {
	if to == "" {
		return
	}
	msg, err := render()
	if err != nil {
		zap.L().Error("render email failed", zap.String("to", to), zap.Error(err))
		return
	}
	n.Notify(to, msg)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
