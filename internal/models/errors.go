package models

import "errors"

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientLocked = errors.New("insufficient locked funds")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrConcurrentUpdate   = errors.New("balance changed concurrently, retries exhausted")
)
