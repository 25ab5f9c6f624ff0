package service

import (
	"github.com/Big6ixxx/sendzz/internal/domain"
)

// withdrawalTransitions lists the status moves the provider or an operator may
// cause. Expiry of an unverified withdrawal goes through its own query.
var withdrawalTransitions = map[string]map[string]struct{}{
	domain.WithdrawalStatusAwaitingVerification: {
		domain.WithdrawalStatusProcessing: {},
		domain.WithdrawalStatusCompleted:  {},
		domain.WithdrawalStatusFailed:     {},
		domain.WithdrawalStatusReversed:   {},
	},
	domain.WithdrawalStatusProcessing: {
		domain.WithdrawalStatusCompleted: {},
		domain.WithdrawalStatusFailed:    {},
		domain.WithdrawalStatusReversed:  {},
	},
	domain.WithdrawalStatusCompleted: {
		domain.WithdrawalStatusReversed: {},
	},
	domain.WithdrawalStatusFailed:   {},
	domain.WithdrawalStatusReversed: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := withdrawalTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func outcomeStatus(outcome domain.PayoutOutcome) string {
	switch outcome {
	case domain.PayoutCompleted:
		return domain.WithdrawalStatusCompleted
	case domain.PayoutFailed:
		return domain.WithdrawalStatusFailed
	case domain.PayoutReversed:
		return domain.WithdrawalStatusReversed
	default:
		return domain.WithdrawalStatusProcessing
	}
}
