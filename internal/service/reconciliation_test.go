package service

import (
	"testing"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationDetectsDrift(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser(t, "alice@example.com", usdc(10))
	f.requireBalanced(t)

	// Write a balance change that bypasses the journal.
	b := f.balance(t, alice.ID)
	n, err := f.store.Queries().CompareAndSwapBalance(f.ctx, repository.CompareAndSwapBalanceParams{
		UserID:        alice.ID,
		Asset:         domain.AssetUSDC,
		PrevAvailable: b.Available,
		PrevLocked:    b.Locked,
		Available:     b.Available + usdc(1),
		Locked:        b.Locked,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	report, err := f.recon.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DriftRows)
	assert.Zero(t, report.NegativeBalances)
}

func TestAccountStatement(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser(t, "alice@example.com", usdc(50))
	f.createUser(t, "bob@example.com", 0)

	_, err := f.transfers.SendTransfer(f.ctx, SendTransferRequest{
		SenderID: alice.ID, SenderEmail: alice.Email, RecipientEmail: "bob@example.com", AmountMicros: usdc(5),
	})
	require.NoError(t, err)

	entries, err := f.accounts.GetStatement(f.ctx, alice.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	kinds := []string{entries[0].Kind, entries[1].Kind}
	assert.ElementsMatch(t, []string{domain.EntryCredit, domain.EntryDebit}, kinds)

	user, err := f.accounts.GetUser(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Email, user.Email)
}
