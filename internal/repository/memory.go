package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps every table in process memory. Transactions are fully
// serialized and a failed transaction restores the state it started from, so
// callers observe the same all-or-nothing behavior as Store.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	state *memState
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryStore{clock: c, state: newMemState()}
}

// Queries returns a query set where each call is its own transaction.
func (s *MemoryStore) Queries() Querier {
	return &memQuerier{s: s}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memQuerier{s: s, inTx: true}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

type balanceKey struct {
	userID uuid.UUID
	asset  string
}

type entryKey struct {
	userID    uuid.UUID
	kind      string
	reference string
}

type webhookKey struct {
	provider string
	eventID  string
}

type memState struct {
	users        map[uuid.UUID]models.User
	usersByEmail map[string]uuid.UUID

	balances   map[balanceKey]models.Balance
	entries    []models.LedgerEntry
	entryIndex map[entryKey]struct{}

	transfers      map[uuid.UUID]models.Transfer
	transferOrder  []uuid.UUID
	claimHashIndex map[string]uuid.UUID

	withdrawals     map[uuid.UUID]models.Withdrawal
	withdrawalOrder []uuid.UUID

	webhookEvents map[uuid.UUID]models.WebhookEvent
	webhookIndex  map[webhookKey]uuid.UUID
	webhookOrder  []uuid.UUID

	audit      []models.AuditLogEntry
	otpLogs    []models.OTPLog
	challenges map[string]models.LoginChallenge
	idem       map[string]models.IdempotencyKey
}

func newMemState() *memState {
	return &memState{
		users:          make(map[uuid.UUID]models.User),
		usersByEmail:   make(map[string]uuid.UUID),
		balances:       make(map[balanceKey]models.Balance),
		entryIndex:     make(map[entryKey]struct{}),
		transfers:      make(map[uuid.UUID]models.Transfer),
		claimHashIndex: make(map[string]uuid.UUID),
		withdrawals:    make(map[uuid.UUID]models.Withdrawal),
		webhookEvents:  make(map[uuid.UUID]models.WebhookEvent),
		webhookIndex:   make(map[webhookKey]uuid.UUID),
		challenges:     make(map[string]models.LoginChallenge),
		idem:           make(map[string]models.IdempotencyKey),
	}
}

// clone copies every table. Rows are stored by value and pointer fields are
// replaced rather than mutated, so a shallow row copy is enough.
func (st *memState) clone() *memState {
	return &memState{
		users:           cloneMap(st.users),
		usersByEmail:    cloneMap(st.usersByEmail),
		balances:        cloneMap(st.balances),
		entries:         append([]models.LedgerEntry(nil), st.entries...),
		entryIndex:      cloneMap(st.entryIndex),
		transfers:       cloneMap(st.transfers),
		transferOrder:   append([]uuid.UUID(nil), st.transferOrder...),
		claimHashIndex:  cloneMap(st.claimHashIndex),
		withdrawals:     cloneMap(st.withdrawals),
		withdrawalOrder: append([]uuid.UUID(nil), st.withdrawalOrder...),
		webhookEvents:   cloneMap(st.webhookEvents),
		webhookIndex:    cloneMap(st.webhookIndex),
		webhookOrder:    append([]uuid.UUID(nil), st.webhookOrder...),
		audit:           append([]models.AuditLogEntry(nil), st.audit...),
		otpLogs:         append([]models.OTPLog(nil), st.otpLogs...),
		challenges:      cloneMap(st.challenges),
		idem:            cloneMap(st.idem),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memQuerier struct {
	s    *MemoryStore
	inTx bool
}

var _ Querier = (*memQuerier)(nil)

// do runs fn against the live state. Outside a transaction each call takes the
// store lock itself; inside one the lock is already held by RunInTx.
func (q *memQuerier) do(ctx context.Context, fn func(st *memState, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !q.inTx {
		q.s.mu.Lock()
		defer q.s.mu.Unlock()
	}
	return fn(q.s.state, q.s.clock.Now())
}

func page[T any](items []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func ptr[T any](v T) *T {
	return &v
}
