// Package memory keeps every aggregate in process memory. It serves the
// "memory" db driver and the service tests. Transactions are serialized and
// work on a private copy of the state that replaces the committed state on
// success, so readers outside a transaction only see committed data.
package memory

import (
	"context"
	"sync"

	"fundflow/internal/domain"

	"github.com/google/uuid"
)

type ctxtype string

const trKey ctxtype = "tx"

type state struct {
	campaigns   map[uuid.UUID]domain.Campaign
	donations   map[uuid.UUID]domain.Donation
	donationSeq []uuid.UUID
	votes       map[uuid.UUID]domain.Vote
	voteSeq     []uuid.UUID
	withdrawals map[uuid.UUID]domain.Withdrawal
	wSeq        []uuid.UUID
	batches     map[uuid.UUID]domain.RefundBatch
	byWithdraw  map[uuid.UUID]uuid.UUID
}

func newState() *state {
	return &state{
		campaigns:   make(map[uuid.UUID]domain.Campaign),
		donations:   make(map[uuid.UUID]domain.Donation),
		votes:       make(map[uuid.UUID]domain.Vote),
		withdrawals: make(map[uuid.UUID]domain.Withdrawal),
		batches:     make(map[uuid.UUID]domain.RefundBatch),
		byWithdraw:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range s.donations {
		c.donations[k] = v
	}
	c.donationSeq = append([]uuid.UUID(nil), s.donationSeq...)
	for k, v := range s.votes {
		c.votes[k] = v
	}
	c.voteSeq = append([]uuid.UUID(nil), s.voteSeq...)
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	c.wSeq = append([]uuid.UUID(nil), s.wSeq...)
	for k, v := range s.batches {
		c.batches[k] = copyBatch(v)
	}
	for k, v := range s.byWithdraw {
		c.byWithdraw[k] = v
	}
	return c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func working(ctx context.Context) (*state, bool) {
	st, ok := ctx.Value(trKey).(*state)
	return st, ok
}

// WithinTx serializes transactions. Nested calls join the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := working(ctx); ok {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	draft := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, trKey, draft)); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = draft
	s.mu.Unlock()
	return nil
}

func (s *Store) read(ctx context.Context, fn func(st *state)) {
	if st, ok := working(ctx); ok {
		fn(st)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// write applies fn to the transaction's draft, or atomically to the
// committed state when ctx carries no transaction. A failed fn must leave
// the state untouched.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st, ok := working(ctx); ok {
		return fn(st)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func copyBatch(b domain.RefundBatch) domain.RefundBatch {
	tasks := make([]domain.RefundTask, len(b.RefundDetails))
	for i, t := range b.RefundDetails {
		t.DonationIDs = append([]uuid.UUID(nil), t.DonationIDs...)
		t.PaymentIDs = append([]string(nil), t.PaymentIDs...)
		tasks[i] = t
	}
	b.RefundDetails = tasks
	return b
}
