package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

type RefundConfig struct {
	MaxAttempts int
	Concurrency int
	CallTimeout time.Duration
	StaleAfter  time.Duration
}

func (c RefundConfig) withDefaults() RefundConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

type RefundDeps struct {
	Tx          port.Transactor
	Batches     port.RefundBatchRepository
	Donations   port.DonationRepository
	Withdrawals port.WithdrawalRepository
	Gateway     port.RefundGateway
	Cache       port.BatchCache
	Events      port.EventPublisher
	Logger      *slog.Logger
	Clock       Clock
}

// RefundService creates refund batches for rejected withdrawals and runs
// their tasks against the refund gateway in the background.
type RefundService struct {
	tx          port.Transactor
	batches     port.RefundBatchRepository
	donations   port.DonationRepository
	withdrawals port.WithdrawalRepository
	gateway     port.RefundGateway
	cache       port.BatchCache
	events      port.EventPublisher
	logger      *slog.Logger
	now         Clock
	cfg         RefundConfig

	running sync.WaitGroup

	mu sync.Mutex
	// held tasks have an attempt queued or running in this process.
	held map[uuid.UUID]struct{}
	// unsynced batches may have an outdated snapshot in the cache.
	unsynced map[uuid.UUID]struct{}
}

var _ port.RefundService = (*RefundService)(nil)

func NewRefundService(deps RefundDeps, cfg RefundConfig) *RefundService {
	return &RefundService{
		tx:          deps.Tx,
		batches:     deps.Batches,
		donations:   deps.Donations,
		withdrawals: deps.Withdrawals,
		gateway:     deps.Gateway,
		cache:       deps.Cache,
		events:      deps.Events,
		logger:      orLogger(deps.Logger).With("module", "refund"),
		now:         orClock(deps.Clock),
		cfg:         cfg.withDefaults(),
		held:        make(map[uuid.UUID]struct{}),
		unsynced:    make(map[uuid.UUID]struct{}),
	}
}

// InitiateRefundBatch returns the withdrawal's batch, creating it on the
// first call.
func (s *RefundService) InitiateRefundBatch(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error) {
	existing, err := s.batches.GetByWithdrawalID(ctx, withdrawalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var batch *domain.RefundBatch
	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		w, err := s.withdrawals.GetByID(txCtx, withdrawalID)
		if err != nil {
			return err
		}
		batch, err = s.createBatch(txCtx, w)
		return err
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		// Lost the race to a concurrent initiator.
		return s.batches.GetByWithdrawalID(ctx, withdrawalID)
	}
	if err != nil {
		return nil, err
	}
	s.announce(ctx, batch)
	return batch, nil
}

// createBatch must run inside a transaction. Covered donations move to
// refund status pending with the batch so no later batch can include them.
func (s *RefundService) createBatch(ctx context.Context, w *domain.Withdrawal) (*domain.RefundBatch, error) {
	if w.Status != domain.StatusRejected {
		return nil, &domain.StateError{Entity: "withdrawal", From: string(w.Status), Op: "initiate refunds"}
	}

	donations, err := s.donations.ListByCampaign(ctx, w.CampaignID)
	if err != nil {
		return nil, err
	}
	groups := domain.GroupRefundable(donations)
	batch := domain.NewRefundBatch(w.ID, w.CampaignID, groups, s.now())

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	for _, g := range groups {
		err := s.donations.TransitionRefundStatus(ctx, g.DonationIDs,
			[]domain.RefundStatus{domain.RefundNone}, domain.RefundPending)
		if err != nil {
			return nil, fmt.Errorf("reserve donations of %s: %w", g.DonorID, err)
		}
	}
	return batch, nil
}

// announce runs once the new batch is committed.
func (s *RefundService) announce(ctx context.Context, batch *domain.RefundBatch) {
	s.logger.InfoContext(ctx, "refund batch initiated",
		"operation", "initiate",
		"batch_id", batch.ID,
		"withdrawal_id", batch.WithdrawalID,
		"tasks", len(batch.RefundDetails),
		"status", batch.Status,
	)
	s.snapshot(ctx, batch)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventRefundBatchInitiated, batch.ID.String(), s.now(), map[string]any{
		"batch_id":      batch.ID,
		"withdrawal_id": batch.WithdrawalID,
		"campaign_id":   batch.CampaignID,
		"tasks":         len(batch.RefundDetails),
		"total":         batch.TotalAmount().StringFixed(2),
	}))
}

func (s *RefundService) GetRefundBatch(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error) {
	return s.batches.GetByWithdrawalID(ctx, withdrawalID)
}

// GetRefundBatchByID serves polling clients from the snapshot cache when
// one is configured.
func (s *RefundService) GetRefundBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error) {
	if s.cache != nil && !s.isUnsynced(batchID) {
		cached, err := s.cache.Get(ctx, batchID)
		if err != nil {
			s.logger.WarnContext(ctx, "batch cache read failed", "batch_id", batchID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}
	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.snapshot(ctx, b)
	return b, nil
}

// ProcessRefundBatch claims every eligible task and returns at once with the
// batch in processing; gateway calls continue in the background. Batches
// already in flight or completed come back unchanged.
func (s *RefundService) ProcessRefundBatch(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error) {
	return s.dispatch(ctx, batchID, func(st domain.BatchStatus) bool {
		return st == domain.BatchPending || st.Retryable()
	})
}

// RetryRefundBatch re-attempts failed tasks of a failed or partial batch.
// Any other batch is returned unchanged.
func (s *RefundService) RetryRefundBatch(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error) {
	return s.dispatch(ctx, batchID, domain.BatchStatus.Retryable)
}

func (s *RefundService) dispatch(ctx context.Context, batchID uuid.UUID, startable func(domain.BatchStatus) bool) (*domain.RefundBatch, error) {
	var (
		batch   *domain.RefundBatch
		claimed []domain.RefundTask
		noop    bool
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		b, err := s.batches.GetForUpdate(txCtx, batchID)
		if err != nil {
			return err
		}
		batch = b
		if !startable(b.Status) {
			noop = true
			return nil
		}

		now := s.now()
		exhausted := 0
		for i := range b.RefundDetails {
			t := &b.RefundDetails[i]
			if t.Exhausted(s.cfg.MaxAttempts) {
				exhausted++
				continue
			}
			if !t.Eligible(s.cfg.MaxAttempts) {
				continue
			}
			from := t.Status
			if err := t.Claim(s.cfg.MaxAttempts, now); err != nil {
				return err
			}
			if err := s.batches.UpdateTask(txCtx, t, from); err != nil {
				return fmt.Errorf("claim task %s: %w", t.ID, err)
			}
			err := s.donations.TransitionRefundStatus(txCtx, t.DonationIDs,
				[]domain.RefundStatus{domain.RefundPending, domain.RefundFailed}, domain.RefundProcessing)
			if err != nil {
				return fmt.Errorf("claim donations of task %s: %w", t.ID, err)
			}
			claimed = append(claimed, *t)
		}

		if len(claimed) == 0 {
			if exhausted > 0 {
				return domain.ErrAttemptsExhausted
			}
			if b.Status == domain.BatchPending {
				b.Recompute(now)
				return s.batches.UpdateStatus(txCtx, b)
			}
			noop = true
			return nil
		}
		b.Recompute(now)
		return s.batches.UpdateStatus(txCtx, b)
	})
	if errors.Is(err, domain.ErrAttemptsExhausted) {
		s.logger.InfoContext(ctx, "refund batch has no attempts left",
			"operation", "dispatch", "batch_id", batchID, "outcome", "exhausted")
		return batch, domain.ErrAttemptsExhausted
	}
	if err != nil {
		return nil, err
	}
	if noop {
		return batch, nil
	}

	s.logger.InfoContext(ctx, "refund batch dispatched",
		"operation", "dispatch",
		"batch_id", batch.ID,
		"claimed", len(claimed),
		"status", batch.Status,
	)
	s.snapshot(ctx, batch)

	if len(claimed) > 0 {
		s.hold(claimed)
		s.running.Add(1)
		go s.execute(context.WithoutCancel(ctx), batch.ID, claimed)
	}
	return batch, nil
}

// execute runs claimed tasks on a bounded pool. Each task settles on its
// own; one failure never touches another task.
func (s *RefundService) execute(ctx context.Context, batchID uuid.UUID, tasks []domain.RefundTask) {
	defer s.running.Done()

	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, task := range tasks {
		p.Go(func() {
			s.attempt(ctx, task)
		})
	}
	p.Wait()

	s.logger.DebugContext(ctx, "refund batch run finished", "batch_id", batchID, "tasks", len(tasks))
}

// attempt stamps the task as started, calls the gateway once and records
// the outcome under the claim it was dispatched with.
func (s *RefundService) attempt(ctx context.Context, task domain.RefundTask) {
	defer s.release(task.ID)

	started := s.now()
	task.LastAttemptAt = &started
	if err := s.batches.MarkStarted(ctx, &task); err != nil {
		s.logger.WarnContext(ctx, "refund attempt abandoned before the call",
			"operation", "attempt",
			"batch_id", task.BatchID,
			"task_id", task.ID,
			"error", err,
		)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	res, err := s.gateway.InitiateRefund(callCtx, port.RefundRequest{
		DonorID:        task.DonorID,
		Amount:         task.Amount,
		IdempotencyKey: task.ID.String(),
		DonationIDs:    task.DonationIDs,
		PaymentIDs:     task.PaymentIDs,
	})

	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case !res.Success:
		reason = res.Error
		if reason == "" {
			reason = "refund declined"
		}
	}

	err = s.settle(ctx, task.BatchID, task.ID, task.ClaimID, res.RefundID, reason)
	switch {
	case errors.Is(err, domain.ErrConcurrentUpdate):
		s.logger.WarnContext(ctx, "late refund outcome discarded",
			"operation", "settle",
			"batch_id", task.BatchID,
			"task_id", task.ID,
			"refund_id", res.RefundID,
			"reason", reason,
		)
	case err != nil:
		s.logger.ErrorContext(ctx, "refund outcome not recorded",
			"operation", "settle",
			"batch_id", task.BatchID,
			"task_id", task.ID,
			"error", err,
		)
	}
}

// settle applies one attempt outcome: the task, its donations and the
// re-derived batch status commit together. An empty reason means success.
// Outcomes for a claim the task no longer holds are ErrConcurrentUpdate.
func (s *RefundService) settle(ctx context.Context, batchID, taskID, claimID uuid.UUID, refundID, reason string) error {
	var (
		batch *domain.RefundBatch
		task  domain.RefundTask
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		b, err := s.batches.GetForUpdate(txCtx, batchID)
		if err != nil {
			return err
		}
		t, ok := b.Task(taskID)
		if !ok {
			return domain.ErrBatchNotFound
		}
		if t.Status != domain.TaskProcessing || t.ClaimID != claimID {
			return domain.ErrConcurrentUpdate
		}

		now := s.now()
		if reason == "" {
			err = t.Succeed(refundID, now)
		} else {
			err = t.Fail(reason, now)
		}
		if err != nil {
			return err
		}
		if err := s.batches.UpdateTask(txCtx, t, domain.TaskProcessing); err != nil {
			return err
		}
		err = s.donations.TransitionRefundStatus(txCtx, t.DonationIDs,
			[]domain.RefundStatus{domain.RefundProcessing}, t.DonationRefundStatus())
		if err != nil {
			return err
		}

		b.Recompute(now)
		if err := s.batches.UpdateStatus(txCtx, b); err != nil {
			return err
		}
		batch, task = b, *t
		return nil
	})
	if err != nil {
		return err
	}

	outcome, eventType := "completed", domain.EventRefundTaskCompleted
	if task.Status == domain.TaskFailed {
		outcome, eventType = "failed", domain.EventRefundTaskFailed
	}
	s.logger.InfoContext(ctx, "refund attempt settled",
		"operation", "settle",
		"batch_id", batchID,
		"task_id", taskID,
		"donor_id", task.DonorID,
		"attempts", task.Attempts,
		"outcome", outcome,
		"batch_status", batch.Status,
	)
	s.snapshot(ctx, batch)

	publish(ctx, s.events, s.logger, domain.NewEvent(eventType, batchID.String(), s.now(), map[string]any{
		"batch_id": batchID,
		"task_id":  taskID,
		"donor_id": task.DonorID,
		"amount":   task.Amount.StringFixed(2),
		"attempts": task.Attempts,
		"error":    task.Error,
	}))
	if batch.Status.Terminal() {
		publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventRefundBatchSettled, batchID.String(), s.now(), map[string]any{
			"batch_id":      batchID,
			"withdrawal_id": batch.WithdrawalID,
			"status":        batch.Status,
		}))
	}
	return nil
}

// RecoverStale fails tasks whose attempt never reported back, for example
// after a crash mid-call. Tasks this process still has queued or running are
// left alone. The gateway idempotency key makes a later retry safe even if
// the lost attempt did go through.
func (s *RefundService) RecoverStale(ctx context.Context) (int, error) {
	stale, err := s.batches.ListStaleTasks(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, t := range stale {
		if s.holds(t.ID) {
			continue
		}
		err := s.settle(ctx, t.BatchID, t.ID, t.ClaimID, "", "attempt outcome unknown: no result before recovery deadline")
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("recover task %s: %w", t.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.WarnContext(ctx, "stale refund tasks failed", "operation", "recover", "count", recovered)
	}
	return recovered, nil
}

// Wait blocks until every background batch run has finished.
func (s *RefundService) Wait() {
	s.running.Wait()
}

// snapshot refreshes the cached batch. When the write fails the entry is
// evicted, and if that fails too reads bypass the cache until a later write
// succeeds.
func (s *RefundService) snapshot(ctx context.Context, b *domain.RefundBatch) {
	if s.cache == nil {
		return
	}
	err := s.cache.Put(ctx, b)
	if err == nil {
		s.setUnsynced(b.ID, false)
		return
	}
	s.logger.WarnContext(ctx, "batch cache write failed", "batch_id", b.ID, "error", err)
	if err := s.cache.Delete(ctx, b.ID); err != nil {
		s.logger.WarnContext(ctx, "batch cache eviction failed", "batch_id", b.ID, "error", err)
		s.setUnsynced(b.ID, true)
	}
}

func (s *RefundService) hold(tasks []domain.RefundTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.held[t.ID] = struct{}{}
	}
}

func (s *RefundService) release(taskID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, taskID)
}

func (s *RefundService) holds(taskID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[taskID]
	return ok
}

func (s *RefundService) setUnsynced(batchID uuid.UUID, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stale {
		s.unsynced[batchID] = struct{}{}
	} else {
		delete(s.unsynced, batchID)
	}
}

func (s *RefundService) isUnsynced(batchID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unsynced[batchID]
	return ok
}
