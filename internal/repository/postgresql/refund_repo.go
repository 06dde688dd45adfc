package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type refundBatchRepository struct {
	db *sql.DB
}

func NewRefundBatchRepository(db *sql.DB) port.RefundBatchRepository {
	return &refundBatchRepository{db: db}
}

const (
	batchColumns = `id, withdrawal_id, campaign_id, status, created_at, updated_at, processed_at`
	taskColumns  = `id, batch_id, position, donor_id, donation_ids, payment_ids, amount, status, error,
	attempts, refund_id, claim_id, last_attempt_at, processed_at`
)

func (r *refundBatchRepository) Create(ctx context.Context, b *domain.RefundBatch) error {
	const batchQuery = `INSERT INTO refund_batches (` + batchColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	const taskQuery = `INSERT INTO refund_tasks (` + taskColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	return withinTx(ctx, r.db, func(txCtx context.Context) error {
		q := conn(txCtx, r.db)
		_, err := q.ExecContext(txCtx, batchQuery,
			b.ID, b.WithdrawalID, b.CampaignID, b.Status, b.CreatedAt, b.UpdatedAt, b.ProcessedAt)
		if err != nil {
			if isUniqueViolation(err, "refund_batches_withdrawal_id_key") {
				return domain.ErrDuplicateOperation
			}
			return err
		}
		for _, t := range b.RefundDetails {
			_, err := q.ExecContext(txCtx, taskQuery,
				t.ID, b.ID, t.Position, t.DonorID, pq.Array(uuidStrings(t.DonationIDs)), pq.Array(t.PaymentIDs),
				t.Amount, t.Status, t.Error, t.Attempts, t.RefundID, t.ClaimID, t.LastAttemptAt, t.ProcessedAt)
			if err != nil {
				return fmt.Errorf("insert refund task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// load reads the batch row and its tasks from one snapshot, so a reader
// never pairs a batch status with tasks from a later commit.
func (r *refundBatchRepository) load(ctx context.Context, query string, arg any) (*domain.RefundBatch, error) {
	var b domain.RefundBatch
	err := withinSnapshot(ctx, r.db, func(ctx context.Context) error {
		err := conn(ctx, r.db).QueryRowContext(ctx, query, arg).Scan(
			&b.ID, &b.WithdrawalID, &b.CampaignID, &b.Status, &b.CreatedAt, &b.UpdatedAt, &b.ProcessedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		b.RefundDetails, err = r.queryTasks(ctx, `SELECT `+taskColumns+` FROM refund_tasks WHERE batch_id = $1 ORDER BY position`, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *refundBatchRepository) queryTasks(ctx context.Context, query string, args ...any) ([]domain.RefundTask, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RefundTask
	for rows.Next() {
		var (
			t           domain.RefundTask
			donationIDs []string
		)
		err := rows.Scan(&t.ID, &t.BatchID, &t.Position, &t.DonorID, pq.Array(&donationIDs), pq.Array(&t.PaymentIDs),
			&t.Amount, &t.Status, &t.Error, &t.Attempts, &t.RefundID, &t.ClaimID, &t.LastAttemptAt, &t.ProcessedAt)
		if err != nil {
			return nil, err
		}
		if t.DonationIDs, err = parseUUIDs(donationIDs); err != nil {
			return nil, fmt.Errorf("refund task %s donation ids: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *refundBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	return r.load(ctx, `SELECT `+batchColumns+` FROM refund_batches WHERE id = $1`, id)
}

func (r *refundBatchRepository) GetByWithdrawalID(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error) {
	return r.load(ctx, `SELECT `+batchColumns+` FROM refund_batches WHERE withdrawal_id = $1`, withdrawalID)
}

// GetForUpdate must run inside a transaction; a read-only snapshot cannot
// take row locks.
func (r *refundBatchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	return r.load(ctx, `SELECT `+batchColumns+` FROM refund_batches WHERE id = $1 FOR UPDATE`, id)
}

func (r *refundBatchRepository) UpdateTask(ctx context.Context, t *domain.RefundTask, from domain.TaskStatus) error {
	const query = `UPDATE refund_tasks SET status = $3, error = $4, attempts = $5, refund_id = $6,
	claim_id = $7, last_attempt_at = $8, processed_at = $9
	WHERE id = $1 AND status = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		t.ID, from, t.Status, t.Error, t.Attempts, t.RefundID, t.ClaimID, t.LastAttemptAt, t.ProcessedAt)
	if err != nil {
		return err
	}
	return expectOne(result, domain.ErrConcurrentUpdate)
}

func (r *refundBatchRepository) MarkStarted(ctx context.Context, t *domain.RefundTask) error {
	const query = `UPDATE refund_tasks SET last_attempt_at = $4 WHERE id = $1 AND status = $2 AND claim_id = $3`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, t.ID, domain.TaskProcessing, t.ClaimID, t.LastAttemptAt)
	if err != nil {
		return err
	}
	return expectOne(result, domain.ErrConcurrentUpdate)
}

func (r *refundBatchRepository) UpdateStatus(ctx context.Context, b *domain.RefundBatch) error {
	const query = `UPDATE refund_batches SET status = $2, updated_at = $3, processed_at = $4 WHERE id = $1`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, b.ID, b.Status, b.UpdatedAt, b.ProcessedAt)
	if err != nil {
		return err
	}
	return expectOne(result, domain.ErrBatchNotFound)
}

func (r *refundBatchRepository) ListStaleTasks(ctx context.Context, dispatchedBefore time.Time) ([]domain.RefundTask, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM refund_tasks
	WHERE status = $1 AND last_attempt_at < $2 ORDER BY last_attempt_at`, domain.TaskProcessing, dispatchedBefore)
}
