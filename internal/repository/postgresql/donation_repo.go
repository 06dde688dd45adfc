package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type donationRepository struct {
	db *sql.DB
}

func NewDonationRepository(db *sql.DB) port.DonationRepository {
	return &donationRepository{db: db}
}

const donationColumns = `id, campaign_id, donor_id, amount, payment_id, payment_status, refund_status, created_at`

func scanDonation(row interface{ Scan(...any) error }) (domain.Donation, error) {
	var d domain.Donation
	err := row.Scan(&d.ID, &d.CampaignID, &d.DonorID, &d.Amount, &d.PaymentID, &d.PaymentStatus, &d.RefundStatus, &d.CreatedAt)
	return d, err
}

func (r *donationRepository) Create(ctx context.Context, d *domain.Donation) error {
	const query = `INSERT INTO donations (` + donationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		d.ID, d.CampaignID, d.DonorID, d.Amount, d.PaymentID, d.PaymentStatus, d.RefundStatus, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "donations_pkey") {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	return nil
}

func (r *donationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	const query = `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`

	d, err := scanDonation(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDonationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *donationRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	const query = `SELECT ` + donationColumns + ` FROM donations WHERE campaign_id = $1 ORDER BY created_at, id`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *donationRepository) HasVotingDonation(ctx context.Context, campaignID uuid.UUID, donorID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM donations
		WHERE campaign_id = $1 AND donor_id = $2 AND payment_status = $3 AND refund_status <> $4)`

	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, donorID, domain.PaymentCompleted, domain.RefundCompleted).Scan(&exists)
	return exists, err
}

func (r *donationRepository) TransitionRefundStatus(ctx context.Context, ids []uuid.UUID, from []domain.RefundStatus, to domain.RefundStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE donations SET refund_status = $1 WHERE id = ANY($2::uuid[]) AND refund_status = ANY($3::text[])`

	fromValues := make([]string, len(from))
	for i, s := range from {
		fromValues[i] = string(s)
	}

	return withinTx(ctx, r.db, func(txCtx context.Context) error {
		result, err := conn(txCtx, r.db).ExecContext(txCtx, query, to, pq.Array(uuidStrings(ids)), pq.Array(fromValues))
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return domain.ErrConcurrentUpdate
		}
		return nil
	})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
