package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type withdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) port.WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

const withdrawalColumns = `id, campaign_id, requester_id, amount, reason, status, rejection_reason, payout_id, payout_status,
	beneficiary_account_number, beneficiary_ifsc, beneficiary_name, beneficiary_bank_name, decided_at, created_at, updated_at`

type beneficiaryColumns struct {
	accountNumber, ifsc, name, bankName sql.NullString
}

func beneficiaryArgs(b *domain.BeneficiaryDetails) []any {
	if b == nil {
		return []any{nil, nil, nil, nil}
	}
	return []any{b.AccountNumber, b.IFSC, b.Name, b.BankName}
}

func scanWithdrawal(row interface{ Scan(...any) error }) (*domain.Withdrawal, error) {
	var (
		w   domain.Withdrawal
		ben beneficiaryColumns
	)
	err := row.Scan(
		&w.ID, &w.CampaignID, &w.RequesterID, &w.Amount, &w.Reason, &w.Status, &w.RejectionReason, &w.PayoutID, &w.PayoutStatus,
		&ben.accountNumber, &ben.ifsc, &ben.name, &ben.bankName, &w.DecidedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ben.accountNumber.Valid {
		w.BeneficiaryDetails = &domain.BeneficiaryDetails{
			AccountNumber: ben.accountNumber.String,
			IFSC:          ben.ifsc.String,
			Name:          ben.name.String,
			BankName:      ben.bankName.String,
		}
	}
	return &w, nil
}

func (r *withdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) error {
	const query = `INSERT INTO withdrawals (` + withdrawalColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	args := []any{w.ID, w.CampaignID, w.RequesterID, w.Amount, w.Reason, w.Status, w.RejectionReason, w.PayoutID, w.PayoutStatus}
	args = append(args, beneficiaryArgs(w.BeneficiaryDetails)...)
	args = append(args, w.DecidedAt, w.CreatedAt, w.UpdatedAt)

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err, "withdrawals_pkey") {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	return nil
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	w, err := scanWithdrawal(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWithdrawalNotFound
	}
	return w, err
}

// GetForUpdate only locks when ctx carries a transaction.
func (r *withdrawalRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1 FOR UPDATE`

	w, err := scanWithdrawal(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWithdrawalNotFound
	}
	return w, err
}

func (r *withdrawalRepository) list(ctx context.Context, query string, arg any) ([]domain.Withdrawal, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *withdrawalRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE campaign_id = $1 ORDER BY created_at`, campaignID)
}

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status domain.WithdrawalStatus) ([]domain.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE ($1::text = '' OR status = $1) ORDER BY created_at DESC`, string(status))
}

func (r *withdrawalRepository) Update(ctx context.Context, w *domain.Withdrawal, expected domain.WithdrawalStatus) error {
	const query = `UPDATE withdrawals SET status = $3, rejection_reason = $4, payout_id = $5, payout_status = $6,
	beneficiary_account_number = $7, beneficiary_ifsc = $8, beneficiary_name = $9, beneficiary_bank_name = $10,
	decided_at = $11, updated_at = $12
	WHERE id = $1 AND status = $2`

	args := []any{w.ID, expected, w.Status, w.RejectionReason, w.PayoutID, w.PayoutStatus}
	args = append(args, beneficiaryArgs(w.BeneficiaryDetails)...)
	args = append(args, w.DecidedAt, w.UpdatedAt)

	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, w.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentUpdate
	}
	return nil
}
