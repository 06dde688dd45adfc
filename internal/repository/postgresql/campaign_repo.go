package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type campaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) port.CampaignRepository {
	return &campaignRepository{db: db}
}

const campaignColumns = `id, creator_id, title, description, target_amount, current_amount, status,
	is_voting_enabled, voting_end_date, end_date, rejection_reason, created_at, updated_at`

func (r *campaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	const query = `INSERT INTO campaigns (` + campaignColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		c.ID, c.CreatorID, c.Title, c.Description, c.TargetAmount, c.CurrentAmount, c.Status,
		c.IsVotingEnabled, c.VotingEndDate, c.EndDate, c.RejectionReason, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "campaigns_pkey") {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	const query = `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	var c domain.Campaign
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.CreatorID, &c.Title, &c.Description, &c.TargetAmount, &c.CurrentAmount, &c.Status,
		&c.IsVotingEnabled, &c.VotingEndDate, &c.EndDate, &c.RejectionReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	const query = `UPDATE campaigns SET title = $2, description = $3, target_amount = $4, current_amount = $5,
	status = $6, is_voting_enabled = $7, voting_end_date = $8, end_date = $9, rejection_reason = $10, updated_at = $11
	WHERE id = $1`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		c.ID, c.Title, c.Description, c.TargetAmount, c.CurrentAmount,
		c.Status, c.IsVotingEnabled, c.VotingEndDate, c.EndDate, c.RejectionReason, c.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(result, domain.ErrCampaignNotFound)
}

func (r *campaignRepository) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	return withinTx(ctx, r.db, func(txCtx context.Context) error {
		var locked uuid.UUID
		err := conn(txCtx, r.db).QueryRowContext(txCtx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCampaignNotFound
		}
		if err != nil {
			return fmt.Errorf("lock campaign: %w", err)
		}
		return fn(txCtx)
	})
}
