package postgresql

import (
	"context"
	"database/sql"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type voteRepository struct {
	db *sql.DB
}

func NewVoteRepository(db *sql.DB) port.VoteRepository {
	return &voteRepository{db: db}
}

func (r *voteRepository) Create(ctx context.Context, v *domain.Vote) error {
	const query = `INSERT INTO votes (id, campaign_id, voter_id, value, comment, voted_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query, v.ID, v.CampaignID, v.VoterID, v.Value, v.Comment, v.VotedAt)
	if err != nil {
		if isUniqueViolation(err, "votes_campaign_id_voter_id_key") {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	return nil
}

func (r *voteRepository) Exists(ctx context.Context, campaignID uuid.UUID, voterID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE campaign_id = $1 AND voter_id = $2)`, campaignID, voterID,
	).Scan(&exists)
	return exists, err
}

func (r *voteRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Vote, error) {
	const query = `SELECT id, campaign_id, voter_id, value, comment, voted_at
	FROM votes WHERE campaign_id = $1 ORDER BY voted_at, id`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.CampaignID, &v.VoterID, &v.Value, &v.Comment, &v.VotedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
