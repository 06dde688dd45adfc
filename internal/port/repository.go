package port

import (
	"context"
	"time"

	"fundflow/internal/domain"

	"github.com/google/uuid"
)

// Transactor runs fn in a single transaction carried by the context passed
// to fn. Repository calls made with that context join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	// WithLock serializes writers of one campaign: fn runs inside a
	// transaction that holds the campaign's row lock.
	WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error
}

type DonationRepository interface {
	Create(ctx context.Context, d *domain.Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error)
	HasVotingDonation(ctx context.Context, campaignID uuid.UUID, donorID string) (bool, error)
	// TransitionRefundStatus moves every listed donation from one of the
	// given statuses to `to`, or none of them (ErrConcurrentUpdate).
	TransitionRefundStatus(ctx context.Context, ids []uuid.UUID, from []domain.RefundStatus, to domain.RefundStatus) error
}

type VoteRepository interface {
	// Create returns ErrDuplicateOperation when the voter already voted.
	Create(ctx context.Context, v *domain.Vote) error
	Exists(ctx context.Context, campaignID uuid.UUID, voterID string) (bool, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Vote, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *domain.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	// GetForUpdate loads the withdrawal and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Withdrawal, error)
	ListByStatus(ctx context.Context, status domain.WithdrawalStatus) ([]domain.Withdrawal, error)
	// Update persists w only if the stored status still equals expected.
	Update(ctx context.Context, w *domain.Withdrawal, expected domain.WithdrawalStatus) error
}

type RefundBatchRepository interface {
	// Create returns ErrDuplicateOperation when a batch already exists for
	// the withdrawal.
	Create(ctx context.Context, b *domain.RefundBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error)
	GetByWithdrawalID(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error)
	// GetForUpdate loads the batch and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error)
	// UpdateTask persists t only if its stored status equals from.
	UpdateTask(ctx context.Context, t *domain.RefundTask, from domain.TaskStatus) error
	// MarkStarted stamps t.LastAttemptAt on a processing task still held by
	// claim t.ClaimID, or returns ErrConcurrentUpdate.
	MarkStarted(ctx context.Context, t *domain.RefundTask) error
	UpdateStatus(ctx context.Context, b *domain.RefundBatch) error
	ListStaleTasks(ctx context.Context, dispatchedBefore time.Time) ([]domain.RefundTask, error)
}
