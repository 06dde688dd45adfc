package port

import (
	"context"

	"fundflow/internal/domain"

	"github.com/google/uuid"
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, req domain.CampaignReq) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	SubmitForReview(ctx context.Context, id uuid.UUID, actorID string) (*domain.Campaign, error)
	ApproveCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	RejectCampaign(ctx context.Context, id uuid.UUID, reason string) (*domain.Campaign, error)
	CompleteCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	SetVotingEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Campaign, error)
	RecalculateVotingEligibility(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	RecordDonation(ctx context.Context, req domain.DonationReq) (*domain.Donation, error)
}

type VotingService interface {
	CanVote(ctx context.Context, campaignID uuid.UUID, voterID string) (bool, error)
	CastVote(ctx context.Context, campaignID uuid.UUID, voterID string, value domain.VoteValue, comment string) (*domain.Vote, error)
	VoteResults(ctx context.Context, campaignID uuid.UUID) (domain.VoteResults, error)
}

type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, req domain.WithdrawalReq) (*domain.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus) ([]domain.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*domain.Withdrawal, *domain.RefundBatch, error)
	CancelWithdrawal(ctx context.Context, id uuid.UUID, requesterID string) (*domain.Withdrawal, error)
	SyncPayoutStatus(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
}

type RefundService interface {
	InitiateRefundBatch(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error)
	GetRefundBatch(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error)
	GetRefundBatchByID(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error)
	ProcessRefundBatch(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error)
	RetryRefundBatch(ctx context.Context, batchID uuid.UUID) (*domain.RefundBatch, error)
}
