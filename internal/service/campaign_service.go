package service

import (
	"context"
	"log/slog"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type CampaignDeps struct {
	Campaigns port.CampaignRepository
	Donations port.DonationRepository
	Votes     port.VoteRepository
	Events    port.EventPublisher
	Logger    *slog.Logger
	Clock     Clock
	// VotingThreshold defaults to domain.DefaultVotingThreshold.
	VotingThreshold domain.Money
}

type campaignService struct {
	campaignRepo port.CampaignRepository
	donationRepo port.DonationRepository
	voteRepo     port.VoteRepository
	events       port.EventPublisher
	logger       *slog.Logger
	now          Clock
	threshold    domain.Money
}

func NewCampaignService(deps CampaignDeps) port.CampaignService {
	threshold := deps.VotingThreshold
	if !domain.IsPositive(threshold) {
		threshold = domain.DefaultVotingThreshold
	}
	return &campaignService{
		campaignRepo: deps.Campaigns,
		donationRepo: deps.Donations,
		voteRepo:     deps.Votes,
		events:       deps.Events,
		logger:       orLogger(deps.Logger).With("module", "campaign"),
		now:          orClock(deps.Clock),
		threshold:    threshold,
	}
}

func (s *campaignService) CreateCampaign(ctx context.Context, req domain.CampaignReq) (*domain.Campaign, error) {
	campaign, err := domain.NewCampaign(req, s.threshold, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "campaign created",
		"operation", "create",
		"campaign_id", campaign.ID,
		"voting_enabled", campaign.IsVotingEnabled,
	)
	return campaign, nil
}

// GetCampaign derives vote results from the stored votes on every read.
func (s *campaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	votes, err := s.voteRepo.ListByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign.VoteResults = domain.TallyVotes(votes)
	return campaign, nil
}

// mutate applies fn to the campaign under its row lock and persists the result.
func (s *campaignService) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, c *domain.Campaign, now time.Time) error) (*domain.Campaign, error) {
	var campaign *domain.Campaign
	err := s.campaignRepo.WithLock(ctx, id, func(txCtx context.Context) error {
		c, err := s.campaignRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := fn(txCtx, c, s.now()); err != nil {
			return err
		}
		campaign = c
		return s.campaignRepo.Update(txCtx, c)
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *campaignService) SubmitForReview(ctx context.Context, id uuid.UUID, actorID string) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		if c.CreatorID != actorID {
			return domain.ErrForbidden
		}
		return c.SubmitForReview(now)
	})
}

func (s *campaignService) ApproveCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		return c.Approve(now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "campaign approved", "operation", "approve", "campaign_id", id)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventCampaignApproved, id.String(), s.now(), map[string]any{
		"campaign_id": id,
		"creator_id":  campaign.CreatorID,
	}))
	return campaign, nil
}

func (s *campaignService) RejectCampaign(ctx context.Context, id uuid.UUID, reason string) (*domain.Campaign, error) {
	campaign, err := s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		return c.Reject(reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "campaign rejected", "operation", "reject", "campaign_id", id)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventCampaignRejected, id.String(), s.now(), map[string]any{
		"campaign_id": id,
		"creator_id":  campaign.CreatorID,
		"reason":      campaign.RejectionReason,
	}))
	return campaign, nil
}

func (s *campaignService) CompleteCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		return c.Complete(now)
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventCampaignCompleted, id.String(), s.now(), map[string]any{
		"campaign_id":    id,
		"current_amount": campaign.CurrentAmount.StringFixed(2),
	}))
	return campaign, nil
}

// SetVotingEnabled lets a draft campaign opt into voting. Voting can never
// be turned off once enabled.
func (s *campaignService) SetVotingEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		return c.SetVotingEnabled(enabled, now)
	})
}

func (s *campaignService) RecalculateVotingEligibility(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *domain.Campaign, now time.Time) error {
		if c.RecalculateVotingEligibility(s.threshold) {
			c.UpdatedAt = now
			s.logger.InfoContext(ctx, "voting enabled by threshold", "campaign_id", id)
		}
		return nil
	})
}

// RecordDonation is the only writer of a campaign's current amount. The
// donation insert and the increment commit together under the campaign lock.
func (s *campaignService) RecordDonation(ctx context.Context, req domain.DonationReq) (*domain.Donation, error) {
	donation, err := domain.NewDonation(req, s.now())
	if err != nil {
		return nil, err
	}

	campaign, err := s.mutate(ctx, req.CampaignID, func(txCtx context.Context, c *domain.Campaign, now time.Time) error {
		if err := c.RecordDonation(donation.Amount, now); err != nil {
			return err
		}
		return s.donationRepo.Create(txCtx, donation)
	})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "donation recorded",
		"operation", "record_donation",
		"campaign_id", campaign.ID,
		"donation_id", donation.ID,
		"current_amount", campaign.CurrentAmount.StringFixed(2),
	)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventDonationRecorded, campaign.ID.String(), s.now(), map[string]any{
		"campaign_id": campaign.ID,
		"donation_id": donation.ID,
		"donor_id":    donation.DonorID,
		"amount":      donation.Amount.StringFixed(2),
	}))
	return donation, nil
}
