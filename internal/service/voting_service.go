package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type VotingDeps struct {
	Campaigns port.CampaignRepository
	Donations port.DonationRepository
	Votes     port.VoteRepository
	Events    port.EventPublisher
	Logger    *slog.Logger
	Clock     Clock
}

type votingService struct {
	campaignRepo port.CampaignRepository
	donationRepo port.DonationRepository
	voteRepo     port.VoteRepository
	events       port.EventPublisher
	logger       *slog.Logger
	now          Clock
}

func NewVotingService(deps VotingDeps) port.VotingService {
	return &votingService{
		campaignRepo: deps.Campaigns,
		donationRepo: deps.Donations,
		voteRepo:     deps.Votes,
		events:       deps.Events,
		logger:       orLogger(deps.Logger).With("module", "voting"),
		now:          orClock(deps.Clock),
	}
}

func (s *votingService) eligibility(ctx context.Context, campaignID uuid.UUID, voterID string) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	hasDonated, err := s.donationRepo.HasVotingDonation(ctx, campaignID, voterID)
	if err != nil {
		return err
	}
	hasVoted, err := s.voteRepo.Exists(ctx, campaignID, voterID)
	if err != nil {
		return err
	}
	return domain.CheckVoteEligibility(campaign, hasDonated, hasVoted, s.now())
}

// CanVote returns a *domain.VotingNotAllowedError naming the first rule the
// voter breaks.
func (s *votingService) CanVote(ctx context.Context, campaignID uuid.UUID, voterID string) (bool, error) {
	if err := s.eligibility(ctx, campaignID, voterID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *votingService) CastVote(ctx context.Context, campaignID uuid.UUID, voterID string, value domain.VoteValue, comment string) (*domain.Vote, error) {
	if strings.TrimSpace(voterID) == "" || !value.Valid() || len(comment) > domain.MaxVoteCommentLength {
		return nil, domain.ErrInvalidInput
	}
	if err := s.eligibility(ctx, campaignID, voterID); err != nil {
		return nil, err
	}

	vote := &domain.Vote{
		ID:         uuid.New(),
		CampaignID: campaignID,
		VoterID:    voterID,
		Value:      value,
		Comment:    strings.TrimSpace(comment),
		VotedAt:    s.now(),
	}
	// The unique (campaign, voter) constraint decides concurrent duplicates.
	if err := s.voteRepo.Create(ctx, vote); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return nil, domain.NewVotingNotAllowed(domain.ReasonAlreadyVoted)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "vote cast",
		"operation", "cast_vote",
		"campaign_id", campaignID,
		"value", value,
	)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventVoteCast, campaignID.String(), s.now(), map[string]any{
		"campaign_id": campaignID,
		"voter_id":    voterID,
		"value":       value,
	}))
	return vote, nil
}

func (s *votingService) VoteResults(ctx context.Context, campaignID uuid.UUID) (domain.VoteResults, error) {
	if _, err := s.campaignRepo.GetByID(ctx, campaignID); err != nil {
		return domain.VoteResults{}, err
	}
	votes, err := s.voteRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return domain.VoteResults{}, err
	}
	return domain.TallyVotes(votes), nil
}
