package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignDraft         CampaignStatus = "draft"
	CampaignPendingReview CampaignStatus = "pending_review"
	CampaignActive        CampaignStatus = "active"
	CampaignCompleted     CampaignStatus = "completed"
	CampaignRejected      CampaignStatus = "rejected"
	CampaignDeleted       CampaignStatus = "deleted"
)

// DefaultVotingThreshold is the target amount at and above which donor
// voting is switched on automatically.
var DefaultVotingThreshold = NewMoney(50000)

type VoteResults struct {
	ApproveCount int `json:"approve_count"`
	RejectCount  int `json:"reject_count"`
}

func (r VoteResults) Total() int { return r.ApproveCount + r.RejectCount }

type Campaign struct {
	ID              uuid.UUID
	CreatorID       string
	Title           string
	Description     string
	TargetAmount    Money
	CurrentAmount   Money
	Status          CampaignStatus
	IsVotingEnabled bool
	VotingEndDate   *time.Time
	EndDate         time.Time
	VoteResults     VoteResults
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CampaignReq struct {
	CreatorID       string
	Title           string
	Description     string
	TargetAmount    Money
	EndDate         time.Time
	IsVotingEnabled bool
	VotingEndDate   *time.Time
}

func NewCampaign(req CampaignReq, threshold Money, now time.Time) (*Campaign, error) {
	if strings.TrimSpace(req.CreatorID) == "" || strings.TrimSpace(req.Title) == "" {
		return nil, ErrInvalidInput
	}
	if !IsPositive(req.TargetAmount) {
		return nil, ErrInvalidInput
	}
	if !req.EndDate.After(now) {
		return nil, ErrInvalidInput
	}
	if req.VotingEndDate != nil {
		if !req.IsVotingEnabled && req.TargetAmount.LessThan(threshold) {
			return nil, ErrInvalidInput
		}
		if !req.VotingEndDate.After(now) || req.VotingEndDate.After(req.EndDate) {
			return nil, ErrInvalidInput
		}
	}

	c := &Campaign{
		ID:              uuid.New(),
		CreatorID:       req.CreatorID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		TargetAmount:    req.TargetAmount,
		CurrentAmount:   Zero,
		Status:          CampaignDraft,
		IsVotingEnabled: req.IsVotingEnabled,
		VotingEndDate:   req.VotingEndDate,
		EndDate:         req.EndDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	c.RecalculateVotingEligibility(threshold)
	return c, nil
}

func (c *Campaign) SubmitForReview(now time.Time) error {
	if c.Status != CampaignDraft {
		return invalidTransition("campaign", string(c.Status), "submit for review")
	}
	c.Status = CampaignPendingReview
	c.UpdatedAt = now
	return nil
}

func (c *Campaign) Approve(now time.Time) error {
	if c.Status != CampaignPendingReview {
		return invalidTransition("campaign", string(c.Status), "approve")
	}
	c.Status = CampaignActive
	c.UpdatedAt = now
	return nil
}

// Reject is terminal for the campaign instance.
func (c *Campaign) Reject(reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return ErrInvalidInput
	}
	if c.Status != CampaignPendingReview {
		return invalidTransition("campaign", string(c.Status), "reject")
	}
	c.Status = CampaignRejected
	c.RejectionReason = strings.TrimSpace(reason)
	c.UpdatedAt = now
	return nil
}

// Complete closes an active campaign once its target is met or its end date
// has passed.
func (c *Campaign) Complete(now time.Time) error {
	if c.Status != CampaignActive {
		return invalidTransition("campaign", string(c.Status), "complete")
	}
	if c.CurrentAmount.LessThan(c.TargetAmount) && now.Before(c.EndDate) {
		return invalidTransition("campaign", string(c.Status), "complete before target or end date")
	}
	c.Status = CampaignCompleted
	c.UpdatedAt = now
	return nil
}

// RecordDonation adds amount to the running total. Donations past the target
// are accepted as-is.
func (c *Campaign) RecordDonation(amount Money, now time.Time) error {
	if !IsPositive(amount) {
		return ErrInvalidInput
	}
	if c.Status != CampaignActive {
		return invalidTransition("campaign", string(c.Status), "accept donation")
	}
	c.CurrentAmount = c.CurrentAmount.Add(amount)
	c.UpdatedAt = now
	return nil
}

// RecalculateVotingEligibility turns voting on once the target reaches the
// threshold. It never turns voting off.
func (c *Campaign) RecalculateVotingEligibility(threshold Money) bool {
	if c.IsVotingEnabled {
		return false
	}
	if c.TargetAmount.GreaterThanOrEqual(threshold) {
		c.IsVotingEnabled = true
		return true
	}
	return false
}

func (c *Campaign) SetVotingEnabled(enabled bool, now time.Time) error {
	if enabled == c.IsVotingEnabled {
		return nil
	}
	if !enabled {
		return invalidTransition("campaign", string(c.Status), "disable voting")
	}
	if c.Status != CampaignDraft {
		return invalidTransition("campaign", string(c.Status), "enable voting")
	}
	c.IsVotingEnabled = true
	c.UpdatedAt = now
	return nil
}

func (c *Campaign) VotingOpen(now time.Time) bool {
	return c.VotingEndDate == nil || now.Before(*c.VotingEndDate)
}
