package domain

import (
	"time"

	"github.com/google/uuid"
)

type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
)

func (v VoteValue) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

const MaxVoteCommentLength = 500

// Votes are append-only.
type Vote struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	VoterID    string
	Value      VoteValue
	Comment    string
	VotedAt    time.Time
}

type Majority string

const (
	MajorityApprove Majority = "approve"
	MajorityReject  Majority = "reject"
	MajorityTie     Majority = "tie"
)

func TallyVotes(votes []Vote) VoteResults {
	var r VoteResults
	for _, v := range votes {
		switch v.Value {
		case VoteApprove:
			r.ApproveCount++
		case VoteReject:
			r.RejectCount++
		}
	}
	return r
}

// Majority leaves ties to an administrator.
func (r VoteResults) Majority() Majority {
	switch {
	case r.ApproveCount > r.RejectCount:
		return MajorityApprove
	case r.RejectCount > r.ApproveCount:
		return MajorityReject
	default:
		return MajorityTie
	}
}

// CheckVoteEligibility applies the voting rules in a fixed order. hasDonated
// and hasVoted come from the donation and vote stores.
func CheckVoteEligibility(c *Campaign, hasDonated, hasVoted bool, now time.Time) error {
	switch {
	case !c.IsVotingEnabled:
		return NewVotingNotAllowed(ReasonVotingDisabled)
	case c.Status != CampaignActive:
		return NewVotingNotAllowed(ReasonCampaignNotActive)
	case !c.VotingOpen(now):
		return NewVotingNotAllowed(ReasonVotingClosed)
	case !hasDonated:
		return NewVotingNotAllowed(ReasonNotDonated)
	case hasVoted:
		return NewVotingNotAllowed(ReasonAlreadyVoted)
	}
	return nil
}
