package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type RefundStatus string

const (
	RefundNone       RefundStatus = "none"
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// Donation amounts are immutable once created; only RefundStatus moves.
type Donation struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	DonorID       string
	Amount        Money
	PaymentID     string
	PaymentStatus PaymentStatus
	RefundStatus  RefundStatus
	CreatedAt     time.Time
}

type DonationReq struct {
	CampaignID uuid.UUID
	DonorID    string
	Amount     Money
	PaymentID  string
}

func NewDonation(req DonationReq, now time.Time) (*Donation, error) {
	if req.CampaignID == uuid.Nil || req.DonorID == "" || !IsPositive(req.Amount) {
		return nil, ErrInvalidInput
	}
	return &Donation{
		ID:            uuid.New(),
		CampaignID:    req.CampaignID,
		DonorID:       req.DonorID,
		Amount:        req.Amount,
		PaymentID:     req.PaymentID,
		PaymentStatus: PaymentCompleted,
		RefundStatus:  RefundNone,
		CreatedAt:     now,
	}, nil
}

// CountsForVoting reports whether the donation entitles its donor to vote.
func (d Donation) CountsForVoting() bool {
	return d.PaymentStatus == PaymentCompleted && d.RefundStatus != RefundCompleted
}

// Refundable reports whether the donation may be placed in a new refund batch.
func (d Donation) Refundable() bool {
	return d.PaymentStatus == PaymentCompleted && d.RefundStatus == RefundNone && IsPositive(d.Amount)
}

// DonorGroup is the set of refundable donations from one donor.
type DonorGroup struct {
	DonorID     string
	DonationIDs []uuid.UUID
	PaymentIDs  []string
	Amount      Money
	firstSeen   time.Time
}

// GroupRefundable folds refundable donations into one group per donor,
// ordered by each donor's earliest donation.
func GroupRefundable(donations []Donation) []DonorGroup {
	index := make(map[string]int)
	var groups []DonorGroup
	for _, d := range donations {
		if !d.Refundable() {
			continue
		}
		i, ok := index[d.DonorID]
		if !ok {
			index[d.DonorID] = len(groups)
			groups = append(groups, DonorGroup{DonorID: d.DonorID, Amount: Zero, firstSeen: d.CreatedAt})
			i = len(groups) - 1
		}
		g := &groups[i]
		g.DonationIDs = append(g.DonationIDs, d.ID)
		if d.PaymentID != "" {
			g.PaymentIDs = append(g.PaymentIDs, d.PaymentID)
		}
		g.Amount = g.Amount.Add(d.Amount)
		if d.CreatedAt.Before(g.firstSeen) {
			g.firstSeen = d.CreatedAt
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].firstSeen.Before(groups[b].firstSeen)
	})
	return groups
}
