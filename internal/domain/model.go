package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type WithdrawalStatus string

const (
	StatusPending   WithdrawalStatus = "pending"
	StatusApproved  WithdrawalStatus = "approved"
	StatusRejected  WithdrawalStatus = "rejected"
	StatusCompleted WithdrawalStatus = "completed"
	StatusCancelled WithdrawalStatus = "cancelled"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutProcessed PayoutStatus = "processed"
	PayoutFailed    PayoutStatus = "failed"
	PayoutReversed  PayoutStatus = "reversed"
)

const MaxWithdrawalReasonLength = 500

type BeneficiaryDetails struct {
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	Name          string `json:"name"`
	BankName      string `json:"bank_name"`
}

func (b BeneficiaryDetails) Complete() bool {
	return strings.TrimSpace(b.AccountNumber) != "" &&
		strings.TrimSpace(b.IFSC) != "" &&
		strings.TrimSpace(b.Name) != ""
}

type WithdrawalReq struct {
	CampaignID  uuid.UUID
	RequesterID string
	Amount      Money
	Reason      string
}

type Withdrawal struct {
	ID                 uuid.UUID
	CampaignID         uuid.UUID
	RequesterID        string
	Amount             Money
	Reason             string
	Status             WithdrawalStatus
	RejectionReason    string
	PayoutID           string
	PayoutStatus       PayoutStatus
	BeneficiaryDetails *BeneficiaryDetails
	DecidedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewWithdrawal(req WithdrawalReq, now time.Time) (*Withdrawal, error) {
	if req.CampaignID == uuid.Nil || strings.TrimSpace(req.RequesterID) == "" {
		return nil, ErrInvalidInput
	}
	if !IsPositive(req.Amount) {
		return nil, ErrInvalidInput
	}
	if len(req.Reason) > MaxWithdrawalReasonLength {
		return nil, ErrInvalidInput
	}
	return &Withdrawal{
		ID:          uuid.New(),
		CampaignID:  req.CampaignID,
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Reserved reports whether the withdrawal still counts against the
// campaign's available balance.
func (w Withdrawal) Reserved() bool {
	switch w.Status {
	case StatusPending, StatusApproved, StatusCompleted:
		return true
	}
	return false
}

// AvailableBalance is what an active campaign can still pay out. Only
// donations that no refund batch covers fund a withdrawal; reserved
// withdrawals come off that total. A campaign with a pending request cannot
// ask again.
func AvailableBalance(c *Campaign, donations []Donation, history []Withdrawal) (Money, error) {
	if c.Status != CampaignActive {
		return Zero, invalidTransition("campaign", string(c.Status), "request withdrawal")
	}
	reserved := Zero
	for _, w := range history {
		if w.Status == StatusPending {
			return Zero, invalidTransition("withdrawal", string(w.Status), "request another withdrawal")
		}
		if w.Reserved() {
			reserved = reserved.Add(w.Amount)
		}
	}
	funded := Zero
	for _, d := range donations {
		if d.Refundable() {
			funded = funded.Add(d.Amount)
		}
	}
	return funded.Sub(reserved), nil
}

func (w *Withdrawal) Approve(details BeneficiaryDetails, now time.Time) error {
	if w.Status != StatusPending {
		return invalidTransition("withdrawal", string(w.Status), "approve")
	}
	w.Status = StatusApproved
	w.PayoutStatus = PayoutPending
	w.BeneficiaryDetails = &details
	w.DecidedAt = &now
	w.UpdatedAt = now
	return nil
}

// Rejectable covers pending requests and approved requests whose payout did
// not go through.
func (w Withdrawal) Rejectable() bool {
	if w.Status == StatusPending {
		return true
	}
	return w.Status == StatusApproved && (w.PayoutStatus == PayoutFailed || w.PayoutStatus == PayoutReversed)
}

func (w *Withdrawal) Reject(reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return ErrInvalidInput
	}
	if !w.Rejectable() {
		return invalidTransition("withdrawal", string(w.Status), "reject")
	}
	w.Status = StatusRejected
	w.RejectionReason = strings.TrimSpace(reason)
	w.DecidedAt = &now
	w.UpdatedAt = now
	return nil
}

func (w *Withdrawal) Cancel(requesterID string, now time.Time) error {
	if w.RequesterID != requesterID {
		return ErrForbidden
	}
	if w.Status != StatusPending {
		return invalidTransition("withdrawal", string(w.Status), "cancel")
	}
	w.Status = StatusCancelled
	w.UpdatedAt = now
	return nil
}

// ApplyPayout records a gateway payout reference and status.
func (w *Withdrawal) ApplyPayout(payoutID string, status PayoutStatus, now time.Time) error {
	if w.Status != StatusApproved {
		return invalidTransition("withdrawal", string(w.Status), "record payout")
	}
	if payoutID != "" {
		w.PayoutID = payoutID
	}
	w.PayoutStatus = status
	w.UpdatedAt = now
	return nil
}

// Settle closes an approved withdrawal whose payout the gateway confirmed.
func (w *Withdrawal) Settle(now time.Time) error {
	if w.Status != StatusApproved || w.PayoutStatus != PayoutProcessed {
		return invalidTransition("withdrawal", string(w.Status), "settle")
	}
	w.Status = StatusCompleted
	w.UpdatedAt = now
	return nil
}
