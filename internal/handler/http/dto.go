package http

import (
	"time"

	"fundflow/internal/domain"

	"github.com/google/uuid"
)

//--------------------Requests

type createCampaignRequest struct {
	Title           string     `json:"title" validate:"required,max=200"`
	Description     string     `json:"description" validate:"max=5000"`
	TargetAmount    string     `json:"target_amount" validate:"required,numeric"`
	EndDate         time.Time  `json:"end_date" validate:"required"`
	IsVotingEnabled bool       `json:"is_voting_enabled"`
	VotingEndDate   *time.Time `json:"voting_end_date"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type votingToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type donationRequest struct {
	Amount    string `json:"amount" validate:"required,numeric"`
	PaymentID string `json:"payment_id" validate:"max=100"`
}

type voteRequest struct {
	Value   string `json:"value" validate:"required,oneof=approve reject"`
	Comment string `json:"comment" validate:"max=500"`
}

type withdrawalRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
	Reason string `json:"reason" validate:"max=500"`
}

//--------------------Responses

type campaignResponse struct {
	ID              uuid.UUID          `json:"id"`
	CreatorID       string             `json:"creator_id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	TargetAmount    string             `json:"target_amount"`
	CurrentAmount   string             `json:"current_amount"`
	Status          string             `json:"status"`
	IsVotingEnabled bool               `json:"is_voting_enabled"`
	VotingEndDate   *time.Time         `json:"voting_end_date,omitempty"`
	EndDate         time.Time          `json:"end_date"`
	VoteResults     domain.VoteResults `json:"vote_results"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              c.ID,
		CreatorID:       c.CreatorID,
		Title:           c.Title,
		Description:     c.Description,
		TargetAmount:    c.TargetAmount.StringFixed(2),
		CurrentAmount:   c.CurrentAmount.StringFixed(2),
		Status:          string(c.Status),
		IsVotingEnabled: c.IsVotingEnabled,
		VotingEndDate:   c.VotingEndDate,
		EndDate:         c.EndDate,
		VoteResults:     c.VoteResults,
		RejectionReason: c.RejectionReason,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

type donationResponse struct {
	ID            uuid.UUID `json:"id"`
	CampaignID    uuid.UUID `json:"campaign_id"`
	DonorID       string    `json:"donor_id"`
	Amount        string    `json:"amount"`
	PaymentID     string    `json:"payment_id,omitempty"`
	PaymentStatus string    `json:"payment_status"`
	RefundStatus  string    `json:"refund_status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toDonationResponse(d *domain.Donation) donationResponse {
	return donationResponse{
		ID:            d.ID,
		CampaignID:    d.CampaignID,
		DonorID:       d.DonorID,
		Amount:        d.Amount.StringFixed(2),
		PaymentID:     d.PaymentID,
		PaymentStatus: string(d.PaymentStatus),
		RefundStatus:  string(d.RefundStatus),
		CreatedAt:     d.CreatedAt,
	}
}

type voteResponse struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	VoterID    string    `json:"voter_id"`
	Value      string    `json:"value"`
	Comment    string    `json:"comment,omitempty"`
	VotedAt    time.Time `json:"voted_at"`
}

type voteResultsResponse struct {
	ApproveCount int    `json:"approve_count"`
	RejectCount  int    `json:"reject_count"`
	Total        int    `json:"total"`
	Majority     string `json:"majority"`
}

type withdrawalResponse struct {
	ID                 uuid.UUID                  `json:"id"`
	CampaignID         uuid.UUID                  `json:"campaign_id"`
	RequesterID        string                     `json:"requester_id"`
	Amount             string                     `json:"amount"`
	Reason             string                     `json:"reason,omitempty"`
	Status             string                     `json:"status"`
	RejectionReason    string                     `json:"rejection_reason,omitempty"`
	PayoutID           string                     `json:"payout_id,omitempty"`
	PayoutStatus       string                     `json:"payout_status,omitempty"`
	BeneficiaryDetails *domain.BeneficiaryDetails `json:"beneficiary_details,omitempty"`
	DecidedAt          *time.Time                 `json:"decided_at,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

func toWithdrawalResponse(w *domain.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:                 w.ID,
		CampaignID:         w.CampaignID,
		RequesterID:        w.RequesterID,
		Amount:             w.Amount.StringFixed(2),
		Reason:             w.Reason,
		Status:             string(w.Status),
		RejectionReason:    w.RejectionReason,
		PayoutID:           w.PayoutID,
		PayoutStatus:       string(w.PayoutStatus),
		BeneficiaryDetails: w.BeneficiaryDetails,
		DecidedAt:          w.DecidedAt,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}

type refundTaskResponse struct {
	ID            uuid.UUID   `json:"id"`
	DonorID       string      `json:"donor_id"`
	DonationIDs   []uuid.UUID `json:"donation_ids"`
	Amount        string      `json:"amount"`
	Status        string      `json:"status"`
	Error         string      `json:"error,omitempty"`
	Attempts      int         `json:"attempts"`
	RefundID      string      `json:"refund_id,omitempty"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

type refundBatchResponse struct {
	ID            uuid.UUID            `json:"id"`
	WithdrawalID  uuid.UUID            `json:"withdrawal_id"`
	CampaignID    uuid.UUID            `json:"campaign_id"`
	Status        string               `json:"status"`
	TotalAmount   string               `json:"total_amount"`
	RefundDetails []refundTaskResponse `json:"refund_details"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ProcessedAt   *time.Time           `json:"processed_at,omitempty"`
}

func toRefundBatchResponse(b *domain.RefundBatch) refundBatchResponse {
	tasks := make([]refundTaskResponse, len(b.RefundDetails))
	for i, t := range b.RefundDetails {
		tasks[i] = refundTaskResponse{
			ID:            t.ID,
			DonorID:       t.DonorID,
			DonationIDs:   t.DonationIDs,
			Amount:        t.Amount.StringFixed(2),
			Status:        string(t.Status),
			Error:         t.Error,
			Attempts:      t.Attempts,
			RefundID:      t.RefundID,
			LastAttemptAt: t.LastAttemptAt,
			ProcessedAt:   t.ProcessedAt,
		}
	}
	return refundBatchResponse{
		ID:            b.ID,
		WithdrawalID:  b.WithdrawalID,
		CampaignID:    b.CampaignID,
		Status:        string(b.Status),
		TotalAmount:   b.TotalAmount().StringFixed(2),
		RefundDetails: tasks,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		ProcessedAt:   b.ProcessedAt,
	}
}
