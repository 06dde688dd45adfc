package http

import (
	"errors"
	"net/http"

	"fundflow/internal/domain"
)

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	target, err := parseAmount(req.TargetAmount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	campaign, err := h.campaigns.CreateCampaign(r.Context(), domain.CampaignReq{
		CreatorID:       actorFromContext(r.Context()).ID,
		Title:           req.Title,
		Description:     req.Description,
		TargetAmount:    target,
		EndDate:         req.EndDate,
		IsVotingEnabled: req.IsVotingEnabled,
		VotingEndDate:   req.VotingEndDate,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toCampaignResponse(campaign))
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) submitCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.SubmitForReview(r.Context(), id, actorFromContext(r.Context()).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) approveCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.ApproveCampaign(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) rejectCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req reasonRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.RejectCampaign(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) completeCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.CompleteCampaign(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

// setVoting is open to the campaign's creator and to admins.
func (h *Handler) setVoting(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req votingToggleRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	actor := actorFromContext(r.Context())
	if !actor.IsAdmin() {
		current, err := h.campaigns.GetCampaign(r.Context(), id)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if current.CreatorID != actor.ID {
			h.writeDomainError(w, r, domain.ErrForbidden)
			return
		}
	}

	campaign, err := h.campaigns.SetVotingEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) recalculateVoting(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	campaign, err := h.campaigns.RecalculateVotingEligibility(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) recordDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req donationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	donation, err := h.campaigns.RecordDonation(r.Context(), domain.DonationReq{
		CampaignID: id,
		DonorID:    actorFromContext(r.Context()).ID,
		Amount:     amount,
		PaymentID:  req.PaymentID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toDonationResponse(donation))
}

func (h *Handler) canVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	allowed, err := h.voting.CanVote(r.Context(), id, actorFromContext(r.Context()).ID)
	var denied *domain.VotingNotAllowedError
	if errors.As(err, &denied) {
		writeSuccess(w, http.StatusOK, map[string]any{"can_vote": false, "reason": denied.Reason})
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"can_vote": allowed})
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req voteRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	vote, err := h.voting.CastVote(r.Context(), id, actorFromContext(r.Context()).ID, domain.VoteValue(req.Value), req.Comment)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, voteResponse{
		ID:         vote.ID,
		CampaignID: vote.CampaignID,
		VoterID:    vote.VoterID,
		Value:      string(vote.Value),
		Comment:    vote.Comment,
		VotedAt:    vote.VotedAt,
	})
}

func (h *Handler) voteResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	results, err := h.voting.VoteResults(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, voteResultsResponse{
		ApproveCount: results.ApproveCount,
		RejectCount:  results.RejectCount,
		Total:        results.Total(),
		Majority:     string(results.Majority()),
	})
}
