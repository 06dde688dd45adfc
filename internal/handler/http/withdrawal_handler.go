package http

import (
	"net/http"

	"fundflow/internal/domain"
)

func (h *Handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathUUID(r, "campaignID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req withdrawalRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	withdrawal, err := h.withdrawals.RequestWithdrawal(r.Context(), domain.WithdrawalReq{
		CampaignID:  campaignID,
		RequesterID: actorFromContext(r.Context()).ID,
		Amount:      amount,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toWithdrawalResponse(withdrawal))
}

// getWithdrawal shows a withdrawal to its requester and to admins.
func (h *Handler) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	withdrawal, err := h.withdrawals.GetWithdrawal(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	actor := actorFromContext(r.Context())
	if !actor.IsAdmin() && withdrawal.RequesterID != actor.ID {
		h.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(withdrawal))
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := domain.WithdrawalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusApproved, domain.StatusRejected, domain.StatusCompleted, domain.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status filter")
		return
	}

	withdrawals, err := h.withdrawals.ListWithdrawals(r.Context(), status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]withdrawalResponse, len(withdrawals))
	for i := range withdrawals {
		out[i] = toWithdrawalResponse(&withdrawals[i])
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	withdrawal, err := h.withdrawals.ApproveWithdrawal(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(withdrawal))
}

func (h *Handler) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req reasonRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	withdrawal, batch, err := h.withdrawals.RejectWithdrawal(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"withdrawal":   toWithdrawalResponse(withdrawal),
		"refund_batch": toRefundBatchResponse(batch),
	})
}

func (h *Handler) cancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	withdrawal, err := h.withdrawals.CancelWithdrawal(r.Context(), id, actorFromContext(r.Context()).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(withdrawal))
}

func (h *Handler) syncPayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	withdrawal, err := h.withdrawals.SyncPayoutStatus(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toWithdrawalResponse(withdrawal))
}
