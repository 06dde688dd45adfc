package http

import (
	"errors"
	"net/http"

	"fundflow/internal/domain"
)

func (h *Handler) initiateRefunds(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	batch, err := h.refunds.InitiateRefundBatch(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toRefundBatchResponse(batch))
}

func (h *Handler) getBatchByWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "withdrawalID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	batch, err := h.refunds.GetRefundBatch(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toRefundBatchResponse(batch))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "batchID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	batch, err := h.refunds.GetRefundBatchByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toRefundBatchResponse(batch))
}

// processBatch answers 202: refunds keep running after the response and the
// client polls the batch.
func (h *Handler) processBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "batchID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	batch, err := h.refunds.ProcessRefundBatch(r.Context(), id)
	h.writeDispatch(w, r, batch, err)
}

func (h *Handler) retryBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "batchID")
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	batch, err := h.refunds.RetryRefundBatch(r.Context(), id)
	h.writeDispatch(w, r, batch, err)
}

func (h *Handler) writeDispatch(w http.ResponseWriter, r *http.Request, batch *domain.RefundBatch, err error) {
	if errors.Is(err, domain.ErrAttemptsExhausted) && batch != nil {
		status, code, message := mapDomainError(err)
		writeJSON(w, status, apiError{
			Status:  "error",
			Code:    code,
			Message: message,
			Data:    toRefundBatchResponse(batch),
		})
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, toRefundBatchResponse(batch))
}
