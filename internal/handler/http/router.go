package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Services struct {
	Campaigns   port.CampaignService
	Voting      port.VotingService
	Withdrawals port.WithdrawalService
	Refunds     port.RefundService
}

type Handler struct {
	campaigns   port.CampaignService
	voting      port.VotingService
	withdrawals port.WithdrawalService
	refunds     port.RefundService
	validate    *validator.Validate
	tokens      *TokenVerifier
	logger      *slog.Logger
}

func NewHandler(services Services, tokens *TokenVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		campaigns:   services.Campaigns,
		voting:      services.Voting,
		withdrawals: services.Withdrawals,
		refunds:     services.Refunds,
		validate:    validator.New(),
		tokens:      tokens,
		logger:      logger.With("module", "http"),
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.createCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.getCampaign)
				r.Post("/submit", h.submitCampaign)
				r.Put("/voting", h.setVoting)
				r.Post("/donations", h.recordDonation)
				r.Get("/votes/eligibility", h.canVote)
				r.Post("/votes", h.castVote)
				r.Get("/votes/results", h.voteResults)
				r.Post("/withdrawals", h.requestWithdrawal)

				r.Group(func(r chi.Router) {
					r.Use(h.adminOnly)
					r.Post("/approve", h.approveCampaign)
					r.Post("/reject", h.rejectCampaign)
					r.Post("/complete", h.completeCampaign)
					r.Post("/voting/recalculate", h.recalculateVoting)
				})
			})
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/{withdrawalID}", h.getWithdrawal)
			r.Post("/{withdrawalID}/cancel", h.cancelWithdrawal)

			r.Group(func(r chi.Router) {
				r.Use(h.adminOnly)
				r.Get("/", h.listWithdrawals)
				r.Post("/{withdrawalID}/approve", h.approveWithdrawal)
				r.Post("/{withdrawalID}/reject", h.rejectWithdrawal)
				r.Post("/{withdrawalID}/sync-payout", h.syncPayout)
			})
		})

		r.Route("/refunds", func(r chi.Router) {
			r.Use(h.adminOnly)
			r.Post("/withdrawals/{withdrawalID}/initiate", h.initiateRefunds)
			r.Get("/withdrawals/{withdrawalID}/batch", h.getBatchByWithdrawal)
			r.Get("/batches/{batchID}", h.getBatch)
			r.Post("/batches/{batchID}/process", h.processBatch)
			r.Post("/batches/{batchID}/retry", h.retryBatch)
		})
	})

	return r
}

// decode reads and validates a JSON body. Validation failures are reported
// as domain.ErrInvalidInput.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", domain.ErrInvalidInput, name)
	}
	return id, nil
}

func parseAmount(raw string) (domain.Money, error) {
	amount, err := domain.ParseMoney(raw)
	if err != nil || !domain.IsPositive(amount) {
		return domain.Zero, fmt.Errorf("%w: amount must be a positive number", domain.ErrInvalidInput)
	}
	return amount, nil
}
