package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type WithdrawalDeps struct {
	Tx          port.Transactor
	Campaigns   port.CampaignRepository
	Donations   port.DonationRepository
	Withdrawals port.WithdrawalRepository
	KYC         port.KYCProvider
	Payouts     port.PayoutGateway
	Refunds     *RefundService
	Events      port.EventPublisher
	Logger      *slog.Logger
	Clock       Clock
	// PayoutGrace is how long after approval a payout the gateway has no
	// record of is still treated as in flight.
	PayoutGrace time.Duration
}

const defaultPayoutGrace = 5 * time.Minute

type withdrawalService struct {
	tx             port.Transactor
	campaignRepo   port.CampaignRepository
	donationRepo   port.DonationRepository
	withdrawalRepo port.WithdrawalRepository
	kyc            port.KYCProvider
	payouts        port.PayoutGateway
	refunds        *RefundService
	events         port.EventPublisher
	logger         *slog.Logger
	now            Clock
	payoutGrace    time.Duration
}

func NewWithdrawalService(deps WithdrawalDeps) port.WithdrawalService {
	grace := deps.PayoutGrace
	if grace <= 0 {
		grace = defaultPayoutGrace
	}
	return &withdrawalService{
		tx:             deps.Tx,
		campaignRepo:   deps.Campaigns,
		donationRepo:   deps.Donations,
		withdrawalRepo: deps.Withdrawals,
		kyc:            deps.KYC,
		payouts:        deps.Payouts,
		refunds:        deps.Refunds,
		events:         deps.Events,
		logger:         orLogger(deps.Logger).With("module", "withdrawal"),
		now:            orClock(deps.Clock),
		payoutGrace:    grace,
	}
}

func (s *withdrawalService) RequestWithdrawal(ctx context.Context, req domain.WithdrawalReq) (*domain.Withdrawal, error) {
	withdrawal, err := domain.NewWithdrawal(req, s.now())
	if err != nil {
		return nil, err
	}

	// The campaign lock keeps two requests from spending the same balance.
	err = s.campaignRepo.WithLock(ctx, req.CampaignID, func(txCtx context.Context) error {
		campaign, err := s.campaignRepo.GetByID(txCtx, req.CampaignID)
		if err != nil {
			return err
		}
		if campaign.CreatorID != req.RequesterID {
			return domain.ErrForbidden
		}

		donations, err := s.donationRepo.ListByCampaign(txCtx, req.CampaignID)
		if err != nil {
			return err
		}
		history, err := s.withdrawalRepo.ListByCampaign(txCtx, req.CampaignID)
		if err != nil {
			return err
		}
		available, err := domain.AvailableBalance(campaign, donations, history)
		if err != nil {
			return err
		}
		if withdrawal.Amount.GreaterThan(available) {
			return domain.ErrInsufficientFunds
		}

		return s.withdrawalRepo.Create(txCtx, withdrawal)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdrawal requested",
		"operation", "request",
		"withdrawal_id", withdrawal.ID,
		"campaign_id", withdrawal.CampaignID,
		"amount", withdrawal.Amount.StringFixed(2),
	)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventWithdrawalRequested, withdrawal.CampaignID.String(), s.now(), map[string]any{
		"withdrawal_id": withdrawal.ID,
		"campaign_id":   withdrawal.CampaignID,
		"amount":        withdrawal.Amount.StringFixed(2),
	}))
	return withdrawal, nil
}

func (s *withdrawalService) GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return s.withdrawalRepo.GetByID(ctx, id)
}

// ListWithdrawals returns every withdrawal when status is empty.
func (s *withdrawalService) ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus) ([]domain.Withdrawal, error) {
	return s.withdrawalRepo.ListByStatus(ctx, status)
}

// ApproveWithdrawal sources the beneficiary from KYC, claims the withdrawal
// and calls the payout gateway exactly once.
func (s *withdrawalService) ApproveWithdrawal(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status != domain.StatusPending {
		return nil, &domain.StateError{Entity: "withdrawal", From: string(withdrawal.Status), Op: "approve"}
	}

	details, err := s.kyc.GetVerifiedBankDetails(ctx, withdrawal.RequesterID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrKycIncomplete
	case err != nil:
		return nil, asGatewayError("kyc lookup", err)
	case !details.Complete():
		return nil, domain.ErrKycIncomplete
	}

	if err := withdrawal.Approve(details, s.now()); err != nil {
		return nil, err
	}
	// Only the caller that wins this update may call the gateway.
	if err := s.withdrawalRepo.Update(ctx, withdrawal, domain.StatusPending); err != nil {
		return nil, err
	}

	result, payoutErr := s.payouts.InitiatePayout(ctx, port.PayoutRequest{
		Beneficiary:    details,
		Amount:         withdrawal.Amount,
		IdempotencyKey: withdrawal.ID.String(),
		Purpose:        "campaign_withdrawal",
	})
	if payoutErr != nil {
		if err := withdrawal.ApplyPayout("", domain.PayoutFailed, s.now()); err != nil {
			return nil, err
		}
		if err := s.withdrawalRepo.Update(ctx, withdrawal, domain.StatusApproved); err != nil {
			s.logger.ErrorContext(ctx, "payout failure not recorded", "withdrawal_id", id, "error", err)
		}
		s.logger.WarnContext(ctx, "payout failed",
			"operation", "approve",
			"withdrawal_id", id,
			"outcome", "payout_failed",
			"error", payoutErr,
		)
		return nil, asGatewayError("initiate payout", payoutErr)
	}

	if err := withdrawal.ApplyPayout(result.PayoutID, result.Status, s.now()); err != nil {
		return nil, err
	}
	if err := s.withdrawalRepo.Update(ctx, withdrawal, domain.StatusApproved); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdrawal approved",
		"operation", "approve",
		"withdrawal_id", id,
		"payout_id", result.PayoutID,
		"payout_status", result.Status,
	)
	publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventWithdrawalApproved, withdrawal.CampaignID.String(), s.now(), map[string]any{
		"withdrawal_id": withdrawal.ID,
		"payout_id":     withdrawal.PayoutID,
		"payout_status": withdrawal.PayoutStatus,
	}))
	return withdrawal, nil
}

// RejectWithdrawal rejects the request and creates its refund batch in the
// same transaction. Rejecting again returns the batch created the first time.
func (s *withdrawalService) RejectWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*domain.Withdrawal, *domain.RefundBatch, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, nil, domain.ErrInvalidInput
	}

	// A payout without a recorded reference may still have gone through.
	current, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if current.Status == domain.StatusApproved && current.PayoutID == "" {
		if _, err := s.SyncPayoutStatus(ctx, id); err != nil {
			return nil, nil, err
		}
	}

	var (
		withdrawal *domain.Withdrawal
		batch      *domain.RefundBatch
		created    bool
	)
	reject := func(txCtx context.Context) error {
		created = false
		w, err := s.withdrawalRepo.GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		withdrawal = w

		if w.Status == domain.StatusRejected {
			batch, err = s.refunds.batches.GetByWithdrawalID(txCtx, id)
			if errors.Is(err, domain.ErrNotFound) {
				batch, err = s.refunds.createBatch(txCtx, w)
				created = err == nil
			}
			return err
		}

		from := w.Status
		if err := w.Reject(reason, s.now()); err != nil {
			return err
		}
		if err := s.withdrawalRepo.Update(txCtx, w, from); err != nil {
			return err
		}
		batch, err = s.refunds.createBatch(txCtx, w)
		created = err == nil
		return err
	}
	err = s.tx.WithinTx(ctx, reject)
	if errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrDuplicateOperation) {
		// A concurrent rejection won; the second pass returns its batch.
		err = s.tx.WithinTx(ctx, reject)
	}
	if err != nil {
		return nil, nil, err
	}

	if created {
		s.logger.InfoContext(ctx, "withdrawal rejected",
			"operation", "reject",
			"withdrawal_id", id,
			"batch_id", batch.ID,
		)
		publish(ctx, s.events, s.logger, domain.NewEvent(domain.EventWithdrawalRejected, withdrawal.CampaignID.String(), s.now(), map[string]any{
			"withdrawal_id": withdrawal.ID,
			"reason":        withdrawal.RejectionReason,
			"batch_id":      batch.ID,
		}))
		s.refunds.announce(ctx, batch)
	}
	return withdrawal, batch, nil
}

func (s *withdrawalService) CancelWithdrawal(ctx context.Context, id uuid.UUID, requesterID string) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := withdrawal.Cancel(requesterID, s.now()); err != nil {
		return nil, err
	}
	if err := s.withdrawalRepo.Update(ctx, withdrawal, domain.StatusPending); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "withdrawal cancelled", "operation", "cancel", "withdrawal_id", id)
	return withdrawal, nil
}

// SyncPayoutStatus polls the payout gateway. A processed payout completes
// the withdrawal; a failed or reversed one leaves it for admin rejection.
// When no payout reference was recorded the payout is looked up by the
// withdrawal id; one the gateway never saw fails once the grace period is
// over, which makes the withdrawal rejectable.
func (s *withdrawalService) SyncPayoutStatus(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status != domain.StatusApproved {
		return withdrawal, nil
	}

	now := s.now()
	result, err := s.lookupPayout(ctx, withdrawal)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if withdrawal.PayoutStatus != domain.PayoutPending || !s.graceOver(withdrawal, now) {
			return withdrawal, nil
		}
		s.logger.WarnContext(ctx, "payout never reached the gateway",
			"operation", "sync_payout",
			"withdrawal_id", id,
			"outcome", "payout_missing",
		)
		result = port.PayoutResult{Status: domain.PayoutFailed}
	case err != nil:
		return nil, asGatewayError("get payout", err)
	}
	if result.Status == withdrawal.PayoutStatus && (result.PayoutID == "" || result.PayoutID == withdrawal.PayoutID) {
		return withdrawal, nil
	}

	if err := withdrawal.ApplyPayout(result.PayoutID, result.Status, now); err != nil {
		return nil, err
	}
	if withdrawal.PayoutStatus == domain.PayoutProcessed {
		if err := withdrawal.Settle(now); err != nil {
			return nil, err
		}
	}
	if err := s.withdrawalRepo.Update(ctx, withdrawal, domain.StatusApproved); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payout status synced",
		"operation", "sync_payout",
		"withdrawal_id", id,
		"payout_id", withdrawal.PayoutID,
		"payout_status", withdrawal.PayoutStatus,
		"status", withdrawal.Status,
	)
	return withdrawal, nil
}

func (s *withdrawalService) lookupPayout(ctx context.Context, w *domain.Withdrawal) (port.PayoutResult, error) {
	if w.PayoutID != "" {
		return s.payouts.GetPayout(ctx, w.PayoutID)
	}
	return s.payouts.FindPayout(ctx, w.ID.String())
}

func (s *withdrawalService) graceOver(w *domain.Withdrawal, now time.Time) bool {
	return w.DecidedAt == nil || now.Sub(*w.DecidedAt) >= s.payoutGrace
}

func asGatewayError(op string, err error) error {
	if errors.Is(err, domain.ErrGateway) {
		return err
	}
	return &domain.GatewayError{Op: op, Err: err}
}
