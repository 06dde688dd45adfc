package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/gateway"
	"fundflow/internal/port"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRequestWithdrawal_Success(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 600)

	w := f.requestWithdrawal(t, campaign.ID, 600)

	assert.Equal(t, domain.StatusPending, w.Status)
	assert.Equal(t, "600.00", w.Amount.StringFixed(2))
	assert.Equal(t, 1, f.events.count(domain.EventWithdrawalRequested))
}

func TestRequestWithdrawal_InsufficientFunds(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 5000)
	f.donate(t, campaign.ID, "donor-a", 1000)
	ctx := context.Background()

	_, err := f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
		CampaignID:  campaign.ID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(1500),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	all, err := f.withdrawals.ListWithdrawals(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	f.payouts.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)
}

func TestRequestWithdrawal_Rules(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 5000)
	f.donate(t, campaign.ID, "donor-a", 1000)
	ctx := context.Background()

	t.Run("only the creator may request", func(t *testing.T) {
		_, err := f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
			CampaignID:  campaign.ID,
			RequesterID: "donor-a",
			Amount:      domain.NewMoney(10),
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("one pending request at a time", func(t *testing.T) {
		first := f.requestWithdrawal(t, campaign.ID, 100)
		_, err := f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
			CampaignID:  campaign.ID,
			RequesterID: creatorID,
			Amount:      domain.NewMoney(100),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.withdrawals.CancelWithdrawal(ctx, first.ID, "donor-a")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		cancelled, err := f.withdrawals.CancelWithdrawal(ctx, first.ID, creatorID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	})

	t.Run("cancelled requests free the balance", func(t *testing.T) {
		w := f.requestWithdrawal(t, campaign.ID, 1000)
		assert.Equal(t, domain.StatusPending, w.Status)
	})
}

func TestApproveWithdrawal_Success(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 800)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	f.payouts.On("InitiatePayout", mock.Anything, mock.MatchedBy(func(req port.PayoutRequest) bool {
		return req.IdempotencyKey == w.ID.String() && req.Amount.Equal(domain.NewMoney(500))
	})).Return(port.PayoutResult{PayoutID: "pout_1", Status: domain.PayoutPending}, nil).Once()

	approved, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, "pout_1", approved.PayoutID)
	assert.Equal(t, domain.PayoutPending, approved.PayoutStatus)
	require.NotNil(t, approved.BeneficiaryDetails)
	assert.Equal(t, "SIMB0000001", approved.BeneficiaryDetails.IFSC)

	_, err = f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	f.payouts.AssertNumberOfCalls(t, "InitiatePayout", 1)

	f.payouts.On("GetPayout", mock.Anything, "pout_1").
		Return(port.PayoutResult{PayoutID: "pout_1", Status: domain.PayoutProcessed}, nil).Once()
	synced, err := f.withdrawals.SyncPayoutStatus(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, synced.Status)

	// Completed withdrawals stay reserved against the balance.
	_, err = f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
		CampaignID:  campaign.ID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(301),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	f.payouts.AssertExpectations(t)
}

func TestApproveWithdrawal_KycIncomplete(t *testing.T) {
	f := newFixture(t, fixtureConfig{kyc: &gateway.SimulatedKYC{Unverified: map[string]bool{creatorID: true}}})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 800)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrKycIncomplete)

	got, err := f.withdrawals.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	f.payouts.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)
}

func TestApproveWithdrawal_PayoutFailureThenReject(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 300)
	f.donate(t, campaign.ID, "donor-b", 200)
	w := f.requestWithdrawal(t, campaign.ID, 400)
	ctx := context.Background()

	f.payouts.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(port.PayoutResult{}, errors.New("connection reset")).Once()

	_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrGateway)

	got, err := f.withdrawals.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, domain.PayoutFailed, got.PayoutStatus)

	f.payouts.On("FindPayout", mock.Anything, w.ID.String()).
		Return(port.PayoutResult{}, fmt.Errorf("payout %s: %w", w.ID, domain.ErrNotFound)).Once()

	rejected, batch, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "payout bounced")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Len(t, batch.RefundDetails, 2)
	f.payouts.AssertExpectations(t)
}

func TestRejectWithdrawal_CreatesBatchOnce(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 100)
	f.donate(t, campaign.ID, "donor-b", 200)
	f.donate(t, campaign.ID, "donor-a", 50)
	w := f.requestWithdrawal(t, campaign.ID, 300)
	ctx := context.Background()

	_, _, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	rejected, batch, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "no receipts")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, "no receipts", rejected.RejectionReason)
	assert.Equal(t, domain.BatchPending, batch.Status)
	require.Len(t, batch.RefundDetails, 2)
	assert.Equal(t, "150.00", taskOf(t, batch, "donor-a").Amount.StringFixed(2))
	assert.Len(t, taskOf(t, batch, "donor-a").DonationIDs, 2)
	assert.Equal(t, "350.00", batch.TotalAmount().StringFixed(2))

	for donor, status := range f.refundStatuses(t, campaign.ID) {
		assert.Equal(t, domain.RefundPending, status, donor)
	}

	_, again, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "no receipts")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, again.ID)
	assert.Equal(t, 1, f.events.count(domain.EventRefundBatchInitiated))
	assert.Equal(t, 1, f.events.count(domain.EventWithdrawalRejected))
}

func TestRejectWithdrawal_CompletedIsFinal(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 500)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	f.payouts.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(port.PayoutResult{PayoutID: "pout_9", Status: domain.PayoutPending}, nil).Once()
	f.payouts.On("GetPayout", mock.Anything, "pout_9").
		Return(port.PayoutResult{PayoutID: "pout_9", Status: domain.PayoutProcessed}, nil).Once()

	_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	_, err = f.withdrawals.SyncPayoutStatus(ctx, w.ID)
	require.NoError(t, err)

	_, _, err = f.withdrawals.RejectWithdrawal(ctx, w.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.refunds.GetRefundBatch(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestWithdrawal_RefundedDonationsDoNotFundWithdrawals(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 10000)
	f.donate(t, campaign.ID, "donor-a", 3000)
	f.donate(t, campaign.ID, "donor-b", 2000)
	w := f.requestWithdrawal(t, campaign.ID, 5000)
	ctx := context.Background()

	_, batch, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "no receipts")
	require.NoError(t, err)

	again := domain.WithdrawalReq{
		CampaignID:  campaign.ID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(5000),
	}
	_, err = f.withdrawals.RequestWithdrawal(ctx, again)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = f.refunds.ProcessRefundBatch(ctx, batch.ID)
	require.NoError(t, err)
	f.refunds.Wait()
	for donor, status := range f.refundStatuses(t, campaign.ID) {
		assert.Equal(t, domain.RefundCompleted, status, donor)
	}

	_, err = f.withdrawals.RequestWithdrawal(ctx, again)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Only money that arrived after the refund can be withdrawn.
	f.donate(t, campaign.ID, "donor-c", 100)
	_, err = f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
		CampaignID:  campaign.ID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(101),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	next := f.requestWithdrawal(t, campaign.ID, 100)
	assert.Equal(t, domain.StatusPending, next.Status)
}

// failingWithdrawals fails the first write that records a payout reference.
type failingWithdrawals struct {
	port.WithdrawalRepository

	mu     sync.Mutex
	failed bool
}

func (r *failingWithdrawals) Update(ctx context.Context, w *domain.Withdrawal, expected domain.WithdrawalStatus) error {
	r.mu.Lock()
	fail := !r.failed && expected == domain.StatusApproved && w.PayoutID != ""
	if fail {
		r.failed = true
	}
	r.mu.Unlock()
	if fail {
		return errors.New("write payout reference: connection lost")
	}
	return r.WithdrawalRepository.Update(ctx, w, expected)
}

func TestSyncPayoutStatus_RecoversUnrecordedPayout(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		withdrawals: func(r port.WithdrawalRepository) port.WithdrawalRepository {
			return &failingWithdrawals{WithdrawalRepository: r}
		},
	})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 500)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	f.payouts.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(port.PayoutResult{PayoutID: "pout_7", Status: domain.PayoutPending}, nil).Once()
	_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID)
	require.Error(t, err)

	stuck, err := f.withdrawals.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stuck.Status)
	assert.Equal(t, domain.PayoutPending, stuck.PayoutStatus)
	assert.Empty(t, stuck.PayoutID)

	// The payout is found by the withdrawal id it was sent under.
	f.payouts.On("FindPayout", mock.Anything, w.ID.String()).
		Return(port.PayoutResult{PayoutID: "pout_7", Status: domain.PayoutProcessed}, nil).Once()
	synced, err := f.withdrawals.SyncPayoutStatus(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, synced.Status)
	assert.Equal(t, "pout_7", synced.PayoutID)

	_, _, err = f.withdrawals.RejectWithdrawal(ctx, w.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	f.payouts.AssertExpectations(t)
}

func TestRejectWithdrawal_PayoutNeverSentBecomesRejectable(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 500)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	// The process stopped between approving and calling the gateway.
	approved, err := f.withdrawalRepo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, approved.Approve(domain.BeneficiaryDetails{AccountNumber: "000111"}, f.clock.Now()))
	require.NoError(t, f.withdrawalRepo.Update(ctx, approved, domain.StatusPending))

	f.payouts.On("FindPayout", mock.Anything, w.ID.String()).
		Return(port.PayoutResult{}, fmt.Errorf("payout %s: %w", w.ID, domain.ErrNotFound))

	got, err := f.withdrawals.SyncPayoutStatus(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, got.PayoutStatus)
	_, _, err = f.withdrawals.RejectWithdrawal(ctx, w.ID, "stuck")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(6 * time.Minute)
	rejected, batch, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, domain.PayoutFailed, rejected.PayoutStatus)
	require.Len(t, batch.RefundDetails, 1)
	f.payouts.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)
}

// staleWithdrawals hands out an outdated copy on the next locked read, as a
// transaction that read before a concurrent commit would see it.
type staleWithdrawals struct {
	port.WithdrawalRepository

	mu    sync.Mutex
	stale *domain.Withdrawal
}

func (r *staleWithdrawals) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	r.mu.Lock()
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	if stale != nil {
		cp := *stale
		return &cp, nil
	}
	return r.WithdrawalRepository.GetForUpdate(ctx, id)
}

func TestRejectWithdrawal_LosingConcurrentRejectReturnsBatch(t *testing.T) {
	repo := &staleWithdrawals{}
	f := newFixture(t, fixtureConfig{
		withdrawals: func(r port.WithdrawalRepository) port.WithdrawalRepository {
			repo.WithdrawalRepository = r
			return repo
		},
	})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 300)
	w := f.requestWithdrawal(t, campaign.ID, 300)
	ctx := context.Background()

	_, first, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "no receipts")
	require.NoError(t, err)

	repo.mu.Lock()
	repo.stale = w
	repo.mu.Unlock()
	rejected, again, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "no receipts")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.events.count(domain.EventWithdrawalRejected))
	assert.Equal(t, 1, f.events.count(domain.EventRefundBatchInitiated))
}

func TestRejectWithdrawal_ConcurrentRejectsShareBatch(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 300)
	f.donate(t, campaign.ID, "donor-b", 200)
	w := f.requestWithdrawal(t, campaign.ID, 500)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, b, err := f.withdrawals.RejectWithdrawal(ctx, w.ID, "duplicate receipts")
			if assert.NoError(t, err) {
				ids <- b.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	batch, err := f.refunds.GetRefundBatch(ctx, w.ID)
	require.NoError(t, err)
	for id := range ids {
		assert.Equal(t, batch.ID, id)
	}
	assert.Equal(t, 1, f.events.count(domain.EventWithdrawalRejected))
	assert.Equal(t, 1, f.events.count(domain.EventRefundBatchInitiated))
}

func TestRequestWithdrawal_CampaignStaysOpenPastTarget(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	campaign := f.activeCampaign(t, 1000)
	f.donate(t, campaign.ID, "donor-a", 700)
	f.donate(t, campaign.ID, "donor-b", 500)
	ctx := context.Background()

	got, err := f.campaigns.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, got.Status)
	assert.Equal(t, "1200.00", got.CurrentAmount.StringFixed(2))

	w := f.requestWithdrawal(t, campaign.ID, 1200)
	assert.Equal(t, domain.StatusPending, w.Status)

	// Completion is an explicit admin step and closes new withdrawals.
	_, err = f.withdrawals.CancelWithdrawal(ctx, w.ID, creatorID)
	require.NoError(t, err)
	_, err = f.campaigns.CompleteCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	_, err = f.withdrawals.RequestWithdrawal(ctx, domain.WithdrawalReq{
		CampaignID:  campaign.ID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(100),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
