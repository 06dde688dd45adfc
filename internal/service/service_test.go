package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/gateway"
	"fundflow/internal/port"
	"fundflow/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const creatorID = "creator-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordedEvents) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type MockPayoutGateway struct {
	mock.Mock
}

func (m *MockPayoutGateway) InitiatePayout(ctx context.Context, req port.PayoutRequest) (port.PayoutResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(port.PayoutResult), args.Error(1)
}

func (m *MockPayoutGateway) GetPayout(ctx context.Context, payoutID string) (port.PayoutResult, error) {
	args := m.Called(ctx, payoutID)
	return args.Get(0).(port.PayoutResult), args.Error(1)
}

func (m *MockPayoutGateway) FindPayout(ctx context.Context, idempotencyKey string) (port.PayoutResult, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(port.PayoutResult), args.Error(1)
}

// scriptedRefunds declines or errors per donor and counts calls.
type scriptedRefunds struct {
	mu      sync.Mutex
	decline map[string]string
	fail    map[string]error
	calls   map[string]int
	keys    map[string][]string
}

func newScriptedRefunds() *scriptedRefunds {
	return &scriptedRefunds{
		decline: make(map[string]string),
		fail:    make(map[string]error),
		calls:   make(map[string]int),
		keys:    make(map[string][]string),
	}
}

func (g *scriptedRefunds) InitiateRefund(_ context.Context, req port.RefundRequest) (port.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[req.DonorID]++
	g.keys[req.DonorID] = append(g.keys[req.DonorID], req.IdempotencyKey)
	if err, ok := g.fail[req.DonorID]; ok {
		return port.RefundResult{}, err
	}
	if reason, ok := g.decline[req.DonorID]; ok {
		return port.RefundResult{Success: false, Error: reason}, nil
	}
	return port.RefundResult{Success: true, RefundID: "rfnd_" + req.DonorID}, nil
}

func (g *scriptedRefunds) setDecline(donor, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decline[donor] = reason
}

func (g *scriptedRefunds) allow(donor string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.decline, donor)
	delete(g.fail, donor)
}

func (g *scriptedRefunds) callsFor(donor string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[donor]
}

// blockingRefunds holds every call until release is closed and tracks how
// many calls per idempotency key are in flight at once.
type blockingRefunds struct {
	release chan struct{}
	prefix  string

	mu     sync.Mutex
	calls  int
	active map[string]int
	peak   int
}

func newBlockingRefunds(prefix string) *blockingRefunds {
	return &blockingRefunds{release: make(chan struct{}), prefix: prefix, active: make(map[string]int)}
}

func (g *blockingRefunds) InitiateRefund(ctx context.Context, req port.RefundRequest) (port.RefundResult, error) {
	g.mu.Lock()
	g.calls++
	g.active[req.IdempotencyKey]++
	if n := g.active[req.IdempotencyKey]; n > g.peak {
		g.peak = n
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active[req.IdempotencyKey]--
		g.mu.Unlock()
	}()

	select {
	case <-g.release:
		return port.RefundResult{Success: true, RefundID: g.prefix + req.DonorID}, nil
	case <-ctx.Done():
		return port.RefundResult{}, ctx.Err()
	}
}

func (g *blockingRefunds) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *blockingRefunds) peakPerKey() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// flakyCache fails every write and records evictions.
type flakyCache struct {
	mu      sync.Mutex
	stored  map[uuid.UUID]*domain.RefundBatch
	failPut bool
	failDel bool
	deleted int
}

func newFlakyCache() *flakyCache {
	return &flakyCache{stored: make(map[uuid.UUID]*domain.RefundBatch)}
}

func (c *flakyCache) Get(_ context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored[id], nil
}

func (c *flakyCache) Put(_ context.Context, b *domain.RefundBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut {
		return errors.New("redis: connection refused")
	}
	snapshot := *b
	c.stored[b.ID] = &snapshot
	return nil
}

func (c *flakyCache) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDel {
		return errors.New("redis: connection refused")
	}
	c.deleted++
	delete(c.stored, id)
	return nil
}

func (c *flakyCache) setFailures(put, del bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPut, c.failDel = put, del
}

type fixtureConfig struct {
	refunds     port.RefundGateway
	kyc         port.KYCProvider
	cache       port.BatchCache
	threshold   domain.Money
	concurrency int
	// withdrawals wraps the withdrawal repository the services use.
	withdrawals func(port.WithdrawalRepository) port.WithdrawalRepository
}

type fixture struct {
	clock   *testClock
	events  *recordedEvents
	payouts *MockPayoutGateway

	store          *memory.Store
	batchRepo      port.RefundBatchRepository
	donationRepo   port.DonationRepository
	withdrawalRepo port.WithdrawalRepository

	campaigns   port.CampaignService
	voting      port.VotingService
	withdrawals port.WithdrawalService
	refunds     *RefundService
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	if cfg.refunds == nil {
		cfg.refunds = newScriptedRefunds()
	}
	if cfg.kyc == nil {
		cfg.kyc = &gateway.SimulatedKYC{}
	}

	store := memory.NewStore()
	campaignRepo := memory.NewCampaignRepository(store)
	donationRepo := memory.NewDonationRepository(store)
	voteRepo := memory.NewVoteRepository(store)
	var withdrawalRepo port.WithdrawalRepository = memory.NewWithdrawalRepository(store)
	if cfg.withdrawals != nil {
		withdrawalRepo = cfg.withdrawals(withdrawalRepo)
	}
	batchRepo := memory.NewRefundBatchRepository(store)

	f := &fixture{
		clock:          newTestClock(),
		events:         &recordedEvents{},
		payouts:        new(MockPayoutGateway),
		store:          store,
		batchRepo:      batchRepo,
		donationRepo:   donationRepo,
		withdrawalRepo: withdrawalRepo,
	}
	f.refunds = f.refundService(t, cfg.refunds, cfg.cache, cfg.concurrency)
	f.campaigns = NewCampaignService(CampaignDeps{
		Campaigns:       campaignRepo,
		Donations:       donationRepo,
		Votes:           voteRepo,
		Events:          f.events,
		Clock:           f.clock.Now,
		VotingThreshold: cfg.threshold,
	})
	f.voting = NewVotingService(VotingDeps{
		Campaigns: campaignRepo,
		Donations: donationRepo,
		Votes:     voteRepo,
		Events:    f.events,
		Clock:     f.clock.Now,
	})
	f.withdrawals = NewWithdrawalService(WithdrawalDeps{
		Tx:          store,
		Campaigns:   campaignRepo,
		Donations:   donationRepo,
		Withdrawals: withdrawalRepo,
		KYC:         cfg.kyc,
		Payouts:     f.payouts,
		Refunds:     f.refunds,
		Events:      f.events,
		Clock:       f.clock.Now,
	})
	return f
}

// refundService builds a refund engine over the fixture's store. A second
// one stands in for another process sharing the database.
func (f *fixture) refundService(t *testing.T, gw port.RefundGateway, cache port.BatchCache, concurrency int) *RefundService {
	t.Helper()
	if concurrency == 0 {
		concurrency = 2
	}
	svc := NewRefundService(RefundDeps{
		Tx:          f.store,
		Batches:     f.batchRepo,
		Donations:   f.donationRepo,
		Withdrawals: f.withdrawalRepo,
		Gateway:     gw,
		Cache:       cache,
		Events:      f.events,
		Clock:       f.clock.Now,
	}, RefundConfig{MaxAttempts: 3, Concurrency: concurrency, CallTimeout: 5 * time.Second, StaleAfter: 10 * time.Minute})
	t.Cleanup(svc.Wait)
	return svc
}

func (f *fixture) activeCampaign(t *testing.T, target int64) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := f.campaigns.CreateCampaign(ctx, domain.CampaignReq{
		CreatorID:    creatorID,
		Title:        "Clean water for Ward 7",
		TargetAmount: domain.NewMoney(target),
		EndDate:      f.clock.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.campaigns.SubmitForReview(ctx, c.ID, creatorID)
	require.NoError(t, err)
	c, err = f.campaigns.ApproveCampaign(ctx, c.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) donate(t *testing.T, campaignID uuid.UUID, donor string, amount int64) *domain.Donation {
	t.Helper()
	f.clock.Advance(time.Second)
	d, err := f.campaigns.RecordDonation(context.Background(), domain.DonationReq{
		CampaignID: campaignID,
		DonorID:    donor,
		Amount:     domain.NewMoney(amount),
		PaymentID:  "pay_" + donor,
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) requestWithdrawal(t *testing.T, campaignID uuid.UUID, amount int64) *domain.Withdrawal {
	t.Helper()
	w, err := f.withdrawals.RequestWithdrawal(context.Background(), domain.WithdrawalReq{
		CampaignID:  campaignID,
		RequesterID: creatorID,
		Amount:      domain.NewMoney(amount),
		Reason:      "buy pumps",
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) refundStatuses(t *testing.T, campaignID uuid.UUID) map[string]domain.RefundStatus {
	t.Helper()
	donations, err := f.donationRepo.ListByCampaign(context.Background(), campaignID)
	require.NoError(t, err)
	out := make(map[string]domain.RefundStatus, len(donations))
	for _, d := range donations {
		out[d.DonorID] = d.RefundStatus
	}
	return out
}

func taskOf(t *testing.T, b *domain.RefundBatch, donor string) domain.RefundTask {
	t.Helper()
	for _, task := range b.RefundDetails {
		if task.DonorID == donor {
			return task
		}
	}
	t.Fatalf("no refund task for donor %s", donor)
	return domain.RefundTask{}
}
