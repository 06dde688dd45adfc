package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fundflow/internal/gateway"
	"fundflow/internal/logger"
	"fundflow/internal/repository/memory"
	"fundflow/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	creator = "creator-1"
	admin   = "admin-1"
)

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t       *testing.T
	router  http.Handler
	tokens  *TokenVerifier
	refunds *service.RefundService
}

func newHarness(t *testing.T, declined map[string]string) *harness {
	t.Helper()
	store := memory.NewStore()
	campaignRepo := memory.NewCampaignRepository(store)
	donationRepo := memory.NewDonationRepository(store)
	voteRepo := memory.NewVoteRepository(store)
	withdrawalRepo := memory.NewWithdrawalRepository(store)
	log := logger.Discard()

	refunds := service.NewRefundService(service.RefundDeps{
		Tx:          store,
		Batches:     memory.NewRefundBatchRepository(store),
		Donations:   donationRepo,
		Withdrawals: withdrawalRepo,
		Gateway:     gateway.NewSimulatedRefunds(declined),
		Logger:      log,
	}, service.RefundConfig{MaxAttempts: 2})
	t.Cleanup(refunds.Wait)

	tokens, err := NewTokenVerifier("test-secret", "fundflow")
	require.NoError(t, err)

	h := NewHandler(Services{
		Campaigns: service.NewCampaignService(service.CampaignDeps{
			Campaigns: campaignRepo,
			Donations: donationRepo,
			Votes:     voteRepo,
			Logger:    log,
		}),
		Voting: service.NewVotingService(service.VotingDeps{
			Campaigns: campaignRepo,
			Donations: donationRepo,
			Votes:     voteRepo,
			Logger:    log,
		}),
		Withdrawals: service.NewWithdrawalService(service.WithdrawalDeps{
			Tx:          store,
			Campaigns:   campaignRepo,
			Donations:   donationRepo,
			Withdrawals: withdrawalRepo,
			KYC:         &gateway.SimulatedKYC{},
			Payouts:     gateway.NewSimulatedPayouts(),
			Refunds:     refunds,
			Logger:      log,
		}),
		Refunds: refunds,
	}, tokens, log)

	return &harness{t: t, router: NewRouter(h), tokens: tokens, refunds: refunds}
}

func (h *harness) do(method, path, subject, role string, body any) (int, envelope) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		token, err := h.tokens.Issue(subject, role, time.Minute)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// activeCampaign creates, submits and approves a campaign with voting on.
func (h *harness) activeCampaign() campaignResponse {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/v1/campaigns", creator, "", map[string]any{
		"title":         "Community kitchen",
		"target_amount": "100000",
		"end_date":      time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(h.t, http.StatusCreated, code, env.Message)
	c := decodeData[campaignResponse](h.t, env)

	code, _ = h.do(http.MethodPost, "/v1/campaigns/"+c.ID.String()+"/submit", creator, "", nil)
	require.Equal(h.t, http.StatusOK, code)
	code, env = h.do(http.MethodPost, "/v1/campaigns/"+c.ID.String()+"/approve", admin, RoleAdmin, nil)
	require.Equal(h.t, http.StatusOK, code)
	return decodeData[campaignResponse](h.t, env)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	code, env := h.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
}

func TestAuth(t *testing.T) {
	h := newHarness(t, nil)

	code, env := h.do(http.MethodGet, "/v1/withdrawals", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	code, env = h.do(http.MethodGet, "/v1/withdrawals", creator, "", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Code)

	code, _ = h.do(http.MethodGet, "/v1/withdrawals", admin, RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, code)

	other, err := NewTokenVerifier("other-secret", "fundflow")
	require.NoError(t, err)
	forged, err := other.Issue(admin, RoleAdmin, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/withdrawals", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t, nil)

	code, env := h.do(http.MethodPost, "/v1/campaigns", creator, "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, env = h.do(http.MethodGet, "/v1/campaigns/not-a-uuid", creator, "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, env = h.do(http.MethodGet, "/v1/withdrawals?status=paid", admin, RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestVotingEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	c := h.activeCampaign()
	base := "/v1/campaigns/" + c.ID.String()

	code, env := h.do(http.MethodGet, base+"/votes/eligibility", "donor-a", "", nil)
	require.Equal(t, http.StatusOK, code)
	eligibility := decodeData[map[string]any](t, env)
	assert.Equal(t, false, eligibility["can_vote"])
	assert.Equal(t, "not_donated", eligibility["reason"])

	code, env = h.do(http.MethodPost, base+"/votes", "donor-a", "", map[string]any{"value": "approve"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "VOTING_NOT_ALLOWED", env.Code)
	assert.Equal(t, "not_donated", env.Reason)

	code, _ = h.do(http.MethodPost, base+"/donations", "donor-a", "", map[string]any{"amount": "250.50"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = h.do(http.MethodPost, base+"/votes", "donor-a", "", map[string]any{"value": "approve"})
	require.Equal(t, http.StatusCreated, code)

	code, env = h.do(http.MethodPost, base+"/votes", "donor-a", "", map[string]any{"value": "reject"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "already_voted", env.Reason)

	code, env = h.do(http.MethodGet, base+"/votes/results", "donor-a", "", nil)
	require.Equal(t, http.StatusOK, code)
	results := decodeData[voteResultsResponse](t, env)
	assert.Equal(t, 1, results.ApproveCount)
	assert.Equal(t, "approve", results.Majority)

	code, env = h.do(http.MethodPut, base+"/voting", "someone", "", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = h.do(http.MethodPut, base+"/voting", creator, "", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.Code)
}

func TestWithdrawalRejectAndRefundFlow(t *testing.T) {
	h := newHarness(t, map[string]string{"donor-b": "card closed"})
	c := h.activeCampaign()
	base := "/v1/campaigns/" + c.ID.String()

	for _, donor := range []string{"donor-a", "donor-b"} {
		code, _ := h.do(http.MethodPost, base+"/donations", donor, "", map[string]any{"amount": "400"})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env := h.do(http.MethodPost, base+"/withdrawals", creator, "", map[string]any{"amount": "900"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Code)

	code, env = h.do(http.MethodPost, base+"/withdrawals", creator, "", map[string]any{"amount": "500", "reason": "equipment"})
	require.Equal(t, http.StatusCreated, code)
	w := decodeData[withdrawalResponse](t, env)

	code, _ = h.do(http.MethodGet, "/v1/withdrawals/"+w.ID.String(), "donor-a", "", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = h.do(http.MethodPost, "/v1/withdrawals/"+w.ID.String()+"/reject", admin, RoleAdmin, map[string]any{"reason": "no invoices"})
	require.Equal(t, http.StatusOK, code)
	rejected := decodeData[struct {
		Withdrawal  withdrawalResponse  `json:"withdrawal"`
		RefundBatch refundBatchResponse `json:"refund_batch"`
	}](t, env)
	assert.Equal(t, "rejected", rejected.Withdrawal.Status)
	assert.Equal(t, "pending", rejected.RefundBatch.Status)
	assert.Equal(t, "800.00", rejected.RefundBatch.TotalAmount)
	batchPath := "/v1/refunds/batches/" + rejected.RefundBatch.ID.String()

	code, env = h.do(http.MethodPost, "/v1/refunds/withdrawals/"+w.ID.String()+"/initiate", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, rejected.RefundBatch.ID, decodeData[refundBatchResponse](t, env).ID)

	code, env = h.do(http.MethodPost, batchPath+"/process", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "processing", decodeData[refundBatchResponse](t, env).Status)
	h.refunds.Wait()

	code, env = h.do(http.MethodGet, batchPath, admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	batch := decodeData[refundBatchResponse](t, env)
	assert.Equal(t, "partial", batch.Status)

	code, _ = h.do(http.MethodPost, batchPath+"/retry", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusAccepted, code)
	h.refunds.Wait()

	code, env = h.do(http.MethodPost, batchPath+"/retry", admin, RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ATTEMPTS_EXHAUSTED", env.Code)
	exhausted := decodeData[refundBatchResponse](t, env)
	assert.Equal(t, "partial", exhausted.Status)
	for _, task := range exhausted.RefundDetails {
		if task.DonorID == "donor-b" {
			assert.Equal(t, 2, task.Attempts)
			assert.Equal(t, "card closed", task.Error)
		}
	}

	code, env = h.do(http.MethodGet, "/v1/refunds/withdrawals/"+w.ID.String()+"/batch", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, batch.ID, decodeData[refundBatchResponse](t, env).ID)
}

func TestWithdrawalApproveAndSync(t *testing.T) {
	h := newHarness(t, nil)
	c := h.activeCampaign()
	base := "/v1/campaigns/" + c.ID.String()

	code, _ := h.do(http.MethodPost, base+"/donations", "donor-a", "", map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusCreated, code)
	code, env := h.do(http.MethodPost, base+"/withdrawals", creator, "", map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusCreated, code)
	w := decodeData[withdrawalResponse](t, env)
	path := "/v1/withdrawals/" + w.ID.String()

	code, env = h.do(http.MethodPost, path+"/approve", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	approved := decodeData[withdrawalResponse](t, env)
	assert.Equal(t, "approved", approved.Status)
	assert.NotEmpty(t, approved.PayoutID)

	code, env = h.do(http.MethodPost, path+"/approve", admin, RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.Code)

	code, env = h.do(http.MethodPost, path+"/sync-payout", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", decodeData[withdrawalResponse](t, env).Status)

	code, env = h.do(http.MethodGet, "/v1/withdrawals?status=completed", admin, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]withdrawalResponse](t, env), 1)
}
