package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fundflow/internal/domain"
	"fundflow/internal/port"
)

//--------------------KYC

type KYCClient struct {
	c *client
}

var _ port.KYCProvider = (*KYCClient)(nil)

func NewKYCClient(baseURL string, cfg Config) *KYCClient {
	return &KYCClient{c: newClient(baseURL, cfg)}
}

type bankDetailsResponse struct {
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	Name          string `json:"name"`
	BankName      string `json:"bank_name"`
	Verified      bool   `json:"verified"`
}

// GetVerifiedBankDetails treats an unverified record like a missing one.
func (k *KYCClient) GetVerifiedBankDetails(ctx context.Context, userID string) (domain.BeneficiaryDetails, error) {
	resp, err := k.c.do(ctx, "kyc lookup", http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/bank-details", nil, nil)
	if err != nil {
		return domain.BeneficiaryDetails{}, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return domain.BeneficiaryDetails{}, domain.ErrNotFound
	case !resp.ok():
		return domain.BeneficiaryDetails{}, &domain.GatewayError{Op: "kyc lookup", Err: fmt.Errorf("status %d: %s", resp.status, resp.description())}
	}

	var body bankDetailsResponse
	if err := resp.decode(&body); err != nil {
		return domain.BeneficiaryDetails{}, &domain.GatewayError{Op: "kyc lookup", Err: err}
	}
	if !body.Verified {
		return domain.BeneficiaryDetails{}, domain.ErrNotFound
	}
	return domain.BeneficiaryDetails{
		AccountNumber: body.AccountNumber,
		IFSC:          body.IFSC,
		Name:          body.Name,
		BankName:      body.BankName,
	}, nil
}

//--------------------Payout

type PayoutClient struct {
	c *client
}

var _ port.PayoutGateway = (*PayoutClient)(nil)

func NewPayoutClient(cfg Config) *PayoutClient {
	return &PayoutClient{c: newClient(cfg.BaseURL, cfg)}
}

type payoutRequest struct {
	ReferenceID string        `json:"reference_id"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Mode        string        `json:"mode"`
	Purpose     string        `json:"purpose"`
	FundAccount fundAccount   `json:"fund_account"`
	Notes       payoutNoteSet `json:"notes,omitempty"`
}

type fundAccount struct {
	AccountType string      `json:"account_type"`
	BankAccount bankAccount `json:"bank_account"`
}

type bankAccount struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

type payoutNoteSet map[string]string

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *PayoutClient) InitiatePayout(ctx context.Context, req port.PayoutRequest) (port.PayoutResult, error) {
	body := payoutRequest{
		ReferenceID: req.IdempotencyKey,
		Amount:      toMinorUnits(req.Amount),
		Currency:    "INR",
		Mode:        "IMPS",
		Purpose:     req.Purpose,
		FundAccount: fundAccount{
			AccountType: "bank_account",
			BankAccount: bankAccount{
				Name:          req.Beneficiary.Name,
				IFSC:          req.Beneficiary.IFSC,
				AccountNumber: req.Beneficiary.AccountNumber,
			},
		},
		Notes: payoutNoteSet{"bank_name": req.Beneficiary.BankName},
	}

	resp, err := p.c.do(ctx, "initiate payout", http.MethodPost, "/v1/payouts", body,
		map[string]string{"X-Payout-Idempotency": req.IdempotencyKey})
	if err != nil {
		return port.PayoutResult{}, err
	}
	return payoutResult("initiate payout", resp)
}

func (p *PayoutClient) GetPayout(ctx context.Context, payoutID string) (port.PayoutResult, error) {
	resp, err := p.c.do(ctx, "get payout", http.MethodGet, "/v1/payouts/"+url.PathEscape(payoutID), nil, nil)
	if err != nil {
		return port.PayoutResult{}, err
	}
	return payoutResult("get payout", resp)
}

type payoutList struct {
	Count int              `json:"count"`
	Items []payoutResponse `json:"items"`
}

// FindPayout lists payouts by the reference id InitiatePayout sent.
func (p *PayoutClient) FindPayout(ctx context.Context, idempotencyKey string) (port.PayoutResult, error) {
	const op = "find payout"
	query := url.Values{"reference_id": {idempotencyKey}}
	resp, err := p.c.do(ctx, op, http.MethodGet, "/v1/payouts?"+query.Encode(), nil, nil)
	if err != nil {
		return port.PayoutResult{}, err
	}
	if !resp.ok() {
		return port.PayoutResult{}, &domain.GatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.status, resp.description())}
	}
	var body payoutList
	if err := resp.decode(&body); err != nil {
		return port.PayoutResult{}, &domain.GatewayError{Op: op, Err: err}
	}
	if len(body.Items) == 0 {
		return port.PayoutResult{}, fmt.Errorf("payout %s: %w", idempotencyKey, domain.ErrNotFound)
	}
	found := body.Items[0]
	return port.PayoutResult{PayoutID: found.ID, Status: mapPayoutStatus(found.Status)}, nil
}

func payoutResult(op string, resp response) (port.PayoutResult, error) {
	if !resp.ok() {
		return port.PayoutResult{}, &domain.GatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.status, resp.description())}
	}
	var body payoutResponse
	if err := resp.decode(&body); err != nil {
		return port.PayoutResult{}, &domain.GatewayError{Op: op, Err: err}
	}
	return port.PayoutResult{PayoutID: body.ID, Status: mapPayoutStatus(body.Status)}, nil
}

// mapPayoutStatus folds the gateway's lifecycle into ours. Anything still in
// flight is pending.
func mapPayoutStatus(status string) domain.PayoutStatus {
	switch strings.ToLower(status) {
	case "processed":
		return domain.PayoutProcessed
	case "reversed":
		return domain.PayoutReversed
	case "failed", "rejected", "cancelled":
		return domain.PayoutFailed
	default:
		return domain.PayoutPending
	}
}

//--------------------Refund

type RefundClient struct {
	c *client
}

var _ port.RefundGateway = (*RefundClient)(nil)

func NewRefundClient(cfg Config) *RefundClient {
	return &RefundClient{c: newClient(cfg.BaseURL, cfg)}
}

type refundRequest struct {
	DonorID     string   `json:"donor_id"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	PaymentIDs  []string `json:"payment_ids"`
	DonationIDs []string `json:"donation_ids"`
	Speed       string   `json:"speed"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// InitiateRefund reports a 4xx as a declined refund; 5xx and transport
// problems are errors the caller may retry.
func (r *RefundClient) InitiateRefund(ctx context.Context, req port.RefundRequest) (port.RefundResult, error) {
	donationIDs := make([]string, len(req.DonationIDs))
	for i, id := range req.DonationIDs {
		donationIDs[i] = id.String()
	}
	body := refundRequest{
		DonorID:     req.DonorID,
		Amount:      toMinorUnits(req.Amount),
		Currency:    "INR",
		PaymentIDs:  req.PaymentIDs,
		DonationIDs: donationIDs,
		Speed:       "normal",
	}

	resp, err := r.c.do(ctx, "initiate refund", http.MethodPost, "/v1/refunds", body,
		map[string]string{"Idempotency-Key": req.IdempotencyKey})
	if err != nil {
		return port.RefundResult{}, err
	}
	switch {
	case resp.status >= 500:
		return port.RefundResult{}, &domain.GatewayError{Op: "initiate refund", Err: fmt.Errorf("status %d: %s", resp.status, resp.description())}
	case !resp.ok():
		return port.RefundResult{Success: false, Error: resp.description()}, nil
	}

	var out refundResponse
	if err := resp.decode(&out); err != nil {
		return port.RefundResult{}, &domain.GatewayError{Op: "initiate refund", Err: err}
	}
	if strings.EqualFold(out.Status, "failed") {
		return port.RefundResult{Success: false, RefundID: out.ID, Error: "refund failed at gateway"}, nil
	}
	return port.RefundResult{Success: true, RefundID: out.ID}, nil
}
