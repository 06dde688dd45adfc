package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fundflow/internal/domain"
	"fundflow/internal/port"
)

// SimulatedKYC verifies every user with placeholder bank details, except the
// ones listed as unverified.
type SimulatedKYC struct {
	Unverified map[string]bool
}

func (k *SimulatedKYC) GetVerifiedBankDetails(_ context.Context, userID string) (domain.BeneficiaryDetails, error) {
	if k.Unverified[userID] {
		return domain.BeneficiaryDetails{}, domain.ErrNotFound
	}
	return domain.BeneficiaryDetails{
		AccountNumber: "000000" + strings.ToUpper(userID),
		IFSC:          "SIMB0000001",
		Name:          userID,
		BankName:      "Simulated Bank",
	}, nil
}

// SimulatedPayouts accepts every payout as pending and reports it processed
// on the next lookup. Repeated idempotency keys return the first payout.
type SimulatedPayouts struct {
	mu    sync.Mutex
	byKey map[string]string
	seen  map[string]bool
}

func NewSimulatedPayouts() *SimulatedPayouts {
	return &SimulatedPayouts{byKey: make(map[string]string), seen: make(map[string]bool)}
}

func (p *SimulatedPayouts) InitiatePayout(_ context.Context, req port.PayoutRequest) (port.PayoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byKey[req.IdempotencyKey]
	if !ok {
		id = "pout_sim_" + shortKey(req.IdempotencyKey)
		p.byKey[req.IdempotencyKey] = id
		p.seen[id] = true
	}
	return port.PayoutResult{PayoutID: id, Status: domain.PayoutPending}, nil
}

func (p *SimulatedPayouts) GetPayout(_ context.Context, payoutID string) (port.PayoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.seen[payoutID] {
		return port.PayoutResult{}, &domain.GatewayError{Op: "get payout", Err: fmt.Errorf("unknown payout %s", payoutID)}
	}
	return port.PayoutResult{PayoutID: payoutID, Status: domain.PayoutProcessed}, nil
}

func (p *SimulatedPayouts) FindPayout(_ context.Context, idempotencyKey string) (port.PayoutResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byKey[idempotencyKey]
	if !ok {
		return port.PayoutResult{}, fmt.Errorf("payout %s: %w", idempotencyKey, domain.ErrNotFound)
	}
	return port.PayoutResult{PayoutID: id, Status: domain.PayoutProcessed}, nil
}

// SimulatedRefunds succeeds unless the donor is listed in Decline. The same
// idempotency key always yields the same refund.
type SimulatedRefunds struct {
	Decline map[string]string

	mu      sync.Mutex
	results map[string]port.RefundResult
}

func NewSimulatedRefunds(decline map[string]string) *SimulatedRefunds {
	return &SimulatedRefunds{Decline: decline, results: make(map[string]port.RefundResult)}
}

func (r *SimulatedRefunds) InitiateRefund(_ context.Context, req port.RefundRequest) (port.RefundResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.results[req.IdempotencyKey]; ok && res.Success {
		return res, nil
	}
	if reason, ok := r.Decline[req.DonorID]; ok {
		return port.RefundResult{Success: false, Error: reason}, nil
	}
	res := port.RefundResult{Success: true, RefundID: "rfnd_sim_" + shortKey(req.IdempotencyKey)}
	r.results[req.IdempotencyKey] = res
	return res, nil
}

func shortKey(key string) string {
	key = strings.ReplaceAll(key, "-", "")
	if len(key) > 14 {
		key = key[:14]
	}
	return key
}
