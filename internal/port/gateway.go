package port

import (
	"context"

	"fundflow/internal/domain"

	"github.com/google/uuid"
)

// KYCProvider returns domain.ErrNotFound when the user has no verified
// bank details on record.
type KYCProvider interface {
	GetVerifiedBankDetails(ctx context.Context, userID string) (domain.BeneficiaryDetails, error)
}

type PayoutRequest struct {
	Beneficiary    domain.BeneficiaryDetails
	Amount         domain.Money
	IdempotencyKey string
	Purpose        string
}

type PayoutResult struct {
	PayoutID string
	Status   domain.PayoutStatus
}

type PayoutGateway interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
	GetPayout(ctx context.Context, payoutID string) (PayoutResult, error)
	// FindPayout looks a payout up by the idempotency key it was created
	// with. It returns domain.ErrNotFound when the gateway never saw it.
	FindPayout(ctx context.Context, idempotencyKey string) (PayoutResult, error)
}

type RefundRequest struct {
	DonorID        string
	Amount         domain.Money
	IdempotencyKey string
	DonationIDs    []uuid.UUID
	PaymentIDs     []string
}

// RefundResult reports a gateway decision. A decline is a result with
// Success false; transport problems are returned as errors.
type RefundResult struct {
	Success  bool
	RefundID string
	Error    string
}

type RefundGateway interface {
	InitiateRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// BatchCache holds the latest committed snapshot of each refund batch for
// status polling. Get returns (nil, nil) on a miss.
type BatchCache interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error)
	Put(ctx context.Context, b *domain.RefundBatch) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
