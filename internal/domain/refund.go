package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

const DefaultMaxAttempts = 3

// RefundTask reverses every refundable donation of one donor. Its ID doubles
// as the refund gateway idempotency key. ClaimID names the current
// processing claim; an outcome reported under an older claim is discarded.
type RefundTask struct {
	ID            uuid.UUID
	BatchID       uuid.UUID
	Position      int
	DonorID       string
	DonationIDs   []uuid.UUID
	PaymentIDs    []string
	Amount        Money
	Status        TaskStatus
	Error         string
	Attempts      int
	RefundID      string
	ClaimID       uuid.UUID
	LastAttemptAt *time.Time
	ProcessedAt   *time.Time
}

type RefundBatch struct {
	ID            uuid.UUID
	WithdrawalID  uuid.UUID
	CampaignID    uuid.UUID
	Status        BatchStatus
	RefundDetails []RefundTask
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// NewRefundBatch builds one pending task per donor group. A batch with
// nothing to refund is completed from the start.
func NewRefundBatch(withdrawalID, campaignID uuid.UUID, groups []DonorGroup, now time.Time) *RefundBatch {
	b := &RefundBatch{
		ID:           uuid.New(),
		WithdrawalID: withdrawalID,
		CampaignID:   campaignID,
		Status:       BatchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, g := range groups {
		b.RefundDetails = append(b.RefundDetails, RefundTask{
			ID:          uuid.New(),
			BatchID:     b.ID,
			Position:    i,
			DonorID:     g.DonorID,
			DonationIDs: g.DonationIDs,
			PaymentIDs:  g.PaymentIDs,
			Amount:      g.Amount,
			Status:      TaskPending,
		})
	}
	if len(b.RefundDetails) == 0 {
		b.Recompute(now)
	}
	return b
}

// DeriveBatchStatus is the only source of a started batch's status.
func DeriveBatchStatus(tasks []RefundTask) BatchStatus {
	var completed, failed int
	for _, t := range tasks {
		switch t.Status {
		case TaskPending, TaskProcessing:
			return BatchProcessing
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return BatchCompleted
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchPartial
}

// Retryable batches may be handed back to the executor.
func (s BatchStatus) Retryable() bool {
	return s == BatchFailed || s == BatchPartial
}

func (b *RefundBatch) Recompute(now time.Time) {
	b.Status = DeriveBatchStatus(b.RefundDetails)
	b.UpdatedAt = now
	if b.Status.Terminal() {
		b.ProcessedAt = &now
	}
}

func (b *RefundBatch) Task(id uuid.UUID) (*RefundTask, bool) {
	for i := range b.RefundDetails {
		if b.RefundDetails[i].ID == id {
			return &b.RefundDetails[i], true
		}
	}
	return nil, false
}

func (b RefundBatch) TotalAmount() Money {
	total := Zero
	for _, t := range b.RefundDetails {
		total = total.Add(t.Amount)
	}
	return total
}

// Eligible reports whether the task may be dispatched to the gateway again.
func (t RefundTask) Eligible(maxAttempts int) bool {
	return (t.Status == TaskPending || t.Status == TaskFailed) && t.Attempts < maxAttempts
}

func (t RefundTask) Exhausted(maxAttempts int) bool {
	return t.Status == TaskFailed && t.Attempts >= maxAttempts
}

func (t *RefundTask) Claim(maxAttempts int, now time.Time) error {
	if !t.Eligible(maxAttempts) {
		if t.Exhausted(maxAttempts) {
			return ErrAttemptsExhausted
		}
		return invalidTransition("refund task", string(t.Status), "claim")
	}
	t.Status = TaskProcessing
	t.ClaimID = uuid.New()
	t.LastAttemptAt = &now
	return nil
}

func (t *RefundTask) Succeed(refundID string, now time.Time) error {
	if t.Status != TaskProcessing {
		return invalidTransition("refund task", string(t.Status), "complete")
	}
	t.Status = TaskCompleted
	t.Attempts++
	t.Error = ""
	t.RefundID = refundID
	t.ProcessedAt = &now
	return nil
}

func (t *RefundTask) Fail(reason string, now time.Time) error {
	if t.Status != TaskProcessing {
		return invalidTransition("refund task", string(t.Status), "fail")
	}
	t.Status = TaskFailed
	t.Attempts++
	t.Error = reason
	t.ProcessedAt = &now
	return nil
}

// DonationRefundStatus mirrors a task status onto its donations.
func (t RefundTask) DonationRefundStatus() RefundStatus {
	switch t.Status {
	case TaskProcessing:
		return RefundProcessing
	case TaskCompleted:
		return RefundCompleted
	case TaskFailed:
		return RefundFailed
	default:
		return RefundPending
	}
}
