package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventCampaignApproved     = "campaign.approved"
	EventCampaignRejected     = "campaign.rejected"
	EventCampaignCompleted    = "campaign.completed"
	EventDonationRecorded     = "donation.recorded"
	EventVoteCast             = "vote.cast"
	EventWithdrawalRequested  = "withdrawal.requested"
	EventWithdrawalApproved   = "withdrawal.approved"
	EventWithdrawalRejected   = "withdrawal.rejected"
	EventRefundBatchInitiated = "refund.batch.initiated"
	EventRefundTaskCompleted  = "refund.task.completed"
	EventRefundTaskFailed     = "refund.task.failed"
	EventRefundBatchSettled   = "refund.batch.settled"
)

// Event is a fact published after a state change is committed. Key groups
// events of one aggregate on the same partition.
type Event struct {
	ID         uuid.UUID      `json:"event_id"`
	Type       string         `json:"event_type"`
	Key        string         `json:"partition_key"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

func NewEvent(eventType, key string, now time.Time, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Key:        key,
		OccurredAt: now,
		Data:       data,
	}
}
