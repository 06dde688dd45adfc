package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasksWith(statuses ...TaskStatus) []RefundTask {
	tasks := make([]RefundTask, len(statuses))
	for i, s := range statuses {
		tasks[i] = RefundTask{ID: uuid.New(), Status: s}
	}
	return tasks
}

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name  string
		tasks []RefundTask
		want  BatchStatus
	}{
		{"no tasks", nil, BatchCompleted},
		{"all completed", tasksWith(TaskCompleted, TaskCompleted), BatchCompleted},
		{"all failed", tasksWith(TaskFailed, TaskFailed), BatchFailed},
		{"mixed", tasksWith(TaskCompleted, TaskFailed, TaskFailed), BatchPartial},
		{"one in flight", tasksWith(TaskCompleted, TaskProcessing, TaskFailed), BatchProcessing},
		{"one pending", tasksWith(TaskPending, TaskCompleted), BatchProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveBatchStatus(tt.tasks))
		})
	}
}

func TestNewRefundBatch(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("one task per group", func(t *testing.T) {
		groups := []DonorGroup{
			{DonorID: "a", DonationIDs: []uuid.UUID{uuid.New()}, Amount: NewMoney(10)},
			{DonorID: "b", DonationIDs: []uuid.UUID{uuid.New(), uuid.New()}, Amount: NewMoney(25)},
		}
		b := NewRefundBatch(uuid.New(), uuid.New(), groups, now)
		assert.Equal(t, BatchPending, b.Status)
		require.Len(t, b.RefundDetails, 2)
		assert.Equal(t, 1, b.RefundDetails[1].Position)
		assert.Equal(t, b.ID, b.RefundDetails[0].BatchID)
		assert.Equal(t, "35.00", b.TotalAmount().StringFixed(2))
		assert.Nil(t, b.ProcessedAt)
	})

	t.Run("nothing to refund", func(t *testing.T) {
		b := NewRefundBatch(uuid.New(), uuid.New(), nil, now)
		assert.Equal(t, BatchCompleted, b.Status)
		require.NotNil(t, b.ProcessedAt)
		assert.Equal(t, now, *b.ProcessedAt)
	})
}

func TestRefundTask_Attempts(t *testing.T) {
	now := time.Now()
	task := RefundTask{ID: uuid.New(), Status: TaskPending}

	require.NoError(t, task.Claim(2, now))
	assert.Equal(t, TaskProcessing, task.Status)
	assert.Zero(t, task.Attempts)
	assert.Equal(t, RefundProcessing, task.DonationRefundStatus())

	assert.ErrorIs(t, task.Claim(2, now), ErrInvalidState)

	require.NoError(t, task.Fail("declined", now))
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, RefundFailed, task.DonationRefundStatus())
	assert.True(t, task.Eligible(2))
	assert.False(t, task.Exhausted(2))

	require.NoError(t, task.Claim(2, now))
	require.NoError(t, task.Fail("declined again", now))
	assert.Equal(t, 2, task.Attempts)
	assert.True(t, task.Exhausted(2))
	assert.ErrorIs(t, task.Claim(2, now), ErrAttemptsExhausted)

	// A higher cap makes the task eligible again.
	require.NoError(t, task.Claim(3, now))
	require.NoError(t, task.Succeed("rfnd_1", now))
	assert.Equal(t, 3, task.Attempts)
	assert.Empty(t, task.Error)
	assert.Equal(t, "rfnd_1", task.RefundID)
	assert.Equal(t, RefundCompleted, task.DonationRefundStatus())

	assert.ErrorIs(t, task.Succeed("rfnd_2", now), ErrInvalidState)
	assert.False(t, task.Eligible(3))
}

func TestRefundBatch_Recompute(t *testing.T) {
	now := time.Now()
	b := &RefundBatch{Status: BatchPending, RefundDetails: tasksWith(TaskProcessing, TaskCompleted)}

	b.Recompute(now)
	assert.Equal(t, BatchProcessing, b.Status)
	assert.Nil(t, b.ProcessedAt)

	b.RefundDetails[0].Status = TaskFailed
	b.Recompute(now)
	assert.Equal(t, BatchPartial, b.Status)
	assert.True(t, b.Status.Retryable())
	assert.NotNil(t, b.ProcessedAt)

	task, ok := b.Task(b.RefundDetails[1].ID)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, task.Status)
	_, ok = b.Task(uuid.New())
	assert.False(t, ok)
}
