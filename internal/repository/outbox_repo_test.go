package repository

import (
	"context"
	"testing"

	"pointsystem/internal/model"

	"github.com/stretchr/testify/require"
)

func TestOutboxLifecycle(t *testing.T) {
	db := setupRepoDB(t, "repo_outbox")
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{
		MessageKey: "EVT20260101000000_00000001",
		Topic:      "point_events",
		Payload:    `{"user_id":1}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, repo.Create(ctx, nil, msg))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, msg.MessageKey, pending[0].MessageKey)

	// 发送成功后出队
	require.NoError(t, repo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent))
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOutboxRetryAndFail(t *testing.T) {
	db := setupRepoDB(t, "repo_outbox_retry")
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{
		MessageKey: "EVT20260101000000_00000002",
		Topic:      "point_events",
		Payload:    `{"user_id":2}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, repo.Create(ctx, nil, msg))

	require.NoError(t, repo.IncrementRetryCount(ctx, msg.ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, msg.ID))

	var stored model.OutboxMessage
	require.NoError(t, db.First(&stored, msg.ID).Error)
	require.Equal(t, 2, stored.RetryCount)

	require.NoError(t, repo.MarkAsFailed(ctx, msg.ID))
	require.NoError(t, db.First(&stored, msg.ID).Error)
	require.Equal(t, model.OutboxStatusFailed, stored.Status)
	require.Equal(t, 3, stored.RetryCount)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
