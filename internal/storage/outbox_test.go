package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, repo *SQLiteRepository, eventType string, at time.Time) string {
	t.Helper()
	var id string
	require.NoError(t, repo.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.Enqueue(context.Background(), eventType, "agg-1", map[string]string{"k": "v"}, at)
		return err
	}))
	return id
}

func TestOutboxStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OutboxStatus
		ok       bool
	}{
		{OutboxPending, OutboxProcessing, true},
		{OutboxFailed, OutboxProcessing, true},
		{OutboxProcessing, OutboxPublished, true},
		{OutboxProcessing, OutboxInvalid, true},
		{OutboxPublished, OutboxProcessing, false},
		{OutboxInvalid, OutboxProcessing, false},
		{OutboxPending, OutboxPublished, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOutboxEnqueueIsTransactional(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.Enqueue(ctx, "transaction.posted", "1", map[string]int{"id": 1}, testNow); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	claimed, err := repo.ClaimOutbox(ctx, 10, testNow)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestOutboxLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := enqueue(t, repo, "transaction.posted", testNow)
	second := enqueue(t, repo, "bill.paid", testNow.Add(time.Second))

	claimed, err := repo.ClaimOutbox(ctx, 10, testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first, claimed[0].ID)
	assert.Equal(t, "transaction.posted", claimed[0].Type)
	assert.JSONEq(t, `{"k":"v"}`, string(claimed[0].Payload))

	again, err := repo.ClaimOutbox(ctx, 10, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again, "processing rows must not be claimed twice")

	require.NoError(t, repo.MarkPublished(ctx, first, testNow.Add(time.Minute)))
	require.NoError(t, repo.MarkFailed(ctx, second, errors.New("broker down"), 2, testNow.Add(time.Minute)))

	status, attempts, err := repo.OutboxEventStatus(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutboxFailed, status)
	assert.Equal(t, 1, attempts)

	retry, err := repo.ClaimOutbox(ctx, 10, testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, second, retry[0].ID)
	require.NoError(t, repo.MarkFailed(ctx, second, errors.New("broker down"), 2, testNow.Add(2*time.Minute)))

	status, attempts, err = repo.OutboxEventStatus(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutboxInvalid, status)
	assert.Equal(t, 2, attempts)

	counts, err := repo.OutboxCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[OutboxPublished])
	assert.Equal(t, int64(1), counts[OutboxInvalid])

	assert.Error(t, repo.MarkPublished(ctx, first, testNow), "published rows cannot be marked again")
}

func TestOutboxResetStaleProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := enqueue(t, repo, "transaction.posted", testNow)

	_, err := repo.ClaimOutbox(ctx, 1, testNow)
	require.NoError(t, err)

	n, err := repo.ResetStaleProcessing(ctx, testNow.Add(-time.Minute), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "recently claimed rows stay processing")

	n, err = repo.ResetStaleProcessing(ctx, testNow.Add(time.Minute), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, _, err := repo.OutboxEventStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxPending, status)
}

func TestOutboxPurgePublished(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	published := enqueue(t, repo, "transaction.posted", testNow)
	pending := enqueue(t, repo, "transaction.posted", testNow.Add(time.Second))

	claimed, err := repo.ClaimOutbox(ctx, 1, testNow)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, published, claimed[0].ID)
	require.NoError(t, repo.MarkPublished(ctx, published, testNow))

	n, err := repo.PurgePublished(ctx, testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.PurgePublished(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, _, err := repo.OutboxEventStatus(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, OutboxPending, status, "only published rows are purged")
}

func TestOutboxReleaseClaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := enqueue(t, repo, "bill.paid", testNow)

	_, err := repo.ClaimOutbox(ctx, 1, testNow)
	require.NoError(t, err)
	require.NoError(t, repo.ReleaseClaim(ctx, id, testNow))

	status, attempts, err := repo.OutboxEventStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxPending, status)
	assert.Equal(t, 0, attempts)

	assert.Error(t, repo.ReleaseClaim(ctx, id, testNow), "pending rows cannot be released")
}
