package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu   sync.Mutex
	sent []*amqp.EventMessage
	fail func(*amqp.EventMessage) error
}

func (p *fakePublisher) Publish(_ context.Context, msg *amqp.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(msg); err != nil {
			return err
		}
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePublisher) messages() []*amqp.EventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.EventMessage(nil), p.sent...)
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "outbox.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func enqueue(t *testing.T, repo *storage.SQLiteRepository, eventType string, aggregate int64, at time.Time) string {
	t.Helper()
	var id string
	require.NoError(t, repo.WithTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		id, err = tx.Enqueue(context.Background(), eventType, fmt.Sprint(aggregate),
			core.TransactionPosted{TransactionID: aggregate, Kind: core.Deposit, Amount: core.MustParseMoney("5.00")}, at)
		return err
	}))
	return id
}

func statusOf(t *testing.T, repo *storage.SQLiteRepository, id string) (storage.OutboxStatus, int) {
	t.Helper()
	status, attempts, err := repo.OutboxEventStatus(context.Background(), id)
	require.NoError(t, err)
	return status, attempts
}

func TestDispatcher_RunOncePublishesInOrder(t *testing.T) {
	repo := newRepo(t)
	first := enqueue(t, repo, core.EventTransactionPosted, 1, testNow)
	second := enqueue(t, repo, core.EventBillPaid, 2, testNow.Add(time.Second))

	pub := &fakePublisher{}
	d := NewDispatcher(repo, pub, core.FixedClock(testNow.Add(time.Minute)), quietLogger(), DispatcherConfig{})

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := pub.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, first, sent[0].EventID)
	assert.Equal(t, core.EventTransactionPosted, sent[0].Type)
	assert.Equal(t, "1", sent[0].AggregateID)
	assert.Equal(t, second, sent[1].EventID)

	var posted core.TransactionPosted
	require.NoError(t, sent[0].Decode(&posted))
	assert.Equal(t, int64(1), posted.TransactionID)

	status, _ := statusOf(t, repo, first)
	assert.Equal(t, storage.OutboxPublished, status)

	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published rows are not sent again")
}

func TestDispatcher_FailureCountsAttempts(t *testing.T) {
	repo := newRepo(t)
	id := enqueue(t, repo, core.EventTransactionPosted, 1, testNow)

	pub := &fakePublisher{fail: func(*amqp.EventMessage) error { return errors.New("publish message: nack") }}
	d := NewDispatcher(repo, pub, core.FixedClock(testNow), quietLogger(), DispatcherConfig{MaxAttempts: 2})

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	status, attempts := statusOf(t, repo, id)
	assert.Equal(t, storage.OutboxFailed, status)
	assert.Equal(t, 1, attempts)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	status, attempts = statusOf(t, repo, id)
	assert.Equal(t, storage.OutboxInvalid, status)
	assert.Equal(t, 2, attempts)

	pub.fail = nil
	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "invalid rows are never retried")
}

func TestDispatcher_OpenCircuitReleasesBatch(t *testing.T) {
	repo := newRepo(t)
	first := enqueue(t, repo, core.EventTransactionPosted, 1, testNow)
	second := enqueue(t, repo, core.EventTransactionPosted, 2, testNow.Add(time.Second))

	pub := &fakePublisher{fail: func(*amqp.EventMessage) error {
		return fmt.Errorf("publish event: %w", amqp.ErrCircuitOpen)
	}}
	d := NewDispatcher(repo, pub, core.FixedClock(testNow), quietLogger(), DispatcherConfig{})

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{first, second} {
		status, attempts := statusOf(t, repo, id)
		assert.Equal(t, storage.OutboxPending, status)
		assert.Zero(t, attempts, "an open breaker must not burn attempts")
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	repo := newRepo(t)
	stale := enqueue(t, repo, core.EventTransactionPosted, 1, testNow)
	_, err := repo.ClaimOutbox(context.Background(), 10, testNow)
	require.NoError(t, err)

	pub := &fakePublisher{}
	clock := core.FixedClock(testNow.Add(time.Hour))
	d := NewDispatcher(repo, pub, clock, quietLogger(), DispatcherConfig{PollInterval: 10 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	assert.True(t, d.IsRunning())
	assert.Error(t, d.Start(ctx), "second start must fail")

	fresh := enqueue(t, repo, core.EventBillCancelled, 2, testNow.Add(time.Hour))

	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, d.Stop(stopCtx))
	assert.False(t, d.IsRunning())
	require.NoError(t, d.Stop(stopCtx), "stop is idempotent")

	for _, id := range []string{stale, fresh} {
		status, _ := statusOf(t, repo, id)
		assert.Equal(t, storage.OutboxPublished, status)
	}
}

func TestDispatcherConfig_Defaults(t *testing.T) {
	cfg := DispatcherConfig{BatchSize: 7}.withDefaults()
	def := DefaultDispatcherConfig()
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, def.PollInterval, cfg.PollInterval)
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.Retention, cfg.Retention)
}
