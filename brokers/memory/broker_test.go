package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

func newConnected(t *testing.T) *Broker {
	t.Helper()
	broker := NewBroker(DefaultOptions())
	require.NoError(t, broker.Connect(context.Background()))
	return broker
}

func newEnvelope(t *testing.T, queueName string) *job.Envelope {
	t.Helper()
	env, err := job.NewEnvelope(queueName, job.KindHook, job.HookData{
		Base:      job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
		EventType: "chat-message",
	})
	require.NoError(t, err)
	env.MaxAttempts = 5
	return env
}

func TestBroker_EnqueueDequeueAck(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	env := newEnvelope(t, "hooks")
	require.NoError(t, broker.Enqueue(ctx, env))

	got, err := broker.Dequeue(ctx, "hooks")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, 1, got.Attempts)

	stats, err := broker.Stats(ctx, "hooks")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(1), stats.Active)

	require.NoError(t, broker.Ack(ctx, got))

	stats, err = broker.Stats(ctx, "hooks")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
}

func TestBroker_FIFOOrder(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	first := newEnvelope(t, "hooks")
	second := newEnvelope(t, "hooks")
	require.NoError(t, broker.Enqueue(ctx, first))
	require.NoError(t, broker.Enqueue(ctx, second))

	got, err := broker.Dequeue(ctx, "hooks")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestBroker_DequeueEmpty(t *testing.T) {
	broker := newConnected(t)

	got, err := broker.Dequeue(context.Background(), "hooks")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBroker_NotConnected(t *testing.T) {
	broker := NewBroker(DefaultOptions())

	err := broker.Enqueue(context.Background(), newEnvelope(t, "hooks"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.Error(t, broker.Health())
}

func TestBroker_DelayedDelivery(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	env := newEnvelope(t, "cronjobs")
	env.NotBefore = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, broker.Enqueue(ctx, env))

	got, err := broker.Dequeue(ctx, "cronjobs")
	require.NoError(t, err)
	assert.Nil(t, got)

	time.Sleep(60 * time.Millisecond)

	got, err = broker.Dequeue(ctx, "cronjobs")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, env.ID, got.ID)
}

func TestBroker_DedupeCollapsesUntilDequeue(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	first := newEnvelope(t, "hooks")
	first.DedupeKey = "gs1:log-line"
	require.NoError(t, broker.Enqueue(ctx, first))

	dup := newEnvelope(t, "hooks")
	dup.DedupeKey = "gs1:log-line"
	err := broker.Enqueue(ctx, dup)

	var dupErr *queue.DuplicateError
	require.True(t, stderrors.As(err, &dupErr))
	assert.Equal(t, first.ID, dupErr.ExistingID)

	// Dequeue releases the key.
	_, err = broker.Dequeue(ctx, "hooks")
	require.NoError(t, err)
	require.NoError(t, broker.Enqueue(ctx, dup))
}

func TestBroker_RetryReentersBehindNewerArrivals(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	first := newEnvelope(t, "hooks")
	require.NoError(t, broker.Enqueue(ctx, first))

	got, err := broker.Dequeue(ctx, "hooks")
	require.NoError(t, err)
	require.NoError(t, broker.Retry(ctx, got, 0))

	newer := newEnvelope(t, "hooks")
	require.NoError(t, broker.Enqueue(ctx, newer))

	redelivered, err := broker.Dequeue(ctx, "hooks")
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, first.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestBroker_BuryRecordsCause(t *testing.T) {
	broker := newConnected(t)
	ctx := context.Background()

	env := newEnvelope(t, "commands")
	require.NoError(t, broker.Enqueue(ctx, env))

	got, err := broker.Dequeue(ctx, "commands")
	require.NoError(t, err)
	require.NoError(t, broker.Bury(ctx, got, stderrors.New("function f1 resolution: not found")))

	dead, err := broker.DeadLetters(ctx, "commands", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, env.ID, dead[0].ID)
	assert.Contains(t, dead[0].LastError, "resolution")

	stats, err := broker.Stats(ctx, "commands")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestBroker_DeadLetterLimit(t *testing.T) {
	broker := NewBroker(Options{DeadLetterLimit: 2})
	require.NoError(t, broker.Connect(context.Background()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env := newEnvelope(t, "hooks")
		require.NoError(t, broker.Enqueue(ctx, env))
		got, err := broker.Dequeue(ctx, "hooks")
		require.NoError(t, err)
		require.NoError(t, broker.Bury(ctx, got, stderrors.New("boom")))
	}

	dead, err := broker.DeadLetters(ctx, "hooks", 10)
	require.NoError(t, err)
	assert.Len(t, dead, 2)
}

func TestBroker_QueueFull(t *testing.T) {
	broker := NewBroker(Options{MaxQueueSize: 1})
	require.NoError(t, broker.Connect(context.Background()))
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, newEnvelope(t, "hooks")))
	assert.ErrorIs(t, broker.Enqueue(ctx, newEnvelope(t, "hooks")), errors.ErrQueueFull)
}
