package queue

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
)

func TestQueue_Enqueue(t *testing.T) {
	broker := NewMockBroker()
	q := New[job.HookData](job.KindHook, broker)

	id, err := q.Enqueue(context.Background(), job.HookData{
		Base:      job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
		EventType: "chat-message",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	enqueued := broker.GetEnqueued()
	require.Len(t, enqueued, 1)
	assert.Equal(t, "hooks", enqueued[0].Queue)
	assert.Equal(t, job.KindHook, enqueued[0].Kind)
	assert.Equal(t, DefaultMaxAttempts, enqueued[0].MaxAttempts)
}

func TestQueue_Enqueue_InvalidPayload(t *testing.T) {
	broker := NewMockBroker()
	q := New[job.HookData](job.KindHook, broker)

	_, err := q.Enqueue(context.Background(), job.HookData{})
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)
	assert.Empty(t, broker.GetEnqueued())
}

func TestQueue_Enqueue_BrokerDown(t *testing.T) {
	broker := NewMockBroker()
	broker.SetEnqueueError(errors.ErrNotConnected)
	q := New[job.CronData](job.KindCronJob, broker)

	_, err := q.Enqueue(context.Background(), job.CronData{
		Base: job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
	})

	var unavailable *errors.QueueUnavailableError
	require.True(t, stderrors.As(err, &unavailable))
	assert.Equal(t, "cronjobs", unavailable.Queue)
}

func TestQueue_Enqueue_DedupeCollapses(t *testing.T) {
	broker := NewMockBroker()
	q := New[job.HookData](job.KindHook, broker)
	payload := job.HookData{
		Base:      job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
		EventType: "log-line",
	}

	first, err := q.Enqueue(context.Background(), payload, WithDedupeKey("gs1:log-line"))
	require.NoError(t, err)

	second, err := q.Enqueue(context.Background(), payload, WithDedupeKey("gs1:log-line"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, broker.GetEnqueued(), 1)

	// Once the pending job is dequeued the key is released.
	_, err = broker.Dequeue(context.Background(), "hooks")
	require.NoError(t, err)

	third, err := q.Enqueue(context.Background(), payload, WithDedupeKey("gs1:log-line"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestQueue_Enqueue_Delay(t *testing.T) {
	broker := NewMockBroker()
	q := New[job.CronData](job.KindCronJob, broker)

	before := time.Now()
	_, err := q.Enqueue(context.Background(), job.CronData{
		Base: job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
	}, WithDelay(time.Minute))
	require.NoError(t, err)

	env := broker.GetEnqueued()[0]
	assert.False(t, env.Ready(before))
	assert.True(t, env.Ready(before.Add(2*time.Minute)))
}

func TestQueue_MaxAttemptsOption(t *testing.T) {
	broker := NewMockBroker()
	q := New[job.CommandData](job.KindCommand, broker, WithMaxAttempts(3))

	_, err := q.Enqueue(context.Background(), job.CommandData{
		Base:   job.Base{DomainID: "d1", GameServerID: "gs1", FunctionID: "f1"},
		Player: job.Player{PlayerID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, broker.GetEnqueued()[0].MaxAttempts)
}
