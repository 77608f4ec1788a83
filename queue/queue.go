// Package queue provides the typed, named job queue over a pluggable broker
// and the process-wide registry used by bootstrap code and the monitor.
package queue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
)

// DefaultMaxAttempts is the total delivery cap per job before it is
// dead-lettered.
const DefaultMaxAttempts = 5

// Queue is a durable, named, FIFO-ish queue for one job kind, parameterized
// by the kind's payload type. Per-kind instances are built via configuration,
// not subclassing.
type Queue[T any] struct {
	name        string
	kind        job.Kind
	broker      Broker
	maxAttempts int
}

// Option configures a queue at construction time.
type Option func(*config)

type config struct {
	maxAttempts int
}

// WithMaxAttempts overrides the delivery cap for jobs enqueued on this queue.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New creates a queue for the given kind on the broker.
func New[T any](kind job.Kind, broker Broker, options ...Option) *Queue[T] {
	cfg := &config{maxAttempts: DefaultMaxAttempts}
	for _, opt := range options {
		opt(cfg)
	}

	return &Queue[T]{
		name:        kind.QueueName(),
		kind:        kind,
		broker:      broker,
		maxAttempts: cfg.maxAttempts,
	}
}

// Name returns the stable queue name.
func (q *Queue[T]) Name() string { return q.name }

// Kind returns the job kind bound to this queue.
func (q *Queue[T]) Kind() job.Kind { return q.kind }

// Broker returns the underlying broker handle. The monitor uses it for
// read-only inspection.
func (q *Queue[T]) Broker() Broker { return q.broker }

// EnqueueOption configures a single enqueue call.
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	delay     time.Duration
	dedupeKey string
}

// WithDelay delays delivery by d (used for scheduled cron firing).
func WithDelay(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		c.delay = d
	}
}

// WithDedupeKey collapses repeated identical triggers into one pending job.
// Two enqueues with the same key before the first is dequeued produce a
// single job; the first job's id is returned for both.
func WithDedupeKey(key string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.dedupeKey = key
	}
}

// Enqueue persists a payload and returns the job's id. Payloads that
// implement Validate() error are validated first. A backend write failure
// surfaces as a QueueUnavailableError; callers must retry, not drop the
// trigger.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T, options ...EnqueueOption) (string, error) {
	cfg := &enqueueConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	if v, ok := any(payload).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return "", err
		}
	}

	env, err := job.NewEnvelope(q.name, q.kind, payload)
	if err != nil {
		return "", err
	}
	env.MaxAttempts = q.maxAttempts
	env.DedupeKey = cfg.dedupeKey
	if cfg.delay > 0 {
		env.NotBefore = time.Now().UTC().Add(cfg.delay)
	}

	if err := q.broker.Enqueue(ctx, env); err != nil {
		var dup *DuplicateError
		if stderrors.As(err, &dup) {
			// An identical trigger is already pending; report its id.
			return dup.ExistingID, nil
		}
		return "", errors.NewQueueUnavailable("enqueue", q.name, err)
	}

	return env.ID, nil
}
