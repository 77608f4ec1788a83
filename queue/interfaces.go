package queue

import (
	"context"
	"time"

	"github.com/skirmish-gg/dispatch/job"
)

// Broker interface defines what the queue and worker layers need from a
// durable queue backend. Delivery is at-least-once; mutation is atomic per
// job so concurrent workers never double-deliver one pending entry.
type Broker interface {
	// Job lifecycle. Dequeue marks the envelope active and increments its
	// delivery count; Ack removes it; Retry schedules a new delivery after
	// the given delay; Bury moves it to the queue's dead letter.
	Enqueue(ctx context.Context, env *job.Envelope) error
	Dequeue(ctx context.Context, queue string) (*job.Envelope, error)
	Ack(ctx context.Context, env *job.Envelope) error
	Retry(ctx context.Context, env *job.Envelope, delay time.Duration) error
	Bury(ctx context.Context, env *job.Envelope, cause error) error

	// Queue introspection, consumed by the read-only monitor.
	Stats(ctx context.Context, queue string) (Stats, error)
	DeadLetters(ctx context.Context, queue string, limit int) ([]*job.Envelope, error)

	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Health() error
	Type() string
	Capabilities() Capabilities
}

// Capabilities describes optional broker features. Producers can check these
// before relying on delayed delivery or de-duplication.
type Capabilities struct {
	SupportsDelay      bool
	SupportsDedupe     bool
	SupportsDeadLetter bool
}

// Stats is a point-in-time snapshot of one queue's state.
type Stats struct {
	Name    string
	Waiting int64
	Active  int64
	Failed  int64
}
