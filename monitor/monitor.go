// Package monitor provides a read-only view over registered queues: depths,
// in-flight counts, and dead-letter inspection. It never mutates queue
// state and is safe to expose to dashboards and operators.
package monitor

import (
	"context"
	stderrors "errors"

	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

// QueueInfo is a point-in-time snapshot of one queue.
type QueueInfo struct {
	Name  string
	Kind  job.Kind
	Stats queue.Stats
}

// Monitor observes queues through the registry.
type Monitor struct {
	registry *queue.Registry
}

// New creates a monitor over the given registry.
func New(registry *queue.Registry) *Monitor {
	return &Monitor{registry: registry}
}

// Queues snapshots every registered queue in registration order. A queue
// whose broker cannot report stats contributes an error but does not hide
// the others.
func (m *Monitor) Queues(ctx context.Context) ([]QueueInfo, error) {
	var errs []error
	registered := m.registry.List()
	infos := make([]QueueInfo, 0, len(registered))

	for _, q := range registered {
		info := QueueInfo{Name: q.Name(), Kind: q.Kind()}
		stats, err := q.Broker().Stats(ctx, q.Name())
		if err != nil {
			errs = append(errs, err)
		} else {
			info.Stats = stats
		}
		infos = append(infos, info)
	}
	return infos, stderrors.Join(errs...)
}

// DeadLetters returns up to limit dead-lettered jobs of the named queue,
// newest first.
func (m *Monitor) DeadLetters(ctx context.Context, queueName string, limit int) ([]*job.Envelope, error) {
	q, ok := m.registry.Get(queueName)
	if !ok {
		return nil, stderrors.New("monitor: unknown queue " + queueName)
	}
	return q.Broker().DeadLetters(ctx, queueName, limit)
}
