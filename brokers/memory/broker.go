// Package memory provides an in-process broker for tests and local
// development. It implements the full lifecycle (delay, dedupe, retry,
// dead letter) without any external dependency.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

// Options for the memory broker
type Options struct {
	// MaxQueueSize caps the number of waiting jobs per queue; 0 means unbounded.
	MaxQueueSize int

	// DeadLetterLimit caps retained dead letters per queue.
	DeadLetterLimit int
}

// DefaultOptions returns default memory broker options
func DefaultOptions() Options {
	return Options{
		MaxQueueSize:    0,
		DeadLetterLimit: 1000,
	}
}

// Broker implements queue.Broker using in-memory storage.
type Broker struct {
	mu        sync.Mutex
	options   Options
	connected bool

	waiting map[string][]*job.Envelope
	active  map[string]map[string]*job.Envelope // queue -> job id -> envelope
	dead    map[string][]*job.Envelope
	pending map[string]string // queue+dedupe key -> job id
}

// NewBroker creates a new in-memory broker
func NewBroker(options Options) *Broker {
	return &Broker{
		options: options,
		waiting: make(map[string][]*job.Envelope),
		active:  make(map[string]map[string]*job.Envelope),
		dead:    make(map[string][]*job.Envelope),
		pending: make(map[string]string),
	}
}

// Connect establishes connection (no-op for memory broker)
func (m *Broker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = true
	return nil
}

// Close drops all queued state.
func (m *Broker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.waiting = make(map[string][]*job.Envelope)
	m.active = make(map[string]map[string]*job.Envelope)
	m.dead = make(map[string][]*job.Envelope)
	m.pending = make(map[string]string)
	m.connected = false
	return nil
}

// Health checks the broker health
func (m *Broker) Health() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the broker type
func (m *Broker) Type() string {
	return "memory"
}

// Capabilities returns broker capabilities
func (m *Broker) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		SupportsDelay:      true,
		SupportsDedupe:     true,
		SupportsDeadLetter: true,
	}
}

func dedupeKey(queueName, key string) string {
	return queueName + ":" + key
}

// Enqueue adds an envelope to the queue.
func (m *Broker) Enqueue(ctx context.Context, env *job.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}

	if env.DedupeKey != "" {
		key := dedupeKey(env.Queue, env.DedupeKey)
		if existing, ok := m.pending[key]; ok {
			return &queue.DuplicateError{Queue: env.Queue, Key: env.DedupeKey, ExistingID: existing}
		}
		m.pending[key] = env.ID
	}

	if m.options.MaxQueueSize > 0 && len(m.waiting[env.Queue]) >= m.options.MaxQueueSize {
		return errors.ErrQueueFull
	}

	m.waiting[env.Queue] = append(m.waiting[env.Queue], env)
	return nil
}

// Dequeue returns the oldest due envelope, marking it active and incrementing
// its delivery count. Returns nil when no job is due.
func (m *Broker) Dequeue(ctx context.Context, queueName string) (*job.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, errors.ErrNotConnected
	}

	now := time.Now()
	list := m.waiting[queueName]
	for i, env := range list {
		if !env.Ready(now) {
			continue
		}

		m.waiting[queueName] = append(list[:i:i], list[i+1:]...)
		if env.DedupeKey != "" {
			delete(m.pending, dedupeKey(queueName, env.DedupeKey))
		}

		env.Attempts++
		if m.active[queueName] == nil {
			m.active[queueName] = make(map[string]*job.Envelope)
		}
		m.active[queueName][env.ID] = env
		return env, nil
	}

	return nil, nil
}

// Ack removes a delivered envelope.
func (m *Broker) Ack(ctx context.Context, env *job.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active[env.Queue], env.ID)
	return nil
}

// Retry schedules a new delivery of an active envelope after the given delay.
// A retried job re-enters behind newer arrivals.
func (m *Broker) Retry(ctx context.Context, env *job.Envelope, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}

	delete(m.active[env.Queue], env.ID)
	env.NotBefore = time.Now().Add(delay)
	m.waiting[env.Queue] = append(m.waiting[env.Queue], env)
	return nil
}

// Bury moves an envelope to the queue's dead letter, recording the cause.
func (m *Broker) Bury(ctx context.Context, env *job.Envelope, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active[env.Queue], env.ID)
	if cause != nil {
		env.LastError = cause.Error()
	}

	dead := append(m.dead[env.Queue], env)
	if limit := m.options.DeadLetterLimit; limit > 0 && len(dead) > limit {
		dead = dead[len(dead)-limit:]
	}
	m.dead[env.Queue] = dead
	return nil
}

// Stats returns a snapshot of one queue's state.
func (m *Broker) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return queue.Stats{
		Name:    queueName,
		Waiting: int64(len(m.waiting[queueName])),
		Active:  int64(len(m.active[queueName])),
		Failed:  int64(len(m.dead[queueName])),
	}, nil
}

// DeadLetters returns up to limit dead-lettered envelopes, newest first.
func (m *Broker) DeadLetters(ctx context.Context, queueName string, limit int) ([]*job.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dead := m.dead[queueName]
	out := make([]*job.Envelope, 0, limit)
	for i := len(dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, dead[i])
	}
	return out, nil
}
