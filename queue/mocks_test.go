package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skirmish-gg/dispatch/job"
)

// Mock implementations for testing

// MockBroker implements the Broker interface for testing
type MockBroker struct {
	mu           sync.RWMutex
	connected    bool
	enqueueError error
	closeError   error
	enqueued     []*job.Envelope
	acked        []*job.Envelope
	buried       []*job.Envelope
	retried      []*job.Envelope
	pendingKeys  map[string]string // dedupe key -> job id
	closeCount   int
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		pendingKeys: make(map[string]string),
	}
}

func (m *MockBroker) Enqueue(ctx context.Context, env *job.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueError != nil {
		return m.enqueueError
	}

	if env.DedupeKey != "" {
		key := env.Queue + ":" + env.DedupeKey
		if existing, ok := m.pendingKeys[key]; ok {
			return &DuplicateError{Queue: env.Queue, Key: env.DedupeKey, ExistingID: existing}
		}
		m.pendingKeys[key] = env.ID
	}

	m.enqueued = append(m.enqueued, env)
	return nil
}

func (m *MockBroker) Dequeue(ctx context.Context, queue string) (*job.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, env := range m.enqueued {
		if env.Queue == queue {
			m.enqueued = append(m.enqueued[:i], m.enqueued[i+1:]...)
			if env.DedupeKey != "" {
				delete(m.pendingKeys, env.Queue+":"+env.DedupeKey)
			}
			env.Attempts++
			return env, nil
		}
	}
	return nil, nil
}

func (m *MockBroker) Ack(ctx context.Context, env *job.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, env)
	return nil
}

func (m *MockBroker) Retry(ctx context.Context, env *job.Envelope, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried = append(m.retried, env)
	m.enqueued = append(m.enqueued, env)
	return nil
}

func (m *MockBroker) Bury(ctx context.Context, env *job.Envelope, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cause != nil {
		env.LastError = cause.Error()
	}
	m.buried = append(m.buried, env)
	return nil
}

func (m *MockBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Name: queue, Failed: int64(len(m.buried))}
	for _, env := range m.enqueued {
		if env.Queue == queue {
			stats.Waiting++
		}
	}
	return stats, nil
}

func (m *MockBroker) DeadLetters(ctx context.Context, queue string, limit int) ([]*job.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dead []*job.Envelope
	for _, env := range m.buried {
		if env.Queue == queue && len(dead) < limit {
			dead = append(dead, env)
		}
	}
	return dead, nil
}

func (m *MockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closeCount++
	return m.closeError
}

func (m *MockBroker) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return fmt.Errorf("not connected")
	}
	return nil
}

func (m *MockBroker) Type() string { return "mock" }

func (m *MockBroker) Capabilities() Capabilities {
	return Capabilities{SupportsDelay: true, SupportsDedupe: true, SupportsDeadLetter: true}
}

func (m *MockBroker) GetEnqueued() []*job.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*job.Envelope(nil), m.enqueued...)
}

func (m *MockBroker) SetEnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueError = err
}

func (m *MockBroker) CloseCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCount
}
