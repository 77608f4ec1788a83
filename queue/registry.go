package queue

import (
	stderrors "errors"
	"sync"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
)

// Registered is the type-erased view of a Queue[T] held by the registry.
type Registered interface {
	Name() string
	Kind() job.Kind
	Broker() Broker
}

// Registry is an explicit, thread-safe registry of queues. It is constructed
// once at process startup and passed by reference to anything that needs
// enumeration (the monitor, bootstrap code). Its lifetime is the process
// lifetime; Close releases every distinct broker exactly once.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]Registered
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]Registered),
	}
}

// Register adds a queue.
func (r *Registry) Register(q Registered) error {
	if q == nil || q.Name() == "" {
		return errors.ErrEmptyQueueName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queues[q.Name()]; exists {
		return stderrors.New("queue already registered: " + q.Name())
	}

	r.queues[q.Name()] = q
	r.order = append(r.order, q.Name())
	return nil
}

// Get retrieves a queue by name.
func (r *Registry) Get(name string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	return q, ok
}

// List returns all registered queues in registration order.
func (r *Registry) List() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := make([]Registered, 0, len(r.order))
	for _, name := range r.order {
		queues = append(queues, r.queues[name])
	}
	return queues
}

// Close closes every distinct broker behind the registered queues. Queues
// may share a broker; each broker is closed once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Broker]bool)
	var errs []error
	for _, name := range r.order {
		broker := r.queues[name].Broker()
		if broker == nil || seen[broker] {
			continue
		}
		seen[broker] = true
		if err := broker.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.queues = make(map[string]Registered)
	r.order = nil
	return stderrors.Join(errs...)
}
