// Package job defines the envelope persisted by queue brokers and the
// per-kind payload contracts carried inside it.
package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skirmish-gg/dispatch/errors"
)

// Kind identifies which queue/worker pair and payload shape applies to a job.
type Kind string

const (
	KindHook            Kind = "hook"
	KindCommand         Kind = "command"
	KindCronJob         Kind = "cronjob"
	KindDomainReconcile Kind = "domainReconcile"
)

// Stable queue names, shared by producers, workers and the monitor.
const (
	QueueHooks           = "hooks"
	QueueCommands        = "commands"
	QueueCronJobs        = "cronjobs"
	QueueDomainReconcile = "domain-reconcile"
)

// QueueName returns the stable queue name for the kind.
func (k Kind) QueueName() string {
	switch k {
	case KindHook:
		return QueueHooks
	case KindCommand:
		return QueueCommands
	case KindCronJob:
		return QueueCronJobs
	case KindDomainReconcile:
		return QueueDomainReconcile
	}
	return string(k)
}

// Envelope is the unit persisted by a broker. Attempts counts deliveries and
// is incremented by the broker at dequeue time, so a freshly enqueued job has
// Attempts == 0 and a job being processed for the first time has Attempts == 1.
type Envelope struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	DedupeKey   string          `json:"dedupeKey,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	NotBefore   time.Time       `json:"notBefore"`
	LastError   string          `json:"lastError,omitempty"`
}

// NewEnvelope wraps a payload for the given queue and kind, assigning a fresh id.
func NewEnvelope(queue string, kind Kind, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}

	return &Envelope{
		ID:         uuid.NewString(),
		Queue:      queue,
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Ready reports whether the envelope is due for delivery at the given time.
func (e *Envelope) Ready(now time.Time) bool {
	return e.NotBefore.IsZero() || !now.Before(e.NotBefore)
}

// Encode serializes an envelope for broker storage.
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// Decode deserializes an envelope from broker storage.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// DecodePayload unmarshals the envelope's payload into a typed value.
func DecodePayload[T any](e *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: job %s: %v", errors.ErrInvalidPayload, e.ID, err)
	}
	return payload, nil
}
