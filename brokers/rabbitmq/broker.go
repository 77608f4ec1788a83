// Package rabbitmq provides an AMQP-backed broker. Each dispatch queue maps
// to three durable AMQP queues: the main queue, a retry queue whose messages
// dead-letter back to the main queue after their per-message TTL (this is how
// delay and backoff are realized), and a dead-letter queue for jobs that
// exhausted their attempts.
//
// RabbitMQ has no pending-key primitive, so this broker does not support
// enqueue de-duplication; Capabilities reports that.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

// Broker implements queue.Broker on RabbitMQ.
type Broker struct {
	mu             sync.Mutex
	connection     *amqp.Connection
	channel        *amqp.Channel
	options        Options
	declaredQueues map[string]bool
	inflight       map[string]amqp.Delivery // job id -> unacked delivery
	notifyClose    chan *amqp.Error
	isConnected    bool
}

// NewBroker creates a new RabbitMQ broker
func NewBroker(options Options) *Broker {
	return &Broker{
		options:        options,
		declaredQueues: make(map[string]bool),
		inflight:       make(map[string]amqp.Delivery),
	}
}

// Connect establishes connection to RabbitMQ
func (r *Broker) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connect()
}

// connect expects the caller to hold the lock.
func (r *Broker) connect() error {
	conn, err := amqp.Dial(r.options.URI)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if r.options.PrefetchCount > 0 {
		if err := ch.Qos(r.options.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	r.connection = conn
	r.channel = ch
	r.declaredQueues = make(map[string]bool)

	r.notifyClose = make(chan *amqp.Error)
	r.connection.NotifyClose(r.notifyClose)
	r.isConnected = true

	if r.options.ReconnectEnabled {
		go r.handleReconnection(r.notifyClose)
	}

	return nil
}

func (r *Broker) handleReconnection(notify chan *amqp.Error) {
	err, ok := <-notify
	if !ok || err == nil {
		return // graceful shutdown
	}
	slog.Warn("RabbitMQ connection closed, reconnecting...", "error", err)

	for {
		time.Sleep(r.options.ReconnectDelay)

		r.mu.Lock()
		if !r.isConnected {
			r.mu.Unlock()
			return // Close() was called
		}
		r.isConnected = false
		if reconnectErr := r.connect(); reconnectErr == nil {
			r.mu.Unlock()
			slog.Info("RabbitMQ reconnected")
			return
		}
		r.mu.Unlock()
	}
}

// Close closes the channel and connection.
func (r *Broker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isConnected = false
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}

// Health checks the connection health.
func (r *Broker) Health() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isConnected || r.connection == nil || r.connection.IsClosed() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the broker type
func (r *Broker) Type() string {
	return "rabbitmq"
}

// Capabilities returns RabbitMQ broker capabilities
func (r *Broker) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		SupportsDelay:      true,
		SupportsDedupe:     false,
		SupportsDeadLetter: true,
	}
}

func (r *Broker) mainQueue(queue string) string  { return r.options.Namespace + queue }
func (r *Broker) retryQueue(queue string) string { return r.options.Namespace + queue + ".retry" }
func (r *Broker) deadQueue(queue string) string  { return r.options.Namespace + queue + ".dead" }

// declareQueues declares the main/retry/dead triple for a queue once per
// connection. Expects the caller to hold the lock.
func (r *Broker) declareQueues(queueName string) error {
	if r.declaredQueues[queueName] {
		return nil
	}

	if _, err := r.channel.QueueDeclare(r.mainQueue(queueName), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": r.mainQueue(queueName),
	}
	if _, err := r.channel.QueueDeclare(r.retryQueue(queueName), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare retry queue %s: %w", queueName, err)
	}

	deadArgs := amqp.Table{}
	if r.options.DeadLetterLimit > 0 {
		deadArgs["x-max-length"] = int32(r.options.DeadLetterLimit)
	}
	if _, err := r.channel.QueueDeclare(r.deadQueue(queueName), true, false, false, false, deadArgs); err != nil {
		return fmt.Errorf("declare dead queue %s: %w", queueName, err)
	}

	r.declaredQueues[queueName] = true
	return nil
}

func (r *Broker) publish(ctx context.Context, routingKey string, env *job.Envelope, expiration time.Duration) error {
	data, err := job.Encode(env)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Body:         data,
	}
	if expiration > 0 {
		pub.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}

	return r.channel.PublishWithContext(ctx, "", routingKey, false, false, pub)
}

// Enqueue publishes an envelope; a future NotBefore routes it through the
// retry queue with a matching TTL.
func (r *Broker) Enqueue(ctx context.Context, env *job.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isConnected {
		return errors.ErrNotConnected
	}
	if err := r.declareQueues(env.Queue); err != nil {
		return err
	}

	if delay := time.Until(env.NotBefore); !env.NotBefore.IsZero() && delay > 0 {
		return r.publish(ctx, r.retryQueue(env.Queue), env, delay)
	}
	return r.publish(ctx, r.mainQueue(env.Queue), env, 0)
}

// Dequeue pulls one message off the main queue without auto-ack; the
// delivery stays pending until Ack, Retry, or Bury settles it.
func (r *Broker) Dequeue(ctx context.Context, queueName string) (*job.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isConnected {
		return nil, errors.ErrNotConnected
	}
	if err := r.declareQueues(queueName); err != nil {
		return nil, err
	}

	delivery, ok, err := r.channel.Get(r.mainQueue(queueName), false)
	if err != nil {
		return nil, fmt.Errorf("dequeue on %s: %w", queueName, err)
	}
	if !ok {
		return nil, nil
	}

	env, err := job.Decode(delivery.Body)
	if err != nil {
		// Undecodable message; reject without requeue.
		delivery.Nack(false, false)
		return nil, err
	}

	env.Attempts++
	r.inflight[env.ID] = delivery
	return env, nil
}

func (r *Broker) settle(env *job.Envelope) (amqp.Delivery, error) {
	delivery, ok := r.inflight[env.ID]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("%w: job %s has no pending delivery", errors.ErrJobNotFound, env.ID)
	}
	delete(r.inflight, env.ID)
	return delivery, nil
}

// Ack acknowledges a delivered envelope.
func (r *Broker) Ack(ctx context.Context, env *job.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, err := r.settle(env)
	if err != nil {
		return err
	}
	return delivery.Ack(false)
}

// Retry republishes the envelope through the retry queue with a TTL equal to
// the backoff delay, then acknowledges the original delivery.
func (r *Broker) Retry(ctx context.Context, env *job.Envelope, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, err := r.settle(env)
	if err != nil {
		return err
	}

	env.NotBefore = time.Now().Add(delay)
	target := r.retryQueue(env.Queue)
	if delay <= 0 {
		target = r.mainQueue(env.Queue)
	}
	if err := r.publish(ctx, target, env, delay); err != nil {
		// Leave the original delivery unacked so the message is not lost.
		r.inflight[env.ID] = delivery
		return fmt.Errorf("retry %s on %s: %w", env.ID, env.Queue, err)
	}
	return delivery.Ack(false)
}

// Bury publishes the envelope to the dead-letter queue and acknowledges the
// original delivery.
func (r *Broker) Bury(ctx context.Context, env *job.Envelope, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, err := r.settle(env)
	if err != nil {
		return err
	}

	if cause != nil {
		env.LastError = cause.Error()
	}
	if err := r.publish(ctx, r.deadQueue(env.Queue), env, 0); err != nil {
		r.inflight[env.ID] = delivery
		return fmt.Errorf("bury %s on %s: %w", env.ID, env.Queue, err)
	}
	return delivery.Ack(false)
}

// Stats returns a snapshot of one queue's state. Waiting includes jobs
// sitting in the retry/delay queue.
func (r *Broker) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isConnected {
		return queue.Stats{}, errors.ErrNotConnected
	}
	if err := r.declareQueues(queueName); err != nil {
		return queue.Stats{}, err
	}

	main, err := r.channel.QueueDeclarePassive(r.mainQueue(queueName), true, false, false, false, nil)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}
	retry, err := r.channel.QueueDeclarePassive(r.retryQueue(queueName), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": r.mainQueue(queueName),
	})
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}

	var active int64
	for _, d := range r.inflight {
		if d.RoutingKey == r.mainQueue(queueName) {
			active++
		}
	}

	deadArgs := amqp.Table{}
	if r.options.DeadLetterLimit > 0 {
		deadArgs["x-max-length"] = int32(r.options.DeadLetterLimit)
	}
	dead, err := r.channel.QueueDeclarePassive(r.deadQueue(queueName), true, false, false, false, deadArgs)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}

	return queue.Stats{
		Name:    queueName,
		Waiting: int64(main.Messages) + int64(retry.Messages),
		Active:  active,
		Failed:  int64(dead.Messages),
	}, nil
}

// DeadLetters reads up to limit envelopes from the dead-letter queue and
// requeues them, preserving them for later inspection.
func (r *Broker) DeadLetters(ctx context.Context, queueName string, limit int) ([]*job.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isConnected {
		return nil, errors.ErrNotConnected
	}
	if err := r.declareQueues(queueName); err != nil {
		return nil, err
	}

	var envs []*job.Envelope
	var deliveries []amqp.Delivery
	for len(envs) < limit {
		delivery, ok, err := r.channel.Get(r.deadQueue(queueName), false)
		if err != nil {
			break
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, delivery)
		env, err := job.Decode(delivery.Body)
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}

	// Put everything back.
	for _, d := range deliveries {
		d.Nack(false, true)
	}

	return envs, nil
}
