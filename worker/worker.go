// Package worker provides the concurrency-bounded consumer bound to exactly
// one queue and one processor. It pulls jobs, invokes the processor, and
// manages acknowledgment, retry with backoff, and dead-lettering.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skirmish-gg/dispatch/errors"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

// Processor handles one delivered job. Returning nil acknowledges the job;
// returning an error triggers retry or dead-lettering per the backoff policy.
type Processor[T any] func(ctx context.Context, j *Job[T]) error

// Job is one typed delivery handed to a processor.
type Job[T any] struct {
	ID          string
	Queue       string
	Kind        job.Kind
	Attempts    int
	MaxAttempts int
	Data        T
}

// Stats are the worker's own counters since Start.
type Stats struct {
	Processed int64
	Failed    int64
	Active    int64
}

// Worker consumes one queue with bounded concurrency: at most concurrency
// jobs are in flight simultaneously; additional ready jobs wait.
type Worker[T any] struct {
	queue       *queue.Queue[T]
	broker      queue.Broker
	concurrency int
	processor   Processor[T]
	config      *Config

	processed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a worker bound to q with the given concurrency and processor.
func New[T any](q *queue.Queue[T], concurrency int, processor Processor[T], options ...Option) (*Worker[T], error) {
	if processor == nil {
		return nil, errors.ErrNilProcessor
	}
	if concurrency < 1 {
		concurrency = 1
	}

	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	return &Worker[T]{
		queue:       q,
		broker:      q.Broker(),
		concurrency: concurrency,
		processor:   processor,
		config:      config,
	}, nil
}

// Queue returns the queue this worker consumes.
func (w *Worker[T]) Queue() *queue.Queue[T] { return w.queue }

// Start begins consuming jobs. It returns immediately; consumption stops
// when ctx is cancelled or Stop is called.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("worker for %s already started", w.queue.Name())
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	jobChan := make(chan *job.Envelope)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.fetch(runCtx, jobChan)
	}()

	// In-flight jobs are allowed to finish during shutdown; only fetching
	// stops on cancel.
	procCtx := context.WithoutCancel(runCtx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for env := range jobChan {
				w.process(procCtx, env)
			}
		}()
	}

	slog.Info("Worker started", "queue", w.queue.Name(), "concurrency", w.concurrency)
	return nil
}

// Stop drains in-flight jobs and waits up to the shutdown timeout.
func (w *Worker[T]) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker stopped", "queue", w.queue.Name())
		return nil
	case <-time.After(w.config.ShutdownTimeout):
		slog.Warn("Worker shutdown timeout exceeded", "queue", w.queue.Name())
		return errors.ErrShutdown
	}
}

// Stats returns the worker's counters.
func (w *Worker[T]) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Active:    w.active.Load(),
	}
}

// fetch pulls envelopes from the broker and feeds the consumers.
func (w *Worker[T]) fetch(ctx context.Context, jobChan chan<- *job.Envelope) {
	defer close(jobChan)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := w.broker.Dequeue(ctx, w.queue.Name())
		if err != nil {
			slog.Error("Dequeue failed", "queue", w.queue.Name(), "error", err)
			if !w.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		if env == nil {
			if !w.sleep(ctx, w.config.PollInterval) {
				return
			}
			continue
		}

		select {
		case jobChan <- env:
		case <-ctx.Done():
			// Hand the job back so another worker can pick it up.
			if err := w.broker.Retry(context.WithoutCancel(ctx), env, 0); err != nil {
				slog.Error("Failed to requeue job on shutdown", "queue", w.queue.Name(), "job", env.ID, "error", err)
			}
			return
		}
	}
}

func (w *Worker[T]) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// process handles a single delivery: invoke, then ack, retry, or bury.
func (w *Worker[T]) process(ctx context.Context, env *job.Envelope) {
	w.active.Add(1)
	defer w.active.Add(-1)

	payload, err := job.DecodePayload[T](env)
	if err != nil {
		// A payload that cannot decode will never decode; bury it.
		w.failed.Add(1)
		slog.Error("Job payload undecodable", "queue", env.Queue, "job", env.ID, "error", err)
		if buryErr := w.broker.Bury(ctx, env, err); buryErr != nil {
			slog.Error("Failed to bury job", "queue", env.Queue, "job", env.ID, "error", buryErr)
		}
		return
	}

	j := &Job[T]{
		ID:          env.ID,
		Queue:       env.Queue,
		Kind:        env.Kind,
		Attempts:    env.Attempts,
		MaxAttempts: env.MaxAttempts,
		Data:        payload,
	}

	start := time.Now()
	err = w.invoke(ctx, j)
	duration := time.Since(start)

	if err == nil {
		w.processed.Add(1)
		if ackErr := w.broker.Ack(ctx, env); ackErr != nil {
			slog.Error("Failed to ack job", "queue", env.Queue, "job", env.ID, "error", ackErr)
		}
		slog.Debug("Job completed", "queue", env.Queue, "job", env.ID, "duration", duration)
		return
	}

	w.failed.Add(1)
	env.LastError = err.Error()

	if errors.IsPermanent(err) || env.Attempts >= env.MaxAttempts {
		slog.Error("Job dead-lettered", "queue", env.Queue, "job", env.ID,
			"attempts", env.Attempts, "error", err)
		if buryErr := w.broker.Bury(ctx, env, err); buryErr != nil {
			slog.Error("Failed to bury job", "queue", env.Queue, "job", env.ID, "error", buryErr)
		}
		return
	}

	delay := w.config.Backoff.Delay(env.Attempts)
	slog.Warn("Job failed, scheduling retry", "queue", env.Queue, "job", env.ID,
		"attempt", env.Attempts, "maxAttempts", env.MaxAttempts, "delay", delay, "error", err)
	if retryErr := w.broker.Retry(ctx, env, delay); retryErr != nil {
		slog.Error("Failed to schedule retry", "queue", env.Queue, "job", env.ID, "error", retryErr)
	}
}

// invoke runs the processor with panic recovery so a broken job can never
// crash the worker process.
func (w *Worker[T]) invoke(ctx context.Context, j *Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing job %s: %v", j.ID, r)
		}
	}()

	return w.processor(ctx, j)
}
