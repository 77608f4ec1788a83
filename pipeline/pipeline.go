// Package pipeline assembles the dispatch system: one typed queue per job
// kind, a worker per queue, and the executor that runs user functions. It
// owns startup ordering and graceful shutdown.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skirmish-gg/dispatch/executor"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
	"github.com/skirmish-gg/dispatch/worker"
)

// Reconciler applies a domain's desired state. The reconcile queue is the
// only one whose jobs run inside the platform's own trust boundary rather
// than the sandbox.
type Reconciler interface {
	Reconcile(ctx context.Context, domainID string) error
}

// Concurrency sets per-queue worker parallelism. Zero fields fall back to
// the defaults.
type Concurrency struct {
	Hooks     int
	Commands  int
	CronJobs  int
	Reconcile int
}

func (c Concurrency) withDefaults() Concurrency {
	def := func(n, fallback int) int {
		if n <= 0 {
			return fallback
		}
		return n
	}
	return Concurrency{
		Hooks:     def(c.Hooks, 10),
		Commands:  def(c.Commands, 10),
		CronJobs:  def(c.CronJobs, 5),
		Reconcile: def(c.Reconcile, 1),
	}
}

// Options configures a Pipeline. Broker, Executor, and Reconciler are
// required.
type Options struct {
	Broker      queue.Broker
	Executor    *executor.Executor
	Reconciler  Reconciler
	Concurrency Concurrency
	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration
	// Logger receives pipeline telemetry. Nil means slog.Default.
	Logger *slog.Logger
	// WorkerOptions apply to every worker (poll interval, backoff).
	WorkerOptions []worker.Option
}

// runner is the common surface of the typed workers.
type runner interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() worker.Stats
}

// Pipeline wires queues, workers, and the executor together.
type Pipeline struct {
	broker   queue.Broker
	registry *queue.Registry
	logger   *slog.Logger

	hooks     *queue.Queue[job.HookData]
	commands  *queue.Queue[job.CommandData]
	cronJobs  *queue.Queue[job.CronData]
	reconcile *queue.Queue[job.ReconcileData]

	workers []runner
}

// New builds a pipeline over the given broker. Queues are registered
// immediately; nothing consumes until Start.
func New(options Options) (*Pipeline, error) {
	if options.Broker == nil {
		return nil, stderrors.New("pipeline: broker is required")
	}
	if options.Executor == nil {
		return nil, stderrors.New("pipeline: executor is required")
	}
	if options.Reconciler == nil {
		return nil, stderrors.New("pipeline: reconciler is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conc := options.Concurrency.withDefaults()

	workerOpts := options.WorkerOptions
	if options.ShutdownTimeout > 0 {
		workerOpts = append(workerOpts, worker.WithShutdownTimeout(options.ShutdownTimeout))
	}

	p := &Pipeline{
		broker:    options.Broker,
		registry:  queue.NewRegistry(),
		logger:    logger,
		hooks:     queue.New[job.HookData](job.KindHook, options.Broker),
		commands:  queue.New[job.CommandData](job.KindCommand, options.Broker),
		cronJobs:  queue.New[job.CronData](job.KindCronJob, options.Broker),
		reconcile: queue.New[job.ReconcileData](job.KindDomainReconcile, options.Broker),
	}

	for _, q := range []queue.Registered{p.hooks, p.commands, p.cronJobs, p.reconcile} {
		if err := p.registry.Register(q); err != nil {
			return nil, err
		}
	}

	hookWorker, err := worker.New(p.hooks, conc.Hooks,
		functionProcessor[job.HookData](options.Executor), workerOpts...)
	if err != nil {
		return nil, err
	}
	commandWorker, err := worker.New(p.commands, conc.Commands,
		functionProcessor[job.CommandData](options.Executor), workerOpts...)
	if err != nil {
		return nil, err
	}
	cronWorker, err := worker.New(p.cronJobs, conc.CronJobs,
		functionProcessor[job.CronData](options.Executor), workerOpts...)
	if err != nil {
		return nil, err
	}
	reconcileWorker, err := worker.New(p.reconcile, conc.Reconcile,
		reconcileProcessor(options.Reconciler), workerOpts...)
	if err != nil {
		return nil, err
	}

	p.workers = []runner{hookWorker, commandWorker, cronWorker, reconcileWorker}
	return p, nil
}

// Hooks is the queue for game event hook jobs.
func (p *Pipeline) Hooks() *queue.Queue[job.HookData] { return p.hooks }

// Commands is the queue for chat command jobs.
func (p *Pipeline) Commands() *queue.Queue[job.CommandData] { return p.commands }

// CronJobs is the queue for scheduled function jobs.
func (p *Pipeline) CronJobs() *queue.Queue[job.CronData] { return p.cronJobs }

// Reconcile is the queue for domain reconciliation jobs.
func (p *Pipeline) Reconcile() *queue.Queue[job.ReconcileData] { return p.reconcile }

// Registry exposes the registered queues for monitoring.
func (p *Pipeline) Registry() *queue.Registry { return p.registry }

// Start connects the broker and launches every worker.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	for _, w := range p.workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	p.logger.Info("pipeline started", "broker", p.broker.Type())
	return nil
}

// Stop drains the workers and closes the broker. Workers are stopped before
// the broker so in-flight jobs can still ack.
func (p *Pipeline) Stop() error {
	var errs []error
	for _, w := range p.workers {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.registry.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := stderrors.Join(errs...); err != nil {
		p.logger.Warn("pipeline stopped with errors", "error", err)
		return err
	}
	p.logger.Info("pipeline stopped")
	return nil
}

// Health reports broker reachability and aggregate worker activity.
type Health struct {
	Healthy      bool
	BrokerHealth error
	ActiveJobs   int64
	Processed    int64
	Failed       int64
	LastCheck    time.Time
}

// Health returns a point-in-time health snapshot.
func (p *Pipeline) Health() Health {
	h := Health{
		BrokerHealth: p.broker.Health(),
		LastCheck:    time.Now(),
	}
	h.Healthy = h.BrokerHealth == nil
	for _, w := range p.workers {
		s := w.Stats()
		h.ActiveJobs += s.Active
		h.Processed += s.Processed
		h.Failed += s.Failed
	}
	return h
}

// Run starts the pipeline and blocks until the context is cancelled or a
// shutdown signal arrives, then stops it.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		p.logger.Info("context cancelled, shutting down")
	case sig := <-sigChan:
		p.logger.Info("received signal, shutting down", "signal", sig.String())
	}

	return p.Stop()
}
