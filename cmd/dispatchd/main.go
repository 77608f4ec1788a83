// dispatchd runs the job dispatch pipeline: it consumes the hook, command,
// cronjob, and domain-reconcile queues and executes user functions through
// the sandboxed runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/skirmish-gg/dispatch/auth"
	"github.com/skirmish-gg/dispatch/brokers/rabbitmq"
	redisbroker "github.com/skirmish-gg/dispatch/brokers/redis"
	"github.com/skirmish-gg/dispatch/config"
	"github.com/skirmish-gg/dispatch/executor"
	internalredis "github.com/skirmish-gg/dispatch/internal/redis"
	"github.com/skirmish-gg/dispatch/jobctx"
	"github.com/skirmish-gg/dispatch/pipeline"
	"github.com/skirmish-gg/dispatch/queue"
	"github.com/skirmish-gg/dispatch/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("dispatchd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cfg.App.LogLevel)

	broker, limiter, err := buildBroker(cfg)
	if err != nil {
		return err
	}

	issuer := auth.NewAPIIssuer(auth.Options{
		BaseURL:        cfg.API.URL,
		ClientID:       cfg.API.ClientID,
		ClientSecret:   cfg.API.ClientSecret,
		RequestTimeout: cfg.API.RequestTimeout,
	})

	exec, err := executor.New(executor.Options{
		Issuer:  issuer,
		Runtime: executor.NewHTTPRuntime(cfg.Runtime.URL),
		APIURL:  cfg.API.URL,
		Timeout: cfg.Runtime.Timeout,
		Limiter: limiter,
	})
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Broker:     broker,
		Executor:   exec,
		Reconciler: noopReconciler{},
		Concurrency: pipeline.Concurrency{
			Hooks:     cfg.Queues.HookWorkers,
			Commands:  cfg.Queues.CommandWorkers,
			CronJobs:  cfg.Queues.CronWorkers,
			Reconcile: cfg.Queues.ReconcileWorkers,
		},
		ShutdownTimeout: cfg.App.ShutdownTimeout,
		WorkerOptions: []worker.Option{
			worker.WithPollInterval(cfg.Queues.PollInterval),
		},
	})
	if err != nil {
		return err
	}

	slog.Info("starting dispatchd", "broker", broker.Type(), "api", cfg.API.URL)
	return p.Run(context.Background())
}

// buildBroker selects the broker from the URI scheme. The Redis broker also
// backs the per-domain rate limiter; RabbitMQ deployments run unlimited.
func buildBroker(cfg *config.Config) (queue.Broker, executor.RateLimiter, error) {
	uri := cfg.Broker.URI
	switch {
	case strings.HasPrefix(uri, "redis://"),
		strings.HasPrefix(uri, "rediss://"),
		strings.HasPrefix(uri, "unix://"):
		opts := redisbroker.DefaultOptions()
		opts.URI = uri
		if cfg.Broker.Namespace != "" {
			opts.Namespace = cfg.Broker.Namespace
		}

		pool, err := internalredis.CreatePool(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create rate limiter pool: %w", err)
		}
		limiter := executor.NewRedisRateLimiter(pool, opts.Namespace,
			cfg.Limits.PerDomain, cfg.Limits.RateWindow)
		return redisbroker.NewBroker(opts), limiter, nil

	case strings.HasPrefix(uri, "amqp://"), strings.HasPrefix(uri, "amqps://"):
		opts := rabbitmq.DefaultOptions()
		opts.URI = uri
		if cfg.Broker.Namespace != "" {
			opts.Namespace = cfg.Broker.Namespace
		}
		return rabbitmq.NewBroker(opts), executor.NopRateLimiter{}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported broker URI scheme: %s", uri)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(jobctx.NewHandler(inner)))
}

// noopReconciler acknowledges reconcile jobs without acting on them.
// Deployments with a provisioning service supply their own Reconciler
// through the pipeline options; the daemon itself only logs the request.
type noopReconciler struct{}

func (noopReconciler) Reconcile(ctx context.Context, domainID string) error {
	slog.InfoContext(ctx, "reconcile requested", "domain", domainID)
	return nil
}
