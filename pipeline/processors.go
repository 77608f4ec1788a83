package pipeline

import (
	"context"

	"github.com/skirmish-gg/dispatch/executor"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/jobctx"
	"github.com/skirmish-gg/dispatch/worker"
)

// functionProcessor runs a function-backed job through the executor. The
// ambient job data is stamped onto the context before anything else so every
// log line below this frame carries domain, game server, and job id.
func functionProcessor[T job.FunctionPayload](exec *executor.Executor) worker.Processor[T] {
	return func(ctx context.Context, j *worker.Job[T]) error {
		meta := j.Data.Meta()
		ctx = jobctx.With(ctx, jobctx.Data{
			DomainID:     meta.DomainID,
			GameServerID: meta.GameServerID,
			JobID:        j.ID,
		})
		return exec.Execute(ctx, meta.FunctionID, j.Data.FunctionInput(), meta.DomainID)
	}
}

// reconcileProcessor runs domain reconciliation. No credential is issued;
// the reconciler acts with the platform's own authority.
func reconcileProcessor(r Reconciler) worker.Processor[job.ReconcileData] {
	return func(ctx context.Context, j *worker.Job[job.ReconcileData]) error {
		ctx = jobctx.With(ctx, jobctx.Data{
			DomainID: j.Data.DomainID,
			JobID:    j.ID,
		})
		return r.Reconcile(ctx, j.Data.DomainID)
	}
}
