// Package jobctx attaches per-job identity to a context.Context so that
// logging and tracing can see it without threading it through every call.
//
// The data is advisory metadata only; business logic must never branch on it.
// A fresh value is established for every dequeued job and discarded when the
// job finishes, so values from concurrently processed jobs never merge.
package jobctx

import (
	"context"
	"log/slog"
)

// Data identifies the job currently being processed.
type Data struct {
	DomainID     string
	GameServerID string
	JobID        string
}

type ctxKey struct{}

// With returns a child context carrying d.
func With(ctx context.Context, d Data) context.Context {
	return context.WithValue(ctx, ctxKey{}, d)
}

// From extracts the job data from ctx, if present.
func From(ctx context.Context) (Data, bool) {
	d, ok := ctx.Value(ctxKey{}).(Data)
	return d, ok
}

// Handler decorates a slog.Handler so that every record emitted while a job
// is being processed carries domain, gameServer, and job attributes.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps an existing handler.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if d, ok := From(ctx); ok {
		record.AddAttrs(
			slog.String("domain", d.DomainID),
			slog.String("gameServer", d.GameServerID),
			slog.String("job", d.JobID),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
