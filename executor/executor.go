// Package executor turns a resolved job into a sandboxed function run. For
// every invocation it issues a fresh domain-scoped credential, fetches the
// current function body through a client built from that credential, and
// hands both to a Runtime under a wall-clock budget. The credential lives
// exactly as long as the invocation and is never reused between jobs.
package executor

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/skirmish-gg/dispatch/auth"
	"github.com/skirmish-gg/dispatch/client"
	"github.com/skirmish-gg/dispatch/errors"
)

// DefaultTimeout bounds a single function run.
const DefaultTimeout = 30 * time.Second

// FunctionSource resolves a function body by id. *client.Client satisfies
// it; tests substitute fakes.
type FunctionSource interface {
	GetFunction(ctx context.Context, functionID string) (*client.Function, error)
}

// Options configures an Executor. Issuer and Runtime are required.
type Options struct {
	// Issuer mints the per-job domain-scoped credential.
	Issuer auth.Issuer
	// Runtime runs the function body inside the sandbox.
	Runtime Runtime
	// APIURL is the platform API base handed to per-job clients.
	APIURL string
	// Timeout bounds one function run. Zero means DefaultTimeout.
	Timeout time.Duration
	// Limiter caps invocations per domain. Nil means unlimited.
	Limiter RateLimiter
	// Logger receives execution telemetry. Nil means slog.Default.
	Logger *slog.Logger
	// ClientFactory builds the function source for a freshly issued token.
	// Nil means a real API client against APIURL.
	ClientFactory func(token *auth.Token) FunctionSource
}

// Executor runs user functions with per-job credentials.
type Executor struct {
	issuer    auth.Issuer
	runtime   Runtime
	apiURL    string
	timeout   time.Duration
	limiter   RateLimiter
	logger    *slog.Logger
	newSource func(token *auth.Token) FunctionSource
}

// New creates an Executor from options.
func New(options Options) (*Executor, error) {
	if options.Issuer == nil {
		return nil, stderrors.New("executor: issuer is required")
	}
	if options.Runtime == nil {
		return nil, stderrors.New("executor: runtime is required")
	}

	e := &Executor{
		issuer:    options.Issuer,
		runtime:   options.Runtime,
		apiURL:    options.APIURL,
		timeout:   options.Timeout,
		limiter:   options.Limiter,
		logger:    options.Logger,
		newSource: options.ClientFactory,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.limiter == nil {
		e.limiter = NopRateLimiter{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.newSource == nil {
		e.newSource = func(token *auth.Token) FunctionSource {
			return client.New(e.apiURL, token.Value)
		}
	}
	return e, nil
}

// Execute resolves and runs functionID for domainID with data as input.
//
// Error classification drives the caller's retry decision: a missing or
// disabled domain surfaces as TenantUnavailableError, an unknown function as
// a permanent FunctionResolutionError, an expired budget as
// FunctionTimeoutError, and anything the function itself raised as
// FunctionRuntimeError.
func (e *Executor) Execute(ctx context.Context, functionID string, data map[string]any, domainID string) error {
	allowed, err := e.limiter.Allow(ctx, domainID)
	if err != nil {
		return err
	}
	if !allowed {
		e.logger.WarnContext(ctx, "function invocation rate limited", "domain", domainID)
		return errors.ErrRateLimited
	}

	token, err := e.issuer.Issue(ctx, domainID)
	if err != nil {
		return err
	}

	fn, err := e.newSource(token).GetFunction(ctx, functionID)
	if err != nil {
		return err
	}

	inv := Invocation{
		FunctionID: functionID,
		Code:       fn.Code,
		Data:       data,
		Token:      token.Value,
		APIURL:     e.apiURL,
		DomainID:   domainID,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err = e.runtime.Run(runCtx, inv)
	elapsed := time.Since(start)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			e.logger.WarnContext(ctx, "function timed out",
				"function", functionID, "elapsed", elapsed)
			return errors.NewFunctionTimeout(functionID, e.timeout)
		}
		e.logger.WarnContext(ctx, "function failed",
			"function", functionID, "elapsed", elapsed, "error", err)
		return errors.NewFunctionRuntime(functionID, err)
	}

	e.logger.DebugContext(ctx, "function completed",
		"function", functionID, "elapsed", elapsed)
	return nil
}
