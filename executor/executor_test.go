package executor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skirmish-gg/dispatch/auth"
	"github.com/skirmish-gg/dispatch/client"
	"github.com/skirmish-gg/dispatch/errors"
)

// mockIssuer hands out distinct tokens and records every issued domain.
type mockIssuer struct {
	mu      sync.Mutex
	issued  []string
	failFor map[string]error
	seq     int
}

func (m *mockIssuer) Issue(ctx context.Context, domainID string) (*auth.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[domainID]; ok {
		return nil, err
	}
	m.seq++
	m.issued = append(m.issued, domainID)
	return &auth.Token{
		Value:     "token-" + domainID + "-" + string(rune('0'+m.seq)),
		DomainID:  domainID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

// mockSource serves function bodies keyed by id.
type mockSource struct {
	functions map[string]*client.Function
	token     string
}

func (m *mockSource) GetFunction(ctx context.Context, functionID string) (*client.Function, error) {
	fn, ok := m.functions[functionID]
	if !ok {
		return nil, errors.NewFunctionResolution(functionID, errors.ErrFunctionNotFound)
	}
	return fn, nil
}

// mockRuntime records invocations and replies with a scripted result.
type mockRuntime struct {
	mu       sync.Mutex
	runs     []Invocation
	err      error
	blockFor time.Duration
}

func (m *mockRuntime) Run(ctx context.Context, inv Invocation) error {
	m.mu.Lock()
	m.runs = append(m.runs, inv)
	m.mu.Unlock()
	if m.blockFor > 0 {
		select {
		case <-time.After(m.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, domainID string) (bool, error) { return false, nil }

func newTestExecutor(t *testing.T, issuer *mockIssuer, runtime *mockRuntime, source *mockSource, opts ...func(*Options)) *Executor {
	t.Helper()
	o := Options{
		Issuer:  issuer,
		Runtime: runtime,
		APIURL:  "http://api.test",
		ClientFactory: func(token *auth.Token) FunctionSource {
			source.token = token.Value
			return source
		},
	}
	for _, f := range opts {
		f(&o)
	}
	e, err := New(o)
	require.NoError(t, err)
	return e
}

func TestExecute_RunsWithFreshDomainToken(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{}
	source := &mockSource{functions: map[string]*client.Function{
		"fn-1": {ID: "fn-1", Code: "send(message)"},
	}}
	e := newTestExecutor(t, issuer, runtime, source)

	err := e.Execute(context.Background(), "fn-1", map[string]any{"gameServerId": "gs-1"}, "d1")
	require.NoError(t, err)

	require.Len(t, runtime.runs, 1)
	inv := runtime.runs[0]
	assert.Equal(t, "d1", inv.DomainID)
	assert.Equal(t, "send(message)", inv.Code)
	assert.Equal(t, "gs-1", inv.Data["gameServerId"])
	assert.NotEmpty(t, inv.Token)
	assert.Equal(t, source.token, inv.Token, "runtime must see the token the client was built with")
	assert.Equal(t, []string{"d1"}, issuer.issued)
}

func TestExecute_TokensNotReusedAcrossJobs(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{}
	source := &mockSource{functions: map[string]*client.Function{
		"fn-1": {ID: "fn-1", Code: "x"},
	}}
	e := newTestExecutor(t, issuer, runtime, source)

	require.NoError(t, e.Execute(context.Background(), "fn-1", nil, "d1"))
	require.NoError(t, e.Execute(context.Background(), "fn-1", nil, "d1"))

	require.Len(t, runtime.runs, 2)
	assert.NotEqual(t, runtime.runs[0].Token, runtime.runs[1].Token)
}

func TestExecute_UnknownFunctionIsPermanent(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{}
	source := &mockSource{functions: map[string]*client.Function{}}
	e := newTestExecutor(t, issuer, runtime, source)

	err := e.Execute(context.Background(), "missing", nil, "d1")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.Empty(t, runtime.runs, "an unresolvable function must never run")
}

func TestExecute_TenantUnavailablePassesThrough(t *testing.T) {
	issuer := &mockIssuer{failFor: map[string]error{
		"gone": errors.NewTenantUnavailable("gone", stderrors.New("domain disabled")),
	}}
	runtime := &mockRuntime{}
	source := &mockSource{}
	e := newTestExecutor(t, issuer, runtime, source)

	err := e.Execute(context.Background(), "fn-1", nil, "gone")
	require.Error(t, err)
	assert.True(t, errors.IsTenantUnavailable(err))
	assert.Empty(t, runtime.runs)
}

func TestExecute_RuntimeFailureIsRetryable(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{err: stderrors.New("ReferenceError: send is not defined")}
	source := &mockSource{functions: map[string]*client.Function{
		"fn-1": {ID: "fn-1", Code: "x"},
	}}
	e := newTestExecutor(t, issuer, runtime, source)

	err := e.Execute(context.Background(), "fn-1", nil, "d1")
	require.Error(t, err)

	var runtimeErr *errors.FunctionRuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.False(t, errors.IsPermanent(err))
	assert.False(t, errors.IsTimeout(err))
}

func TestExecute_TimeoutClassified(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{blockFor: time.Second}
	source := &mockSource{functions: map[string]*client.Function{
		"fn-1": {ID: "fn-1", Code: "while(true){}"},
	}}
	e := newTestExecutor(t, issuer, runtime, source, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
	})

	err := e.Execute(context.Background(), "fn-1", nil, "d1")
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	var timeoutErr *errors.FunctionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestExecute_RateLimited(t *testing.T) {
	issuer := &mockIssuer{}
	runtime := &mockRuntime{}
	source := &mockSource{functions: map[string]*client.Function{
		"fn-1": {ID: "fn-1", Code: "x"},
	}}
	e := newTestExecutor(t, issuer, runtime, source, func(o *Options) {
		o.Limiter = denyLimiter{}
	})

	err := e.Execute(context.Background(), "fn-1", nil, "d1")
	require.ErrorIs(t, err, errors.ErrRateLimited)
	assert.Empty(t, issuer.issued, "rate limited jobs must not consume credentials")
	assert.Empty(t, runtime.runs)
}

func TestNew_RequiresIssuerAndRuntime(t *testing.T) {
	_, err := New(Options{Runtime: &mockRuntime{}})
	assert.Error(t, err)

	_, err = New(Options{Issuer: &mockIssuer{}})
	assert.Error(t, err)
}
