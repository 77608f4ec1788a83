package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent_ResolutionError(t *testing.T) {
	err := NewFunctionResolution("f1", ErrFunctionNotFound)
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, ErrFunctionNotFound))
}

func TestIsPermanent_WrappedResolutionError(t *testing.T) {
	err := fmt.Errorf("processing job: %w", NewFunctionResolution("f1", ErrFunctionNotFound))
	assert.True(t, IsPermanent(err))
}

func TestIsPermanent_RuntimeError(t *testing.T) {
	err := NewFunctionRuntime("f1", errors.New("boom"))
	assert.False(t, IsPermanent(err))
}

func TestIsPermanent_TimeoutError(t *testing.T) {
	err := NewFunctionTimeout("f1", 30*time.Second)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsTimeout(err))
}

func TestFunctionTimeoutError_Fields(t *testing.T) {
	err := NewFunctionTimeout("f1", 30*time.Second)

	var te *FunctionTimeoutError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 30*time.Second, te.Budget)
	assert.True(t, te.Timeout())
	assert.Contains(t, err.Error(), "30s")
}

func TestPermanent_WrapsArbitraryError(t *testing.T) {
	base := errors.New("cannot decode payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.Nil(t, Permanent(nil))
}

func TestIsTenantUnavailable(t *testing.T) {
	err := fmt.Errorf("issuing credential: %w", NewTenantUnavailable("d1", errors.New("domain disabled")))
	assert.True(t, IsTenantUnavailable(err))
	assert.False(t, IsPermanent(err))
	assert.False(t, IsTenantUnavailable(errors.New("other")))
}

func TestQueueUnavailableError_Message(t *testing.T) {
	err := NewQueueUnavailable("enqueue", "hooks", ErrNotConnected)
	assert.Contains(t, err.Error(), "hooks")
	assert.Contains(t, err.Error(), "enqueue")
	assert.True(t, errors.Is(err, ErrNotConnected))
}
