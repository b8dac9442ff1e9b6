package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_NetworkAlwaysRetries(t *testing.T) {
	assert.True(t, Network(errors.New("dial tcp: timeout")).Retryable())
}

func TestRetryable_HTTPOnlySpecificCodes(t *testing.T) {
	cases := map[int]bool{
		408: true,
		429: true,
		500: true,
		503: true,
		400: false,
		404: false,
		200: false,
	}
	for code, want := range cases {
		got := HTTP(code, 0).Retryable()
		assert.Equal(t, want, got, "code %d", code)
	}
}

func TestRetryable_OtherKindsNeverRetry(t *testing.T) {
	assert.False(t, Disk(errors.New("enospc")).Retryable())
	assert.False(t, Unsupported("scheme").Retryable())
	assert.False(t, ValidationFailed("bad url").Retryable())
	assert.False(t, Canceled().Retryable())
	assert.False(t, Source("ftp", errors.New("x")).Retryable())
	assert.False(t, Unknown(errors.New("x")).Retryable())
}

func TestRetryable_NonErrsTypeIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(errors.New("plain error")))
}

func TestRetryable_WrapsTypedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Network(errors.New("timeout")))
	assert.True(t, Retryable(wrapped))
}

func TestAs_ExtractsTypedError(t *testing.T) {
	err := HTTP(404, 0)
	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, KindHTTP, e.Kind)
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(Canceled()))
	assert.False(t, IsCanceled(Network(errors.New("x"))))
	assert.False(t, IsCanceled(errors.New("plain")))
}

func TestError_MessagesByKind(t *testing.T) {
	assert.Equal(t, "http 429", HTTP(429, 0).Error())
	assert.Equal(t, "validation failed: bad url", ValidationFailed("bad url").Error())
	assert.Contains(t, Source("ftp", errors.New("boom")).Error(), "ftp")
	assert.Equal(t, "unsupported", Unsupported("").Error())
}

func TestError_RetryAfterPreserved(t *testing.T) {
	e := HTTP(429, 5*time.Second)
	assert.Equal(t, 5*time.Second, e.RetryAfter)
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	e := Network(cause)
	assert.Same(t, cause, errors.Unwrap(e))
}
