package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpeedLimit(t *testing.T) {
	cases := map[string]int64{
		"":           0,
		"unlimited":  0,
		"Unlimited":  0,
		"500k":       500 * 1024,
		"10m":        10 * 1024 * 1024,
		"2048":       2048,
		"bogus":      0,
		"-5":         0,
		"0":          0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSpeedLimit(in), "input %q", in)
	}
}

func TestUnlimited_NeverBlocks(t *testing.T) {
	var u Unlimited
	require.NoError(t, u.Acquire(context.Background(), 1<<20))
}

func TestLimited_AcquireRespectsCap(t *testing.T) {
	l := NewLimited(1024) // 1KB/s
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 1024)) // first burst is free
	require.NoError(t, l.Acquire(context.Background(), 512))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestLimited_AcquireCanceledByContext(t *testing.T) {
	l := NewLimited(1) // effectively starves further acquires
	require.NoError(t, l.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, 1000)
	assert.Error(t, err)
}

func TestSequence_ConsumesPerThenGlobal(t *testing.T) {
	per := NewLimited(1 << 30)
	global := NewLimited(1 << 30)
	require.NoError(t, Sequence(context.Background(), per, global, 100))
}

func TestHostBackoff_RetryAfterSeconds(t *testing.T) {
	b := NewHostBackoff()
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"2"}}}
	wait := b.Handle429(resp)
	assert.InDelta(t, 2*time.Second, wait, float64(300*time.Millisecond))
	assert.Greater(t, b.BlockDuration(), time.Duration(0))
}

func TestHostBackoff_ExponentialWithoutRetryAfter(t *testing.T) {
	b := NewHostBackoff()
	resp := &http.Response{Header: http.Header{}}
	first := b.Handle429(resp)
	second := b.Handle429(resp)
	assert.Greater(t, second, first/2) // roughly doubles, allowing for jitter
}

func TestHostBackoff_ReportSuccessResetsHits(t *testing.T) {
	b := NewHostBackoff()
	resp := &http.Response{Header: http.Header{}}
	b.Handle429(resp)
	b.Handle429(resp)
	b.ReportSuccess()
	assert.Equal(t, int32(0), b.consecutiveHits.Load())
}

func TestHostBackoffRegistry_GetIsSharedPerHost(t *testing.T) {
	r := NewHostBackoffRegistry()
	a := r.Get("example.com")
	b := r.Get("example.com")
	assert.Same(t, a, b)

	c := r.Get("other.example.com")
	assert.NotSame(t, a, c)
}
