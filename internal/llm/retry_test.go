package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agenthands/alignoracle/internal/metrics"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testClient(t *testing.T, b Backend, attempts int, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	c := NewClient(b, RetryPolicy{MaxAttempts: attempts, BackoffBase: time.Millisecond, BackoffMultiplier: 2}, 0, opts...)
	c.sleep = noSleep
	return c
}

func timeoutErr() error { return newError(ErrTimeout, "mock", 0, context.DeadlineExceeded) }

func TestClientExhaustsRetriesOnTimeout(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := &MockBackend{Errors: []error{timeoutErr(), timeoutErr(), timeoutErr()}, Text: "true"}
	c := testClient(t, b, 3, WithRetryMetrics(m))

	_, attempts, err := c.Submit(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, b.calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OracleRetries.WithLabelValues("mock", "timeout")))
}

func TestClientRecoversAfterRateLimit(t *testing.T) {
	b := &MockBackend{Errors: []error{newError(ErrRateLimit, "mock", 429, nil)}, Text: "true"}
	c := testClient(t, b, 3)

	resp, attempts, err := c.Submit(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Text)
	assert.Equal(t, 2, attempts)
}

func TestClientDoesNotRetryFatalErrors(t *testing.T) {
	for _, kind := range []error{ErrAuthentication, ErrBadRequest} {
		b := &MockBackend{Errors: []error{newError(kind, "mock", 0, nil)}}
		c := testClient(t, b, 5)

		_, attempts, err := c.Submit(context.Background(), Request{})
		assert.True(t, errors.Is(err, kind))
		assert.Equal(t, 1, attempts)
	}
	assert.True(t, IsFatal(newError(ErrAuthentication, "mock", 401, nil)))
	assert.False(t, IsFatal(newError(ErrBadRequest, "mock", 400, nil)))
}

func TestClientClassifiesRawErrors(t *testing.T) {
	b := &MockBackend{Errors: []error{errors.New("connection reset")}, Text: "false"}
	c := testClient(t, b, 2)

	resp, attempts, err := c.Submit(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "false", resp.Text)
	assert.Equal(t, 2, attempts, "unclassified errors count as transport errors")
}

func TestClientPerAttemptTimeout(t *testing.T) {
	b := &MockBackend{Block: true}
	c := NewClient(b, RetryPolicy{MaxAttempts: 2}, 10*time.Millisecond)
	c.sleep = noSleep

	_, attempts, err := c.Submit(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Equal(t, 2, attempts)
}

func TestClientStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &MockBackend{Text: "true"}
	c := testClient(t, b, 3)
	_, attempts, err := c.Submit(ctx, Request{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, b.calls())
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BackoffBase: time.Second, BackoffMultiplier: 2, MaxBackoff: 5 * time.Second}

	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)

		d = p.Backoff(2)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)

		d = p.Backoff(10)
		assert.LessOrEqual(t, d, 6250*time.Millisecond, "capped before jitter")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{429, ErrRateLimit},
		{401, ErrAuthentication},
		{403, ErrAuthentication},
		{408, ErrTimeout},
		{504, ErrTimeout},
		{500, ErrTransport},
		{503, ErrTransport},
		{400, ErrBadRequest},
		{404, ErrBadRequest},
		{0, ErrTransport},
	}
	for _, tt := range tests {
		err := classifyStatus("p", tt.status, errors.New("boom"))
		assert.True(t, errors.Is(err, tt.want), "status %d: %v", tt.status, err)
	}

	err := classifyTransport("p", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "timeout", KindName(err))
}
