package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/metrics"
)

// RetryPolicy bounds attempts per request and shapes the backoff between
// them.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		BackoffBase:       cfg.BackoffBase.Duration,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxBackoff:        cfg.MaxBackoff.Duration,
	}
}

// Backoff is exponential in attempt with +/-25% jitter, capped at
// MaxBackoff before jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= p.BackoffMultiplier
	}

	backoff := time.Duration(float64(p.BackoffBase) * multiplier)
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// Client retries a Backend. Safe for concurrent use; the attempt counter is
// local to each Submit call.
type Client struct {
	backend Backend
	policy  RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithRetryMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// timeout is applied to each attempt separately; zero disables it.
func NewClient(backend Backend, policy RetryPolicy, timeout time.Duration, opts ...ClientOption) *Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Client{
		backend: backend,
		policy:  policy,
		timeout: timeout,
		logger:  zap.NewNop(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends req, retrying transport, rate-limit and timeout failures. It
// returns the number of attempts made. When ctx ends the context error is
// returned wrapped; authentication and bad-request errors are not retried.
func (c *Client) Submit(ctx context.Context, req Request) (*Response, int, error) {
	provider := c.backend.Name()
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, attempt, fmt.Errorf("oracle call interrupted: %w", err)
		}
		attempt++

		resp, err := c.try(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, fmt.Errorf("oracle call interrupted: %w", ctx.Err())
		}
		if !Retryable(err) {
			return nil, attempt, err
		}
		if attempt >= c.policy.MaxAttempts {
			return nil, attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		backoff := c.policy.Backoff(attempt)
		c.metrics.ObserveRetry(provider, KindName(err))
		c.logger.Debug("oracle request failed, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := c.sleep(ctx, backoff); err != nil {
			return nil, attempt, fmt.Errorf("oracle call interrupted: %w", err)
		}
	}
}

func (c *Client) try(ctx context.Context, req Request) (*Response, error) {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.backend.Submit(actx, req)
	if err != nil {
		return nil, classifyTransport(c.backend.Name(), err)
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
