package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agenthands/alignoracle/internal/core/model"
	"github.com/agenthands/alignoracle/internal/metrics"
)

// Middleware decorates a Backend.
type Middleware func(Backend) Backend

// Wrap applies middlewares left to right: Wrap(b, A, B) is A(B(b)).
func Wrap(inner Backend, mws ...Middleware) Backend {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// -------- rate limiting --------

// WithRateLimit spaces submissions to rps with the given burst. rps <= 0
// disables it.
func WithRateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return func(next Backend) Backend {
		return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type rateLimited struct {
	next    Backend
	limiter *rate.Limiter
}

func (b *rateLimited) Name() string { return b.next.Name() }

func (b *rateLimited) Submit(ctx context.Context, req Request) (*Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.Submit(ctx, req)
}

// -------- response cache --------

// WithCache memoises successful responses by request content. size <= 0
// disables it.
func WithCache(size int) Middleware {
	if size <= 0 {
		return nil
	}
	return func(next Backend) Backend {
		cache, err := lru.New[string, Response](size)
		if err != nil {
			return next
		}
		return &cached{next: next, cache: cache}
	}
}

type cached struct {
	next  Backend
	cache *lru.Cache[string, Response]
}

func (b *cached) Name() string { return b.next.Name() }

func (b *cached) Submit(ctx context.Context, req Request) (*Response, error) {
	key, err := requestKey(req)
	if err != nil {
		return b.next.Submit(ctx, req)
	}
	if hit, ok := b.cache.Get(key); ok {
		hit.Cached = true
		hit.Usage = model.TokenUsage{}
		return &hit, nil
	}
	resp, err := b.next.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, *resp)
	return resp, nil
}

func requestKey(req Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// -------- metrics --------

func WithMetrics(m *metrics.Metrics) Middleware {
	if m == nil {
		return nil
	}
	return func(next Backend) Backend {
		return &measured{next: next, metrics: m}
	}
}

type measured struct {
	next    Backend
	metrics *metrics.Metrics
}

func (b *measured) Name() string { return b.next.Name() }

func (b *measured) Submit(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := b.next.Submit(ctx, req)
	outcome := KindName(err)
	if err != nil && outcome == "unknown" {
		outcome = KindName(classifyTransport(b.Name(), err))
	}
	b.metrics.ObserveRequest(b.Name(), outcome, time.Since(start).Seconds())
	return resp, err
}

// -------- logging --------

func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		return nil
	}
	return func(next Backend) Backend {
		return &logged{next: next, logger: logger}
	}
}

type logged struct {
	next   Backend
	logger *zap.Logger
}

func (b *logged) Name() string { return b.next.Name() }

func (b *logged) Submit(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := b.next.Submit(ctx, req)
	fields := []zap.Field{
		zap.String("provider", b.Name()),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		b.logger.Warn("oracle request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	b.logger.Debug("oracle request completed", append(fields,
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Bool("cached", resp.Cached))...)
	return resp, nil
}
