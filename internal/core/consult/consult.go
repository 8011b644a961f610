// Package consult asks the oracle about every mapping in M_ask, concurrently
// and with bounded parallelism.
package consult

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
	"github.com/agenthands/alignoracle/internal/core/verdict"
	"github.com/agenthands/alignoracle/internal/llm"
	"github.com/agenthands/alignoracle/internal/metrics"
)

// ErrInterrupted is returned when the run context ends before every mapping
// was resolved. The Outcome returned alongside it holds the partial results.
var ErrInterrupted = errors.New("consultation interrupted")

// PromptBuilder renders one prompt per mapping.
type PromptBuilder interface {
	TemplateID() string
	Build(m model.CandidateMapping) (model.OraclePrompt, error)
}

// Submitter sends a request with retries and reports the attempts made.
type Submitter interface {
	Submit(ctx context.Context, req llm.Request) (*llm.Response, int, error)
}

// AuditRecord captures one consultation for the audit artifact.
type AuditRecord struct {
	MappingID   model.MappingID  `json:"mapping_id"`
	TemplateID  string           `json:"template_id"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Prompt      []model.Message  `json:"prompt,omitempty"`
	Response    string           `json:"response"`
	Verdict     *model.Verdict   `json:"verdict,omitempty"`
	Attempts    int              `json:"attempts"`
	Usage       model.TokenUsage `json:"usage"`
	Cached      bool             `json:"cached,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	Error       string           `json:"error,omitempty"`
}

// Outcome is keyed by mapping identity. Audit follows M_ask order.
type Outcome struct {
	Verdicts map[model.MappingID]model.OracleVerdict
	Attempts map[model.MappingID]int
	Audit    []AuditRecord
	Usage    model.TokenUsage
	// Pending lists the mappings left without a verdict, in M_ask order.
	Pending []model.MappingID
}

type Config struct {
	LLM         config.LLMConfig
	MaxRequests int
	GracePeriod time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		LLM:         cfg.LLM,
		MaxRequests: cfg.Concurrency.MaxRequests,
		GracePeriod: cfg.Pipeline.GracePeriod.Duration,
	}
}

type Consultant struct {
	builder PromptBuilder
	client  Submitter
	parser  *verdict.Parser
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Consultant)

func WithLogger(l *zap.Logger) Option {
	return func(c *Consultant) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consultant) { c.metrics = m }
}

func New(builder PromptBuilder, client Submitter, parser *verdict.Parser, cfg Config, opts ...Option) *Consultant {
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}
	if parser == nil {
		parser = verdict.NewParser(nil)
	}
	c := &Consultant{
		builder: builder,
		client:  client,
		parser:  parser,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type result struct {
	record   AuditRecord
	verdict  model.OracleVerdict
	resolved bool
}

// Consult resolves a verdict for every mapping in mAsk not already in prior.
//
// Per-mapping failures (template errors, exhausted retries, rejected
// requests) become ParseFailure verdicts. An authentication failure stops
// new submissions, cancels in-flight ones and is returned. When ctx ends no
// new submissions start; in-flight ones get the grace period to finish and
// are then cancelled, and ErrInterrupted is returned with the partial
// Outcome.
func (c *Consultant) Consult(ctx context.Context, mAsk *model.MappingsToAsk, prior map[model.MappingID]model.OracleVerdict) (*Outcome, error) {
	items := mAsk.Items()
	slots := make([]*result, len(items))

	inflight, cancelInflight := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelInflight(nil)
	done := make(chan struct{})
	defer close(done)
	go c.watch(ctx, done, cancelInflight)

	g, gctx := errgroup.WithContext(inflight)
	issueCtx, stopIssuing := context.WithCancel(gctx)
	defer stopIssuing()
	stopAfter := context.AfterFunc(ctx, stopIssuing)
	defer stopAfter()

	sem := semaphore.NewWeighted(int64(c.cfg.MaxRequests))
	skipped := 0
	for i, m := range items {
		if _, ok := prior[m.ID()]; ok {
			skipped++
			continue
		}
		if err := sem.Acquire(issueCtx, 1); err != nil {
			break
		}
		if issueCtx.Err() != nil || ctx.Err() != nil {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			r, err := c.consultOne(gctx, m)
			slots[i] = r
			if err != nil {
				stopIssuing()
			}
			sem.Release(1)
			return err
		})
	}
	abortErr := g.Wait()

	out := assemble(items, slots, prior)
	c.logger.Info("oracle consultation finished",
		zap.Int("mappings", len(items)),
		zap.Int("reused", skipped),
		zap.Int("resolved", len(out.Verdicts)-skipped),
		zap.Int("pending", len(out.Pending)),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens))

	if abortErr != nil {
		return out, fmt.Errorf("consultation aborted: %w", abortErr)
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
	return out, nil
}

// watch cancels in-flight calls once ctx has ended and the grace period has
// passed, unless Consult returned first.
func (c *Consultant) watch(ctx context.Context, done <-chan struct{}, cancel context.CancelCauseFunc) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	if c.cfg.GracePeriod > 0 {
		t := time.NewTimer(c.cfg.GracePeriod)
		defer t.Stop()
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
	cancel(context.Cause(ctx))
}

// consultOne only returns an error for failures that must abort the run.
func (c *Consultant) consultOne(ctx context.Context, m model.CandidateMapping) (*result, error) {
	id := m.ID()
	start := time.Now()
	r := &result{record: AuditRecord{MappingID: id, TemplateID: c.builder.TemplateID()}}
	defer func() { r.record.DurationMS = time.Since(start).Milliseconds() }()

	p, err := c.builder.Build(m)
	if err != nil {
		c.logger.Warn("prompt build failed", zap.String("mapping", string(id)), zap.Error(err))
		r.record.Error = err.Error()
		c.resolve(r, model.ParseFailureVerdict(id, ""))
		return r, nil
	}
	r.record.Fingerprint = p.Fingerprint
	r.record.Prompt = p.Messages

	resp, attempts, err := c.client.Submit(ctx, llm.NewRequest(p.Messages, c.cfg.LLM))
	r.record.Attempts = attempts
	if err != nil {
		r.record.Error = err.Error()
		switch {
		case llm.IsFatal(err):
			c.logger.Error("oracle authentication failed, aborting", zap.String("mapping", string(id)), zap.Error(err))
			return r, err
		case ctx.Err() != nil:
			c.logger.Warn("oracle call abandoned", zap.String("mapping", string(id)), zap.Int("attempts", attempts))
			return r, nil
		default:
			c.logger.Warn("oracle call failed, recording parse failure",
				zap.String("mapping", string(id)), zap.Int("attempts", attempts), zap.Error(err))
			c.resolve(r, model.ParseFailureVerdict(id, ""))
			return r, nil
		}
	}

	r.record.Response = resp.Text
	r.record.Usage = resp.Usage
	r.record.Cached = resp.Cached
	v := c.parser.Parse(id, resp.Text, resp.LogprobConfidence)
	c.logger.Debug("oracle verdict",
		zap.String("mapping", string(id)),
		zap.Stringer("verdict", v.Verdict),
		zap.Int("attempts", attempts))
	c.resolve(r, v)
	return r, nil
}

func (c *Consultant) resolve(r *result, v model.OracleVerdict) {
	r.verdict = v
	r.resolved = true
	kind := v.Verdict
	r.record.Verdict = &kind
	c.metrics.ObserveVerdict(v.Verdict.String())
}

// assemble reorders results by M_ask position regardless of completion
// order.
func assemble(items []model.CandidateMapping, slots []*result, prior map[model.MappingID]model.OracleVerdict) *Outcome {
	out := &Outcome{
		Verdicts: make(map[model.MappingID]model.OracleVerdict, len(items)),
		Attempts: make(map[model.MappingID]int, len(items)),
	}
	for i, m := range items {
		id := m.ID()
		if v, ok := prior[id]; ok {
			out.Verdicts[id] = v
			continue
		}
		r := slots[i]
		if r == nil {
			out.Pending = append(out.Pending, id)
			continue
		}
		out.Audit = append(out.Audit, r.record)
		out.Attempts[id] = r.record.Attempts
		out.Usage.Add(r.record.Usage)
		if r.resolved {
			out.Verdicts[id] = r.verdict
		} else {
			out.Pending = append(out.Pending, id)
		}
	}
	return out
}
