// Package core drives one alignment run through the controller states:
// initial alignment, selection, oracle consultation, reconciliation and the
// optional second alignment pass.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/aligner"
	"github.com/agenthands/alignoracle/internal/artifact"
	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/consult"
	"github.com/agenthands/alignoracle/internal/core/model"
	"github.com/agenthands/alignoracle/internal/core/prompt"
	"github.com/agenthands/alignoracle/internal/core/reconcile"
	"github.com/agenthands/alignoracle/internal/core/selector"
	"github.com/agenthands/alignoracle/internal/core/verdict"
	"github.com/agenthands/alignoracle/internal/driver"
	"github.com/agenthands/alignoracle/internal/llm"
	"github.com/agenthands/alignoracle/internal/metrics"
	"github.com/agenthands/alignoracle/internal/ontology"
)

// ErrRunTimeout is the cancellation cause when pipeline.run_timeout expires.
var ErrRunTimeout = errors.New("run timeout exceeded")

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("pipeline already ran")

// Exporter mirrors a refined alignment into an external store.
type Exporter interface {
	ExportAlignment(ctx context.Context, runID, task string, refined []model.RefinedMapping) (int, error)
}

// RunError is the diagnostic of a failed run. Partial holds the verdicts
// resolved before the failure; it is never a complete result.
type RunError struct {
	RunID         string
	State         State
	LastCompleted State
	Cause         error
	Partial       map[model.MappingID]model.OracleVerdict
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed during %s (last completed state: %s): %v", e.RunID, e.State, e.LastCompleted, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }

// Report summarizes a successful run.
type Report struct {
	RunID       string                 `json:"run_id"`
	ResumedFrom string                 `json:"resumed_from,omitempty"`
	Task        string                 `json:"task"`
	Mode        string                 `json:"mode"`
	TemplateID  string                 `json:"template_id"`
	State       State                  `json:"state"`
	History     []Transition           `json:"history"`
	Candidates  int                    `json:"candidates"`
	Asked       int                    `json:"asked"`
	Summary     reconcile.Summary      `json:"summary"`
	Usage       model.TokenUsage       `json:"usage"`
	Realigned   int                    `json:"realigned,omitempty"`
	Exported    int                    `json:"exported,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Refined     []model.RefinedMapping `json:"-"`
}

type Pipeline struct {
	cfg        *config.Config
	session    *Session
	engine     aligner.Engine
	consultant *consult.Consultant
	store      artifact.Store
	writer     *artifact.Writer
	exporter   Exporter
	logger     *zap.Logger
	metrics    *metrics.Metrics
	closers    []func() error
	ran        atomic.Bool

	// set through options before New wires the defaults
	backend  llm.Backend
	source   *ontology.Catalogue
	target   *ontology.Catalogue
	realign  []model.CandidateMapping
	exported int
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEngine replaces the aligner built from the aligner section.
func WithEngine(e aligner.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithStore replaces the artifact store built from the artifacts section.
func WithStore(s artifact.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithBackend replaces the oracle provider built from the llm section. The
// retry, cache and rate-limit layers are still applied.
func WithBackend(b llm.Backend) Option {
	return func(p *Pipeline) { p.backend = b }
}

func WithCatalogues(source, target *ontology.Catalogue) Option {
	return func(p *Pipeline) { p.source, p.target = source, target }
}

// WithExporter replaces the graph exporter built from the graph section.
func WithExporter(e Exporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// New validates cfg and wires one run. Configuration problems are reported
// here, before any oracle call.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.wire(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) wire(ctx context.Context) error {
	cfg := p.cfg

	if p.source == nil {
		c, err := loadCatalogue(cfg.Task.SourceEntities, "source")
		if err != nil {
			return err
		}
		p.source = c
	}
	if p.target == nil {
		c, err := loadCatalogue(cfg.Task.TargetEntities, "target")
		if err != nil {
			return err
		}
		p.target = c
	}
	builder, err := prompt.NewBuilder(cfg.Prompt, p.source, p.target)
	if err != nil {
		return err
	}

	if p.backend == nil {
		b, err := llm.NewBackend(ctx, cfg.LLM)
		if err != nil {
			return err
		}
		if c, ok := b.(io.Closer); ok {
			p.closers = append(p.closers, c.Close)
		}
		p.backend = b
	}
	backend := llm.Wrap(p.backend,
		llm.WithCache(cfg.Cache.Size),
		llm.WithRateLimit(cfg.Concurrency.RequestsPerSecond, cfg.Concurrency.Burst),
		llm.WithLogging(p.logger),
		llm.WithMetrics(p.metrics),
	)
	client := llm.NewClient(backend, llm.RetryPolicyFromConfig(cfg.Retry), cfg.LLM.Timeout.Duration,
		llm.WithLogger(p.logger), llm.WithRetryMetrics(p.metrics))
	p.consultant = consult.New(builder, client, verdict.NewParser(nil), consult.ConfigFrom(cfg),
		consult.WithLogger(p.logger), consult.WithMetrics(p.metrics))

	if p.engine == nil && (cfg.Pipeline.Mode != config.ModeConsultationOnly || cfg.Pipeline.Realign) {
		e, err := aligner.NewEngine(cfg.Aligner)
		if err != nil {
			return err
		}
		p.engine = e
	}

	if p.store == nil {
		s, err := artifact.NewStore(cfg.Artifacts)
		if err != nil {
			return err
		}
		p.store = s
	}

	if p.exporter == nil && cfg.Graph.URI != "" {
		d, err := driver.NewMemgraphDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, p.logger)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, func() error { return d.Close(context.Background()) })
		if err := d.BuildIndices(ctx); err != nil {
			return err
		}
		p.exporter = driver.NewAlignmentExporter(d, p.source.Name, p.target.Name)
	}

	if cfg.Pipeline.Mode == config.ModeConsultationOnly {
		s, err := RestoreSession(cfg.Pipeline.CheckpointPath, cfg.Pipeline.Mode, builder.TemplateID())
		if err != nil {
			return &config.ConfigurationError{Field: "pipeline.checkpoint_path", Reason: err.Error()}
		}
		p.session = s
	} else {
		p.session = NewSession(cfg.Task.Name, cfg.Pipeline.Mode, builder.TemplateID())
	}
	p.writer = artifact.NewWriter(p.store, p.session.RunID, artifact.Names{Task: p.session.Task, Template: builder.TemplateID()})
	return nil
}

func loadCatalogue(path, name string) (*ontology.Catalogue, error) {
	if path == "" {
		return ontology.NewCatalogue(name, nil), nil
	}
	return ontology.Load(path)
}

// Session exposes the run's session for status reporting.
func (p *Pipeline) Session() *Session { return p.session }

// Close releases provider clients and the graph connection.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Run executes the run once. On failure it returns a *RunError naming the
// last completed state; the partial verdicts are checkpointed.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRan
	}
	started := time.Now().UTC()
	if d := p.cfg.Pipeline.RunTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, ErrRunTimeout)
		defer cancel()
	}

	log := p.logger.With(zap.String("run_id", p.session.RunID), zap.String("mode", p.session.Mode))
	log.Info("pipeline run started", zap.String("task", p.session.Task), zap.String("template", p.session.TemplateID))

	if err := p.execute(ctx, log); err != nil {
		return nil, p.fail(ctx, log, err)
	}

	report := p.report(started)
	if err := p.writer.PutJSON(context.WithoutCancel(ctx), p.writer.Names.Report(), report); err != nil {
		log.Warn("failed to store run report", zap.Error(err))
	}
	p.metrics.ObserveRun(string(StateDone))
	log.Info("pipeline run finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("asked", report.Asked),
		zap.Int("accepted", report.Summary.Accepted),
		zap.Int("rejected", report.Summary.Rejected),
		zap.Duration("elapsed", report.FinishedAt.Sub(started)))
	return report, nil
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger) error {
	s := p.session
	opts := reconcile.OptionsFromConfig(p.cfg.Reconcile)

	if s.Mode != config.ModeConsultationOnly {
		if err := p.align(ctx, log); err != nil {
			return err
		}
		if s.Mode == config.ModeAlignmentOnly {
			refined := reconcile.Reconcile(s.Candidates, nil, nil, opts)
			if err := p.persistRefined(ctx, refined); err != nil {
				return err
			}
			return s.advance(StateDone)
		}
	}

	if err := p.consultOracle(ctx, log); err != nil {
		return err
	}

	if err := s.advance(StateReconciling); err != nil {
		return err
	}
	refined := reconcile.Reconcile(s.Candidates, s.MAsk, s.Verdicts, opts)
	if err := s.advance(StateRefined); err != nil {
		return err
	}
	if err := p.persistRefined(ctx, refined); err != nil {
		return err
	}

	if p.cfg.Pipeline.Realign {
		if err := p.realignPass(ctx, log, refined); err != nil {
			return err
		}
	}
	return s.advance(StateDone)
}

func (p *Pipeline) align(ctx context.Context, log *zap.Logger) error {
	s := p.session
	if err := s.advance(StateInitialAlignment); err != nil {
		return err
	}
	candidates, err := p.engine.Align(ctx)
	if err != nil {
		return fmt.Errorf("initial alignment: %w", err)
	}
	s.update(func(s *Session) { s.Candidates = candidates })
	log.Info("initial alignment loaded", zap.Int("candidates", len(candidates)))
	return p.checkpoint(ctx)
}

func (p *Pipeline) consultOracle(ctx context.Context, log *zap.Logger) error {
	s := p.session
	if err := s.advance(StateSelecting); err != nil {
		return err
	}
	band, budget := selector.FromConfig(p.cfg.Selector)
	mAsk, err := selector.Select(s.Candidates, band, budget)
	if err != nil {
		return err
	}
	prior := make(map[model.MappingID]model.OracleVerdict)
	for id, v := range s.Verdicts {
		// A parse failure is usually exhausted retries; ask again.
		if mAsk.Contains(id) && v.Verdict != model.VerdictParseFailure {
			prior[id] = v
		}
	}
	s.update(func(s *Session) { s.MAsk = mAsk })
	log.Info("mappings selected for the oracle",
		zap.Int("asked", mAsk.Len()),
		zap.Int("reused", len(prior)),
		zap.Float64("low", band.Low),
		zap.Float64("high", band.High))
	if err := p.writer.MappingsToAsk(ctx, mAsk); err != nil {
		return err
	}

	if err := s.advance(StateConsulting); err != nil {
		return err
	}
	out, consultErr := p.consultant.Consult(ctx, mAsk, prior)
	if out != nil {
		s.update(func(s *Session) {
			for id, v := range out.Verdicts {
				s.Verdicts[id] = v
			}
			for id, n := range out.Attempts {
				s.Attempts[id] = n
			}
			s.Usage.Add(out.Usage)
		})
		// Interrupted runs still leave their audit trail.
		bg := context.WithoutCancel(ctx)
		if err := p.writer.PutJSON(bg, p.writer.Names.Audit(), out.Audit); err != nil {
			return errors.Join(consultErr, err)
		}
		if err := p.writer.Verdicts(bg, mAsk, s.Verdicts); err != nil {
			return errors.Join(consultErr, err)
		}
	}
	if consultErr != nil {
		return consultErr
	}
	return p.checkpoint(ctx)
}

func (p *Pipeline) persistRefined(ctx context.Context, refined []model.RefinedMapping) error {
	s := p.session
	s.update(func(s *Session) { s.Refined = refined })
	if err := p.writer.Refined(ctx, refined); err != nil {
		return err
	}
	for _, r := range refined {
		p.metrics.ObserveRefined(string(r.Decision), string(r.Provenance))
	}
	if p.exporter != nil {
		n, err := p.exporter.ExportAlignment(ctx, s.RunID, s.Task, refined)
		if err != nil {
			return fmt.Errorf("export refined alignment: %w", err)
		}
		p.exported = n
	}
	return nil
}

func (p *Pipeline) realignPass(ctx context.Context, log *zap.Logger, refined []model.RefinedMapping) error {
	if err := p.session.advance(StateReAligning); err != nil {
		return err
	}
	realigned, err := p.engine.Realign(ctx, refined)
	if err != nil {
		return fmt.Errorf("re-alignment: %w", err)
	}
	p.realign = realigned
	if realigned != nil {
		if err := p.writer.PutJSON(ctx, p.writer.Names.Realigned(), realigned); err != nil {
			return err
		}
	}
	log.Info("oracle feedback handed to the aligner", zap.Int("realigned", len(realigned)))
	return nil
}

// checkpoint writes the session to the artifact store and, when configured
// and the session has candidates to resume from, to the checkpoint path. A
// run that failed before alignment leaves an earlier checkpoint in place.
func (p *Pipeline) checkpoint(ctx context.Context) error {
	s := p.session
	if path := p.cfg.Pipeline.CheckpointPath; path != "" && s.Status().Candidates > 0 {
		if err := s.Checkpoint(path); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return p.store.Put(ctx, s.RunID, p.writer.Names.Session(), data)
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, cause error) error {
	s := p.session
	runErr := &RunError{
		RunID:         s.RunID,
		State:         s.Current(),
		LastCompleted: s.LastCompleted(),
		Cause:         cause,
	}
	if err := s.advance(StateFailed); err != nil {
		log.Warn("could not mark run failed", zap.Error(err))
	}
	s.mu.RLock()
	runErr.Partial = make(map[model.MappingID]model.OracleVerdict, len(s.Verdicts))
	for id, v := range s.Verdicts {
		runErr.Partial[id] = v
	}
	s.mu.RUnlock()

	if err := p.checkpoint(context.WithoutCancel(ctx)); err != nil {
		log.Warn("failed to checkpoint failed run", zap.Error(err))
	}
	p.metrics.ObserveRun(string(StateFailed))
	log.Error("pipeline run failed",
		zap.String("state", string(runErr.State)),
		zap.String("last_completed", string(runErr.LastCompleted)),
		zap.Int("partial_verdicts", len(runErr.Partial)),
		zap.Error(cause))
	return runErr
}

func (p *Pipeline) report(started time.Time) *Report {
	s := p.session
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Report{
		RunID:       s.RunID,
		ResumedFrom: s.ResumedFrom,
		Task:        s.Task,
		Mode:        s.Mode,
		TemplateID:  s.TemplateID,
		State:       s.State,
		History:     append([]Transition(nil), s.History...),
		Candidates:  len(s.Candidates),
		Asked:       s.MAsk.Len(),
		Summary:     reconcile.Summarize(s.Refined),
		Usage:       s.Usage,
		Realigned:   len(p.realign),
		Exported:    p.exported,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
		Refined:     s.Refined,
	}
}
