package config

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid setting. It is fatal: runs abort
// before any oracle call when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Providers lists the oracle backends NewBackend understands.
var Providers = []string{"openai", "openrouter", "ollama", "claude", "gemini", "static"}

// StructuredOutputs lists the accepted llm.structured_output values.
var StructuredOutputs = []string{"", "plain", "answer", "answer_reasoning"}

// ConflictPolicies lists the accepted reconcile.conflict_policy values.
var ConflictPolicies = []string{"one_to_one", "source_functional", "none"}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate checks cross-field constraints. Prompt template names are checked
// by the prompt builder since custom templates live there.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch c.Pipeline.Mode {
	case ModeAlignmentOnly, ModeFullLoop:
	case ModeConsultationOnly:
		if strings.TrimSpace(c.Pipeline.CheckpointPath) == "" {
			bad("pipeline.checkpoint_path", "required when mode is %s", ModeConsultationOnly)
		}
	default:
		bad("pipeline.mode", "unknown mode %q", c.Pipeline.Mode)
	}

	if c.Selector.Low >= c.Selector.High {
		bad("selector", "low bound %.3f must be below high bound %.3f", c.Selector.Low, c.Selector.High)
	}
	if c.Selector.Low < 0 || c.Selector.High > 1 {
		bad("selector", "band (%.3f, %.3f) must lie within [0, 1]", c.Selector.Low, c.Selector.High)
	}
	if c.Selector.MaxQueries < 1 {
		bad("selector.max_queries", "must be at least 1, got %d", c.Selector.MaxQueries)
	}

	provider := strings.ToLower(c.LLM.Provider)
	if !contains(Providers, provider) {
		bad("llm.provider", "unsupported provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" && provider != "static" {
		bad("llm.model", "model identifier is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		bad("llm.temperature", "must be within [0, 2], got %v", c.LLM.Temperature)
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		bad("llm.top_p", "must be within [0, 1], got %v", c.LLM.TopP)
	}
	if c.LLM.MaxTokens < 0 {
		bad("llm.max_tokens", "must not be negative")
	}
	if !contains(StructuredOutputs, c.LLM.StructuredOutput) {
		bad("llm.structured_output", "unknown format %q", c.LLM.StructuredOutput)
	}

	if c.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts", "must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		bad("retry.backoff_multiplier", "must be at least 1, got %v", c.Retry.BackoffMultiplier)
	}
	if c.Concurrency.MaxRequests < 1 {
		bad("concurrency.max_requests", "must be at least 1, got %d", c.Concurrency.MaxRequests)
	}
	if c.Concurrency.RequestsPerSecond < 0 {
		bad("concurrency.requests_per_second", "must not be negative")
	}

	if c.Reconcile.AcceptThreshold < 0 || c.Reconcile.AcceptThreshold > 1 {
		bad("reconcile.accept_threshold", "must be within [0, 1], got %v", c.Reconcile.AcceptThreshold)
	}
	if !contains(ConflictPolicies, c.Reconcile.ConflictPolicy) {
		bad("reconcile.conflict_policy", "unknown policy %q", c.Reconcile.ConflictPolicy)
	}

	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			bad("artifacts.dir", "required for the file backend")
		}
	case "s3":
		if c.Artifacts.S3.Endpoint == "" || c.Artifacts.S3.Bucket == "" {
			bad("artifacts.s3", "endpoint and bucket are required for the s3 backend")
		}
	default:
		bad("artifacts.backend", "unknown backend %q", c.Artifacts.Backend)
	}

	switch c.Aligner.Kind {
	case "file":
		if c.Aligner.MappingsPath == "" && c.Pipeline.Mode != ModeConsultationOnly {
			bad("aligner.mappings_path", "required for the file aligner")
		}
	case "exec":
		if len(c.Aligner.Command) == 0 {
			bad("aligner.command", "required for the exec aligner")
		}
	default:
		bad("aligner.kind", "unknown aligner %q", c.Aligner.Kind)
	}

	return errors.Join(errs...)
}
