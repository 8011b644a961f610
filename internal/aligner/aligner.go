// Package aligner is the boundary to the external alignment engine: it
// reads candidate mappings and hands refined decisions back as feedback.
package aligner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// Engine produces candidate mappings and optionally re-aligns with oracle
// feedback.
type Engine interface {
	Align(ctx context.Context) ([]model.CandidateMapping, error)
	Realign(ctx context.Context, feedback []model.RefinedMapping) ([]model.CandidateMapping, error)
}

// NewEngine builds the engine selected in cfg.
func NewEngine(cfg config.AlignerConfig) (Engine, error) {
	files := FileEngine{MappingsPath: cfg.MappingsPath, FeedbackPath: cfg.FeedbackPath, RefinedPath: cfg.RefinedPath}
	switch cfg.Kind {
	case "", "file":
		if cfg.MappingsPath == "" {
			return nil, &config.ConfigurationError{Field: "aligner.mappings_path", Reason: "required for the file aligner"}
		}
		return &files, nil
	case "exec":
		if len(cfg.Command) == 0 {
			return nil, &config.ConfigurationError{Field: "aligner.command", Reason: "required for the exec aligner"}
		}
		return &ExecEngine{Files: files, Command: cfg.Command, RefineCommand: cfg.RefineCommand, WorkDir: cfg.WorkDir}, nil
	default:
		return nil, &config.ConfigurationError{Field: "aligner.kind", Reason: fmt.Sprintf("unknown aligner %q", cfg.Kind)}
	}
}

// ParseMappings reads pipe-separated lines:
//
//	source|target|relation|confidence[|entity_type[|engine_decision]]
//
// Blank lines and lines starting with '#' are skipped.
func ParseMappings(r io.Reader) ([]model.CandidateMapping, error) {
	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out []model.CandidateMapping
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		m, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, m)
	}
}

func parseRecord(rec []string) (model.CandidateMapping, error) {
	if len(rec) < 4 {
		return model.CandidateMapping{}, fmt.Errorf("expected at least 4 fields, got %d", len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	rel, err := model.ParseRelation(rec[2])
	if err != nil {
		return model.CandidateMapping{}, err
	}
	conf, err := strconv.ParseFloat(rec[3], 64)
	if err != nil || conf < 0 || conf > 1 {
		return model.CandidateMapping{}, fmt.Errorf("confidence %q is not in [0,1]", rec[3])
	}
	m := model.CandidateMapping{
		Source:     rec[0],
		Target:     rec[1],
		Relation:   rel,
		Confidence: conf,
		EntityType: model.EntityUnknown,
	}
	if m.Source == "" || m.Target == "" {
		return model.CandidateMapping{}, fmt.Errorf("empty source or target")
	}
	if len(rec) > 4 && rec[4] != "" {
		m.EntityType = model.ParseEntityType(rec[4])
	}
	if len(rec) > 5 && rec[5] != "" {
		switch d := model.Decision(strings.ToLower(rec[5])); d {
		case model.DecisionAccepted, model.DecisionRejected:
			m.EngineDecision = d
		default:
			return model.CandidateMapping{}, fmt.Errorf("unknown engine decision %q", rec[5])
		}
	}
	return m, nil
}

// WriteFeedback writes source|target|relation|decision, one line per
// mapping, for the engine's second pass.
func WriteFeedback(w io.Writer, refined []model.RefinedMapping) error {
	cw := csv.NewWriter(w)
	cw.Comma = '|'
	for _, r := range refined {
		if err := cw.Write([]string{r.Source, r.Target, string(r.Relation), string(r.Decision)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileEngine reads an alignment another process already computed.
type FileEngine struct {
	MappingsPath string
	FeedbackPath string
	// RefinedPath is where the engine leaves its second-pass alignment.
	RefinedPath string
}

func (e *FileEngine) Align(ctx context.Context) ([]model.CandidateMapping, error) {
	return readMappings(e.MappingsPath)
}

// Realign writes the feedback file and reads the second-pass alignment when
// RefinedPath is set.
func (e *FileEngine) Realign(ctx context.Context, feedback []model.RefinedMapping) ([]model.CandidateMapping, error) {
	if err := e.writeFeedback(feedback); err != nil {
		return nil, err
	}
	if e.RefinedPath == "" {
		return nil, nil
	}
	return readMappings(e.RefinedPath)
}

func (e *FileEngine) writeFeedback(feedback []model.RefinedMapping) error {
	if e.FeedbackPath == "" {
		return &config.ConfigurationError{Field: "aligner.feedback_path", Reason: "required to re-align"}
	}
	if err := os.MkdirAll(filepath.Dir(e.FeedbackPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(e.FeedbackPath)
	if err != nil {
		return err
	}
	if err := WriteFeedback(f, feedback); err != nil {
		f.Close()
		return fmt.Errorf("write feedback: %w", err)
	}
	return f.Close()
}

func readMappings(path string) ([]model.CandidateMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alignment: %w", err)
	}
	defer f.Close()
	ms, err := ParseMappings(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ms, nil
}
