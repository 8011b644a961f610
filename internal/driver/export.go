package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/alignoracle/internal/core/model"
)

const defaultBatchSize = 500

// AlignmentExporter mirrors refined alignments into the graph store as
// (:OntologyEntity)-[:ALIGNED_WITH]->(:OntologyEntity).
type AlignmentExporter struct {
	Driver         GraphDriver
	SourceOntology string
	TargetOntology string
	BatchSize      int
	now            func() time.Time
}

func NewAlignmentExporter(d GraphDriver, sourceOntology, targetOntology string) *AlignmentExporter {
	return &AlignmentExporter{
		Driver:         d,
		SourceOntology: sourceOntology,
		TargetOntology: targetOntology,
		BatchSize:      defaultBatchSize,
		now:            time.Now,
	}
}

// ExportAlignment writes every refined mapping, accepted or not, in batches.
func (e *AlignmentExporter) ExportAlignment(ctx context.Context, runID, task string, refined []model.RefinedMapping) (int, error) {
	size := e.BatchSize
	if size < 1 {
		size = defaultBatchSize
	}
	exportedAt := e.now().UTC().Format(time.RFC3339)

	total := 0
	for start := 0; start < len(refined); start += size {
		end := min(start+size, len(refined))
		rows := make([]map[string]interface{}, 0, end-start)
		for _, r := range refined[start:end] {
			rows = append(rows, rowFor(r))
		}
		res, err := e.Driver.ExecuteQuery(ctx, MergeAlignmentQuery, map[string]interface{}{
			"rows":            rows,
			"run_id":          runID,
			"task":            task,
			"source_ontology": e.SourceOntology,
			"target_ontology": e.TargetOntology,
			"exported_at":     exportedAt,
		})
		if err != nil {
			return total, fmt.Errorf("export alignment batch at %d: %w", start, err)
		}
		total += exportedCount(res, end-start)
	}
	return total, nil
}

func rowFor(r model.RefinedMapping) map[string]interface{} {
	verdict := ""
	if r.Verdict != nil {
		verdict = r.Verdict.String()
	}
	return map[string]interface{}{
		"source":            r.Source,
		"target":            r.Target,
		"relation":          string(r.Relation),
		"decision":          string(r.Decision),
		"provenance":        string(r.Provenance),
		"confidence":        r.FinalConfidence,
		"engine_confidence": r.Confidence,
		"verdict":           verdict,
	}
}

func exportedCount(res neo4j.EagerResult, fallback int) int {
	if len(res.Records) == 0 {
		return fallback
	}
	if v, ok := res.Records[0].Get("exported"); ok {
		if n, ok := v.(int64); ok {
			return int(n)
		}
	}
	return fallback
}

// AcceptedMappings reads back the accepted mappings exported for runID.
func (e *AlignmentExporter) AcceptedMappings(ctx context.Context, runID string) ([]model.RefinedMapping, error) {
	res, err := e.Driver.ExecuteQuery(ctx, GetAcceptedAlignmentQuery, map[string]interface{}{"run_id": runID})
	if err != nil {
		return nil, err
	}
	out := make([]model.RefinedMapping, 0, len(res.Records))
	for _, rec := range res.Records {
		var r model.RefinedMapping
		r.Decision = model.DecisionAccepted
		if v, ok := rec.Get("source"); ok {
			r.Source, _ = v.(string)
		}
		if v, ok := rec.Get("target"); ok {
			r.Target, _ = v.(string)
		}
		if v, ok := rec.Get("relation"); ok {
			s, _ := v.(string)
			r.Relation = model.Relation(s)
		}
		if v, ok := rec.Get("confidence"); ok {
			r.FinalConfidence, _ = v.(float64)
		}
		if v, ok := rec.Get("provenance"); ok {
			s, _ := v.(string)
			r.Provenance = model.Provenance(s)
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteRun removes the edges written for runID.
func (e *AlignmentExporter) DeleteRun(ctx context.Context, runID string) error {
	_, err := e.Driver.ExecuteQuery(ctx, DeleteRunAlignmentQuery, map[string]interface{}{"run_id": runID})
	return err
}
