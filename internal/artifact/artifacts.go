package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agenthands/alignoracle/internal/core/model"
)

// Names derives artifact file names from the task and template.
type Names struct {
	Task     string
	Template string
}

func (n Names) MappingsToAsk() string { return n.Task + "-mappings_to_ask.json" }
func (n Names) Audit() string         { return fmt.Sprintf("%s-%s-oracle_audit.json", n.Task, n.Template) }
func (n Names) Verdicts() string      { return fmt.Sprintf("%s-%s-oracle_verdicts.json", n.Task, n.Template) }
func (n Names) Refined() string       { return n.Task + "-refined_alignment.json" }
func (n Names) RefinedText() string   { return n.Task + "-refined_alignment.txt" }
func (n Names) Report() string        { return n.Task + "-run_report.json" }
func (n Names) Realigned() string     { return n.Task + "-realigned_mappings.json" }
func (n Names) Session() string       { return n.Task + "-session.json" }

// Writer stores the artifacts of one run.
type Writer struct {
	store Store
	runID string
	Names Names
}

func NewWriter(store Store, runID string, names Names) *Writer {
	return &Writer{store: store, runID: runID, Names: names}
}

func (w *Writer) PutJSON(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := w.store.Put(ctx, w.runID, name, append(data, '\n')); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

func (w *Writer) MappingsToAsk(ctx context.Context, m *model.MappingsToAsk) error {
	return w.PutJSON(ctx, w.Names.MappingsToAsk(), m)
}

// Verdicts are stored as a list in M_ask order.
func (w *Writer) Verdicts(ctx context.Context, mAsk *model.MappingsToAsk, verdicts map[model.MappingID]model.OracleVerdict) error {
	list := make([]model.OracleVerdict, 0, len(verdicts))
	for _, m := range mAsk.Items() {
		if v, ok := verdicts[m.ID()]; ok {
			list = append(list, v)
		}
	}
	return w.PutJSON(ctx, w.Names.Verdicts(), list)
}

// Refined stores the refined alignment as JSON and as pipe-separated text.
func (w *Writer) Refined(ctx context.Context, refined []model.RefinedMapping) error {
	if refined == nil {
		refined = []model.RefinedMapping{}
	}
	if err := w.PutJSON(ctx, w.Names.Refined(), refined); err != nil {
		return err
	}
	return w.store.Put(ctx, w.runID, w.Names.RefinedText(), EncodeRefinedText(refined))
}

// EncodeRefinedText writes one line per mapping:
// source|target|relation|confidence|decision|provenance.
func EncodeRefinedText(refined []model.RefinedMapping) []byte {
	var buf bytes.Buffer
	for _, r := range refined {
		buf.WriteString(r.Source)
		buf.WriteByte('|')
		buf.WriteString(r.Target)
		buf.WriteByte('|')
		buf.WriteString(string(r.Relation))
		buf.WriteByte('|')
		buf.WriteString(strconv.FormatFloat(r.FinalConfidence, 'f', -1, 64))
		buf.WriteByte('|')
		buf.WriteString(string(r.Decision))
		buf.WriteByte('|')
		buf.WriteString(string(r.Provenance))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ReadVerdicts loads a verdicts artifact keyed by mapping identity.
func ReadVerdicts(ctx context.Context, store Store, runID, name string) (map[model.MappingID]model.OracleVerdict, error) {
	data, err := store.Get(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	var list []model.OracleVerdict
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	out := make(map[model.MappingID]model.OracleVerdict, len(list))
	for _, v := range list {
		out[v.MappingID] = v
	}
	return out, nil
}

// ReadRefined loads a refined-alignment JSON artifact.
func ReadRefined(ctx context.Context, store Store, runID, name string) ([]model.RefinedMapping, error) {
	data, err := store.Get(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	var refined []model.RefinedMapping
	if err := json.Unmarshal(data, &refined); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return refined, nil
}
