// Package reconcile merges oracle verdicts with engine decisions into the
// refined alignment.
package reconcile

import (
	"sort"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// Policy is the consistency constraint re-checked after reconciliation.
type Policy string

const (
	// PolicyOneToOne allows at most one accepted equivalence per source and
	// per target entity.
	PolicyOneToOne Policy = "one_to_one"
	// PolicySourceFunctional allows at most one per source entity.
	PolicySourceFunctional Policy = "source_functional"
	PolicyNone             Policy = "none"
)

type Options struct {
	AcceptThreshold float64
	Policy          Policy
}

func OptionsFromConfig(cfg config.ReconcileConfig) Options {
	p := Policy(cfg.ConflictPolicy)
	if p == "" {
		p = PolicyOneToOne
	}
	return Options{AcceptThreshold: cfg.AcceptThreshold, Policy: p}
}

// EngineDecision is the engine's own verdict when it reported one, else its
// confidence against the threshold.
func EngineDecision(m model.CandidateMapping, threshold float64) model.Decision {
	if m.EngineDecision != model.DecisionUnset {
		return m.EngineDecision
	}
	if m.Confidence >= threshold {
		return model.DecisionAccepted
	}
	return model.DecisionRejected
}

// Reconcile returns one RefinedMapping per candidate, in candidate order.
// Members of mAsk without a verdict are treated as ParseFailure. When mAsk
// is nil, membership is having a verdict. The result depends only on its
// inputs.
func Reconcile(candidates []model.CandidateMapping, mAsk *model.MappingsToAsk, verdicts map[model.MappingID]model.OracleVerdict, opts Options) []model.RefinedMapping {
	out := make([]model.RefinedMapping, len(candidates))
	for i, c := range candidates {
		id := c.ID()
		v, hasVerdict := verdicts[id]
		asked := hasVerdict
		if mAsk != nil {
			asked = mAsk.Contains(id)
		}
		if !asked {
			out[i] = model.RefinedMapping{
				CandidateMapping: c,
				Decision:         EngineDecision(c, opts.AcceptThreshold),
				Provenance:       model.ProvenanceEngineOnly,
				FinalConfidence:  c.Confidence,
			}
			continue
		}
		if !hasVerdict {
			v = model.ParseFailureVerdict(id, "")
		}
		out[i] = apply(c, v, opts.AcceptThreshold)
	}

	resolveConflicts(out, opts.Policy)
	return out
}

func apply(c model.CandidateMapping, v model.OracleVerdict, threshold float64) model.RefinedMapping {
	verdict := v.Verdict
	r := model.RefinedMapping{CandidateMapping: c, Verdict: &verdict, FinalConfidence: c.Confidence}

	switch v.Verdict {
	case model.VerdictConfirm:
		r.Decision = model.DecisionAccepted
		r.Provenance = model.ProvenanceOracleConfirmed
		r.FinalConfidence = 1.0
		if v.Confidence != nil {
			r.FinalConfidence = *v.Confidence
		}
	case model.VerdictReject:
		r.Decision = model.DecisionRejected
		r.Provenance = model.ProvenanceOracleOverridden
	case model.VerdictUncertain, model.VerdictParseFailure:
		r.Decision = EngineDecision(c, threshold)
		r.Provenance = model.ProvenanceOracleFallback
	default:
		panic("reconcile: unhandled verdict " + v.Verdict.String())
	}
	return r
}

func provenanceRank(p model.Provenance) int {
	switch p {
	case model.ProvenanceOracleConfirmed:
		return 0
	case model.ProvenanceOracleFallback:
		return 1
	default:
		return 2
	}
}

// constrained reports whether the mapping takes part in conflict
// resolution. Subsumption mappings may legitimately share entities.
func constrained(r model.RefinedMapping) bool {
	return r.Decision == model.DecisionAccepted &&
		(r.Relation == model.RelationEquivalence || r.Relation == "")
}

// resolveConflicts demotes accepted mappings that violate policy, keeping
// the strongest in each group.
func resolveConflicts(refined []model.RefinedMapping, policy Policy) {
	if policy == PolicyNone {
		return
	}

	var idx []int
	for i, r := range refined {
		if constrained(r) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := refined[idx[a]], refined[idx[b]]
		if x.FinalConfidence != y.FinalConfidence {
			return x.FinalConfidence > y.FinalConfidence
		}
		if rx, ry := provenanceRank(x.Provenance), provenanceRank(y.Provenance); rx != ry {
			return rx < ry
		}
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		return x.ID() < y.ID()
	})

	sources := make(map[string]bool)
	targets := make(map[string]bool)
	for _, i := range idx {
		r := &refined[i]
		clash := sources[r.Source] || (policy == PolicyOneToOne && targets[r.Target])
		if clash {
			r.PriorProvenance = r.Provenance
			r.Provenance = model.ProvenanceConflictResolved
			r.Decision = model.DecisionRejected
			continue
		}
		sources[r.Source] = true
		targets[r.Target] = true
	}
}

// Summary counts refined mappings by decision and provenance.
type Summary struct {
	Total        int                      `json:"total"`
	Accepted     int                      `json:"accepted"`
	Rejected     int                      `json:"rejected"`
	ByProvenance map[model.Provenance]int `json:"by_provenance"`
}

func Summarize(refined []model.RefinedMapping) Summary {
	s := Summary{Total: len(refined), ByProvenance: make(map[model.Provenance]int)}
	for _, r := range refined {
		if r.Decision == model.DecisionAccepted {
			s.Accepted++
		} else {
			s.Rejected++
		}
		s.ByProvenance[r.Provenance]++
	}
	return s
}
