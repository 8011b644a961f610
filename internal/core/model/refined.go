package model

// Provenance records which decision path produced a refined mapping.
type Provenance string

const (
	ProvenanceEngineOnly       Provenance = "engine-only"
	ProvenanceOracleConfirmed  Provenance = "oracle-confirmed"
	ProvenanceOracleOverridden Provenance = "oracle-overridden"
	ProvenanceOracleFallback   Provenance = "oracle-inconclusive-fallback"
	ProvenanceConflictResolved Provenance = "conflict-resolved"
)

// RefinedMapping is a candidate annotated with its final decision.
type RefinedMapping struct {
	CandidateMapping
	Decision   Decision   `json:"decision"`
	Provenance Provenance `json:"provenance"`
	// FinalConfidence is the post-reconciliation confidence used for
	// conflict resolution.
	FinalConfidence float64 `json:"final_confidence"`
	// PriorProvenance is set when conflict resolution demoted the mapping.
	PriorProvenance Provenance `json:"prior_provenance,omitempty"`
	Verdict         *Verdict   `json:"verdict,omitempty"`
}

// TokenUsage counts oracle tokens.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}
