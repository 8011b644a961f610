package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PairSeparator joins source and target IRIs into a MappingID, as in the
// LogMap mapping files.
const PairSeparator = "|"

// MappingID identifies a correspondence: "sourceIRI|targetIRI".
type MappingID string

func NewMappingID(source, target string) MappingID {
	return MappingID(source + PairSeparator + target)
}

// Split returns the source and target IRIs.
func (id MappingID) Split() (source, target string, err error) {
	parts := strings.Split(string(id), PairSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed mapping id %q", string(id))
	}
	return parts[0], parts[1], nil
}

// Decision is the accept/reject outcome for a mapping.
type Decision string

const (
	DecisionUnset    Decision = ""
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// CandidateMapping is produced by the alignment engine and is read-only here.
type CandidateMapping struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Relation   Relation   `json:"relation"`
	EntityType EntityType `json:"entity_type,omitempty"`
	Confidence float64    `json:"confidence"`
	// EngineDecision is set when the engine reports its own verdict; when
	// unset the accept threshold decides.
	EngineDecision Decision `json:"engine_decision,omitempty"`
}

func (m CandidateMapping) ID() MappingID {
	return NewMappingID(m.Source, m.Target)
}

// MappingsToAsk is the immutable, deduplicated, ordered M_ask set.
type MappingsToAsk struct {
	items []CandidateMapping
	index map[MappingID]int
}

// NewMappingsToAsk keeps the first occurrence of every mapping ID.
func NewMappingsToAsk(mappings []CandidateMapping) *MappingsToAsk {
	m := &MappingsToAsk{index: make(map[MappingID]int, len(mappings))}
	for _, c := range mappings {
		id := c.ID()
		if _, dup := m.index[id]; dup {
			continue
		}
		m.index[id] = len(m.items)
		m.items = append(m.items, c)
	}
	return m
}

func (m *MappingsToAsk) Len() int {
	if m == nil {
		return 0
	}
	return len(m.items)
}

// Items returns a copy in selection order.
func (m *MappingsToAsk) Items() []CandidateMapping {
	if m == nil {
		return nil
	}
	out := make([]CandidateMapping, len(m.items))
	copy(out, m.items)
	return out
}

func (m *MappingsToAsk) Contains(id MappingID) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[id]
	return ok
}

// Position returns the selection index of id, or -1.
func (m *MappingsToAsk) Position(id MappingID) int {
	if m == nil {
		return -1
	}
	if i, ok := m.index[id]; ok {
		return i
	}
	return -1
}

func (m *MappingsToAsk) MarshalJSON() ([]byte, error) {
	items := m.Items()
	if items == nil {
		items = []CandidateMapping{}
	}
	return json.Marshal(items)
}

func (m *MappingsToAsk) UnmarshalJSON(data []byte) error {
	var items []CandidateMapping
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*m = *NewMappingsToAsk(items)
	return nil
}
