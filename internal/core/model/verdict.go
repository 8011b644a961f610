package model

import (
	"fmt"
)

// Verdict is the oracle's judgment on one mapping.
type Verdict int

const (
	VerdictParseFailure Verdict = iota
	VerdictConfirm
	VerdictReject
	VerdictUncertain
)

var verdictNames = map[Verdict]string{
	VerdictParseFailure: "parse_failure",
	VerdictConfirm:      "confirm",
	VerdictReject:       "reject",
	VerdictUncertain:    "uncertain",
}

func (v Verdict) String() string {
	if s, ok := verdictNames[v]; ok {
		return s
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Decisive reports whether the verdict overrides the engine.
func (v Verdict) Decisive() bool {
	return v == VerdictConfirm || v == VerdictReject
}

func (v Verdict) MarshalText() ([]byte, error) {
	s, ok := verdictNames[v]
	if !ok {
		return nil, fmt.Errorf("unknown verdict %d", int(v))
	}
	return []byte(s), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	for k, s := range verdictNames {
		if s == string(text) {
			*v = k
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", string(text))
}

// OracleVerdict is the parsed oracle outcome for one mapping.
type OracleVerdict struct {
	MappingID     MappingID `json:"mapping_id"`
	Verdict       Verdict   `json:"verdict"`
	Raw           string    `json:"raw"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Justification string    `json:"justification,omitempty"`
}

// ParseFailureVerdict is the outcome for a mapping whose consultation failed.
func ParseFailureVerdict(id MappingID, raw string) OracleVerdict {
	return OracleVerdict{MappingID: id, Verdict: VerdictParseFailure, Raw: raw}
}

// Message is one chat message of an oracle prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// OraclePrompt is rendered for exactly one mapping and one template.
type OraclePrompt struct {
	MappingID   MappingID `json:"mapping_id"`
	TemplateID  string    `json:"template_id"`
	Messages    []Message `json:"messages"`
	Fingerprint string    `json:"fingerprint"`
}

// UserText returns the content of the last user message.
func (p OraclePrompt) UserText() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == RoleUser {
			return p.Messages[i].Content
		}
	}
	return ""
}
