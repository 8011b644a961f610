// Package verdict turns raw oracle text into typed verdicts.
package verdict

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/agenthands/alignoracle/internal/core/common"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// Vocabulary maps lower-case labels to verdicts.
type Vocabulary map[string]model.Verdict

// DefaultVocabulary covers the labels the built-in templates ask for plus
// the common spellings models answer with.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		"confirm":   model.VerdictConfirm,
		"confirmed": model.VerdictConfirm,
		"true":      model.VerdictConfirm,
		"accept":    model.VerdictConfirm,
		"accepted":  model.VerdictConfirm,
		"reject":    model.VerdictReject,
		"rejected":  model.VerdictReject,
		"false":     model.VerdictReject,
		"uncertain": model.VerdictUncertain,
		"unsure":    model.VerdictUncertain,
		"unknown":   model.VerdictUncertain,
	}
}

var (
	wordRe          = regexp.MustCompile(`\p{L}+(?:'\p{L}+)?`)
	confidenceRe    = regexp.MustCompile(`(?im)^\W*confidence\W*[:=]\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	justificationRe = regexp.MustCompile(`(?im)^\W*(?:justification|reasoning|reason)\W*[:=]\s*(.+)$`)
	annotationRe    = regexp.MustCompile(`(?im)^\W*(?:confidence|justification|reasoning|reason)\W*[:=].*$`)
)

// negators turn a following label into its refusal: "not true", "cannot
// confirm".
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "cannot": true, "can't": true,
	"isn't": true, "don't": true, "doesn't": true, "won't": true, "wouldn't": true,
	"aren't": true, "wasn't": true, "shouldn't": true, "couldn't": true, "nor": true,
}

// negationWindow is how many words before a label are checked for a negator.
const negationWindow = 3

// Parser is safe for concurrent use.
type Parser struct {
	vocab Vocabulary
}

func NewParser(vocab Vocabulary) *Parser {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary()
	}
	lower := make(Vocabulary, len(vocab))
	for k, v := range vocab {
		lower[strings.ToLower(k)] = v
	}
	return &Parser{vocab: lower}
}

type structured struct {
	Answer        json.RawMessage `json:"answer"`
	Verdict       json.RawMessage `json:"verdict"`
	Confidence    *float64        `json:"confidence"`
	Reasoning     string          `json:"reasoning"`
	Justification string          `json:"justification"`
}

// Parse classifies raw. fallbackConfidence, typically derived from token
// logprobs, is used when the text reports no confidence of its own. Parse
// never fails: unrecognisable or conflicting text yields VerdictParseFailure.
func (p *Parser) Parse(id model.MappingID, raw string, fallbackConfidence *float64) model.OracleVerdict {
	out := model.ParseFailureVerdict(id, raw)
	if strings.TrimSpace(raw) == "" {
		return out
	}

	if v, ok := p.parseStructured(raw); ok {
		v.MappingID = id
		v.Raw = raw
		if v.Verdict == model.VerdictParseFailure {
			return v
		}
		if v.Confidence == nil {
			v.Confidence = validConfidence(fallbackConfidence)
		}
		return v
	}

	out.Justification = extractJustification(raw)
	out.Verdict = p.classify(annotationRe.ReplaceAllString(raw, " "))
	out.Confidence = extractConfidence(raw)
	if out.Confidence == nil {
		out.Confidence = validConfidence(fallbackConfidence)
	}
	if out.Verdict == model.VerdictParseFailure {
		out.Confidence = nil
	}
	return out
}

// parseStructured reports false when raw has no JSON answer, in which case
// the free-text path applies.
func (p *Parser) parseStructured(raw string) (model.OracleVerdict, bool) {
	s, err := common.ParseJSON[structured](raw)
	if err != nil {
		return model.OracleVerdict{}, false
	}
	answer := s.Answer
	if len(answer) == 0 {
		answer = s.Verdict
	}
	if len(answer) == 0 {
		return model.OracleVerdict{}, false
	}

	var v model.Verdict
	var b bool
	var str string
	switch {
	case json.Unmarshal(answer, &b) == nil:
		v = model.VerdictReject
		if b {
			v = model.VerdictConfirm
		}
	case json.Unmarshal(answer, &str) == nil:
		v = p.classify(str)
	default:
		return model.OracleVerdict{Verdict: model.VerdictParseFailure}, true
	}
	if v == model.VerdictParseFailure {
		return model.OracleVerdict{Verdict: model.VerdictParseFailure}, true
	}

	justification := s.Justification
	if justification == "" {
		justification = s.Reasoning
	}
	return model.OracleVerdict{
		Verdict:       v,
		Confidence:    validConfidence(s.Confidence),
		Justification: strings.TrimSpace(justification),
	}, true
}

// classify requires every recognised label in text to agree. A negated
// label is not guessed into its opposite: it makes the text a ParseFailure.
func (p *Parser) classify(text string) model.Verdict {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	words := wordRe.FindAllString(text, -1)
	found := model.VerdictParseFailure
	for i, w := range words {
		v, ok := p.vocab[w]
		if !ok {
			continue
		}
		if p.negated(words, i) {
			return model.VerdictParseFailure
		}
		if found != model.VerdictParseFailure && found != v {
			return model.VerdictParseFailure
		}
		found = v
	}
	return found
}

func (p *Parser) negated(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationWindow; j-- {
		w := words[j]
		if _, isLabel := p.vocab[w]; isLabel {
			continue
		}
		if negators[w] {
			return true
		}
	}
	return false
}

func extractConfidence(raw string) *float64 {
	m := confidenceRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	c, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	if m[2] == "%" {
		c /= 100
	}
	return validConfidence(&c)
}

func extractJustification(raw string) string {
	m := justificationRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func validConfidence(c *float64) *float64 {
	if c == nil || *c < 0 || *c > 1 {
		return nil
	}
	v := *c
	return &v
}
