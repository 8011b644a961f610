package llm

import "encoding/json"

// OutputFormat selects the structured answer a backend asks the provider
// for. Backends without native support send the request unchanged and the
// verdict parser reads the free text.
type OutputFormat string

const (
	FormatPlain               OutputFormat = "plain"
	FormatAnswer              OutputFormat = "answer"
	FormatAnswerWithReasoning OutputFormat = "answer_reasoning"
)

// Structured reports whether f asks for a JSON answer.
func (f OutputFormat) Structured() bool {
	return f == FormatAnswer || f == FormatAnswerWithReasoning
}

// schemaName follows the response model names the prompts were tuned with.
func (f OutputFormat) schemaName() string {
	if f == FormatAnswerWithReasoning {
		return "BinaryOutputFormatWithReasoning"
	}
	return "BinaryOutputFormat"
}

// fields lists the answer properties in the order the model should emit
// them: reasoning before the answer.
func (f OutputFormat) fields() []formatField {
	if f == FormatAnswerWithReasoning {
		return []formatField{{"reasoning", "string"}, {"answer", "boolean"}}
	}
	return []formatField{{"answer", "boolean"}}
}

type formatField struct {
	name, kind string
}

// jsonSchema is the strict JSON schema of the answer object.
func (f OutputFormat) jsonSchema() json.RawMessage {
	props := make(map[string]map[string]string)
	var required []string
	for _, fl := range f.fields() {
		props[fl.name] = map[string]string{"type": fl.kind}
		required = append(required, fl.name)
	}
	data, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	return data
}
