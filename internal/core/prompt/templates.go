package prompt

import (
	"fmt"
	"strings"
)

// Field is a piece of entity context a template depends on.
type Field string

const (
	FieldLabel       Field = "label"
	FieldDescription Field = "description"
	FieldNeighbors   Field = "neighbors"
	FieldSynonyms    Field = "synonyms"
)

func parseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldLabel, FieldDescription, FieldNeighbors, FieldSynonyms:
		return f, nil
	}
	return "", fmt.Errorf("unknown template field %q", s)
}

// Template is a user-prompt template. Depth is the number of ancestor levels
// rendered; zero means the builder's configured neighbor depth.
type Template struct {
	ID       string
	Body     string
	Requires []Field
	Depth    int
}

// answerBlock is appended to every template.
const answerBlock = `{{define "answer"}}Answer with a single word: true or false.{{if .RequestConfidence}}
Then add a line "Confidence: <a number between 0 and 1>" and a line "Justification: <one sentence>".{{end}}{{end}}`

// parentsBlock renders an entityView's ancestor levels.
const parentsBlock = `{{define "parents"}}{{if .HasAncestors}}{{range $i, $level := .Ancestors}}{{if $level}}
  {{index $.LevelNames $i}}: {{join $level ", "}}{{end}}{{end}}{{else}}
  Parents: none recorded{{end}}{{end}}`

var builtins = []Template{
	{
		ID:       "label_only",
		Requires: []Field{FieldLabel},
		Body: `Source {{.Noun}}: "{{.Source.Label}}"
Target {{.Noun}}: "{{.Target.Label}}"

Is the source {{.Noun}} {{.Relation}} the target {{.Noun}}?
{{template "answer" .}}`,
	},
	{
		ID:       "label_description",
		Requires: []Field{FieldLabel, FieldDescription},
		Body: `Source {{.Noun}}: "{{.Source.Label}}"
  Description: {{.Source.Description}}
Target {{.Noun}}: "{{.Target.Label}}"
  Description: {{.Target.Description}}

Is the source {{.Noun}} {{.Relation}} the target {{.Noun}}?
{{template "answer" .}}`,
	},
	{
		ID:       "label_description_neighbors",
		Requires: []Field{FieldLabel, FieldDescription, FieldNeighbors},
		Body: `Source {{.Noun}}: "{{.Source.Label}}"
  Description: {{.Source.Description}}{{template "parents" .Source}}
Target {{.Noun}}: "{{.Target.Label}}"
  Description: {{.Target.Description}}{{template "parents" .Target}}

Is the source {{.Noun}} {{.Relation}} the target {{.Noun}}?
{{template "answer" .}}`,
	},
	{
		ID:       "one_level_of_parents",
		Requires: []Field{FieldLabel},
		Depth:    1,
		Body: `We have the {{.Noun}} "{{.Source.Label}}" from the source ontology{{with index .Source.Ancestors 0}}, a kind of {{join . ", "}}{{end}}.
We have the {{.Noun}} "{{.Target.Label}}" from the target ontology{{with index .Target.Ancestors 0}}, a kind of {{join . ", "}}{{end}}.
Is "{{.Source.Label}}" {{.Relation}} "{{.Target.Label}}"?
{{template "answer" .}}`,
	},
	{
		ID:       "two_levels_of_parents",
		Requires: []Field{FieldLabel},
		Depth:    2,
		Body: `We have the {{.Noun}} "{{.Source.Label}}" from the source ontology{{with index .Source.Ancestors 0}}, a kind of {{join . ", "}}{{end}}{{with index .Source.Ancestors 1}}, which in turn falls under {{join . ", "}}{{end}}.
We have the {{.Noun}} "{{.Target.Label}}" from the target ontology{{with index .Target.Ancestors 0}}, a kind of {{join . ", "}}{{end}}{{with index .Target.Ancestors 1}}, which in turn falls under {{join . ", "}}{{end}}.
Is "{{.Source.Label}}" {{.Relation}} "{{.Target.Label}}"?
{{template "answer" .}}`,
	},
	{
		ID:       "one_level_of_parents_structured",
		Requires: []Field{FieldLabel},
		Depth:    1,
		Body: `Source {{.Noun}}:
  Label: {{.Source.Label}}{{template "parents" .Source}}
Target {{.Noun}}:
  Label: {{.Target.Label}}{{template "parents" .Target}}
Posited relation: source is {{.Relation}} target.
{{template "answer" .}}`,
	},
	{
		ID:       "two_levels_of_parents_structured",
		Requires: []Field{FieldLabel},
		Depth:    2,
		Body: `Source {{.Noun}}:
  Label: {{.Source.Label}}{{template "parents" .Source}}
Target {{.Noun}}:
  Label: {{.Target.Label}}{{template "parents" .Target}}
Posited relation: source is {{.Relation}} target.
{{template "answer" .}}`,
	},
	{
		ID:       "one_level_of_parents_and_synonyms",
		Requires: []Field{FieldLabel},
		Depth:    1,
		Body: `Source {{.Noun}}: "{{.Source.Label}}"
  Synonyms: {{with .Source.Synonyms}}{{join . ", "}}{{else}}none{{end}}{{template "parents" .Source}}
Target {{.Noun}}: "{{.Target.Label}}"
  Synonyms: {{with .Target.Synonyms}}{{join . ", "}}{{else}}none{{end}}{{template "parents" .Target}}

Using the synonyms and the parent categories, is the source {{.Noun}} {{.Relation}} the target {{.Noun}}?
{{template "answer" .}}`,
	},
	{
		ID:       "two_levels_of_parents_and_synonyms",
		Requires: []Field{FieldLabel},
		Depth:    2,
		Body: `Source {{.Noun}}: "{{.Source.Label}}"
  Synonyms: {{with .Source.Synonyms}}{{join . ", "}}{{else}}none{{end}}{{template "parents" .Source}}
Target {{.Noun}}: "{{.Target.Label}}"
  Synonyms: {{with .Target.Synonyms}}{{join . ", "}}{{else}}none{{end}}{{template "parents" .Target}}

Using the synonyms and the parent categories, is the source {{.Noun}} {{.Relation}} the target {{.Noun}}?
{{template "answer" .}}`,
	},
}

// Builtin returns the named built-in template.
func Builtin(id string) (Template, bool) {
	for _, t := range builtins {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// BuiltinIDs lists the built-in template identifiers in declaration order.
func BuiltinIDs() []string {
	ids := make([]string, len(builtins))
	for i, t := range builtins {
		ids[i] = t.ID
	}
	return ids
}

// Developer (system) prompts, selected by name.
var developerPrompts = map[string]string{
	"generic": "You are assisting with an OWL ontology alignment task. You will see one entity from each of two " +
		"ontologies, both of the same kind (classes, properties or individuals), possibly with some ontological " +
		"context, and a posited relation between them. Acting as both an ontology alignment expert and a domain " +
		"expert, decide whether the posited relation holds. Reply with one word: true or false.",
	"class_equivalence": "You are assisting with an OWL ontology alignment task. You will see one class from each " +
		"of two ontologies, possibly with some ontological context. Acting as both an ontology alignment expert and " +
		"a domain expert, decide whether the two classes are semantically equivalent. Reply with one word: true or false.",
	"biomedical": "You are an expert in biomedical ontologies. Decide whether two entities from different " +
		"biomedical ontologies denote the same underlying concept, taking into account their meaning and their " +
		"place in the hierarchy. Be precise.",
	"biomedical_synonyms": "You are a domain expert aligning entities across biomedical ontologies. Entities may " +
		"come with synonyms and parent categories. Use both to decide whether the two entities are semantically " +
		"equivalent. Be precise.",
}

// DeveloperPrompt returns the system prompt for name. "none" and "" select
// no system message, for models that do not accept one.
func DeveloperPrompt(name string) (string, bool) {
	switch name {
	case "", "none":
		return "", true
	}
	p, ok := developerPrompts[name]
	return p, ok
}
