// Package prompt renders oracle prompts for candidate mappings.
package prompt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
	"github.com/agenthands/alignoracle/internal/ontology"
)

// TemplateError reports that a mapping lacks context its template needs, or
// that rendering failed. It is scoped to one mapping.
type TemplateError struct {
	Template  string
	MappingID model.MappingID
	Entity    string
	Field     Field
	Err       error
}

func (e *TemplateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template %s: mapping %s: %v", e.Template, e.MappingID, e.Err)
	}
	return fmt.Sprintf("template %s: mapping %s: %s entity has no %s", e.Template, e.MappingID, e.Entity, e.Field)
}

func (e *TemplateError) Unwrap() error { return e.Err }

type entityView struct {
	IRI          string
	Label        string
	Description  string
	Synonyms     []string
	Ancestors    [][]string
	HasAncestors bool
	LevelNames   []string
}

type renderData struct {
	Noun              string
	Relation          string
	Source            entityView
	Target            entityView
	RequestConfidence bool
}

// Builder renders prompts for one template against two catalogues.
type Builder struct {
	tmpl      Template
	compiled  *template.Template
	developer string
	depth     int
	confident bool
	source    *ontology.Catalogue
	target    *ontology.Catalogue
}

// NewBuilder resolves the configured template and developer prompt. Custom
// templates from cfg.Templates shadow built-ins with the same ID.
func NewBuilder(cfg config.PromptConfig, source, target *ontology.Catalogue) (*Builder, error) {
	tmpl, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	developer, ok := DeveloperPrompt(cfg.Developer)
	if !ok {
		return nil, &config.ConfigurationError{Field: "prompt.developer", Reason: fmt.Sprintf("unknown developer prompt %q", cfg.Developer)}
	}

	compiled, err := template.New(tmpl.ID).
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(answerBlock + parentsBlock + tmpl.Body)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "prompt.templates." + tmpl.ID, Reason: err.Error()}
	}

	depth := tmpl.Depth
	if depth <= 0 {
		depth = cfg.NeighborDepth
	}
	if depth <= 0 {
		depth = 1
	}
	return &Builder{
		tmpl:      tmpl,
		compiled:  compiled,
		developer: developer,
		depth:     depth,
		confident: cfg.RequestConfidence,
		source:    source,
		target:    target,
	}, nil
}

func resolve(cfg config.PromptConfig) (Template, error) {
	if custom, ok := cfg.Templates[cfg.Template]; ok {
		t := Template{ID: cfg.Template, Body: custom.Body, Depth: custom.Depth}
		if strings.TrimSpace(custom.Body) == "" {
			return Template{}, &config.ConfigurationError{Field: "prompt.templates." + cfg.Template, Reason: "empty body"}
		}
		for _, r := range custom.Requires {
			f, err := parseField(r)
			if err != nil {
				return Template{}, &config.ConfigurationError{Field: "prompt.templates." + cfg.Template, Reason: err.Error()}
			}
			t.Requires = append(t.Requires, f)
		}
		return t, nil
	}
	if t, ok := Builtin(cfg.Template); ok {
		return t, nil
	}
	return Template{}, &config.ConfigurationError{Field: "prompt.template", Reason: fmt.Sprintf("unknown template %q", cfg.Template)}
}

// TemplateID is the identifier recorded in artifacts and audit records.
func (b *Builder) TemplateID() string { return b.tmpl.ID }

// Build renders the prompt for m. The result is a pure function of the
// mapping, the catalogues and the builder configuration.
func (b *Builder) Build(m model.CandidateMapping) (model.OraclePrompt, error) {
	id := m.ID()
	src, err := b.view(id, "source", b.source, m.Source)
	if err != nil {
		return model.OraclePrompt{}, err
	}
	tgt, err := b.view(id, "target", b.target, m.Target)
	if err != nil {
		return model.OraclePrompt{}, err
	}

	entityType := m.EntityType
	if entityType == "" || entityType == model.EntityUnknown {
		if e, ok := b.source.Lookup(m.Source); ok {
			entityType = e.Type
		}
	}
	data := renderData{
		Noun:              entityType.Noun(),
		Relation:          m.Relation.Phrase(),
		Source:            src,
		Target:            tgt,
		RequestConfidence: b.confident,
	}

	var buf bytes.Buffer
	if err := b.compiled.ExecuteTemplate(&buf, b.tmpl.ID, data); err != nil {
		return model.OraclePrompt{}, &TemplateError{Template: b.tmpl.ID, MappingID: id, Err: err}
	}

	var msgs []model.Message
	if b.developer != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: b.developer})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: buf.String()})

	return model.OraclePrompt{
		MappingID:   id,
		TemplateID:  b.tmpl.ID,
		Messages:    msgs,
		Fingerprint: Fingerprint(b.tmpl.ID, msgs),
	}, nil
}

func (b *Builder) view(id model.MappingID, role string, cat *ontology.Catalogue, iri string) (entityView, error) {
	e, ok := cat.Lookup(iri)
	if !ok {
		return entityView{}, &TemplateError{Template: b.tmpl.ID, MappingID: id, Entity: role, Err: fmt.Errorf("%s entity %s not in catalogue", role, iri)}
	}

	v := entityView{
		IRI:         e.IRI,
		Label:       displayLabel(e),
		Description: e.Description,
		Synonyms:    sortedCopy(e.Synonyms),
		Ancestors:   make([][]string, b.depth),
		LevelNames:  levelNames(b.depth),
	}
	for i, level := range cat.Ancestors(iri, b.depth) {
		labels := make([]string, len(level))
		for j, p := range level {
			labels[j] = displayLabel(p)
		}
		v.Ancestors[i] = labels
		v.HasAncestors = true
	}

	for _, f := range b.tmpl.Requires {
		missing := false
		switch f {
		case FieldLabel:
			missing = strings.TrimSpace(e.Label) == ""
		case FieldDescription:
			missing = strings.TrimSpace(e.Description) == ""
		case FieldNeighbors:
			missing = !v.HasAncestors
		case FieldSynonyms:
			missing = len(e.Synonyms) == 0
		}
		if missing {
			return entityView{}, &TemplateError{Template: b.tmpl.ID, MappingID: id, Entity: role, Field: f}
		}
	}
	return v, nil
}

func displayLabel(e model.Entity) string {
	if e.Label != "" {
		return e.Label
	}
	iri := e.IRI
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func levelNames(depth int) []string {
	names := make([]string, depth)
	for i := range names {
		switch i {
		case 0:
			names[i] = "Parents"
		case 1:
			names[i] = "Grandparents"
		case 2:
			names[i] = "Great-grandparents"
		default:
			names[i] = fmt.Sprintf("Ancestors (level %d)", i+1)
		}
	}
	return names
}

// Fingerprint hashes the template ID and rendered messages.
func Fingerprint(templateID string, msgs []model.Message) string {
	h := sha256.New()
	h.Write([]byte(templateID))
	for _, m := range msgs {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}
