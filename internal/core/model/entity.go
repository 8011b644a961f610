package model

import "fmt"

// EntityType uses the symbols LogMap writes in its output files.
type EntityType string

const (
	EntityClass          EntityType = "CLS"
	EntityDataProperty   EntityType = "DPROP"
	EntityObjectProperty EntityType = "OPROP"
	EntityInstance       EntityType = "INST"
	EntityUnknown        EntityType = "UNKNO"
)

func ParseEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityClass, EntityDataProperty, EntityObjectProperty, EntityInstance:
		return EntityType(s)
	default:
		return EntityUnknown
	}
}

// Noun is the human-readable name used in prompts.
func (t EntityType) Noun() string {
	switch t {
	case EntityClass:
		return "class"
	case EntityDataProperty:
		return "data property"
	case EntityObjectProperty:
		return "object property"
	case EntityInstance:
		return "individual"
	default:
		return "entity"
	}
}

// Relation is the posited relation between a source and a target entity.
type Relation string

const (
	RelationEquivalence  Relation = "="
	RelationSubClassOf   Relation = "<"
	RelationSuperClassOf Relation = ">"
)

func ParseRelation(s string) (Relation, error) {
	switch Relation(s) {
	case RelationEquivalence, RelationSubClassOf, RelationSuperClassOf:
		return Relation(s), nil
	}
	return "", fmt.Errorf("unknown relation %q", s)
}

// Phrase renders the relation for prompts: "<source> is <phrase> <target>".
func (r Relation) Phrase() string {
	switch r {
	case RelationSubClassOf:
		return "a subclass of"
	case RelationSuperClassOf:
		return "a superclass of"
	default:
		return "equivalent to"
	}
}

// Entity is a materialized description of one ontology entity.
type Entity struct {
	IRI         string     `json:"iri" yaml:"iri"`
	Label       string     `json:"label" yaml:"label"`
	Type        EntityType `json:"type,omitempty" yaml:"type"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Synonyms    []string   `json:"synonyms,omitempty" yaml:"synonyms"`
	Parents     []string   `json:"parents,omitempty" yaml:"parents"`
}
