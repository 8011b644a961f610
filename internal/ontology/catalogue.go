// Package ontology holds materialized entity descriptions for the two
// ontologies of an alignment task.
package ontology

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/agenthands/alignoracle/internal/core/model"
)

// Catalogue indexes the entities of one ontology by IRI.
type Catalogue struct {
	Name     string
	entities map[string]model.Entity
}

type catalogueFile struct {
	Name     string         `yaml:"name"`
	Entities []model.Entity `yaml:"entities"`
}

func NewCatalogue(name string, entities []model.Entity) *Catalogue {
	c := &Catalogue{Name: name, entities: make(map[string]model.Entity, len(entities))}
	for _, e := range entities {
		if e.Type == "" {
			e.Type = model.EntityUnknown
		}
		c.entities[e.IRI] = e
	}
	return c
}

// Load reads a YAML (or JSON) catalogue file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity catalogue %s: %w", path, err)
	}
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse entity catalogue %s: %w", path, err)
	}
	for i, e := range f.Entities {
		if e.IRI == "" {
			return nil, fmt.Errorf("entity catalogue %s: entry %d has no iri", path, i)
		}
	}
	name := f.Name
	if name == "" {
		name = path
	}
	return NewCatalogue(name, f.Entities), nil
}

func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entities)
}

func (c *Catalogue) Lookup(iri string) (model.Entity, bool) {
	if c == nil {
		return model.Entity{}, false
	}
	e, ok := c.entities[iri]
	return e, ok
}

// Ancestors returns the entity's parents grouped by level, up to depth
// levels. Each level is sorted by IRI and no entity appears twice. Parents
// missing from the catalogue are returned with only their IRI set.
func (c *Catalogue) Ancestors(iri string, depth int) [][]model.Entity {
	if c == nil || depth <= 0 {
		return nil
	}
	start, ok := c.entities[iri]
	if !ok {
		return nil
	}

	visited := map[string]bool{iri: true}
	frontier := []model.Entity{start}
	var levels [][]model.Entity
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []model.Entity
		for _, e := range frontier {
			for _, p := range e.Parents {
				if visited[p] {
					continue
				}
				visited[p] = true
				parent, found := c.entities[p]
				if !found {
					parent = model.Entity{IRI: p}
				}
				next = append(next, parent)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Slice(next, func(i, j int) bool { return next[i].IRI < next[j].IRI })
		levels = append(levels, next)
		frontier = next
	}
	return levels
}
