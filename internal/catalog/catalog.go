// Package catalog loads domain schemas and artifact destinations from YAML.
package catalog

import (
	"fmt"
	"os"

	"lfgkeeper/internal/models"

	"gopkg.in/yaml.v3"
)

// Wildcard matches any domain in a destination entry.
const Wildcard = "*"

// Destination routes artifacts of one kind for a scope (and optionally a domain) to a channel.
type Destination struct {
	Scope   string              `yaml:"scope"`
	Domain  string              `yaml:"domain"`
	Kind    models.ArtifactKind `yaml:"kind"`
	Channel string              `yaml:"channel"`
}

type file struct {
	Schemas      []models.DomainSchema `yaml:"schemas"`
	Destinations []Destination         `yaml:"destinations"`
}

type schemaKey struct {
	category models.Category
	domain   string
}

type destKey struct {
	scope  string
	domain string
	kind   models.ArtifactKind
}

// Catalog answers schema and destination lookups. It is immutable after load.
type Catalog struct {
	schemas      map[schemaKey]*models.DomainSchema
	destinations map[destKey]string
}

// Load reads a catalog file from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Schemas, f.Destinations)
}

// New builds a catalog from already-decoded entries.
func New(schemas []models.DomainSchema, destinations []Destination) (*Catalog, error) {
	c := &Catalog{
		schemas:      make(map[schemaKey]*models.DomainSchema, len(schemas)),
		destinations: make(map[destKey]string, len(destinations)),
	}

	for i := range schemas {
		s := schemas[i]
		if !s.Category.Valid() || s.Domain == "" {
			return nil, fmt.Errorf("schema %d: category and domain are required", i)
		}
		seen := make(map[string]bool, len(s.Fields))
		for _, field := range s.Fields {
			if field.ID == "" || seen[field.ID] {
				return nil, fmt.Errorf("schema %s/%s: field ids must be unique and non-empty", s.Category, s.Domain)
			}
			seen[field.ID] = true
		}
		key := schemaKey{s.Category, s.Domain}
		if _, dup := c.schemas[key]; dup {
			return nil, fmt.Errorf("schema %s/%s declared twice", s.Category, s.Domain)
		}
		c.schemas[key] = &s
	}

	for i, d := range destinations {
		if d.Scope == "" || d.Channel == "" {
			return nil, fmt.Errorf("destination %d: scope and channel are required", i)
		}
		if d.Kind != models.ArtifactReview && d.Kind != models.ArtifactPublic {
			return nil, fmt.Errorf("destination %d: kind must be review or public", i)
		}
		domain := d.Domain
		if domain == "" {
			domain = Wildcard
		}
		c.destinations[destKey{d.Scope, domain, d.Kind}] = d.Channel
	}

	return c, nil
}

// Schema returns the field schema for (category, domain).
func (c *Catalog) Schema(category models.Category, domain string) (*models.DomainSchema, bool) {
	s, ok := c.schemas[schemaKey{category, domain}]
	return s, ok
}

// ResolveTarget returns the channel for (scope, domain, kind), preferring a domain-specific
// entry over the scope-wide wildcard.
func (c *Catalog) ResolveTarget(scope, domain string, kind models.ArtifactKind) (string, bool) {
	if ch, ok := c.destinations[destKey{scope, domain, kind}]; ok {
		return ch, true
	}
	ch, ok := c.destinations[destKey{scope, Wildcard, kind}]
	return ch, ok
}

// Domains lists the configured (category, domain) pairs.
func (c *Catalog) Domains() []models.DomainSchema {
	out := make([]models.DomainSchema, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, *s)
	}
	return out
}
