package model

import "time"

// FieldSource is the active provenance behind a profile field's current
// value. An empty DocumentID denotes a user-supplied override, which always
// carries confidence 1.0. SourceCount is the number of distinct documents
// that agreed on the value.
type FieldSource struct {
	DocumentID   string    `json:"document_id,omitempty"`
	DocumentName string    `json:"document_name,omitempty"`
	Confidence   float64   `json:"confidence"`
	ExtractedAt  time.Time `json:"extracted_at"`
	SourceCount  int       `json:"source_count,omitempty"`
}

// UserOverride reports whether the value was supplied by a human rather
// than extracted from a document.
func (s FieldSource) UserOverride() bool {
	return s.DocumentID == ""
}

// Profile is the consolidated field data for one entity. Fields and Sources
// share the same key set: every field with a value has provenance.
type Profile struct {
	EntityID  string                 `json:"entity_id"`
	Fields    map[string]string      `json:"fields"`
	Sources   map[string]FieldSource `json:"sources"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewProfile creates an empty profile for an entity.
func NewProfile(entityID string) *Profile {
	return &Profile{
		EntityID: entityID,
		Fields:   make(map[string]string),
		Sources:  make(map[string]FieldSource),
	}
}

// Set writes a field value with its provenance.
func (p *Profile) Set(field, value string, src FieldSource) {
	p.Fields[field] = value
	p.Sources[field] = src
}

// Clone returns a deep copy. Cached snapshots hand out clones so readers
// never observe a partially-written profile.
func (p *Profile) Clone() *Profile {
	c := &Profile{
		EntityID:  p.EntityID,
		Fields:    make(map[string]string, len(p.Fields)),
		Sources:   make(map[string]FieldSource, len(p.Sources)),
		UpdatedAt: p.UpdatedAt,
	}
	for k, v := range p.Fields {
		c.Fields[k] = v
	}
	for k, v := range p.Sources {
		c.Sources[k] = v
	}
	return c
}

// CachedProfileSnapshot is a point-in-time view of a profile. It becomes
// stale once now - FetchedAt exceeds the configured TTL; staleness is
// checked lazily on read.
type CachedProfileSnapshot struct {
	Profile   *Profile  `json:"profile"`
	FetchedAt time.Time `json:"fetched_at"`
}
