package model

import (
	"sort"
	"strings"
	"time"
)

// ConflictValue is one candidate value inside a conflict, with the
// provenance that produced it.
type ConflictValue struct {
	Value        string    `json:"value"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Confidence   float64   `json:"confidence"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// Conflict exists when two or more documents produced materially different
// values for the same field. SelectedIndex is -1 until resolved, or when a
// custom value was supplied instead of a candidate.
type Conflict struct {
	FieldName     string          `json:"field_name"`
	Values        []ConflictValue `json:"values"`
	SelectedIndex int             `json:"selected_index"`
	CustomValue   string          `json:"custom_value,omitempty"`
}

// CandidateKey returns a deterministic signature of the candidate value set,
// used to decide whether a stored resolution still covers the conflict after
// new documents arrive.
func (c Conflict) CandidateKey() string {
	keys := make([]string, len(c.Values))
	for i, v := range c.Values {
		keys[i] = NormalizeValue(v.Value)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x1f")
}

// LowConfidenceField flags a single-source field whose confidence fell below
// the acceptance threshold.
type LowConfidenceField struct {
	FieldName  string      `json:"field_name"`
	Value      string      `json:"value"`
	Confidence float64     `json:"confidence"`
	Source     FieldSource `json:"source"`
}

// ReviewItemKind discriminates the review item union.
type ReviewItemKind string

const (
	ReviewKindConflict      ReviewItemKind = "conflict"
	ReviewKindLowConfidence ReviewItemKind = "low_confidence"
)

// ReviewItem is the tagged union the resolver consumes: exactly one of
// Conflict or LowConfidence is set, matching Kind.
type ReviewItem struct {
	Kind          ReviewItemKind      `json:"kind"`
	FieldName     string              `json:"field_name"`
	Conflict      *Conflict           `json:"conflict,omitempty"`
	LowConfidence *LowConfidenceField `json:"low_confidence,omitempty"`
	Resolved      bool                `json:"resolved"`
}

// Resolution records a human decision for one field. Last write wins per
// (entity, field). ReviewedKey captures what the reviewer actually saw so a
// later recomputation can tell whether the decision still applies.
type Resolution struct {
	EntityID    string    `json:"entity_id"`
	FieldName   string    `json:"field_name"`
	Value       string    `json:"value"`
	DocumentID  string    `json:"document_id,omitempty"`
	Confidence  float64   `json:"confidence"`
	ReviewedKey string    `json:"reviewed_key"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// UserSupplied reports whether the resolution was an edit or custom value
// rather than acceptance of an extracted candidate.
func (r Resolution) UserSupplied() bool {
	return r.DocumentID == ""
}

// NormalizeValue folds case and collapses whitespace so that value
// comparison ignores formatting noise. Two records agree when their
// normalized values match.
func NormalizeValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// SameValue reports whether two raw values are materially identical.
func SameValue(a, b string) bool {
	return NormalizeValue(a) == NormalizeValue(b)
}
