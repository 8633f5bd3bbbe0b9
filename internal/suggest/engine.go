// Package suggest ranks an entity's consolidated field values against a
// form field the user is filling. Suggestions are best-effort: storage
// trouble degrades to an empty list, never an error in the user's face.
package suggest

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/model"
	"github.com/formworks/profile-cli/internal/monitoring"
)

// Weights are the scoring factor weights. They should sum to 1 but the
// engine does not enforce it; relative magnitude is what matters.
type Weights struct {
	NameSimilarity float64
	Confidence     float64
	Recency        float64
	SourceCount    float64
}

// DefaultWeights favor matching the right field over everything else.
var DefaultWeights = Weights{
	NameSimilarity: 0.4,
	Confidence:     0.3,
	Recency:        0.2,
	SourceCount:    0.1,
}

const (
	// DefaultHalfLifeDays halves a value's recency factor every 30 days.
	DefaultHalfLifeDays = 30
	// DefaultMaxResults caps a suggestion response.
	DefaultMaxResults = 5
	// sourceCountCeiling is where additional agreeing documents stop
	// adding credit.
	sourceCountCeiling = 5
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Weights      Weights
	HalfLifeDays float64
	MaxResults   int
}

// Query is one suggestion request.
type Query struct {
	EntityID string
	// FieldLabel is the form field's label or name as the form presents it.
	FieldLabel string
	// TypeHint optionally constrains candidates by field type. Empty or
	// unrecognized hints fall back to inference from FieldLabel.
	TypeHint string
	// Input is what the user has typed so far; non-empty input narrows
	// candidates to values containing it.
	Input string
	// Limit caps the response; zero means the configured maximum.
	Limit int
}

// Suggestion is one ranked candidate value.
type Suggestion struct {
	FieldName    string    `json:"field_name"`
	Value        string    `json:"value"`
	Score        float64   `json:"score"`
	Confidence   float64   `json:"confidence"`
	SourceCount  int       `json:"source_count"`
	DocumentName string    `json:"document_name,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

// Engine ranks profile values for form fields.
type Engine struct {
	agg     *aggregate.Aggregator
	metrics *monitoring.Collector
	cfg     Config
	now     func() time.Time
}

// New wires a suggestion engine. metrics may be nil.
func New(agg *aggregate.Aggregator, metrics *monitoring.Collector, cfg Config) *Engine {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = DefaultHalfLifeDays
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Engine{agg: agg, metrics: metrics, cfg: cfg, now: time.Now}
}

// candidate accumulates the records that agree on one (field, value) pair.
type candidate struct {
	fieldName    string
	value        string
	confidence   float64
	extractedAt  time.Time
	documentName string
	docs         map[string]struct{}
}

// Suggest returns ranked candidates for the query, best first. Candidates
// come from every distinct value in the stored record history plus user
// overrides, not just the current winners, so a value that lost a conflict
// can still be offered. An entity with no history yields an empty list, as
// does a storage failure.
func (e *Engine) Suggest(ctx context.Context, q Query) []Suggestion {
	hit := e.agg.CacheFresh(q.EntityID)
	profile, err := e.agg.Profile(ctx, q.EntityID)
	var records []model.ExtractedFieldRecord
	if err == nil {
		records, err = e.agg.History(ctx, q.EntityID)
	}
	if err != nil {
		zap.L().Warn("suggestions unavailable, returning none",
			zap.String("entity_id", q.EntityID),
			zap.String("field", q.FieldLabel),
			zap.Error(err))
		e.metrics.SuggestionQuery(false)
		return nil
	}
	e.metrics.SuggestionQuery(hit)

	want := model.ParseFieldType(q.TypeHint)
	if want == model.FieldTypeUnknown {
		want = model.InferFieldType(q.FieldLabel)
	}
	input := strings.ToLower(strings.TrimSpace(q.Input))
	now := e.now()

	suggestions := make([]Suggestion, 0, len(records))
	for _, c := range collectCandidates(profile, records) {
		if !model.Compatible(want, model.InferFieldType(c.fieldName)) {
			continue
		}
		if !model.ValidValue(want, c.value) {
			continue
		}
		if input != "" && !strings.Contains(strings.ToLower(c.value), input) {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			FieldName:    c.fieldName,
			Value:        c.value,
			Score:        e.score(q.FieldLabel, c, now),
			Confidence:   c.confidence,
			SourceCount:  len(c.docs),
			DocumentName: c.documentName,
			LastSeen:     c.extractedAt,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		if !suggestions[i].LastSeen.Equal(suggestions[j].LastSeen) {
			return suggestions[i].LastSeen.After(suggestions[j].LastSeen)
		}
		if suggestions[i].FieldName != suggestions[j].FieldName {
			return suggestions[i].FieldName < suggestions[j].FieldName
		}
		return suggestions[i].Value < suggestions[j].Value
	})

	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// collectCandidates groups the record history by (field, normalized value),
// keeping the best confidence, most recent extraction and distinct document
// count per group, then overlays the profile's user overrides.
func collectCandidates(profile *model.Profile, records []model.ExtractedFieldRecord) map[string]*candidate {
	pool := make(map[string]*candidate, len(records))
	for _, r := range records {
		key := r.FieldName + "\x1f" + model.NormalizeValue(r.Value)
		c, ok := pool[key]
		if !ok {
			pool[key] = &candidate{
				fieldName:    r.FieldName,
				value:        r.Value,
				confidence:   r.Confidence,
				extractedAt:  r.ExtractedAt,
				documentName: r.DocumentName,
				docs:         map[string]struct{}{r.DocumentID: {}},
			}
			continue
		}
		c.docs[r.DocumentID] = struct{}{}
		if r.Confidence > c.confidence {
			c.confidence = r.Confidence
			c.value = r.Value
			c.documentName = r.DocumentName
		}
		if r.ExtractedAt.After(c.extractedAt) {
			c.extractedAt = r.ExtractedAt
		}
	}

	for field, value := range profile.Fields {
		src := profile.Sources[field]
		if !src.UserOverride() {
			continue
		}
		pool[field+"\x1f"+model.NormalizeValue(value)] = &candidate{
			fieldName:   field,
			value:       value,
			confidence:  src.Confidence,
			extractedAt: src.ExtractedAt,
		}
	}
	return pool
}

func (e *Engine) score(label string, c *candidate, now time.Time) float64 {
	w := e.cfg.Weights
	return w.NameSimilarity*NameSimilarity(label, c.fieldName) +
		w.Confidence*c.confidence +
		w.Recency*recency(c.extractedAt, now, e.cfg.HalfLifeDays) +
		w.SourceCount*sourceCredit(len(c.docs))
}

// recency halves with every half-life of age. Values with no timestamp
// count as current.
func recency(extractedAt, now time.Time, halfLifeDays float64) float64 {
	if extractedAt.IsZero() {
		return 1
	}
	ageDays := now.Sub(extractedAt).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	return math.Pow(2, -ageDays/halfLifeDays)
}

// sourceCredit grows linearly with agreeing documents and saturates at the
// ceiling.
func sourceCredit(n int) float64 {
	if n <= 0 {
		// User overrides carry no document count; treat them as one source.
		n = 1
	}
	if n > sourceCountCeiling {
		n = sourceCountCeiling
	}
	return float64(n) / sourceCountCeiling
}
