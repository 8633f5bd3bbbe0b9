package aggregate

import (
	"sort"

	"github.com/formworks/profile-cli/internal/model"
)

// DefaultAcceptThreshold is the confidence at or above which a
// single-source value is accepted without review.
const DefaultAcceptThreshold = 0.7

// Result is the outcome of one aggregation pass over an entity's full
// record history with its resolutions overlaid.
type Result struct {
	Profile *model.Profile

	// Items holds every review item, resolved or not, in field order.
	Items []model.ReviewItem

	// Conflicts and LowConfidence list only the open items.
	Conflicts     []model.Conflict
	LowConfidence []model.LowConfidenceField
}

// OpenCount returns the number of unresolved review items.
func (r *Result) OpenCount() int {
	return len(r.Conflicts) + len(r.LowConfidence)
}

// valueGroup collects the records that agree on one normalized value.
type valueGroup struct {
	rep  model.ExtractedFieldRecord // highest-confidence representative
	docs map[string]struct{}
}

// Recompute derives the profile and review items from scratch. It is a pure
// function of (records, resolutions, threshold), which makes aggregation
// idempotent and order-independent: the same inputs in any order produce an
// identical result.
func Recompute(entityID string, records []model.ExtractedFieldRecord, resolutions []model.Resolution, threshold float64) *Result {
	if threshold <= 0 {
		threshold = DefaultAcceptThreshold
	}

	resByField := make(map[string]model.Resolution, len(resolutions))
	for _, res := range resolutions {
		resByField[res.FieldName] = res
	}

	byField := make(map[string]map[string]*valueGroup)
	for _, r := range records {
		groups, ok := byField[r.FieldName]
		if !ok {
			groups = make(map[string]*valueGroup)
			byField[r.FieldName] = groups
		}
		key := model.NormalizeValue(r.Value)
		g, ok := groups[key]
		if !ok {
			g = &valueGroup{rep: r, docs: map[string]struct{}{r.DocumentID: {}}}
			groups[key] = g
			continue
		}
		g.docs[r.DocumentID] = struct{}{}
		if betterRecord(r, g.rep) {
			g.rep = r
		}
	}

	result := &Result{Profile: model.NewProfile(entityID)}

	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		groups := byField[field]
		res, hasRes := resByField[field]

		if len(groups) >= 2 {
			computeConflict(result, field, groups, res, hasRes)
			continue
		}

		var only *valueGroup
		for _, g := range groups {
			only = g
		}
		computeSingle(result, field, only, res, hasRes, threshold)
	}

	// A user override may survive the records that produced its field, for
	// example after the conflicting document was retracted.
	for field, res := range resByField {
		if _, ok := byField[field]; !ok && res.UserSupplied() {
			result.Profile.Set(field, res.Value, model.FieldSource{
				Confidence:  1.0,
				ExtractedAt: res.ResolvedAt,
			})
		}
	}

	return result
}

// computeConflict handles a field with two or more materially distinct
// values. Conflict takes precedence: the field is never also flagged
// low-confidence.
func computeConflict(result *Result, field string, groups map[string]*valueGroup, res model.Resolution, hasRes bool) {
	candidates := make([]model.ConflictValue, 0, len(groups))
	counts := make(map[string]int, len(groups))
	for key, g := range groups {
		counts[key] = len(g.docs)
		candidates = append(candidates, model.ConflictValue{
			Value:        g.rep.Value,
			DocumentID:   g.rep.DocumentID,
			DocumentName: g.rep.DocumentName,
			Confidence:   g.rep.Confidence,
			ExtractedAt:  g.rep.ExtractedAt,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if !candidates[i].ExtractedAt.Equal(candidates[j].ExtractedAt) {
			return candidates[i].ExtractedAt.After(candidates[j].ExtractedAt)
		}
		return candidates[i].DocumentID < candidates[j].DocumentID
	})

	conflict := model.Conflict{
		FieldName:     field,
		Values:        candidates,
		SelectedIndex: -1,
	}

	resolved := false
	if hasRes {
		switch {
		case res.UserSupplied():
			// Edits and custom values survive any candidate set.
			resolved = true
			conflict.CustomValue = res.Value
			result.Profile.Set(field, res.Value, model.FieldSource{
				Confidence:  1.0,
				ExtractedAt: res.ResolvedAt,
			})
		case res.ReviewedKey == conflict.CandidateKey():
			if idx := candidateIndex(candidates, res.Value); idx >= 0 {
				resolved = true
				conflict.SelectedIndex = idx
				result.Profile.Set(field, candidates[idx].Value, candidateSource(candidates[idx], counts))
			}
		default:
			// New candidates arrived after the decision: the field reopens,
			// but the reviewer's prior pick stays the working default.
			if idx := candidateIndex(candidates, res.Value); idx >= 0 {
				result.Profile.Set(field, candidates[idx].Value, candidateSource(candidates[idx], counts))
			}
		}
	}

	if _, ok := result.Profile.Fields[field]; !ok {
		// Working default: the highest-confidence candidate.
		result.Profile.Set(field, candidates[0].Value, candidateSource(candidates[0], counts))
	}

	result.Items = append(result.Items, model.ReviewItem{
		Kind:      model.ReviewKindConflict,
		FieldName: field,
		Conflict:  &conflict,
		Resolved:  resolved,
	})
	if !resolved {
		result.Conflicts = append(result.Conflicts, conflict)
	}
}

// computeSingle handles a field backed by a single distinct value.
func computeSingle(result *Result, field string, group *valueGroup, res model.Resolution, hasRes bool, threshold float64) {
	if hasRes && res.UserSupplied() {
		result.Profile.Set(field, res.Value, model.FieldSource{
			Confidence:  1.0,
			ExtractedAt: res.ResolvedAt,
		})
		return
	}

	winner := group.rep
	src := model.FieldSource{
		DocumentID:   winner.DocumentID,
		DocumentName: winner.DocumentName,
		Confidence:   winner.Confidence,
		ExtractedAt:  winner.ExtractedAt,
		SourceCount:  len(group.docs),
	}
	result.Profile.Set(field, winner.Value, src)

	if winner.Confidence >= threshold {
		return
	}

	// Confirmed as-is earlier, and the value has not changed since.
	resolved := hasRes && res.ReviewedKey == model.NormalizeValue(winner.Value)

	low := model.LowConfidenceField{
		FieldName:  field,
		Value:      winner.Value,
		Confidence: winner.Confidence,
		Source:     src,
	}
	result.Items = append(result.Items, model.ReviewItem{
		Kind:          model.ReviewKindLowConfidence,
		FieldName:     field,
		LowConfidence: &low,
		Resolved:      resolved,
	})
	if !resolved {
		result.LowConfidence = append(result.LowConfidence, low)
	}
}

func candidateSource(c model.ConflictValue, counts map[string]int) model.FieldSource {
	return model.FieldSource{
		DocumentID:   c.DocumentID,
		DocumentName: c.DocumentName,
		Confidence:   c.Confidence,
		ExtractedAt:  c.ExtractedAt,
		SourceCount:  counts[model.NormalizeValue(c.Value)],
	}
}

func candidateIndex(candidates []model.ConflictValue, value string) int {
	for i, c := range candidates {
		if model.SameValue(c.Value, value) {
			return i
		}
	}
	return -1
}

// betterRecord prefers higher confidence, then newer extraction, then the
// lexicographically smaller document id so recomputation is deterministic.
func betterRecord(a, b model.ExtractedFieldRecord) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ExtractedAt.After(b.ExtractedAt)
	}
	return a.DocumentID < b.DocumentID
}
