package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formworks/profile-cli/internal/model"
)

var baseTime = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func rec(doc, field, value string, conf float64, age time.Duration) model.ExtractedFieldRecord {
	return model.ExtractedFieldRecord{
		ID:           doc + "-" + field,
		EntityID:     "e1",
		DocumentID:   doc,
		DocumentName: doc + ".pdf",
		FieldName:    field,
		Value:        value,
		Confidence:   conf,
		ExtractedAt:  baseTime.Add(-age),
	}
}

func TestRecompute_SingleHighConfidenceValueAccepted(t *testing.T) {
	res := Recompute("e1", []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.95, 0),
	}, nil, 0.7)

	assert.Equal(t, "a@x.com", res.Profile.Fields["email"])
	assert.Equal(t, "d1", res.Profile.Sources["email"].DocumentID)
	assert.Zero(t, res.OpenCount())
}

func TestRecompute_ThresholdBoundary(t *testing.T) {
	res := Recompute("e1", []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.70, 0),
		rec("d2", "phone", "555-0100", 0.69, 0),
	}, nil, 0.7)

	// Exactly at threshold is accepted; strictly below is flagged.
	require.Len(t, res.LowConfidence, 1)
	assert.Equal(t, "phone", res.LowConfidence[0].FieldName)
	assert.Empty(t, res.Conflicts)

	// The flagged value still lands in the profile as the working default.
	assert.Equal(t, "555-0100", res.Profile.Fields["phone"])
}

func TestRecompute_ConflictTakesPrecedenceOverLowConfidence(t *testing.T) {
	res := Recompute("e1", []model.ExtractedFieldRecord{
		rec("d1", "fullName", "John Doe", 0.9, 0),
		rec("d2", "fullName", "Jon Doe", 0.6, 0),
	}, nil, 0.7)

	require.Len(t, res.Conflicts, 1)
	assert.Empty(t, res.LowConfidence, "a conflicted field is never also flagged low-confidence")
	assert.Equal(t, "fullName", res.Conflicts[0].FieldName)
	assert.Len(t, res.Conflicts[0].Values, 2)

	// Highest-confidence candidate is the working default.
	assert.Equal(t, "John Doe", res.Profile.Fields["fullName"])
}

func TestRecompute_AgreementIgnoresCaseAndWhitespace(t *testing.T) {
	res := Recompute("e1", []model.ExtractedFieldRecord{
		rec("d1", "fullName", "John  Doe", 0.8, time.Hour),
		rec("d2", "fullName", "john doe", 0.6, 0),
	}, nil, 0.7)

	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.LowConfidence)
	// Representative is the higher-confidence raw form.
	assert.Equal(t, "John  Doe", res.Profile.Fields["fullName"])
}

func TestRecompute_OrderIndependent(t *testing.T) {
	records := []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.9, 2*time.Hour),
		rec("d2", "email", "b@x.com", 0.8, time.Hour),
		rec("d3", "phone", "555-0100", 0.5, 0),
	}
	reversed := []model.ExtractedFieldRecord{records[2], records[1], records[0]}

	a := Recompute("e1", records, nil, 0.7)
	b := Recompute("e1", reversed, nil, 0.7)

	assert.Equal(t, a.Profile.Fields, b.Profile.Fields)
	assert.Equal(t, a.Profile.Sources, b.Profile.Sources)
	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, a.Conflicts[0].Values, b.Conflicts[0].Values)
}

func TestRecompute_CandidateTieBreakIsDeterministic(t *testing.T) {
	res := Recompute("e1", []model.ExtractedFieldRecord{
		rec("d2", "email", "b@x.com", 0.8, time.Hour),
		rec("d1", "email", "a@x.com", 0.8, time.Hour),
	}, nil, 0.7)

	require.Len(t, res.Conflicts, 1)
	// Equal confidence and age: lowest document id wins.
	assert.Equal(t, "a@x.com", res.Conflicts[0].Values[0].Value)
	assert.Equal(t, "a@x.com", res.Profile.Fields["email"])
}

func TestRecompute_ConflictResolutionApplies(t *testing.T) {
	records := []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.9, 0),
		rec("d2", "email", "b@x.com", 0.8, 0),
	}
	conflict := Recompute("e1", records, nil, 0.7).Conflicts[0]

	res := Recompute("e1", records, []model.Resolution{{
		EntityID:    "e1",
		FieldName:   "email",
		Value:       "b@x.com",
		DocumentID:  "d2",
		Confidence:  0.8,
		ReviewedKey: conflict.CandidateKey(),
		ResolvedAt:  baseTime,
	}}, 0.7)

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "b@x.com", res.Profile.Fields["email"])
	assert.Equal(t, "d2", res.Profile.Sources["email"].DocumentID)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Resolved)
	assert.Equal(t, 1, res.Items[0].Conflict.SelectedIndex)
}

func TestRecompute_NewCandidateReopensConflict(t *testing.T) {
	records := []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.9, 0),
		rec("d2", "email", "b@x.com", 0.8, 0),
	}
	key := Recompute("e1", records, nil, 0.7).Conflicts[0].CandidateKey()

	withNew := append(records, rec("d3", "email", "c@x.com", 0.85, 0))
	res := Recompute("e1", withNew, []model.Resolution{{
		EntityID:    "e1",
		FieldName:   "email",
		Value:       "b@x.com",
		DocumentID:  "d2",
		Confidence:  0.8,
		ReviewedKey: key,
		ResolvedAt:  baseTime,
	}}, 0.7)

	require.Len(t, res.Conflicts, 1, "a third value not covered by the decision reopens the field")
	// The earlier pick stays the working default until re-reviewed.
	assert.Equal(t, "b@x.com", res.Profile.Fields["email"])
}

func TestRecompute_UserOverrideSurvivesNewCandidates(t *testing.T) {
	records := []model.ExtractedFieldRecord{
		rec("d1", "email", "a@x.com", 0.9, 0),
		rec("d2", "email", "b@x.com", 0.8, 0),
		rec("d3", "email", "c@x.com", 0.85, 0),
	}
	res := Recompute("e1", records, []model.Resolution{{
		EntityID:   "e1",
		FieldName:  "email",
		Value:      "correct@x.com",
		Confidence: 1.0,
		ResolvedAt: baseTime,
	}}, 0.7)

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "correct@x.com", res.Profile.Fields["email"])
	assert.True(t, res.Profile.Sources["email"].UserOverride())
	assert.InDelta(t, 1.0, res.Profile.Sources["email"].Confidence, 1e-9)
}

func TestRecompute_UserOverrideSurvivesRetraction(t *testing.T) {
	res := Recompute("e1", nil, []model.Resolution{{
		EntityID:   "e1",
		FieldName:  "email",
		Value:      "correct@x.com",
		Confidence: 1.0,
		ResolvedAt: baseTime,
	}}, 0.7)

	assert.Equal(t, "correct@x.com", res.Profile.Fields["email"])
}

func TestRecompute_LowConfidenceConfirmationTracksValue(t *testing.T) {
	records := []model.ExtractedFieldRecord{rec("d1", "phone", "555-0100", 0.5, 0)}
	confirm := model.Resolution{
		EntityID:    "e1",
		FieldName:   "phone",
		Value:       "555-0100",
		DocumentID:  "d1",
		Confidence:  0.5,
		ReviewedKey: model.NormalizeValue("555-0100"),
		ResolvedAt:  baseTime,
	}

	res := Recompute("e1", records, []model.Resolution{confirm}, 0.7)
	assert.Empty(t, res.LowConfidence)

	// The confirmed value was replaced by a different low-confidence one:
	// the confirmation no longer applies.
	replaced := []model.ExtractedFieldRecord{rec("d1", "phone", "555-0199", 0.5, 0)}
	res = Recompute("e1", replaced, []model.Resolution{confirm}, 0.7)
	assert.Len(t, res.LowConfidence, 1)
}

func TestRecompute_EmptyHistory(t *testing.T) {
	res := Recompute("e1", nil, nil, 0.7)
	assert.Empty(t, res.Profile.Fields)
	assert.Zero(t, res.OpenCount())
}
