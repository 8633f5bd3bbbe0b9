package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/cache"
	"github.com/formworks/profile-cli/internal/model"
	"github.com/formworks/profile-cli/internal/monitoring"
	"github.com/formworks/profile-cli/internal/registry"
	"github.com/formworks/profile-cli/internal/store"
)

var extractedAt = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) *aggregate.Aggregator {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return aggregate.New(st, registry.New(), cache.New(nil), monitoring.NewCollector(), aggregate.Config{})
}

// seedConflictAndLowConfidence sets up an entity with one conflicted field
// and one low-confidence field.
func seedConflictAndLowConfidence(t *testing.T, agg *aggregate.Aggregator) {
	t.Helper()
	ctx := context.Background()

	_, err := agg.Ingest(ctx, "e1",
		model.DocumentMeta{ID: "d1", Name: "d1.pdf", ProcessedAt: extractedAt},
		[]aggregate.FieldRecordInput{
			{FieldName: "fullName", Value: "John Doe", Confidence: 0.9, ExtractedAt: extractedAt},
			{FieldName: "phone", Value: "555-0100", Confidence: 0.5, ExtractedAt: extractedAt},
		})
	require.NoError(t, err)

	_, err = agg.Ingest(ctx, "e1",
		model.DocumentMeta{ID: "d2", Name: "d2.pdf", ProcessedAt: extractedAt},
		[]aggregate.FieldRecordInput{
			{FieldName: "fullName", Value: "Jon Doe", Confidence: 0.6, ExtractedAt: extractedAt},
		})
	require.NoError(t, err)
}

func TestSession_StartWithNothingToReviewCompletes(t *testing.T) {
	agg := newTestAggregator(t)
	_, err := agg.Ingest(context.Background(), "e1",
		model.DocumentMeta{ID: "d1", ProcessedAt: extractedAt},
		[]aggregate.FieldRecordInput{
			{FieldName: "email", Value: "a@x.com", Confidence: 0.95, ExtractedAt: extractedAt},
		})
	require.NoError(t, err)

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusComplete, s.Status())
}

func TestSession_OperationsRequireStart(t *testing.T) {
	agg := newTestAggregator(t)
	s := NewSession(agg, "e1")

	err := s.ConfirmField(context.Background(), "phone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestSession_SelectCandidateResolvesConflict(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StatusReviewing, s.Status())
	require.Len(t, s.OpenItems(), 2)

	require.NoError(t, s.SelectCandidate(ctx, "fullName", 1))
	assert.Equal(t, "Jon Doe", s.Profile().Fields["fullName"])
	require.Len(t, s.OpenItems(), 1)
	assert.Equal(t, "phone", s.OpenItems()[0].FieldName)
}

func TestSession_SelectCandidateOutOfRange(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	assert.Error(t, s.SelectCandidate(ctx, "fullName", 5))
	assert.Error(t, s.SelectCandidate(ctx, "fullName", -1))
}

func TestSession_CustomValueOnConflict(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.SetCustomValue(ctx, "fullName", "Jonathan Doe"))
	assert.Equal(t, "Jonathan Doe", s.Profile().Fields["fullName"])
	assert.True(t, s.Profile().Sources["fullName"].UserOverride())
}

func TestSession_CustomValueRejectsNonConflict(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	err := s.SetCustomValue(ctx, "phone", "555-0199")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in conflict")
}

func TestSession_ConfirmLowConfidence(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.ConfirmField(ctx, "phone"))
	assert.Equal(t, "555-0100", s.Profile().Fields["phone"])
	// Confirmation keeps the extracted provenance, not a user override.
	assert.Equal(t, "d1", s.Profile().Sources["phone"].DocumentID)
}

func TestSession_EditLowConfidence(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.EditField(ctx, "phone", "555-0142"))
	assert.Equal(t, "555-0142", s.Profile().Fields["phone"])
	assert.True(t, s.Profile().Sources["phone"].UserOverride())

	assert.Error(t, s.EditField(ctx, "fullName", "   "), "blank edits are rejected")
}

func TestSession_ResolvedFieldRejectsSecondDecision(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.ConfirmField(ctx, "phone"))
	err := s.ConfirmField(ctx, "phone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestSession_ConfirmAllGatesOnOpenItems(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	// One conflict and one low-confidence item are open: confirming all is
	// rejected and resolves nothing.
	err := s.ConfirmAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 item(s) still need review")
	assert.Equal(t, StatusReviewing, s.Status())
	assert.Len(t, s.OpenItems(), 2)

	require.NoError(t, s.SelectCandidate(ctx, "fullName", 0))
	require.NoError(t, s.ConfirmField(ctx, "phone"))

	assert.Equal(t, StatusComplete, s.Status())
	assert.NoError(t, s.ConfirmAll(ctx))
}

func TestSession_AcceptDefaults(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AcceptDefaults(ctx))
	assert.Equal(t, StatusComplete, s.Status())
	// Defaults are the highest-confidence candidate and the flagged value.
	assert.Equal(t, "John Doe", s.Profile().Fields["fullName"])
	assert.Equal(t, "555-0100", s.Profile().Fields["phone"])
}

func TestAcceptSuggestion(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	// Picking an existing conflict candidate selects it.
	require.NoError(t, AcceptSuggestion(ctx, agg, "e1", "fullName", "jon doe"))
	state, err := agg.State(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Jon Doe", state.Profile.Fields["fullName"])

	// Picking the flagged low-confidence value confirms it as-is.
	require.NoError(t, AcceptSuggestion(ctx, agg, "e1", "phone", "555-0100"))
	state, err = agg.State(ctx, "e1")
	require.NoError(t, err)
	assert.Zero(t, state.OpenCount())
	assert.Equal(t, "d1", state.Profile.Sources["phone"].DocumentID)

	// Nothing open for the field: the pick is a no-op.
	require.NoError(t, AcceptSuggestion(ctx, agg, "e1", "fullName", "Someone Else"))
	state, err = agg.State(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Jon Doe", state.Profile.Fields["fullName"])
}

func TestAcceptSuggestion_UnlistedValueBecomesOverride(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	require.NoError(t, AcceptSuggestion(ctx, agg, "e1", "fullName", "Jonathan Doe"))
	state, err := agg.State(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Jonathan Doe", state.Profile.Fields["fullName"])
	assert.True(t, state.Profile.Sources["fullName"].UserOverride())
}

func TestSession_IngestMidReviewAddsOpenItems(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectCandidate(ctx, "fullName", 0))
	require.NoError(t, s.ConfirmField(ctx, "phone"))
	require.Equal(t, StatusComplete, s.Status())

	_, err := agg.Ingest(ctx, "e1",
		model.DocumentMeta{ID: "d3", Name: "d3.pdf", ProcessedAt: extractedAt},
		[]aggregate.FieldRecordInput{
			{FieldName: "address", Value: "12 Main St", Confidence: 0.4, ExtractedAt: extractedAt},
		})
	require.NoError(t, err)

	// A fresh session sees the new open item while the earlier decisions
	// stay resolved.
	fresh := NewSession(agg, "e1")
	require.NoError(t, fresh.Start(ctx))
	assert.Equal(t, StatusReviewing, fresh.Status())
	require.Len(t, fresh.OpenItems(), 1)
	assert.Equal(t, "address", fresh.OpenItems()[0].FieldName)
	assert.Equal(t, "John Doe", fresh.Profile().Fields["fullName"])
}

func TestSession_DecisionsSurviveNewSession(t *testing.T) {
	agg := newTestAggregator(t)
	seedConflictAndLowConfidence(t, agg)
	ctx := context.Background()

	s := NewSession(agg, "e1")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AcceptDefaults(ctx))

	fresh := NewSession(agg, "e1")
	require.NoError(t, fresh.Start(ctx))
	assert.Equal(t, StatusComplete, fresh.Status())
}
