package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formworks/profile-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecord(doc, field, value string, conf float64) model.ExtractedFieldRecord {
	return model.ExtractedFieldRecord{
		DocumentID:  doc,
		FieldName:   field,
		Value:       value,
		Confidence:  conf,
		ExtractedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_ReplaceDocumentRecords_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := model.DocumentMeta{ID: "d1", Name: "passport.pdf"}

	err := st.ReplaceDocumentRecords(ctx, "e1", doc, []model.ExtractedFieldRecord{
		testRecord("d1", "email", "a@x.com", 0.95),
		testRecord("d1", "fullName", "John Doe", 0.9),
	})
	require.NoError(t, err)

	records, err := st.ListRecords(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "passport.pdf", records[0].DocumentName)
	assert.NotEmpty(t, records[0].ID)
}

func TestSQLite_ReplaceDocumentRecords_Retracts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := model.DocumentMeta{ID: "d1", Name: "passport.pdf"}

	require.NoError(t, st.ReplaceDocumentRecords(ctx, "e1", doc, []model.ExtractedFieldRecord{
		testRecord("d1", "email", "old@x.com", 0.6),
		testRecord("d1", "phone", "555-123-4567", 0.8),
	}))
	require.NoError(t, st.ReplaceDocumentRecords(ctx, "e1", doc, []model.ExtractedFieldRecord{
		testRecord("d1", "email", "new@x.com", 0.9),
	}))

	records, err := st.ListRecords(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new@x.com", records[0].Value)
}

func TestSQLite_ListRecords_OtherEntityExcluded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceDocumentRecords(ctx, "e1", model.DocumentMeta{ID: "d1"},
		[]model.ExtractedFieldRecord{testRecord("d1", "email", "a@x.com", 0.9)}))

	records, err := st.ListRecords(ctx, "e2")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLite_Resolution_UpsertLastWriteWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := model.Resolution{
		EntityID: "e1", FieldName: "fullName", Value: "John Doe",
		DocumentID: "d1", Confidence: 0.9, ReviewedKey: "k1",
		ResolvedAt: time.Now().UTC(),
	}
	require.NoError(t, st.UpsertResolution(ctx, first))

	second := first
	second.Value = "Jon Doe"
	second.DocumentID = ""
	second.Confidence = 1.0
	require.NoError(t, st.UpsertResolution(ctx, second))

	resolutions, err := st.ListResolutions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "Jon Doe", resolutions[0].Value)
	assert.Equal(t, 1.0, resolutions[0].Confidence)
	assert.True(t, resolutions[0].UserSupplied())
}

func TestSQLite_DeleteResolution(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertResolution(ctx, model.Resolution{
		EntityID: "e1", FieldName: "email", Value: "a@x.com", ResolvedAt: time.Now(),
	}))
	require.NoError(t, st.DeleteResolution(ctx, "e1", "email"))

	resolutions, err := st.ListResolutions(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, resolutions)
}

func TestSQLite_Profile_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := model.NewProfile("e1")
	p.Set("email", "a@x.com", model.FieldSource{
		DocumentID: "d1", DocumentName: "passport.pdf",
		Confidence: 0.95, ExtractedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, st.SaveProfile(ctx, p))

	got, err := st.GetProfile(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@x.com", got.Fields["email"])
	assert.Equal(t, "d1", got.Sources["email"].DocumentID)
	assert.Equal(t, 0.95, got.Sources["email"].Confidence)
}

func TestSQLite_Profile_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_DeleteEntity_RemovesEverything(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceDocumentRecords(ctx, "e1", model.DocumentMeta{ID: "d1"},
		[]model.ExtractedFieldRecord{testRecord("d1", "email", "a@x.com", 0.9)}))
	require.NoError(t, st.UpsertResolution(ctx, model.Resolution{
		EntityID: "e1", FieldName: "email", Value: "a@x.com", ResolvedAt: time.Now(),
	}))
	require.NoError(t, st.SaveProfile(ctx, model.NewProfile("e1")))

	require.NoError(t, st.DeleteEntity(ctx, "e1"))

	records, err := st.ListRecords(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, records)

	p, err := st.GetProfile(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, p)
}
