// Package aggregate consolidates extracted field records into per-entity
// profiles. Aggregation is a pure recomputation over the stored record
// history, so reprocessing a document or replaying an ingest converges on
// the same profile.
package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/cache"
	"github.com/formworks/profile-cli/internal/model"
	"github.com/formworks/profile-cli/internal/monitoring"
	"github.com/formworks/profile-cli/internal/registry"
	"github.com/formworks/profile-cli/internal/store"
)

// FieldRecordInput is one raw extracted field as delivered by the extraction
// collaborator, before name normalization and validation.
type FieldRecordInput struct {
	FieldName   string    `json:"field_name"`
	Value       string    `json:"value"`
	Confidence  float64   `json:"confidence"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// IngestResult reports what one document ingestion did.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
	*Result
}

// Config tunes the aggregator. Zero values fall back to defaults.
type Config struct {
	AcceptThreshold float64
	LockTimeout     time.Duration
	CacheTTL        time.Duration
}

// Aggregator owns the ingest -> recompute -> persist pipeline for all
// entities. Writes to the same entity are serialized; reads go through the
// snapshot cache.
type Aggregator struct {
	store    store.Store
	registry *registry.Registry
	cache    *cache.Profiles
	metrics  *monitoring.Collector
	locks    *entityLocks
	cfg      Config
}

// New wires an aggregator. metrics may be nil.
func New(st store.Store, reg *registry.Registry, profiles *cache.Profiles, metrics *monitoring.Collector, cfg Config) *Aggregator {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = DefaultAcceptThreshold
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &Aggregator{
		store:    st,
		registry: reg,
		cache:    profiles,
		metrics:  metrics,
		locks:    newEntityLocks(),
		cfg:      cfg,
	}
}

// Ingest processes one document's extracted fields for an entity: normalize
// and validate the batch, replace the document's stored records, recompute
// the profile from the full history and persist it. Reprocessing the same
// document retracts its earlier records first.
func (a *Aggregator) Ingest(ctx context.Context, entityID string, doc model.DocumentMeta, inputs []FieldRecordInput) (*IngestResult, error) {
	if entityID == "" {
		return nil, eris.New("aggregate: entity id is required")
	}
	if doc.ID == "" {
		return nil, eris.New("aggregate: document id is required")
	}
	if doc.ProcessedAt.IsZero() {
		doc.ProcessedAt = time.Now().UTC()
	}

	records, dropped := a.prepareBatch(entityID, doc, inputs)

	release, err := a.locks.acquire(ctx, entityID, a.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.store.ReplaceDocumentRecords(ctx, entityID, doc, records); err != nil {
		return nil, eris.Wrapf(err, "aggregate: replacing records for document %s", doc.ID)
	}

	result, err := a.recomputeAndSave(ctx, entityID)
	if err != nil {
		return nil, err
	}

	a.metrics.DocumentIngested(len(records), dropped)
	zap.L().Info("document ingested",
		zap.String("entity_id", entityID),
		zap.String("document_id", doc.ID),
		zap.Int("accepted", len(records)),
		zap.Int("dropped", dropped),
		zap.Int("open_conflicts", len(result.Conflicts)),
		zap.Int("open_low_confidence", len(result.LowConfidence)))

	return &IngestResult{Accepted: len(records), Dropped: dropped, Result: result}, nil
}

// prepareBatch normalizes field names, drops invalid records with a warning
// and dedupes within the batch, keeping the stronger record per field: a
// document stores at most one record per (document, field).
func (a *Aggregator) prepareBatch(entityID string, doc model.DocumentMeta, inputs []FieldRecordInput) ([]model.ExtractedFieldRecord, int) {
	dropped := 0
	seen := make(map[string]int) // canonical field name -> index in out
	out := make([]model.ExtractedFieldRecord, 0, len(inputs))

	for _, in := range inputs {
		rec := model.ExtractedFieldRecord{
			ID:           uuid.NewString(),
			EntityID:     entityID,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			FieldName:    a.registry.Normalize(in.FieldName),
			Value:        in.Value,
			Confidence:   in.Confidence,
			ExtractedAt:  in.ExtractedAt,
		}
		if rec.ExtractedAt.IsZero() {
			rec.ExtractedAt = doc.ProcessedAt
		}
		if !rec.Valid() {
			dropped++
			zap.L().Warn("dropping invalid record",
				zap.String("entity_id", entityID),
				zap.String("document_id", doc.ID),
				zap.String("field", in.FieldName),
				zap.Float64("confidence", in.Confidence))
			continue
		}

		key := rec.FieldName
		if i, ok := seen[key]; ok {
			if betterRecord(rec, out[i]) {
				out[i] = rec
			}
			dropped++
			continue
		}
		seen[key] = len(out)
		out = append(out, rec)
	}
	return out, dropped
}

// State recomputes the entity's profile and review items without writing
// anything. Used by the review flow and the read endpoints.
func (a *Aggregator) State(ctx context.Context, entityID string) (*Result, error) {
	records, err := a.store.ListRecords(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: listing records for entity %s", entityID)
	}
	resolutions, err := a.store.ListResolutions(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: listing resolutions for entity %s", entityID)
	}
	return Recompute(entityID, records, resolutions, a.cfg.AcceptThreshold), nil
}

// ApplyResolution records a human decision and folds it into the persisted
// profile.
func (a *Aggregator) ApplyResolution(ctx context.Context, res model.Resolution) (*Result, error) {
	if res.EntityID == "" || res.FieldName == "" {
		return nil, eris.New("aggregate: resolution needs entity id and field name")
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now().UTC()
	}
	if res.UserSupplied() {
		res.Confidence = 1.0
	}

	release, err := a.locks.acquire(ctx, res.EntityID, a.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.store.UpsertResolution(ctx, res); err != nil {
		return nil, eris.Wrapf(err, "aggregate: saving resolution for %s.%s", res.EntityID, res.FieldName)
	}

	result, err := a.recomputeAndSave(ctx, res.EntityID)
	if err != nil {
		return nil, err
	}

	a.metrics.ResolutionApplied()
	zap.L().Info("resolution applied",
		zap.String("entity_id", res.EntityID),
		zap.String("field", res.FieldName),
		zap.Bool("user_supplied", res.UserSupplied()))

	return result, nil
}

// Profile returns the entity's consolidated profile, served from the
// snapshot cache when fresh.
func (a *Aggregator) Profile(ctx context.Context, entityID string) (*model.Profile, error) {
	p, err := a.cache.Get(ctx, entityID, a.cfg.CacheTTL, func(ctx context.Context) (*model.Profile, error) {
		return a.store.GetProfile(ctx, entityID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: loading profile for entity %s", entityID)
	}
	return p, nil
}

// History returns the entity's full stored record history, including values
// that lost a conflict or fell below the acceptance threshold.
func (a *Aggregator) History(ctx context.Context, entityID string) ([]model.ExtractedFieldRecord, error) {
	records, err := a.store.ListRecords(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: listing records for entity %s", entityID)
	}
	return records, nil
}

// CacheFresh reports whether the entity's cached snapshot is still within
// its TTL, without touching the store.
func (a *Aggregator) CacheFresh(entityID string) bool {
	return a.cache.Valid(entityID, a.cfg.CacheTTL)
}

// DeleteEntity removes all stored data for the entity and drops its cached
// snapshot.
func (a *Aggregator) DeleteEntity(ctx context.Context, entityID string) error {
	release, err := a.locks.acquire(ctx, entityID, a.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := a.store.DeleteEntity(ctx, entityID); err != nil {
		return eris.Wrapf(err, "aggregate: deleting entity %s", entityID)
	}
	a.cache.Invalidate(entityID)
	zap.L().Info("entity deleted", zap.String("entity_id", entityID))
	return nil
}

// recomputeAndSave runs a full recomputation and persists the resulting
// profile. Callers must hold the entity's write lock.
func (a *Aggregator) recomputeAndSave(ctx context.Context, entityID string) (*Result, error) {
	records, err := a.store.ListRecords(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: listing records for entity %s", entityID)
	}
	resolutions, err := a.store.ListResolutions(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: listing resolutions for entity %s", entityID)
	}

	result := Recompute(entityID, records, resolutions, a.cfg.AcceptThreshold)
	result.Profile.UpdatedAt = time.Now().UTC()

	if err := a.store.SaveProfile(ctx, result.Profile); err != nil {
		return nil, eris.Wrapf(err, "aggregate: saving profile for entity %s", entityID)
	}
	a.cache.Invalidate(entityID)
	a.metrics.SetOpenItems(entityID, len(result.Conflicts), len(result.LowConfidence))
	return result, nil
}
