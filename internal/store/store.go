// Package store persists the extracted record history, human resolutions
// and consolidated profiles so aggregation survives restarts and document
// reprocessing stays idempotent.
package store

import (
	"context"

	"github.com/formworks/profile-cli/internal/model"
)

// Store defines the persistence interface for the consolidation core.
type Store interface {
	// ReplaceDocumentRecords atomically retracts a document's prior records
	// for the entity and inserts the new batch. Reprocessing a document is
	// therefore a replace, never an append.
	ReplaceDocumentRecords(ctx context.Context, entityID string, doc model.DocumentMeta, records []model.ExtractedFieldRecord) error

	// ListRecords returns the full record history for an entity.
	ListRecords(ctx context.Context, entityID string) ([]model.ExtractedFieldRecord, error)

	// Resolutions. Upsert is last-write-wins per (entity, field).
	UpsertResolution(ctx context.Context, res model.Resolution) error
	ListResolutions(ctx context.Context, entityID string) ([]model.Resolution, error)
	DeleteResolution(ctx context.Context, entityID, fieldName string) error

	// Profile snapshots, persisted so aggregation is not recomputed from
	// scratch on restart.
	SaveProfile(ctx context.Context, profile *model.Profile) error
	GetProfile(ctx context.Context, entityID string) (*model.Profile, error)

	// DeleteEntity removes the profile, records and resolutions for an
	// entity. The only path that destroys ProfileData.
	DeleteEntity(ctx context.Context, entityID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
