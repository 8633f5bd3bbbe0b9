package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/formworks/profile-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS field_records (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	document_name TEXT NOT NULL DEFAULT '',
	field_name    TEXT NOT NULL,
	value         TEXT NOT NULL,
	confidence    REAL NOT NULL,
	extracted_at  DATETIME NOT NULL,
	UNIQUE (document_id, field_name)
);

CREATE TABLE IF NOT EXISTS resolutions (
	entity_id    TEXT NOT NULL,
	field_name   TEXT NOT NULL,
	value        TEXT NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL,
	reviewed_key TEXT NOT NULL DEFAULT '',
	resolved_at  DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_name)
);

CREATE TABLE IF NOT EXISTS profiles (
	entity_id  TEXT PRIMARY KEY,
	fields     TEXT NOT NULL,
	sources    TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_field_records_entity ON field_records(entity_id);
CREATE INDEX IF NOT EXISTS idx_field_records_document ON field_records(entity_id, document_id);
CREATE INDEX IF NOT EXISTS idx_resolutions_entity ON resolutions(entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceDocumentRecords(ctx context.Context, entityID string, doc model.DocumentMeta, records []model.ExtractedFieldRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace records")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM field_records WHERE entity_id = ? AND document_id = ?`,
		entityID, doc.ID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: retract records for document %s", doc.ID)
	}

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_records (id, entity_id, document_id, document_name, field_name, value, confidence, extracted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, entityID, doc.ID, doc.Name, r.FieldName, r.Value, r.Confidence, r.ExtractedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s/%s", doc.ID, r.FieldName)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace records")
}

func (s *SQLiteStore) ListRecords(ctx context.Context, entityID string) ([]model.ExtractedFieldRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, document_id, document_name, field_name, value, confidence, extracted_at
		 FROM field_records WHERE entity_id = ? ORDER BY extracted_at, id`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.ExtractedFieldRecord
	for rows.Next() {
		var r model.ExtractedFieldRecord
		if err := rows.Scan(&r.ID, &r.EntityID, &r.DocumentID, &r.DocumentName,
			&r.FieldName, &r.Value, &r.Confidence, &r.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) UpsertResolution(ctx context.Context, res model.Resolution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resolutions (entity_id, field_name, value, document_id, confidence, reviewed_key, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_id, field_name) DO UPDATE SET
		   value = excluded.value,
		   document_id = excluded.document_id,
		   confidence = excluded.confidence,
		   reviewed_key = excluded.reviewed_key,
		   resolved_at = excluded.resolved_at`,
		res.EntityID, res.FieldName, res.Value, res.DocumentID, res.Confidence,
		res.ReviewedKey, res.ResolvedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert resolution %s/%s", res.EntityID, res.FieldName)
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, entityID string) ([]model.Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, field_name, value, document_id, confidence, reviewed_key, resolved_at
		 FROM resolutions WHERE entity_id = ?`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		var r model.Resolution
		if err := rows.Scan(&r.EntityID, &r.FieldName, &r.Value, &r.DocumentID,
			&r.Confidence, &r.ReviewedKey, &r.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, eris.Wrap(rows.Err(), "sqlite: list resolutions iterate")
}

func (s *SQLiteStore) DeleteResolution(ctx context.Context, entityID, fieldName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM resolutions WHERE entity_id = ? AND field_name = ?`,
		entityID, fieldName,
	)
	return eris.Wrapf(err, "sqlite: delete resolution %s/%s", entityID, fieldName)
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, profile *model.Profile) error {
	fieldsJSON, err := json.Marshal(profile.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile fields")
	}
	sourcesJSON, err := json.Marshal(profile.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (entity_id, fields, sources, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_id) DO UPDATE SET
		   fields = excluded.fields,
		   sources = excluded.sources,
		   updated_at = excluded.updated_at`,
		profile.EntityID, string(fieldsJSON), string(sourcesJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save profile %s", profile.EntityID)
}

func (s *SQLiteStore) GetProfile(ctx context.Context, entityID string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_id, fields, sources, updated_at FROM profiles WHERE entity_id = ?`,
		entityID,
	)

	p := model.NewProfile(entityID)
	var fieldsJSON, sourcesJSON string
	err := row.Scan(&p.EntityID, &fieldsJSON, &sourcesJSON, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profile")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile fields")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &p.Sources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile sources")
	}
	return p, nil
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, entityID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete entity")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM field_records WHERE entity_id = ?`,
		`DELETE FROM resolutions WHERE entity_id = ?`,
		`DELETE FROM profiles WHERE entity_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, entityID); err != nil {
			return eris.Wrapf(err, "sqlite: delete entity %s", entityID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete entity")
}
