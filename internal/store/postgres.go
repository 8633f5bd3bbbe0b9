package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/formworks/profile-cli/internal/model"
)

// Pool abstracts the pgxpool methods the store uses, so tests can substitute
// a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS field_records (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	document_name TEXT NOT NULL DEFAULT '',
	field_name    TEXT NOT NULL,
	value         TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	extracted_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, field_name)
);

CREATE TABLE IF NOT EXISTS resolutions (
	entity_id    TEXT NOT NULL,
	field_name   TEXT NOT NULL,
	value        TEXT NOT NULL,
	document_id  TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL,
	reviewed_key TEXT NOT NULL DEFAULT '',
	resolved_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_name)
);

CREATE TABLE IF NOT EXISTS profiles (
	entity_id  TEXT PRIMARY KEY,
	fields     JSONB NOT NULL,
	sources    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_field_records_entity ON field_records(entity_id);
CREATE INDEX IF NOT EXISTS idx_field_records_document ON field_records(entity_id, document_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ReplaceDocumentRecords(ctx context.Context, entityID string, doc model.DocumentMeta, records []model.ExtractedFieldRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace records")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM field_records WHERE entity_id = $1 AND document_id = $2`,
		entityID, doc.ID,
	); err != nil {
		return eris.Wrapf(err, "postgres: retract records for document %s", doc.ID)
	}

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO field_records (id, entity_id, document_id, document_name, field_name, value, confidence, extracted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, entityID, doc.ID, doc.Name, r.FieldName, r.Value, r.Confidence, r.ExtractedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert record %s/%s", doc.ID, r.FieldName)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace records")
}

func (s *PostgresStore) ListRecords(ctx context.Context, entityID string) ([]model.ExtractedFieldRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, document_id, document_name, field_name, value, confidence, extracted_at
		 FROM field_records WHERE entity_id = $1 ORDER BY extracted_at, id`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.ExtractedFieldRecord
	for rows.Next() {
		var r model.ExtractedFieldRecord
		if err := rows.Scan(&r.ID, &r.EntityID, &r.DocumentID, &r.DocumentName,
			&r.FieldName, &r.Value, &r.Confidence, &r.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) UpsertResolution(ctx context.Context, res model.Resolution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolutions (entity_id, field_name, value, document_id, confidence, reviewed_key, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (entity_id, field_name) DO UPDATE SET
		   value = EXCLUDED.value,
		   document_id = EXCLUDED.document_id,
		   confidence = EXCLUDED.confidence,
		   reviewed_key = EXCLUDED.reviewed_key,
		   resolved_at = EXCLUDED.resolved_at`,
		res.EntityID, res.FieldName, res.Value, res.DocumentID, res.Confidence,
		res.ReviewedKey, res.ResolvedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert resolution %s/%s", res.EntityID, res.FieldName)
}

func (s *PostgresStore) ListResolutions(ctx context.Context, entityID string) ([]model.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id, field_name, value, document_id, confidence, reviewed_key, resolved_at
		 FROM resolutions WHERE entity_id = $1`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		var r model.Resolution
		if err := rows.Scan(&r.EntityID, &r.FieldName, &r.Value, &r.DocumentID,
			&r.Confidence, &r.ReviewedKey, &r.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, eris.Wrap(rows.Err(), "postgres: list resolutions iterate")
}

func (s *PostgresStore) DeleteResolution(ctx context.Context, entityID, fieldName string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM resolutions WHERE entity_id = $1 AND field_name = $2`,
		entityID, fieldName,
	)
	return eris.Wrapf(err, "postgres: delete resolution %s/%s", entityID, fieldName)
}

func (s *PostgresStore) SaveProfile(ctx context.Context, profile *model.Profile) error {
	fieldsJSON, err := json.Marshal(profile.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile fields")
	}
	sourcesJSON, err := json.Marshal(profile.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (entity_id, fields, sources, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id) DO UPDATE SET
		   fields = EXCLUDED.fields,
		   sources = EXCLUDED.sources,
		   updated_at = EXCLUDED.updated_at`,
		profile.EntityID, string(fieldsJSON), string(sourcesJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save profile %s", profile.EntityID)
}

func (s *PostgresStore) GetProfile(ctx context.Context, entityID string) (*model.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT entity_id, fields, sources, updated_at FROM profiles WHERE entity_id = $1`,
		entityID,
	)

	p := model.NewProfile(entityID)
	var fieldsJSON, sourcesJSON string
	err := row.Scan(&p.EntityID, &fieldsJSON, &sourcesJSON, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profile")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile fields")
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &p.Sources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile sources")
	}
	return p, nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, entityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin delete entity")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM field_records WHERE entity_id = $1`,
		`DELETE FROM resolutions WHERE entity_id = $1`,
		`DELETE FROM profiles WHERE entity_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, entityID); err != nil {
			return eris.Wrapf(err, "postgres: delete entity %s", entityID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit delete entity")
}
