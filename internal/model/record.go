package model

import "time"

// DocumentMeta identifies a processed source document.
type DocumentMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ExtractedFieldRecord is one typed field value produced by the extraction
// collaborator for one document. Records are immutable and retained for
// audit and idempotent reprocessing; at most one version exists per
// (document_id, field_name).
type ExtractedFieldRecord struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	FieldName    string    `json:"field_name"`
	Value        string    `json:"value"`
	Confidence   float64   `json:"confidence"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// Valid reports whether the record carries enough data to aggregate.
// Invalid records are dropped with a warning, never a hard failure.
func (r ExtractedFieldRecord) Valid() bool {
	return r.FieldName != "" && r.Value != "" && r.Confidence >= 0 && r.Confidence <= 1
}
