// Package extractfile parses extraction output files into ingestible
// payloads. JSON files carry one document each; XLSX workbooks carry bulk
// rows that group into one payload per (entity, document).
package extractfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/model"
)

// Payload is one document's extraction output, ready for ingestion.
type Payload struct {
	EntityID string                       `json:"entity_id"`
	Document model.DocumentMeta           `json:"document"`
	Fields   []aggregate.FieldRecordInput `json:"fields"`
}

// ReadJSON parses a single-document extraction file.
func ReadJSON(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extractfile: read %s", path)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "extractfile: parse %s", path)
	}

	if p.EntityID == "" {
		return nil, eris.Errorf("extractfile: %s is missing entity_id", path)
	}
	if p.Document.ID == "" {
		// Fall back to the file name so re-ingesting the same file replaces
		// rather than duplicates.
		p.Document.ID = filepath.Base(path)
	}
	if p.Document.Name == "" {
		p.Document.Name = filepath.Base(path)
	}
	return &p, nil
}

// xlsx column headers, matched case-insensitively.
const (
	colEntityID     = "entity_id"
	colDocumentID   = "document_id"
	colDocumentName = "document_name"
	colFieldName    = "field_name"
	colValue        = "value"
	colConfidence   = "confidence"
	colExtractedAt  = "extracted_at"
)

var requiredColumns = []string{colEntityID, colDocumentID, colFieldName, colValue, colConfidence}

// timeFormats are accepted for extracted_at cells, tried in order.
var timeFormats = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// ReadXLSXRows turns bulk spreadsheet rows into payloads grouped by
// (entity, document). The first row must be a header naming at least the
// required columns; malformed data rows are skipped with a warning rather
// than failing the import.
func ReadXLSXRows(rows [][]string, sourceName string) ([]Payload, error) {
	if len(rows) == 0 {
		return nil, eris.Errorf("extractfile: %s has no rows", sourceName)
	}

	cols, err := headerIndex(rows[0], sourceName)
	if err != nil {
		return nil, err
	}

	type docKey struct{ entity, doc string }
	order := make([]docKey, 0)
	grouped := make(map[docKey]*Payload)

	for i, row := range rows[1:] {
		cell := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		entityID := cell(colEntityID)
		docID := cell(colDocumentID)
		if entityID == "" || docID == "" {
			zap.L().Warn("skipping row without entity or document id",
				zap.String("source", sourceName),
				zap.Int("row", i+2))
			continue
		}

		conf, err := strconv.ParseFloat(cell(colConfidence), 64)
		if err != nil {
			zap.L().Warn("skipping row with unparseable confidence",
				zap.String("source", sourceName),
				zap.Int("row", i+2),
				zap.String("confidence", cell(colConfidence)))
			continue
		}

		var extractedAt time.Time
		if raw := cell(colExtractedAt); raw != "" {
			extractedAt, err = parseTime(raw)
			if err != nil {
				zap.L().Warn("skipping row with unparseable timestamp",
					zap.String("source", sourceName),
					zap.Int("row", i+2),
					zap.String("extracted_at", raw))
				continue
			}
		}

		key := docKey{entityID, docID}
		p, ok := grouped[key]
		if !ok {
			p = &Payload{
				EntityID: entityID,
				Document: model.DocumentMeta{ID: docID, Name: cell(colDocumentName)},
			}
			if p.Document.Name == "" {
				p.Document.Name = docID
			}
			grouped[key] = p
			order = append(order, key)
		}
		p.Fields = append(p.Fields, aggregate.FieldRecordInput{
			FieldName:   cell(colFieldName),
			Value:       cell(colValue),
			Confidence:  conf,
			ExtractedAt: extractedAt,
		})
	}

	payloads := make([]Payload, 0, len(order))
	for _, key := range order {
		payloads = append(payloads, *grouped[key])
	}
	return payloads, nil
}

func headerIndex(header []string, sourceName string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("extractfile: %s is missing column %q", sourceName, required)
		}
	}
	return cols, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("extractfile: unrecognized timestamp %q", raw)
}
