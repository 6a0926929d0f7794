// Package history persists prediction records. Records are written once at
// prediction time and only ever removed by explicit deletion.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/heartrisk-server/internal/domain"
)

// ErrDuplicateID is returned when saving a record whose ID already exists.
var ErrDuplicateID = errors.New("history record already exists")

// Store defines the interface for history storage operations.
type Store interface {
	// Save inserts a new record. An empty ID is replaced by a generated UUID
	// and a zero CreatedAt by the current time.
	Save(ctx context.Context, record *domain.HistoryRecord) error

	// Get retrieves one record. Returns domain.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*domain.HistoryRecord, error)

	// List returns records newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*domain.HistoryRecord, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// Delete removes a record by ID. Returns domain.ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every record and returns how many were deleted.
	DeleteAll(ctx context.Context) (int64, error)

	// ExportJSON exports all records to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports records from a JSON reader, skipping IDs that
	// already exist.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string                  `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Count      int                     `json:"count"`
	Records    []*domain.HistoryRecord `json:"records"`
}

// exportVersion is written into every export document.
const exportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// prepareRecord fills in generated fields before insertion.
func prepareRecord(record *domain.HistoryRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if !record.Prediction.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRiskLevel, record.Prediction)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return nil
}

// encodedRecord holds the JSON columns of a record.
type encodedRecord struct {
	features []byte
	input    []byte
	baseline []byte
}

func encodeRecord(record *domain.HistoryRecord) (*encodedRecord, error) {
	features, err := json.Marshal(nonNilStrings(record.Features))
	if err != nil {
		return nil, fmt.Errorf("encoding features: %w", err)
	}
	input, err := json.Marshal(nonNilValues(record.Input))
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}
	baseline, err := json.Marshal(nonNilValues(record.Baseline))
	if err != nil {
		return nil, fmt.Errorf("encoding baseline: %w", err)
	}
	return &encodedRecord{features: features, input: input, baseline: baseline}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a HistoryRecord.
func scanRecord(s scanner) (*domain.HistoryRecord, error) {
	rec := &domain.HistoryRecord{}
	var prediction string
	var features, input, baseline []byte

	if err := s.Scan(&rec.ID, &prediction, &rec.Confidence, &features, &input, &baseline, &rec.CreatedAt); err != nil {
		return nil, err
	}

	rec.Prediction = domain.RiskLevel(prediction)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := json.Unmarshal(features, &rec.Features); err != nil {
		return nil, fmt.Errorf("decoding features of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(input, &rec.Input); err != nil {
		return nil, fmt.Errorf("decoding input of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(baseline, &rec.Baseline); err != nil {
		return nil, fmt.Errorf("decoding baseline of %s: %w", rec.ID, err)
	}
	if len(rec.Baseline) == 0 {
		rec.Baseline = nil
	}
	return rec, nil
}

// exportJSON writes every record of s as an Export document.
func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if all == nil {
		all = []*domain.HistoryRecord{}
	}

	export := &Export{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Records:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importJSON saves every record of an Export document into s, skipping
// records whose ID is already present.
func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, rec := range export.Records {
		if rec == nil {
			continue
		}
		if rec.ID != "" {
			_, err := s.Get(ctx, rec.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := s.Save(ctx, rec); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilValues(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
