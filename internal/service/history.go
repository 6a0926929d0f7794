package service

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/export"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/reference"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	exportPageSize  = 1000000
)

// HistoryEntry is a stored record annotated for display.
type HistoryEntry struct {
	*domain.HistoryRecord
	AbnormalFlags map[string]bool `json:"abnormal_flags,omitempty"`
}

// HistoryPage is one page of history, newest first.
type HistoryPage struct {
	Records []HistoryEntry `json:"records"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// HistoryService reads and manages recorded predictions.
type HistoryService struct {
	store      history.Store
	classifier *analysis.Classifier
	features   []string
	log        *logrus.Logger
}

// NewHistoryService creates a history service over store.
func NewHistoryService(store history.Store, ref *reference.Reference, logger *logrus.Logger) (*HistoryService, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if ref == nil {
		return nil, fmt.Errorf("reference data is required")
	}
	table, err := ref.RangeTable()
	if err != nil {
		return nil, fmt.Errorf("building range table: %w", err)
	}
	return &HistoryService{
		store:      store,
		classifier: analysis.NewClassifier(table),
		features:   ref.FeatureList(),
		log:        logger,
	}, nil
}

// List returns a page of records with abnormal flags. A non-positive limit
// selects DefaultPageSize; limits above MaxPageSize are capped.
func (s *HistoryService) List(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}

	page := &HistoryPage{
		Records: make([]HistoryEntry, 0, len(records)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, rec := range records {
		page.Records = append(page.Records, s.annotate(rec))
	}
	return page, nil
}

// Get returns one annotated record. Returns domain.ErrNotFound when absent.
func (s *HistoryService) Get(ctx context.Context, id string) (*HistoryEntry, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := s.annotate(rec)
	return &entry, nil
}

// Delete removes one record. Returns domain.ErrNotFound when absent.
func (s *HistoryService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("record_id", id).Info("History record deleted")
	return nil
}

// DeleteAll removes every record and returns how many were removed.
func (s *HistoryService) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	s.log.WithField("deleted", n).Info("History cleared")
	return n, nil
}

// ExportJSON writes every record as a JSON export document.
func (s *HistoryService) ExportJSON(ctx context.Context, w io.Writer) error {
	return s.store.ExportJSON(ctx, w)
}

// ExportXLSX renders every record as a spreadsheet.
func (s *HistoryService) ExportXLSX(ctx context.Context) ([]byte, error) {
	records, err := s.store.List(ctx, exportPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return export.HistoryWorkbook(records, s.features, s.classifier)
}

// ImportJSON loads records from a JSON export document, skipping records
// that already exist.
func (s *HistoryService) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	imported, skipped, err = s.store.ImportJSON(ctx, r)
	s.log.WithFields(logrus.Fields{
		"imported": imported,
		"skipped":  skipped,
	}).Info("History import finished")
	return imported, skipped, err
}

// Ping checks the underlying store.
func (s *HistoryService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *HistoryService) annotate(rec *domain.HistoryRecord) HistoryEntry {
	return HistoryEntry{
		HistoryRecord: rec,
		AbnormalFlags: AbnormalFlags(s.classifier, rec.Prediction, rec.Features, rec.Input),
	}
}
