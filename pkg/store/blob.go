package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
)

// BlobStore is a flat key/value object store. Get returns ErrNotFound for
// missing keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// JSONStore implements ResultStore as JSON documents on a BlobStore. It
// keeps an index object next to the extractions so they can be listed
// without scanning.
type JSONStore struct {
	blobs BlobStore
	mu    sync.Mutex
}

// NewJSONStore wraps blobs.
func NewJSONStore(blobs BlobStore) *JSONStore {
	return &JSONStore{blobs: blobs}
}

func (s *JSONStore) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *JSONStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *JSONStore) loadIndex(ctx context.Context) (Index, error) {
	var idx Index
	err := s.getJSON(ctx, IndexKey, &idx)
	if errors.Is(err, ErrNotFound) {
		return Index{}, nil
	}
	return idx, err
}

// SaveExtraction writes the extraction and records it in the index.
func (s *JSONStore) SaveExtraction(ctx context.Context, doc common.DocumentExtraction) error {
	if doc.Filename == "" {
		return fmt.Errorf("extraction has no filename")
	}
	key := ExtractionKey(doc.Filename)
	if err := s.putJSON(ctx, key, doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	idx.Upsert(IndexEntry{
		Filename:  doc.Filename,
		Company:   doc.Company,
		Date:      doc.Date,
		Key:       key,
		Relations: len(doc.Relations),
	})
	logger.Debug("Saved extraction", "file", doc.Filename, "key", key, "relations", len(doc.Relations))
	return s.putJSON(ctx, IndexKey, idx)
}

func (s *JSONStore) LoadExtraction(ctx context.Context, filename string) (common.DocumentExtraction, error) {
	var doc common.DocumentExtraction
	if err := s.getJSON(ctx, ExtractionKey(filename), &doc); err != nil {
		return common.DocumentExtraction{}, err
	}
	return doc, nil
}

func (s *JSONStore) ListExtractions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Filenames(), nil
}

func (s *JSONStore) SaveAggregate(ctx context.Context, agg common.AggregatedResult) error {
	return s.putJSON(ctx, AggregateKey, agg)
}

func (s *JSONStore) LoadAggregate(ctx context.Context) (common.AggregatedResult, error) {
	var agg common.AggregatedResult
	if err := s.getJSON(ctx, AggregateKey, &agg); err != nil {
		return common.AggregatedResult{}, err
	}
	return agg, nil
}

func (s *JSONStore) SaveRunSummary(ctx context.Context, summary common.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run summary has no run id")
	}
	return s.putJSON(ctx, RunKey(summary.RunID), summary)
}
