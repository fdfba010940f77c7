package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

// ErrNotFound is returned when a requested result does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	extractionSuffix = "_kpi_factors.json"
	AggregateKey     = "kpi_factors_aggregated.json"
	IndexKey         = "kpi_factors_index.json"
	runPrefix        = "runs/"
)

// ResultStore persists per-document extractions, the corpus aggregate and
// run summaries. Implementations must be safe for concurrent use.
type ResultStore interface {
	SaveExtraction(ctx context.Context, doc common.DocumentExtraction) error
	LoadExtraction(ctx context.Context, filename string) (common.DocumentExtraction, error)
	// ListExtractions returns the filenames of all saved extractions in the
	// order they were first saved.
	ListExtractions(ctx context.Context) ([]string, error)
	SaveAggregate(ctx context.Context, agg common.AggregatedResult) error
	LoadAggregate(ctx context.Context) (common.AggregatedResult, error)
	SaveRunSummary(ctx context.Context, summary common.RunSummary) error
}

// ExtractionKey is the object name of a document's extraction: the source
// filename without its extension, followed by "_kpi_factors.json".
func ExtractionKey(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return util.SafeFilename(stem) + extractionSuffix
}

// RunKey is the object name of a run summary.
func RunKey(runID string) string {
	return runPrefix + util.SafeFilename(runID) + ".json"
}

// IndexEntry describes one saved extraction.
type IndexEntry struct {
	Filename  string `json:"filename"`
	Company   string `json:"company"`
	Date      string `json:"date"`
	Key       string `json:"key"`
	Relations int    `json:"relations"`
}

// Index lists saved extractions in first-saved order.
type Index struct {
	Documents []IndexEntry `json:"documents"`
}

// Upsert adds the entry or replaces the one with the same filename in place.
func (i *Index) Upsert(e IndexEntry) {
	for n := range i.Documents {
		if i.Documents[n].Filename == e.Filename {
			i.Documents[n] = e
			return
		}
	}
	i.Documents = append(i.Documents, e)
}

// Filenames returns the indexed filenames in order.
func (i *Index) Filenames() []string {
	out := make([]string, 0, len(i.Documents))
	for _, d := range i.Documents {
		out = append(out, d.Filename)
	}
	return out
}

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize over total items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
