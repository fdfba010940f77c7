package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const relationCopyChunkSize = 1000

const schema = `
CREATE TABLE IF NOT EXISTS extractions (
    seq         BIGSERIAL,
    filename    TEXT PRIMARY KEY,
    source      TEXT NOT NULL,
    company     TEXT NOT NULL,
    doc_date    TEXT NOT NULL,
    model       TEXT NOT NULL,
    payload     JSONB NOT NULL,
    saved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS relations (
    id          BIGSERIAL PRIMARY KEY,
    filename    TEXT NOT NULL REFERENCES extractions(filename) ON DELETE CASCADE,
    company     TEXT NOT NULL,
    doc_date    TEXT NOT NULL,
    kpi         TEXT NOT NULL,
    factor      TEXT NOT NULL,
    relation    TEXT NOT NULL,
    evidence    TEXT NOT NULL,
    confidence  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS relations_pair_idx ON relations (kpi, factor);
CREATE TABLE IF NOT EXISTS aggregates (
    id          INT PRIMARY KEY,
    payload     JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    payload     JSONB NOT NULL
);
`

var relationColumns = []string{
	"filename", "company", "doc_date", "kpi", "factor", "relation", "evidence", "confidence",
}

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// ResultDBStorage implements store.ResultStore on PostgreSQL. Extractions and
// aggregates are kept as JSONB; relations are additionally flattened into
// their own table for ad-hoc SQL.
type ResultDBStorage struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

// NewResultDBStorageWithConnection wraps an existing connection or pool.
func NewResultDBStorageWithConnection(conn pgxIConn) *ResultDBStorage {
	return &ResultDBStorage{conn: conn}
}

// Migrate creates the tables if they do not exist.
func (s *ResultDBStorage) Migrate(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveExtraction replaces the stored extraction and its relation rows in one
// transaction.
func (s *ResultDBStorage) SaveExtraction(ctx context.Context, doc common.DocumentExtraction) error {
	if doc.Filename == "" {
		return fmt.Errorf("extraction has no filename")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode extraction: %w", err)
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO extractions (filename, source, company, doc_date, model, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (filename) DO UPDATE SET
			source = EXCLUDED.source,
			company = EXCLUDED.company,
			doc_date = EXCLUDED.doc_date,
			model = EXCLUDED.model,
			payload = EXCLUDED.payload,
			saved_at = now()`,
		util.SanitizePostgresText(doc.Filename),
		string(doc.Source),
		util.SanitizePostgresText(doc.Company),
		util.SanitizePostgresText(doc.Date),
		doc.Model,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert extraction %s: %w", doc.Filename, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM relations WHERE filename = $1`, util.SanitizePostgresText(doc.Filename)); err != nil {
		return fmt.Errorf("failed to clear relations of %s: %w", doc.Filename, err)
	}

	rows := relationRows(doc)
	err = store.ChunkRange(len(rows), relationCopyChunkSize, func(start, end int) error {
		_, err := tx.CopyFrom(ctx, pgxv5.Identifier{"relations"}, relationColumns, pgxv5.CopyFromRows(rows[start:end]))
		if err != nil {
			return fmt.Errorf("failed to copy relations of %s: %w", doc.Filename, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Saved extraction", "file", doc.Filename, "relations", len(rows))
	return tx.Commit(ctx)
}

// relationRows flattens the document's relations for COPY. Empty record
// fields inherit the document's values.
func relationRows(doc common.DocumentExtraction) [][]any {
	rows := make([][]any, 0, len(doc.Relations))
	for _, r := range doc.Relations {
		company := r.Company
		if company == "" {
			company = doc.Company
		}
		date := r.Date
		if date == "" {
			date = doc.Date
		}
		confidence := r.Confidence
		if confidence == "" {
			confidence = common.ConfidenceUnknown
		}
		rows = append(rows, []any{
			util.SanitizePostgresText(doc.Filename),
			util.SanitizePostgresText(company),
			util.SanitizePostgresText(date),
			util.SanitizePostgresText(r.KPI),
			util.SanitizePostgresText(r.Factor),
			string(r.Relation),
			util.SanitizePostgresText(r.Evidence),
			string(confidence),
		})
	}
	return rows
}

func (s *ResultDBStorage) LoadExtraction(ctx context.Context, filename string) (common.DocumentExtraction, error) {
	var payload []byte
	err := s.conn.QueryRow(ctx, `SELECT payload FROM extractions WHERE filename = $1`, util.SanitizePostgresText(filename)).Scan(&payload)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.DocumentExtraction{}, fmt.Errorf("%s: %w", filename, store.ErrNotFound)
	}
	if err != nil {
		return common.DocumentExtraction{}, err
	}

	var doc common.DocumentExtraction
	if err := json.Unmarshal(payload, &doc); err != nil {
		return common.DocumentExtraction{}, fmt.Errorf("failed to decode extraction %s: %w", filename, err)
	}
	return doc, nil
}

func (s *ResultDBStorage) ListExtractions(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT filename FROM extractions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	names, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	return names, nil
}

func (s *ResultDBStorage) SaveAggregate(ctx context.Context, agg common.AggregatedResult) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate: %w", err)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO aggregates (id, payload) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

func (s *ResultDBStorage) LoadAggregate(ctx context.Context) (common.AggregatedResult, error) {
	var payload []byte
	err := s.conn.QueryRow(ctx, `SELECT payload FROM aggregates WHERE id = 1`).Scan(&payload)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.AggregatedResult{}, fmt.Errorf("aggregate: %w", store.ErrNotFound)
	}
	if err != nil {
		return common.AggregatedResult{}, err
	}

	var agg common.AggregatedResult
	if err := json.Unmarshal(payload, &agg); err != nil {
		return common.AggregatedResult{}, fmt.Errorf("failed to decode aggregate: %w", err)
	}
	return agg, nil
}

func (s *ResultDBStorage) SaveRunSummary(ctx context.Context, summary common.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run summary has no run id")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	started, finished := summary.StartedAt, summary.FinishedAt
	if started.IsZero() {
		started = time.Now()
	}
	if finished.IsZero() {
		finished = started
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, payload) VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload`,
		summary.RunID, started, finished, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save run summary %s: %w", summary.RunID, err)
	}
	return nil
}
