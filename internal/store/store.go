// Package store keeps a PostgreSQL history of extracted schemas and
// submission outcomes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a submission ID has no row.
var ErrNotFound = errors.New("not found")

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS form_schemas (
    url          TEXT        NOT NULL,
    form_index   INTEGER     NOT NULL,
    form_id      TEXT        NOT NULL,
    strategy     TEXT        NOT NULL,
    field_count  INTEGER     NOT NULL,
    schema       JSONB       NOT NULL,
    extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (url, form_index)
);
CREATE TABLE IF NOT EXISTS submissions (
    id             TEXT             PRIMARY KEY,
    url            TEXT             NOT NULL,
    form_index     INTEGER          NOT NULL,
    status         TEXT             NOT NULL,
    fill_rate      DOUBLE PRECISION NOT NULL,
    submit_success BOOLEAN          NOT NULL,
    outcome        JSONB            NOT NULL,
    created_at     TIMESTAMPTZ      NOT NULL,
    updated_at     TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_url_created_idx ON submissions (url, created_at DESC);
`

var formColumns = []string{"url", "form_index", "form_id", "strategy", "field_count", "schema", "extracted_at"}

// Store is the PostgreSQL implementation of the history recorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a store over pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open connects to cfg.URL, creates the tables if needed and returns the store.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes the store writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveForms replaces the stored schemas for pageURL with forms.
func (s *Store) SaveForms(ctx context.Context, pageURL string, forms []schemas.FormSchema) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM form_schemas WHERE url = $1`, pageURL); err != nil {
		return fmt.Errorf("failed to clear schemas for %s: %w", pageURL, err)
	}

	if len(forms) > 0 {
		now := s.now()
		rows := make([][]interface{}, len(forms))
		for i, f := range forms {
			doc, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("failed to encode form %d: %w", f.FormIndex, err)
			}
			rows[i] = []interface{}{pageURL, f.FormIndex, f.ID, f.Strategy, len(f.Fields), doc, now}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"form_schemas"}, formColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy schemas: %w", err)
		}
		if int(n) != len(forms) {
			return fmt.Errorf("mismatch in copied schema count: expected %d, got %d", len(forms), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const upsertSubmission = `
INSERT INTO submissions (id, url, form_index, status, fill_rate, submit_success, outcome, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    fill_rate = EXCLUDED.fill_rate,
    submit_success = EXCLUDED.submit_success,
    outcome = EXCLUDED.outcome,
    updated_at = EXCLUDED.updated_at;
`

// SaveOutcome records out. A resumed submission updates its earlier row.
func (s *Store) SaveOutcome(ctx context.Context, pageURL string, formIndex int, out *schemas.SubmissionOutcome) error {
	doc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertSubmission,
		out.SubmissionID, pageURL, formIndex, string(out.Status), out.FillRate, out.SubmitSuccess, doc, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save submission %s: %w", out.SubmissionID, err)
	}
	return nil
}

// GetOutcome loads the full outcome of one submission.
func (s *Store) GetOutcome(ctx context.Context, id string) (*schemas.SubmissionOutcome, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT outcome FROM submissions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission %s: %w", id, err)
	}
	var out schemas.SubmissionOutcome
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("failed to decode submission %s: %w", id, err)
	}
	return &out, nil
}

// SubmissionRecord is the summary row of a stored submission.
type SubmissionRecord struct {
	ID            string                   `json:"id"`
	URL           string                   `json:"url"`
	FormIndex     int                      `json:"formIndex"`
	Status        schemas.SubmissionStatus `json:"status"`
	FillRate      float64                  `json:"fillRate"`
	SubmitSuccess bool                     `json:"submitSuccess"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// ListSubmissions returns the newest submissions, optionally for one URL only.
func (s *Store) ListSubmissions(ctx context.Context, pageURL string, limit int) ([]SubmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, url, form_index, status, fill_rate, submit_success, created_at, updated_at
        FROM submissions
        WHERE ($1 = '' OR url = $1)
        ORDER BY created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, pageURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var records []SubmissionRecord
	for rows.Next() {
		var r SubmissionRecord
		var status string
		if err := rows.Scan(&r.ID, &r.URL, &r.FormIndex, &status, &r.FillRate, &r.SubmitSuccess, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		r.Status = schemas.SubmissionStatus(status)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
