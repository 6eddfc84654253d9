package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"open-data-insight/internal/model"
)

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Dialect names the database/sql driver behind a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		portal_name TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		base_url TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		api_key_name TEXT NOT NULL DEFAULT '',
		api_key_value TEXT NOT NULL DEFAULT '',
		query_parameters TEXT NOT NULL DEFAULT '[]',
		data_format TEXT NOT NULL DEFAULT 'auto',
		pagination TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_test_result TEXT,
		last_ingested_at TEXT,
		last_ingestion_summary TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_jobs (
		job_id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		message TEXT NOT NULL DEFAULT '',
		errors TEXT NOT NULL DEFAULT '[]',
		summary TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_connection ON ingestion_jobs (connection_id, created_at)`,
}

var (
	connectionColumns = []string{
		"id", "portal_name", "dataset_id", "base_url", "path",
		"api_key_name", "api_key_value", "query_parameters", "data_format", "pagination",
		"created_at", "updated_at", "last_test_result", "last_ingested_at", "last_ingestion_summary",
	}
	jobColumns = []string{
		"job_id", "connection_id", "status", "stage", "created_at",
		"started_at", "finished_at", "message", "errors", "summary",
	}
)

// SQLStore persists connections and jobs through database/sql. Statements
// are built with squirrel so the same code serves SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

var _ Repository = (*SQLStore)(nil)

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLStore{db: db, dialect: dialect, sb: sb}
}

// OpenSQLite opens (creating if needed) a SQLite database and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps a
	// :memory: database alive for the life of the pool.
	db.SetMaxOpenConns(1)
	return openSQL(ctx, db, DialectSQLite)
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sql.Open(string(DialectPostgres), url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return openSQL(ctx, db, DialectPostgres)
}

func openSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// SetMaxOpenConns sizes the PostgreSQL pool. SQLite keeps one connection.
func (s *SQLStore) SetMaxOpenConns(n int) {
	if s.dialect == DialectSQLite || n <= 0 {
		return
	}
	s.db.SetMaxOpenConns(n)
	s.db.SetMaxIdleConns(n)
}

// ---------- connections ----------

func (s *SQLStore) CreateConnection(ctx context.Context, conn *model.DatasetConnection) error {
	prepareConnection(conn, time.Now())
	values, err := connectionValues(conn)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert("connections").Columns(connectionColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert connection: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connection %s: %w", conn.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConnection(ctx context.Context, id string) (*model.DatasetConnection, error) {
	query, args, err := s.sb.Select(connectionColumns...).From("connections").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select connection: %w", err)
	}
	conn, err := scanConnection(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return conn, err
}

func (s *SQLStore) ListConnections(ctx context.Context) ([]*model.DatasetConnection, error) {
	query, args, err := s.sb.Select(connectionColumns...).From("connections").OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list connections: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	out := []*model.DatasetConnection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

func (s *SQLStore) UpdateConnection(ctx context.Context, conn *model.DatasetConnection) error {
	conn.UpdatedAt = time.Now().UTC()
	values, err := connectionValues(conn)
	if err != nil {
		return err
	}
	update := s.sb.Update("connections")
	// id and created_at are immutable.
	for i, col := range connectionColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		update = update.Set(col, values[i])
	}
	query, args, err := update.Where(sq.Eq{"id": conn.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update connection: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrNotFound)
	}
	return nil
}

// ---------- jobs ----------

func (s *SQLStore) CreateJob(ctx context.Context, job *model.IngestionJob) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Insert("ingestion_jobs").Columns(jobColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert job: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", job.JobID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*model.IngestionJob, error) {
	query, args, err := s.sb.Select(jobColumns...).From("ingestion_jobs").Where(sq.Eq{"job_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select job: %w", err)
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *SQLStore) ListJobs(ctx context.Context, filter JobFilter) ([]*model.IngestionJob, error) {
	sel := s.sb.Select(jobColumns...).From("ingestion_jobs")
	if filter.ConnectionID != "" {
		sel = sel.Where(sq.Eq{"connection_id": filter.ConnectionID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		sel = sel.Where(sq.Eq{"status": statuses})
	}
	sel = sel.OrderBy("created_at DESC", "job_id DESC")
	if filter.Limit > 0 {
		sel = sel.Limit(uint64(filter.Limit))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, job *model.IngestionJob, from model.JobStatus) error {
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	update := s.sb.Update("ingestion_jobs")
	for i, col := range jobColumns {
		switch col {
		case "job_id", "connection_id", "created_at":
			continue
		}
		update = update.Set(col, values[i])
	}
	query, args, err := update.
		Where(sq.Eq{"job_id": job.JobID}).
		Where(sq.Eq{"status": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetJob(ctx, job.JobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s, expected %s: %w", job.JobID, current.Status, from, ErrStaleJob)
}

// ---------- encoding ----------

type rowScanner interface {
	Scan(dest ...any) error
}

func connectionValues(c *model.DatasetConnection) ([]any, error) {
	params, err := json.Marshal(c.QueryParameters)
	if err != nil {
		return nil, fmt.Errorf("encode query parameters: %w", err)
	}
	pagination, err := nullableJSON(c.Pagination)
	if err != nil {
		return nil, fmt.Errorf("encode pagination: %w", err)
	}
	testResult, err := nullableJSON(c.LastTestResult)
	if err != nil {
		return nil, fmt.Errorf("encode test result: %w", err)
	}
	summary, err := nullableJSON(c.LastIngestionSummary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return []any{
		c.ID, c.PortalName, c.DatasetID, c.BaseURL, c.Path,
		c.APIKeyName, c.APIKeyValue, string(params), string(c.DataFormat), pagination,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), testResult, formatTimePtr(c.LastIngestedAt), summary,
	}, nil
}

func scanConnection(row rowScanner) (*model.DatasetConnection, error) {
	var (
		c                                       model.DatasetConnection
		params, format, createdAt, updatedAt    string
		pagination, testResult, lastAt, summary sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.PortalName, &c.DatasetID, &c.BaseURL, &c.Path,
		&c.APIKeyName, &c.APIKeyValue, &params, &format, &pagination,
		&createdAt, &updatedAt, &testResult, &lastAt, &summary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.DataFormat = model.DataFormat(format)
	if err := json.Unmarshal([]byte(params), &c.QueryParameters); err != nil {
		return nil, fmt.Errorf("decode query parameters: %w", err)
	}
	if c.QueryParameters == nil {
		c.QueryParameters = []model.QueryParameter{}
	}
	if c.Pagination, err = decodeNullable[model.Pagination](pagination); err != nil {
		return nil, fmt.Errorf("decode pagination: %w", err)
	}
	if c.LastTestResult, err = decodeNullable[model.ConnectionTestResult](testResult); err != nil {
		return nil, fmt.Errorf("decode test result: %w", err)
	}
	if c.LastIngestionSummary, err = decodeNullable[model.IngestionSummary](summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if c.LastIngestedAt, err = parseTimePtr(lastAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func jobValues(j *model.IngestionJob) ([]any, error) {
	errs := j.Errors
	if errs == nil {
		errs = []string{}
	}
	errText, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("encode job errors: %w", err)
	}
	summary, err := nullableJSON(j.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode job summary: %w", err)
	}
	return []any{
		j.JobID, j.ConnectionID, string(j.Status), j.Stage, formatTime(j.CreatedAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.FinishedAt), j.Message, string(errText), summary,
	}, nil
}

func scanJob(row rowScanner) (*model.IngestionJob, error) {
	var (
		j                              model.IngestionJob
		status, createdAt, errText     string
		startedAt, finishedAt, summary sql.NullString
	)
	err := row.Scan(
		&j.JobID, &j.ConnectionID, &status, &j.Stage, &createdAt,
		&startedAt, &finishedAt, &j.Message, &errText, &summary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(errText), &j.Errors); err != nil {
		return nil, fmt.Errorf("decode job errors: %w", err)
	}
	if j.Errors == nil {
		j.Errors = []string{}
	}
	if j.Summary, err = decodeNullable[model.IngestionSummary](summary); err != nil {
		return nil, fmt.Errorf("decode job summary: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeNullable[T any](s sql.NullString) (*T, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal([]byte(s.String), v); err != nil {
		return nil, err
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
