package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"open-data-insight/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrStaleJob is returned by UpdateJob when the stored status no longer
	// matches the status the caller read.
	ErrStaleJob = errors.New("job was modified concurrently")
)

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	ConnectionID string
	Statuses     []model.JobStatus
	Limit        int
}

func (f JobFilter) matches(job *model.IngestionJob) bool {
	if f.ConnectionID != "" && job.ConnectionID != f.ConnectionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}

// Repository persists connections and ingestion jobs. Returned values are
// copies; callers may mutate them freely.
type Repository interface {
	CreateConnection(ctx context.Context, conn *model.DatasetConnection) error
	GetConnection(ctx context.Context, id string) (*model.DatasetConnection, error)
	ListConnections(ctx context.Context) ([]*model.DatasetConnection, error)
	UpdateConnection(ctx context.Context, conn *model.DatasetConnection) error

	CreateJob(ctx context.Context, job *model.IngestionJob) error
	GetJob(ctx context.Context, id string) (*model.IngestionJob, error)
	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*model.IngestionJob, error)
	// UpdateJob overwrites job if its stored status still equals from.
	UpdateJob(ctx context.Context, job *model.IngestionJob, from model.JobStatus) error

	Close() error
}

// Open selects a repository implementation from a database URL:
//
//	memory://                 in-process maps
//	sqlite:///relative.db     SQLite file relative to the working directory
//	sqlite:////abs/path.db    SQLite file with an absolute path
//	sqlite://:memory:         private in-memory SQLite database
//	postgres://user@host/db   PostgreSQL
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return nil, fmt.Errorf("open store: sqlite url %q has no path", databaseURL)
		}
		return OpenSQLite(ctx, path)
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("open store: unsupported database url %q", databaseURL)
	}
}
