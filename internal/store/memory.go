package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"open-data-insight/internal/model"
)

// MemoryStore keeps everything in process memory. It is the default for
// tests and for single-process deployments that do not need durability.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[string]*model.DatasetConnection
	connOrder   []string
	jobs        map[string]*model.IngestionJob
	jobOrder    []string
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]*model.DatasetConnection),
		jobs:        make(map[string]*model.IngestionJob),
	}
}

func (m *MemoryStore) CreateConnection(_ context.Context, conn *model.DatasetConnection) error {
	prepareConnection(conn, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[conn.ID]; ok {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrAlreadyExists)
	}
	m.connections[conn.ID] = conn.Clone()
	m.connOrder = append(m.connOrder, conn.ID)
	return nil
}

func (m *MemoryStore) GetConnection(_ context.Context, id string) (*model.DatasetConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return conn.Clone(), nil
}

func (m *MemoryStore) ListConnections(_ context.Context) ([]*model.DatasetConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.DatasetConnection, 0, len(m.connOrder))
	for _, id := range m.connOrder {
		out = append(out, m.connections[id].Clone())
	}
	return out, nil
}

func (m *MemoryStore) UpdateConnection(_ context.Context, conn *model.DatasetConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[conn.ID]; !ok {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrNotFound)
	}
	conn.UpdatedAt = time.Now().UTC()
	m.connections[conn.ID] = conn.Clone()
	return nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *model.IngestionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s: %w", job.JobID, ErrAlreadyExists)
	}
	m.jobs[job.JobID] = job.Clone()
	m.jobOrder = append(m.jobOrder, job.JobID)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*model.IngestionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job.Clone(), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*model.IngestionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.IngestionJob
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		job := m.jobs[m.jobOrder[i]]
		if filter.matches(job) {
			out = append(out, job.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *model.IngestionJob, from model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.JobID, ErrNotFound)
	}
	if current.Status != from {
		return fmt.Errorf("job %s is %s, expected %s: %w", job.JobID, current.Status, from, ErrStaleJob)
	}
	m.jobs[job.JobID] = job.Clone()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// prepareConnection assigns an id and timestamps to a new connection.
func prepareConnection(conn *model.DatasetConnection, now time.Time) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now = now.UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	if conn.QueryParameters == nil {
		conn.QueryParameters = []model.QueryParameter{}
	}
}
