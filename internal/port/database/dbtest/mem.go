// Package dbtest provides an in-memory database.Store fake and a compliance
// test suite shared by every Store implementation, following the pattern of
// internal/port/cache's RunComplianceTests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
	"github.com/imq-dev/imq/internal/port/database"
)

// MemStore is an in-memory, mutex-guarded database.Store used by tests only.
type MemStore struct {
	mu        sync.Mutex
	repos     map[string]repository.Repository
	prs       map[string]pullrequest.PullRequest
	queues    map[string]queue.Queue
	entries   map[string]queue.Entry
	checks    map[string]check.Check
	cfg       *sysconfig.SystemConfiguration
	cursors   map[string][2]string
}

var _ database.Store = (*MemStore)(nil)

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		repos:   make(map[string]repository.Repository),
		prs:     make(map[string]pullrequest.PullRequest),
		queues:  make(map[string]queue.Queue),
		entries: make(map[string]queue.Entry),
		checks:  make(map[string]check.Check),
		cursors: make(map[string][2]string),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) GetRepository(_ context.Context, id string) (*repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *MemStore) GetRepositoryByFullName(_ context.Context, fullName string) (*repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.FullName == fullName {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemStore) EnsureRepository(_ context.Context, r repository.Repository) (*repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.repos {
		if existing.FullName == r.FullName {
			return &existing, nil
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.repos[r.ID] = r
	return &r, nil
}

func (m *MemStore) ListRepositories(_ context.Context) ([]repository.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetPullRequest(_ context.Context, id string) (*pullrequest.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.prs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &pr, nil
}

func (m *MemStore) GetPullRequestByNumber(_ context.Context, repositoryID string, number int) (*pullrequest.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pr := range m.prs {
		if pr.RepositoryID == repositoryID && pr.Number == number {
			return &pr, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemStore) UpsertPullRequest(_ context.Context, pr pullrequest.PullRequest) (*pullrequest.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.prs {
		if existing.RepositoryID == pr.RepositoryID && existing.Number == pr.Number {
			pr.ID = id
			if pr.CreatedAt.IsZero() {
				pr.CreatedAt = existing.CreatedAt
			}
			m.prs[id] = pr
			return &pr, nil
		}
	}
	if pr.ID == "" {
		pr.ID = uuid.NewString()
	}
	now := time.Now()
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = now
	}
	pr.UpdatedAt = now
	m.prs[pr.ID] = pr
	return &pr, nil
}

func (m *MemStore) GetQueue(_ context.Context, id string) (*queue.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &q, nil
}

func (m *MemStore) GetQueueByBranch(_ context.Context, repositoryID, baseBranch string) (*queue.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		if q.RepositoryID == repositoryID && q.BaseBranch == baseBranch {
			return &q, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemStore) EnsureQueue(_ context.Context, q queue.Queue) (*queue.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.queues {
		if existing.RepositoryID == q.RepositoryID && existing.BaseBranch == q.BaseBranch {
			return &existing, nil
		}
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	m.queues[q.ID] = q
	return &q, nil
}

func (m *MemStore) ListQueues(_ context.Context) ([]queue.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteQueue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.queues, id)
	return nil
}

func (m *MemStore) GetEntry(_ context.Context, id string) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (m *MemStore) ListEntries(_ context.Context, queueID string) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Entry, 0)
	for _, e := range m.entries {
		if e.QueueID == queueID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemStore) ListRunningEntries(_ context.Context) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Entry, 0)
	for _, e := range m.entries {
		if e.Status == queue.StatusRunning {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) AppendEntry(_ context.Context, e queue.Entry) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	max := -1
	for _, existing := range m.entries {
		if existing.QueueID == e.QueueID && existing.Position > max {
			max = existing.Position
		}
	}
	e.Position = max + 1
	e.Status = queue.StatusPending
	m.entries[e.ID] = e
	return &e, nil
}

func (m *MemStore) UpdateEntry(_ context.Context, e queue.Entry) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	m.entries[e.ID] = e
	return &e, nil
}

func (m *MemStore) RemoveEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.entries, id)

	rest := make([]queue.Entry, 0)
	for _, other := range m.entries {
		if other.QueueID == e.QueueID {
			rest = append(rest, other)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Position < rest[j].Position })
	for i, other := range queue.Redensify(rest) {
		_ = i
		m.entries[other.ID] = other
	}
	return nil
}

func (m *MemStore) ReorderEntries(_ context.Context, queueID string, orderedIDs []string) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Entry, 0, len(orderedIDs))
	for pos, id := range orderedIDs {
		e, ok := m.entries[id]
		if !ok || e.QueueID != queueID {
			return nil, domain.ErrNotFound
		}
		e.Position = pos
		m.entries[id] = e
		out = append(out, e)
	}
	return out, nil
}

func (m *MemStore) ListChecks(_ context.Context, entryID string) ([]check.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]check.Check, 0)
	for _, c := range m.checks {
		if c.EntryID == entryID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpsertCheck(_ context.Context, c check.Check) (*check.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		for id, existing := range m.checks {
			if existing.EntryID == c.EntryID && existing.Name == c.Name {
				c.ID = id
				m.checks[id] = c
				return &c, nil
			}
		}
		c.ID = uuid.NewString()
	}
	m.checks[c.ID] = c
	return &c, nil
}

func (m *MemStore) GetConfiguration(_ context.Context) (*sysconfig.SystemConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *MemStore) PutConfiguration(_ context.Context, c sysconfig.SystemConfiguration) (*sysconfig.SystemConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now()
	m.cfg = &c
	cp := c
	return &cp, nil
}

func (m *MemStore) GetPollCursor(_ context.Context, repositoryFullName string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[repositoryFullName]
	if !ok {
		return "", "", nil
	}
	return c[0], c[1], nil
}

func (m *MemStore) PutPollCursor(_ context.Context, repositoryFullName, etag, lastEventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[repositoryFullName] = [2]string{etag, lastEventID}
	return nil
}
