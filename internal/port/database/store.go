// Package database defines the persistence port (interface) over the
// embedded SQL store: typed repositories for Repository, PullRequest,
// Queue, QueueEntry, Check, and SystemConfiguration.
package database

import (
	"context"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
)

// Store is the port interface for all persisted entities. A single Store
// implementation owns an actor-serialized connection pool; callers never see
// the underlying driver.
type Store interface {
	// Repositories
	GetRepository(ctx context.Context, id string) (*repository.Repository, error)
	GetRepositoryByFullName(ctx context.Context, fullName string) (*repository.Repository, error)
	EnsureRepository(ctx context.Context, r repository.Repository) (*repository.Repository, error)
	ListRepositories(ctx context.Context) ([]repository.Repository, error)

	// Pull Requests
	GetPullRequest(ctx context.Context, id string) (*pullrequest.PullRequest, error)
	GetPullRequestByNumber(ctx context.Context, repositoryID string, number int) (*pullrequest.PullRequest, error)
	UpsertPullRequest(ctx context.Context, pr pullrequest.PullRequest) (*pullrequest.PullRequest, error)

	// Queues
	GetQueue(ctx context.Context, id string) (*queue.Queue, error)
	GetQueueByBranch(ctx context.Context, repositoryID, baseBranch string) (*queue.Queue, error)
	EnsureQueue(ctx context.Context, q queue.Queue) (*queue.Queue, error)
	ListQueues(ctx context.Context) ([]queue.Queue, error)
	DeleteQueue(ctx context.Context, id string) error

	// Queue Entries
	GetEntry(ctx context.Context, id string) (*queue.Entry, error)
	ListEntries(ctx context.Context, queueID string) ([]queue.Entry, error)
	ListRunningEntries(ctx context.Context) ([]queue.Entry, error)
	AppendEntry(ctx context.Context, e queue.Entry) (*queue.Entry, error)
	UpdateEntry(ctx context.Context, e queue.Entry) (*queue.Entry, error)
	RemoveEntry(ctx context.Context, id string) error
	ReorderEntries(ctx context.Context, queueID string, orderedIDs []string) ([]queue.Entry, error)

	// Checks
	ListChecks(ctx context.Context, entryID string) ([]check.Check, error)
	UpsertCheck(ctx context.Context, c check.Check) (*check.Check, error)

	// System Configuration (singleton, id=1)
	GetConfiguration(ctx context.Context) (*sysconfig.SystemConfiguration, error)
	PutConfiguration(ctx context.Context, c sysconfig.SystemConfiguration) (*sysconfig.SystemConfiguration, error)

	// Event-ingress cursor, persisted per-repo across restarts.
	GetPollCursor(ctx context.Context, repositoryFullName string) (etag string, lastEventID string, err error)
	PutPollCursor(ctx context.Context, repositoryFullName, etag, lastEventID string) error

	// Close releases the connection pool.
	Close() error
}
