package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/queue"
)

func (s *Store) GetQueue(ctx context.Context, id string) (*queue.Queue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, repository_id, base_branch, created_at FROM queues WHERE id = ?`, id)
	return scanQueue(row)
}

func (s *Store) GetQueueByBranch(ctx context.Context, repositoryID, baseBranch string) (*queue.Queue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, base_branch, created_at FROM queues WHERE repository_id = ? AND base_branch = ?`,
		repositoryID, baseBranch)
	return scanQueue(row)
}

func (s *Store) EnsureQueue(ctx context.Context, q queue.Queue) (*queue.Queue, error) {
	existing, err := s.GetQueueByBranch(ctx, q.RepositoryID, q.BaseBranch)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queues (id, repository_id, base_branch, created_at) VALUES (?, ?, ?, ?)`,
		q.ID, q.RepositoryID, q.BaseBranch, timeToReal(q.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert queue: %w", err)
	}
	return &q, nil
}

func (s *Store) ListQueues(ctx context.Context) ([]queue.Queue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, repository_id, base_branch, created_at FROM queues ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var out []queue.Queue
	for rows.Next() {
		q, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) DeleteQueue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const entryColumns = `id, queue_id, pull_request_id, position, status, enqueued_at, started_at, completed_at`

func (s *Store) GetEntry(ctx context.Context, id string) (*queue.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	return scanEntry(row)
}

func (s *Store) ListEntries(ctx context.Context, queueID string) ([]queue.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE queue_id = ? ORDER BY position`, queueID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []queue.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListRunningEntries(ctx context.Context) ([]queue.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE status = ?`, string(queue.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running entries: %w", err)
	}
	defer rows.Close()

	var out []queue.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendEntry(ctx context.Context, e queue.Entry) (*queue.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	e.Status = queue.StatusPending

	var maxPos sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(position) FROM queue_entries WHERE queue_id = ?`, e.QueueID).Scan(&maxPos); err != nil {
		return nil, fmt.Errorf("max position: %w", err)
	}
	e.Position = 0
	if maxPos.Valid {
		e.Position = int(maxPos.Int64) + 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.QueueID, e.PullRequestID, e.Position, string(e.Status), timeToReal(e.EnqueuedAt),
		nullableTimeToReal(e.StartedAt), nullableTimeToReal(e.CompletedAt))
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return &e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e queue.Entry) (*queue.Entry, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET position=?, status=?, started_at=?, completed_at=? WHERE id=?`,
		e.Position, string(e.Status), nullableTimeToReal(e.StartedAt), nullableTimeToReal(e.CompletedAt), e.ID)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

// RemoveEntry deletes an entry and re-densifies the remaining live positions
// in its queue so they again form {0,1,...,n-1}.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE queue_id = ? ORDER BY position`, e.QueueID)
	if err != nil {
		return fmt.Errorf("reselect entries: %w", err)
	}
	var rest []queue.Entry
	for rows.Next() {
		re, err := scanEntryRow(rows)
		if err != nil {
			rows.Close()
			return err
		}
		rest = append(rest, re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, re := range queue.Redensify(rest) {
		if _, err := tx.ExecContext(ctx, `UPDATE queue_entries SET position = ? WHERE id = ?`, re.Position, re.ID); err != nil {
			return fmt.Errorf("redensify: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) ReorderEntries(ctx context.Context, queueID string, orderedIDs []string) ([]queue.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := make([]queue.Entry, 0, len(orderedIDs))
	for pos, id := range orderedIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET position = ? WHERE id = ? AND queue_id = ?`, pos, id, queueID)
		if err != nil {
			return nil, fmt.Errorf("reorder: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrNotFound
		}
		e, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id))
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reorder: %w", err)
	}
	return out, nil
}

func scanQueue(row rowScanner) (*queue.Queue, error) {
	q, err := scanQueueRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

func scanQueueRow(row rowScanner) (queue.Queue, error) {
	var q queue.Queue
	var createdAt float64
	if err := row.Scan(&q.ID, &q.RepositoryID, &q.BaseBranch, &createdAt); err != nil {
		return queue.Queue{}, err
	}
	q.CreatedAt = realToTime(createdAt)
	return q, nil
}

func scanEntry(row rowScanner) (*queue.Entry, error) {
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanEntryRow(row rowScanner) (queue.Entry, error) {
	var e queue.Entry
	var status string
	var enqueuedAt float64
	var startedAt, completedAt sql.NullFloat64
	if err := row.Scan(&e.ID, &e.QueueID, &e.PullRequestID, &e.Position, &status, &enqueuedAt, &startedAt, &completedAt); err != nil {
		return queue.Entry{}, err
	}
	e.Status = queue.Status(status)
	e.EnqueuedAt = realToTime(enqueuedAt)
	e.StartedAt = realToNullableTime(startedAt)
	e.CompletedAt = realToNullableTime(completedAt)
	return e, nil
}
