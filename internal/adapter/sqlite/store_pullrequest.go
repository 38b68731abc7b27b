package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
)

const prColumns = `id, repository_id, number, title, author, base_branch, head_branch, head_sha, is_conflicted, is_up_to_date, created_at, updated_at`

func (s *Store) GetPullRequest(ctx context.Context, id string) (*pullrequest.PullRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prColumns+` FROM pull_requests WHERE id = ?`, id)
	return scanPR(row)
}

func (s *Store) GetPullRequestByNumber(ctx context.Context, repositoryID string, number int) (*pullrequest.PullRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prColumns+` FROM pull_requests WHERE repository_id = ? AND number = ?`, repositoryID, number)
	return scanPR(row)
}

func (s *Store) UpsertPullRequest(ctx context.Context, pr pullrequest.PullRequest) (*pullrequest.PullRequest, error) {
	existing, err := s.GetPullRequestByNumber(ctx, pr.RepositoryID, pr.Number)
	now := time.Now()
	if err == nil {
		pr.ID = existing.ID
		pr.CreatedAt = existing.CreatedAt
		pr.UpdatedAt = now
		_, err := s.db.ExecContext(ctx,
			`UPDATE pull_requests SET title=?, author=?, base_branch=?, head_branch=?, head_sha=?, is_conflicted=?, is_up_to_date=?, updated_at=? WHERE id=?`,
			pr.Title, pr.Author, pr.BaseBranch, pr.HeadBranch, pr.HeadSHA, boolToInt(pr.IsConflicted), boolToInt(pr.IsUpToDate), timeToReal(now), pr.ID)
		if err != nil {
			return nil, fmt.Errorf("update pull request: %w", err)
		}
		return &pr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if pr.ID == "" {
		pr.ID = uuid.NewString()
	}
	pr.CreatedAt = now
	pr.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pull_requests (`+prColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.RepositoryID, pr.Number, pr.Title, pr.Author, pr.BaseBranch, pr.HeadBranch, pr.HeadSHA,
		boolToInt(pr.IsConflicted), boolToInt(pr.IsUpToDate), timeToReal(now), timeToReal(now))
	if err != nil {
		return nil, fmt.Errorf("insert pull request: %w", err)
	}
	return &pr, nil
}

func scanPR(row rowScanner) (*pullrequest.PullRequest, error) {
	var pr pullrequest.PullRequest
	var isConflicted, isUpToDate int
	var createdAt, updatedAt float64
	err := row.Scan(&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Author, &pr.BaseBranch, &pr.HeadBranch,
		&pr.HeadSHA, &isConflicted, &isUpToDate, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	pr.IsConflicted = isConflicted != 0
	pr.IsUpToDate = isUpToDate != 0
	pr.CreatedAt = realToTime(createdAt)
	pr.UpdatedAt = realToTime(updatedAt)
	return &pr, nil
}
