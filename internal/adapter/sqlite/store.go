package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/port/database"
)

// Store implements database.Store using an embedded sqlite database.
type Store struct {
	db *sql.DB
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given pool. Callers must have
// already run Migrate against db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func timeToReal(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func realToTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f*1e9)).UTC()
}

func nullableTimeToReal(t *time.Time) sql.NullFloat64 {
	if t == nil || t.IsZero() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: timeToReal(*t), Valid: true}
}

func realToNullableTime(f sql.NullFloat64) *time.Time {
	if !f.Valid {
		return nil
	}
	t := realToTime(f.Float64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetRepository(ctx context.Context, id string) (*repository.Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, full_name, default_branch, created_at FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

func (s *Store) GetRepositoryByFullName(ctx context.Context, fullName string) (*repository.Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, full_name, default_branch, created_at FROM repositories WHERE full_name = ?`, fullName)
	return scanRepository(row)
}

func (s *Store) EnsureRepository(ctx context.Context, r repository.Repository) (*repository.Repository, error) {
	existing, err := s.GetRepositoryByFullName(ctx, r.FullName)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, owner, name, full_name, default_branch, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Owner, r.Name, r.FullName, r.DefaultBranch, timeToReal(r.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert repository: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]repository.Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, full_name, default_branch, created_at FROM repositories ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []repository.Repository
	for rows.Next() {
		r, err := scanRepositoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*repository.Repository, error) {
	r, err := scanRepositoryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanRepositoryRow(row rowScanner) (repository.Repository, error) {
	var r repository.Repository
	var createdAt float64
	if err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.FullName, &r.DefaultBranch, &createdAt); err != nil {
		return repository.Repository{}, err
	}
	r.CreatedAt = realToTime(createdAt)
	return r, nil
}
