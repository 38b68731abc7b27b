package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/check"
)

func (s *Store) ListChecks(ctx context.Context, entryID string) ([]check.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entry_id, name, kind, kind_config, status, configuration, started_at, completed_at, output
		 FROM checks WHERE entry_id = ? ORDER BY name`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []check.Check
	for rows.Next() {
		c, err := scanCheckRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCheck(ctx context.Context, c check.Check) (*check.Check, error) {
	configJSON, err := json.Marshal(c.Configuration)
	if err != nil {
		return nil, fmt.Errorf("marshal check configuration: %w", err)
	}
	if c.KindConfig == nil {
		c.KindConfig = json.RawMessage("{}")
	}

	var existingID string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM checks WHERE entry_id = ? AND name = ?`, c.EntryID, c.Name).Scan(&existingID)
	switch {
	case err == nil:
		c.ID = existingID
		_, err = s.db.ExecContext(ctx,
			`UPDATE checks SET kind=?, kind_config=?, status=?, configuration=?, started_at=?, completed_at=?, output=? WHERE id=?`,
			string(c.Kind), string(c.KindConfig), string(c.Status), string(configJSON),
			nullableTimeToReal(c.StartedAt), nullableTimeToReal(c.CompletedAt), c.Output, c.ID)
		if err != nil {
			return nil, fmt.Errorf("update check: %w", err)
		}
		return &c, nil
	case errors.Is(err, sql.ErrNoRows):
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO checks (id, entry_id, name, kind, kind_config, status, configuration, started_at, completed_at, output)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.EntryID, c.Name, string(c.Kind), string(c.KindConfig), string(c.Status), string(configJSON),
			nullableTimeToReal(c.StartedAt), nullableTimeToReal(c.CompletedAt), c.Output)
		if err != nil {
			return nil, fmt.Errorf("insert check: %w", err)
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("lookup check: %w", err)
	}
}

func scanCheckRow(row rowScanner) (check.Check, error) {
	var c check.Check
	var kind, kindConfig, status, configuration string
	var startedAt, completedAt sql.NullFloat64
	if err := row.Scan(&c.ID, &c.EntryID, &c.Name, &kind, &kindConfig, &status, &configuration, &startedAt, &completedAt, &c.Output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return check.Check{}, domain.ErrNotFound
		}
		return check.Check{}, err
	}
	c.Kind = check.Kind(kind)
	c.KindConfig = []byte(kindConfig)
	c.Status = check.Status(status)
	c.StartedAt = realToNullableTime(startedAt)
	c.CompletedAt = realToNullableTime(completedAt)
	if err := json.Unmarshal([]byte(configuration), &c.Configuration); err != nil {
		return check.Check{}, fmt.Errorf("unmarshal check configuration: %w", err)
	}
	return c, nil
}
