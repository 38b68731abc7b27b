package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
)

func (s *Store) GetConfiguration(ctx context.Context) (*sysconfig.SystemConfiguration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT trigger_label, check_set, merge_method, comment_templates, updated_at FROM configurations WHERE id = 1`)

	var triggerLabel, checkSetJSON, mergeMethod, templatesJSON string
	var updatedAt float64
	if err := row.Scan(&triggerLabel, &checkSetJSON, &mergeMethod, &templatesJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get configuration: %w", err)
	}

	cfg := sysconfig.SystemConfiguration{
		ID:           1,
		TriggerLabel: triggerLabel,
		MergeMethod:  mergeMethod,
		UpdatedAt:    realToTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(checkSetJSON), &cfg.CheckSet); err != nil {
		return nil, fmt.Errorf("unmarshal check set: %w", err)
	}
	if err := json.Unmarshal([]byte(templatesJSON), &cfg.CommentTemplates); err != nil {
		return nil, fmt.Errorf("unmarshal comment templates: %w", err)
	}
	return &cfg, nil
}

func (s *Store) PutConfiguration(ctx context.Context, c sysconfig.SystemConfiguration) (*sysconfig.SystemConfiguration, error) {
	checkSetJSON, err := json.Marshal(c.CheckSet)
	if err != nil {
		return nil, fmt.Errorf("marshal check set: %w", err)
	}
	templatesJSON, err := json.Marshal(c.CommentTemplates)
	if err != nil {
		return nil, fmt.Errorf("marshal comment templates: %w", err)
	}
	c.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO configurations (id, trigger_label, check_set, merge_method, comment_templates, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET trigger_label=excluded.trigger_label, check_set=excluded.check_set,
		   merge_method=excluded.merge_method, comment_templates=excluded.comment_templates, updated_at=excluded.updated_at`,
		c.TriggerLabel, string(checkSetJSON), c.MergeMethod, string(templatesJSON), timeToReal(c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("put configuration: %w", err)
	}
	cp := c
	cp.ID = 1
	return &cp, nil
}

func (s *Store) GetPollCursor(ctx context.Context, repositoryFullName string) (string, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT etag, last_event_id FROM event_poll_history WHERE repository_full_name = ?`, repositoryFullName)
	var etag, lastEventID string
	if err := row.Scan(&etag, &lastEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("get poll cursor: %w", err)
	}
	return etag, lastEventID, nil
}

func (s *Store) PutPollCursor(ctx context.Context, repositoryFullName, etag, lastEventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_poll_history (repository_full_name, etag, last_event_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(repository_full_name) DO UPDATE SET etag=excluded.etag, last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`,
		repositoryFullName, etag, lastEventID, timeToReal(time.Now()))
	if err != nil {
		return fmt.Errorf("put poll cursor: %w", err)
	}
	return nil
}
