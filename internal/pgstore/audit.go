package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/svc/audit"
)

// AuditStore implements audit.Storage. Rows are only ever inserted.
type AuditStore struct {
	db *DB
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (s *AuditStore) Append(ctx context.Context, e audit.Event) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO audit_events (id, organization_id, actor_id, action, before_state, after_state, result, error, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OrganizationID, e.ActorID, e.Action, nullJSON(e.Before), nullJSON(e.After),
		e.Result, e.Error, meta, e.CreatedAt)
	return err
}

func (s *AuditStore) Query(ctx context.Context, q audit.Query) ([]audit.Event, int, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	where, args := auditWhere(q.Filter)

	var total int
	if err := s.db.pool.QueryRow(ctx, `SELECT count(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := `SELECT id, organization_id, actor_id, action, before_state, after_state, result, error, metadata, created_at
		FROM audit_events` + where + ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e                   audit.Event
			before, after, meta []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ActorID, &e.Action, &before, &after,
			&e.Result, &e.Error, &meta, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Before, e.After = before, after
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode audit metadata %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func auditWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OrganizationID != uuid.Nil {
		add("organization_id = $%d", f.OrganizationID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
