package pgstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/pkg/pg"
	"github.com/dmitrymomot/tenantquota/svc/plan"
)

// CounterStore implements usage.Store on the usage_counters table.
type CounterStore struct {
	db *DB
}

func (s *CounterStore) Get(ctx context.Context, orgID uuid.UUID, r plan.Resource) (int64, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	var v int64
	err := s.db.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT value FROM usage_counters WHERE organization_id = $1 AND resource = $2), 0)`,
		orgID, r).Scan(&v)
	return v, err
}

// CompareAndSwap succeeds only if the stored value equals old. A missing row
// counts as zero.
func (s *CounterStore) CompareAndSwap(ctx context.Context, orgID uuid.UUID, r plan.Resource, old, next int64) (bool, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	if old == 0 {
		tag, err := s.db.pool.Exec(ctx, `
			INSERT INTO usage_counters (organization_id, resource, value) VALUES ($1, $2, $3)
			ON CONFLICT (organization_id, resource) DO UPDATE SET value = EXCLUDED.value
			WHERE usage_counters.value = 0`,
			orgID, r, next)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := s.db.pool.Exec(ctx,
		`UPDATE usage_counters SET value = $4 WHERE organization_id = $1 AND resource = $2 AND value = $3`,
		orgID, r, old, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CounterStore) Decrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	var v int64
	err := s.db.pool.QueryRow(ctx, `
		UPDATE usage_counters SET value = GREATEST(value - $3, 0)
		WHERE organization_id = $1 AND resource = $2
		RETURNING value`,
		orgID, r, amount).Scan(&v)
	if pg.IsNotFoundError(err) {
		return 0, nil
	}
	return v, err
}

func (s *CounterStore) List(ctx context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	rows, err := s.db.pool.Query(ctx,
		`SELECT resource, value FROM usage_counters WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[plan.Resource]int64, len(plan.Resources))
	for _, r := range plan.Resources {
		out[r] = 0
	}
	for rows.Next() {
		var (
			r plan.Resource
			v int64
		)
		if err := rows.Scan(&r, &v); err != nil {
			return nil, err
		}
		out[r] = v
	}
	return out, rows.Err()
}

func (s *CounterStore) Init(ctx context.Context, orgID uuid.UUID, resources []plan.Resource) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO usage_counters (organization_id, resource, value)
		SELECT $1, r, 0 FROM unnest($2::text[]) AS r
		ON CONFLICT (organization_id, resource) DO NOTHING`,
		orgID, resourceNames(resources))
	return err
}

func resourceNames(resources []plan.Resource) []string {
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = string(r)
	}
	return out
}
