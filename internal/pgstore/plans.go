package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/tenantquota/pkg/pg"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

// PlanStore implements plan.Store.
type PlanStore struct {
	db *DB
}

const planColumns = `id, name, tier, monthly_price, yearly_price, currency, limits, features, trial_days, is_active, version, created_at, updated_at`

func scanPlan(row pgx.Row) (plan.Plan, error) {
	var (
		p      plan.Plan
		limits []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Tier, &p.MonthlyPrice, &p.YearlyPrice, &p.Currency,
		&limits, &p.Features, &p.TrialDays, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return plan.Plan{}, err
	}
	if err := json.Unmarshal(limits, &p.Limits); err != nil {
		return plan.Plan{}, fmt.Errorf("decode limits of plan %q: %w", p.ID, err)
	}
	return p, nil
}

func (s *PlanStore) Get(ctx context.Context, id string) (plan.Plan, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	p, err := scanPlan(s.db.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return plan.Plan{}, plan.ErrNotFound
	}
	return p, err
}

func (s *PlanStore) List(ctx context.Context) ([]plan.Plan, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	rows, err := s.db.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PlanStore) Create(ctx context.Context, p plan.Plan) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	limits, err := json.Marshal(p.Limits)
	if err != nil {
		return err
	}
	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Name, p.Tier, p.MonthlyPrice, p.YearlyPrice, p.Currency, limits, features(p),
		p.TrialDays, p.IsActive, p.Version, p.CreatedAt, p.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return plan.ErrAlreadyExists
	}
	return err
}

// Update writes p only while the stored row is at expectedVersion.
func (s *PlanStore) Update(ctx context.Context, p plan.Plan, expectedVersion int) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	limits, err := json.Marshal(p.Limits)
	if err != nil {
		return err
	}
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE plans SET name = $2, tier = $3, monthly_price = $4, yearly_price = $5, currency = $6,
			limits = $7, features = $8, trial_days = $9, is_active = $10, version = $11, updated_at = $12
		WHERE id = $1 AND version = $13`,
		p.ID, p.Name, p.Tier, p.MonthlyPrice, p.YearlyPrice, p.Currency, limits, features(p),
		p.TrialDays, p.IsActive, p.Version, p.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, p.ID, plan.ErrConcurrentModification)
}

// Delete removes the plan in one transaction: the row lock waits for
// subscription writes holding a key share on the plan, then the conditional
// delete sees every committed subscriber.
func (s *PlanStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	return pg.WithTx(ctx, s.db.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM plans WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if pg.IsNotFoundError(err) {
			return plan.ErrNotFound
		}
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM plans WHERE id = $1 AND NOT EXISTS (
				SELECT 1 FROM subscriptions
				WHERE plan_id = $1 AND superseded_by IS NULL AND status NOT IN ($2, $3)
			)`,
			id, subscription.StatusCancelled, subscription.StatusExpired)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return plan.ErrPlanInUse
		}
		return nil
	})
}

// classifyMiss returns ErrNotFound when the plan is gone and miss otherwise.
func (s *PlanStore) classifyMiss(ctx context.Context, id string, miss error) error {
	var one int
	err := s.db.pool.QueryRow(ctx, `SELECT 1 FROM plans WHERE id = $1`, id).Scan(&one)
	switch {
	case pg.IsNotFoundError(err):
		return plan.ErrNotFound
	case err != nil:
		return err
	default:
		return miss
	}
}

func features(p plan.Plan) []string {
	if p.Features == nil {
		return []string{}
	}
	return p.Features
}
