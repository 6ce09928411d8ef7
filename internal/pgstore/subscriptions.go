package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/tenantquota/pkg/pg"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

// SubscriptionStore implements subscription.Store.
type SubscriptionStore struct {
	db *DB
}

const subscriptionColumns = `id, organization_id, plan_id, plan_version, status, billing_cycle,
	start_date, end_date, grace_deadline, amount, currency, limits, over_limit, has_payment_method,
	cancel_reason, cancelled_at, superseded_by, version, created_at, updated_at`

func scanSubscription(row pgx.Row) (subscription.Subscription, error) {
	var (
		s      subscription.Subscription
		limits []byte
	)
	err := row.Scan(&s.ID, &s.OrganizationID, &s.PlanID, &s.PlanVersion, &s.Status, &s.BillingCycle,
		&s.StartDate, &s.EndDate, &s.GraceDeadline, &s.Amount, &s.Currency, &limits, &s.OverLimit,
		&s.HasPaymentMethod, &s.CancelReason, &s.CancelledAt, &s.SupersededBy, &s.Version,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if err := json.Unmarshal(limits, &s.Limits); err != nil {
		return subscription.Subscription{}, fmt.Errorf("decode limits of subscription %s: %w", s.ID, err)
	}
	return s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]subscription.Subscription, error) {
	defer rows.Close()
	var out []subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// lockPlan holds a key share lock on the plan row until the transaction
// ends, so PlanStore.Delete waits for the write and then sees it. Only
// writes that leave the subscription counting as a subscriber take it.
func lockPlan(ctx context.Context, tx pgx.Tx, sub subscription.Subscription) error {
	if sub.SupersededBy != nil || sub.Status == subscription.StatusCancelled || sub.Status == subscription.StatusExpired {
		return nil
	}
	planID := sub.PlanID
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM plans WHERE id = $1 FOR KEY SHARE`, planID).Scan(&one)
	if pg.IsNotFoundError(err) {
		return fmt.Errorf("%w: plan %q was deleted", subscription.ErrPlanUnavailable, planID)
	}
	return err
}

func insertSubscription(ctx context.Context, tx pgx.Tx, s subscription.Subscription) error {
	if err := lockPlan(ctx, tx, s); err != nil {
		return err
	}
	limits, err := json.Marshal(s.Limits)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.OrganizationID, s.PlanID, s.PlanVersion, s.Status, s.BillingCycle,
		s.StartDate, s.EndDate, s.GraceDeadline, s.Amount, s.Currency, limits, s.OverLimit,
		s.HasPaymentMethod, s.CancelReason, s.CancelledAt, s.SupersededBy, s.Version,
		s.CreatedAt, s.UpdatedAt)
	return err
}

// SeedsCounters reports that CreateOrganization writes the zero usage
// counters in its own transaction.
func (s *SubscriptionStore) SeedsCounters() bool { return true }

// CreateOrganization inserts the organization, its first subscription and
// zero usage counters in one transaction.
func (s *SubscriptionStore) CreateOrganization(ctx context.Context, org subscription.Organization, sub subscription.Subscription) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	org.CurrentSubscriptionID = sub.ID
	org.Status = subscription.OrgStatusFor(sub.Status)

	err := pg.WithTx(ctx, s.db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO organizations (id, name, status, current_subscription_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			org.ID, org.Name, org.Status, org.CurrentSubscriptionID, org.CreatedAt, org.UpdatedAt); err != nil {
			return err
		}
		if err := insertSubscription(ctx, tx, sub); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_counters (organization_id, resource, value)
			SELECT $1, r, 0 FROM unnest($2::text[]) AS r
			ON CONFLICT (organization_id, resource) DO NOTHING`,
			org.ID, resourceNames(plan.Resources))
		return err
	})
	if pg.IsDuplicateKeyError(err) {
		return subscription.ErrOrganizationExists
	}
	return err
}

func (s *SubscriptionStore) GetOrganization(ctx context.Context, id uuid.UUID) (subscription.Organization, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	var org subscription.Organization
	err := s.db.pool.QueryRow(ctx, `
		SELECT id, name, status, current_subscription_id, created_at, updated_at
		FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.Status, &org.CurrentSubscriptionID, &org.CreatedAt, &org.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return subscription.Organization{}, subscription.ErrOrganizationNotFound
	}
	return org, err
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (subscription.Subscription, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	sub, err := scanSubscription(s.db.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return sub, err
}

func (s *SubscriptionStore) GetCurrent(ctx context.Context, orgID uuid.UUID) (subscription.Subscription, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	sub, err := scanSubscription(s.db.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1 AND superseded_by IS NULL`, orgID))
	if pg.IsNotFoundError(err) {
		return subscription.Subscription{}, subscription.ErrOrganizationNotFound
	}
	return sub, err
}

// Update writes sub only while the stored row is current and still at
// expectedVersion. The organization status follows in the same transaction.
func (s *SubscriptionStore) Update(ctx context.Context, sub subscription.Subscription, expectedVersion int) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	return pg.WithTx(ctx, s.db.pool, func(tx pgx.Tx) error {
		if err := updateSubscription(ctx, tx, sub, expectedVersion); err != nil {
			return err
		}
		return touchOrganization(ctx, tx, sub)
	})
}

func (s *SubscriptionStore) Supersede(ctx context.Context, old subscription.Subscription, expectedVersion int, successor subscription.Subscription) error {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	return pg.WithTx(ctx, s.db.pool, func(tx pgx.Tx) error {
		if err := updateSubscription(ctx, tx, old, expectedVersion); err != nil {
			return err
		}
		if err := insertSubscription(ctx, tx, successor); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE organizations SET current_subscription_id = $2, status = $3, updated_at = $4
			WHERE id = $1`,
			successor.OrganizationID, successor.ID, subscription.OrgStatusFor(successor.Status), successor.CreatedAt)
		return err
	})
}

func updateSubscription(ctx context.Context, tx pgx.Tx, sub subscription.Subscription, expectedVersion int) error {
	if err := lockPlan(ctx, tx, sub); err != nil {
		return err
	}
	limits, err := json.Marshal(sub.Limits)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $3, plan_version = $4, status = $5, billing_cycle = $6, start_date = $7,
			end_date = $8, grace_deadline = $9, amount = $10, currency = $11, limits = $12,
			over_limit = $13, has_payment_method = $14, cancel_reason = $15, cancelled_at = $16,
			superseded_by = $17, version = $18, updated_at = $19
		WHERE id = $1 AND version = $2 AND superseded_by IS NULL`,
		sub.ID, expectedVersion, sub.PlanID, sub.PlanVersion, sub.Status, sub.BillingCycle, sub.StartDate,
		sub.EndDate, sub.GraceDeadline, sub.Amount, sub.Currency, limits,
		sub.OverLimit, sub.HasPaymentMethod, sub.CancelReason, sub.CancelledAt,
		sub.SupersededBy, sub.Version, sub.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return classifyMiss(ctx, tx, sub.ID)
}

// classifyMiss explains why a conditional update touched no rows.
func classifyMiss(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var superseded bool
	err := tx.QueryRow(ctx, `SELECT superseded_by IS NOT NULL FROM subscriptions WHERE id = $1`, id).Scan(&superseded)
	switch {
	case pg.IsNotFoundError(err):
		return subscription.ErrNotFound
	case err != nil:
		return err
	case superseded:
		return subscription.ErrSuperseded
	default:
		return subscription.ErrConcurrentModification
	}
}

func touchOrganization(ctx context.Context, tx pgx.Tx, sub subscription.Subscription) error {
	_, err := tx.Exec(ctx, `UPDATE organizations SET status = $2, updated_at = $3 WHERE id = $1`,
		sub.OrganizationID, subscription.OrgStatusFor(sub.Status), sub.UpdatedAt)
	return err
}

func (s *SubscriptionStore) History(ctx context.Context, orgID uuid.UUID) ([]subscription.Subscription, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	rows, err := s.db.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1 ORDER BY created_at, version`, orgID)
	if err != nil {
		return nil, err
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, subscription.ErrOrganizationNotFound
	}
	return subs, nil
}

func (s *SubscriptionStore) ListActive(ctx context.Context, after uuid.UUID, limit int) ([]subscription.Subscription, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE superseded_by IS NULL AND status IN ($1, $2, $3) AND id > $4
		ORDER BY id LIMIT $5`,
		subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue, after, limit)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *SubscriptionStore) CountActiveSubscribers(ctx context.Context, planID string) (int, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	var n int
	err := s.db.pool.QueryRow(ctx, `
		SELECT count(*) FROM subscriptions
		WHERE plan_id = $1 AND superseded_by IS NULL AND status NOT IN ($2, $3)`,
		planID, subscription.StatusCancelled, subscription.StatusExpired).Scan(&n)
	return n, err
}

func (s *SubscriptionStore) RecordPayment(ctx context.Context, p subscription.Payment) (bool, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	tag, err := s.db.pool.Exec(ctx, `
		INSERT INTO payments (id, subscription_id, organization_id, amount, method, status, reference, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO NOTHING`,
		p.ID, p.SubscriptionID, p.OrganizationID, p.Amount, p.Method, p.Status, p.Reference, p.Date)
	if pg.IsForeignKeyViolationError(err) {
		return false, subscription.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SubscriptionStore) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.Payment, error) {
	ctx, cancel := s.db.bound(ctx)
	defer cancel()

	rows, err := s.db.pool.Query(ctx, `
		SELECT id, subscription_id, organization_id, amount, method, status, reference, paid_at
		FROM payments WHERE subscription_id = $1 ORDER BY paid_at, id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subscription.Payment
	for rows.Next() {
		var p subscription.Payment
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.OrganizationID, &p.Amount, &p.Method,
			&p.Status, &p.Reference, &p.Date); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
