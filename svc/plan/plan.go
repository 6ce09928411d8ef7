package plan

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/tenantquota/pkg/limit"
)

// Tier is the commercial level of a plan.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierFree:         0,
	TierBasic:        1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

// Rank orders tiers free < basic < professional < enterprise. Unknown tiers rank last.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return len(tierRank)
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// BillingCycle is the length of a paid period.
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == Monthly || c == Yearly
}

// Advance returns the end of a period that starts at t.
func (c BillingCycle) Advance(t time.Time) time.Time {
	if c == Yearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Resource is a countable tenant resource type.
type Resource string

const (
	Students  Resource = "students"
	Batches   Resource = "batches"
	Staff     Resource = "staff"
	Users     Resource = "users"
	StorageMB Resource = "storage_mb"
)

// Resources lists every resource type tracked by the ledger, in display order.
var Resources = []Resource{Students, Batches, Staff, Users, StorageMB}

func (r Resource) Valid() bool {
	return slices.Contains(Resources, r)
}

// Limits holds the per-resource quotas granted by a plan.
type Limits struct {
	MaxStudents  limit.Limit `json:"max_students" yaml:"max_students"`
	MaxBatches   limit.Limit `json:"max_batches" yaml:"max_batches"`
	MaxStaff     limit.Limit `json:"max_staff" yaml:"max_staff"`
	MaxUsers     limit.Limit `json:"max_users" yaml:"max_users"`
	MaxStorageMB limit.Limit `json:"max_storage_mb" yaml:"max_storage_mb"`
}

// For returns the limit of a resource type. Unknown types get Finite(0).
func (l Limits) For(r Resource) limit.Limit {
	switch r {
	case Students:
		return l.MaxStudents
	case Batches:
		return l.MaxBatches
	case Staff:
		return l.MaxStaff
	case Users:
		return l.MaxUsers
	case StorageMB:
		return l.MaxStorageMB
	default:
		return limit.Finite(0)
	}
}

// Exceeded returns resource types whose usage is above the limit.
func (l Limits) Exceeded(usage map[Resource]int64) []Resource {
	var over []Resource
	for _, r := range Resources {
		if l.For(r).Exceeded(usage[r]) {
			over = append(over, r)
		}
	}
	return over
}

// Plan is a priced tier. Prices are in minor currency units.
type Plan struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Tier         Tier      `json:"tier"`
	MonthlyPrice int64     `json:"monthly_price"`
	YearlyPrice  int64     `json:"yearly_price"`
	Currency     string    `json:"currency"`
	Limits       Limits    `json:"limits"`
	Features     []string  `json:"features"`
	TrialDays    int       `json:"trial_days"`
	IsActive     bool      `json:"is_active"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Price returns the amount charged per billing cycle.
func (p Plan) Price(c BillingCycle) int64 {
	if c == Yearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

func (p Plan) HasFeature(f string) bool {
	return slices.Contains(p.Features, f)
}

// Validate checks field constraints.
func (p Plan) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if !p.Tier.Valid() {
		errs = append(errs, fmt.Errorf("unknown tier %q", p.Tier))
	}
	if p.MonthlyPrice < 0 || p.YearlyPrice < 0 {
		errs = append(errs, errors.New("prices must be >= 0"))
	}
	if p.TrialDays < 0 {
		errs = append(errs, errors.New("trial_days must be >= 0"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlan}, errs...)...)
	}
	return nil
}

// Less orders plans by monthly price, ties broken by tier rank then id.
func Less(a, b Plan) int {
	switch {
	case a.MonthlyPrice != b.MonthlyPrice:
		if a.MonthlyPrice < b.MonthlyPrice {
			return -1
		}
		return 1
	case a.Tier.Rank() != b.Tier.Rank():
		return a.Tier.Rank() - b.Tier.Rank()
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
