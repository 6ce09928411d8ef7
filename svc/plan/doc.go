// Package plan is the catalog of priced tiers and the resource limits they
// grant.
//
// A Plan carries a monthly and a yearly price in minor currency units, a set
// of feature flags, an optional trial length and one limit per tracked
// Resource (students, batches, staff, users, storage_mb). Limits are
// [limit.Limit] values, so "unlimited" is a distinct state rather than a magic
// number.
//
// Plans are versioned. Every update bumps the version and the write is
// conditional on the version that was read, so two operators editing the same
// plan cannot silently overwrite each other: the loser gets
// ErrConcurrentModification. Changing a plan's limits never touches limits
// already snapshotted into issued subscriptions.
//
// # Architecture
//
//   - Catalog: lookups, ordered listing of active plans and operator
//     mutations (create, update, deactivate, delete).
//   - Store: persistence. MemoryStore is used by tests and single-process
//     setups; internal/pgstore provides the PostgreSQL implementation.
//   - Seed files: LoadSeedFile and ParseSeed read a YAML catalog that
//     Catalog.Seed upserts at startup.
//
// # Usage
//
//	catalog := plan.NewCatalog(store,
//		plan.WithSubscriberCounter(subscriptions),
//		plan.WithLogger(log),
//	)
//
//	plans, err := catalog.ListActivePlans(ctx)
//	if err != nil {
//		// handle error
//	}
//
// # Error Handling
//
// ErrNotFound, ErrAlreadyExists, ErrPlanInUse, ErrConcurrentModification and
// ErrInvalidPlan are sentinel values wrapped with the plan id; compare them
// with errors.Is. Deleting a plan that still has current subscribers fails
// with ErrPlanInUse; deactivation is always allowed.
package plan
