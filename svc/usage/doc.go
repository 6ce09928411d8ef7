// Package usage is the per-organization resource ledger.
//
// The Ledger enforces plan limits with a check-and-increment that is atomic
// with respect to the limit: it reads the counter, checks the requested amount
// against the organization's current entitlement and commits with a
// compare-and-swap. Under contention the cycle is retried a bounded number of
// times before ErrBusy is returned; no lock is ever held across calls, and
// organizations never contend with each other.
//
// After a successful swap the entitlement is read again. If the plan changed
// in between and the new limit no longer admits the value, the increment is
// undone and retried against the new limit.
//
// Counters live behind the Store interface. MemoryStore serves tests,
// RedisStore runs the swap as a Lua script and internal/pgstore uses
// conditional UPDATE statements.
//
// Rejections are typed: a *QuotaError carries the limit and the current value
// and matches ErrQuotaExceeded with errors.Is. Inactive subscriptions fail with
// ErrSubscriptionInactive.
package usage
