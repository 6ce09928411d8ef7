// Package subscription owns the lifecycle of organizations and their
// subscriptions.
//
// A Subscription binds an Organization to a Plan for one billing period and
// moves through trial, active, past_due, suspended, cancelled and expired. The
// allowed moves form a closed graph built on pkg/statemachine; anything
// outside it fails with a *TransitionError and leaves state untouched.
//
// Every mutation is optimistic: callers pass the version they read, the Store
// writes only if it still matches and ErrConcurrentModification is returned
// otherwise. Plan changes do not rewrite the current record. They freeze it as
// history and issue a successor, so the old record then fails with
// ErrSuperseded.
//
// # Operations
//
//   - Signup creates the organization, its first subscription and zero usage
//     counters.
//   - Extend, Cancel, Reactivate, ChangePlan and ReapplyLimits are operator
//     actions guarded by the expected version.
//   - ApplyPayment records a gateway payment idempotently by reference and
//     drives trial/past_due to active or active to past_due.
//   - Fire applies a scheduled event and is what the billing sweep calls.
//
// Both successful and rejected attempts are recorded through the Auditor.
//
// # Open question
//
// trial and past_due are mutually exclusive. A failed payment during a trial
// does not start a grace period; the trial simply ends at its end date.
package subscription
