// Package pgstore implements the plan, subscription, usage and audit stores
// on PostgreSQL.
//
// Conditional writes rely on version columns and row-level predicates. The
// only explicit locks are short key-share locks on a plan row: subscription
// writes take one, and plan deletion waits for it before checking for
// subscribers. Migrations are embedded and applied through goose.
package pgstore
