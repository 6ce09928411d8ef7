// Package billing runs the periodic sweep that moves subscriptions through
// time-driven transitions: period end, grace expiry and trial end.
//
// The Sweeper pages through current subscriptions and hands each one to
// worker partitions chosen by a hash of the organization id, so one tenant is
// always handled by the same worker. A partition is processed only by the
// process that holds its lease (RedisLeaser across processes, LocalLeaser in
// one). Listing failures are retried with pkg/backoff. A failed or conflicting
// subscription is logged and skipped, and the sweep goes on. Every transition
// is committed on its own, so killing a sweep midway loses nothing.
//
// Scheduler runs the sweep and other jobs on cron expressions through
// robfig/cron.
package billing
