// Package audit keeps the append-only trail of lifecycle mutations and fans
// recorded events out to notification sinks on a best-effort basis.
//
// The Emitter appends each Entry to Storage synchronously; that write is the
// record of truth. Delivery to sinks happens afterwards on a bounded queue.
// A sink failure is logged and counted, and it never rolls back the mutation
// that produced the event.
//
// # Sinks
//
//   - EmailSink sends lifecycle notifications through Postmark.
//   - RedisSink publishes events on a pub/sub channel.
//   - WebhookSink POSTs signed JSON (see SignWebhook).
//
// S3Archiver exports a time window of events as JSON lines to S3 for
// reporting tools.
//
// The acting principal travels in the context: WithActor stores it and
// ActorFromContext returns it, defaulting to SystemActor.
package audit
