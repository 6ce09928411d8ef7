package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/tenantquota/pkg/logger"
)

// Sink receives recorded events. Delivery is fire-and-forget: a failing sink
// never rolls back the mutation that produced the event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Emitter appends events to Storage and delivers them to sinks asynchronously.
type Emitter struct {
	storage Storage
	sinks   []Sink
	log     *slog.Logger
	now     func() time.Time

	bufferSize      int
	deliveryTimeout time.Duration
	registerer      prometheus.Registerer
	failures        *prometheus.CounterVec
	dropped         prometheus.Counter

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithSinks(sinks ...Sink) Option {
	return func(e *Emitter) {
		for _, s := range sinks {
			if s != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithBufferSize sets how many events may wait for delivery before new ones are dropped.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

func WithDeliveryTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.deliveryTimeout = d
		}
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Emitter) { e.registerer = r }
}

// NewEmitter starts the delivery worker. Call Close to drain it.
func NewEmitter(storage Storage, opts ...Option) *Emitter {
	if storage == nil {
		panic("audit: storage is required")
	}
	e := &Emitter{
		storage:         storage,
		log:             logger.Discard(),
		now:             func() time.Time { return time.Now().UTC() },
		bufferSize:      1024,
		deliveryTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("audit"))

	e.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_delivery_failures_total",
		Help: "Audit events a sink failed to deliver.",
	}, []string{"sink"})
	e.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_delivery_dropped_total",
		Help: "Audit events not queued for delivery because the buffer was full.",
	})
	if e.registerer != nil {
		e.registerer.MustRegister(e.failures, e.dropped)
	}

	e.queue = make(chan Event, e.bufferSize)
	e.wg.Add(1)
	go e.deliver()
	return e
}

// Record appends an event and queues it for sink delivery.
// The returned error only reflects the append; delivery problems are logged.
func (e *Emitter) Record(ctx context.Context, entry Entry) (Event, error) {
	if entry.Action == "" {
		return Event{}, ErrInvalidEvent
	}

	ev := Event{
		ID:             uuid.New(),
		OrganizationID: entry.OrganizationID,
		ActorID:        entry.ActorID,
		Action:         entry.Action,
		Result:         ResultSuccess,
		Metadata:       entry.Metadata,
		CreatedAt:      e.now(),
	}
	if ev.ActorID == "" {
		ev.ActorID = ActorFromContext(ctx)
	}
	if entry.Err != nil {
		ev.Result = ResultFailure
		ev.Error = entry.Err.Error()
	}

	var err error
	if ev.Before, err = marshalState(entry.Before); err != nil {
		return Event{}, fmt.Errorf("audit: marshal before state: %w", err)
	}
	if ev.After, err = marshalState(entry.After); err != nil {
		return Event{}, fmt.Errorf("audit: marshal after state: %w", err)
	}

	if err := e.storage.Append(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("audit: append event: %w", err)
	}

	e.enqueue(ctx, ev)
	return ev, nil
}

// ListEvents returns a newest-first page. page starts at 1; limit is capped at 100.
func (e *Emitter) ListEvents(ctx context.Context, f Filter, page, limit int) (Page, error) {
	page = max(page, 1)
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, 100)

	events, total, err := e.storage.Query(ctx, Query{Filter: f, Offset: (page - 1) * limit, Limit: limit})
	if err != nil {
		return Page{}, fmt.Errorf("audit: list events: %w", err)
	}
	return Page{Events: events, Page: page, Limit: limit, Total: total}, nil
}

// Close stops accepting deliveries and waits for queued ones until ctx is done.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) enqueue(ctx context.Context, ev Event) {
	if len(e.sinks) == 0 {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.log.WarnContext(ctx, "event not delivered, emitter closed", logger.Action(ev.Action))
		return
	}

	select {
	case e.queue <- ev:
	default:
		e.dropped.Inc()
		e.log.WarnContext(ctx, "delivery buffer full, event dropped",
			logger.Action(ev.Action), slog.String("event_id", ev.ID.String()))
	}
}

func (e *Emitter) deliver() {
	defer e.wg.Done()
	for ev := range e.queue {
		for _, sink := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), e.deliveryTimeout)
			err := sink.Deliver(ctx, ev)
			cancel()
			if err != nil {
				e.failures.WithLabelValues(sink.Name()).Inc()
				e.log.Error("sink delivery failed",
					slog.String("sink", sink.Name()),
					slog.String("event_id", ev.ID.String()),
					logger.Action(ev.Action),
					logger.Error(err))
			}
		}
	}
}

func marshalState(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
