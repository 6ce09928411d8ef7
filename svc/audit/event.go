package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SystemActor is the actor id used for scheduler and webhook driven changes.
const SystemActor = "system"

// Result is the outcome of an audited attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event is a single immutable audit record.
type Event struct {
	ID             uuid.UUID         `json:"id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	ActorID        string            `json:"actor_id"`
	Action         string            `json:"action"`
	Before         json.RawMessage   `json:"before,omitempty"`
	After          json.RawMessage   `json:"after,omitempty"`
	Result         Result            `json:"result"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Entry is the input to Emitter.Record. Before and After are marshalled to JSON.
type Entry struct {
	OrganizationID uuid.UUID
	ActorID        string // defaults to the actor in context, then SystemActor
	Action         string
	Before         any
	After          any
	Err            error
	Metadata       map[string]string
}

// Filter narrows ListEvents. Zero fields match everything.
type Filter struct {
	OrganizationID uuid.UUID
	Action         string
	From           time.Time // inclusive
	To             time.Time // exclusive
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e Event) bool {
	if f.OrganizationID != uuid.Nil && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Page is one page of events, newest first.
type Page struct {
	Events []Event `json:"events"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
}
