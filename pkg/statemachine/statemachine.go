// Package statemachine provides an immutable transition graph for entities
// whose current state lives in storage rather than in memory.
//
// A Graph answers "given this state and this event, where do we go?" and
// evaluates guards against caller supplied data. It never holds a current
// state itself, so one Graph can be shared by every request and worker.
package statemachine

import (
	"context"
)

// Name is the constraint satisfied by state and event types.
type Name interface {
	~string
}

// Guard evaluates whether a transition may proceed for the given data.
type Guard[S, E Name] func(ctx context.Context, from S, event E, data any) bool

// Transition defines a state change triggered by an event.
type Transition[S, E Name] struct {
	From   S
	To     S
	Event  E
	Guards []Guard[S, E] // all must pass
}

// Graph is a read-only transition table: [from][event][]Transition.
// Multiple transitions for the same pair are evaluated in registration
// order and the first one whose guards pass wins.
type Graph[S, E Name] struct {
	transitions map[S]map[E][]Transition[S, E]
}

func (g *Graph[S, E]) add(t Transition[S, E]) error {
	if t.From == "" || t.To == "" || t.Event == "" {
		return ErrInvalidTransition
	}
	if _, ok := g.transitions[t.From]; !ok {
		g.transitions[t.From] = make(map[E][]Transition[S, E])
	}
	g.transitions[t.From][t.Event] = append(g.transitions[t.From][t.Event], t)
	return nil
}

// Resolve returns the transition that applies to (from, event).
// It fails with *ErrNoTransitionAvailable when the pair is not in the graph
// and with *ErrTransitionRejected when every candidate was blocked by a guard.
func (g *Graph[S, E]) Resolve(ctx context.Context, from S, event E, data any) (Transition[S, E], error) {
	if event == "" {
		return Transition[S, E]{}, ErrInvalidEvent
	}

	candidates := g.transitions[from][event]
	if len(candidates) == 0 {
		return Transition[S, E]{}, NewErrNoTransitionAvailable(string(from), string(event))
	}

	for _, t := range candidates {
		if guardsPass(ctx, t, data) {
			return t, nil
		}
	}

	return Transition[S, E]{}, NewErrTransitionRejected(string(from), string(event))
}

// CanFire reports whether Resolve would succeed.
func (g *Graph[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := g.Resolve(ctx, from, event, data)
	return err == nil
}

// Events lists events that have at least one registered edge out of from.
func (g *Graph[S, E]) Events(from S) []E {
	out := make([]E, 0, len(g.transitions[from]))
	for e := range g.transitions[from] {
		out = append(out, e)
	}
	return out
}

// Reachable reports whether any event leads from one state directly to another.
func (g *Graph[S, E]) Reachable(from, to S) bool {
	for _, ts := range g.transitions[from] {
		for _, t := range ts {
			if t.To == to {
				return true
			}
		}
	}
	return false
}

func guardsPass[S, E Name](ctx context.Context, t Transition[S, E], data any) bool {
	for _, guard := range t.Guards {
		if guard != nil && !guard(ctx, t.From, t.Event, data) {
			return false
		}
	}
	return true
}
