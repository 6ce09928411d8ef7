package statemachine

import (
	"fmt"
)

// Option configures a graph during construction.
type Option[S, E Name] func(*Graph[S, E]) error

// TransitionOption configures a single transition.
type TransitionOption[S, E Name] func(*Transition[S, E])

// New builds an immutable graph from the given options.
func New[S, E Name](opts ...Option[S, E]) (*Graph[S, E], error) {
	g := &Graph[S, E]{transitions: make(map[S]map[E][]Transition[S, E])}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MustNew is like New but panics on error.
func MustNew[S, E Name](opts ...Option[S, E]) *Graph[S, E] {
	g, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return g
}

// WithTransition adds a single edge.
func WithTransition[S, E Name](from, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(g *Graph[S, E]) error {
		t := Transition[S, E]{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&t)
		}
		if err := g.add(t); err != nil {
			return fmt.Errorf("failed to add transition %s->%s on %s: %w", from, to, event, err)
		}
		return nil
	}
}

// WithTransitionFrom adds the same event edge from several source states.
func WithTransitionFrom[S, E Name](froms []S, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(g *Graph[S, E]) error {
		for _, from := range froms {
			if err := WithTransition(from, to, event, opts...)(g); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition. Nil guards are ignored.
func WithGuard[S, E Name](guard Guard[S, E]) TransitionOption[S, E] {
	return func(t *Transition[S, E]) {
		if guard != nil {
			t.Guards = append(t.Guards, guard)
		}
	}
}
