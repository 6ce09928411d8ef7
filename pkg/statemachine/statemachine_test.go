package statemachine_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/statemachine"
)

type state string
type event string

const (
	draft     state = "draft"
	published state = "published"
	archived  state = "archived"

	publish event = "publish"
	archive event = "archive"
)

func TestGraph_Resolve(t *testing.T) {
	t.Parallel()

	g := statemachine.MustNew(
		statemachine.WithTransition[state, event](draft, published, publish),
		statemachine.WithTransitionFrom[state, event]([]state{draft, published}, archived, archive),
	)

	tr, err := g.Resolve(context.Background(), draft, publish, nil)
	require.NoError(t, err)
	assert.Equal(t, published, tr.To)

	tr, err = g.Resolve(context.Background(), published, archive, nil)
	require.NoError(t, err)
	assert.Equal(t, archived, tr.To)

	_, err = g.Resolve(context.Background(), archived, publish, nil)
	require.Error(t, err)
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))

	_, err = g.Resolve(context.Background(), draft, "", nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)

	assert.True(t, g.Reachable(draft, archived))
	assert.False(t, g.Reachable(archived, draft))
	assert.True(t, slices.Contains(g.Events(draft), archive))
}

func TestGraph_Guards(t *testing.T) {
	t.Parallel()

	onlyIfTrue := func(_ context.Context, _ state, _ event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}

	g, err := statemachine.New(
		statemachine.WithTransition(draft, published, publish, statemachine.WithGuard(onlyIfTrue)),
		statemachine.WithTransition[state, event](draft, archived, publish),
	)
	require.NoError(t, err)

	tr, err := g.Resolve(context.Background(), draft, publish, true)
	require.NoError(t, err)
	assert.Equal(t, published, tr.To, "first passing transition wins")

	tr, err = g.Resolve(context.Background(), draft, publish, false)
	require.NoError(t, err)
	assert.Equal(t, archived, tr.To, "falls through to the next candidate")

	guarded := statemachine.MustNew(
		statemachine.WithTransition(draft, published, publish, statemachine.WithGuard(onlyIfTrue)),
	)
	_, err = guarded.Resolve(context.Background(), draft, publish, false)
	assert.True(t, statemachine.IsTransitionRejectedError(err))
	assert.False(t, guarded.CanFire(context.Background(), draft, publish, false))
	assert.True(t, guarded.CanFire(context.Background(), draft, publish, true))
}

func TestNew_InvalidTransition(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(statemachine.WithTransition[state, event]("", published, publish))
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() {
		statemachine.MustNew(statemachine.WithTransition[state, event](draft, published, ""))
	})
}
