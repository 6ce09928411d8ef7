package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mrz1836/postmark"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/svc/audit"
)

type emailClientMock struct {
	mock.Mock
}

func (m *emailClientMock) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(postmark.EmailResponse), args.Error(1)
}

func TestEmailSink_Deliver(t *testing.T) {
	t.Parallel()

	client := &emailClientMock{}
	sink := audit.NewEmailSinkWithClient(client, audit.EmailConfig{
		SenderEmail: "billing@example.com",
		Recipients:  []string{"ops@example.com", "owner@example.com"},
		Actions:     []string{"subscription.suspend"},
	})

	client.On("SendEmail", mock.Anything, mock.MatchedBy(func(e postmark.Email) bool {
		return e.To == "ops@example.com,owner@example.com" &&
			e.From == "billing@example.com" &&
			e.Tag == "subscription.suspend"
	})).Return(postmark.EmailResponse{}, nil).Once()

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, audit.Event{ID: uuid.New(), Action: "subscription.suspend", Result: audit.ResultSuccess}))
	require.NoError(t, sink.Deliver(ctx, audit.Event{ID: uuid.New(), Action: "subscription.extend", Result: audit.ResultSuccess}), "unselected actions are skipped")
	require.NoError(t, sink.Deliver(ctx, audit.Event{ID: uuid.New(), Action: "subscription.suspend", Result: audit.ResultFailure}), "failed attempts are skipped")

	client.AssertExpectations(t)
}

func TestEmailSink_Errors(t *testing.T) {
	t.Parallel()

	client := &emailClientMock{}
	sink := audit.NewEmailSinkWithClient(client, audit.EmailConfig{Recipients: []string{"ops@example.com"}})
	ev := audit.Event{ID: uuid.New(), Action: "subscription.expire", Result: audit.ResultSuccess}

	client.On("SendEmail", mock.Anything, mock.Anything).Return(postmark.EmailResponse{}, errors.New("timeout")).Once()
	assert.ErrorIs(t, sink.Deliver(context.Background(), ev), audit.ErrDeliveryFailed)

	client.On("SendEmail", mock.Anything, mock.Anything).Return(postmark.EmailResponse{ErrorCode: 300, Message: "invalid email"}, nil).Once()
	assert.ErrorIs(t, sink.Deliver(context.Background(), ev), audit.ErrDeliveryFailed)

	_, err := audit.NewEmailSink(audit.EmailConfig{})
	assert.Error(t, err)
}

func TestRedisSink_Deliver(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "billing-events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := audit.NewRedisSink(client, "billing-events")
	ev := audit.Event{ID: uuid.New(), OrganizationID: uuid.New(), Action: "subscription.change_plan", Result: audit.ResultSuccess}
	require.NoError(t, sink.Deliver(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got audit.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, ev.Action, got.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
