package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

// PaddleConfig holds the webhook secret of a Paddle notification destination.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleParser verifies Paddle-Signature headers and maps transaction events.
// Checkouts must carry our subscription id in custom_data.subscription_id.
type PaddleParser struct {
	verifier    *paddle.WebhookVerifier
	maxBodySize int64
}

func NewPaddleParser(cfg PaddleConfig) (*PaddleParser, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}
	return &PaddleParser{
		verifier:    paddle.NewWebhookVerifier(cfg.WebhookSecret),
		maxBodySize: DefaultMaxBodySize,
	}, nil
}

type paddleEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID         string         `json:"id"`
		Status     string         `json:"status"`
		CustomData map[string]any `json:"custom_data"`
		Details    struct {
			Totals struct {
				GrandTotal string `json:"grand_total"`
			} `json:"totals"`
		} `json:"details"`
		Payments []struct {
			MethodDetails struct {
				Type string `json:"type"`
			} `json:"method_details"`
		} `json:"payments"`
	} `json:"data"`
}

func (p *PaddleParser) Parse(r *http.Request) (subscription.PaymentEvent, error) {
	body, err := readBody(r, p.maxBodySize)
	if err != nil {
		return subscription.PaymentEvent{}, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	valid, err := p.verifier.Verify(r)
	if err != nil {
		return subscription.PaymentEvent{}, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return subscription.PaymentEvent{}, ErrInvalidSignature
	}

	var ev paddleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return subscription.PaymentEvent{}, errors.Join(ErrInvalidPayload, err)
	}

	status, ok := mapPaddleEventType(ev.EventType)
	if !ok {
		return subscription.PaymentEvent{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, ev.EventType)
	}

	raw, _ := ev.Data.CustomData["subscription_id"].(string)
	subID, err := uuid.Parse(raw)
	if err != nil {
		return subscription.PaymentEvent{}, fmt.Errorf("%w: custom_data.subscription_id: %w", ErrInvalidPayload, err)
	}

	var amount int64
	if total := ev.Data.Details.Totals.GrandTotal; total != "" {
		if amount, err = strconv.ParseInt(total, 10, 64); err != nil {
			return subscription.PaymentEvent{}, fmt.Errorf("%w: grand_total: %w", ErrInvalidPayload, err)
		}
	}

	out := subscription.PaymentEvent{
		SubscriptionID: subID,
		Status:         status,
		Amount:         amount,
		Reference:      ev.EventID,
		OccurredAt:     ev.OccurredAt,
	}
	if len(ev.Data.Payments) > 0 {
		out.Method = ev.Data.Payments[0].MethodDetails.Type
	}
	if out.Reference == "" {
		out.Reference = ev.Data.ID + ":" + ev.EventType
	}
	return out, nil
}

func mapPaddleEventType(t string) (subscription.PaymentStatus, bool) {
	switch t {
	case "transaction.completed":
		return subscription.PaymentCompleted, true
	case "transaction.payment_failed", "transaction.past_due":
		return subscription.PaymentFailed, true
	default:
		return "", false
	}
}
