package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

var (
	ErrInvalidPayload   = errors.New("invalid payment webhook payload")
	ErrInvalidSignature = errors.New("payment webhook signature verification failed")
	// ErrIgnoredEvent marks well-formed events that carry no payment outcome.
	// Gateways should still receive a success response for them.
	ErrIgnoredEvent = errors.New("payment webhook event ignored")
)

// DefaultMaxBodySize caps webhook bodies.
const DefaultMaxBodySize int64 = 1 << 20

// Parser extracts a payment event from a webhook request.
type Parser interface {
	Parse(r *http.Request) (subscription.PaymentEvent, error)
}

// JSONParser accepts the gateway-neutral payload
// {subscription_id, status, amount, reference, method}.
type JSONParser struct {
	MaxBodySize int64
}

type jsonPayload struct {
	SubscriptionID string    `json:"subscription_id"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	Reference      string    `json:"reference"`
	Method         string    `json:"method"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (p JSONParser) Parse(r *http.Request) (subscription.PaymentEvent, error) {
	body, err := readBody(r, p.MaxBodySize)
	if err != nil {
		return subscription.PaymentEvent{}, err
	}

	var in jsonPayload
	if err := json.Unmarshal(body, &in); err != nil {
		return subscription.PaymentEvent{}, errors.Join(ErrInvalidPayload, err)
	}
	id, err := uuid.Parse(in.SubscriptionID)
	if err != nil {
		return subscription.PaymentEvent{}, fmt.Errorf("%w: subscription_id: %w", ErrInvalidPayload, err)
	}
	status := subscription.PaymentStatus(in.Status)
	if !status.Valid() {
		return subscription.PaymentEvent{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, in.Status)
	}
	if in.Reference == "" {
		return subscription.PaymentEvent{}, fmt.Errorf("%w: reference is required", ErrInvalidPayload)
	}

	return subscription.PaymentEvent{
		SubscriptionID: id,
		Status:         status,
		Amount:         in.Amount,
		Reference:      in.Reference,
		Method:         in.Method,
		OccurredAt:     in.OccurredAt,
	}, nil
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidPayload, limit)
	}
	return body, nil
}
