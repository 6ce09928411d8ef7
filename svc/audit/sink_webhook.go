package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Signature headers set on every webhook delivery.
const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookID        = "X-Webhook-ID"
)

type WebhookConfig struct {
	URL     string        `env:"AUDIT_WEBHOOK_URL"`
	Secret  string        `env:"AUDIT_WEBHOOK_SECRET"`
	Timeout time.Duration `env:"AUDIT_WEBHOOK_TIMEOUT" envDefault:"5s"`
}

func (c WebhookConfig) Enabled() bool { return c.URL != "" }

// WebhookSink POSTs every event as JSON to a single endpoint. The body is
// signed as HMAC-SHA256(secret, timestamp + "." + body) in hex.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	now    func() time.Time
}

func NewWebhookSink(cfg WebhookConfig, client *http.Client) (*WebhookSink, error) {
	if cfg.URL == "" || cfg.Secret == "" {
		return nil, errors.New("audit: webhook sink needs a url and a secret")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookSink{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	ts := s.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookSignature, SignWebhook(s.cfg.Secret, ts, body))
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderWebhookID, e.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Join(ErrDeliveryFailed, fmt.Errorf("webhook responded %d", resp.StatusCode))
	}
	return nil
}

// SignWebhook returns the hex signature receivers compare against
// X-Webhook-Signature.
func SignWebhook(secret string, timestamp int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
