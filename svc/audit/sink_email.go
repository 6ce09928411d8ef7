package audit

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/mrz1836/postmark"
)

// EmailConfig configures the Postmark notification sink.
type EmailConfig struct {
	ServerToken  string   `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string   `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string   `env:"AUDIT_EMAIL_SENDER" envDefault:"billing@localhost"`
	Recipients   []string `env:"AUDIT_EMAIL_RECIPIENTS" envSeparator:","`
	Actions      []string `env:"AUDIT_EMAIL_ACTIONS" envSeparator:","`
}

// Enabled reports whether enough is configured to send mail.
func (c EmailConfig) Enabled() bool {
	return c.ServerToken != "" && len(c.Recipients) > 0
}

// EmailClient is the subset of *postmark.Client used by EmailSink.
type EmailClient interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailSink mails operators about selected lifecycle actions.
type EmailSink struct {
	client  EmailClient
	from    string
	to      string
	actions []string
}

// NewEmailSink builds a sink on top of a Postmark client.
func NewEmailSink(cfg EmailConfig) (*EmailSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("audit: postmark server token and recipients are required")
	}
	return NewEmailSinkWithClient(postmark.NewClient(cfg.ServerToken, cfg.AccountToken), cfg), nil
}

// NewEmailSinkWithClient is NewEmailSink with an injected client.
func NewEmailSinkWithClient(client EmailClient, cfg EmailConfig) *EmailSink {
	return &EmailSink{
		client:  client,
		from:    cfg.SenderEmail,
		to:      strings.Join(cfg.Recipients, ","),
		actions: cfg.Actions,
	}
}

func (s *EmailSink) Name() string { return "email" }

// Deliver sends one message per matching successful event. Other events are skipped.
func (s *EmailSink) Deliver(ctx context.Context, e Event) error {
	if e.Result != ResultSuccess {
		return nil
	}
	if len(s.actions) > 0 && !slices.Contains(s.actions, e.Action) {
		return nil
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		To:       s.to,
		Subject:  fmt.Sprintf("[billing] %s for organization %s", e.Action, e.OrganizationID),
		Tag:      e.Action,
		HTMLBody: renderEmail(e),
		TextBody: fmt.Sprintf("%s by %s at %s\n\nbefore: %s\nafter: %s\n",
			e.Action, e.ActorID, e.CreatedAt.Format("2006-01-02 15:04:05 MST"), e.Before, e.After),
	})
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrDeliveryFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

func renderEmail(e Event) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(e.Action))
	b.WriteString("</h2><p>Organization: <code>")
	b.WriteString(e.OrganizationID.String())
	b.WriteString("</code><br>Actor: ")
	b.WriteString(html.EscapeString(e.ActorID))
	b.WriteString("<br>At: ")
	b.WriteString(e.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	b.WriteString("</p><pre>")
	b.WriteString(html.EscapeString(string(e.After)))
	b.WriteString("</pre>")
	return b.String()
}
