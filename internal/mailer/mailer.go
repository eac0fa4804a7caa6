package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"globlept.co.uk/app/internal/config"
)

type Service interface {
	Send(ctx context.Context, e Email) error
}

type Email struct {
	FromName string // optional display name
	From     string // required envelope sender

	To  []string
	Cc  []string
	Bcc []string

	Subject string

	TextBody string
	HTMLBody string

	Headers map[string]string // optional extra headers
}

func (e Email) AllRecipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}

// New picks the delivery driver named in cfg.
func New(cfg config.MailConfig, logger *slog.Logger) (Service, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTPMailer(cfg.SMTP), nil
	case "mailtrap":
		return NewMailtrap(cfg.MailtrapURL, cfg.MailtrapToken, http.DefaultClient), nil
	case "log":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("mailer: unknown driver %q", cfg.Driver)
	}
}

// LogMailer writes envelopes to the log instead of delivering them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer { return &LogMailer{logger: logger} }

func (m *LogMailer) Send(ctx context.Context, e Email) error {
	if _, err := buildMIMEMessage(e, "log.local"); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "email not delivered (log driver)",
		"to", e.To,
		"subject", e.Subject,
		"text_bytes", len(e.TextBody),
		"html_bytes", len(e.HTMLBody),
	)
	return nil
}
