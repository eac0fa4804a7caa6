package notify

import (
	"context"
	"fmt"
	"maps"

	"globlept.co.uk/app/internal/mailer"
)

// EmailNotifier renders catalogue templates and hands them to a mailer.
type EmailNotifier struct {
	catalogue *Catalogue
	mail      mailer.Service
	fromAddr  string
	fromName  string
}

func NewEmailNotifier(c *Catalogue, m mailer.Service, fromAddr, fromName string) *EmailNotifier {
	return &EmailNotifier{catalogue: c, mail: m, fromAddr: fromAddr, fromName: fromName}
}

func (n *EmailNotifier) Send(ctx context.Context, templateID string, to Recipient, data map[string]any) error {
	if to.Email == "" {
		return fmt.Errorf("notify: recipient %d has no email", to.UserID)
	}
	merged := make(map[string]any, len(data)+1)
	maps.Copy(merged, data)
	if _, ok := merged["name"]; !ok {
		merged["name"] = to.Name
	}

	r, err := n.catalogue.Render(templateID, merged)
	if err != nil {
		return err
	}
	return n.mail.Send(ctx, mailer.Email{
		From:     n.fromAddr,
		FromName: n.fromName,
		To:       []string{to.Email},
		Subject:  r.Subject,
		TextBody: r.Text,
		HTMLBody: r.HTML,
		Headers:  map[string]string{"X-Template": templateID},
	})
}
