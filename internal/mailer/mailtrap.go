package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Mailtrap delivers through the Mailtrap send API.
type Mailtrap struct {
	apiURL string
	token  string
	client *http.Client
}

type mailtrapPayload struct {
	From     mailtrapPerson   `json:"from"`
	To       []mailtrapPerson `json:"to"`
	Cc       []mailtrapPerson `json:"cc,omitempty"`
	Bcc      []mailtrapPerson `json:"bcc,omitempty"`
	Subject  string           `json:"subject"`
	Text     string           `json:"text,omitempty"`
	HTML     string           `json:"html,omitempty"`
	Category string           `json:"category,omitempty"`
}

type mailtrapPerson struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func NewMailtrap(apiURL, token string, client *http.Client) *Mailtrap {
	if client == nil {
		client = http.DefaultClient
	}
	return &Mailtrap{apiURL: apiURL, token: token, client: client}
}

func (m *Mailtrap) Send(ctx context.Context, e Email) error {
	if m.apiURL == "" || m.token == "" {
		return fmt.Errorf("mailtrap: credentials not configured")
	}
	if _, err := buildMIMEMessage(e, "mailtrap"); err != nil {
		return err
	}

	payload := mailtrapPayload{
		From:     mailtrapPerson{Email: e.From, Name: e.FromName},
		To:       people(e.To),
		Cc:       people(e.Cc),
		Bcc:      people(e.Bcc),
		Subject:  e.Subject,
		Text:     e.TextBody,
		HTML:     e.HTMLBody,
		Category: "Transactional",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailtrap: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 400 {
		return fmt.Errorf("mailtrap: api error %d", res.StatusCode)
	}
	return nil
}

func people(addrs []string) []mailtrapPerson {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]mailtrapPerson, len(addrs))
	for i, a := range addrs {
		out[i] = mailtrapPerson{Email: a}
	}
	return out
}
