package mailer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

var ErrHeaderInjection = errors.New("mailer: header value contains a line break")

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	// RFC 2047 encodes non-ASCII display names
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

func newMessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", randomHex(12), domain)
}

func validate(e Email) error {
	if len(e.To) == 0 {
		return errors.New("mailer: at least one recipient required")
	}
	if e.From == "" {
		return errors.New("mailer: from address required")
	}
	if e.Subject == "" {
		return errors.New("mailer: subject required")
	}
	if e.TextBody == "" && e.HTMLBody == "" {
		return errors.New("mailer: text or html body required")
	}
	values := append([]string{e.From, e.FromName, e.Subject}, e.AllRecipients()...)
	for k, v := range e.Headers {
		values = append(values, k, v)
	}
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return ErrHeaderInjection
		}
	}
	return nil
}

// buildMIMEMessage renders e as an RFC 5322 message. Bcc recipients are
// envelope-only and never appear in the headers.
func buildMIMEMessage(e Email, messageIDDomain string) (string, error) {
	if err := validate(e); err != nil {
		return "", err
	}

	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("Date", time.Now().Format(time.RFC1123Z))
	header("Message-ID", newMessageID(messageIDDomain))
	header("From", formatAddress(e.FromName, e.From))
	header("To", strings.Join(e.To, ", "))
	if len(e.Cc) > 0 {
		header("Cc", strings.Join(e.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	header("MIME-Version", "1.0")
	for k, v := range e.Headers {
		if k != "" && v != "" {
			header(k, v)
		}
	}

	switch {
	case e.TextBody != "" && e.HTMLBody != "":
		boundary := "alt-" + randomHex(12)
		header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writePart(&b, "text/plain", e.TextBody)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writePart(&b, "text/html", e.HTMLBody)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case e.HTMLBody != "":
		writePart(&b, "text/html", e.HTMLBody)
	default:
		writePart(&b, "text/plain", e.TextBody)
	}
	return b.String(), nil
}

func writePart(b *strings.Builder, contentType, body string) {
	fmt.Fprintf(b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
