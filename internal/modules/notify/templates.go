package notify

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"globlept.co.uk/app/internal/shared/money"
)

//go:embed templates.yaml
var defaultTemplates []byte

type templateSource struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Rendered is one message ready for the mailer.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Catalogue holds the parsed message templates. Bodies are Markdown.
type Catalogue struct {
	templates map[string]compiled
	markdown  goldmark.Markdown
	layout    *htmltemplate.Template
}

var funcs = template.FuncMap{
	"money": func(amount any, currency any) string {
		code, _ := currency.(string)
		if code == "" {
			code = money.DefaultCurrency
		}
		switch v := amount.(type) {
		case decimal.Decimal:
			return money.Format(v, code)
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return v
			}
			return money.Format(d, code)
		default:
			return fmt.Sprint(v)
		}
	},
	"date": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format("Monday 2 January 2006")
		case *time.Time:
			if t == nil {
				return ""
			}
			return t.Format("Monday 2 January 2006")
		default:
			return fmt.Sprint(v)
		}
	},
}

const layoutHTML = `<!doctype html>
<html><body style="font-family: sans-serif; color: #1f2937;">
<div class="content">{{.}}</div>
<p style="color: #6b7280; font-size: 12px;">Globle Pharmacy, registered with the GPhC.</p>
</body></html>`

// LoadCatalogue parses the built-in templates.
func LoadCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultTemplates)
}

func ParseCatalogue(src []byte) (*Catalogue, error) {
	var raw map[string]templateSource
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("notify: parse templates: %w", err)
	}

	c := &Catalogue{
		templates: make(map[string]compiled, len(raw)),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Table)),
		layout:    htmltemplate.Must(htmltemplate.New("layout").Parse(layoutHTML)),
	}
	for id, t := range raw {
		if t.Subject == "" || t.Body == "" {
			return nil, fmt.Errorf("notify: template %q needs subject and body", id)
		}
		subj, err := template.New(id + ".subject").Funcs(funcs).Option("missingkey=error").Parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("notify: template %q subject: %w", id, err)
		}
		body, err := template.New(id + ".body").Funcs(funcs).Option("missingkey=error").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("notify: template %q body: %w", id, err)
		}
		c.templates[id] = compiled{subject: subj, body: body}
	}
	return c, nil
}

func (c *Catalogue) Has(id string) bool {
	_, ok := c.templates[id]
	return ok
}

// Render executes the template and converts the Markdown body to HTML.
// Raw HTML in the Markdown is dropped by goldmark.
func (c *Catalogue) Render(id string, data map[string]any) (Rendered, error) {
	t, ok := c.templates[id]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}

	var subj, body bytes.Buffer
	if err := t.subject.Execute(&subj, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s subject: %w", id, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s body: %w", id, err)
	}

	var md bytes.Buffer
	if err := c.markdown.Convert(body.Bytes(), &md); err != nil {
		return Rendered{}, fmt.Errorf("notify: markdown %s: %w", id, err)
	}
	var page bytes.Buffer
	if err := c.layout.Execute(&page, htmltemplate.HTML(md.String())); err != nil { //nolint:gosec // goldmark output, raw HTML disabled
		return Rendered{}, err
	}

	return Rendered{
		Subject: strings.TrimSpace(subj.String()),
		Text:    strings.TrimSpace(body.String()),
		HTML:    page.String(),
	}, nil
}
