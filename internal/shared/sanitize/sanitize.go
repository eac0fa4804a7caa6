// Package sanitize strips markup from free text typed by customers and
// staff before it is stored.
package sanitize

import (
	"html"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text removes every HTML element, keeps the text content, and trims.
// The result is plain text, not HTML: entities are decoded again.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// Line is Text collapsed onto a single line.
func Line(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Filename reduces an uploaded file name to a safe lowercase slug that keeps
// its extension, e.g. "My Scan (1).PDF" -> "my-scan-1.pdf".
func Filename(name string) string {
	name = strings.ToLower(strings.TrimSpace(path.Base(strings.ReplaceAll(name, `\`, "/"))))
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	base = strings.Trim(nonAlnum.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = "document"
	}
	ext = nonAlnum.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
