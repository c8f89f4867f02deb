// Package sanitize cleans free text read from external systems before it is
// stored or returned by the API.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	htmlTag    = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)

	entities = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
)

// StripHTML removes HTML tags, decodes the common entities and strips again
// so encoded tags do not survive.
func StripHTML(s string) string {
	out := htmlTag.ReplaceAllString(s, "")
	out = entities.Replace(out)
	return htmlTag.ReplaceAllString(out, "")
}

// Text strips HTML and collapses runs of whitespace. CRM display names
// (accounts, contacts, users, opportunities) go through it.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(StripHTML(s), " "))
}
