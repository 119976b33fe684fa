package diagnostics

import (
	"fmt"
	"html"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// FallbackHTML renders the failure fragment shown inside a failed widget's
// mount point. The fragment is scoped to the one container; the rest of the
// page is untouched.
func FallbackHTML(widget string, err error) string {
	detail := ""
	if err != nil {
		detail = fmt.Sprintf(`<p class="anchor-fallback-detail">%s</p>`, html.EscapeString(err.Error()))
	}
	return fmt.Sprintf(`<div class="anchor-fallback" role="alert" data-anchor-failed=%q>`+
		`<p class="anchor-fallback-title">%s failed to render</p>%s`+
		`<button type="button" class="anchor-fallback-retry" data-anchor-retry=%q>Try again</button>`+
		`</div>`,
		widget, html.EscapeString(titleCaser.String(widget)), detail, widget)
}

// PlaceholderHTML renders the suspended-loading fragment shown while a
// widget's factory resolves.
func PlaceholderHTML(widget string) string {
	return fmt.Sprintf(`<div class="anchor-loading" data-anchor-loading=%q>Loading %s…</div>`,
		widget, html.EscapeString(titleCaser.String(widget)))
}
