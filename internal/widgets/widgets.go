// Package widgets ships the built-in widgets the demo pages use. Each widget
// is a plain templ component driven entirely by its mount point's props; the
// broken widget exists to demonstrate fault isolation.
package widgets

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/types"
)

// RegisterBuiltins registers every built-in widget.
func RegisterBuiltins(reg *registry.Registry) {
	reg.Register("hello", registry.Static(Hello))
	reg.Register("alert", registry.Static(Alert))
	reg.Register("ticker", registry.Static(Ticker))
	reg.Register("broken", registry.Static(Broken))
}

func stringProp(props types.Props, key, fallback string) string {
	if v, ok := props[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Hello greets whoever the props name.
func Hello(props types.Props) templ.Component {
	name := stringProp(props, "name", "world")
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<p class="anchor-hello">Hello, %s!</p>`, html.EscapeString(name))
		return err
	})
}

// Alert renders a message box. Level is one of info, warn, error.
func Alert(props types.Props) templ.Component {
	level := stringProp(props, "level", "info")
	message := stringProp(props, "message", "")
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		switch level {
		case "info", "warn", "error":
		default:
			return fmt.Errorf("alert: unknown level %q", level)
		}
		_, err := fmt.Fprintf(w, `<div class="anchor-alert anchor-alert-%s" role="alert">%s</div>`,
			level, html.EscapeString(message))
		return err
	})
}

// Ticker renders an item list from the "items" prop.
func Ticker(props types.Props) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		raw, _ := props["items"].([]interface{})
		var sb strings.Builder
		sb.WriteString(`<ul class="anchor-ticker">`)
		for _, item := range raw {
			sb.WriteString(`<li>`)
			sb.WriteString(html.EscapeString(fmt.Sprint(item)))
			sb.WriteString(`</li>`)
		}
		sb.WriteString(`</ul>`)
		_, err := io.WriteString(w, sb.String())
		return err
	})
}

// ErrBroken is what the broken widget always fails with.
var ErrBroken = errors.New("broken widget always fails")

// Broken fails every render. It exists so demo pages can show that one
// failing widget leaves its siblings running.
func Broken(props types.Props) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return ErrBroken
	})
}
