// Package dom wraps golang.org/x/net/html with the small document model the
// engine needs: mount point discovery, per-node attribute access, rendering
// into a container, and a host mutation API that emits structural change
// events. Node identity is pointer identity; two mount points with the same
// widget name are distinct nodes and distinct identities.
package dom

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// DefaultWidgetAttr marks an element as a mount point; its value is the
// registry key.
const DefaultWidgetAttr = "data-widget"

// DefaultPropsAttr carries the instance's JSON configuration.
const DefaultPropsAttr = "data-props"

// Document owns a parsed HTML tree and the attribute conventions used to
// recognize mount points in it. All structural host mutations go through the
// Document so that subscribers observe them.
type Document struct {
	mutex      sync.RWMutex
	root       *html.Node
	widgetAttr string
	propsAttr  string

	subMutex    sync.RWMutex
	subscribers []chan Mutation
}

// Option configures a Document.
type Option func(*Document)

// WithWidgetAttr overrides the attribute naming the widget to mount.
func WithWidgetAttr(attr string) Option {
	return func(d *Document) { d.widgetAttr = attr }
}

// WithPropsAttr overrides the attribute carrying instance configuration.
func WithPropsAttr(attr string) Option {
	return func(d *Document) { d.propsAttr = attr }
}

// Parse reads a full HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing host document: %w", err)
	}
	d := &Document{
		root:       root,
		widgetAttr: DefaultWidgetAttr,
		propsAttr:  DefaultPropsAttr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ParseString is Parse over an in-memory page.
func ParseString(page string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(page), opts...)
}

// Root returns the document root node.
func (d *Document) Root() *html.Node {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.root
}

// WidgetAttr returns the configured mount point attribute name.
func (d *Document) WidgetAttr() string { return d.widgetAttr }

// PropsAttr returns the configured props attribute name.
func (d *Document) PropsAttr() string { return d.propsAttr }

// Attr returns the value of the named attribute on n, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// WidgetName returns the widget name a node declares, or "".
func (d *Document) WidgetName(n *html.Node) string {
	return Attr(n, d.widgetAttr)
}

// PropsJSON returns the raw props attribute of a node, or "".
func (d *Document) PropsJSON(n *html.Node) string {
	return Attr(n, d.propsAttr)
}

// MountPoints returns, in document order, every element under root (root
// included) carrying the widget attribute. Elements with an empty attribute
// value are included; the runtime diagnoses and skips those.
func (d *Document) MountPoints(root *html.Node) []*html.Node {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var points []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, d.widgetAttr) {
			points = append(points, n)
		}
	})
	return points
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func walk(n *html.Node, visit func(*html.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// Contains reports whether n is root or one of root's descendants.
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// NodePath returns the child-index path of a node from the document root,
// e.g. "1.0.3". For a detached node the path is relative to the root of its
// detached subtree and carries a "~" prefix.
func NodePath(n *html.Node) string {
	var idx []string
	top := n
	for ; top.Parent != nil; top = top.Parent {
		i := 0
		for s := top.PrevSibling; s != nil; s = s.PrevSibling {
			i++
		}
		idx = append(idx, strconv.Itoa(i))
	}
	for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
		idx[i], idx[j] = idx[j], idx[i]
	}
	path := strings.Join(idx, ".")
	if top.Type != html.DocumentNode {
		return "~" + path
	}
	return path
}

// MountPointID returns the diagnostic identity of a mount point: the widget
// name plus the node's tree path.
func (d *Document) MountPointID(n *html.Node) string {
	name := d.WidgetName(n)
	if name == "" {
		name = n.Data
	}
	return name + "@" + NodePath(n)
}

// SetChildren replaces n's children with the given HTML fragment. This is
// the engine's rendering primitive; it does not emit mutations, because the
// change is runtime-initiated rather than host-initiated.
func (d *Document) SetChildren(n *html.Node, fragment string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return setChildren(n, fragment)
}

func setChildren(n *html.Node, fragment string) error {
	context := &html.Node{
		Type:     html.ElementNode,
		Data:     n.Data,
		DataAtom: n.DataAtom,
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return fmt.Errorf("parsing rendered fragment: %w", err)
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, child := range nodes {
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
	}
	return nil
}

// ClearChildren removes all children of n without emitting mutations.
func (d *Document) ClearChildren(n *html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// Render serializes the document.
func (d *Document) Render(w io.Writer) error {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return html.Render(w, d.root)
}

// HTML returns the serialized document as a string.
func (d *Document) HTML() (string, error) {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
