package observer

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/runtime"
	"github.com/anchor-ui/anchor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func textWidget() types.Renderable {
	return func(props types.Props) templ.Component {
		return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			_, err := io.WriteString(w, "<p>widget</p>")
			return err
		})
	}
}

func newWatchedRuntime(t *testing.T, page string) (*runtime.Runtime, *dom.Document, *Handle) {
	t.Helper()
	doc, err := dom.ParseString(page)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	reg.Register("hero", registry.Static(textWidget()))

	rt := runtime.New(doc, reg, nil, nil)
	obs := New(rt, nil, nil)
	handle := obs.Watch(context.Background(), doc)
	t.Cleanup(handle.Stop)

	rt.Scan(context.Background(), nil)
	rt.Wait()
	return rt, doc, handle
}

func TestObserver_RemovalTriggersUnmount(t *testing.T) {
	rt, doc, _ := newWatchedRuntime(t, `<div data-widget="hero"></div>`)
	node := doc.MountPoints(doc.Root())[0]

	released := 0
	require.True(t, rt.OnCleanup(node, func() { released++ }))
	require.Equal(t, 1, rt.Len())

	doc.RemoveNode(node)

	require.Eventually(t, func() bool { return rt.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, released, "release logic ran exactly once")
	assert.False(t, rt.Mounted(node))
}

func TestObserver_RemovalOfAncestorSubtree(t *testing.T) {
	rt, doc, _ := newWatchedRuntime(t, `
		<body>
			<section id="wrap">
				<div data-widget="hero"></div>
				<div data-widget="hero"></div>
			</section>
			<div data-widget="hero"></div>
		</body>`)
	require.Equal(t, 3, rt.Len())

	// Remove the section; both nested mount points go with it.
	section := doc.MountPoints(doc.Root())[0].Parent
	doc.RemoveNode(section)

	require.Eventually(t, func() bool { return rt.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestObserver_AdditionTriggersScan(t *testing.T) {
	rt, doc, _ := newWatchedRuntime(t, `<body><main id="m"></main></body>`)
	require.Equal(t, 0, rt.Len())

	var main *html.Node
	for _, n := range allElements(doc.Root()) {
		if dom.Attr(n, "id") == "m" {
			main = n
		}
	}
	require.NotNil(t, main)

	require.NoError(t, doc.AppendFragment(main, `<div data-widget="hero"></div>`))

	require.Eventually(t, func() bool {
		rt.Wait()
		return rt.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func allElements(root *html.Node) []*html.Node {
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return out
}

func TestObserver_WithoutAddedScan(t *testing.T) {
	doc, err := dom.ParseString(`<body><main></main></body>`)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	reg.Register("hero", registry.Static(textWidget()))
	rt := runtime.New(doc, reg, nil, nil)

	obs := New(rt, nil, nil, WithoutAddedScan())
	handle := obs.Watch(context.Background(), doc)
	defer handle.Stop()

	body := allElements(doc.Root())[2] // html > head,body; body's child main
	require.NoError(t, doc.AppendFragment(body, `<div data-widget="hero"></div>`))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rt.Len())
}

// crashingRuntime panics on a chosen container to simulate a record the
// observer cannot classify cleanly.
type crashingRuntime struct {
	mutex    sync.Mutex
	entries  []*runtime.RootEntry
	crashOn  *html.Node
	unmounts []*html.Node
}

func (c *crashingRuntime) Entries() []*runtime.RootEntry {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries
}

func (c *crashingRuntime) Unmount(node *html.Node) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if node == c.crashOn {
		panic("detached node")
	}
	c.unmounts = append(c.unmounts, node)
}

func (c *crashingRuntime) Scan(ctx context.Context, root *html.Node) {}

func TestObserver_BadRecordDoesNotStopObservation(t *testing.T) {
	doc, err := dom.ParseString(`
		<body>
			<div id="x" data-widget="hero"></div>
			<div id="y" data-widget="hero"></div>
		</body>`)
	require.NoError(t, err)

	points := doc.MountPoints(doc.Root())
	stub := &crashingRuntime{
		entries: []*runtime.RootEntry{
			{Container: points[0], Widget: "hero"},
			{Container: points[1], Widget: "hero"},
		},
		crashOn: points[0],
	}

	collector := diagnostics.NewCollector()
	obs := New(stub, collector, nil)
	handle := obs.Watch(context.Background(), doc)
	defer handle.Stop()

	// First record panics inside the stubbed runtime; the observer contains
	// it and keeps consuming records.
	doc.RemoveNode(points[0])
	doc.RemoveNode(points[1])

	require.Eventually(t, func() bool {
		stub.mutex.Lock()
		defer stub.mutex.Unlock()
		return len(stub.unmounts) == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, collector.HasErrors())
	recs := collector.Records()
	require.NotEmpty(t, recs)
	assert.Contains(t, recs[0].Message, "mutation record")
}

func TestHandle_StopIsIdempotent(t *testing.T) {
	_, _, handle := newWatchedRuntime(t, `<div data-widget="hero"></div>`)

	handle.Stop()
	handle.Stop()
}
