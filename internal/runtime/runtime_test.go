package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	enginerr "github.com/anchor-ui/anchor/internal/errors"
	"github.com/anchor-ui/anchor/internal/isolation"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func textWidget(prefix string) types.Renderable {
	return func(props types.Props) templ.Component {
		return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			title, _ := props["title"].(string)
			_, err := fmt.Fprintf(w, "<p>%s:%s</p>", prefix, title)
			return err
		})
	}
}

func failingWidget() types.Renderable {
	return func(props types.Props) templ.Component {
		return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			return errors.New("render exploded")
		})
	}
}

func newTestRuntime(t *testing.T, page string) (*Runtime, *dom.Document, *registry.Registry, *diagnostics.Collector) {
	t.Helper()
	doc, err := dom.ParseString(page)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	collector := diagnostics.NewCollector()
	rt := New(doc, reg, collector, nil)
	return rt, doc, reg, collector
}

func mountPoint(t *testing.T, doc *dom.Document, index int) *html.Node {
	t.Helper()
	points := doc.MountPoints(doc.Root())
	require.Greater(t, len(points), index)
	return points[index]
}

func TestScan_DiscoveryCompleteness(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `
		<body>
			<div data-widget="hero" data-props='{"title":"One"}'></div>
			<div data-widget="ticker"></div>
			<div data-widget="hero" data-props='{"title":"Two"}'></div>
		</body>`)
	reg.Register("hero", registry.Static(textWidget("hero")))
	reg.Register("ticker", registry.Static(textWidget("ticker")))

	rt.Scan(context.Background(), nil)
	rt.Wait()

	assert.Equal(t, 3, rt.Len())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "<p>hero:One</p>")
	assert.Contains(t, out, "<p>hero:Two</p>")
	assert.Contains(t, out, "<p>ticker:</p>")
}

func TestScan_Idempotent(t *testing.T) {
	rt, _, reg, collector := newTestRuntime(t, `<div data-widget="hero"></div>`)
	reg.Register("hero", registry.Static(textWidget("hero")))

	rt.Scan(context.Background(), nil)
	rt.Wait()
	countAfterFirst := rt.Len()
	diagsAfterFirst := collector.Count()

	rt.Scan(context.Background(), nil)
	rt.Wait()

	assert.Equal(t, countAfterFirst, rt.Len())
	assert.Equal(t, diagsAfterFirst, collector.Count(), "re-scan must not emit duplicate-mount diagnostics")
}

func TestScan_SkipsNodeRemovedAfterDiscovery(t *testing.T) {
	rt, doc, reg, collector := newTestRuntime(t, `
		<body>
			<div data-widget="hero"></div>
		</body>`)
	reg.Register("hero", registry.Static(textWidget("hero")))

	node := mountPoint(t, doc, 0)

	// The host removes the node between discovery and mounting. The removal
	// record has already been consumed (unmounting an untracked node is a
	// no-op), so claiming the node now would leak an entry forever.
	doc.RemoveNode(node)
	rt.Unmount(node)

	rt.Scan(context.Background(), node)
	rt.Wait()

	assert.Equal(t, 0, rt.Len())
	assert.False(t, rt.Mounted(node))
	assert.Equal(t, 0, collector.Count())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, out, "hero")
}

func TestScan_UnregisteredWidgetIsSkipped(t *testing.T) {
	rt, doc, _, collector := newTestRuntime(t, `<div data-widget="missing"></div>`)

	rt.Scan(context.Background(), nil)
	rt.Wait()

	assert.Equal(t, 0, rt.Len())
	recs := collector.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, diagnostics.SeverityWarning, recs[0].Severity)
	assert.Equal(t, "missing", recs[0].Widget)
	assert.True(t, enginerr.IsNotRegistered(recs[0].Err))

	// The container is left untouched.
	node := mountPoint(t, doc, 0)
	assert.Nil(t, node.FirstChild)
}

func TestScan_EmptyWidgetNameIsSkipped(t *testing.T) {
	rt, _, _, collector := newTestRuntime(t, `<div data-widget=""></div>`)

	rt.Scan(context.Background(), nil)
	rt.Wait()

	assert.Equal(t, 0, rt.Len())
	require.Equal(t, 1, collector.Count())
	assert.Contains(t, collector.Records()[0].Message, "empty widget name")
}

func TestScan_MalformedPropsIsSkipped(t *testing.T) {
	rt, _, reg, collector := newTestRuntime(t,
		`<div data-widget="hero" data-props='{not valid json'></div>`)
	reg.Register("hero", registry.Static(textWidget("hero")))

	rt.Scan(context.Background(), nil)
	rt.Wait()

	assert.Equal(t, 0, rt.Len())
	recs := collector.Records()
	require.Len(t, recs, 1)
	assert.True(t, enginerr.IsBadProps(recs[0].Err))

	// Eligible for retry on the next pass once the attribute is fixed: the
	// point is untracked, so a later scan reconsiders it.
	assert.False(t, rt.Mounted(mountPointOf(t, rt)))
}

func mountPointOf(t *testing.T, rt *Runtime) *html.Node {
	t.Helper()
	points := rt.Document().MountPoints(rt.Document().Root())
	require.NotEmpty(t, points)
	return points[0]
}

func TestScan_ErrorIsolation(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `
		<body>
			<div data-widget="good" data-props='{"title":"a"}'></div>
			<div data-widget="bad"></div>
			<div data-widget="good" data-props='{"title":"b"}'></div>
		</body>`)
	reg.Register("good", registry.Static(textWidget("good")))
	reg.Register("bad", registry.Static(failingWidget()))

	rt.Scan(context.Background(), nil)
	rt.Wait()

	// All three are tracked; the failing one is in the failed state with a
	// fallback scoped to its own container.
	assert.Equal(t, 3, rt.Len())

	points := doc.MountPoints(doc.Root())
	goodA, _ := rt.Entry(points[0])
	bad, _ := rt.Entry(points[1])
	goodB, _ := rt.Entry(points[2])

	assert.Equal(t, isolation.StateHealthy, goodA.Boundary.State())
	assert.Equal(t, isolation.StateFailed, bad.Boundary.State())
	assert.Equal(t, isolation.StateHealthy, goodB.Boundary.State())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "<p>good:a</p>")
	assert.Contains(t, out, "<p>good:b</p>")
	assert.Contains(t, out, "anchor-fallback")
	assert.Equal(t, 1, strings.Count(out, "anchor-fallback-title"))
}

func TestScan_SubtreeOnly(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `
		<body>
			<div data-widget="hero"></div>
			<section><div data-widget="hero"></div></section>
		</body>`)
	reg.Register("hero", registry.Static(textWidget("hero")))

	section := doc.MountPoints(doc.Root())[1].Parent
	rt.Scan(context.Background(), section)
	rt.Wait()

	assert.Equal(t, 1, rt.Len())
	assert.False(t, rt.Mounted(doc.MountPoints(doc.Root())[0]))
	assert.True(t, rt.Mounted(doc.MountPoints(doc.Root())[1]))
}

func TestUnmount_RunsCleanupExactlyOnce(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `<div data-widget="hero"></div>`)
	reg.Register("hero", registry.Static(textWidget("hero")))

	rt.Scan(context.Background(), nil)
	rt.Wait()

	node := mountPoint(t, doc, 0)
	released := 0
	require.True(t, rt.OnCleanup(node, func() { released++ }))

	rt.Unmount(node)
	rt.Unmount(node) // defensive double-unmount is a no-op

	assert.Equal(t, 1, released)
	assert.Equal(t, 0, rt.Len())
	assert.Nil(t, node.FirstChild, "container cleared on teardown")
}

func TestUnmount_CleanupLIFOOrder(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `<div data-widget="hero"></div>`)
	reg.Register("hero", registry.Static(textWidget("hero")))
	rt.Scan(context.Background(), nil)
	rt.Wait()

	node := mountPoint(t, doc, 0)
	var order []string
	rt.OnCleanup(node, func() { order = append(order, "first") })
	rt.OnCleanup(node, func() { order = append(order, "second") })

	rt.Unmount(node)

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestUnmountAll_BestEffortWithPanickingCleanup(t *testing.T) {
	rt, doc, reg, collector := newTestRuntime(t, `
		<body>
			<div data-widget="hero"></div>
			<div data-widget="hero"></div>
			<div data-widget="hero"></div>
		</body>`)
	reg.Register("hero", registry.Static(textWidget("hero")))
	rt.Scan(context.Background(), nil)
	rt.Wait()

	points := doc.MountPoints(doc.Root())
	released := 0
	rt.OnCleanup(points[0], func() { released++ })
	rt.OnCleanup(points[1], func() { panic("cleanup bug") })
	rt.OnCleanup(points[2], func() { released++ })

	rt.UnmountAll()

	assert.Equal(t, 0, rt.Len(), "table empty even when a teardown panics")
	assert.Equal(t, 2, released, "all release attempts are made")

	var sawPanicDiag bool
	for _, rec := range collector.Records() {
		if strings.Contains(rec.Message, "cleanup panicked") {
			sawPanicDiag = true
		}
	}
	assert.True(t, sawPanicDiag)
}

func TestStaleResolutionIsDiscarded(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `<div data-widget="slow"></div>`)

	release := make(chan struct{})
	reg.Register("slow", func(ctx context.Context) (types.Renderable, error) {
		select {
		case <-release:
			return textWidget("slow"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	rt.Scan(context.Background(), nil)
	node := mountPoint(t, doc, 0)
	require.True(t, rt.Mounted(node), "entry is claimed before resolution completes")

	// Placeholder is showing while the factory resolves.
	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "anchor-loading")

	rt.Unmount(node)
	close(release)
	rt.Wait()

	// The late resolution must not render into the torn-down container.
	assert.Equal(t, 0, rt.Len())
	assert.Nil(t, node.FirstChild)
}

func TestResolutionFailureRendersFallbackAndRetryRecovers(t *testing.T) {
	rt, doc, reg, collector := newTestRuntime(t, `<div data-widget="flaky"></div>`)

	attempts := 0
	reg.Register("flaky", func(ctx context.Context) (types.Renderable, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("chunk load failed")
		}
		return textWidget("flaky"), nil
	})

	rt.Scan(context.Background(), nil)
	rt.Wait()

	node := mountPoint(t, doc, 0)
	entry, ok := rt.Entry(node)
	require.True(t, ok)
	assert.Equal(t, isolation.StateFailed, entry.Boundary.State())
	assert.True(t, collector.HasErrors())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "anchor-fallback")

	// User-triggered retry re-attempts resolution and mounting.
	require.True(t, rt.Retry(node))
	rt.Wait()

	assert.Equal(t, isolation.StateHealthy, entry.Boundary.State())
	out, err = doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "<p>flaky:</p>")
	assert.Equal(t, 2, attempts)
}

func TestRetry_NoOpOnHealthyOrUntracked(t *testing.T) {
	rt, doc, reg, _ := newTestRuntime(t, `<div data-widget="hero"></div>`)
	reg.Register("hero", registry.Static(textWidget("hero")))
	rt.Scan(context.Background(), nil)
	rt.Wait()

	node := mountPoint(t, doc, 0)
	assert.False(t, rt.Retry(node), "healthy boundary")

	rt.Unmount(node)
	assert.False(t, rt.Retry(node), "untracked node")
}

func TestEntriesSnapshot(t *testing.T) {
	rt, _, reg, _ := newTestRuntime(t, `
		<body>
			<div data-widget="hero"></div>
			<div data-widget="hero"></div>
		</body>`)
	reg.Register("hero", registry.Static(textWidget("hero")))
	rt.Scan(context.Background(), nil)
	rt.Wait()

	entries := rt.Entries()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "hero", e.Widget)
		assert.NotEmpty(t, e.ID)
	}
}
