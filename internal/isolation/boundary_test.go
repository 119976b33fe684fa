package isolation

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textComponent(text string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
}

func failingComponent(err error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return err
	})
}

func panickingComponent(msg string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		panic(msg)
	})
}

func render(t *testing.T, b *Boundary) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, b.Render(context.Background(), &sb))
	return sb.String()
}

func TestBoundary_HealthyRendersChild(t *testing.T) {
	b := NewBoundary("hero", "hero@0", nil)
	b.SetChild(textComponent("<p>hello</p>"))

	out := render(t, b)

	assert.Equal(t, "<p>hello</p>", out)
	assert.Equal(t, StateHealthy, b.State())
	assert.NoError(t, b.Failure())
}

func TestBoundary_NoChildRendersPlaceholder(t *testing.T) {
	b := NewBoundary("hero", "hero@0", nil)

	out := render(t, b)

	assert.Contains(t, out, "anchor-loading")
	assert.Equal(t, StateHealthy, b.State())
}

func TestBoundary_ErrorIsContained(t *testing.T) {
	collector := diagnostics.NewCollector()
	b := NewBoundary("hero", "hero@0", collector)
	b.SetChild(failingComponent(errors.New("boom")))

	out := render(t, b)

	assert.Contains(t, out, "anchor-fallback")
	assert.Contains(t, out, "boom")
	assert.Equal(t, StateFailed, b.State())
	require.Error(t, b.Failure())

	recs := collector.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, diagnostics.SeverityError, recs[0].Severity)
	assert.Equal(t, "hero", recs[0].Widget)
	assert.Equal(t, "hero@0", recs[0].MountPoint)
}

func TestBoundary_PanicIsContained(t *testing.T) {
	b := NewBoundary("hero", "hero@0", nil)
	b.SetChild(panickingComponent("kaboom"))

	out := render(t, b)

	assert.Contains(t, out, "anchor-fallback")
	assert.Contains(t, out, "kaboom")
	assert.Equal(t, StateFailed, b.State())
}

func TestBoundary_FailedStateIsSticky(t *testing.T) {
	collector := diagnostics.NewCollector()
	b := NewBoundary("hero", "hero@0", collector)
	b.SetChild(panickingComponent("kaboom"))

	render(t, b)
	// Swapping in a healthy child does not silently recover.
	b.SetChild(textComponent("healthy again"))
	out := render(t, b)

	assert.Contains(t, out, "anchor-fallback")
	assert.NotContains(t, out, "healthy again")
	// Only the first failure is reported.
	assert.Equal(t, 1, collector.Count())
}

func TestBoundary_NoPartialOutputOnMidRenderFailure(t *testing.T) {
	b := NewBoundary("hero", "hero@0", nil)
	b.SetChild(templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "<p>partial")
		return errors.New("died halfway")
	}))

	out := render(t, b)

	assert.NotContains(t, out, "partial")
	assert.Contains(t, out, "anchor-fallback")
}

func TestBoundary_Retry(t *testing.T) {
	b := NewBoundary("hero", "hero@0", nil)
	attempts := 0
	b.SetChild(templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		attempts++
		if attempts == 1 {
			return errors.New("first attempt fails")
		}
		_, err := io.WriteString(w, "second attempt works")
		return err
	}))

	assert.Contains(t, render(t, b), "anchor-fallback")
	assert.True(t, b.Retry())

	out := render(t, b)
	assert.Equal(t, "second attempt works", out)
	assert.Equal(t, StateHealthy, b.State())
	assert.NoError(t, b.Failure())

	// Retry on a healthy boundary is a no-op.
	assert.False(t, b.Retry())
}

func TestBoundary_FailForResolutionFailure(t *testing.T) {
	collector := diagnostics.NewCollector()
	b := NewBoundary("hero", "hero@0", collector)

	b.Fail(errors.New("factory load failed"))

	out := render(t, b)
	assert.Contains(t, out, "anchor-fallback")
	assert.Contains(t, out, "factory load failed")
	assert.Equal(t, 1, collector.Count())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "healthy", StateHealthy.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(7).String())
}
