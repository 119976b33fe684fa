package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFilter(t *testing.T) {
	assert.True(t, PageFilter("pages/index.html"))
	assert.True(t, PageFilter("a.htm"))
	assert.False(t, PageFilter("style.css"))
	assert.False(t, PageFilter("widget.go"))
}

func TestNoHiddenFilter(t *testing.T) {
	assert.True(t, NoHiddenFilter("pages/index.html"))
	assert.True(t, NoHiddenFilter("./pages/index.html"))
	assert.False(t, NoHiddenFilter(".git/config"))
	assert.False(t, NoHiddenFilter("pages/.cache/index.html"))
}

func TestExcludeFilter(t *testing.T) {
	filter := ExcludeFilter([]string{"*.tmp", "draft-*"})
	assert.False(t, filter("page.tmp"))
	assert.False(t, filter("pages/scratch.tmp"))
	assert.False(t, filter("pages/draft-index.html"))
	assert.True(t, filter("pages/index.html"))

	assert.True(t, ExcludeFilter(nil)("anything.html"))
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "created", EventTypeCreated.String())
	assert.Equal(t, "modified", EventTypeModified.String())
	assert.Equal(t, "deleted", EventTypeDeleted.String())
	assert.Equal(t, "renamed", EventTypeRenamed.String())
	assert.Equal(t, "unknown", EventType(42).String())
}

func TestPageWatcher_DebouncedChangeBatch(t *testing.T) {
	tempDir := t.TempDir()
	page := filepath.Join(tempDir, "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<body></body>"), 0644))

	pw, err := NewPageWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer pw.Stop()

	pw.AddFilter(PageFilter)

	var mutex sync.Mutex
	var batches [][]ChangeEvent
	pw.AddHandler(func(events []ChangeEvent) error {
		mutex.Lock()
		defer mutex.Unlock()
		batches = append(batches, events)
		return nil
	})

	require.NoError(t, pw.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pw.Start(ctx)

	// Rapid successive writes collapse into one batch with one event.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(page, []byte("<body>edit</body>"), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(batches) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	assert.Len(t, batches[0], 1, "events for the same path are deduplicated")
	assert.Equal(t, page, batches[0][0].Path)
}

func TestPageWatcher_FilterBlocksUnrelatedFiles(t *testing.T) {
	tempDir := t.TempDir()

	pw, err := NewPageWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer pw.Stop()

	pw.AddFilter(PageFilter)

	var mutex sync.Mutex
	fired := false
	pw.AddHandler(func(events []ChangeEvent) error {
		mutex.Lock()
		defer mutex.Unlock()
		fired = true
		return nil
	})

	require.NoError(t, pw.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0644))

	time.Sleep(150 * time.Millisecond)
	mutex.Lock()
	defer mutex.Unlock()
	assert.False(t, fired)
}
