package kotori

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"kotori/internal/kotori/kerr"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	integrity := NewArchiveIntegrityCache(0, nil, nil, nil)
	mutator := NewMutator(nil)

	return NewDispatcher(10, 2, integrity, mutator, "kotori.json", nil)
}

func TestDispatcher_GetPagesAndReadPage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{
		"page2.jpg": "second",
		"page1.jpg": "first",
	})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	pages, err := d.GetPages(ctx, path)
	if err != nil {
		t.Fatalf("GetPages() error = %v", err)
	}
	if pages.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pages.Len())
	}
	first, _ := pages.Name(0)
	if first != "page1.jpg" {
		t.Fatalf("Name(0) = %q, want page1.jpg", first)
	}

	data, err := d.ReadPage(ctx, path, "page2.jpg")
	if err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("ReadPage() = %q, want second", data)
	}

	if err := d.Close(ctx, path); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDispatcher_DeletePageThenGetPagesReflectsChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{
		"page1.jpg": "first",
		"page2.jpg": "second",
	})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.DeletePage(ctx, path, "page1.jpg"); err != nil {
		t.Fatalf("DeletePage() error = %v", err)
	}

	pages, err := d.GetPages(ctx, path)
	if err != nil {
		t.Fatalf("GetPages() error = %v", err)
	}
	if pages.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pages.Len())
	}
	if pages.Contains("page1.jpg") {
		t.Fatalf("deleted page still present: %v", pages.Names())
	}
}

func TestDispatcher_DeleteLastPageLeavesEmptyBook(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{"only.png": "x"})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.DeletePage(ctx, path, "only.png"); err != nil {
		t.Fatalf("DeletePage() error = %v", err)
	}

	pages, err := d.GetPages(ctx, path)
	if err != nil {
		t.Fatalf("GetPages() after emptying error = %v", err)
	}
	if pages.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", pages.Len())
	}

	if _, err := d.GetFirstPageName(ctx, path); !errors.Is(err, kerr.ErrEmptyBook) {
		t.Fatalf("GetFirstPageName() error = %v, want ErrEmptyBook", err)
	}
}

func TestDispatcher_SetMetadataThenGetMetadataRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{"page1.jpg": "first"})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	title := "Round Trip"
	if err := d.SetMetadata(ctx, path, Metadata{Title: &title}); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}

	meta, ok, err := d.GetMetadata(ctx, path)
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if !ok {
		t.Fatalf("GetMetadata() ok = false, want true")
	}
	if meta.Title == nil || *meta.Title != "Round Trip" {
		t.Fatalf("Title = %v, want Round Trip", meta.Title)
	}
}

func TestDispatcher_ReadPage_NotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{"page1.jpg": "first"})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	_, err = d.ReadPage(ctx, path, "missing.jpg")
	if !errors.Is(err, kerr.ErrPageNotFound) {
		t.Fatalf("ReadPage() error = %v, want ErrPageNotFound", err)
	}
}

func TestDispatcher_Close_UnroutedPathIsNoop(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t)
	path := ArchivePath("/nonexistent/path.cbz")

	if err := d.Close(context.Background(), path); err != nil {
		t.Fatalf("Close() error = %v, want nil for unrouted path", err)
	}
}

func TestDispatcher_Snapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	zipPath := writeTestZip(t, dir, "book.cbz", map[string]string{"page1.jpg": "first"})
	path, err := NewArchivePath(zipPath)
	if err != nil {
		t.Fatalf("NewArchivePath() error = %v", err)
	}

	d := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.GetPages(ctx, path); err != nil {
		t.Fatalf("GetPages() error = %v", err)
	}

	snap := d.Snapshot()
	if snap.ActorPoolSize < 1 {
		t.Fatalf("ActorPoolSize = %d, want >= 1", snap.ActorPoolSize)
	}
	if snap.DispatcherRoutes != 1 {
		t.Fatalf("DispatcherRoutes = %d, want 1", snap.DispatcherRoutes)
	}
}

// TestDispatcher_ConcurrentReadPage_BoundsRoutesAndHandles hammers ReadPage
// across many goroutines and a handful of distinct archives: even with
// many overlapping callers per path, the dispatcher must settle on exactly
// one routing entry per distinct archive and must never exceed the global
// open-file quota.
func TestDispatcher_ConcurrentReadPage_BoundsRoutesAndHandles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	const numArchives = 5
	paths := make([]ArchivePath, numArchives)
	for i := 0; i < numArchives; i++ {
		zipPath := writeTestZip(t, dir, fmt.Sprintf("book%d.cbz", i), map[string]string{
			"page1.jpg": "a",
			"page2.jpg": "b",
			"page3.jpg": "c",
		})
		p, err := NewArchivePath(zipPath)
		if err != nil {
			t.Fatalf("NewArchivePath() error = %v", err)
		}
		paths[i] = p
	}

	integrity := NewArchiveIntegrityCache(0, nil, nil, nil)
	mutator := NewMutator(nil)
	d := NewDispatcher(100, 4, integrity, mutator, "kotori.json", nil)
	ctx := context.Background()

	const tasksPerArchive = 40
	var wg sync.WaitGroup
	errs := make(chan error, numArchives*tasksPerArchive)

	for i := 0; i < numArchives; i++ {
		path := paths[i]
		for j := 0; j < tasksPerArchive; j++ {
			page := fmt.Sprintf("page%d.jpg", (j%3)+1)
			wg.Add(1)
			go func(path ArchivePath, page string) {
				defer wg.Done()
				if _, err := d.ReadPage(ctx, path, page); err != nil {
					errs <- err
				}
			}(path, page)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ReadPage() error = %v", err)
	}

	snap := d.Snapshot()
	if snap.DispatcherRoutes != numArchives {
		t.Fatalf("DispatcherRoutes = %d, want %d (one route per distinct archive)", snap.DispatcherRoutes, numArchives)
	}
	if snap.ActorPoolSize > 4 {
		t.Fatalf("ActorPoolSize = %d, want <= hw (4)", snap.ActorPoolSize)
	}
	if snap.DispatcherRoutes > 100 {
		t.Fatalf("DispatcherRoutes = %d, exceeds MAX_OPEN", snap.DispatcherRoutes)
	}
}

// TestDispatcher_SaturatedQuotaEvictsToAdmit routes two distinct archives
// through a dispatcher whose open-file quota is one. The second admission
// must not block: the dispatcher evicts the first path's entry (dropping its
// handle and permit) to make room, leaving exactly one live routing entry.
func TestDispatcher_SaturatedQuotaEvictsToAdmit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pathA, err := NewArchivePath(writeTestZip(t, dir, "a.cbz", map[string]string{"page1.jpg": "a"}))
	if err != nil {
		t.Fatalf("NewArchivePath(a) error = %v", err)
	}
	pathB, err := NewArchivePath(writeTestZip(t, dir, "b.cbz", map[string]string{"page1.jpg": "b"}))
	if err != nil {
		t.Fatalf("NewArchivePath(b) error = %v", err)
	}

	integrity := NewArchiveIntegrityCache(0, nil, nil, nil)
	mutator := NewMutator(nil)
	d := NewDispatcher(1, 2, integrity, mutator, "kotori.json", nil)
	ctx := context.Background()

	if _, err := d.GetPages(ctx, pathA); err != nil {
		t.Fatalf("GetPages(a) error = %v", err)
	}
	if _, err := d.GetPages(ctx, pathB); err != nil {
		t.Fatalf("GetPages(b) error = %v (admission should evict, not block)", err)
	}

	snap := d.Snapshot()
	if snap.DispatcherRoutes != 1 {
		t.Fatalf("DispatcherRoutes = %d, want 1 under a quota of 1", snap.DispatcherRoutes)
	}

	// The evicted path is re-admitted transparently on next use.
	if _, err := d.GetPages(ctx, pathA); err != nil {
		t.Fatalf("GetPages(a) after eviction error = %v", err)
	}
}

// TestDispatcher_SelectWorker_SpawnsUpToHWThenReusesLeastBusy exercises the
// worker-selection algorithm directly: idle-first reuse, spawn
// a new worker up to the hw cap, then fall back to the least-busy existing
// worker once hw is reached.
func TestDispatcher_SelectWorker_SpawnsUpToHWThenReusesLeastBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	integrity := NewArchiveIntegrityCache(0, nil, nil, nil)
	mutator := NewMutator(nil)
	d := NewDispatcher(100, 2, integrity, mutator, "kotori.json", nil)
	ctx := context.Background()

	paths := make([]ArchivePath, 3)
	for i := range paths {
		zipPath := writeTestZip(t, dir, fmt.Sprintf("book%d.cbz", i), map[string]string{"page1.jpg": "x"})
		p, err := NewArchivePath(zipPath)
		if err != nil {
			t.Fatalf("NewArchivePath() error = %v", err)
		}
		paths[i] = p
	}

	if _, err := d.GetPages(ctx, paths[0]); err != nil {
		t.Fatalf("GetPages(paths[0]) error = %v", err)
	}
	if snap := d.Snapshot(); snap.ActorPoolSize != 1 {
		t.Fatalf("ActorPoolSize after first distinct path = %d, want 1", snap.ActorPoolSize)
	}

	if _, err := d.GetPages(ctx, paths[1]); err != nil {
		t.Fatalf("GetPages(paths[1]) error = %v", err)
	}
	if snap := d.Snapshot(); snap.ActorPoolSize != 2 {
		t.Fatalf("ActorPoolSize after second distinct path = %d, want 2 (hw reached)", snap.ActorPoolSize)
	}

	// A third distinct path exceeds hw=2: the dispatcher must fall back to
	// the least-busy existing worker rather than spawning a third.
	if _, err := d.GetPages(ctx, paths[2]); err != nil {
		t.Fatalf("GetPages(paths[2]) error = %v", err)
	}
	snap := d.Snapshot()
	if snap.ActorPoolSize != 2 {
		t.Fatalf("ActorPoolSize after third distinct path = %d, want 2 (capped at hw)", snap.ActorPoolSize)
	}
	if snap.DispatcherRoutes != 3 {
		t.Fatalf("DispatcherRoutes = %d, want 3", snap.DispatcherRoutes)
	}
}
