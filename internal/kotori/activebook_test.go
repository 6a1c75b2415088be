package kotori

import (
	"testing"
	"time"
)

func TestActiveBookRegistry_ReleaseOnlyClosesAfterLastRef(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(10, 1, nil, nil, "kotori.json", nil)
	reg := NewActiveBookRegistry(dispatcher)

	path := ArchivePath("/library/book.cbz")

	first := reg.Acquire(path, "Book")
	second := reg.Acquire(path, "Book")

	reg.mu.Lock()
	refs := reg.refs[path]
	reg.mu.Unlock()
	if refs != 2 {
		t.Fatalf("refs = %d, want 2", refs)
	}

	first.Release()

	reg.mu.Lock()
	refs = reg.refs[path]
	reg.mu.Unlock()
	if refs != 1 {
		t.Fatalf("refs after first release = %d, want 1", refs)
	}

	second.Release()

	// The refcount entry is dropped synchronously and only the Close
	// dispatch runs in the background; poll briefly for the entry to clear.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		_, present := reg.refs[path]
		reg.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("refs for %q still present after last release", path)
}

func TestActiveBook_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(10, 1, nil, nil, "kotori.json", nil)
	reg := NewActiveBookRegistry(dispatcher)
	path := ArchivePath("/library/solo.cbz")

	ab := reg.Acquire(path, "Solo")
	ab.Release()
	ab.Release() // must not panic or double-decrement

	reg.mu.Lock()
	_, present := reg.refs[path]
	reg.mu.Unlock()
	if present {
		t.Fatalf("refs for %q still present after release", path)
	}
}
