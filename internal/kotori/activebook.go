package kotori

import (
	"context"
	"sync"
)

// ActiveBookRegistry collapses multiple ActiveBook values for the same
// ArchivePath into one dispatch-visible lifetime: closing one reader
// window's ActiveBook does not evict a page another window is actively
// displaying.
type ActiveBookRegistry struct {
	dispatcher *Dispatcher

	mu   sync.Mutex
	refs map[ArchivePath]int
}

// NewActiveBookRegistry constructs a registry that releases archives
// through dispatcher.
func NewActiveBookRegistry(dispatcher *Dispatcher) *ActiveBookRegistry {
	return &ActiveBookRegistry{
		dispatcher: dispatcher,
		refs:       make(map[ArchivePath]int),
	}
}

// Acquire returns a new caller-facing handle to path, incrementing the
// path's reference count. Each returned ActiveBook must eventually have
// Release called exactly once.
func (r *ActiveBookRegistry) Acquire(path ArchivePath, title string) *ActiveBook {
	r.mu.Lock()
	r.refs[path]++
	r.mu.Unlock()

	return &ActiveBook{
		Path:     path,
		Title:    title,
		registry: r,
	}
}

// release decrements path's reference count and reports whether it dropped
// to zero, meaning this was the last live ActiveBook for path.
func (r *ActiveBookRegistry) release(path ArchivePath) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refs[path]--
	if r.refs[path] <= 0 {
		delete(r.refs, path)
		return true
	}
	return false
}

// ActiveBook is the value GUI/HTTP callers hold for an open archive. Its
// Release dispatches Close asynchronously and never blocks: the
// corresponding routing entry and
// FilePermit are released only when the actor processes the Close message,
// and only once every ActiveBook sharing this path has released.
type ActiveBook struct {
	Path  ArchivePath
	Title string

	registry *ActiveBookRegistry
	released sync.Once
}

// Release enqueues an asynchronous Close{path} if this was the last
// ActiveBook referencing Path. Safe to call more than once; only the first
// call has effect, mirroring a Drop impl that can run at most once.
func (ab *ActiveBook) Release() {
	ab.released.Do(func() {
		if !ab.registry.release(ab.Path) {
			return
		}
		dispatcher := ab.registry.dispatcher
		path := ab.Path
		go func() {
			_ = dispatcher.Close(context.Background(), path)
		}()
	})
}
