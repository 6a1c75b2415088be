package kotori

import (
	"archive/zip"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrArchiveTemporarilyUnavailable indicates an archive exists on disk but is not
// currently usable (structurally invalid, or mid-write from another process).
var ErrArchiveTemporarilyUnavailable = errors.New("archive temporarily unavailable")

// ArchiveIntegrityCache caches archive structural integrity results.
//
// Passed archives are cached for the lifetime of the process and are only
// removed if a later open/read attempt fails (call InvalidatePassed).
//
// Failed archives are cached with a TTL to allow re-testing, since an archive
// that failed validation may be replaced on disk (mutations finalize via
// atomic rename).
type ArchiveIntegrityCache struct {
	failTTL time.Duration
	now     func() time.Time
	verify  func(path string) error
	metrics *Metrics

	mu     sync.RWMutex
	passed map[string]struct{}
	failed map[string]time.Time // path -> expiresAt

	group singleflight.Group // deduplicates concurrent verifications of the same path
}

func NewArchiveIntegrityCache(
	failTTL time.Duration,
	now func() time.Time,
	verify func(path string) error,
	metrics *Metrics,
) *ArchiveIntegrityCache {
	if now == nil {
		now = time.Now
	}
	if verify == nil {
		verify = verifyArchiveStructural
	}

	return &ArchiveIntegrityCache{
		failTTL: failTTL,
		now:     now,
		verify:  verify,
		metrics: metrics,
		passed:  make(map[string]struct{}),
		failed:  make(map[string]time.Time),
	}
}

// Check verifies that the archive at path is structurally valid (readable
// central directory) or returns ErrArchiveTemporarilyUnavailable.
func (z *ArchiveIntegrityCache) Check(path string) error {
	if z == nil {
		return nil
	}

	z.mu.RLock()
	if _, ok := z.passed[path]; ok {
		z.mu.RUnlock()
		return nil
	}
	if exp, ok := z.failed[path]; ok {
		if z.now().Before(exp) {
			z.mu.RUnlock()
			return ErrArchiveTemporarilyUnavailable
		}
	}
	z.mu.RUnlock()

	z.mu.RLock()
	_, inFailed := z.failed[path]
	z.mu.RUnlock()
	if inFailed {
		z.mu.Lock()
		if exp, ok := z.failed[path]; ok && !z.now().Before(exp) {
			delete(z.failed, path)
		}
		z.mu.Unlock()
	}

	_, err, _ := z.group.Do(path, func() (interface{}, error) {
		z.mu.RLock()
		if _, ok := z.passed[path]; ok {
			z.mu.RUnlock()
			return nil, nil
		}
		z.mu.RUnlock()

		return nil, z.verify(path)
	})

	if err != nil {
		z.mu.Lock()
		z.failed[path] = z.now().Add(z.failTTL)
		z.mu.Unlock()
		if z.metrics != nil {
			z.metrics.IncZipIntegrityFailed()
		}
		return fmt.Errorf("%w: %w", ErrArchiveTemporarilyUnavailable, err)
	}

	z.mu.Lock()
	z.passed[path] = struct{}{}
	delete(z.failed, path)
	z.mu.Unlock()
	if z.metrics != nil {
		z.metrics.IncZipIntegrityPassed()
	}

	return nil
}

// InvalidatePassed removes a previously-passed archive from the passed cache.
// ArchiveHandle calls this when opening a path fails (missing file or an
// unreadable zip) and when reading a page or the metadata entry fails.
// Mutations do not call it.
func (z *ArchiveIntegrityCache) InvalidatePassed(path string) {
	if z == nil {
		return
	}
	z.mu.Lock()
	delete(z.passed, path)
	z.mu.Unlock()
}

// verifyArchiveStructural validates that the archive's central directory is
// readable. An archive with zero entries is structurally valid -- deleting
// the last page leaves one behind, and it must still open so callers can
// see the empty page index.
//
// This is a lightweight check: it opens the archive (parsing the central
// directory and end-of-central-directory record) without decompressing any
// entry. A corrupt individual entry is caught at read time, at which point
// the caller should invalidate the cached pass via InvalidatePassed.
func verifyArchiveStructural(path string) error {
	//nolint:gosec // G304: path is canonicalized by ArchivePath, not raw user input
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	_ = r.Close()

	return nil
}
