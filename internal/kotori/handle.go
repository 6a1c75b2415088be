package kotori

import (
	"archive/zip"
	"fmt"
	"os"

	"kotori/internal/kotori/kerr"
)

// ArchiveHandle holds one opened archive: its canonical path, the open
// archive/zip.ReadCloser backing it, and its computed PageIndex. It is owned
// exclusively by one ArchiveActor and is never shared across goroutines; the
// actor's single-consumer message loop is the only caller of its methods.
//
// The global open-file FilePermit for this path is tracked separately by
// the Dispatcher's routing table, not by the handle itself: a mutation can
// consume (drop) a handle from its actor's cache while the Dispatcher's
// routing entry -- and the permit it holds -- remains in place.
//
// Pages are computed once at open (via NewPageIndex over the archive's
// entry names) and never change for the lifetime of the handle. This is the
// only place a zip.ReadCloser is opened for read traffic; the actor's own
// handle cache is the single cache layer, with no cross-actor cache
// underneath it.
type ArchiveHandle struct {
	path      ArchivePath
	integrity *ArchiveIntegrityCache
	reader    *zip.ReadCloser
	entries   map[string]*zip.File
	pages     *PageIndex
}

// OpenArchiveHandle validates path's structural integrity (via integrity, if
// non-nil) and opens it, indexing its entries by name and building the
// handle's PageIndex.
func OpenArchiveHandle(path ArchivePath, integrity *ArchiveIntegrityCache) (*ArchiveHandle, error) {
	p := string(path)

	if _, err := os.Stat(p); err != nil {
		if integrity != nil {
			integrity.InvalidatePassed(p)
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open archive %s: %w: archive missing", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open archive %s: %w: %w", path, ErrArchiveTemporarilyUnavailable, err)
	}

	if integrity != nil {
		if err := integrity.Check(p); err != nil {
			return nil, fmt.Errorf("open archive %s: %w", path, err)
		}
	}

	//nolint:gosec // G304: path is canonicalized by ArchivePath, not raw user input
	reader, err := zip.OpenReader(p)
	if err != nil {
		if integrity != nil {
			integrity.InvalidatePassed(p)
		}
		return nil, fmt.Errorf("open archive %s: %w: %w", path, ErrArchiveTemporarilyUnavailable, err)
	}

	entries := make(map[string]*zip.File, len(reader.File))
	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		entries[f.Name] = f
		names = append(names, f.Name)
	}

	return &ArchiveHandle{
		path:      path,
		integrity: integrity,
		reader:    reader,
		entries:   entries,
		pages:     NewPageIndex(names),
	}, nil
}

// Path returns the handle's canonical archive path.
func (h *ArchiveHandle) Path() ArchivePath { return h.path }

// Pages returns the handle's immutable PageIndex snapshot. Safe to share by
// reference with any number of observers; callers must not attempt to
// mutate it.
func (h *ArchiveHandle) Pages() *PageIndex { return h.pages }

// openEntry looks up the named archive entry for streaming.
func (h *ArchiveHandle) openEntry(name string) (*zip.File, error) {
	f, ok := h.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// ReadPage returns the raw, uncompressed bytes of the page named name.
// Fails with kerr.ErrPageNotFound if name is not present in the PageIndex.
func (h *ArchiveHandle) ReadPage(name string) ([]byte, error) {
	if !h.pages.Contains(name) {
		return nil, fmt.Errorf("%w: %s", kerr.ErrPageNotFound, name)
	}

	f, err := h.openEntry(name)
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", name, err)
	}

	rc, err := f.Open()
	if err != nil {
		h.integrity.InvalidatePassed(string(h.path))
		return nil, fmt.Errorf("read page %s: %w: %w", name, ErrArchiveTemporarilyUnavailable, err)
	}
	defer rc.Close()

	data, err := readAll(rc)
	if err != nil {
		h.integrity.InvalidatePassed(string(h.path))
		return nil, fmt.Errorf("read page %s: %w", name, err)
	}
	return data, nil
}

// FirstPageName returns the first page's name in PageIndex order, or
// kerr.ErrEmptyBook if the archive has no pages.
func (h *ArchiveHandle) FirstPageName() (string, error) {
	name, ok := h.pages.Name(0)
	if !ok {
		return "", fmt.Errorf("%w: %s", kerr.ErrEmptyBook, h.path)
	}
	return name, nil
}

// ReadMetadata reads and parses the fixed embedded metadata entry.
// Returns (Metadata{}, false, nil) if the entry is absent; a malformed
// entry fails with kerr.ErrInvalidBook.
func (h *ArchiveHandle) ReadMetadata(entryName string) (Metadata, bool, error) {
	f, err := h.openEntry(entryName)
	if err != nil {
		return Metadata{}, false, nil
	}

	rc, err := f.Open()
	if err != nil {
		h.integrity.InvalidatePassed(string(h.path))
		return Metadata{}, false, fmt.Errorf("read metadata: %w: %w", ErrArchiveTemporarilyUnavailable, err)
	}
	defer rc.Close()

	data, err := readAll(rc)
	if err != nil {
		h.integrity.InvalidatePassed(string(h.path))
		return Metadata{}, false, fmt.Errorf("read metadata: %w", err)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}

// Close releases the handle's open zip.ReadCloser. It does not touch the
// archive's FilePermit; that is the Dispatcher routing table's
// responsibility.
func (h *ArchiveHandle) Close() {
	_ = h.reader.Close()
}
