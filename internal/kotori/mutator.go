package kotori

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Mutator implements the copy-on-write procedure that rewrites an archive
// to delete a page or replace its embedded metadata entry.
//
// Both operations share the same rewrite skeleton; only the entry retention
// predicate and the optional trailing metadata entry differ.
type Mutator struct {
	metrics *Metrics
}

// NewMutator constructs a Mutator.
func NewMutator(metrics *Metrics) *Mutator {
	return &Mutator{metrics: metrics}
}

// DeletePage rewrites h's archive dropping the entry named name. On success
// the path's FilePermit is unaffected (the Dispatcher's routing entry
// persists); the handle
// passed in must already have been removed from its actor's cache by the
// caller.
func (m *Mutator) DeletePage(h *ArchiveHandle, name string) (err error) {
	start := time.Now()
	defer func() { m.observe("delete_page", start, &err) }()

	retain := func(entryName string) bool { return entryName != name }
	return m.rewrite(h, retain, nil, "")
}

// SetMetadata rewrites h's archive, dropping the existing metadata entry (if
// any) and appending a fresh one containing meta, stamped with the current
// metadata version.
func (m *Mutator) SetMetadata(h *ArchiveHandle, meta Metadata, metadataEntryName string) (err error) {
	start := time.Now()
	defer func() { m.observe("set_metadata", start, &err) }()

	retain := func(entryName string) bool { return entryName != metadataEntryName }

	stamped := meta.WithCurrentVersion()
	payload, marshalErr := stamped.MarshalPretty()
	if marshalErr != nil {
		return marshalErr
	}

	return m.rewrite(h, retain, payload, metadataEntryName)
}

func (m *Mutator) observe(kind string, start time.Time, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = "error"
	}
	m.metrics.ObserveMutation(kind, outcome, time.Since(start))
}

// rewrite builds the new archive in a same-directory temp file, then swaps
// it into place. appendName/appendPayload are used only by SetMetadata;
// DeletePage passes appendName == "".
func (m *Mutator) rewrite(h *ArchiveHandle, retain func(string) bool, appendPayload []byte, appendName string) error {
	path := h.Path()
	dir := path.Dir()

	tmpName := uuid.Must(uuid.NewV7()).String() + ".kotori"
	tmpPath := filepath.Join(dir, tmpName)

	if err := m.writeRewritten(string(path), tmpPath, retain, appendPayload, appendName); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rewrite archive: %w", err)
	}

	if err := os.Remove(string(path)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove original archive: %w", err)
	}

	if err := os.Rename(tmpPath, string(path)); err != nil {
		// The original is gone and the rewrite is not yet in place; the
		// temporary file may be left orphaned in dir for manual recovery.
		return fmt.Errorf("rename rewritten archive into place: %w", err)
	}

	return nil
}

// writeRewritten opens a fresh writer at tmpPath, stream-copies retained
// entries raw (no decompress/recompress), optionally appends a fresh
// metadata entry, then finalizes.
func (m *Mutator) writeRewritten(srcPath, tmpPath string, retain func(string) bool, appendPayload []byte, appendName string) error {
	//nolint:gosec // G304: srcPath is a canonicalized ArchivePath, not raw user input
	src, err := zip.OpenReader(srcPath)
	if err != nil {
		return fmt.Errorf("open source archive: %w", err)
	}
	defer src.Close()

	//nolint:gosec // G304: tmpPath is built from a canonicalized dir + uuidv7 name
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	for _, f := range src.File {
		if !retain(f.Name) {
			continue
		}
		if err := copyRawEntry(zw, f); err != nil {
			_ = zw.Close()
			return fmt.Errorf("copy entry %s: %w", f.Name, err)
		}
	}

	if appendName != "" {
		w, err := zw.Create(appendName)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("create metadata entry: %w", err)
		}
		if _, err := w.Write(appendPayload); err != nil {
			_ = zw.Close()
			return fmt.Errorf("write metadata entry: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive writer: %w", err)
	}

	return nil
}

// copyRawEntry streams f's already-compressed bytes into zw without
// decompressing or recompressing, preserving the original compression
// method and CRC.
func copyRawEntry(zw *zip.Writer, f *zip.File) error {
	rc, err := f.OpenRaw()
	if err != nil {
		return fmt.Errorf("open raw entry: %w", err)
	}

	w, err := zw.CreateRaw(&f.FileHeader)
	if err != nil {
		return fmt.Errorf("create raw entry: %w", err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("stream raw entry: %w", err)
	}

	return nil
}
