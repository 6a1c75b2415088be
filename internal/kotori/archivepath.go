package kotori

import (
	"fmt"
	"path/filepath"

	"kotori/internal/kotori/kerr"
)

// ArchivePath is a canonicalized absolute filesystem path, used as the
// identity key throughout the core: the Dispatcher's routing table, each
// ArchiveActor's handle cache, and catalog rows are all keyed by this value.
type ArchivePath string

// NewArchivePath canonicalizes raw into an ArchivePath (absolute, cleaned).
// A relative or empty path fails with kerr.ErrInvalidPath.
func NewArchivePath(raw string) (ArchivePath, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", kerr.ErrInvalidPath)
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", kerr.ErrInvalidPath, err)
	}

	return ArchivePath(filepath.Clean(abs)), nil
}

// String implements fmt.Stringer.
func (p ArchivePath) String() string { return string(p) }

// Dir returns the parent directory of the archive, used by the Mutator to
// place its temporary rewrite file on the same filesystem.
func (p ArchivePath) Dir() string { return filepath.Dir(string(p)) }

// Ext returns the archive's file extension, including the leading dot.
func (p ArchivePath) Ext() string { return filepath.Ext(string(p)) }
