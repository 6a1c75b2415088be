// Package kerr defines the typed error kinds surfaced across the kotori
// archive core as sentinel errors, matched with errors.Is over wrapped
// causes rather than an error-code struct.
package kerr

import "errors"

var (
	// ErrBookNotFound indicates no catalog row exists for the requested book.
	ErrBookNotFound = errors.New("book not found")

	// ErrPageNotFound indicates the requested page name is absent from an archive's PageIndex.
	ErrPageNotFound = errors.New("page not found")

	// ErrEmptyBook indicates an archive whose PageIndex has zero entries.
	ErrEmptyBook = errors.New("archive has no pages")

	// ErrInvalidBook indicates a structurally invalid archive or malformed embedded metadata.
	ErrInvalidBook = errors.New("invalid book archive")

	// ErrInvalidPath indicates a path that cannot be canonicalized to an ArchivePath.
	ErrInvalidPath = errors.New("invalid archive path")

	// ErrInvalidRating indicates a rating outside the valid [0,5] range.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrAlreadyCataloged indicates a save attempt against a path the catalog
	// already has a unique-constrained row for; save paths treat this as
	// success, not failure.
	ErrAlreadyCataloged = errors.New("already cataloged")
)
