package kotori

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotori/internal/kotori/kerr"
)

// TestWrapCatalogErr exercises the Postgres error-to-sentinel mapping
// without needing a live database: pgx.ErrNoRows and
// a SQLSTATE 23505 unique-violation are the only two shapes the core treats
// specially, everything else passes through wrapped with the action name.
func TestWrapCatalogErr(t *testing.T) {
	t.Parallel()

	t.Run("nil is nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, wrapCatalogErr(nil, "get book"))
	})

	t.Run("no rows maps to book not found", func(t *testing.T) {
		t.Parallel()
		err := wrapCatalogErr(pgx.ErrNoRows, "get book by id")
		require.Error(t, err)
		assert.ErrorIs(t, err, kerr.ErrBookNotFound)
	})

	t.Run("unique violation maps to already cataloged", func(t *testing.T) {
		t.Parallel()
		pgErr := &pgconn.PgError{Code: postgresUniqueViolation}
		err := wrapCatalogErr(pgErr, "save book")
		require.Error(t, err)
		assert.ErrorIs(t, err, kerr.ErrAlreadyCataloged)
	})

	t.Run("other postgres errors pass through wrapped", func(t *testing.T) {
		t.Parallel()
		pgErr := &pgconn.PgError{Code: "40001"} // serialization_failure
		err := wrapCatalogErr(pgErr, "save book")
		require.Error(t, err)
		assert.NotErrorIs(t, err, kerr.ErrAlreadyCataloged)
		assert.NotErrorIs(t, err, kerr.ErrBookNotFound)
		assert.ErrorIs(t, err, pgErr)
	})

	t.Run("unrelated errors are wrapped with the action", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("connection reset")
		err := wrapCatalogErr(cause, "get all books")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "get all books")
	})
}

// TestBuildNewBook exercises the metadata-over-filename-default layering
// used by the Ingestor.
func TestBuildNewBook(t *testing.T) {
	t.Parallel()

	t.Run("defaults from filename and first page", func(t *testing.T) {
		t.Parallel()
		book, err := buildNewBook("/lib/Some_Comic.cbz", "page1.jpg", Metadata{}, false)
		require.NoError(t, err)
		assert.Equal(t, "Some Comic", book.Title)
		assert.Equal(t, "page1.jpg", book.Cover)
		assert.Equal(t, 0, book.Rating)
	})

	t.Run("embedded metadata overrides defaults", func(t *testing.T) {
		t.Parallel()
		title := "Explicit Title"
		rating := 4
		cover := "cover.png"
		meta := Metadata{Title: &title, Rating: &rating, Cover: &cover}

		book, err := buildNewBook("/lib/Some_Comic.cbz", "page1.jpg", meta, true)
		require.NoError(t, err)
		assert.Equal(t, title, book.Title)
		assert.Equal(t, rating, book.Rating)
		assert.Equal(t, cover, book.Cover)
	})

	t.Run("out of range rating is clamped", func(t *testing.T) {
		t.Parallel()
		rating := 9
		meta := Metadata{Rating: &rating}

		book, err := buildNewBook("/lib/Some_Comic.cbz", "page1.jpg", meta, true)
		require.NoError(t, err)
		assert.Equal(t, 5, book.Rating)
	})
}
