package kotori

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kotori/internal/kotori/kerr"
)

// postgresUniqueViolation is the SQLSTATE Postgres reports for a unique
// constraint violation.
const postgresUniqueViolation = "23505"

const (
	booksTable   = "books"
	foldersTable = "folders"
)

// PostgresCatalog is the concrete CatalogGateway backed by PostgreSQL:
// schema-constant tables, pgx.ErrNoRows mapped to kerr.ErrBookNotFound, and
// unique-violation detection via SQLSTATE 23505 mapped to
// kerr.ErrAlreadyCataloged.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog wraps an already-connected pool.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// wrapCatalogErr maps low-level pgx/Postgres errors onto the core's
// taxonomy: not-found and unique-violation get typed sentinels, everything
// else surfaces wrapped with the failed action.
func wrapCatalogErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", action, kerr.ErrBookNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
		return fmt.Errorf("%s: %w", action, kerr.ErrAlreadyCataloged)
	}

	return fmt.Errorf("%s: %w", action, err)
}

func (c *PostgresCatalog) GetAllBooks(ctx context.Context) ([]CatalogBook, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, path, title, cover, rating FROM `+booksTable+` ORDER BY id`)
	if err != nil {
		return nil, wrapCatalogErr(err, "get all books")
	}
	defer rows.Close()

	var out []CatalogBook
	for rows.Next() {
		var b CatalogBook
		if err := rows.Scan(&b.ID, &b.Path, &b.Title, &b.Cover, &b.Rating); err != nil {
			return nil, wrapCatalogErr(err, "scan book")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapCatalogErr(err, "get all books")
	}
	return out, nil
}

func (c *PostgresCatalog) GetByID(ctx context.Context, id int64) (CatalogBook, error) {
	var b CatalogBook
	err := c.pool.QueryRow(ctx,
		`SELECT id, path, title, cover, rating FROM `+booksTable+` WHERE id = $1`, id,
	).Scan(&b.ID, &b.Path, &b.Title, &b.Cover, &b.Rating)
	if err != nil {
		return CatalogBook{}, wrapCatalogErr(err, "get book by id")
	}
	return b, nil
}

func (c *PostgresCatalog) GetByPath(ctx context.Context, path string) (CatalogBook, error) {
	var b CatalogBook
	err := c.pool.QueryRow(ctx,
		`SELECT id, path, title, cover, rating FROM `+booksTable+` WHERE path = $1`, path,
	).Scan(&b.ID, &b.Path, &b.Title, &b.Cover, &b.Rating)
	if err != nil {
		return CatalogBook{}, wrapCatalogErr(err, "get book by path")
	}
	return b, nil
}

func (c *PostgresCatalog) HasPath(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+booksTable+` WHERE path = $1)`, path,
	).Scan(&exists)
	if err != nil {
		return false, wrapCatalogErr(err, "has path")
	}
	return exists, nil
}

func (c *PostgresCatalog) GetRandom(ctx context.Context) (CatalogBook, error) {
	var b CatalogBook
	err := c.pool.QueryRow(ctx,
		`SELECT id, path, title, cover, rating FROM `+booksTable+` ORDER BY random() LIMIT 1`,
	).Scan(&b.ID, &b.Path, &b.Title, &b.Cover, &b.Rating)
	if err != nil {
		return CatalogBook{}, wrapCatalogErr(err, "get random book")
	}
	return b, nil
}

func (c *PostgresCatalog) SaveBook(ctx context.Context, book NewBook) (CatalogBook, error) {
	var b CatalogBook
	err := c.pool.QueryRow(ctx,
		`INSERT INTO `+booksTable+` (path, title, cover, rating) VALUES ($1, $2, $3, $4)
		 RETURNING id, path, title, cover, rating`,
		book.Path, book.Title, book.Cover, book.Rating,
	).Scan(&b.ID, &b.Path, &b.Title, &b.Cover, &b.Rating)
	if err != nil {
		return CatalogBook{}, wrapCatalogErr(err, "save book")
	}
	return b, nil
}

func (c *PostgresCatalog) RemoveBook(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM `+booksTable+` WHERE id = $1`, id)
	if err != nil {
		return wrapCatalogErr(err, "remove book")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove book: %w", kerr.ErrBookNotFound)
	}
	return nil
}

func (c *PostgresCatalog) UpdateRating(ctx context.Context, id int64, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("%w: %d", kerr.ErrInvalidRating, rating)
	}
	tag, err := c.pool.Exec(ctx, `UPDATE `+booksTable+` SET rating = $2 WHERE id = $1`, id, rating)
	if err != nil {
		return wrapCatalogErr(err, "update rating")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update rating: %w", kerr.ErrBookNotFound)
	}
	return nil
}

func (c *PostgresCatalog) UpdateCover(ctx context.Context, id int64, name string) error {
	tag, err := c.pool.Exec(ctx, `UPDATE `+booksTable+` SET cover = $2 WHERE id = $1`, id, name)
	if err != nil {
		return wrapCatalogErr(err, "update cover")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update cover: %w", kerr.ErrBookNotFound)
	}
	return nil
}

func (c *PostgresCatalog) GetAllFolders(ctx context.Context) ([]CatalogFolder, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, path FROM `+foldersTable+` ORDER BY id`)
	if err != nil {
		return nil, wrapCatalogErr(err, "get all folders")
	}
	defer rows.Close()

	var out []CatalogFolder
	for rows.Next() {
		var f CatalogFolder
		if err := rows.Scan(&f.ID, &f.Path); err != nil {
			return nil, wrapCatalogErr(err, "scan folder")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapCatalogErr(err, "get all folders")
	}
	return out, nil
}

func (c *PostgresCatalog) SaveFolder(ctx context.Context, path string) (CatalogFolder, error) {
	var f CatalogFolder
	err := c.pool.QueryRow(ctx,
		`INSERT INTO `+foldersTable+` (path) VALUES ($1) RETURNING id, path`, path,
	).Scan(&f.ID, &f.Path)
	if err != nil {
		return CatalogFolder{}, wrapCatalogErr(err, "save folder")
	}
	return f, nil
}

var _ CatalogGateway = (*PostgresCatalog)(nil)
