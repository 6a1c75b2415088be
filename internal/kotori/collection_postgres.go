package kotori

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	collectionsTable     = "collections"
	collectionBooksTable = "collection_books"
)

// PostgresCollections is the concrete CollectionGateway for user-defined
// book groupings, backed by the same Postgres pool as PostgresCatalog.
type PostgresCollections struct {
	pool *pgxpool.Pool
}

// NewPostgresCollections wraps an already-connected pool.
func NewPostgresCollections(pool *pgxpool.Pool) *PostgresCollections {
	return &PostgresCollections{pool: pool}
}

func (c *PostgresCollections) GetAllCollections(ctx context.Context) ([]Collection, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, name FROM `+collectionsTable+` ORDER BY id`)
	if err != nil {
		return nil, wrapCatalogErr(err, "get all collections")
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var col Collection
		if err := rows.Scan(&col.ID, &col.Name); err != nil {
			return nil, wrapCatalogErr(err, "scan collection")
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapCatalogErr(err, "get all collections")
	}
	return out, nil
}

func (c *PostgresCollections) CreateCollection(ctx context.Context, name string) (Collection, error) {
	var col Collection
	err := c.pool.QueryRow(ctx,
		`INSERT INTO `+collectionsTable+` (name) VALUES ($1) RETURNING id, name`, name,
	).Scan(&col.ID, &col.Name)
	if err != nil {
		return Collection{}, wrapCatalogErr(err, "create collection")
	}
	return col, nil
}

func (c *PostgresCollections) AddBookToCollection(ctx context.Context, collectionID, bookID int64) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO `+collectionBooksTable+` (collection_id, book_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		collectionID, bookID,
	)
	if err != nil {
		return wrapCatalogErr(err, "add book to collection")
	}
	return nil
}

func (c *PostgresCollections) RemoveBookFromCollection(ctx context.Context, collectionID, bookID int64) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM `+collectionBooksTable+` WHERE collection_id = $1 AND book_id = $2`,
		collectionID, bookID,
	)
	if err != nil {
		return wrapCatalogErr(err, "remove book from collection")
	}
	return nil
}

var _ CollectionGateway = (*PostgresCollections)(nil)
