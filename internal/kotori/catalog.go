package kotori

import "context"

// CatalogBook is the relational representation of one cataloged book.
type CatalogBook struct {
	ID     int64
	Path   string
	Title  string
	Cover  string
	Rating int
}

// CatalogFolder is the relational representation of one cataloged library
// root folder.
type CatalogFolder struct {
	ID   int64
	Path string
}

// NewBook is the payload the Ingestor builds before handing it to
// CatalogGateway.SaveBook.
type NewBook struct {
	Path   string
	Title  string
	Cover  string
	Rating int
}

// Collection groups books under a user-defined label.
type Collection struct {
	ID   int64
	Name string
}

// CatalogGateway is the request/response contract to the relational catalog
// consumed by the Ingestor and by caller-facing rating/cover/remove
// operations. All operations are atomic at the row level; a
// unique-constraint violation from SaveBook/SaveFolder is reported via
// kerr.ErrAlreadyCataloged so callers can treat it as a non-error.
type CatalogGateway interface {
	GetAllBooks(ctx context.Context) ([]CatalogBook, error)
	GetByID(ctx context.Context, id int64) (CatalogBook, error)
	GetByPath(ctx context.Context, path string) (CatalogBook, error)
	HasPath(ctx context.Context, path string) (bool, error)
	GetRandom(ctx context.Context) (CatalogBook, error)
	SaveBook(ctx context.Context, book NewBook) (CatalogBook, error)
	RemoveBook(ctx context.Context, id int64) error
	UpdateRating(ctx context.Context, id int64, rating int) error
	UpdateCover(ctx context.Context, id int64, name string) error

	GetAllFolders(ctx context.Context) ([]CatalogFolder, error)
	SaveFolder(ctx context.Context, path string) (CatalogFolder, error)
}

// CollectionGateway is the contract for user-defined book groupings,
// backed by the same Postgres store as CatalogGateway.
type CollectionGateway interface {
	GetAllCollections(ctx context.Context) ([]Collection, error)
	CreateCollection(ctx context.Context, name string) (Collection, error)
	AddBookToCollection(ctx context.Context, collectionID, bookID int64) error
	RemoveBookFromCollection(ctx context.Context, collectionID, bookID int64) error
}
