package kotori

import (
	"context"
	"fmt"

	"kotori/internal/kotori/kerr"
)

// Core is the caller-facing surface of the archive core. GUI handlers, menu
// actions, and the desktop shell's HTTP layer talk to archives only through
// it: archive reads and writes route through the Dispatcher, library-level
// operations through the Ingestor, and every mutation that collaborators
// care about is announced on the EventBus.
type Core struct {
	dispatcher  *Dispatcher
	catalog     CatalogGateway
	collections CollectionGateway
	ingestor    *Ingestor
	covers      *CoverExtractor
	events      *EventBus
	activeBooks *ActiveBookRegistry
	coverDir    string
}

// NewCore wires the core's components behind one surface. collections may be
// nil when the deployment has no collection store.
func NewCore(
	dispatcher *Dispatcher,
	catalog CatalogGateway,
	collections CollectionGateway,
	ingestor *Ingestor,
	covers *CoverExtractor,
	events *EventBus,
	coverDir string,
) *Core {
	return &Core{
		dispatcher:  dispatcher,
		catalog:     catalog,
		collections: collections,
		ingestor:    ingestor,
		covers:      covers,
		events:      events,
		activeBooks: NewActiveBookRegistry(dispatcher),
		coverDir:    coverDir,
	}
}

// OpenBook canonicalizes rawPath and returns a reference-counted ActiveBook
// for it, resolving the display title from embedded metadata when present
// and from the file stem otherwise. The archive itself is opened lazily by
// the first page read.
func (c *Core) OpenBook(ctx context.Context, rawPath string) (*ActiveBook, error) {
	path, err := NewArchivePath(rawPath)
	if err != nil {
		return nil, err
	}

	title, err := TitleFromStem(string(path))
	if err != nil {
		return nil, err
	}
	meta, ok, err := c.dispatcher.GetMetadata(ctx, path)
	if err != nil {
		return nil, err
	}
	if ok && meta.Title != nil && *meta.Title != "" {
		title = *meta.Title
	}

	return c.activeBooks.Acquire(path, title), nil
}

// GetPages returns the archive's PageIndex snapshot.
func (c *Core) GetPages(ctx context.Context, path ArchivePath) (*PageIndex, error) {
	return c.dispatcher.GetPages(ctx, path)
}

// ReadPage returns the raw bytes of page name.
func (c *Core) ReadPage(ctx context.Context, path ArchivePath, name string) ([]byte, error) {
	return c.dispatcher.ReadPage(ctx, path, name)
}

// GetFirstPageName returns the natural-order first page name.
func (c *Core) GetFirstPageName(ctx context.Context, path ArchivePath) (string, error) {
	return c.dispatcher.GetFirstPageName(ctx, path)
}

// GetMetadata returns the archive's embedded metadata, if present.
func (c *Core) GetMetadata(ctx context.Context, path ArchivePath) (Metadata, bool, error) {
	return c.dispatcher.GetMetadata(ctx, path)
}

// SetMetadata replaces the archive's embedded metadata entry.
func (c *Core) SetMetadata(ctx context.Context, path ArchivePath, meta Metadata) error {
	return c.dispatcher.SetMetadata(ctx, path, meta)
}

// DeletePage removes page name from the archive and announces the deletion
// to the reader window it originated from.
func (c *Core) DeletePage(ctx context.Context, windowID string, path ArchivePath, name string) error {
	if err := c.dispatcher.DeletePage(ctx, path, name); err != nil {
		return err
	}
	if c.events != nil {
		c.events.Publish(PageDeleted{WindowID: windowID, Name: name})
	}
	return nil
}

// Close releases the archive's handle, routing entry, and open-file permit.
func (c *Core) Close(ctx context.Context, path ArchivePath) error {
	return c.dispatcher.Close(ctx, path)
}

// IngestFolders runs the library ingestion pipeline over candidate roots.
func (c *Core) IngestFolders(ctx context.Context, roots []string) error {
	return c.ingestor.IngestFolders(ctx, roots)
}

// ScanLibrary re-walks every cataloged folder for new archives.
func (c *Core) ScanLibrary(ctx context.Context) error {
	return c.ingestor.ScanLibrary(ctx)
}

// ListBooks returns every cataloged book, pruning rows whose archives are
// gone from disk.
func (c *Core) ListBooks(ctx context.Context) ([]CatalogBook, error) {
	return c.ingestor.ListBooks(ctx)
}

// RandomBook returns a uniformly random cataloged book.
func (c *Core) RandomBook(ctx context.Context) (CatalogBook, error) {
	return c.catalog.GetRandom(ctx)
}

// RemoveBook deletes the book's catalog row and cover thumbnail.
func (c *Core) RemoveBook(ctx context.Context, id int64) error {
	return c.ingestor.RemoveBook(ctx, id, c.coverDir)
}

// ExtractCover resolves the book's archive from the catalog and runs cover
// thumbnail extraction for it.
func (c *Core) ExtractCover(ctx context.Context, id int64) error {
	book, err := c.catalog.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get book %d: %w", id, err)
	}

	path, err := NewArchivePath(book.Path)
	if err != nil {
		return err
	}

	return c.covers.Extract(ctx, id, path)
}

// UpdateRating stores a new rating for the book and announces it. Ratings
// outside [0,5] fail with kerr.ErrInvalidRating before touching the catalog.
func (c *Core) UpdateRating(ctx context.Context, id int64, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("%w: %d", kerr.ErrInvalidRating, rating)
	}

	if err := c.catalog.UpdateRating(ctx, id, rating); err != nil {
		return err
	}
	if c.events != nil {
		c.events.Publish(RatingUpdated{ID: id, Rating: rating})
	}
	return nil
}

// UpdateCover stores a new cover page name for the book. The thumbnail is
// not regenerated here; callers follow up with ExtractCover when they want
// the new cover rendered.
func (c *Core) UpdateCover(ctx context.Context, id int64, name string) error {
	return c.catalog.UpdateCover(ctx, id, name)
}

// Collections returns the optional collection store, or nil when the
// deployment has none.
func (c *Core) Collections() CollectionGateway { return c.collections }

// Events returns the bus collaborators subscribe to.
func (c *Core) Events() *EventBus { return c.events }
