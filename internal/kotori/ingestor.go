package kotori

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"kotori/internal/kotori/kerr"
)

// bookExtensions is the case-insensitive set of archive extensions the
// ingestor walks folders for.
var bookExtensions = map[string]struct{}{
	".cbr": {},
	".cbz": {},
	".zip": {},
}

func isBookName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := bookExtensions[ext]
	return ok
}

// Ingestor is the library ingestion pipeline: it walks candidate folders,
// deduplicates against already-indexed roots, inserts catalog rows under
// bounded concurrency, and schedules cover extraction.
type Ingestor struct {
	dispatcher *Dispatcher
	catalog    CatalogGateway
	covers     *CoverExtractor
	events     *EventBus
	metrics    *Metrics

	maxIngestPermits int
}

// NewIngestor constructs an Ingestor. maxIngestPermits bounds concurrent
// book-save operations; cover-extraction concurrency is derived from it
// (permits/5).
func NewIngestor(dispatcher *Dispatcher, catalog CatalogGateway, covers *CoverExtractor, events *EventBus, metrics *Metrics, maxIngestPermits int) *Ingestor {
	if maxIngestPermits <= 0 {
		maxIngestPermits = 50
	}
	return &Ingestor{
		dispatcher:       dispatcher,
		catalog:          catalog,
		covers:           covers,
		events:           events,
		metrics:          metrics,
		maxIngestPermits: maxIngestPermits,
	}
}

// IngestFolders runs the dialog-driven ingestion path: dedup the candidate
// roots against the catalog's existing folders, persist the accepted roots,
// walk them for archive files, and save the result.
func (in *Ingestor) IngestFolders(ctx context.Context, roots []string) error {
	start := time.Now()
	defer func() {
		if in.metrics != nil {
			in.metrics.ObserveIngestDuration(time.Since(start))
		}
	}()

	existing, err := in.catalog.GetAllFolders(ctx)
	if err != nil {
		return fmt.Errorf("get all folders: %w", err)
	}
	existingPaths := make([]string, 0, len(existing))
	for _, f := range existing {
		existingPaths = append(existingPaths, f.Path)
	}

	accepted := make([]string, 0, len(roots))
	for _, raw := range roots {
		folder, err := cleanFolderPath(raw)
		if err != nil {
			return err
		}

		// Skip folders equal to, or a descendant of, an already-indexed root.
		if isDescendantOfAny(folder, existingPaths) || isDescendantOfAny(folder, accepted) {
			continue
		}
		accepted = append(accepted, folder)
	}

	if len(accepted) == 0 {
		return nil
	}

	for _, folder := range accepted {
		if _, err := in.catalog.SaveFolder(ctx, folder); err != nil && !errors.Is(err, kerr.ErrAlreadyCataloged) {
			return fmt.Errorf("save folder %s: %w", folder, err)
		}
	}

	var candidates []string
	for _, folder := range accepted {
		found, err := walkBookFolder(folder)
		if err != nil {
			return fmt.Errorf("walk folder %s: %w", folder, err)
		}
		candidates = append(candidates, found...)
	}

	return in.saveMany(ctx, candidates)
}

// ScanLibrary re-walks every folder already in the catalog and ingests any
// new archive files found within them.
func (in *Ingestor) ScanLibrary(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if in.metrics != nil {
			in.metrics.ObserveIngestDuration(time.Since(start))
		}
	}()

	folders, err := in.catalog.GetAllFolders(ctx)
	if err != nil {
		return fmt.Errorf("get all folders: %w", err)
	}

	var candidates []string
	for _, f := range folders {
		found, err := walkBookFolder(f.Path)
		if err != nil {
			return fmt.Errorf("walk folder %s: %w", f.Path, err)
		}
		candidates = append(candidates, found...)
	}

	return in.saveMany(ctx, candidates)
}

// saveMany persists each candidate book path under a shared semaphore of
// size maxIngestPermits, then schedules cover extraction for everything
// newly saved.
func (in *Ingestor) saveMany(ctx context.Context, candidates []string) error {
	if len(candidates) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(in.maxIngestPermits))
	g, gctx := errgroup.WithContext(ctx)

	saved := make([]CatalogBook, 0, len(candidates))
	var savedMu sync.Mutex

	for _, path := range candidates {
		path := path
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire ingest permit: %w", err)
			}
			defer sem.Release(1)

			book, ok, err := in.saveOne(gctx, path)
			if err != nil {
				return err
			}
			if ok {
				savedMu.Lock()
				saved = append(saved, book)
				savedMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if len(saved) > 0 {
		in.scheduleCoverExtraction(saved)
	}
	return nil
}

// saveOne catalogs one candidate path: skip if already present, read the
// first page name and embedded metadata, save, announce, release.
func (in *Ingestor) saveOne(ctx context.Context, rawPath string) (CatalogBook, bool, error) {
	archivePath, err := NewArchivePath(rawPath)
	if err != nil {
		return CatalogBook{}, false, err
	}

	// Release the archive's open-file permit on every exit; a path never
	// routed is a no-op Close.
	defer func() { _ = in.dispatcher.Close(ctx, archivePath) }()

	if has, err := in.catalog.HasPath(ctx, string(archivePath)); err != nil {
		return CatalogBook{}, false, fmt.Errorf("has path: %w", err)
	} else if has {
		if in.metrics != nil {
			in.metrics.IncBooksSkipped()
		}
		return CatalogBook{}, false, nil
	}

	cover, err := in.dispatcher.GetFirstPageName(ctx, archivePath)
	if err != nil {
		return CatalogBook{}, false, fmt.Errorf("get first page name for %s: %w", archivePath, err)
	}

	meta, hasMeta, err := in.dispatcher.GetMetadata(ctx, archivePath)
	if err != nil {
		return CatalogBook{}, false, fmt.Errorf("get metadata for %s: %w", archivePath, err)
	}

	newBook, err := buildNewBook(string(archivePath), cover, meta, hasMeta)
	if err != nil {
		return CatalogBook{}, false, err
	}

	book, err := in.catalog.SaveBook(ctx, newBook)
	if err != nil {
		if errors.Is(err, kerr.ErrAlreadyCataloged) {
			if in.metrics != nil {
				in.metrics.IncBooksSkipped()
			}
			return CatalogBook{}, false, nil
		}
		return CatalogBook{}, false, fmt.Errorf("save book %s: %w", archivePath, err)
	}

	if in.metrics != nil {
		in.metrics.IncBooksAdded()
	}
	if in.events != nil {
		in.events.Publish(BookAdded{Book: book})
	}

	return book, true, nil
}

// buildNewBook layers embedded metadata over filename-derived defaults.
func buildNewBook(path, firstPage string, meta Metadata, hasMeta bool) (NewBook, error) {
	title, err := TitleFromStem(path)
	if err != nil {
		return NewBook{}, err
	}

	book := NewBook{
		Path:   path,
		Title:  title,
		Cover:  firstPage,
		Rating: 0,
	}

	if hasMeta {
		if meta.Title != nil && *meta.Title != "" {
			book.Title = *meta.Title
		}
		if meta.Rating != nil {
			r := *meta.Rating
			if r < 0 {
				r = 0
			}
			if r > 5 {
				r = 5
			}
			book.Rating = r
		}
		if meta.Cover != nil && *meta.Cover != "" {
			book.Cover = *meta.Cover
		}
	}

	return book, nil
}

// scheduleCoverExtraction fires off cover extraction for each saved book
// under a semaphore of maxIngestPermits/5. Extraction runs fire-and-forget;
// failures are observed via metrics, not returned.
func (in *Ingestor) scheduleCoverExtraction(books []CatalogBook) {
	if in.covers == nil {
		return
	}

	permits := in.maxIngestPermits / 5
	if permits < 1 {
		permits = 1
	}
	sem := semaphore.NewWeighted(int64(permits))

	for _, book := range books {
		book := book
		go func() {
			ctx := context.Background()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			_ = in.covers.Extract(ctx, book.ID, ArchivePath(book.Path))
		}()
	}
}

// RemoveBook deletes book's catalog row, removes its cover thumbnail if
// present, and emits BookRemoved.
func (in *Ingestor) RemoveBook(ctx context.Context, id int64, coverDir string) error {
	if err := in.catalog.RemoveBook(ctx, id); err != nil {
		return fmt.Errorf("remove book: %w", err)
	}

	if in.events != nil {
		in.events.Publish(BookRemoved{ID: id})
	}

	coverPath := filepath.Join(coverDir, fmt.Sprint(id))
	if err := os.Remove(coverPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cover: %w", err)
	}
	return nil
}

// ListBooks returns every cataloged book, removing (and emitting
// BookRemoved for) any row whose archive no longer exists on disk. The
// probe runs concurrently across all rows under a join-all pattern.
func (in *Ingestor) ListBooks(ctx context.Context) ([]CatalogBook, error) {
	all, err := in.catalog.GetAllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all books: %w", err)
	}

	live := make([]CatalogBook, len(all))
	stale := make([]bool, len(all))

	g, _ := errgroup.WithContext(ctx)
	for i, book := range all {
		i, book := i, book
		g.Go(func() error {
			if _, err := os.Stat(book.Path); err != nil {
				if os.IsNotExist(err) {
					stale[i] = true
					return nil
				}
				return fmt.Errorf("stat %s: %w", book.Path, err)
			}
			live[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]CatalogBook, 0, len(all))
	for i, book := range all {
		if stale[i] {
			if err := in.catalog.RemoveBook(ctx, book.ID); err != nil && !errors.Is(err, kerr.ErrBookNotFound) {
				return nil, fmt.Errorf("remove stale book %d: %w", book.ID, err)
			}
			if in.events != nil {
				in.events.Publish(BookRemoved{ID: book.ID})
			}
			continue
		}
		out = append(out, live[i])
	}

	return out, nil
}

// cleanFolderPath canonicalizes raw into an absolute, cleaned directory
// path, failing with kerr.ErrInvalidPath on an empty input.
func cleanFolderPath(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty folder path", kerr.ErrInvalidPath)
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", kerr.ErrInvalidPath, err)
	}
	return filepath.Clean(abs), nil
}

// isDescendantOfAny reports whether path equals, or is a descendant of, any
// entry in roots, tested on path components rather than raw string prefix
// (so "/lib/x" does not falsely match "/lib/xyz").
func isDescendantOfAny(path string, roots []string) bool {
	for _, root := range roots {
		if pathIsDescendantOf(path, root) {
			return true
		}
	}
	return false
}

func pathIsDescendantOf(path, root string) bool {
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	rootWithSep := root
	if !strings.HasSuffix(rootWithSep, sep) {
		rootWithSep += sep
	}
	return strings.HasPrefix(path, rootWithSep)
}

// walkBookFolder recursively collects every file under folder whose name
// matches the archive extension set.
func walkBookFolder(folder string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isBookName(d.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dir: %w", err)
	}
	return found, nil
}
