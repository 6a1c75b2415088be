package kotori

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp" // register BMP decoding

	"kotori/internal/kotori/kerr"
)

// coverMaxDim is the bounding box cover thumbnails are scaled to fit within,
// preserving aspect ratio.
const coverMaxDim = 400

// CoverExtractor implements C7: given a book id and its archive, it picks
// the cover page, decodes it, thumbnails it to fit within 400x400, encodes
// lossless WebP, and writes it to <appCache>/covers/<id>.
type CoverExtractor struct {
	dispatcher *Dispatcher
	catalog    CatalogGateway
	events     *EventBus
	metrics    *Metrics
	coverDir   string
}

// NewCoverExtractor constructs a CoverExtractor that writes thumbnails
// under coverDir (normally <appCache>/covers).
func NewCoverExtractor(dispatcher *Dispatcher, catalog CatalogGateway, events *EventBus, metrics *Metrics, coverDir string) *CoverExtractor {
	return &CoverExtractor{
		dispatcher: dispatcher,
		catalog:    catalog,
		events:     events,
		metrics:    metrics,
		coverDir:   coverDir,
	}
}

// Extract runs the full pipeline for book id whose archive is at path, and
// emits CoverExtracted on success.
func (c *CoverExtractor) Extract(ctx context.Context, id int64, path ArchivePath) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveCoverExtract(time.Since(start), err == nil)
		}
	}()

	name, err := c.resolveCoverName(ctx, id, path)
	if err != nil {
		return err
	}

	data, err := c.dispatcher.ReadPage(ctx, path, name)
	if err != nil {
		return fmt.Errorf("read cover page %s: %w", name, err)
	}

	img, err := decodeCoverImage(data, name)
	if err != nil {
		return err
	}

	thumb := thumbnailToFit(img, coverMaxDim)

	if err := os.MkdirAll(c.coverDir, 0o755); err != nil {
		return fmt.Errorf("create cover dir: %w", err)
	}

	outPath := filepath.Join(c.coverDir, fmt.Sprint(id))
	if err := writeLosslessWebP(outPath, thumb); err != nil {
		return err
	}

	if c.events != nil {
		c.events.Publish(CoverExtracted{ID: id, Path: outPath})
	}

	return nil
}

// resolveCoverName fetches the book's stored cover filename and falls back
// to the archive's first page if that name is no longer present in the
// page index. The catalog row is never mutated here -- a
// caller wanting the fallback persisted must call UpdateCover explicitly.
func (c *CoverExtractor) resolveCoverName(ctx context.Context, id int64, path ArchivePath) (string, error) {
	book, err := c.catalog.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get book %d: %w", id, err)
	}

	if book.Cover != "" {
		pages, err := c.dispatcher.GetPages(ctx, path)
		if err != nil {
			return "", fmt.Errorf("get pages: %w", err)
		}
		if pages.Contains(book.Cover) {
			return book.Cover, nil
		}
	}

	name, err := c.dispatcher.GetFirstPageName(ctx, path)
	if err != nil {
		return "", fmt.Errorf("get first page name: %w", err)
	}
	return name, nil
}

// decodeCoverImage guesses the image format from magic bytes, falling back
// to the entry's filename extension.
func decodeCoverImage(data []byte, name string) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}

	img, extErr := decodeByExtension(data, name)
	if extErr != nil {
		return nil, fmt.Errorf("%w: decode cover %s: %w", kerr.ErrInvalidBook, name, err)
	}
	return img, nil
}

func decodeByExtension(data []byte, name string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".webp":
		return webp.Decode(bytes.NewReader(data))
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode by extension %s: %w", ext, err)
		}
		return img, nil
	}
}

// thumbnailToFit scales src to fit within maxDim x maxDim, preserving
// aspect ratio. Images already within bounds are returned unscaled.
func thumbnailToFit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return src
	}

	scale := float64(maxDim) / float64(width)
	if h := float64(maxDim) / float64(height); h < scale {
		scale = h
	}

	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// writeLosslessWebP encodes img as lossless WebP to outPath.
func writeLosslessWebP(outPath string, img image.Image) error {
	//nolint:gosec // G304: outPath is built from a configured cover dir + numeric book id
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create cover file: %w", err)
	}
	defer f.Close()

	if err := webp.Encode(f, img, &webp.Options{Lossless: true}); err != nil {
		return fmt.Errorf("encode cover webp: %w", err)
	}
	return nil
}
