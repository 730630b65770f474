package thumbnail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"prodcat/catalog"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxSize      = 120
	DefaultFetchTimeout = 5 * time.Second

	jpegQuality   = 75
	maxImageBytes = 20 << 20
)

// ErrNoImage is returned when a product has no usable image.
var ErrNoImage = errors.New("no image available")

// Cache renders product images as small JPEG thumbnails and keeps them on
// disk, one file per product id and image source. A product whose image
// path changes gets a fresh thumbnail without explicit invalidation.
type Cache struct {
	dir     string
	maxSize int
	client  *http.Client

	mu sync.Mutex
}

func NewCache(dir string, maxSize int, fetchTimeout time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Cache{
		dir:     dir,
		maxSize: maxSize,
		client:  &http.Client{Timeout: fetchTimeout},
	}
}

func (c *Cache) path(id int64, source string) string {
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(c.dir, fmt.Sprintf("product_%d_%s_%d.jpg", id, hex.EncodeToString(sum[:6]), c.maxSize))
}

// entries lists every cached thumbnail of a product, whatever its source.
func (c *Cache) entries(id int64) ([]string, error) {
	return filepath.Glob(filepath.Join(c.dir, fmt.Sprintf("product_%d_*.jpg", id)))
}

// Get returns the JPEG thumbnail for p, rendering and caching it on a miss.
func (c *Cache) Get(ctx context.Context, p catalog.Product) ([]byte, error) {
	source := strings.TrimSpace(p.ImagePath)
	if source == "" {
		return nil, ErrNoImage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cachePath := c.path(p.ID, source)
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	raw, err := c.load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}

	thumb, err := render(raw, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}

	if err := c.removeEntries(p.ID); err != nil {
		log.Warn().Err(err).Int64("product_id", p.ID).Msg("stale thumbnails not removed")
	}
	if err := save(cachePath, thumb); err != nil {
		log.Warn().Err(err).Int64("product_id", p.ID).Msg("thumbnail not cached")
	}
	return thumb, nil
}

// Invalidate drops the cached thumbnail of a product.
func (c *Cache) Invalidate(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeEntries(id)
}

func (c *Cache) removeEntries(id int64) error {
	paths, err := c.entries(id)
	if err != nil {
		return fmt.Errorf("list cached thumbnails: %w", err)
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cached thumbnail: %w", err)
		}
	}
	return nil
}

func (c *Cache) load(ctx context.Context, source string) ([]byte, error) {
	lower := strings.ToLower(source)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", source, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s: status %d", source, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return data, nil
}

// render decodes any supported image format and fits it into a
// maxSize square without upscaling.
func render(raw []byte, maxSize int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func save(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create thumbnail cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}
	return nil
}
