package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoArtwork is returned when a track has no usable image candidate
var ErrNoArtwork = errors.New("artwork: no image candidate")

// Cache turns artwork URLs into local JPEG thumbnails, one per video id
type Cache struct {
	logger  *zap.Logger
	fetcher Fetcher
	dir     string
	size    int

	group singleflight.Group
	mu    sync.Mutex
	paths map[string]string
}

// NewCache creates a cache writing into cfg.ArtworkDir
func NewCache(logger *zap.Logger, cfg *config.AppConfig, fetcher Fetcher) *Cache {
	return &Cache{
		logger:  logger,
		fetcher: fetcher,
		dir:     cfg.ArtworkDir,
		size:    cfg.ArtworkSize,
		paths:   make(map[string]string),
	}
}

// Best picks the candidate with the largest area; unsized candidates lose
// to sized ones and otherwise keep their order.
func Best(images []domain.Image) (domain.Image, bool) {
	usable := lo.Filter(images, func(img domain.Image, _ int) bool { return img.URL != "" })
	if len(usable) == 0 {
		return domain.Image{}, false
	}
	return lo.MaxBy(usable, func(a, b domain.Image) bool {
		return a.Width*a.Height > b.Width*b.Height
	}), true
}

// Thumbnail returns the path of videoID's thumbnail, creating it on first use
func (c *Cache) Thumbnail(ctx context.Context, videoID string, images []domain.Image) (string, error) {
	if videoID == "" {
		return "", errors.New("empty video id")
	}

	c.mu.Lock()
	path, ok := c.paths[videoID]
	c.mu.Unlock()
	if ok {
		return path, nil
	}

	v, err, _ := c.group.Do(videoID, func() (any, error) {
		return c.render(ctx, videoID, images)
	})
	if err != nil {
		return "", err
	}

	path = v.(string)
	c.mu.Lock()
	c.paths[videoID] = path
	c.mu.Unlock()
	return path, nil
}

func (c *Cache) render(ctx context.Context, videoID string, images []domain.Image) (string, error) {
	best, ok := Best(images)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoArtwork, videoID)
	}

	dl, err := c.fetcher.Fetch(ctx, best)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artwork: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(dl.Data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s image: %w", dl.Format, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return "", fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	thumb := imaging.Fit(img, c.size, c.size, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artwork directory: %w", err)
	}

	// video ids are URL-safe but never trust them as path segments
	outputPath := filepath.Join(c.dir, filepath.Base(filepath.Clean("/"+videoID))+".jpg")
	tmp := outputPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return "", fmt.Errorf("failed to move thumbnail into place: %w", err)
	}

	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		absPath = outputPath
	}

	c.logger.Debug("Thumbnail written",
		zap.String("videoId", videoID),
		zap.String("path", absPath),
		zap.String("source", dl.Format),
		zap.String("size", humanize.Bytes(uint64(buf.Len()))),
		zap.Int("width", thumb.Bounds().Dx()),
		zap.Int("height", thumb.Bounds().Dy()))
	return absPath, nil
}
