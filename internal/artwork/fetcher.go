// Package artwork downloads cover art and keeps small local thumbnails of it
// for consumers that need a file path rather than a URL.
package artwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/genricoloni/playsync/internal/domain"
	"go.uber.org/zap"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

var (
	// ErrUnsupportedFormat is returned for images the thumbnailer cannot decode
	ErrUnsupportedFormat = errors.New("artwork: unsupported image format")
	// ErrTooLarge is returned when a download exceeds the size limit
	ErrTooLarge = errors.New("artwork: image too large")
)

// decodable maps served content types to the codec that reads them
var decodable = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// Download is one fetched artwork candidate
type Download struct {
	Data   []byte
	Format string
}

// Fetcher downloads an artwork candidate
type Fetcher interface {
	Fetch(ctx context.Context, img domain.Image) (Download, error)
}

// HTTPFetcher downloads candidates over HTTP/HTTPS
type HTTPFetcher struct {
	logger *zap.Logger
	client *http.Client
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch downloads img and reports the format it was served in. Only formats
// the thumbnailer can decode are accepted, and oversized bodies are rejected
// rather than truncated.
func (f *HTTPFetcher) Fetch(ctx context.Context, img domain.Image) (Download, error) {
	u, err := url.Parse(img.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Download{}, fmt.Errorf("unsupported artwork url: %q", img.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Download{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "playsyncDaemon/1.0")
	req.Header.Set("Accept", "image/jpeg, image/png;q=0.9, image/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Download{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return Download{}, fmt.Errorf("%w: missing content type", ErrUnsupportedFormat)
	}
	format, ok := decodable[mediaType]
	if !ok {
		return Download{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}

	if resp.ContentLength > _maxImageSize {
		return Download{}, fmt.Errorf("%w: %s", ErrTooLarge, humanize.Bytes(uint64(resp.ContentLength)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize+1))
	if err != nil {
		return Download{}, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > _maxImageSize {
		return Download{}, fmt.Errorf("%w: over %s", ErrTooLarge, humanize.Bytes(_maxImageSize))
	}

	f.logger.Debug("Artwork fetched",
		zap.String("url", img.URL),
		zap.String("format", format),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.Int("advertisedWidth", img.Width))
	return Download{Data: data, Format: format}, nil
}
