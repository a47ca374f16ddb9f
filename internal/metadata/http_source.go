// Package metadata looks up authoritative track details over HTTP.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"go.uber.org/zap"
)

const _maxResponseSize = 1 << 20 // 1 MB

// ErrNotFound is returned when the source has no entry for a video id
var ErrNotFound = errors.New("metadata: track not found")

// HTTPSource fetches track details from a lookup service keyed by video id
type HTTPSource struct {
	logger   *zap.Logger
	client   *http.Client
	endpoint string
}

// NewHTTPSource creates a source querying cfg.MetadataEndpoint
func NewHTTPSource(logger *zap.Logger, cfg *config.AppConfig) *HTTPSource {
	return &HTTPSource{
		logger:   logger,
		endpoint: strings.TrimRight(cfg.MetadataEndpoint, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchTrackMetadata retrieves details for videoID
func (s *HTTPSource) FetchTrackMetadata(ctx context.Context, videoID string) (*domain.TrackDetails, error) {
	if videoID == "" {
		return nil, errors.New("empty video id")
	}

	target := s.endpoint + "/" + url.PathEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "playsyncDaemon/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, videoID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	item, err := Decode(data)
	if err != nil {
		return nil, err
	}

	details := item.Details(videoID)
	s.logger.Debug("Track details fetched",
		zap.String("videoId", videoID),
		zap.String("type", string(item.Type())),
		zap.Int("artists", len(details.Artists)),
		zap.String("albumId", details.AlbumID))
	return &details, nil
}
