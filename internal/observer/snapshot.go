package observer

import (
	"math"
	"net/url"
	"strings"

	"github.com/genricoloni/playsync/internal/domain"
)

// BuildSnapshot turns a raw probe into a snapshot of the chosen element.
// It returns nil when nothing usable is on the page, including a track
// whose video id cannot be resolved.
func BuildSnapshot(p *domain.Probe, video domain.VideoElement) *domain.PlaybackSnapshot {
	if p == nil {
		return nil
	}

	meta := buildMetadata(p)
	if meta != nil && meta.VideoID == "" {
		return nil
	}

	snap := &domain.PlaybackSnapshot{
		Metadata:      meta,
		PlaybackState: playbackStatus(video),
		Position:      finite(video.CurrentTime),
		Duration:      finite(video.Duration),
		IsShuffle:     p.Shuffle,
		Repeat:        parseRepeat(p.Repeat),
	}
	return snap
}

func buildMetadata(p *domain.Probe) *domain.TrackMetadata {
	videoID := p.VideoID
	if videoID == "" {
		videoID = videoIDFromURL(p.URL)
	}

	title := strings.TrimSpace(p.Title)
	if title == "" && videoID == "" {
		return nil
	}

	m := &domain.TrackMetadata{
		Title:      title,
		Artist:     strings.TrimSpace(p.Artist),
		Album:      strings.TrimSpace(p.Album),
		AlbumID:    p.AlbumID,
		ArtistID:   p.ArtistID,
		Artwork:    p.Artwork,
		VideoID:    videoID,
		LikeStatus: p.LikeStatus,
	}
	// The player bar only links the primary artist; a full credit list
	// comes from enrichment.
	return m
}

// CarryVideoID fills in the video id of last when the page stopped exposing
// one (the user browsed away) but the player bar still shows the same title.
func CarryVideoID(p *domain.Probe, last *domain.TrackMetadata) {
	if p == nil || last == nil || last.VideoID == "" {
		return
	}
	if p.VideoID != "" || videoIDFromURL(p.URL) != "" {
		return
	}
	if title := strings.TrimSpace(p.Title); title != "" && title == last.Title {
		p.VideoID = last.VideoID
	}
}

func playbackStatus(v domain.VideoElement) domain.PlaybackStatus {
	if v.Paused || v.Ended {
		return domain.StatusPaused
	}
	return domain.StatusPlaying
}

func parseRepeat(s string) domain.RepeatMode {
	switch strings.ToUpper(s) {
	case "ONE":
		return domain.RepeatOne
	case "ALL":
		return domain.RepeatAll
	default:
		return domain.RepeatNone
	}
}

func videoIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
