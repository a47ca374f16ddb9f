package domain

import "context"

// Observer produces the stream of accepted playback snapshots
type Observer interface {
	// Start begins observing; it blocks until ctx is cancelled
	Start(ctx context.Context) error

	// Events returns a read-only channel of deduplicated, guarded snapshots
	Events() <-chan PlaybackSnapshot
}

// SurfaceEventType classifies a SurfaceEvent
type SurfaceEventType string

const (
	// SurfaceNavigationStarted fires when the page begins navigating
	SurfaceNavigationStarted SurfaceEventType = "navigation-started"
	// SurfaceLoadCompleted fires when the page finished loading
	SurfaceLoadCompleted SurfaceEventType = "load-completed"
	// SurfaceMediaEvent fires for media element events (timeupdate, play, …)
	SurfaceMediaEvent SurfaceEventType = "media"
)

// SurfaceEvent is pushed by the media surface
type SurfaceEvent struct {
	Type SurfaceEventType
	// Name carries the media event name for SurfaceMediaEvent
	Name string
}

// VideoElement is one <video> element found on the page
type VideoElement struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
	Ended       bool    `json:"ended"`
	ReadyState  int     `json:"readyState"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Src         string  `json:"src"`
}

// Probe is the raw, unstructured read of the media surface
type Probe struct {
	URL        string         `json:"url"`
	Videos     []VideoElement `json:"videos"`
	Title      string         `json:"title"`
	Artist     string         `json:"artist"`
	Album      string         `json:"album"`
	ArtistID   string         `json:"artistId"`
	AlbumID    string         `json:"albumId"`
	VideoID    string         `json:"videoId"`
	LikeStatus string         `json:"likeStatus"`
	Artwork    []Image        `json:"artwork"`
	Shuffle    bool           `json:"shuffle"`
	Repeat     string         `json:"repeat"`
}

// MediaSurface is the externally controlled page hosting the media element
//
//go:generate mockgen -destination=mocks/media_surface_mock.go -package=mocks github.com/genricoloni/playsync/internal/domain MediaSurface
type MediaSurface interface {
	// Probe reads the current media element and metadata nodes.
	// A nil probe with nil error means nothing usable is on the page.
	Probe(ctx context.Context) (*Probe, error)

	// Control forwards a transport command to the page
	Control(ctx context.Context, cmd Command) error

	// Open navigates the page to url
	Open(ctx context.Context, url string) error

	// Events returns navigation and media element notifications
	Events() <-chan SurfaceEvent
}

// MetadataSource retrieves authoritative track details
//
//go:generate mockgen -destination=mocks/metadata_source_mock.go -package=mocks github.com/genricoloni/playsync/internal/domain MetadataSource
type MetadataSource interface {
	// FetchTrackMetadata looks up a track by its video id
	FetchTrackMetadata(ctx context.Context, videoID string) (*TrackDetails, error)
}

// StateSink receives every accepted canonical playback state
type StateSink interface {
	PublishPlayback(state PlaybackState)
}

// StateProvider answers "what is playing now" for late-joining windows
type StateProvider interface {
	GetState() PlaybackState
}

// Controller executes transport and play commands
type Controller interface {
	Command(ctx context.Context, cmd Command) error
	Play(ctx context.Context, req PlayRequest) error
}
