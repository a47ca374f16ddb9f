package domain

import (
	"encoding/json"
	"errors"
	"slices"
)

// ErrInvalidCommand is wrapped by every rejected play or transport command
var ErrInvalidCommand = errors.New("invalid command")

// PlaybackStatus represents the current state of the media surface
type PlaybackStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "paused"
	// StatusLoading indicates a play command was issued and no snapshot reflects it yet
	StatusLoading PlaybackStatus = "loading"
	// StatusNone indicates nothing is loaded
	StatusNone PlaybackStatus = "none"
)

// RepeatMode represents the repeat behavior reported by the player bar
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// CollectionType identifies the container a track was played from
type CollectionType string

const (
	CollectionAlbum    CollectionType = "ALBUM"
	CollectionPlaylist CollectionType = "PLAYLIST"
)

// PlayMode is the kind of play command that produced a PlayContext
type PlayMode string

const (
	PlayModeAlbum    PlayMode = "ALBUM"
	PlayModePlaylist PlayMode = "PLAYLIST"
	PlayModeSong     PlayMode = "SONG"
	PlayModeRadio    PlayMode = "RADIO"
	PlayModeArtist   PlayMode = "ARTIST"
)

// IsContainer reports whether the mode plays a whole album or playlist,
// in which case context-level album data applies to every track in it.
func (m PlayMode) IsContainer() bool {
	return m == PlayModeAlbum || m == PlayModePlaylist
}

// Artist is a credited artist of a track
type Artist struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Image is one artwork candidate
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// TrackMetadata contains information about the current track.
// VideoID is the track identity key.
type TrackMetadata struct {
	Title          string         `json:"title"`
	Artist         string         `json:"artist"`
	Album          string         `json:"album,omitempty"`
	Artists        []Artist       `json:"artists,omitempty"`
	AlbumID        string         `json:"albumId,omitempty"`
	ArtistID       string         `json:"artistId,omitempty"`
	CollectionType CollectionType `json:"collectionType,omitempty"`
	Artwork        []Image        `json:"artwork,omitempty"`
	VideoID        string         `json:"videoId,omitempty"`
	LikeStatus     string         `json:"likeStatus,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing slices
func (m *TrackMetadata) Clone() *TrackMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Artists = slices.Clone(m.Artists)
	c.Artwork = slices.Clone(m.Artwork)
	return &c
}

// MissingArtists reports whether no artist credit is known at all
func (m *TrackMetadata) MissingArtists() bool {
	return m != nil && len(m.Artists) == 0
}

// MissingAlbum reports whether the album id is unknown
func (m *TrackMetadata) MissingAlbum() bool {
	return m != nil && m.AlbumID == ""
}

// PlaybackSnapshot is one observed instant of playback state.
// Position and Duration are in seconds.
type PlaybackSnapshot struct {
	Metadata      *TrackMetadata `json:"metadata"`
	PlaybackState PlaybackStatus `json:"playbackState"`
	Position      float64        `json:"position"`
	Duration      float64        `json:"duration"`
	IsShuffle     bool           `json:"isShuffle"`
	Repeat        RepeatMode     `json:"isRepeat"`
}

// VideoID returns the identity of the snapshot's track, or "" when unknown
func (s PlaybackSnapshot) VideoID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata.VideoID
}

// PlaybackState is the canonical playback state broadcast to every window
type PlaybackState struct {
	Metadata      *TrackMetadata `json:"metadata"`
	PlaybackState PlaybackStatus `json:"playbackState"`
	Position      float64        `json:"position"`
	Duration      float64        `json:"duration"`
	IsShuffle     bool           `json:"isShuffle"`
	Repeat        RepeatMode     `json:"isRepeat"`
}

// PlayContext is hint data attached to a play command
type PlayContext struct {
	Artists  []Artist `json:"artists,omitempty"`
	AlbumID  string   `json:"albumId,omitempty"`
	VideoID  string   `json:"videoId,omitempty"`
	PlayMode PlayMode `json:"playMode"`
}

// AppliesTo reports whether the context may seed metadata for videoID
func (c *PlayContext) AppliesTo(videoID string) bool {
	if c == nil {
		return false
	}
	return c.VideoID == videoID || c.PlayMode.IsContainer()
}

// LoadingInfo is what a play command knows about its target before the
// surface reports anything
type LoadingInfo struct {
	VideoID  string  `json:"videoId"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Artwork  []Image `json:"artwork,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// PlayRequest is a play command issued by a window
type PlayRequest struct {
	VideoID    string      `json:"videoId"`
	PlaylistID string      `json:"playlistId,omitempty"`
	Title      string      `json:"title,omitempty"`
	Artist     string      `json:"artist,omitempty"`
	Artwork    []Image     `json:"artwork,omitempty"`
	Duration   float64     `json:"duration,omitempty"`
	Context    PlayContext `json:"context"`
}

// TrackDetails is the enrichment data returned by a MetadataSource
type TrackDetails struct {
	Artists         []Artist
	AlbumID         string
	CollectionType  CollectionType
	DurationSeconds float64
}

// Action is a transport command verb
type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionSeek     Action = "seek"
	ActionShuffle  Action = "shuffle"
	ActionRepeat   Action = "repeat"
)

// Command is a transport command forwarded to the media surface
type Command struct {
	Action   Action  `json:"action"`
	Position float64 `json:"position,omitempty"`
}

// OriginBroadcastAll is the origin id meaning "deliver to every window"
const OriginBroadcastAll = "*"

// SyncPayload replicates one key of a named store across windows
type SyncPayload struct {
	StoreName string          `json:"storeName"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	OriginID  string          `json:"originId"`
	Timestamp int64           `json:"timestamp"`
}

// HydrationPayload is the full state of a named store
type HydrationPayload struct {
	StoreName string                     `json:"storeName"`
	State     map[string]json.RawMessage `json:"state"`
	Timestamp int64                      `json:"timestamp"`
}
