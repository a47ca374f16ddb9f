package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/genricoloni/playsync/internal/domain"
)

// ItemType is the wire discriminator of a lookup result
type ItemType string

const (
	TypeSong     ItemType = "song"
	TypeAlbum    ItemType = "album"
	TypePlaylist ItemType = "playlist"
	TypeArtist   ItemType = "artist"
	TypeRadio    ItemType = "radio"
)

// Item is one variant of the lookup result. Details extracts what the
// coordinator needs for the track identified by videoID.
type Item interface {
	Type() ItemType
	Details(videoID string) domain.TrackDetails
}

// AlbumRef names the album a song belongs to
type AlbumRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SongItem is a single track
type SongItem struct {
	VideoID         string          `json:"videoId"`
	Title           string          `json:"title"`
	Artists         []domain.Artist `json:"artists"`
	Album           *AlbumRef       `json:"album,omitempty"`
	DurationSeconds float64         `json:"durationSeconds"`
}

func (SongItem) Type() ItemType { return TypeSong }

func (s SongItem) Details(string) domain.TrackDetails {
	d := domain.TrackDetails{
		Artists:         s.Artists,
		DurationSeconds: s.DurationSeconds,
	}
	if s.Album != nil && s.Album.ID != "" {
		d.AlbumID = s.Album.ID
		d.CollectionType = domain.CollectionAlbum
	}
	return d
}

// AlbumItem is an album containing the track
type AlbumItem struct {
	BrowseID string          `json:"browseId"`
	Title    string          `json:"title"`
	Artists  []domain.Artist `json:"artists"`
	Tracks   []SongItem      `json:"tracks"`
}

func (AlbumItem) Type() ItemType { return TypeAlbum }

func (a AlbumItem) Details(videoID string) domain.TrackDetails {
	d := domain.TrackDetails{
		Artists:        a.Artists,
		AlbumID:        a.BrowseID,
		CollectionType: domain.CollectionAlbum,
	}
	if t, ok := findTrack(a.Tracks, videoID); ok {
		d.DurationSeconds = t.DurationSeconds
		if len(t.Artists) > 0 {
			d.Artists = t.Artists
		}
	}
	return d
}

// PlaylistItem is a playlist containing the track
type PlaylistItem struct {
	PlaylistID string     `json:"playlistId"`
	Title      string     `json:"title"`
	Tracks     []SongItem `json:"tracks"`
}

func (PlaylistItem) Type() ItemType { return TypePlaylist }

func (p PlaylistItem) Details(videoID string) domain.TrackDetails {
	t, ok := findTrack(p.Tracks, videoID)
	if !ok {
		return domain.TrackDetails{CollectionType: domain.CollectionPlaylist}
	}
	d := t.Details(videoID)
	d.CollectionType = domain.CollectionPlaylist
	return d
}

// ArtistItem only credits the artist
type ArtistItem struct {
	BrowseID string `json:"browseId"`
	Name     string `json:"name"`
}

func (ArtistItem) Type() ItemType { return TypeArtist }

func (a ArtistItem) Details(string) domain.TrackDetails {
	return domain.TrackDetails{Artists: []domain.Artist{{Name: a.Name, ID: a.BrowseID}}}
}

// RadioItem is a generated station seeded by a track
type RadioItem struct {
	PlaylistID  string     `json:"playlistId"`
	SeedVideoID string     `json:"seedVideoId"`
	Tracks      []SongItem `json:"tracks"`
}

func (RadioItem) Type() ItemType { return TypeRadio }

func (r RadioItem) Details(videoID string) domain.TrackDetails {
	t, ok := findTrack(r.Tracks, videoID)
	if !ok {
		return domain.TrackDetails{}
	}
	return t.Details(videoID)
}

func findTrack(tracks []SongItem, videoID string) (SongItem, bool) {
	for _, t := range tracks {
		if t.VideoID == videoID {
			return t, true
		}
	}
	return SongItem{}, false
}

// Decode resolves the "type" discriminator and decodes the matching variant
func Decode(data []byte) (Item, error) {
	var envelope struct {
		Type ItemType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}

	var (
		item Item
		err  error
	)
	switch envelope.Type {
	case TypeSong:
		var v SongItem
		err = json.Unmarshal(data, &v)
		item = v
	case TypeAlbum:
		var v AlbumItem
		err = json.Unmarshal(data, &v)
		item = v
	case TypePlaylist:
		var v PlaylistItem
		err = json.Unmarshal(data, &v)
		item = v
	case TypeArtist:
		var v ArtistItem
		err = json.Unmarshal(data, &v)
		item = v
	case TypeRadio:
		var v RadioItem
		err = json.Unmarshal(data, &v)
		item = v
	default:
		return nil, fmt.Errorf("unknown item type %q", envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s item: %w", envelope.Type, err)
	}
	return item, nil
}
