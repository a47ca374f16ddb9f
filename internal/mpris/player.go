// Package mpris mirrors the canonical playback state into an MPRIS2 media
// session so desktop media keys and widgets can see and drive playback.
package mpris

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/artwork"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	propertiesInterface  = "org.freedesktop.DBus.Properties"
	mprisBusName         = "org.mpris.MediaPlayer2.playsync"
	mprisObjectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	trackPathPrefix      = "/org/playsync/track/"
	identity             = "playsync"

	commandTimeout = 5 * time.Second
	seekTolerance  = 2.0
)

// Emitter sends D-Bus signals. *dbus.Conn satisfies it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// Thumbnailer produces a local image file for a track's artwork
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoID string, images []domain.Image) (string, error)
}

// Player is the object exported at /org/mpris/MediaPlayer2. Only methods
// returning *dbus.Error are visible on the bus.
type Player struct {
	logger  *zap.Logger
	ctrl    domain.Controller
	art     Thumbnailer
	emitter Emitter
	now     func() time.Time

	mu        sync.Mutex
	state     domain.PlaybackState
	updatedAt time.Time
	artPath   string
	artFor    string

	wg sync.WaitGroup
}

// NewPlayer creates a player forwarding bus commands to ctrl
func NewPlayer(logger *zap.Logger, ctrl domain.Controller, art Thumbnailer, emitter Emitter) *Player {
	return &Player{
		logger:  logger,
		ctrl:    ctrl,
		art:     art,
		emitter: emitter,
		now:     time.Now,
		state:   domain.PlaybackState{PlaybackState: domain.StatusNone},
	}
}

// Update mirrors a canonical state and signals what changed
func (p *Player) Update(state domain.PlaybackState) {
	p.mu.Lock()
	prev := p.state
	elapsed := p.now().Sub(p.updatedAt).Seconds()
	p.state = state
	p.updatedAt = p.now()

	prevID, nextID := videoID(prev), videoID(state)
	trackChanged := prevID != nextID
	if trackChanged {
		p.artPath = ""
		p.artFor = ""
	}

	changed := make(map[string]dbus.Variant)
	if prev.PlaybackState != state.PlaybackState {
		changed["PlaybackStatus"] = dbus.MakeVariant(playbackStatus(state.PlaybackState))
	}
	if trackChanged || metadataChanged(prev, state) {
		changed["Metadata"] = dbus.MakeVariant(p.metadataLocked())
	}
	if prev.IsShuffle != state.IsShuffle {
		changed["Shuffle"] = dbus.MakeVariant(state.IsShuffle)
	}
	if prev.Repeat != state.Repeat {
		changed["LoopStatus"] = dbus.MakeVariant(loopStatus(state.Repeat))
	}

	seeked := !trackChanged && jumped(prev, state, elapsed)
	needsArt := nextID != "" && p.art != nil && (trackChanged || p.artFor == "") && state.Metadata != nil && len(state.Metadata.Artwork) > 0
	if needsArt {
		p.artFor = nextID
	}
	p.mu.Unlock()

	if len(changed) > 0 {
		p.emitChanged(changed)
	}
	if seeked || (trackChanged && state.Position > 0) {
		p.emitSeeked(state.Position)
	}
	if needsArt {
		p.wg.Add(1)
		go p.loadArtwork(nextID, state.Metadata.Artwork)
	}
}

// Wait blocks until pending artwork loads finish
func (p *Player) Wait() {
	p.wg.Wait()
}

func (p *Player) loadArtwork(id string, images []domain.Image) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	path, err := p.art.Thumbnail(ctx, id, images)
	if err != nil {
		p.logger.Debug("Artwork thumbnail unavailable", zap.String("videoId", id), zap.Error(err))
		return
	}

	p.mu.Lock()
	if videoID(p.state) != id {
		p.mu.Unlock()
		return
	}
	p.artPath = path
	meta := p.metadataLocked()
	p.mu.Unlock()

	p.emitChanged(map[string]dbus.Variant{"Metadata": dbus.MakeVariant(meta)})
}

func (p *Player) emitChanged(props map[string]dbus.Variant) {
	err := p.emitter.Emit(mprisObjectPath, propertiesInterface+".PropertiesChanged",
		mprisPlayerInterface, props, []string{})
	if err != nil {
		p.logger.Debug("Failed to emit PropertiesChanged", zap.Error(err))
	}
}

func (p *Player) emitSeeked(position float64) {
	if err := p.emitter.Emit(mprisObjectPath, mprisPlayerInterface+".Seeked", micros(position)); err != nil {
		p.logger.Debug("Failed to emit Seeked", zap.Error(err))
	}
}

func (p *Player) command(cmd domain.Command) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := p.ctrl.Command(ctx, cmd); err != nil {
		p.logger.Warn("Media key command failed", zap.String("action", string(cmd.Action)), zap.Error(err))
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (p *Player) snapshot() domain.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// org.mpris.MediaPlayer2

func (p *Player) Raise() *dbus.Error { return nil }

func (p *Player) Quit() *dbus.Error { return nil }

// org.mpris.MediaPlayer2.Player

func (p *Player) Play() *dbus.Error {
	return p.command(domain.Command{Action: domain.ActionPlay})
}

func (p *Player) Pause() *dbus.Error {
	return p.command(domain.Command{Action: domain.ActionPause})
}

func (p *Player) PlayPause() *dbus.Error {
	if p.snapshot().PlaybackState == domain.StatusPlaying {
		return p.Pause()
	}
	return p.Play()
}

// Stop pauses; the page has no stopped state
func (p *Player) Stop() *dbus.Error {
	return p.Pause()
}

func (p *Player) Next() *dbus.Error {
	return p.command(domain.Command{Action: domain.ActionNext})
}

func (p *Player) Previous() *dbus.Error {
	return p.command(domain.Command{Action: domain.ActionPrevious})
}

// Seek moves by offset microseconds
func (p *Player) Seek(offset int64) *dbus.Error {
	st := p.snapshot()
	target := math.Max(0, st.Position+float64(offset)/1e6)
	if st.Duration > 0 && target > st.Duration {
		return p.Next()
	}
	return p.command(domain.Command{Action: domain.ActionSeek, Position: target})
}

// SetPosition seeks to position microseconds when trackID is still current
func (p *Player) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	st := p.snapshot()
	if trackID != trackPath(videoID(st)) || position < 0 {
		return nil
	}
	target := float64(position) / 1e6
	if st.Duration > 0 && target > st.Duration {
		return nil
	}
	return p.command(domain.Command{Action: domain.ActionSeek, Position: target})
}

func (p *Player) OpenUri(uri string) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("opening %q is not supported", uri))
}

// org.freedesktop.DBus.Properties

func (p *Player) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	var all map[string]dbus.Variant
	switch iface {
	case mprisInterface:
		all = rootProperties()
	case mprisPlayerInterface:
		all = p.playerProperties()
	default:
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}

	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (p *Player) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return rootProperties(), nil
	case mprisPlayerInterface:
		return p.playerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (p *Player) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}
	st := p.snapshot()

	switch prop {
	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		if enabled != st.IsShuffle {
			return p.command(domain.Command{Action: domain.ActionShuffle})
		}
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		if status != loopStatus(st.Repeat) {
			// the page only cycles repeat modes
			return p.command(domain.Command{Action: domain.ActionRepeat})
		}
	}
	return nil
}

func rootProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(identity),
		"DesktopEntry":        dbus.MakeVariant(identity),
		"SupportedUriSchemes": dbus.MakeVariant([]string{}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{}),
	}
}

func (p *Player) playerProperties() map[string]dbus.Variant {
	p.mu.Lock()
	defer p.mu.Unlock()

	hasTrack := videoID(p.state) != ""
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(playbackStatus(p.state.PlaybackState)),
		"Metadata":       dbus.MakeVariant(p.metadataLocked()),
		"Position":       dbus.MakeVariant(micros(p.state.Position)),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"Volume":         dbus.MakeVariant(1.0),
		"Shuffle":        dbus.MakeVariant(p.state.IsShuffle),
		"LoopStatus":     dbus.MakeVariant(loopStatus(p.state.Repeat)),
		"CanGoNext":      dbus.MakeVariant(hasTrack),
		"CanGoPrevious":  dbus.MakeVariant(hasTrack),
		"CanPlay":        dbus.MakeVariant(hasTrack),
		"CanPause":       dbus.MakeVariant(hasTrack),
		"CanSeek":        dbus.MakeVariant(hasTrack && p.state.Duration > 0),
		"CanControl":     dbus.MakeVariant(true),
	}
}

func (p *Player) metadataLocked() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath(videoID(p.state))),
	}
	meta := p.state.Metadata
	if meta == nil {
		return m
	}

	if meta.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(meta.Title)
	}
	if artists := artistNames(meta); len(artists) > 0 {
		m["xesam:artist"] = dbus.MakeVariant(artists)
	}
	if meta.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(meta.Album)
	}
	if p.state.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(micros(p.state.Duration))
	}
	switch {
	case p.artPath != "":
		m["mpris:artUrl"] = dbus.MakeVariant("file://" + p.artPath)
	default:
		if best, ok := artwork.Best(meta.Artwork); ok {
			m["mpris:artUrl"] = dbus.MakeVariant(best.URL)
		}
	}
	return m
}

func artistNames(meta *domain.TrackMetadata) []string {
	names := lo.FilterMap(meta.Artists, func(a domain.Artist, _ int) (string, bool) {
		return a.Name, a.Name != ""
	})
	if len(names) == 0 && meta.Artist != "" {
		names = []string{meta.Artist}
	}
	return names
}

func metadataChanged(a, b domain.PlaybackState) bool {
	if a.Duration != b.Duration {
		return true
	}
	ma, mb := a.Metadata, b.Metadata
	if ma == nil || mb == nil {
		return ma != mb
	}
	return ma.Title != mb.Title || ma.Artist != mb.Artist || ma.Album != mb.Album ||
		len(ma.Artists) != len(mb.Artists) || len(ma.Artwork) != len(mb.Artwork)
}

// jumped reports a position change that normal playback cannot explain
func jumped(prev, next domain.PlaybackState, elapsed float64) bool {
	delta := next.Position - prev.Position
	if delta < -seekTolerance/2 {
		return true
	}
	expected := 0.0
	if prev.PlaybackState == domain.StatusPlaying {
		expected = elapsed
	}
	return delta-expected > seekTolerance
}

func videoID(st domain.PlaybackState) string {
	if st.Metadata == nil {
		return ""
	}
	return st.Metadata.VideoID
}

// trackPath maps a video id onto a valid object path element
func trackPath(id string) dbus.ObjectPath {
	if id == "" {
		return dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	return dbus.ObjectPath(trackPathPrefix + safe)
}

func playbackStatus(s domain.PlaybackStatus) string {
	switch s {
	case domain.StatusPlaying, domain.StatusLoading:
		return "Playing"
	case domain.StatusPaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func loopStatus(r domain.RepeatMode) string {
	switch r {
	case domain.RepeatOne:
		return "Track"
	case domain.RepeatAll:
		return "Playlist"
	default:
		return "None"
	}
}

func micros(seconds float64) int64 {
	return int64(seconds * 1e6)
}

var _ Thumbnailer = (*artwork.Cache)(nil)
