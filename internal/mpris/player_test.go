package mpris

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type signal struct {
	name   string
	values []any
}

type fakeEmitter struct {
	mu      sync.Mutex
	signals []signal
}

func (e *fakeEmitter) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, signal{name: name, values: values})
	return nil
}

func (e *fakeEmitter) all() []signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal(nil), e.signals...)
}

func (e *fakeEmitter) reset() {
	e.mu.Lock()
	e.signals = nil
	e.mu.Unlock()
}

// changed returns the property map of the last PropertiesChanged signal
func (e *fakeEmitter) changed(t *testing.T) map[string]dbus.Variant {
	t.Helper()
	sigs := e.all()
	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].name == propertiesInterface+".PropertiesChanged" {
			return sigs[i].values[1].(map[string]dbus.Variant)
		}
	}
	t.Fatal("no PropertiesChanged emitted")
	return nil
}

type fakeController struct {
	mu       sync.Mutex
	commands []domain.Command
	err      error
}

func (f *fakeController) Command(_ context.Context, cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.err
}

func (f *fakeController) Play(context.Context, domain.PlayRequest) error { return nil }

func (f *fakeController) recorded() []domain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Command(nil), f.commands...)
}

type fakeThumbnailer struct {
	path string
	err  error
}

func (f *fakeThumbnailer) Thumbnail(context.Context, string, []domain.Image) (string, error) {
	return f.path, f.err
}

func track(id string, status domain.PlaybackStatus, pos float64) domain.PlaybackState {
	return domain.PlaybackState{
		Metadata: &domain.TrackMetadata{
			VideoID: id,
			Title:   "Song " + id,
			Artist:  "Fallback",
			Album:   "Album",
			Artists: []domain.Artist{{Name: "A"}, {Name: ""}, {Name: "B"}},
			Artwork: []domain.Image{
				{URL: "https://img.example/s60", Width: 60, Height: 60},
				{URL: "https://img.example/s544", Width: 544, Height: 544},
			},
		},
		PlaybackState: status,
		Position:      pos,
		Duration:      200,
		Repeat:        domain.RepeatNone,
	}
}

func newTestPlayer(art Thumbnailer) (*Player, *fakeEmitter, *fakeController) {
	em := &fakeEmitter{}
	ctrl := &fakeController{}
	p := NewPlayer(zap.NewNop(), ctrl, art, em)
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }
	return p, em, ctrl
}

func TestMappings(t *testing.T) {
	assert.Equal(t, "Playing", playbackStatus(domain.StatusPlaying))
	assert.Equal(t, "Playing", playbackStatus(domain.StatusLoading))
	assert.Equal(t, "Paused", playbackStatus(domain.StatusPaused))
	assert.Equal(t, "Stopped", playbackStatus(domain.StatusNone))

	assert.Equal(t, "None", loopStatus(domain.RepeatNone))
	assert.Equal(t, "Track", loopStatus(domain.RepeatOne))
	assert.Equal(t, "Playlist", loopStatus(domain.RepeatAll))
	assert.Equal(t, "None", loopStatus(""))

	assert.Equal(t, dbus.ObjectPath("/org/playsync/track/abc_123_X"), trackPath("abc-123_X"))
	assert.True(t, trackPath("a-b.c").IsValid())
	assert.True(t, trackPath("").IsValid())
	assert.Equal(t, int64(1_500_000), micros(1.5))
}

func TestPlayer_UpdateEmitsOnlyChanges(t *testing.T) {
	p, em, _ := newTestPlayer(nil)

	p.Update(track("v1", domain.StatusPlaying, 0))
	props := em.changed(t)
	assert.Equal(t, "Playing", props["PlaybackStatus"].Value())
	meta := props["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, "Song v1", meta["xesam:title"].Value())
	assert.Equal(t, []string{"A", "B"}, meta["xesam:artist"].Value())
	assert.Equal(t, int64(200_000_000), meta["mpris:length"].Value())
	assert.Equal(t, "https://img.example/s544", meta["mpris:artUrl"].Value())

	em.reset()
	p.Update(track("v1", domain.StatusPlaying, 0))
	assert.Empty(t, em.all(), "identical state must not signal")

	p.Update(track("v1", domain.StatusPaused, 0))
	props = em.changed(t)
	assert.Equal(t, "Paused", props["PlaybackStatus"].Value())
	assert.NotContains(t, props, "Metadata")

	em.reset()
	st := track("v1", domain.StatusPaused, 0)
	st.IsShuffle = true
	st.Repeat = domain.RepeatAll
	p.Update(st)
	props = em.changed(t)
	assert.Equal(t, true, props["Shuffle"].Value())
	assert.Equal(t, "Playlist", props["LoopStatus"].Value())
}

func TestPlayer_ArtistFallback(t *testing.T) {
	p, em, _ := newTestPlayer(nil)

	st := track("v1", domain.StatusPlaying, 0)
	st.Metadata.Artists = nil
	p.Update(st)

	meta := em.changed(t)["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, []string{"Fallback"}, meta["xesam:artist"].Value())
}

func TestPlayer_SeekedOnJump(t *testing.T) {
	p, em, _ := newTestPlayer(nil)

	p.Update(track("v1", domain.StatusPlaying, 10))
	em.reset()

	p.Update(track("v1", domain.StatusPlaying, 10.5))
	assert.Empty(t, em.all())

	p.Update(track("v1", domain.StatusPlaying, 90))
	sigs := em.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, mprisPlayerInterface+".Seeked", sigs[0].name)
	assert.Equal(t, int64(90_000_000), sigs[0].values[0])

	em.reset()
	p.Update(track("v1", domain.StatusPlaying, 5))
	require.Len(t, em.all(), 1, "moving backwards is a seek")
}

func TestPlayer_LocalArtwork(t *testing.T) {
	p, em, _ := newTestPlayer(&fakeThumbnailer{path: "/tmp/art/v1.jpg"})

	p.Update(track("v1", domain.StatusPlaying, 0))
	p.Wait()

	meta := em.changed(t)["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, "file:///tmp/art/v1.jpg", meta["mpris:artUrl"].Value())

	p.Update(track("v2", domain.StatusPlaying, 0))
	p.Wait()
	meta = em.changed(t)["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, dbus.ObjectPath("/org/playsync/track/v2"), meta["mpris:trackid"].Value())
}

func TestPlayer_ArtworkFailureKeepsRemoteURL(t *testing.T) {
	p, em, _ := newTestPlayer(&fakeThumbnailer{err: errors.New("offline")})

	p.Update(track("v1", domain.StatusPlaying, 0))
	p.Wait()

	meta := em.changed(t)["Metadata"].Value().(map[string]dbus.Variant)
	assert.Equal(t, "https://img.example/s544", meta["mpris:artUrl"].Value())
}

func TestPlayer_Commands(t *testing.T) {
	p, _, ctrl := newTestPlayer(nil)
	p.Update(track("v1", domain.StatusPlaying, 30))

	require.Nil(t, p.PlayPause())
	require.Nil(t, p.Next())
	require.Nil(t, p.Previous())
	require.Nil(t, p.Seek(-45_000_000))
	require.Nil(t, p.Seek(10_000_000))
	require.Nil(t, p.SetPosition(trackPath("v1"), 120_000_000))
	require.Nil(t, p.SetPosition(trackPath("stale"), 5_000_000))
	require.Nil(t, p.Stop())

	assert.Equal(t, []domain.Command{
		{Action: domain.ActionPause},
		{Action: domain.ActionNext},
		{Action: domain.ActionPrevious},
		{Action: domain.ActionSeek, Position: 0},
		{Action: domain.ActionSeek, Position: 40},
		{Action: domain.ActionSeek, Position: 120},
		{Action: domain.ActionPause},
	}, ctrl.recorded())
}

func TestPlayer_SeekPastEndSkips(t *testing.T) {
	p, _, ctrl := newTestPlayer(nil)
	p.Update(track("v1", domain.StatusPlaying, 195))

	require.Nil(t, p.Seek(30_000_000))
	assert.Equal(t, []domain.Command{{Action: domain.ActionNext}}, ctrl.recorded())
}

func TestPlayer_CommandFailure(t *testing.T) {
	p, _, ctrl := newTestPlayer(nil)
	ctrl.err = errors.New("surface gone")

	assert.NotNil(t, p.Play())
}

func TestPlayer_SetProperties(t *testing.T) {
	p, _, ctrl := newTestPlayer(nil)
	p.Update(track("v1", domain.StatusPaused, 0))

	require.Nil(t, p.Set(mprisPlayerInterface, "Shuffle", dbus.MakeVariant(false)))
	require.Nil(t, p.Set(mprisPlayerInterface, "Shuffle", dbus.MakeVariant(true)))
	require.Nil(t, p.Set(mprisPlayerInterface, "LoopStatus", dbus.MakeVariant("None")))
	require.Nil(t, p.Set(mprisPlayerInterface, "LoopStatus", dbus.MakeVariant("Track")))
	assert.NotNil(t, p.Set(mprisPlayerInterface, "Shuffle", dbus.MakeVariant("yes")))

	assert.Equal(t, []domain.Command{
		{Action: domain.ActionShuffle},
		{Action: domain.ActionRepeat},
	}, ctrl.recorded())
}

func TestPlayer_Properties(t *testing.T) {
	p, _, _ := newTestPlayer(nil)

	v, derr := p.Get(mprisPlayerInterface, "CanGoNext")
	require.Nil(t, derr)
	assert.Equal(t, false, v.Value())

	p.Update(track("v1", domain.StatusPlaying, 42))

	all, derr := p.GetAll(mprisPlayerInterface)
	require.Nil(t, derr)
	assert.Equal(t, true, all["CanSeek"].Value())
	assert.Equal(t, int64(42_000_000), all["Position"].Value())

	v, derr = p.Get(mprisInterface, "Identity")
	require.Nil(t, derr)
	assert.Equal(t, "playsync", v.Value())

	_, derr = p.Get(mprisPlayerInterface, "Bogus")
	assert.NotNil(t, derr)
	_, derr = p.GetAll("org.example.Nope")
	assert.NotNil(t, derr)
}

func TestService_MirrorsHubPlayback(t *testing.T) {
	h := hub.New(zap.NewNop())
	defer h.Close()

	cfg := &config.AppConfig{Settings: *config.Default()}
	initial := track("v0", domain.StatusPaused, 0)
	svc := NewService(zap.NewNop(), cfg, h, stateFunc(func() domain.PlaybackState { return initial }), &fakeController{}, nil)

	em := &fakeEmitter{}
	p := svc.attach(context.Background(), em)
	assert.Equal(t, "v0", videoID(p.snapshot()))
	assert.Len(t, h.Windows(), 1)

	h.PublishPlayback(track("v1", domain.StatusPlaying, 0))
	require.Eventually(t, func() bool {
		return videoID(p.snapshot()) == "v1"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.detach())
	assert.Empty(t, h.Windows())
	assert.NoError(t, svc.detach())
}

type stateFunc func() domain.PlaybackState

func (f stateFunc) GetState() domain.PlaybackState { return f() }
