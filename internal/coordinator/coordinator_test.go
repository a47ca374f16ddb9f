package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/domain/mocks"
	"github.com/genricoloni/playsync/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

// recordingSink captures every published state
type recordingSink struct {
	mu     sync.Mutex
	states []domain.PlaybackState
	ch     chan domain.PlaybackState
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan domain.PlaybackState, 64)}
}

func (s *recordingSink) PublishPlayback(state domain.PlaybackState) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
	s.ch <- state
}

func (s *recordingSink) next(t *testing.T) domain.PlaybackState {
	t.Helper()
	select {
	case st := <-s.ch:
		return st
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for published state")
		return domain.PlaybackState{}
	}
}

func (s *recordingSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case st := <-s.ch:
		t.Fatalf("unexpected publish: %+v", st)
	case <-time.After(wait):
	}
}

type fixture struct {
	coord   *Coordinator
	source  *mocks.MockMetadataSource
	sink    *recordingSink
	session *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	source := mocks.NewMockMetadataSource(ctrl)
	sink := newRecordingSink()
	sess := session.New()

	cfg := &config.AppConfig{Settings: *config.Default()}
	coord, err := New(zap.NewNop(), cfg, source, sink, sess)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	return &fixture{coord: coord, source: source, sink: sink, session: sess}
}

func snapshot(videoID, title string, pos, dur float64) domain.PlaybackSnapshot {
	return domain.PlaybackSnapshot{
		Metadata:      &domain.TrackMetadata{Title: title, Artist: "Band", VideoID: videoID},
		PlaybackState: domain.StatusPlaying,
		Position:      pos,
		Duration:      dur,
	}
}

func complete(videoID string) domain.PlaybackSnapshot {
	s := snapshot(videoID, "Full", 10, 200)
	s.Metadata.Artists = []domain.Artist{{Name: "Band"}}
	s.Metadata.AlbumID = "MPREb_known"
	return s
}

func TestHandleStateChange_PublishesSynchronously(t *testing.T) {
	f := newFixture(t)

	f.coord.HandleStateChange(complete("v1"))

	got := f.sink.next(t)
	assert.Equal(t, "v1", got.Metadata.VideoID)
	assert.Equal(t, domain.StatusPlaying, got.PlaybackState)
	assert.Equal(t, got, f.coord.GetState())
}

func TestHandleStateChange_ClampsPosition(t *testing.T) {
	f := newFixture(t)

	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "v1").
		Return(&domain.TrackDetails{Artists: []domain.Artist{{Name: "Band"}}, AlbumID: "MPREb", DurationSeconds: 180}, nil)

	f.coord.HandleStateChange(snapshot("v1", "T", 5, 200))
	f.sink.next(t)

	enriched := f.sink.next(t)
	assert.Equal(t, 180.0, enriched.Duration)
	assert.Equal(t, 180.0, f.session.ReferenceDuration("v1"))

	f.coord.HandleStateChange(snapshot("v1", "T", 195, 200))
	got := f.sink.next(t)
	assert.Equal(t, 180.0, got.Position)
	assert.Equal(t, 180.0, got.Duration)
	assert.Equal(t, []domain.Artist{{Name: "Band"}}, got.Metadata.Artists, "memoized enrichment must be reapplied")
}

func TestHandleStateChange_ClampGrid(t *testing.T) {
	for _, pos := range []float64{-3, 0, 100, 199.9, 200, 250, 1e6} {
		f := newFixture(t)
		f.coord.HandleStateChange(complete("v1"))
		f.sink.next(t)

		s := complete("v1")
		s.Position = pos
		f.coord.HandleStateChange(s)
		got := f.sink.next(t)

		assert.GreaterOrEqual(t, got.Position, 0.0, "pos=%v", pos)
		assert.LessOrEqual(t, got.Position, 200.0, "pos=%v", pos)
	}
}

func TestEnrichment_StaleResultDiscarded(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "A").
		DoAndReturn(func(ctx context.Context, id string) (*domain.TrackDetails, error) {
			<-release
			return &domain.TrackDetails{Artists: []domain.Artist{{Name: "A-artist"}}, AlbumID: "ALBUM_A", DurationSeconds: 999}, nil
		})
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "B").
		Return(nil, errors.New("offline"))

	f.coord.HandleStateChange(snapshot("A", "Track A", 1, 100))
	f.sink.next(t)

	f.coord.HandleStateChange(snapshot("B", "Track B", 0.2, 120))
	f.sink.next(t)

	close(release)
	f.sink.none(t, 100*time.Millisecond)

	state := f.coord.GetState()
	require.NotNil(t, state.Metadata)
	assert.Equal(t, "B", state.Metadata.VideoID)
	assert.Empty(t, state.Metadata.Artists)
	assert.Empty(t, state.Metadata.AlbumID)
	assert.Equal(t, 120.0, state.Duration)
	assert.Zero(t, f.session.ReferenceDuration("A"))
}

func TestEnrichment_InvalidatedByPlayContext(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "A").
		DoAndReturn(func(ctx context.Context, id string) (*domain.TrackDetails, error) {
			<-release
			return &domain.TrackDetails{AlbumID: "ALBUM_A"}, nil
		})

	f.coord.HandleStateChange(snapshot("A", "Track A", 1, 100))
	f.sink.next(t)

	f.coord.SetPlayContext(domain.PlayContext{PlayMode: domain.PlayModeSong, VideoID: "Z"})
	close(release)
	f.sink.none(t, 100*time.Millisecond)

	assert.Empty(t, f.coord.GetState().Metadata.AlbumID)
}

func TestEnrichment_PublishesOnlyNewInformation(t *testing.T) {
	f := newFixture(t)

	s := snapshot("v1", "T", 1, 200)
	s.Metadata.Artists = []domain.Artist{{Name: "Band"}}

	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "v1").
		Return(&domain.TrackDetails{Artists: []domain.Artist{{Name: "Other"}}}, nil)

	f.coord.HandleStateChange(s)
	f.sink.next(t)
	f.sink.none(t, 100*time.Millisecond)

	assert.Equal(t, []domain.Artist{{Name: "Band"}}, f.coord.GetState().Metadata.Artists)
}

func TestEnrichment_FailureRetriedAfterInterval(t *testing.T) {
	f := newFixture(t)
	clock := time.Now()
	var mu sync.Mutex
	f.coord.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	failed := make(chan struct{})
	gomock.InOrder(
		f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "v1").
			DoAndReturn(func(ctx context.Context, id string) (*domain.TrackDetails, error) {
				defer close(failed)
				return nil, errors.New("timeout")
			}),
		f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "v1").
			Return(&domain.TrackDetails{AlbumID: "MPREb_late", CollectionType: domain.CollectionAlbum}, nil),
	)

	f.coord.HandleStateChange(snapshot("v1", "T", 1, 200))
	f.sink.next(t)
	<-failed
	time.Sleep(20 * time.Millisecond)

	// within the retry interval: no new lookup
	f.coord.HandleStateChange(snapshot("v1", "T", 3, 200))
	f.sink.next(t)
	f.sink.none(t, 50*time.Millisecond)

	mu.Lock()
	clock = clock.Add(f.coord.retryInterval)
	mu.Unlock()

	f.coord.HandleStateChange(snapshot("v1", "T", 5, 200))
	f.sink.next(t)

	got := f.sink.next(t)
	assert.Equal(t, "MPREb_late", got.Metadata.AlbumID)
	assert.Equal(t, domain.CollectionAlbum, got.Metadata.CollectionType)
}

func TestPlayContext_SongModeDoesNotLeak(t *testing.T) {
	f := newFixture(t)
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "Y").Return(nil, errors.New("offline"))

	f.coord.SetPlayContext(domain.PlayContext{PlayMode: domain.PlayModeSong, VideoID: "X", AlbumID: "A1"})
	f.coord.HandleStateChange(snapshot("Y", "Other", 1, 100))

	got := f.sink.next(t)
	assert.Empty(t, got.Metadata.AlbumID)
	assert.Empty(t, got.Metadata.CollectionType)
}

func TestPlayContext_AlbumModeSpansTracks(t *testing.T) {
	f := newFixture(t)
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), gomock.Any()).Return(nil, errors.New("offline")).AnyTimes()

	f.coord.SetPlayContext(domain.PlayContext{
		PlayMode: domain.PlayModeAlbum,
		VideoID:  "first",
		AlbumID:  "MPREb_album",
		Artists:  []domain.Artist{{Name: "Album Artist"}},
	})

	f.coord.HandleStateChange(snapshot("first", "One", 1, 100))
	first := f.sink.next(t)
	assert.Equal(t, "MPREb_album", first.Metadata.AlbumID)
	assert.Equal(t, []domain.Artist{{Name: "Album Artist"}}, first.Metadata.Artists)

	f.coord.HandleStateChange(snapshot("second", "Two", 0.1, 100))
	second := f.sink.next(t)
	assert.Equal(t, "MPREb_album", second.Metadata.AlbumID)
	assert.Equal(t, domain.CollectionAlbum, second.Metadata.CollectionType)
	assert.Empty(t, second.Metadata.Artists, "artists only seed the targeted track")
}

func TestPlayCommand_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "abc123").Return(nil, errors.New("offline")).AnyTimes()

	f.coord.SetPlayContext(domain.PlayContext{PlayMode: domain.PlayModeAlbum, AlbumID: "MPREb_1", VideoID: "abc123"})
	f.coord.SetLoadingState(domain.LoadingInfo{VideoID: "abc123", Title: "T"})

	loading := f.sink.next(t)
	assert.Equal(t, domain.StatusLoading, loading.PlaybackState)
	assert.Equal(t, "abc123", loading.Metadata.VideoID)
	assert.Empty(t, loading.Metadata.AlbumID)

	f.coord.HandleStateChange(domain.PlaybackSnapshot{
		Metadata:      &domain.TrackMetadata{VideoID: "abc123", Title: "T", Artist: ""},
		PlaybackState: domain.StatusPlaying,
		Position:      0.2,
		Duration:      210,
	})

	got := f.sink.next(t)
	assert.Equal(t, "MPREb_1", got.Metadata.AlbumID)
	assert.Equal(t, domain.CollectionAlbum, got.Metadata.CollectionType)
	assert.Equal(t, domain.StatusPlaying, got.PlaybackState)
}

func TestEnrichment_SameTrackLookupsCollapse(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), "v1").
		DoAndReturn(func(ctx context.Context, id string) (*domain.TrackDetails, error) {
			<-release
			return &domain.TrackDetails{AlbumID: "MPREb_once"}, nil
		}).Times(1)

	f.coord.HandleStateChange(snapshot("v1", "T", 1, 200))
	f.sink.next(t)

	// a play context for the same track bumps the version and a new snapshot
	// starts a second lookup that joins the first
	f.coord.SetPlayContext(domain.PlayContext{PlayMode: domain.PlayModeSong, VideoID: "v1"})
	f.coord.HandleStateChange(snapshot("v1", "T", 2, 200))
	f.sink.next(t)

	time.Sleep(20 * time.Millisecond)
	close(release)

	got := f.sink.next(t)
	assert.Equal(t, "MPREb_once", got.Metadata.AlbumID)
}

func TestLoadingState_SeedsReferenceDuration(t *testing.T) {
	f := newFixture(t)

	f.coord.SetLoadingState(domain.LoadingInfo{VideoID: "v9", Title: "Nine", Duration: 240})
	got := f.sink.next(t)

	assert.Equal(t, 240.0, got.Duration)
	assert.Equal(t, 240.0, f.session.ReferenceDuration("v9"))
}

func TestLoadingState_IgnoresSnapshotsOfReplacedTrack(t *testing.T) {
	f := newFixture(t)
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), gomock.Any()).Return(nil, errors.New("offline")).AnyTimes()

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	f.coord.HandleStateChange(snapshot("old", "Old", 50, 200))
	f.sink.next(t)

	f.coord.SetPlayContext(domain.PlayContext{PlayMode: domain.PlayModeSong, VideoID: "new", AlbumID: "MPREb_new"})
	f.coord.SetLoadingState(domain.LoadingInfo{VideoID: "new", Title: "New"})
	f.sink.next(t)

	// observed before the page navigated
	f.coord.HandleStateChange(snapshot("old", "Old", 51, 200))
	f.sink.none(t, 50*time.Millisecond)
	assert.Equal(t, domain.StatusLoading, f.coord.GetState().PlaybackState)

	f.coord.HandleStateChange(snapshot("new", "New", 0.1, 180))
	got := f.sink.next(t)
	assert.Equal(t, "new", got.Metadata.VideoID)
	assert.Equal(t, "MPREb_new", got.Metadata.AlbumID, "song context survives the stale snapshot")
}

func TestLoadingState_ReplacedTrackAcceptedAfterHold(t *testing.T) {
	f := newFixture(t)
	f.source.EXPECT().FetchTrackMetadata(gomock.Any(), gomock.Any()).Return(nil, errors.New("offline")).AnyTimes()

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	f.coord.HandleStateChange(snapshot("old", "Old", 50, 200))
	f.sink.next(t)
	f.coord.SetLoadingState(domain.LoadingInfo{VideoID: "new"})
	f.sink.next(t)

	// the play command never took effect
	mu.Lock()
	clock = clock.Add(9 * time.Second)
	mu.Unlock()
	f.coord.HandleStateChange(snapshot("old", "Old", 60, 200))
	got := f.sink.next(t)
	assert.Equal(t, "old", got.Metadata.VideoID)
	assert.Equal(t, domain.StatusPlaying, got.PlaybackState)
}
