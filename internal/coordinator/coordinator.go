// Package coordinator owns the canonical playback state. It folds observer
// snapshots into it, completes missing metadata in the background and
// publishes every accepted change.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/session"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// enrichment is what a successful lookup contributed to a track
type enrichment struct {
	Artists        []domain.Artist
	AlbumID        string
	CollectionType domain.CollectionType
	Duration       float64
}

// attempt tracks the enrichment lookup made under the current version
type attempt struct {
	started   bool
	inFlight  bool
	succeeded bool
	failedAt  time.Time
}

// Coordinator is the single authority for the canonical playback state
type Coordinator struct {
	logger        *zap.Logger
	source        domain.MetadataSource
	sink          domain.StateSink
	session       *session.Session
	retryInterval time.Duration
	loadingHold   time.Duration
	now           func() time.Time

	mu                  sync.Mutex
	state               domain.PlaybackState
	currentVideoID      string
	referenceDuration   float64
	version             uint64
	playContext         *domain.PlayContext
	lastEnrichedVideoID string
	lastEnriched        enrichment
	memo                *lru.Cache[string, enrichment]
	attempt             attempt

	// track that was playing when the pending play command started loading
	loadingFrom  string
	loadingSince time.Time

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator publishing to sink. The sink is called with the
// coordinator's lock held and must not call back into it.
func New(
	logger *zap.Logger,
	cfg *config.AppConfig,
	source domain.MetadataSource,
	sink domain.StateSink,
	sess *session.Session,
) (*Coordinator, error) {
	memo, err := lru.New[string, enrichment](cfg.EnrichmentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:        logger,
		source:        source,
		sink:          sink,
		session:       sess,
		retryInterval: cfg.EnrichmentRetryInterval,
		loadingHold:   cfg.NavigationTimeout,
		now:           time.Now,
		state:         domain.PlaybackState{PlaybackState: domain.StatusNone, Repeat: domain.RepeatNone},
		memo:          memo,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// HandleStateChange folds an accepted observer snapshot into the canonical
// state and publishes it. It never waits for enrichment.
func (c *Coordinator) HandleStateChange(snap domain.PlaybackSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	videoID := snap.VideoID()
	if c.staleWhileLoading(videoID) {
		c.logger.Debug("Ignoring snapshot of the track being replaced",
			zap.String("videoId", videoID),
			zap.String("loading", c.currentVideoID))
		return
	}
	c.loadingFrom = ""
	meta := snap.Metadata.Clone()

	if videoID != c.currentVideoID {
		c.beginTrack(videoID, snap.Duration)
		if c.playContext != nil && !c.playContext.AppliesTo(videoID) {
			c.logger.Debug("Play context no longer applies, dropping it",
				zap.String("contextVideoId", c.playContext.VideoID),
				zap.String("videoId", videoID))
			c.playContext = nil
		}
		c.logger.Info("Track changed",
			zap.String("videoId", videoID),
			zap.Uint64("version", c.version))
	} else if c.referenceDuration <= 0 && snap.Duration > 0 {
		c.referenceDuration = snap.Duration
	}

	if e, ok := c.lookupMemo(videoID); ok {
		c.applyEnrichment(meta, e)
	}
	c.applyContext(meta, videoID)

	position, duration := c.clamp(snap.Position, snap.Duration)
	c.state = domain.PlaybackState{
		Metadata:      meta,
		PlaybackState: snap.PlaybackState,
		Position:      position,
		Duration:      duration,
		IsShuffle:     snap.IsShuffle,
		Repeat:        snap.Repeat,
	}
	c.publish()

	if c.shouldEnrich(meta, videoID) {
		c.startEnrichment(videoID, meta.Clone())
	}
}

// SetPlayContext records the hint data of a play command. Enrichment still
// running for the previous track is invalidated.
func (c *Coordinator) SetPlayContext(pc domain.PlayContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pc.Artists = append([]domain.Artist(nil), pc.Artists...)
	c.playContext = &pc
	c.bumpVersion()

	c.logger.Debug("Play context set",
		zap.String("playMode", string(pc.PlayMode)),
		zap.String("videoId", pc.VideoID),
		zap.String("albumId", pc.AlbumID),
		zap.Uint64("version", c.version))
}

// SetLoadingState publishes immediate feedback for a play command before the
// surface reports anything
func (c *Coordinator) SetLoadingState(info domain.LoadingInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if info.VideoID != c.currentVideoID {
		c.loadingFrom = c.currentVideoID
		c.loadingSince = c.now()
	}
	c.beginTrack(info.VideoID, info.Duration)
	if info.Duration > 0 {
		c.session.SetReferenceDuration(info.VideoID, info.Duration)
	}

	meta := &domain.TrackMetadata{
		Title:   info.Title,
		Artist:  info.Artist,
		Artwork: append([]domain.Image(nil), info.Artwork...),
		VideoID: info.VideoID,
	}
	if e, ok := c.lookupMemo(info.VideoID); ok {
		c.applyEnrichment(meta, e)
	}

	c.state = domain.PlaybackState{
		Metadata:      meta,
		PlaybackState: domain.StatusLoading,
		Position:      0,
		Duration:      c.referenceDuration,
		IsShuffle:     c.state.IsShuffle,
		Repeat:        c.state.Repeat,
	}
	c.publish()

	c.logger.Info("Loading track",
		zap.String("videoId", info.VideoID),
		zap.String("title", info.Title),
		zap.Uint64("version", c.version))
}

// GetState returns a copy of the canonical state
func (c *Coordinator) GetState() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotState()
}

// Close cancels in-flight lookups and waits for them to return
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// staleWhileLoading reports whether videoID is the track a pending play
// command is replacing. Such snapshots were observed before the command took
// effect. Callers hold c.mu.
func (c *Coordinator) staleWhileLoading(videoID string) bool {
	if c.state.PlaybackState != domain.StatusLoading || c.loadingFrom == "" {
		return false
	}
	if videoID != c.loadingFrom {
		return false
	}
	return c.now().Sub(c.loadingSince) < c.loadingHold
}

// beginTrack resets per-track bookkeeping. Callers hold c.mu.
func (c *Coordinator) beginTrack(videoID string, duration float64) {
	c.currentVideoID = videoID
	c.referenceDuration = duration
	c.bumpVersion()
}

// bumpVersion invalidates every enrichment started before. Callers hold c.mu.
func (c *Coordinator) bumpVersion() {
	c.version++
	c.attempt = attempt{}
}

func (c *Coordinator) snapshotState() domain.PlaybackState {
	s := c.state
	s.Metadata = c.state.Metadata.Clone()
	return s
}

// publish hands the current state to the sink. Callers hold c.mu.
func (c *Coordinator) publish() {
	c.sink.PublishPlayback(c.snapshotState())
}

// clamp bounds position and duration by the reference duration when known
func (c *Coordinator) clamp(position, duration float64) (float64, float64) {
	if position < 0 {
		position = 0
	}
	if c.referenceDuration > 0 {
		duration = c.referenceDuration
		if position > c.referenceDuration {
			position = c.referenceDuration
		}
	}
	return position, duration
}

func (c *Coordinator) lookupMemo(videoID string) (enrichment, bool) {
	if videoID == "" {
		return enrichment{}, false
	}
	if videoID == c.lastEnrichedVideoID {
		return c.lastEnriched, true
	}
	return c.memo.Get(videoID)
}

// applyEnrichment fills the fields meta lacks. It reports whether anything
// was added. Callers hold c.mu.
func (c *Coordinator) applyEnrichment(meta *domain.TrackMetadata, e enrichment) bool {
	added := false
	if meta != nil {
		if meta.MissingArtists() && len(e.Artists) > 0 {
			meta.Artists = append([]domain.Artist(nil), e.Artists...)
			added = true
		}
		if meta.MissingAlbum() && e.AlbumID != "" {
			meta.AlbumID = e.AlbumID
			added = true
		}
		if meta.CollectionType == "" && e.CollectionType != "" {
			meta.CollectionType = e.CollectionType
			added = true
		}
	}
	if e.Duration > 0 && e.Duration != c.referenceDuration {
		c.referenceDuration = e.Duration
		c.session.SetReferenceDuration(c.currentVideoID, e.Duration)
		added = true
	}
	return added
}

// applyContext seeds missing fields from the active play context. Album data
// of an album or playlist context applies to every track in the container;
// anything else only to the track the command targeted.
func (c *Coordinator) applyContext(meta *domain.TrackMetadata, videoID string) {
	pc := c.playContext
	if meta == nil || !pc.AppliesTo(videoID) {
		return
	}

	if meta.MissingAlbum() && pc.AlbumID != "" {
		meta.AlbumID = pc.AlbumID
		if meta.CollectionType == "" {
			switch pc.PlayMode {
			case domain.PlayModeAlbum:
				meta.CollectionType = domain.CollectionAlbum
			case domain.PlayModePlaylist:
				meta.CollectionType = domain.CollectionPlaylist
			}
		}
	}
	if meta.MissingArtists() && len(pc.Artists) > 0 && pc.VideoID == videoID {
		meta.Artists = append([]domain.Artist(nil), pc.Artists...)
	}
}

// shouldEnrich reports whether a lookup must start for the current version.
// A failed lookup is retried only after the retry interval.
func (c *Coordinator) shouldEnrich(meta *domain.TrackMetadata, videoID string) bool {
	if meta == nil || videoID == "" {
		return false
	}
	if !meta.MissingArtists() && !meta.MissingAlbum() {
		return false
	}

	a := c.attempt
	switch {
	case !a.started:
		return true
	case a.inFlight, a.succeeded:
		return false
	default:
		return c.now().Sub(a.failedAt) >= c.retryInterval
	}
}

// startEnrichment launches a background lookup tagged with the current
// version. Callers hold c.mu.
func (c *Coordinator) startEnrichment(videoID string, observed *domain.TrackMetadata) {
	version := c.version
	c.attempt = attempt{started: true, inFlight: true}

	c.logger.Debug("Enrichment started",
		zap.String("videoId", videoID),
		zap.Uint64("version", version),
		zap.Bool("missingArtists", observed.MissingArtists()),
		zap.Bool("missingAlbum", observed.MissingAlbum()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		v, err, shared := c.group.Do(videoID, func() (any, error) {
			return c.source.FetchTrackMetadata(c.ctx, videoID)
		})
		if shared {
			c.logger.Debug("Enrichment joined an in-flight lookup", zap.String("videoId", videoID))
		}

		var details *domain.TrackDetails
		if err == nil {
			details, _ = v.(*domain.TrackDetails)
		}
		c.completeEnrichment(videoID, version, observed, details, err)
	}()
}

// completeEnrichment applies a finished lookup if its version is still current
func (c *Coordinator) completeEnrichment(videoID string, version uint64, observed *domain.TrackMetadata, details *domain.TrackDetails, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version != c.version || videoID != c.currentVideoID {
		c.logger.Debug("Discarding stale enrichment",
			zap.String("videoId", videoID),
			zap.Uint64("version", version),
			zap.Uint64("currentVersion", c.version))
		return
	}

	if err != nil || details == nil {
		c.attempt.inFlight = false
		c.attempt.failedAt = c.now()
		if c.ctx.Err() == nil {
			c.logger.Warn("Enrichment failed, keeping observed metadata",
				zap.String("videoId", videoID),
				zap.Error(err))
		}
		return
	}

	c.attempt.inFlight = false
	c.attempt.succeeded = true

	e := enrichment{
		Artists:        append([]domain.Artist(nil), details.Artists...),
		AlbumID:        details.AlbumID,
		CollectionType: details.CollectionType,
		Duration:       details.DurationSeconds,
	}
	c.memo.Add(videoID, e)
	c.lastEnrichedVideoID = videoID
	c.lastEnriched = e

	meta := c.state.Metadata.Clone()
	if meta == nil {
		meta = observed.Clone()
	}
	changed := c.applyEnrichment(meta, e)
	c.state.Metadata = meta
	c.state.Position, c.state.Duration = c.clamp(c.state.Position, c.state.Duration)

	if !changed && !addsInformation(observed, meta) {
		c.logger.Debug("Enrichment added nothing new", zap.String("videoId", videoID))
		return
	}

	c.logger.Info("Track enriched",
		zap.String("videoId", videoID),
		zap.Int("artists", len(meta.Artists)),
		zap.String("albumId", meta.AlbumID),
		zap.Float64("referenceDuration", c.referenceDuration))
	c.publish()
}

// addsInformation reports whether enriched carries fields observed lacked
func addsInformation(observed, enriched *domain.TrackMetadata) bool {
	if observed == nil || enriched == nil {
		return enriched != nil
	}
	return (observed.MissingArtists() && !enriched.MissingArtists()) ||
		(observed.MissingAlbum() && !enriched.MissingAlbum()) ||
		(observed.CollectionType == "" && enriched.CollectionType != "")
}
