// Package observer turns the music web app's page into a stream of
// deduplicated, transition-guarded playback snapshots.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/dedup"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/session"
	"github.com/genricoloni/playsync/internal/transition"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// trackEndMargin is how close to the reference duration a track counts as ended
const trackEndMargin = 0.5

// runner is implemented by surfaces that maintain their own connection
type runner interface {
	Run(ctx context.Context) error
}

// Observer polls the media surface and emits accepted snapshots
type Observer struct {
	logger  *zap.Logger
	surface domain.MediaSurface
	session *session.Session

	mode          string
	interval      time.Duration
	navTimeout    time.Duration
	debounceDelay time.Duration

	// tick state, owned by the run loop
	dedup *dedup.Deduplicator
	guard *transition.Guard
	prev  *domain.PlaybackSnapshot
	now   func() time.Time

	debouncer *dedup.Debouncer
	events    chan domain.PlaybackSnapshot

	mu              sync.Mutex
	running         bool
	closed          bool
	lastDropWarning time.Time
}

// New creates an observer for surface. The session carries navigation and
// first-state flags and the reference duration published by the coordinator.
func New(logger *zap.Logger, cfg *config.AppConfig, surface domain.MediaSurface, sess *session.Session) *Observer {
	interval := cfg.PollInterval
	if cfg.ObserverMode == config.ModeEvents {
		interval = cfg.MetadataPollInterval
	}

	o := &Observer{
		logger:        logger,
		surface:       surface,
		session:       sess,
		mode:          cfg.ObserverMode,
		interval:      interval,
		navTimeout:    cfg.NavigationTimeout,
		debounceDelay: dedup.Debounce,
		dedup:         dedup.New(),
		guard:         transition.New(),
		now:           time.Now,
		events:        make(chan domain.PlaybackSnapshot, 10),
	}
	o.debouncer = dedup.NewDebouncer(o.debounceDelay, o.deliver)
	return o
}

// Events returns a read-only channel of accepted snapshots
func (o *Observer) Events() <-chan domain.PlaybackSnapshot {
	return o.events
}

// Start observes until ctx is cancelled. The events channel is closed on return.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.mu.Unlock()

	o.logger.Info("Playback observer started",
		zap.String("mode", o.mode),
		zap.Duration("interval", o.interval))

	g, gctx := errgroup.WithContext(ctx)
	if r, ok := o.surface.(runner); ok {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error {
		o.loop(gctx)
		return nil
	})

	err := g.Wait()
	o.shutdown()

	o.logger.Info("Playback observer stopped")
	return err
}

func (o *Observer) shutdown() {
	o.debouncer.Stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

func (o *Observer) loop(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	surfaceEvents := o.surface.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			o.tick(ctx)

		case ev, ok := <-surfaceEvents:
			if !ok {
				surfaceEvents = nil
				continue
			}
			o.handleSurfaceEvent(ctx, ev)
		}
	}
}

func (o *Observer) handleSurfaceEvent(ctx context.Context, ev domain.SurfaceEvent) {
	switch ev.Type {
	case domain.SurfaceNavigationStarted:
		o.session.BeginNavigation(o.now())
		o.logger.Debug("Navigation started, suppressing snapshots")

	case domain.SurfaceLoadCompleted:
		if nav, _ := o.session.Navigating(); nav {
			o.session.EndNavigation()
			o.logger.Debug("Navigation completed")
		}

	case domain.SurfaceMediaEvent:
		if o.mode == config.ModeEvents {
			o.tick(ctx)
		}
	}
}

// tick recomputes the state from scratch and runs it through the pipeline
func (o *Observer) tick(ctx context.Context) {
	probe, err := o.surface.Probe(ctx)
	if err != nil {
		o.logger.Debug("Probe failed", zap.Error(err))
		return
	}
	if probe == nil {
		return
	}

	video, ok := SelectVideo(probe.Videos)
	if !ok {
		return
	}

	now := o.now()
	if o.navigationBlocked(video, now) {
		return
	}

	if o.prev != nil {
		CarryVideoID(probe, o.prev.Metadata)
	}
	snap := BuildSnapshot(probe, video)
	if snap == nil {
		return
	}

	o.checkTrackEnded(ctx, *snap)

	if !o.session.InitialEmitted() {
		if snap.PlaybackState != domain.StatusPlaying && !IsDeepLink(probe.URL) {
			return
		}
		o.session.MarkInitialEmitted()
	}

	if !o.dedup.ShouldEmit(o.prev, *snap, now) {
		return
	}
	o.prev = snap
	o.dedup.MarkEmitted(now)

	o.debouncer.Push(o.guard.Apply(*snap))
}

// navigationBlocked reports whether snapshots are still suppressed, releasing
// the block once the video plays or the safety timeout expires
func (o *Observer) navigationBlocked(video domain.VideoElement, now time.Time) bool {
	nav, since := o.session.Navigating()
	if !nav {
		return false
	}

	if !video.Paused && !video.Ended && video.CurrentTime > 0 {
		o.session.EndNavigation()
		o.logger.Debug("Navigation block released, playback started")
		return false
	}
	if now.Sub(since) >= o.navTimeout {
		o.session.EndNavigation()
		o.logger.Debug("Navigation block released after timeout", zap.Duration("timeout", o.navTimeout))
		return false
	}
	return true
}

// checkTrackEnded advances the queue when the surface fails to do it itself
func (o *Observer) checkTrackEnded(ctx context.Context, snap domain.PlaybackSnapshot) {
	videoID := snap.VideoID()
	if videoID == "" {
		return
	}

	ref := o.session.ReferenceDuration(videoID)
	if ref <= 0 || snap.Position < ref-trackEndMargin {
		return
	}
	if !o.session.TryForceEnd(videoID) {
		return
	}

	o.logger.Info("Track reached its reference duration, forcing next",
		zap.String("videoId", videoID),
		zap.Float64("position", snap.Position),
		zap.Float64("referenceDuration", ref))

	if err := o.surface.Control(ctx, domain.Command{Action: domain.ActionNext}); err != nil {
		o.logger.Warn("Failed to force next track", zap.Error(err))
	}
}

// deliver hands a debounced snapshot to the consumer without blocking
func (o *Observer) deliver(snap domain.PlaybackSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	select {
	case o.events <- snap:
		o.logger.Debug("Snapshot emitted",
			zap.String("videoId", snap.VideoID()),
			zap.String("state", string(snap.PlaybackState)),
			zap.Float64("position", snap.Position))
	default:
		o.logChannelFullWarning()
	}
}

// logChannelFullWarning is rate limited to one warning per 5 seconds.
// Callers hold o.mu.
func (o *Observer) logChannelFullWarning() {
	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(o.lastDropWarning) >= warningInterval {
		o.logger.Warn("Snapshot channel full, dropping snapshot")
		o.lastDropWarning = now
	}
}
