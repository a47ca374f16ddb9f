package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"go.uber.org/zap"
)

// Reconciler is the part of the coordinator the engine drives
type Reconciler interface {
	HandleStateChange(snap domain.PlaybackSnapshot)
	SetPlayContext(pc domain.PlayContext)
	SetLoadingState(info domain.LoadingInfo)
}

// Engine orchestrates the playback pipeline.
// It feeds observer snapshots to the coordinator and routes play and
// transport commands to the media surface.
type Engine struct {
	logger   *zap.Logger
	baseURL  string
	observer domain.Observer
	surface  domain.MediaSurface
	coord    Reconciler

	done chan struct{}
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	cfg *config.AppConfig,
	obs domain.Observer,
	surface domain.MediaSurface,
	coord Reconciler,
) *Engine {
	return &Engine{
		logger:   logger,
		baseURL:  strings.TrimRight(cfg.MusicBaseURL, "/"),
		observer: obs,
		surface:  surface,
		coord:    coord,
		done:     make(chan struct{}),
	}
}

// Start launches the engine's event processing loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")
	go e.runLoop(ctx)
	return nil
}

// runLoop hands every accepted snapshot to the coordinator, one at a time
func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.done)
	events := e.observer.Events()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case snap, ok := <-events:
			if !ok {
				e.logger.Info("Observer events channel closed")
				return
			}
			if snap.Metadata != nil {
				e.logger.Debug("Snapshot received",
					zap.String("videoId", snap.Metadata.VideoID),
					zap.String("title", snap.Metadata.Title),
					zap.String("state", string(snap.PlaybackState)),
					zap.Float64("position", snap.Position))
			}
			e.coord.HandleStateChange(snap)
		}
	}
}

// Play records the command's context, publishes a loading state and
// navigates the surface to the track
func (e *Engine) Play(ctx context.Context, req domain.PlayRequest) error {
	if req.VideoID == "" {
		return fmt.Errorf("%w: play without video id", domain.ErrInvalidCommand)
	}

	pc := req.Context
	if pc.VideoID == "" {
		pc.VideoID = req.VideoID
	}
	if pc.PlayMode == "" {
		pc.PlayMode = domain.PlayModeSong
	}

	e.logger.Info("Play requested",
		zap.String("videoId", req.VideoID),
		zap.String("playlistId", req.PlaylistID),
		zap.String("mode", string(pc.PlayMode)))

	e.coord.SetPlayContext(pc)
	e.coord.SetLoadingState(domain.LoadingInfo{
		VideoID:  req.VideoID,
		Title:    req.Title,
		Artist:   req.Artist,
		Artwork:  req.Artwork,
		Duration: req.Duration,
	})

	target := WatchURL(e.baseURL, req.VideoID, req.PlaylistID)
	if err := e.surface.Open(ctx, target); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	return nil
}

// Command forwards a transport command to the surface
func (e *Engine) Command(ctx context.Context, cmd domain.Command) error {
	switch cmd.Action {
	case domain.ActionPlay, domain.ActionPause, domain.ActionNext, domain.ActionPrevious,
		domain.ActionShuffle, domain.ActionRepeat:
	case domain.ActionSeek:
		if cmd.Position < 0 {
			return fmt.Errorf("%w: negative seek position %.2f", domain.ErrInvalidCommand, cmd.Position)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidCommand, cmd.Action)
	}

	e.logger.Debug("Forwarding command",
		zap.String("action", string(cmd.Action)),
		zap.Float64("position", cmd.Position))

	if err := e.surface.Control(ctx, cmd); err != nil {
		return fmt.Errorf("failed to %s: %w", cmd.Action, err)
	}
	return nil
}

// Stop waits for the loop to exit
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WatchURL builds the page URL that plays videoID, inside playlistID when set
func WatchURL(base, videoID, playlistID string) string {
	u := base + "/watch?v=" + url.QueryEscape(videoID)
	if playlistID != "" {
		u += "&list=" + url.QueryEscape(playlistID)
	}
	return u
}
