package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/genricoloni/playsync/internal/domain"
	"github.com/nrednav/cuid2"
	"go.uber.org/zap"
)

// ErrNoController is returned when the window's transport cannot carry commands
var ErrNoController = errors.New("store: transport does not accept commands")

// Window owns the stores of one UI window and a read-only mirror of the
// canonical playback state.
type Window struct {
	id        string
	logger    *zap.Logger
	transport Transport

	mu        sync.RWMutex
	stores    map[string]*Store
	playback  domain.PlaybackState
	listeners []func(domain.PlaybackState)
}

// NewWindow attaches a new window to the hub through transport. When the hub
// cannot be reached the window still works with local-only stores.
func NewWindow(ctx context.Context, logger *zap.Logger, transport Transport) *Window {
	id := cuid2.Generate()
	w := &Window{
		id:        id,
		logger:    logger.With(zap.String("windowId", id)),
		transport: transport,
		stores:    make(map[string]*Store),
		playback:  domain.PlaybackState{PlaybackState: domain.StatusNone},
	}

	if err := transport.Attach(ctx, id, w); err != nil {
		w.logger.Warn("Hub unavailable, stores stay local", zap.Error(err))
	}
	return w
}

// ID returns the window's origin id
func (w *Window) ID() string {
	return w.id
}

// Store creates the named store, seeds it with defaults and hydrates its
// synced keys from the hub.
func (w *Window) Store(ctx context.Context, name string, defaults map[string]any, synced ...string) (*Store, error) {
	s, err := newStore(w.logger, w.transport, w.id, name, defaults, synced)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if _, exists := w.stores[name]; exists {
		w.mu.Unlock()
		return nil, fmt.Errorf("store %q already exists", name)
	}
	w.stores[name] = s
	w.mu.Unlock()

	s.hydrate(ctx)
	return s, nil
}

// Sync applies an update published by another window
func (w *Window) Sync(payload domain.SyncPayload) {
	if payload.OriginID == w.id {
		return
	}

	w.mu.RLock()
	s := w.stores[payload.StoreName]
	w.mu.RUnlock()

	if s == nil {
		w.logger.Debug("Sync for unknown store ignored", zap.String("store", payload.StoreName))
		return
	}
	s.applyExternal(context.Background(), map[string]json.RawMessage{payload.Key: payload.Value})
}

// Playback updates the playback mirror
func (w *Window) Playback(state domain.PlaybackState) {
	w.mu.Lock()
	w.playback = state
	listeners := append([]func(domain.PlaybackState){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// PlaybackState returns the last canonical state received
func (w *Window) PlaybackState() domain.PlaybackState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.playback
}

// OnPlayback registers fn for every canonical state received
func (w *Window) OnPlayback(fn func(domain.PlaybackState)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Command forwards a transport command when the transport carries commands
func (w *Window) Command(ctx context.Context, cmd domain.Command) error {
	ctrl, ok := w.transport.(domain.Controller)
	if !ok {
		return ErrNoController
	}
	return ctrl.Command(ctx, cmd)
}

// Play forwards a play command when the transport carries commands
func (w *Window) Play(ctx context.Context, req domain.PlayRequest) error {
	ctrl, ok := w.transport.(domain.Controller)
	if !ok {
		return ErrNoController
	}
	return ctrl.Play(ctx, req)
}

// Close detaches the window from the hub
func (w *Window) Close() error {
	return w.transport.Detach()
}
