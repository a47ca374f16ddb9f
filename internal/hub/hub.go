// Package hub replicates named key/value stores across windows and fans the
// canonical playback state out to them.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/domain"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrUnknownStore is returned for stores the hub has never seen
	ErrUnknownStore = errors.New("hub: unknown store")
	// ErrInvalidPayload is returned for sync payloads missing a store, key or valid JSON value
	ErrInvalidPayload = errors.New("hub: invalid sync payload")
	// ErrWindowExists is returned when a window id is already registered
	ErrWindowExists = errors.New("hub: window already registered")
)

const windowQueueSize = 64

// Sink receives what the hub delivers to one window
type Sink interface {
	Sync(payload domain.SyncPayload)
	Playback(state domain.PlaybackState)
}

type entry struct {
	value     json.RawMessage
	timestamp int64
}

type message struct {
	sync     *domain.SyncPayload
	playback *domain.PlaybackState
}

// window is a registered sink with its own delivery goroutine
type window struct {
	id    string
	sink  Sink
	queue chan message
	done  chan struct{}
}

func (w *window) run() {
	defer close(w.done)
	for m := range w.queue {
		switch {
		case m.sync != nil:
			w.sink.Sync(*m.sync)
		case m.playback != nil:
			w.sink.Playback(*m.playback)
		}
	}
}

// Hub holds the authoritative cache of every synced store
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	stores  map[string]map[string]entry
	windows map[string]*window

	warnMu          sync.Mutex
	lastDropWarning time.Time
}

// New creates an empty hub
func New(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		now:     time.Now,
		stores:  make(map[string]map[string]entry),
		windows: make(map[string]*window),
	}
}

// Register adds a window
func (h *Hub) Register(windowID string, sink Sink) error {
	if windowID == "" || windowID == domain.OriginBroadcastAll {
		return fmt.Errorf("invalid window id %q", windowID)
	}

	h.mu.Lock()
	if _, exists := h.windows[windowID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWindowExists, windowID)
	}
	w := &window{
		id:    windowID,
		sink:  sink,
		queue: make(chan message, windowQueueSize),
		done:  make(chan struct{}),
	}
	h.windows[windowID] = w
	count := len(h.windows)
	h.mu.Unlock()

	go w.run()

	h.logger.Info("Window registered",
		zap.String("windowId", windowID),
		zap.Int("windows", count))
	return nil
}

// Deregister removes a window and stops delivering to it
func (h *Hub) Deregister(windowID string) {
	h.mu.Lock()
	w, ok := h.windows[windowID]
	if ok {
		delete(h.windows, windowID)
		close(w.queue)
	}
	count := len(h.windows)
	h.mu.Unlock()

	if ok {
		h.logger.Info("Window deregistered",
			zap.String("windowId", windowID),
			zap.Int("windows", count))
	}
}

// Windows lists the registered window ids
func (h *Hub) Windows() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := lo.Keys(h.windows)
	sort.Strings(ids)
	return ids
}

// Stores lists the names of every store holding at least one key
func (h *Hub) Stores() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := lo.Keys(h.stores)
	sort.Strings(names)
	return names
}

// RequestSync stores payload.Value under payload.Key and republishes it to
// every window except the origin. OriginBroadcastAll excludes nobody.
func (h *Hub) RequestSync(payload domain.SyncPayload) error {
	if payload.StoreName == "" || payload.Key == "" || !json.Valid(payload.Value) {
		return fmt.Errorf("%w: store=%q key=%q", ErrInvalidPayload, payload.StoreName, payload.Key)
	}
	if payload.Timestamp == 0 {
		payload.Timestamp = h.now().UnixMilli()
	}
	payload.Value = append(json.RawMessage(nil), payload.Value...)

	h.mu.Lock()
	store, ok := h.stores[payload.StoreName]
	if !ok {
		store = make(map[string]entry)
		h.stores[payload.StoreName] = store
	}
	store[payload.Key] = entry{value: payload.Value, timestamp: payload.Timestamp}
	h.mu.Unlock()

	h.logger.Debug("Store key synced",
		zap.String("store", payload.StoreName),
		zap.String("key", payload.Key),
		zap.String("origin", payload.OriginID))

	h.fanOut(payload.OriginID, message{sync: &payload})
	return nil
}

// RequestHydration returns the full cached state of storeName. Unknown
// stores hydrate to an empty state.
func (h *Hub) RequestHydration(storeName string) domain.HydrationPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()

	store := h.stores[storeName]
	state := make(map[string]json.RawMessage, len(store))
	var latest int64
	for k, e := range store {
		state[k] = append(json.RawMessage(nil), e.value...)
		latest = max(latest, e.timestamp)
	}
	if latest == 0 {
		latest = h.now().UnixMilli()
	}

	return domain.HydrationPayload{
		StoreName: storeName,
		State:     state,
		Timestamp: latest,
	}
}

// ClearStore drops every cached key of a store
func (h *Hub) ClearStore(name string) error {
	h.mu.Lock()
	_, ok := h.stores[name]
	delete(h.stores, name)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	h.logger.Info("Store cleared", zap.String("store", name))
	return nil
}

// PublishPlayback delivers the canonical state to every window
func (h *Hub) PublishPlayback(state domain.PlaybackState) {
	h.fanOut(domain.OriginBroadcastAll, message{playback: &state})
}

// Close stops every window's delivery
func (h *Hub) Close() {
	h.mu.Lock()
	windows := lo.Values(h.windows)
	for _, w := range windows {
		close(w.queue)
	}
	h.windows = make(map[string]*window)
	h.mu.Unlock()

	for _, w := range windows {
		<-w.done
	}
}

// fanOut enqueues m for every window but origin without blocking
func (h *Hub) fanOut(origin string, m message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, w := range h.windows {
		if origin != domain.OriginBroadcastAll && id == origin {
			continue
		}
		select {
		case w.queue <- m:
		default:
			h.logDropWarning(id)
		}
	}
}

// logDropWarning is rate limited to one warning per 5 seconds
func (h *Hub) logDropWarning(windowID string) {
	h.warnMu.Lock()
	defer h.warnMu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(h.lastDropWarning) >= warningInterval {
		h.logger.Warn("Window queue full, dropping message", zap.String("windowId", windowID))
		h.lastDropWarning = now
	}
}
