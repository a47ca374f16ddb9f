// Package store is the window side of cross-window sync: named key/value
// stores whose opted-in keys replicate through the hub.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/domain"
	"go.uber.org/zap"
)

// ErrUnknownKey is returned by Get for keys the store has no value for
var ErrUnknownKey = errors.New("store: unknown key")

// Listener is called after a key changes, locally or from another window.
// A Set made with ctx while handling an update from another window stays local.
type Listener func(ctx context.Context, key string, value json.RawMessage)

type externalKey struct{}

// external marks ctx as carrying an update applied from the hub
func external(ctx context.Context) context.Context {
	return context.WithValue(ctx, externalKey{}, true)
}

func isExternal(ctx context.Context) bool {
	v, _ := ctx.Value(externalKey{}).(bool)
	return v
}

// Store is one named store inside a window. Only keys listed as synced ever
// leave the window.
type Store struct {
	name      string
	origin    string
	logger    *zap.Logger
	transport Transport
	synced    map[string]struct{}
	now       func() time.Time

	mu           sync.Mutex
	values       map[string]json.RawMessage
	listeners    map[int]Listener
	nextListener int
}

func newStore(logger *zap.Logger, transport Transport, origin, name string, defaults map[string]any, synced []string) (*Store, error) {
	s := &Store{
		name:      name,
		origin:    origin,
		logger:    logger.With(zap.String("store", name)),
		transport: transport,
		synced:    make(map[string]struct{}, len(synced)),
		now:       time.Now,
		values:    make(map[string]json.RawMessage, len(defaults)),
		listeners: make(map[int]Listener),
	}
	for _, k := range synced {
		s.synced[k] = struct{}{}
	}
	for k, v := range defaults {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid default for %s.%s: %w", name, k, err)
		}
		s.values[k] = raw
	}
	return s, nil
}

// Name returns the store name
func (s *Store) Name() string {
	return s.name
}

// Synced reports whether key participates in cross-window sync
func (s *Store) Synced(key string) bool {
	_, ok := s.synced[key]
	return ok
}

// Set stores value under key and, for synced keys, publishes it to the hub
// unless ctx descends from a listener call for an external update.
// A failed publish is logged and the local value kept.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s.%s: %w", s.name, key, err)
	}

	s.mu.Lock()
	s.values[key] = raw
	publish := s.Synced(key) && !isExternal(ctx)
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(ctx, listeners, key, raw)

	if !publish {
		return nil
	}

	err = s.transport.RequestSync(ctx, domain.SyncPayload{
		StoreName: s.name,
		Key:       key,
		Value:     raw,
		OriginID:  s.origin,
		Timestamp: s.now().UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("Sync failed, keeping local value", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Get decodes the value of key into out
func (s *Store) Get(key string, out any) error {
	raw, ok := s.Raw(key)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownKey, s.name, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s.%s: %w", s.name, key, err)
	}
	return nil
}

// Raw returns the encoded value of key
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(raw), true
}

// Keys lists every key with a value, sorted
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.values))
}

// Subscribe registers fn for every change and returns its cancel func
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// hydrate replaces synced keys with the hub's cache. Failure keeps defaults.
func (s *Store) hydrate(ctx context.Context) {
	payload, err := s.transport.RequestHydration(ctx, s.name)
	if err != nil {
		s.logger.Warn("Hydration failed, using local state", zap.Error(err))
		return
	}
	s.applyExternal(ctx, payload.State)
	s.logger.Debug("Store hydrated", zap.Int("keys", len(payload.State)))
}

// applyExternal writes values that came from the hub. Listeners get a
// context marked external, so a Set they make with it stays local.
func (s *Store) applyExternal(ctx context.Context, values map[string]json.RawMessage) {
	s.mu.Lock()
	applied := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		if !s.Synced(k) {
			continue
		}
		s.values[k] = slices.Clone(v)
		applied[k] = s.values[k]
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	ctx = external(ctx)
	for _, k := range slices.Sorted(maps.Keys(applied)) {
		notify(ctx, listeners, k, applied[k])
	}
}

func (s *Store) snapshotListeners() []Listener {
	ids := slices.Sorted(maps.Keys(s.listeners))
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

func notify(ctx context.Context, listeners []Listener, key string, value json.RawMessage) {
	for _, fn := range listeners {
		fn(ctx, key, slices.Clone(value))
	}
}
