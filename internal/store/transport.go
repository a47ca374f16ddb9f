package store

import (
	"context"
	"errors"
	"sync"

	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
)

// Transport connects a window to the hub
type Transport interface {
	// Attach registers sink as the window's inbound side
	Attach(ctx context.Context, windowID string, sink hub.Sink) error
	RequestSync(ctx context.Context, payload domain.SyncPayload) error
	RequestHydration(ctx context.Context, storeName string) (domain.HydrationPayload, error)
	// Detach stops inbound delivery
	Detach() error
}

var errNotAttached = errors.New("store: transport not attached")

// LocalTransport talks to a hub living in the same process
type LocalTransport struct {
	hub *hub.Hub

	mu       sync.Mutex
	windowID string
}

// NewLocalTransport creates a transport over h
func NewLocalTransport(h *hub.Hub) *LocalTransport {
	return &LocalTransport{hub: h}
}

func (t *LocalTransport) Attach(_ context.Context, windowID string, sink hub.Sink) error {
	if err := t.hub.Register(windowID, sink); err != nil {
		return err
	}
	t.mu.Lock()
	t.windowID = windowID
	t.mu.Unlock()
	return nil
}

func (t *LocalTransport) RequestSync(_ context.Context, payload domain.SyncPayload) error {
	return t.hub.RequestSync(payload)
}

func (t *LocalTransport) RequestHydration(_ context.Context, storeName string) (domain.HydrationPayload, error) {
	return t.hub.RequestHydration(storeName), nil
}

func (t *LocalTransport) Detach() error {
	t.mu.Lock()
	id := t.windowID
	t.windowID = ""
	t.mu.Unlock()

	if id == "" {
		return errNotAttached
	}
	t.hub.Deregister(id)
	return nil
}
