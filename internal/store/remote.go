package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/genricoloni/playsync/internal/wire"
	"go.uber.org/zap"
)

const remoteReadLimit = 4 << 20

// RemoteTransport reaches the daemon's hub over its /ws endpoint
type RemoteTransport struct {
	endpoint string
	logger   *zap.Logger
	nextID   atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wire.Envelope
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRemoteTransport creates a transport for the ws:// endpoint of a daemon
func NewRemoteTransport(logger *zap.Logger, endpoint string) *RemoteTransport {
	return &RemoteTransport{
		endpoint: endpoint,
		logger:   logger,
		pending:  make(map[string]chan wire.Envelope),
	}
}

// Attach dials the daemon announcing windowID
func (t *RemoteTransport) Attach(ctx context.Context, windowID string, sink hub.Sink) error {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return fmt.Errorf("invalid hub endpoint: %w", err)
	}
	q := u.Query()
	q.Set("windowId", windowID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial hub %s: %w", t.endpoint, err)
	}
	conn.SetReadLimit(remoteReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, conn, sink, done)
	return nil
}

func (t *RemoteTransport) RequestSync(ctx context.Context, payload domain.SyncPayload) error {
	env, err := wire.New(wire.TypeSync, "", payload)
	if err != nil {
		return err
	}
	return t.write(ctx, env)
}

func (t *RemoteTransport) RequestHydration(ctx context.Context, storeName string) (domain.HydrationPayload, error) {
	var out domain.HydrationPayload
	reply, err := t.call(ctx, wire.TypeHydrate, wire.HydrateRequest{StoreName: storeName})
	if err != nil {
		return out, err
	}
	if reply.Type != wire.TypeHydration {
		return out, fmt.Errorf("unexpected %s reply to hydrate", reply.Type)
	}
	if err := reply.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// PlaybackState asks the daemon for the current canonical state
func (t *RemoteTransport) PlaybackState(ctx context.Context) (domain.PlaybackState, error) {
	var out domain.PlaybackState
	reply, err := t.call(ctx, wire.TypePlaybackGet, nil)
	if err != nil {
		return out, err
	}
	if err := reply.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func (t *RemoteTransport) Command(ctx context.Context, cmd domain.Command) error {
	_, err := t.call(ctx, wire.TypeCommand, cmd)
	return err
}

func (t *RemoteTransport) Play(ctx context.Context, req domain.PlayRequest) error {
	_, err := t.call(ctx, wire.TypePlay, req)
	return err
}

// Detach closes the socket
func (t *RemoteTransport) Detach() error {
	t.mu.Lock()
	conn, cancel, done := t.conn, t.cancel, t.done
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return errNotAttached
	}
	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Debug("Hub close handshake failed", zap.Error(err))
	}
	return nil
}

func (t *RemoteTransport) call(ctx context.Context, typ string, data any) (wire.Envelope, error) {
	id := strconv.FormatUint(t.nextID.Add(1), 10)
	env, err := wire.New(typ, id, data)
	if err != nil {
		return wire.Envelope{}, err
	}

	ch := make(chan wire.Envelope, 1)
	t.mu.Lock()
	done := t.done
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(ctx, env); err != nil {
		return wire.Envelope{}, err
	}

	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case <-done:
		return wire.Envelope{}, errNotAttached
	case reply := <-ch:
		if reply.Type == wire.TypeError {
			return reply, fmt.Errorf("%s: %s", typ, reply.Error)
		}
		return reply, nil
	}
}

func (t *RemoteTransport) write(ctx context.Context, env wire.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errNotAttached
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", env.Type, err)
	}
	return nil
}

func (t *RemoteTransport) readLoop(ctx context.Context, conn *websocket.Conn, sink hub.Sink, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("Hub connection lost", zap.Error(err))
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Debug("Ignoring malformed hub frame", zap.Error(err))
			continue
		}

		if env.ID != "" {
			t.mu.Lock()
			ch, ok := t.pending[env.ID]
			t.mu.Unlock()
			if ok {
				select {
				case ch <- env:
				default:
				}
				continue
			}
		}

		t.dispatch(env, sink)
	}
}

func (t *RemoteTransport) dispatch(env wire.Envelope, sink hub.Sink) {
	switch env.Type {
	case wire.TypeSync:
		var p domain.SyncPayload
		if err := env.Decode(&p); err != nil {
			t.logger.Debug("Ignoring sync frame", zap.Error(err))
			return
		}
		sink.Sync(p)
	case wire.TypePlaybackState:
		var st domain.PlaybackState
		if err := env.Decode(&st); err != nil {
			t.logger.Debug("Ignoring playback frame", zap.Error(err))
			return
		}
		sink.Playback(st)
	case wire.TypeHello:
		t.logger.Debug("Hub greeted window", zap.ByteString("data", env.Data))
	case wire.TypeError:
		t.logger.Warn("Hub reported an error", zap.String("error", env.Error))
	}
}
