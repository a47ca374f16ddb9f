package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/genricoloni/playsync/internal/store"
	"github.com/genricoloni/playsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeState struct {
	state domain.PlaybackState
}

func (f *fakeState) GetState() domain.PlaybackState { return f.state }

type fakeController struct {
	mu       sync.Mutex
	commands []domain.Command
	plays    []domain.PlayRequest
	err      error
}

func (f *fakeController) Command(_ context.Context, cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.err
}

func (f *fakeController) Play(_ context.Context, req domain.PlayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	return f.err
}

type fixture struct {
	hub  *hub.Hub
	ctrl *fakeController
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	h := hub.New(zap.NewNop())
	t.Cleanup(h.Close)

	state := &fakeState{state: domain.PlaybackState{
		Metadata:      &domain.TrackMetadata{VideoID: "abc123", Title: "T"},
		PlaybackState: domain.StatusPlaying,
		Position:      12,
		Duration:      200,
	}}
	ctrl := &fakeController{}
	cfg := &config.AppConfig{Settings: *config.Default()}

	srv := New(zap.NewNop(), cfg, h, state, ctrl)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{hub: h, ctrl: ctrl, http: ts}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, env wire.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func TestSocket_HelloAndInitialState(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.Dial(context.Background(), f.wsURL()+"?windowId=w1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, conn)
	require.Equal(t, wire.TypeHello, hello.Type)
	var h wire.Hello
	require.NoError(t, hello.Decode(&h))
	assert.Equal(t, "w1", h.WindowID)

	state := readFrame(t, conn)
	require.Equal(t, wire.TypePlaybackState, state.Type)
	var st domain.PlaybackState
	require.NoError(t, state.Decode(&st))
	assert.Equal(t, "abc123", st.Metadata.VideoID)

	require.Eventually(t, func() bool { return len(f.hub.Windows()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSocket_UnknownTypeAndMalformedFrame(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.Dial(context.Background(), f.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readFrame(t, conn)
	readFrame(t, conn)

	writeFrame(t, conn, wire.Envelope{Type: "bogus", ID: "7"})
	reply := readFrame(t, conn)
	assert.Equal(t, wire.TypeError, reply.Type)
	assert.Equal(t, "7", reply.ID)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("{")))
	reply = readFrame(t, conn)
	assert.Equal(t, wire.TypeError, reply.Type)
}

func TestSocket_DuplicateWindowRejected(t *testing.T) {
	f := newFixture(t)

	first, _, err := websocket.Dial(context.Background(), f.wsURL()+"?windowId=dup", nil)
	require.NoError(t, err)
	defer first.Close(websocket.StatusNormalClosure, "")
	readFrame(t, first)

	second, _, err := websocket.Dial(context.Background(), f.wsURL()+"?windowId=dup", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = second.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestRemoteWindows_SyncAndHydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := store.NewWindow(ctx, zap.NewNop(), store.NewRemoteTransport(zap.NewNop(), f.wsURL()))
	defer a.Close()
	b := store.NewWindow(ctx, zap.NewNop(), store.NewRemoteTransport(zap.NewNop(), f.wsURL()))
	defer b.Close()

	sa, err := a.Store(ctx, "likes", nil, "abc123")
	require.NoError(t, err)
	sb, err := b.Store(ctx, "likes", nil, "abc123")
	require.NoError(t, err)

	require.NoError(t, sa.Set(ctx, "abc123", "LIKE"))

	require.Eventually(t, func() bool {
		var v string
		return sb.Get("abc123", &v) == nil && v == "LIKE"
	}, time.Second, 5*time.Millisecond)

	late := store.NewWindow(ctx, zap.NewNop(), store.NewRemoteTransport(zap.NewNop(), f.wsURL()))
	defer late.Close()
	sl, err := late.Store(ctx, "likes", nil, "abc123")
	require.NoError(t, err)

	var v string
	require.NoError(t, sl.Get("abc123", &v))
	assert.Equal(t, "LIKE", v)
}

func TestSocket_SyncNeverEchoesToSender(t *testing.T) {
	f := newFixture(t)

	sender, _, err := websocket.Dial(context.Background(), f.wsURL()+"?windowId=w1", nil)
	require.NoError(t, err)
	defer sender.Close(websocket.StatusNormalClosure, "")
	readFrame(t, sender)
	readFrame(t, sender)

	peer, _, err := websocket.Dial(context.Background(), f.wsURL()+"?windowId=w2", nil)
	require.NoError(t, err)
	defer peer.Close(websocket.StatusNormalClosure, "")
	readFrame(t, peer)
	readFrame(t, peer)

	env, err := wire.New(wire.TypeSync, "", domain.SyncPayload{
		StoreName: "prefs", Key: "volume", Value: json.RawMessage("3"), OriginID: domain.OriginBroadcastAll,
	})
	require.NoError(t, err)
	writeFrame(t, sender, env)

	got := readFrame(t, peer)
	require.Equal(t, wire.TypeSync, got.Type)
	var p domain.SyncPayload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "w1", p.OriginID)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err = sender.Read(ctx)
	assert.Error(t, err, "sender must not receive its own update")
}

func TestRemoteWindow_PlaybackAndCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := store.NewRemoteTransport(zap.NewNop(), f.wsURL())
	w := store.NewWindow(ctx, zap.NewNop(), tr)
	defer w.Close()

	require.Eventually(t, func() bool {
		return w.PlaybackState().PlaybackState == domain.StatusPlaying
	}, time.Second, 5*time.Millisecond)

	f.hub.PublishPlayback(domain.PlaybackState{PlaybackState: domain.StatusPaused, Position: 3})
	require.Eventually(t, func() bool {
		return w.PlaybackState().PlaybackState == domain.StatusPaused
	}, time.Second, 5*time.Millisecond)

	st, err := tr.PlaybackState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.0, st.Position)

	require.NoError(t, w.Command(ctx, domain.Command{Action: domain.ActionNext}))
	require.NoError(t, w.Play(ctx, domain.PlayRequest{VideoID: "abc123"}))

	f.ctrl.mu.Lock()
	assert.Equal(t, []domain.Command{{Action: domain.ActionNext}}, f.ctrl.commands)
	assert.Len(t, f.ctrl.plays, 1)
	f.ctrl.mu.Unlock()

	f.ctrl.mu.Lock()
	f.ctrl.err = errors.New("surface gone")
	f.ctrl.mu.Unlock()
	assert.Error(t, w.Command(ctx, domain.Command{Action: domain.ActionPause}))
}

func TestREST_State(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st domain.PlaybackState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 200.0, st.Duration)
}

func TestREST_Stores(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.RequestSync(domain.SyncPayload{
		StoreName: "prefs", Key: "volume", Value: json.RawMessage("0.5"), OriginID: "x",
	}))

	resp, err := http.Get(f.http.URL + "/api/stores/prefs")
	require.NoError(t, err)
	var hyd domain.HydrationPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hyd))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "0.5", string(hyd.State["volume"]))

	resp, err = http.Get(f.http.URL + "/api/stores/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, f.http.URL+"/api/stores/prefs", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestREST_CommandAndPlay(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		ctrlErr    error
		wantStatus int
	}{
		{"command", "/api/command", `{"action":"pause"}`, nil, http.StatusAccepted},
		{"play", "/api/play", `{"videoId":"abc123","context":{"playMode":"ALBUM","albumId":"MPREb_1"}}`, nil, http.StatusAccepted},
		{"malformed", "/api/command", `{`, nil, http.StatusBadRequest},
		{"rejected", "/api/command", `{"action":"rewind"}`, domain.ErrInvalidCommand, http.StatusBadRequest},
		{"surface failure", "/api/play", `{"videoId":"x"}`, errors.New("no page"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ctrl.err = tt.ctrlErr

			resp, err := http.Post(f.http.URL+tt.path, "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_StartStop(t *testing.T) {
	h := hub.New(zap.NewNop())
	defer h.Close()
	cfg := &config.AppConfig{Settings: *config.Default()}
	cfg.ListenAddr = "127.0.0.1:0"

	srv := New(zap.NewNop(), cfg, h, &fakeState{}, &fakeController{})
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}
