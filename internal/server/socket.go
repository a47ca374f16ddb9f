package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/wire"
	"github.com/nrednav/cuid2"
	"go.uber.org/zap"
)

const (
	socketReadLimit = 4 << 20
	writeTimeout    = 5 * time.Second
)

// windowConn is one connected window. It is the window's hub sink.
type windowConn struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
	ctx    context.Context
}

func (c *windowConn) send(env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.String("type", env.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Debug("Write to window failed", zap.String("type", env.Type), zap.Error(err))
	}
}

func (c *windowConn) reply(typ, id string, data any) {
	env, err := wire.New(typ, id, data)
	if err != nil {
		c.send(wire.Failure(id, err))
		return
	}
	c.send(env)
}

func (c *windowConn) Sync(payload domain.SyncPayload) {
	c.reply(wire.TypeSync, "", payload)
}

func (c *windowConn) Playback(state domain.PlaybackState) {
	c.reply(wire.TypePlaybackState, "", state)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	windowID := r.URL.Query().Get("windowId")
	if windowID == "" {
		windowID = cuid2.Generate()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("WebSocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(socketReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &windowConn{
		id:     windowID,
		conn:   conn,
		logger: s.logger.With(zap.String("windowId", windowID)),
		ctx:    ctx,
	}

	if err := s.hub.Register(windowID, c); err != nil {
		c.logger.Warn("Window rejected", zap.Error(err))
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.hub.Deregister(windowID)

	c.reply(wire.TypeHello, "", wire.Hello{WindowID: windowID})
	c.reply(wire.TypePlaybackState, "", s.state.GetState())

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.logger.Debug("Window disconnected", zap.Error(err))
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.send(wire.Failure("", fmt.Errorf("invalid message format: %w", err)))
			continue
		}
		s.handleFrame(ctx, c, env)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *windowConn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeSync:
		var p domain.SyncPayload
		if err := env.Decode(&p); err != nil {
			c.send(wire.Failure(env.ID, err))
			return
		}
		// broadcast-all is reserved for in-process publishers
		p.OriginID = c.id
		if err := s.hub.RequestSync(p); err != nil {
			c.send(wire.Failure(env.ID, err))
		}

	case wire.TypeHydrate:
		var req wire.HydrateRequest
		if err := env.Decode(&req); err != nil {
			c.send(wire.Failure(env.ID, err))
			return
		}
		c.reply(wire.TypeHydration, env.ID, s.hub.RequestHydration(req.StoreName))

	case wire.TypePlaybackGet:
		c.reply(wire.TypePlaybackState, env.ID, s.state.GetState())

	case wire.TypeCommand:
		var cmd domain.Command
		if err := env.Decode(&cmd); err != nil {
			c.send(wire.Failure(env.ID, err))
			return
		}
		s.ack(c, env.ID, s.ctrl.Command(ctx, cmd))

	case wire.TypePlay:
		var req domain.PlayRequest
		if err := env.Decode(&req); err != nil {
			c.send(wire.Failure(env.ID, err))
			return
		}
		s.ack(c, env.ID, s.ctrl.Play(ctx, req))

	default:
		c.send(wire.Failure(env.ID, fmt.Errorf("unknown message type: %s", env.Type)))
	}
}

func (s *Server) ack(c *windowConn, id string, err error) {
	if err != nil {
		c.logger.Warn("Window command failed", zap.Error(err))
		c.send(wire.Failure(id, err))
		return
	}
	c.send(wire.Envelope{Type: wire.TypeAck, ID: id})
}
