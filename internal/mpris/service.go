package mpris

import (
	"context"
	"sync"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/genricoloni/playsync/internal/store"
	"go.uber.org/zap"
)

// Service owns the media session and the hub window that feeds it
type Service struct {
	logger  *zap.Logger
	enabled bool
	hub     *hub.Hub
	state   domain.StateProvider
	ctrl    domain.Controller
	art     Thumbnailer

	mu     sync.Mutex
	window *store.Window
	player *Player
	closer func() error
}

// NewService creates the MPRIS service; nothing touches the bus until Start
func NewService(logger *zap.Logger, cfg *config.AppConfig, h *hub.Hub, state domain.StateProvider, ctrl domain.Controller, art Thumbnailer) *Service {
	return &Service{
		logger:  logger.Named("mpris"),
		enabled: cfg.MPRISEnabled,
		hub:     h,
		state:   state,
		ctrl:    ctrl,
		art:     art,
	}
}

// attach joins the hub as a window and seeds the player with the current state
func (s *Service) attach(ctx context.Context, emitter Emitter) *Player {
	p := NewPlayer(s.logger, s.ctrl, s.art, emitter)
	w := store.NewWindow(ctx, s.logger, store.NewLocalTransport(s.hub))
	w.OnPlayback(p.Update)
	p.Update(s.state.GetState())

	s.mu.Lock()
	s.window = w
	s.player = p
	s.mu.Unlock()
	return p
}

func (s *Service) detach() error {
	s.mu.Lock()
	w, p, closer := s.window, s.player, s.closer
	s.window, s.player, s.closer = nil, nil, nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	p.Wait()
	if closer != nil {
		if cerr := closer(); err == nil {
			err = cerr
		}
	}
	return err
}
