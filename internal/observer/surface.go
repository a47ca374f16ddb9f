package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/genricoloni/playsync/internal/cdp"
	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"go.uber.org/zap"
)

// ErrNoPage is returned while no page target is attached
var ErrNoPage = errors.New("observer: no page attached")

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
	surfaceEventBuf = 64
)

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// CDPSurface drives the music web app through the Chrome DevTools Protocol
type CDPSurface struct {
	logger    *zap.Logger
	endpoint  string
	musicHost string

	mu        sync.RWMutex
	client    *cdp.Client
	sessionID string
	targetID  string

	events chan domain.SurfaceEvent
}

// NewCDPSurface creates a surface that attaches to the browser at cfg.DevToolsURL
func NewCDPSurface(logger *zap.Logger, cfg *config.AppConfig) *CDPSurface {
	host := ""
	if u, err := url.Parse(cfg.MusicBaseURL); err == nil {
		host = u.Host
	}
	return &CDPSurface{
		logger:    logger,
		endpoint:  cfg.DevToolsURL,
		musicHost: host,
		events:    make(chan domain.SurfaceEvent, surfaceEventBuf),
	}
}

// Run keeps a DevTools session attached to the player page until ctx is done
func (s *CDPSurface) Run(ctx context.Context) error {
	for {
		var client *cdp.Client
		err := retry.New(
			retry.Attempts(connectAttempts),
			retry.Delay(connectDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		).Do(func() error {
			c, err := s.attach(ctx)
			if err != nil {
				s.logger.Debug("DevTools attach failed", zap.Error(err))
				return err
			}
			client = c
			return nil
		})

		if ctx.Err() != nil {
			if client != nil {
				_ = client.Close()
			}
			return nil
		}
		if err != nil {
			s.logger.Warn("Could not attach to the player page, retrying",
				zap.String("endpoint", s.endpoint),
				zap.Error(err))
			continue
		}

		s.pump(ctx, client)
		s.detach()
		_ = client.Close()

		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("DevTools session ended, reattaching")
	}
}

// attach dials the browser, attaches to the player page and installs the bootstrap script
func (s *CDPSurface) attach(ctx context.Context) (*cdp.Client, error) {
	client, err := cdp.Dial(ctx, s.endpoint, s.logger)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*cdp.Client, error) {
		_ = client.Close()
		return nil, err
	}

	var targets struct {
		TargetInfos []targetInfo `json:"targetInfos"`
	}
	if err := client.Call(ctx, "", "Target.getTargets", nil, &targets); err != nil {
		return fail(fmt.Errorf("failed to list targets: %w", err))
	}

	target, ok := s.pickTarget(targets.TargetInfos)
	if !ok {
		return fail(ErrNoPage)
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := client.Call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": target.TargetID,
		"flatten":  true,
	}, &attached); err != nil {
		return fail(fmt.Errorf("failed to attach to %s: %w", target.TargetID, err))
	}
	if attached.SessionID == "" {
		return fail(errors.New("attach returned no session id"))
	}

	session := attached.SessionID
	steps := []struct {
		method string
		params any
	}{
		{"Runtime.addBinding", map[string]any{"name": bindingName}},
		{"Runtime.enable", nil},
		{"Page.enable", nil},
		{"Page.addScriptToEvaluateOnNewDocument", map[string]any{"source": bootstrapScript}},
		{"Runtime.evaluate", map[string]any{"expression": bootstrapScript}},
	}
	for _, step := range steps {
		if err := client.Call(ctx, session, step.method, step.params, nil); err != nil {
			return fail(fmt.Errorf("session setup %s: %w", step.method, err))
		}
	}

	s.mu.Lock()
	s.client = client
	s.sessionID = session
	s.targetID = target.TargetID
	s.mu.Unlock()

	s.logger.Info("Attached to player page",
		zap.String("targetId", target.TargetID),
		zap.String("url", target.URL))
	return client, nil
}

// pickTarget prefers a page already showing the music app
func (s *CDPSurface) pickTarget(targets []targetInfo) (targetInfo, bool) {
	var first *targetInfo
	for i := range targets {
		t := targets[i]
		if t.Type != "page" || t.TargetID == "" {
			continue
		}
		if s.musicHost != "" && strings.Contains(t.URL, s.musicHost) {
			return t, true
		}
		if first == nil {
			first = &targets[i]
		}
	}
	if first == nil {
		return targetInfo{}, false
	}
	return *first, true
}

func (s *CDPSurface) detach() {
	s.mu.Lock()
	s.client = nil
	s.sessionID = ""
	s.targetID = ""
	s.mu.Unlock()
}

func (s *CDPSurface) current() (*cdp.Client, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.sessionID, s.targetID
}

// pump translates DevTools events for the attached page until the session ends
func (s *CDPSurface) pump(ctx context.Context, client *cdp.Client) {
	_, session, target := s.current()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}

			var params map[string]any
			if len(ev.Params) > 0 {
				_ = json.Unmarshal(ev.Params, &params)
			}

			switch ev.Method {
			case "Runtime.bindingCalled":
				if ev.SessionID != session {
					continue
				}
				name, _ := params["name"].(string)
				payload, _ := params["payload"].(string)
				if name == bindingName && payload != "" {
					s.emit(domain.SurfaceEvent{Type: domain.SurfaceMediaEvent, Name: payload})
				}

			case "Page.frameStartedLoading":
				// The main frame shares its id with the target
				frameID, _ := params["frameId"].(string)
				if ev.SessionID == session && frameID == target {
					s.emit(domain.SurfaceEvent{Type: domain.SurfaceNavigationStarted})
				}

			case "Page.loadEventFired":
				if ev.SessionID == session {
					s.emit(domain.SurfaceEvent{Type: domain.SurfaceLoadCompleted})
				}

			case "Target.detachedFromTarget":
				if id, _ := params["sessionId"].(string); id == session {
					s.logger.Info("Detached from player page")
					return
				}

			case "Target.targetDestroyed":
				if id, _ := params["targetId"].(string); id == target {
					s.logger.Info("Player page closed")
					return
				}
			}
		}
	}
}

func (s *CDPSurface) emit(ev domain.SurfaceEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Surface event dropped", zap.String("type", string(ev.Type)))
	}
}

// Events returns navigation and media element notifications
func (s *CDPSurface) Events() <-chan domain.SurfaceEvent {
	return s.events
}

func (s *CDPSurface) evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	client, session, _ := s.current()
	if client == nil {
		return nil, ErrNoPage
	}

	var res evaluateResult
	if err := client.Call(ctx, session, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("page script failed: %s", res.ExceptionDetails.Text)
	}
	return res.Result.Value, nil
}

// Probe reads the current media elements and player bar
func (s *CDPSurface) Probe(ctx context.Context) (*domain.Probe, error) {
	raw, err := s.evaluate(ctx, probeScript)
	if err != nil {
		return nil, err
	}
	return decodeProbe(raw)
}

func decodeProbe(raw json.RawMessage) (*domain.Probe, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("unexpected probe result: %w", err)
	}

	var p domain.Probe
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return nil, fmt.Errorf("failed to decode probe: %w", err)
	}
	return &p, nil
}

// Control forwards a transport command to the page
func (s *CDPSurface) Control(ctx context.Context, cmd domain.Command) error {
	script, err := controlScript(cmd)
	if err != nil {
		return fmt.Errorf("failed to build control script: %w", err)
	}

	raw, err := s.evaluate(ctx, script)
	if err != nil {
		return err
	}

	var path string
	_ = json.Unmarshal(raw, &path)
	if path == "missing" || path == "" {
		return fmt.Errorf("no control available for %q", cmd.Action)
	}

	s.logger.Debug("Command dispatched",
		zap.String("action", string(cmd.Action)),
		zap.String("via", path))
	return nil
}

// Open navigates the page to target
func (s *CDPSurface) Open(ctx context.Context, target string) error {
	client, session, _ := s.current()
	if client == nil {
		return ErrNoPage
	}
	if err := client.Call(ctx, session, "Page.navigate", map[string]any{"url": target}, nil); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	return nil
}
