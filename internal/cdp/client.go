// Package cdp is a minimal Chrome DevTools Protocol client: one WebSocket,
// id-correlated calls and a stream of events, with flattened target sessions.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by calls made on, or interrupted by, a closed client
var ErrClosed = errors.New("cdp: connection closed")

const (
	readLimit    = 16 << 20
	eventBufSize = 256
)

// Error is a protocol-level error returned by the browser
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Event is an unsolicited message from the browser
type Event struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// Client is a connected DevTools session
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan message
	closed  bool

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
}

// Dial connects to a browser. url may be a ws:// debugger URL or the
// http:// DevTools endpoint, in which case the browser URL is discovered.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	wsURL := url
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		discovered, err := Discover(ctx, http.DefaultClient, url)
		if err != nil {
			return nil, err
		}
		wsURL = discovered
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial devtools %s: %w", wsURL, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan message),
		events:  make(chan Event, eventBufSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go c.readLoop(readCtx)

	logger.Info("Connected to DevTools", zap.String("url", wsURL))
	return c, nil
}

// Discover resolves the browser-level debugger URL from the DevTools HTTP endpoint
func Discover(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query devtools endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("devtools endpoint returned status %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode devtools version: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("devtools endpoint did not report a debugger url")
	}
	return info.WebSocketDebuggerURL, nil
}

// Call sends method to the browser (or to sessionID when non-empty) and
// decodes the result into out when out is non-nil
func (c *Client) Call(ctx context.Context, sessionID, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(request{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case msg := <-ch:
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	}
}

// Events returns the stream of browser events. It is closed with the client.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.logger.Debug("DevTools close handshake failed", zap.Error(err))
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		close(c.events)
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !c.closing() {
				c.logger.Warn("DevTools connection lost", zap.Error(err))
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Ignoring malformed devtools message", zap.Error(err))
			continue
		}

		if msg.Method == "" {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			}
			continue
		}

		select {
		case c.events <- Event{Method: msg.Method, SessionID: msg.SessionID, Params: msg.Params}:
		default:
			c.logger.Debug("DevTools event dropped, consumer too slow", zap.String("method", msg.Method))
		}
	}
}
