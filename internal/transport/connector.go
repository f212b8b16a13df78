// Package transport opens and holds live event streams against the agent
// platform over WebSocket, one stream per logical target.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/workspace/chat-client/internal/backoff"
)

// TargetKind distinguishes the two stream scopes.
type TargetKind string

const (
	// TargetSession streams the events of a single conversation session.
	TargetSession TargetKind = "session"
	// TargetUser streams all events for an authenticated user. Only this
	// scope is auto-resumed after a transport failure.
	TargetUser TargetKind = "user"
)

// Target identifies one logical stream. Token is the platform-issued stream
// token supplied by the auth collaborator; Cursor, when set, asks the server
// to replay events after the given event id.
type Target struct {
	Kind   TargetKind
	ID     string
	Token  string
	Cursor string
}

// Key is the connection identity: a second Connect for the same key is a
// no-op.
func (t Target) Key() string {
	return string(t.Kind) + ":" + t.ID
}

// FrameHandler receives every raw frame read from a stream. It runs on the
// stream's read goroutine; decode and dedup happen synchronously inside it.
type FrameHandler func(target Target, frame []byte)

// Config holds connector settings.
type Config struct {
	// BaseURL is the platform origin, e.g. "https://api.example.com".
	BaseURL string
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// Policy is the reconnect delay curve; each stream gets its own
	// supervisor over it.
	Policy backoff.Policy

	// OnStatusChange reports per-target connectivity, the UI-facing flag.
	OnStatusChange func(target Target, connected bool)
	// OnRetry reports a scheduled reconnect attempt and its delay.
	OnRetry func(target Target, attempt int, delay time.Duration)
}

type stream struct {
	target Target
	sup    *backoff.Supervisor
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func (s *stream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connected = conn != nil
	s.mu.Unlock()
}

func (s *stream) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connector manages the live streams. All exported methods are safe for
// concurrent use.
type Connector struct {
	cfg     Config
	handler FrameHandler
	dialer  *websocket.Dialer

	mu      sync.Mutex
	streams map[string]*stream

	group errgroup.Group
}

// New creates a connector delivering frames to handler.
func New(cfg Config, handler FrameHandler) *Connector {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Connector{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
		streams: make(map[string]*stream),
	}
}

// Connect opens the stream for target. Connecting an already-open target is
// a no-op. The first dial runs synchronously; for session-scoped targets a
// dial failure is returned to the caller, while user-scoped targets fall
// straight into the supervised retry loop.
func (c *Connector) Connect(ctx context.Context, target Target) error {
	c.mu.Lock()
	if _, ok := c.streams[target.Key()]; ok {
		c.mu.Unlock()
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		target: target,
		sup:    backoff.NewSupervisor(c.cfg.Policy),
		cancel: cancel,
	}
	c.streams[target.Key()] = s
	c.mu.Unlock()

	conn, err := c.dial(ctx, target)
	if err != nil {
		if target.Kind != TargetUser {
			c.remove(s)
			cancel()
			return fmt.Errorf("transport: connect %s: %w", target.Key(), err)
		}
		slog.Warn("initial stream dial failed, entering retry loop",
			"target", target.Key(), "error", err)
		c.group.Go(func() error {
			c.run(streamCtx, s, nil)
			return nil
		})
		return nil
	}

	s.setConn(conn)
	s.sup.Reset()
	c.notifyStatus(target, true)

	c.group.Go(func() error {
		c.run(streamCtx, s, conn)
		return nil
	})
	return nil
}

// Connected reports whether the target's stream is currently open.
func (c *Connector) Connected(target Target) bool {
	c.mu.Lock()
	s, ok := c.streams[target.Key()]
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect aborts all in-flight streams immediately and resets attempt
// state. The connector remains usable for new Connect calls. Callers that
// care about pending batches flush them before disconnecting.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	streams := make([]*stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = make(map[string]*stream)
	c.mu.Unlock()

	for _, s := range streams {
		s.cancel()
		s.closeConn()
		s.sup.Reset()
	}
}

// Close disconnects everything and waits for the stream goroutines to exit.
func (c *Connector) Close() {
	c.Disconnect()
	_ = c.group.Wait()
}

// run owns one stream's lifecycle: read until a fatal transport error, then
// hand the failure to the supervisor. Session-scoped streams stop there;
// reconnecting them is the caller's responsibility. User-scoped streams wait
// out the backoff and redial until the context ends.
func (c *Connector) run(ctx context.Context, s *stream, conn *websocket.Conn) {
	defer c.remove(s)

	for {
		if conn == nil {
			delay, err := s.sup.Wait(ctx)
			if err != nil {
				return
			}
			if c.cfg.OnRetry != nil {
				c.cfg.OnRetry(s.target, s.sup.Attempt(), delay)
			}

			var dialErr error
			conn, dialErr = c.dial(ctx, s.target)
			if dialErr != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("stream redial failed",
					"target", s.target.Key(), "attempt", s.sup.Attempt(), "error", dialErr)
				conn = nil
				continue
			}
			s.setConn(conn)
			s.sup.Reset()
			c.notifyStatus(s.target, true)
		}

		err := c.readLoop(ctx, s.target, conn)
		s.closeConn()
		c.notifyStatus(s.target, false)
		conn = nil

		if ctx.Err() != nil {
			return
		}
		if s.target.Kind != TargetUser {
			slog.Info("session stream closed", "target", s.target.Key(), "error", err)
			return
		}
		slog.Warn("user stream lost, scheduling reconnect", "target", s.target.Key(), "error", err)
	}
}

// readLoop delivers frames until the connection fails. A malformed frame is
// the handler's problem; only transport errors end the loop.
func (c *Connector) readLoop(ctx context.Context, target Target, conn *websocket.Conn) error {
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handler(target, frame)
	}
}

func (c *Connector) dial(ctx context.Context, target Target) (*websocket.Conn, error) {
	streamURL, err := buildStreamURL(c.cfg.BaseURL, target)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if target.Token != "" {
		header.Set("Authorization", "Bearer "+target.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", streamURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", streamURL, err)
	}
	return conn, nil
}

func (c *Connector) remove(s *stream) {
	c.mu.Lock()
	if existing, ok := c.streams[s.target.Key()]; ok && existing == s {
		delete(c.streams, s.target.Key())
	}
	c.mu.Unlock()
}

func (c *Connector) notifyStatus(target Target, connected bool) {
	if c.cfg.OnStatusChange != nil {
		c.cfg.OnStatusChange(target, connected)
	}
}

// buildStreamURL maps the platform origin to the stream endpoint for the
// target, switching the scheme to ws/wss.
func buildStreamURL(baseURL string, target Target) (string, error) {
	if target.ID == "" {
		return "", fmt.Errorf("transport: target id is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("transport: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}

	base := strings.TrimRight(u.Path, "/")
	switch target.Kind {
	case TargetSession:
		u.Path = base + "/api/stream/sessions/" + target.ID
	case TargetUser:
		u.Path = base + "/api/stream/users/" + target.ID
	default:
		return "", fmt.Errorf("transport: unsupported target kind %q", target.Kind)
	}

	if target.Cursor != "" {
		q := u.Query()
		q.Set("after", target.Cursor)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
