package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/pkg/retry"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	URL   string
	Token string
	// Reconnect controls the delay between dial attempts. MaxAttempts is
	// ignored; the client redials until Close.
	Reconnect retry.Config
	Dialer    *websocket.Dialer
}

type result struct {
	payload []byte
	err     error
}

// Client is the companion's end of the WebSocket link. It implements
// Session and keeps redialing the host while activated.
type Client struct {
	opts ClientOptions
	log  *zap.Logger

	mu        sync.Mutex
	delegate  SessionDelegate
	state     ActivationState
	conn      *websocket.Conn
	reachable bool
	status    Status
	pending   map[string]chan result
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// NewClient creates an inactive client.
func NewClient(opts ClientOptions) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Reconnect.InitialWait == 0 {
		opts.Reconnect = retry.DefaultConfig()
	}
	return &Client{
		opts:    opts,
		log:     logging.Named("transport"),
		pending: make(map[string]chan result),
	}
}

func (c *Client) SetDelegate(d SessionDelegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// Activate makes the first connection attempt in the background. A rejected
// pairing token fails activation; any other dial failure still activates
// the session, unreachable, and the client keeps redialing.
func (c *Client) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx, cancel)
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(c.done)

	// Unblock readLoop when the session is stopped.
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}()

	conn, err := c.dial(ctx)
	if errors.Is(err, ErrUnauthorized) {
		cancel()
		c.mu.Lock()
		c.state = NotActivated
		c.cancel = nil
		d := c.delegate
		c.mu.Unlock()
		if d != nil {
			d.ActivationDidComplete(NotActivated, err)
		}
		return
	}
	if err != nil {
		c.log.Debug("initial dial failed", zap.Error(err))
	}

	c.mu.Lock()
	c.state = Activated
	if conn != nil {
		c.conn = conn
		c.reachable = true
	}
	d := c.delegate
	c.mu.Unlock()
	if d != nil {
		d.ActivationDidComplete(Activated, nil)
	}

	// Redial forever: MaxAttempts does not apply to a live session.
	reconnect := c.opts.Reconnect
	reconnect.MaxAttempts = 0
	backoff := retry.NewBackoff(reconnect)
	for {
		if conn != nil {
			backoff.Reset()
			c.readLoop(conn)
			c.disconnected(conn)
		}
		if !backoff.Wait(ctx) {
			return
		}

		conn, err = c.dial(ctx)
		if err != nil {
			c.log.Debug("redial failed", zap.Int("attempt", backoff.Attempt()), zap.Error(err))
			conn = nil
			continue
		}
		c.connected(conn)
	}
}

// dial connects and waits for the host's first status frame.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", c.opts.URL, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(statusWait))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Kind != KindStatus || env.Status == nil {
		conn.Close()
		return nil, fmt.Errorf("no status frame from host: %v", err)
	}

	c.mu.Lock()
	c.status = *env.Status
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return conn, nil
}

func (c *Client) connected(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.reachable = true
	d := c.delegate
	c.mu.Unlock()

	c.log.Info("connected to host")
	if d != nil {
		d.ReachabilityDidChange(true)
	}
}

func (c *Client) disconnected(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	was := c.reachable
	c.reachable = false
	pending := c.pending
	c.pending = make(map[string]chan result)
	d := c.delegate
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: ErrNotReachable}
	}
	if was {
		c.log.Info("disconnected from host")
		if d != nil {
			d.ReachabilityDidChange(false)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.RecordTransportFailure()
			c.log.Warn("malformed envelope", zap.Error(err))
			continue
		}

		switch env.Kind {
		case KindReply:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- result{payload: env.Payload}
			}
		case KindNotify:
			c.mu.Lock()
			d := c.delegate
			c.mu.Unlock()
			if d != nil {
				d.DidReceiveNotification(env.Payload)
			}
		case KindStatus:
			if env.Status != nil {
				c.mu.Lock()
				c.status = *env.Status
				c.mu.Unlock()
			}
		}
	}
}

func (c *Client) ActivationState() ActivationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsReachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

func (c *Client) IsCompanionAppInstalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Without a status frame there is nothing to contradict the pairing.
	return c.status.AppInstalled || !c.reachable
}

func (c *Client) NeedsUnlockAfterReboot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable && c.status.NeedsUnlock
}

// SendMessage sends payload with a fresh correlation id and waits for the
// matching reply, a disconnect, or ctx.
func (c *Client) SendMessage(ctx context.Context, payload []byte) ([]byte, error) {
	id := uuid.NewString()
	ch := make(chan result, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.reachable || c.state != Activated {
		c.mu.Unlock()
		return nil, ErrNotReachable
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(Envelope{ID: id, Kind: KindMessage, Payload: payload})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		metrics.RecordTransportFailure()
		return nil, fmt.Errorf("send: %w", ErrNotReachable)
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close stops redialing and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}
