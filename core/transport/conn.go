package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a channel connection.
type State string

const (
	StateConnecting       State = "connecting"
	StateOpen             State = "open"
	StateClosedClean      State = "closed"
	StateClosedUnexpected State = "closed-unexpected"
)

// ErrNotOpen is returned by [Conn.Send] when the channel is not open.
// Callers are expected to fall back to a non-streaming path on it, not to
// treat it as fatal.
var ErrNotOpen = errors.New("channel not open")

const (
	defaultBaseRetryInterval = 500 * time.Millisecond
	defaultMaxRetryAttempts  = 5
	retryBackoffFactor       = 1.5
)

// Conn owns a single duplex websocket to a session endpoint and keeps it
// alive across abnormal drops with exponential backoff. It has no knowledge
// of message semantics beyond the frame codec; consumers receive decoded
// frames in receipt order through the frame callback.
type Conn struct {
	mu sync.Mutex

	ctx  context.Context
	url  string
	opts dialOptions

	ws       *websocket.Conn
	state    State
	attempts int
	closed   bool

	reconnectTimer *time.Timer
	// generation guards against a read loop of a discarded socket reporting
	// errors for its replacement.
	generation int
}

type dialOptions struct {
	baseRetryInterval time.Duration
	maxRetryAttempts  int

	onOpen                func()
	onFrame               func(Frame)
	onReconnect           func(attempt int)
	onMaxAttemptsExceeded func()
}

type DialOption func(*dialOptions)

func WithBaseRetryInterval(interval time.Duration) DialOption {
	return func(o *dialOptions) { o.baseRetryInterval = interval }
}

func WithMaxRetryAttempts(attempts int) DialOption {
	return func(o *dialOptions) { o.maxRetryAttempts = attempts }
}

// WithFrameCallback registers a callback for decoded inbound frames. It is
// invoked from the read loop, one frame at a time, in receipt order.
func WithFrameCallback(callback func(Frame)) DialOption {
	return func(o *dialOptions) { o.onFrame = callback }
}

func WithOpenCallback(callback func()) DialOption {
	return func(o *dialOptions) { o.onOpen = callback }
}

// WithReconnectCallback registers a callback invoked with the attempt number
// (1-based) every time a reconnect is scheduled.
func WithReconnectCallback(callback func(attempt int)) DialOption {
	return func(o *dialOptions) { o.onReconnect = callback }
}

// WithMaxAttemptsExceededCallback registers a callback invoked once the
// retry ceiling is reached and the channel gives up.
func WithMaxAttemptsExceededCallback(callback func()) DialOption {
	return func(o *dialOptions) { o.onMaxAttemptsExceeded = callback }
}

// Dial establishes the channel connection. The initial dial is synchronous;
// once it succeeds, subsequent abnormal drops are retried automatically
// after base × 1.5^attempts, up to the configured ceiling.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Conn, error) {
	options := dialOptions{
		baseRetryInterval: defaultBaseRetryInterval,
		maxRetryAttempts:  defaultMaxRetryAttempts,
	}
	for _, opt := range opts {
		opt(&options)
	}

	c := &Conn{
		ctx:   ctx,
		url:   url,
		opts:  options,
		state: StateConnecting,
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		c.state = StateClosedUnexpected
		return nil, fmt.Errorf("failed to open channel connection: %w", err)
	}

	c.adopt(ws)
	return c, nil
}

// adopt installs a freshly dialed socket, discarding any prior one, and
// starts its read loop.
func (c *Conn) adopt(ws *websocket.Conn) {
	c.mu.Lock()
	if prior := c.ws; prior != nil {
		_ = prior.Close()
	}
	c.ws = ws
	c.attempts = 0
	c.generation++
	generation := c.generation
	c.state = StateOpen
	onOpen := c.opts.onOpen
	c.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}
	go c.readLoop(ws, generation)
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts reports the current reconnect attempt counter. It resets to zero
// on every successful open.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Send writes one JSON payload to the channel. It fails with [ErrNotOpen]
// without touching the wire when the channel is not open.
func (c *Conn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.ws == nil {
		return ErrNotOpen
	}

	if err := c.ws.WriteJSON(payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close closes the underlying socket with the given close code. The clean
// codes (1000, 1001) suppress reconnection and synchronously cancel any
// pending reconnect timer; any other code lets the drop run through the
// normal retry path.
func (c *Conn) Close(code int, reason string) error {
	clean := code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway

	c.mu.Lock()
	if clean {
		c.closed = true
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		c.state = StateClosedClean
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err := ws.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

// Reopen re-establishes a channel that was closed cleanly or gave up after
// the retry ceiling. Attempt counting restarts from zero.
func (c *Conn) Reopen() {
	c.mu.Lock()
	c.closed = false
	c.attempts = 0
	c.mu.Unlock()

	go c.redial()
}

func (c *Conn) readLoop(ws *websocket.Conn, generation int) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleReadError(generation, err)
			return
		}

		frame, decodeErr := DecodeFrame(raw)
		if decodeErr != nil {
			logger.Warn("dropping malformed frame", "error", decodeErr)
			continue
		}
		if c.opts.onFrame != nil {
			c.opts.onFrame(frame)
		}
	}
}

func (c *Conn) handleReadError(generation int, err error) {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	c.mu.Lock()
	if generation != c.generation || c.closed {
		// A superseded socket or a caller-initiated clean close; nothing to do.
		c.mu.Unlock()
		return
	}
	c.ws = nil

	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		c.state = StateClosedClean
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosedUnexpected

	if c.attempts >= c.opts.maxRetryAttempts {
		onExceeded := c.opts.onMaxAttemptsExceeded
		c.mu.Unlock()
		logger.Warn("channel retry ceiling reached, giving up", "attempts", c.opts.maxRetryAttempts)
		if onExceeded != nil {
			onExceeded()
		}
		return
	}

	delay := retryDelay(c.opts.baseRetryInterval, c.attempts)
	c.attempts++
	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(delay, c.redial)
	onReconnect := c.opts.onReconnect
	c.mu.Unlock()

	if onReconnect != nil {
		onReconnect(attempt)
	}
}

func (c *Conn) redial() {
	c.mu.Lock()
	if c.closed || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		logger.Warn("channel redial failed", "error", err)
		c.scheduleReconnect()
		return
	}

	c.adopt(ws)
}

// retryDelay returns the backoff before reconnect attempt n (0-based):
// base × 1.5^n.
func retryDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(retryBackoffFactor, float64(attempt)))
}
