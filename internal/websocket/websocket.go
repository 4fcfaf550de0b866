// Package websocket wraps a single long-lived chat connection. One reader
// goroutine drains every reply; measured sends register a single-use waiter
// that the reader completes.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned when sending on a closed or dead connection.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrAckTimeout is returned when no reply arrives within the ack timeout.
	ErrAckTimeout = errors.New("websocket ack timeout")
	// ErrConnectionLost is returned when the connection dies while awaiting a reply.
	ErrConnectionLost = errors.New("websocket connection lost")
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultAckTimeout       = 3 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	defaultMaxMessageSize   = 1024 * 1024
	closeGracePeriod        = time.Second

	// A reply to a timed-out measured send is discarded if it arrives
	// within staleWindowFactor ack timeouts.
	staleWindowFactor = 10
	maxStaleReplies   = 16
)

// Config configures a connection.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration
	MaxMessageSize   int64
	Logger           *zap.Logger
}

// Metrics captures per-connection traffic.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Reply is the outcome of a measured send.
type Reply struct {
	Payload    []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// Latency is the round trip between send and reply.
func (r Reply) Latency() time.Duration { return r.ReceivedAt.Sub(r.SentAt) }

type waiter struct {
	match func([]byte) bool
	ch    chan []byte
}

// staleReply marks a measured send whose ack timed out. Its late reply must
// not complete a later waiter for the same message.
type staleReply struct {
	match func([]byte) bool
	until time.Time
}

// Conn is a chat connection shared by every worker targeting one room.
type Conn struct {
	url        string
	conn       *websocket.Conn
	ackTimeout time.Duration
	writeTO    time.Duration
	log        *zap.Logger

	writeMu   sync.Mutex // gorilla allows one concurrent writer
	measureMu sync.Mutex // one measured send in flight per connection

	pendingMu sync.Mutex
	pending   *waiter
	stale     []staleReply

	alive     atomic.Bool
	dead      chan struct{}
	deadOnce  sync.Once
	closeOnce sync.Once
	closeErr  error

	connectTime  time.Time
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

// Dial performs the handshake and starts the reader goroutine.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(dialCtx, cfg.URL, cfg.Headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed with status %d: %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", cfg.URL, err)
	}
	ws.SetReadLimit(cfg.MaxMessageSize)

	c := &Conn{
		url:         cfg.URL,
		conn:        ws,
		ackTimeout:  cfg.AckTimeout,
		writeTO:     cfg.WriteTimeout,
		log:         cfg.Logger.With(zap.String("url", cfg.URL)),
		dead:        make(chan struct{}),
		connectTime: time.Now(),
	}
	c.alive.Store(true)
	go c.readLoop()
	return c, nil
}

// URL returns the endpoint this connection was dialed against.
func (c *Conn) URL() string { return c.url }

// Alive reports whether the connection can still carry traffic.
func (c *Conn) Alive() bool { return c.alive.Load() }

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} { return c.dead }

func (c *Conn) markDead() {
	c.deadOnce.Do(func() {
		c.alive.Store(false)
		close(c.dead)
	})
}

func (c *Conn) readLoop() {
	defer c.markDead()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.alive.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.errors.Add(1)
				c.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.messagesRecv.Add(1)
		c.bytesRecv.Add(int64(len(data)))
		c.deliver(data)
	}
}

func (c *Conn) deliver(data []byte) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.discardStale(data, time.Now()) {
		return
	}
	w := c.pending
	if w == nil {
		return
	}
	if w.match != nil && !w.match(data) {
		return
	}
	c.pending = nil
	w.ch <- data
}

// discardStale consumes data when it answers a timed-out measured send.
// Expired entries are pruned. Callers hold pendingMu.
func (c *Conn) discardStale(data []byte, now time.Time) bool {
	kept := c.stale[:0]
	for _, s := range c.stale {
		if now.Before(s.until) {
			kept = append(kept, s)
		}
	}
	c.stale = kept
	for i, s := range c.stale {
		if s.match == nil || s.match(data) {
			c.stale = append(c.stale[:i], c.stale[i+1:]...)
			return true
		}
	}
	return false
}

// retire withdraws a timed-out waiter and remembers it as stale. It reports
// false when the reader already completed w.
func (c *Conn) retire(w *waiter) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending != w {
		return false
	}
	c.pending = nil
	if len(c.stale) == maxStaleReplies {
		c.stale = c.stale[1:]
	}
	c.stale = append(c.stale, staleReply{
		match: w.match,
		until: time.Now().Add(staleWindowFactor * c.ackTimeout),
	})
	return true
}

// Send writes one text frame without waiting for a reply. Success means the
// frame was accepted by the transport. A write that outlives ctx or the
// write timeout kills the connection, since a partial frame cannot be
// recovered.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Alive() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Alive() {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = c.conn.NetConn().Close() })
	defer stop()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTO))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.errors.Add(1)
		c.markDead()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write message: %w", ctxErr)
		}
		return fmt.Errorf("write message: %w", err)
	}
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(len(data)))
	return nil
}

// SendAndAwait sends data and blocks until a reply accepted by match arrives,
// the ack timeout elapses, or the connection dies. A nil match accepts the
// first reply. Measured sends on the same connection are serialized so a
// reply cannot complete the wrong waiter.
func (c *Conn) SendAndAwait(ctx context.Context, data []byte, match func([]byte) bool) (Reply, error) {
	c.measureMu.Lock()
	defer c.measureMu.Unlock()

	w := &waiter{match: match, ch: make(chan []byte, 1)}
	c.pendingMu.Lock()
	c.pending = w
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		if c.pending == w {
			c.pending = nil
		}
		c.pendingMu.Unlock()
	}()

	sentAt := time.Now()
	if err := c.Send(ctx, data); err != nil {
		return Reply{SentAt: sentAt}, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case payload := <-w.ch:
		return Reply{Payload: payload, SentAt: sentAt, ReceivedAt: time.Now()}, nil
	case <-timer.C:
		if !c.retire(w) {
			// the reply was delivered as the timer fired
			payload := <-w.ch
			return Reply{Payload: payload, SentAt: sentAt, ReceivedAt: time.Now()}, nil
		}
		return Reply{SentAt: sentAt}, ErrAckTimeout
	case <-c.dead:
		// the reply may have raced the close
		select {
		case payload := <-w.ch:
			return Reply{Payload: payload, SentAt: sentAt, ReceivedAt: time.Now()}, nil
		default:
		}
		return Reply{SentAt: sentAt}, ErrConnectionLost
	case <-ctx.Done():
		return Reply{SentAt: sentAt}, ctx.Err()
	}
}

// Close sends a close frame and releases the socket. The close frame is
// skipped while a data write is in flight so a peer that stopped reading
// cannot stall shutdown. It is safe to call more than once; only the first
// call reports an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		wasAlive := c.alive.Swap(false)

		var err error
		if wasAlive && c.writeMu.TryLock() {
			err = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod),
			)
			c.writeMu.Unlock()
		}

		closeErr := c.conn.Close()
		if errors.Is(closeErr, net.ErrClosed) {
			closeErr = nil
		}
		c.markDead()

		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
			return
		}
		c.closeErr = closeErr
	})
	return c.closeErr
}

// Metrics returns the current metrics snapshot.
func (c *Conn) Metrics() Metrics {
	return Metrics{
		ConnectionDuration: time.Since(c.connectTime),
		MessagesSent:       c.messagesSent.Load(),
		MessagesReceived:   c.messagesRecv.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesRecv.Load(),
		Errors:             c.errors.Load(),
	}
}
