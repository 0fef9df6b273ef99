// Package transport implements cast.Dialer on top of the go-chromecast
// wire codec.
//
// The codec owns TLS and protobuf framing. This package adds what the cast
// core needs on top: request/reply correlation by request id, per-app
// virtual connections, heartbeat handling and failure detection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	vcast "github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

const (
	platformSender   = "sender-0"
	platformReceiver = "receiver-0"

	// eventBuffer is the per-channel unsolicited message backlog.
	eventBuffer = 16
)

// Errors reported by connections.
var (
	ErrClosed           = errors.New("transport: connection closed")
	ErrHeartbeatTimeout = errors.New("transport: heartbeat timeout")
)

// errorReplies are reply types that mean the request failed.
var errorReplies = map[string]bool{
	"LOAD_FAILED":          true,
	"LOAD_CANCELLED":       true,
	"INVALID_REQUEST":      true,
	"INVALID_PLAYER_STATE": true,
	"LAUNCH_ERROR":         true,
	"ERROR":                true,
}

// rawConn is the part of the go-chromecast connection this package uses.
type rawConn interface {
	Start(addr string, port int) error
	MsgChan() chan *pb.CastMessage
	Send(requestID int, payload vcast.Payload, sourceID, destinationID, namespace string) error
	Close() error
}

// Logger is the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Dialer.
type Options struct {
	// Heartbeat is the PING period. A connection that receives nothing
	// for three periods is failed.
	Heartbeat time.Duration

	Logger Logger
}

// Dialer opens cast connections.
type Dialer struct {
	heartbeat time.Duration
	logger    Logger
	newConn   func() rawConn
}

// NewDialer creates a Dialer.
func NewDialer(opts Options) *Dialer {
	d := &Dialer{
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
		newConn:   func() rawConn { return vcast.NewConnection() },
	}
	if d.heartbeat <= 0 {
		d.heartbeat = 5 * time.Second
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	return d
}

// Dial connects to host:port and opens the platform virtual connection.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (cast.Conn, error) {
	raw := d.newConn()

	started := make(chan error, 1)
	go func() { started <- raw.Start(host, port) }()

	select {
	case err := <-started:
		if err != nil {
			return nil, fmt.Errorf("connecting to %s:%d: %w", host, port, err)
		}
	case <-ctx.Done():
		// Start cannot be interrupted; close whatever it produces.
		go func() {
			if <-started == nil {
				_ = raw.Close()
			}
		}()
		return nil, fmt.Errorf("connecting to %s:%d: %w", host, port, ctx.Err())
	}

	c := &conn{
		raw:       raw,
		logger:    d.logger,
		heartbeat: d.heartbeat,
		pending:   make(map[int]chan reply),
		channels:  make(map[*channel]struct{}),
		done:      make(chan struct{}),
	}
	c.touch()

	if err := c.send(platformSender, platformReceiver, cast.NamespaceConnection, &cast.Header{Type: "CONNECT"}); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("opening platform channel: %w", err)
	}

	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

type reply struct {
	msgType string
	payload json.RawMessage
}

type conn struct {
	raw       rawConn
	logger    Logger
	heartbeat time.Duration

	requestID atomic.Int64
	lastSeen  atomic.Int64

	mu       sync.Mutex
	pending  map[int]chan reply
	channels map[*channel]struct{}

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (c *conn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *conn) nextID() int { return int(c.requestID.Add(1)) }

func (c *conn) send(src, dst, ns string, p cast.Payload) error {
	return c.sendID(c.nextID(), src, dst, ns, p)
}

func (c *conn) sendID(id int, src, dst, ns string, p cast.Payload) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	p.SetRequestId(id)
	if err := c.raw.Send(id, p, src, dst, ns); err != nil {
		c.fail(fmt.Errorf("send: %w", err))
		return err
	}
	return nil
}

// request sends p and waits for the reply carrying the same request id.
func (c *conn) request(ctx context.Context, src, dst, ns string, p cast.Payload) (json.RawMessage, error) {
	id := c.nextID()
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.sendID(id, src, dst, ns, p); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		if errorReplies[r.msgType] {
			return nil, &cast.RequestError{Namespace: ns, Type: r.msgType, Reason: replyReason(r.payload)}
		}
		return r.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
}

func replyReason(raw json.RawMessage) string {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(raw, &body)
	return body.Reason
}

type header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

func (c *conn) readLoop() {
	msgs := c.raw.MsgChan()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				c.fail(ErrClosed)
				return
			}
			c.touch()
			c.dispatch(msg)
		}
	}
}

func (c *conn) dispatch(msg *pb.CastMessage) {
	ns := msg.GetNamespace()
	payload := json.RawMessage(msg.GetPayloadUtf8())

	var h header
	if err := json.Unmarshal(payload, &h); err != nil {
		c.logger.Debug("cast message dropped", "namespace", ns, "error", err)
		return
	}

	switch ns {
	case cast.NamespaceHeartbeat:
		if h.Type == "PING" {
			_ = c.send(msg.GetDestinationId(), msg.GetSourceId(), ns, &vcast.PayloadHeader{Type: vcast.PongHeader.Type})
		}
		return
	case cast.NamespaceConnection:
		if h.Type == "CLOSE" {
			c.remoteClose(msg.GetSourceId(), msg.GetDestinationId())
		}
		return
	}

	if h.RequestID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[h.RequestID]
		c.mu.Unlock()
		if ok {
			ch <- reply{msgType: h.Type, payload: payload}
			return
		}
	}

	c.mu.Lock()
	var targets []*channel
	for ch := range c.channels {
		if ch.session.TransportID == msg.GetSourceId() && (msg.GetDestinationId() == "*" || msg.GetDestinationId() == ch.senderID) {
			targets = append(targets, ch)
		}
	}
	c.mu.Unlock()

	ev := cast.Event{Namespace: ns, Type: h.Type, Payload: payload}
	for _, ch := range targets {
		ch.deliver(ev)
	}
}

// remoteClose handles a CLOSE from the receiver. A CLOSE on the platform
// channel fails the connection.
func (c *conn) remoteClose(source, destination string) {
	if source == platformReceiver {
		c.fail(ErrClosed)
		return
	}
	c.mu.Lock()
	var closing []*channel
	for ch := range c.channels {
		if ch.session.TransportID == source && (destination == ch.senderID || destination == "*") {
			closing = append(closing, ch)
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()
	for _, ch := range closing {
		ch.shutdown()
	}
}

func (c *conn) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastSeen.Load())
			if time.Since(last) > 3*c.heartbeat {
				c.fail(ErrHeartbeatTimeout)
				return
			}
			_ = c.send(platformSender, platformReceiver, cast.NamespaceHeartbeat, &vcast.PayloadHeader{Type: "PING"})
		}
	}
}

func (c *conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		channels := c.channels
		c.channels = make(map[*channel]struct{})
		c.mu.Unlock()

		close(c.done)
		for ch := range channels {
			ch.shutdown()
		}
		if closeErr := c.raw.Close(); closeErr != nil {
			c.logger.Debug("cast socket close", "error", closeErr)
		}
		if !errors.Is(err, ErrClosed) {
			c.logger.Warn("cast connection failed", "error", err)
		}
	})
}

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the platform channel and the socket.
func (c *conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	_ = c.raw.Send(c.nextID(), &cast.Header{Type: "CLOSE"}, platformSender, platformReceiver, cast.NamespaceConnection)
	c.fail(ErrClosed)
	return nil
}
