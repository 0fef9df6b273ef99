package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	vcast "github.com/vishen/go-chromecast/cast"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

// launchPoll is how often Launch re-reads the receiver status while the
// launched app has not appeared yet.
const launchPoll = 250 * time.Millisecond

type stopRequest struct {
	cast.Header
	SessionID string `json:"sessionId"`
}

type volumeRequest struct {
	cast.Header
	Volume cast.VolumeChange `json:"volume"`
}

func (c *conn) receiverRequest(ctx context.Context, p cast.Payload) (json.RawMessage, error) {
	return c.request(ctx, platformSender, platformReceiver, cast.NamespaceReceiver, p)
}

// Status implements cast.Conn.
func (c *conn) Status(ctx context.Context) (cast.ReceiverStatus, error) {
	raw, err := c.receiverRequest(ctx, &vcast.PayloadHeader{Type: vcast.GetStatusHeader.Type})
	if err != nil {
		return cast.ReceiverStatus{}, err
	}
	return decodeReceiverStatus(raw)
}

func decodeReceiverStatus(raw json.RawMessage) (cast.ReceiverStatus, error) {
	var resp vcast.ReceiverStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return cast.ReceiverStatus{}, fmt.Errorf("decoding receiver status: %w", err)
	}

	status := cast.ReceiverStatus{
		Volume: cast.Volume{Level: float64(resp.Status.Volume.Level), Muted: resp.Status.Volume.Muted},
	}
	for _, app := range resp.Status.Applications {
		status.Applications = append(status.Applications, cast.Session{
			AppID:        app.AppId,
			DisplayName:  app.DisplayName,
			SessionID:    app.SessionId,
			TransportID:  app.TransportId,
			StatusText:   app.StatusText,
			IsIdleScreen: app.IsIdleScreen,
		})
	}
	return status, nil
}

func findApp(status cast.ReceiverStatus, appID string) (cast.Session, bool) {
	for _, s := range status.Applications {
		if s.AppID == appID {
			return s, true
		}
	}
	return cast.Session{}, false
}

// Launch implements cast.Conn.
func (c *conn) Launch(ctx context.Context, appID string) (cast.Session, error) {
	raw, err := c.receiverRequest(ctx, &vcast.LaunchRequest{
		PayloadHeader: vcast.PayloadHeader{Type: vcast.LaunchHeader.Type},
		AppId:         appID,
	})
	if err != nil {
		return cast.Session{}, fmt.Errorf("launching %s: %w", appID, err)
	}

	status, err := decodeReceiverStatus(raw)
	if err != nil {
		return cast.Session{}, err
	}
	for {
		if s, ok := findApp(status, appID); ok && s.TransportID != "" {
			return s, nil
		}

		timer := time.NewTimer(launchPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cast.Session{}, fmt.Errorf("waiting for %s to start: %w", appID, ctx.Err())
		case <-timer.C:
		}
		if status, err = c.Status(ctx); err != nil {
			return cast.Session{}, err
		}
	}
}

// StopSession implements cast.Conn.
func (c *conn) StopSession(ctx context.Context, sessionID string) error {
	_, err := c.receiverRequest(ctx, &stopRequest{
		Header:    cast.Header{Type: vcast.StopHeader.Type},
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("stopping session %s: %w", sessionID, err)
	}
	return nil
}

// SetVolume implements cast.Conn.
func (c *conn) SetVolume(ctx context.Context, change cast.VolumeChange) error {
	_, err := c.receiverRequest(ctx, &volumeRequest{
		Header: cast.Header{Type: vcast.VolumeHeader.Type},
		Volume: change,
	})
	return err
}

// Join implements cast.Conn. Each channel gets its own sender id so that
// closing one does not tear down another caller's virtual connection.
func (c *conn) Join(ctx context.Context, s cast.Session) (cast.Channel, error) {
	if s.TransportID == "" {
		return nil, fmt.Errorf("joining %s: session has no transport id", s.AppID)
	}

	ch := &channel{
		conn:     c,
		session:  s,
		senderID: "sender-" + uuid.NewString(),
		events:   make(chan cast.Event, eventBuffer),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.channels[ch] = struct{}{}
	c.mu.Unlock()

	if err := c.send(ch.senderID, s.TransportID, cast.NamespaceConnection, &vcast.PayloadHeader{Type: vcast.ConnectHeader.Type}); err != nil {
		c.drop(ch)
		return nil, fmt.Errorf("joining %s: %w", s.AppID, err)
	}
	return ch, nil
}

func (c *conn) drop(ch *channel) {
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
	ch.shutdown()
}

// channel is a virtual connection to one application.
type channel struct {
	conn     *conn
	session  cast.Session
	senderID string
	events   chan cast.Event

	done chan struct{}
	once sync.Once
}

func (ch *channel) Session() cast.Session { return ch.session }

func (ch *channel) Request(ctx context.Context, ns string, p cast.Payload) (json.RawMessage, error) {
	select {
	case <-ch.done:
		return nil, ErrClosed
	default:
	}
	return ch.conn.request(ctx, ch.senderID, ch.session.TransportID, ns, p)
}

func (ch *channel) Send(ctx context.Context, ns string, p cast.Payload) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}
	return ch.conn.send(ch.senderID, ch.session.TransportID, ns, p)
}

func (ch *channel) Events() <-chan cast.Event { return ch.events }
func (ch *channel) Done() <-chan struct{}     { return ch.done }

// deliver queues an unsolicited message, dropping it if the backlog is full.
func (ch *channel) deliver(ev cast.Event) {
	select {
	case ch.events <- ev:
	default:
		ch.conn.logger.Debug("cast event dropped", "app", ch.session.AppID, "type", ev.Type)
	}
}

func (ch *channel) shutdown() {
	ch.once.Do(func() { close(ch.done) })
}

// Close sends CLOSE on the virtual connection. The application keeps
// running.
func (ch *channel) Close() error {
	select {
	case <-ch.done:
		return nil
	default:
	}
	err := ch.conn.send(ch.senderID, ch.session.TransportID, cast.NamespaceConnection, &vcast.PayloadHeader{Type: vcast.CloseHeader.Type})
	ch.conn.drop(ch)
	return err
}
