package cast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

const (
	testID       = "0123456789abcdef0123456789abcdef"
	testRawID    = "01234567-89ab-cdef-0123-456789abcdef"
	testAudioID  = "fedcba9876543210fedcba9876543210"
	testAudioRaw = "fedcba98-7654-3210-fedc-ba9876543210"
)

// recorded is one message sent over a fake channel.
type recorded struct {
	AppID     string
	Namespace string
	Type      string
	Body      map[string]any
}

// fakeDialer hands out fakeConns. When gate is set, Dial blocks until it is
// closed.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	gate  chan struct{}
	err   error
	conns []*fakeConn

	// setup configures each new connection.
	setup func(*fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	if d.setup != nil {
		d.setup(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeConn is an in-memory receiver.
type fakeConn struct {
	mu          sync.Mutex
	sessions    []Session
	volume      Volume
	playerState string
	statusErr   error
	launchGate  chan struct{}
	launches    int
	joins       int
	stopped     []string
	volumes     []VolumeChange
	sent        []recorded
	loadErrs    []error
	closeGate   chan struct{}
	channels    []*fakeChannel
	nextSession int

	done      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		volume:      Volume{Level: 0.5},
		playerState: PlayerPlaying,
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

func (c *fakeConn) addSession(appID string) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSession++
	s := Session{
		AppID:       appID,
		DisplayName: appID,
		SessionID:   fmt.Sprintf("session-%d", c.nextSession),
		TransportID: fmt.Sprintf("transport-%d", c.nextSession),
	}
	c.sessions = append(c.sessions, s)
	return s
}

func (c *fakeConn) Status(ctx context.Context) (ReceiverStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return ReceiverStatus{}, c.statusErr
	}
	apps := make([]Session, len(c.sessions))
	copy(apps, c.sessions)
	return ReceiverStatus{Applications: apps, Volume: c.volume}, nil
}

func (c *fakeConn) Launch(ctx context.Context, appID string) (Session, error) {
	c.mu.Lock()
	c.launches++
	gate := c.launchGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}
	return c.addSession(appID), nil
}

func (c *fakeConn) StopSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, sessionID)
	for i, s := range c.sessions {
		if s.SessionID == sessionID {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	return nil
}

func (c *fakeConn) SetVolume(ctx context.Context, change VolumeChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumes = append(c.volumes, change)
	if change.Level != nil {
		c.volume.Level = *change.Level
	}
	if change.Muted != nil {
		c.volume.Muted = *change.Muted
	}
	return nil
}

func (c *fakeConn) Join(ctx context.Context, s Session) (Channel, error) {
	select {
	case <-c.done:
		return nil, errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins++
	ch := &fakeChannel{
		conn:    c,
		session: s,
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close blocks on closeGate when set, to hold a connection in closing.
func (c *fakeConn) Close() error {
	c.mu.Lock()
	gate := c.closeGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.drop(nil)
	close(c.closed)
	return nil
}

// drop simulates the socket going away.
func (c *fakeConn) drop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		channels := c.channels
		c.mu.Unlock()
		close(c.done)
		for _, ch := range channels {
			ch.closeRemote()
		}
	})
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) counts() (launches, joins int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launches, c.joins
}

func (c *fakeConn) messages() []recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recorded, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) messagesOfType(msgType string) []recorded {
	var out []recorded
	for _, m := range c.messages() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) record(appID, ns string, p Payload) (recorded, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return recorded{}, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return recorded{}, err
	}
	typ, _ := body["type"].(string)
	r := recorded{AppID: appID, Namespace: ns, Type: typ, Body: body}

	c.mu.Lock()
	c.sent = append(c.sent, r)
	c.mu.Unlock()
	return r, nil
}

// respond plays the receiver side of a request.
func (c *fakeConn) respond(r recorded) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Namespace != NamespaceMedia {
		return json.RawMessage(`{"type":"OK"}`), nil
	}

	switch r.Type {
	case msgLoad:
		if len(c.loadErrs) > 0 {
			err := c.loadErrs[0]
			c.loadErrs = c.loadErrs[1:]
			if err != nil {
				return nil, err
			}
		}
		if autoplay, _ := r.Body["autoplay"].(bool); autoplay {
			c.playerState = PlayerPlaying
		} else {
			c.playerState = PlayerPaused
		}
	case msgPlay:
		c.playerState = PlayerPlaying
	case msgPause:
		c.playerState = PlayerPaused
	}
	return json.Marshal(mediaStatusReply{
		Header: Header{Type: msgMediaStatus},
		Status: []MediaStatus{{MediaSessionID: 1, PlayerState: c.playerState, CurrentTime: 12.5}},
	})
}

type fakeChannel struct {
	conn    *fakeConn
	session Session
	events  chan Event
	done    chan struct{}
	once    sync.Once
}

func (ch *fakeChannel) Session() Session { return ch.session }

func (ch *fakeChannel) Request(ctx context.Context, ns string, p Payload) (json.RawMessage, error) {
	select {
	case <-ch.done:
		return nil, errors.New("channel closed")
	default:
	}
	r, err := ch.conn.record(ch.session.AppID, ns, p)
	if err != nil {
		return nil, err
	}
	return ch.conn.respond(r)
}

func (ch *fakeChannel) Send(ctx context.Context, ns string, p Payload) error {
	_, err := ch.conn.record(ch.session.AppID, ns, p)
	return err
}

func (ch *fakeChannel) Events() <-chan Event { return ch.events }
func (ch *fakeChannel) Done() <-chan struct{} { return ch.done }

func (ch *fakeChannel) Close() error {
	ch.closeRemote()
	return nil
}

// closeRemote simulates the application going away.
func (ch *fakeChannel) closeRemote() {
	ch.once.Do(func() { close(ch.done) })
}

// fakeProber returns canned probe results.
type fakeProber struct {
	mu          sync.Mutex
	heads       []string
	status      int
	contentType string
	headErr     error
	firstLine   string
	lineErr     error
}

func (p *fakeProber) Head(ctx context.Context, url string) (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heads = append(p.heads, url)
	return p.status, p.contentType, p.headErr
}

func (p *fakeProber) FirstLine(ctx context.Context, url string) (string, error) {
	return p.firstLine, p.lineErr
}

func (p *fakeProber) headCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heads)
}

func testAdvertisement(rawID, model, name, addr string) Advertisement {
	return Advertisement{
		Name:      name + "._googlecast._tcp.local.",
		Service:   "_googlecast._tcp",
		Addresses: []net.IP{net.ParseIP(addr)},
		Port:      8009,
		TXT:       map[string]string{"id": rawID, "md": model, "fn": name},
	}
}

func testDevice() Device {
	return Device{ID: testID, Name: "Living Room", Model: "Chromecast", Class: ClassChromecast, Address: "127.0.0.1", Port: 8009}
}

type harness struct {
	ctrl     *Controller
	registry *Registry
	conns    *ConnectionManager
	sessions *SessionManager
	dialer   *fakeDialer
	prober   *fakeProber
	prefs    *MemoryPrefs
	apps     Apps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		registry: NewRegistry(nil, 0),
		dialer:   &fakeDialer{},
		prober:   &fakeProber{status: 200, contentType: "audio/mpeg"},
		prefs:    NewMemoryPrefs(),
		apps:     NewApps(DefaultAppIDs()),
	}
	caps := NewCapabilities()
	h.conns = NewConnectionManager(h.dialer, ConnectionOptions{DialTimeout: time.Second, OnStatus: caps.ApplyReceiverStatus})
	h.sessions = NewSessionManager(h.conns, time.Second)

	ctrl, err := NewController(ControllerOptions{
		Registry:       h.registry,
		Connections:    h.conns,
		Sessions:       h.sessions,
		Capabilities:   caps,
		Apps:           h.apps,
		Prober:         h.prober,
		Prefs:          h.prefs,
		ResolveTimeout: 50 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
		ProbeTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	h.ctrl = ctrl

	if _, _, err := h.registry.Upsert(testAdvertisement(testRawID, "Chromecast", "Living Room", "127.0.0.1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, _, err := h.registry.Upsert(testAdvertisement(testAudioRaw, "Chromecast Audio", "Kitchen", "127.0.0.2")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	t.Cleanup(func() {
		ctrl.Close()
		_ = h.conns.Close()
	})
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
