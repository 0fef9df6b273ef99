package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	vcast "github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

type sentMsg struct {
	id   int
	src  string
	dst  string
	ns   string
	body map[string]any
}

func (m sentMsg) typ() string {
	t, _ := m.body["type"].(string)
	return t
}

// fakeRaw stands in for the go-chromecast connection. respond, when set,
// is called for every sent message and may push replies.
type fakeRaw struct {
	msgs     chan *pb.CastMessage
	startErr error
	block    chan struct{}

	mu      sync.Mutex
	sent    []sentMsg
	closed  bool
	respond func(f *fakeRaw, m sentMsg)
}

func newFakeRaw() *fakeRaw {
	return &fakeRaw{msgs: make(chan *pb.CastMessage, 32)}
}

func (f *fakeRaw) Start(addr string, port int) error {
	if f.block != nil {
		<-f.block
	}
	return f.startErr
}

func (f *fakeRaw) MsgChan() chan *pb.CastMessage { return f.msgs }

func (f *fakeRaw) Send(id int, p vcast.Payload, src, dst, ns string) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	m := sentMsg{id: id, src: src, dst: dst, ns: ns, body: body}

	f.mu.Lock()
	f.sent = append(f.sent, m)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		respond(f, m)
	}
	return nil
}

func (f *fakeRaw) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRaw) push(src, dst, ns, payload string) {
	f.msgs <- &pb.CastMessage{
		SourceId:      &src,
		DestinationId: &dst,
		Namespace:     &ns,
		PayloadUtf8:   &payload,
	}
}

func (f *fakeRaw) sentOfType(ns, typ string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.ns == ns && m.typ() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRaw) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

const statusJSON = `{"type":"RECEIVER_STATUS","requestId":%d,"status":{"applications":[%s],"volume":{"level":0.25,"muted":true}}}`

func appJSON(appID, session, transport string) string {
	return fmt.Sprintf(`{"appId":%q,"displayName":"App","sessionId":%q,"transportId":%q}`, appID, session, transport)
}

// receiverReplies answers GET_STATUS with apps and everything else on the
// receiver namespace with an empty status.
func receiverReplies(apps ...string) func(*fakeRaw, sentMsg) {
	return func(f *fakeRaw, m sentMsg) {
		if m.ns != cast.NamespaceReceiver {
			return
		}
		list := ""
		if m.typ() == "GET_STATUS" {
			for i, a := range apps {
				if i > 0 {
					list += ","
				}
				list += a
			}
		}
		f.push(platformReceiver, m.src, m.ns, fmt.Sprintf(statusJSON, m.id, list))
	}
}

func dial(t *testing.T, raw *fakeRaw, heartbeat time.Duration) *conn {
	t.Helper()
	d := NewDialer(Options{Heartbeat: heartbeat})
	d.newConn = func() rawConn { return raw }

	c, err := d.Dial(context.Background(), "10.0.0.5", 8009)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.(*conn)
}

func TestDial_OpensPlatformChannel(t *testing.T) {
	raw := newFakeRaw()
	dial(t, raw, time.Minute)

	connects := raw.sentOfType(cast.NamespaceConnection, "CONNECT")
	if len(connects) != 1 || connects[0].dst != platformReceiver {
		t.Errorf("CONNECT messages = %+v", connects)
	}
}

func TestDial_Errors(t *testing.T) {
	raw := newFakeRaw()
	raw.startErr = errors.New("refused")
	d := NewDialer(Options{})
	d.newConn = func() rawConn { return raw }

	if _, err := d.Dial(context.Background(), "10.0.0.5", 8009); err == nil {
		t.Error("Dial() with failing Start: want error")
	}

	slow := newFakeRaw()
	slow.block = make(chan struct{})
	d.newConn = func() rawConn { return slow }
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Dial(ctx, "10.0.0.5", 8009); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dial() with slow Start error = %v, want DeadlineExceeded", err)
	}
	close(slow.block)
}

func TestStatus(t *testing.T) {
	raw := newFakeRaw()
	raw.respond = receiverReplies(appJSON("CC1AD845", "s-1", "t-1"))
	c := dial(t, raw, time.Minute)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Applications) != 1 || st.Applications[0].TransportID != "t-1" {
		t.Errorf("applications = %+v", st.Applications)
	}
	if st.Volume.Level != 0.25 || !st.Volume.Muted {
		t.Errorf("volume = %+v", st.Volume)
	}
}

func TestRequest_ErrorReply(t *testing.T) {
	raw := newFakeRaw()
	raw.respond = func(f *fakeRaw, m sentMsg) {
		if m.ns == cast.NamespaceMedia {
			f.push("t-1", m.src, m.ns, fmt.Sprintf(`{"type":"LOAD_FAILED","requestId":%d,"reason":"bad stream"}`, m.id))
		}
	}
	c := dial(t, raw, time.Minute)

	ch, err := c.Join(context.Background(), cast.Session{AppID: "CC1AD845", SessionID: "s-1", TransportID: "t-1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = ch.Request(context.Background(), cast.NamespaceMedia, &cast.Header{Type: "LOAD"})

	var reqErr *cast.RequestError
	if !errors.As(err, &reqErr) || reqErr.Type != "LOAD_FAILED" || reqErr.Reason != "bad stream" {
		t.Errorf("Request() error = %v, want LOAD_FAILED RequestError", err)
	}
}

func TestRequest_ContextTimeout(t *testing.T) {
	raw := newFakeRaw()
	c := dial(t, raw, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Status(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Status() error = %v, want DeadlineExceeded", err)
	}
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending requests = %d, want 0", pending)
	}
}

func TestHeartbeat_AnswersPing(t *testing.T) {
	raw := newFakeRaw()
	dial(t, raw, time.Minute)

	raw.push(platformReceiver, platformSender, cast.NamespaceHeartbeat, `{"type":"PING"}`)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pongs := raw.sentOfType(cast.NamespaceHeartbeat, "PONG"); len(pongs) == 1 {
			if pongs[0].dst != platformReceiver {
				t.Errorf("PONG sent to %q", pongs[0].dst)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no PONG sent")
}

func TestHeartbeat_TimeoutFailsConnection(t *testing.T) {
	raw := newFakeRaw()
	c := dial(t, raw, 10*time.Millisecond)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("silent connection was not failed")
	}
	if !errors.Is(c.Err(), ErrHeartbeatTimeout) {
		t.Errorf("Err() = %v, want ErrHeartbeatTimeout", c.Err())
	}
	if !raw.isClosed() {
		t.Error("socket not closed")
	}
}

func TestLaunch_WaitsForApp(t *testing.T) {
	raw := newFakeRaw()
	var mu sync.Mutex
	statusCalls := 0
	raw.respond = func(f *fakeRaw, m sentMsg) {
		if m.ns != cast.NamespaceReceiver {
			return
		}
		apps := ""
		if m.typ() == "GET_STATUS" {
			mu.Lock()
			statusCalls++
			mu.Unlock()
			apps = appJSON("0A938E83", "s-9", "t-9")
		}
		f.push(platformReceiver, m.src, m.ns, fmt.Sprintf(statusJSON, m.id, apps))
	}
	c := dial(t, raw, time.Minute)

	s, err := c.Launch(context.Background(), "0A938E83")
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if s.TransportID != "t-9" {
		t.Errorf("Launch() = %+v", s)
	}
	if launches := raw.sentOfType(cast.NamespaceReceiver, "LAUNCH"); len(launches) != 1 || launches[0].body["appId"] != "0A938E83" {
		t.Errorf("LAUNCH messages = %+v", launches)
	}
	mu.Lock()
	defer mu.Unlock()
	if statusCalls == 0 {
		t.Error("Launch did not poll for the app")
	}
}

func TestStopAndVolume(t *testing.T) {
	raw := newFakeRaw()
	raw.respond = receiverReplies()
	c := dial(t, raw, time.Minute)

	if err := c.StopSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	stops := raw.sentOfType(cast.NamespaceReceiver, "STOP")
	if len(stops) != 1 || stops[0].body["sessionId"] != "s-1" {
		t.Errorf("STOP messages = %+v", stops)
	}

	muted := false
	if err := c.SetVolume(context.Background(), cast.VolumeChange{Muted: &muted}); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	vols := raw.sentOfType(cast.NamespaceReceiver, "SET_VOLUME")
	if len(vols) != 1 {
		t.Fatalf("SET_VOLUME messages = %d", len(vols))
	}
	vol, _ := vols[0].body["volume"].(map[string]any)
	if _, hasLevel := vol["level"]; hasLevel || vol["muted"] != false {
		t.Errorf("volume body = %v, want only muted=false", vol)
	}
}

func TestChannels_IndependentSenders(t *testing.T) {
	raw := newFakeRaw()
	c := dial(t, raw, time.Minute)
	sess := cast.Session{AppID: "00F5709C", SessionID: "s-1", TransportID: "t-1"}

	a, err := c.Join(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Join(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	senderA := a.(*channel).senderID
	senderB := b.(*channel).senderID
	if senderA == senderB {
		t.Fatal("channels share a sender id")
	}

	raw.push("t-1", "*", cast.NamespaceMedia, `{"type":"MEDIA_STATUS","status":[{"mediaSessionId":1,"playerState":"PLAYING"}]}`)
	for _, ch := range []cast.Channel{a, b} {
		select {
		case ev := <-ch.Events():
			if ev.Type != "MEDIA_STATUS" {
				t.Errorf("event type = %q", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}

	raw.push("t-1", senderA, cast.NamespaceConnection, `{"type":"CLOSE"}`)
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("remote CLOSE did not close the channel")
	}
	select {
	case <-b.Done():
		t.Error("remote CLOSE closed an unrelated channel")
	default:
	}

	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	closes := raw.sentOfType(cast.NamespaceConnection, "CLOSE")
	if len(closes) != 1 || closes[0].src != senderB || closes[0].dst != "t-1" {
		t.Errorf("CLOSE messages = %+v", closes)
	}
}

func TestSocketLoss_ClosesEverything(t *testing.T) {
	raw := newFakeRaw()
	c := dial(t, raw, time.Minute)
	ch, err := c.Join(context.Background(), cast.Session{AppID: "CC1AD845", TransportID: "t-1"})
	if err != nil {
		t.Fatal(err)
	}

	close(raw.msgs)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not failed after socket loss")
	}
	select {
	case <-ch.Done():
	default:
		t.Error("channel not closed with its connection")
	}
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() after loss error = %v, want ErrClosed", err)
	}
}
