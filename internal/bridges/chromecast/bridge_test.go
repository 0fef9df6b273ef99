package chromecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
)

const testDeviceID = "0123456789abcdef0123456789abcdef"

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateMessage delivers payload to every handler whose pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var matched []mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()
	if len(matched) == 0 {
		return fmt.Errorf("no subscription for %s", topic)
	}
	for _, h := range matched {
		if err := h(topic, payload); err != nil {
			return err
		}
	}
	return nil
}

func topicMatches(pattern, topic string) bool {
	p, t := strings.Split(pattern, "/"), strings.Split(topic, "/")
	if len(p) != len(t) {
		return false
	}
	for i := range p {
		if p[i] != "+" && p[i] != t[i] {
			return false
		}
	}
	return true
}

func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

// fakeController records Execute calls and answers from tables.
type fakeController struct {
	mu      sync.Mutex
	calls   []executeCall
	results map[cast.Command]any
	errs    map[cast.Command]error
	caps    map[cast.Capability]any
}

type executeCall struct {
	DeviceID string
	Command  cast.Command
	Params   string
}

func newFakeController() *fakeController {
	return &fakeController{
		results: make(map[cast.Command]any),
		errs:    make(map[cast.Command]error),
		caps:    make(map[cast.Capability]any),
	}
}

func (f *fakeController) Execute(_ context.Context, id string, cmd cast.Command, params json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, executeCall{DeviceID: id, Command: cmd, Params: string(params)})
	return f.results[cmd], f.errs[cmd]
}

func (f *fakeController) CapabilityGet(_ context.Context, _ string, capability cast.Capability) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[capability], nil
}

func (f *fakeController) getCalls() []executeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executeCall(nil), f.calls...)
}

type testBridge struct {
	*Bridge
	mqtt       *MockMQTTClient
	controller *fakeController
	registry   *cast.Registry
	caps       *cast.Capabilities
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		mqtt:       NewMockMQTTClient(),
		controller: newFakeController(),
		registry:   cast.NewRegistry(nil, 0),
		caps:       cast.NewCapabilities(),
	}
	b, err := NewBridge(BridgeOptions{
		Version:      "test",
		MQTTClient:   tb.mqtt,
		Controller:   tb.controller,
		Registry:     tb.registry,
		Capabilities: tb.caps,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	tb.Bridge = b
	t.Cleanup(b.Stop)
	return tb
}

func livingRoom() cast.Advertisement {
	return cast.Advertisement{
		Name:      "Living Room",
		Service:   "_googlecast._tcp",
		Addresses: []net.IP{net.ParseIP("192.168.1.20")},
		Port:      8009,
		TXT:       map[string]string{"id": testDeviceID, "md": "Chromecast", "fn": "Living Room"},
	}
}

func decodeAck(t *testing.T, p mockPublish) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func lastAck(t *testing.T, m *MockMQTTClient) AckMessage {
	t.Helper()
	acks := m.GetPublished(mqtt.Topics{}.Ack(testDeviceID))
	if len(acks) == 0 {
		t.Fatal("no ack published")
	}
	return decodeAck(t, acks[len(acks)-1])
}

func TestNewBridge_Validation(t *testing.T) {
	full := BridgeOptions{
		MQTTClient:   NewMockMQTTClient(),
		Controller:   newFakeController(),
		Registry:     cast.NewRegistry(nil, 0),
		Capabilities: cast.NewCapabilities(),
	}
	tests := []struct {
		name   string
		mutate func(*BridgeOptions)
	}{
		{"no mqtt", func(o *BridgeOptions) { o.MQTTClient = nil }},
		{"no controller", func(o *BridgeOptions) { o.Controller = nil }},
		{"no registry", func(o *BridgeOptions) { o.Registry = nil }},
		{"no capabilities", func(o *BridgeOptions) { o.Capabilities = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			if _, err := NewBridge(opts); err == nil {
				t.Error("NewBridge() succeeded, want error")
			}
		})
	}

	b, err := NewBridge(full)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if b.id != DefaultBridgeID {
		t.Errorf("bridge id = %q, want %q", b.id, DefaultBridgeID)
	}
}

func TestStart_SubscribesAndAnnounces(t *testing.T) {
	tb := newTestBridge(t)
	if _, _, err := tb.registry.Upsert(livingRoom()); err != nil {
		t.Fatal(err)
	}

	if err := tb.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, topic := range []string{mqtt.Topics{}.AllCommands(), mqtt.Topics{}.AllRequests()} {
		if _, ok := tb.mqtt.handlers[topic]; !ok {
			t.Errorf("not subscribed to %s", topic)
		}
	}

	health := tb.mqtt.GetPublished(mqtt.Topics{}.Health())
	if len(health) == 0 || !health[0].Retained {
		t.Fatal("no retained health message")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Status != HealthStarting {
		t.Errorf("first health status = %q, want starting", first.Status)
	}

	disc := tb.mqtt.GetPublished(mqtt.Topics{}.Discovery())
	if len(disc) != 1 || !disc[0].Retained {
		t.Fatalf("discovery published %d times", len(disc))
	}
	var msg DiscoveryMessage
	if err := json.Unmarshal(disc[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.Devices) != 1 || msg.Devices[0].Address != testDeviceID || msg.Devices[0].Type != "chromecast" {
		t.Errorf("discovery devices = %+v", msg.Devices)
	}
}

func TestCommand_Accepted(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	payload := `{"id":"cmd-1","timestamp":"2026-01-01T00:00:00Z","command":"set_volume","parameters":{"level":0.4}}`
	if err := tb.mqtt.SimulateMessage(mqtt.Topics{}.Command(testDeviceID), []byte(payload)); err != nil {
		t.Fatal(err)
	}
	tb.Stop()

	calls := tb.controller.getCalls()
	if len(calls) != 1 {
		t.Fatalf("Execute called %d times", len(calls))
	}
	if calls[0].DeviceID != testDeviceID || calls[0].Command != cast.CmdSetVolume || calls[0].Params != `{"level":0.4}` {
		t.Errorf("Execute call = %+v", calls[0])
	}

	ack := lastAck(t, tb.mqtt)
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted || ack.Error != nil || ack.Protocol != Protocol {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommand_FailedAckCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus AckStatus
	}{
		{"unknown device", fmt.Errorf("%w: abc", cast.ErrUnknownDevice), ErrCodeNotConfigured, AckFailed},
		{"no session", cast.ErrNoActiveSession, ErrCodeNoActiveSession, AckFailed},
		{"unsupported", fmt.Errorf("%w: cast_youtube on chromecast_audio", cast.ErrUnsupportedCommand), ErrCodeUnsupported, AckFailed},
		{"invalid url", cast.ErrInvalidURL, ErrCodeInvalidURL, AckFailed},
		{"superseded", cast.ErrDebounced, ErrCodeSuperseded, AckFailed},
		{"unreachable", fmt.Errorf("%w: refused", cast.ErrConnectionFailed), ErrCodeDeviceUnreachable, AckFailed},
		{"timeout", fmt.Errorf("%w: %w", cast.ErrConnectionFailed, context.DeadlineExceeded), ErrCodeTimeout, AckTimeout},
		{"bad params", cast.ErrInvalidParameters, ErrCodeInvalidParameters, AckFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.controller.errs[cast.CmdPlay] = tt.err

			tb.handleCommand(testDeviceID, []byte(`{"id":"c","command":"play"}`))

			ack := lastAck(t, tb.mqtt)
			if ack.Status != tt.wantStatus || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, error %+v; want %s/%s", ack, ack.Error, tt.wantStatus, tt.wantCode)
			}
			if m := tb.GetMetrics(); m.CommandsTotal != 1 || m.CommandsFailed != 1 {
				t.Errorf("metrics = %+v", m)
			}
		})
	}
}

func TestCommand_UnknownCommand(t *testing.T) {
	tb := newTestBridge(t)

	tb.handleCommand(testDeviceID, []byte(`{"id":"c","command":"get_volume"}`))

	if calls := tb.controller.getCalls(); len(calls) != 0 {
		t.Errorf("Execute called for unrouted command: %+v", calls)
	}
	if ack := lastAck(t, tb.mqtt); ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommand_GeneratesIDAndKeepsPayloadDevice(t *testing.T) {
	tb := newTestBridge(t)
	other := "fedcba9876543210fedcba9876543210"

	tb.handleCommand(testDeviceID, []byte(`{"device_id":"`+other+`","command":"stop"}`))

	acks := tb.mqtt.GetPublished(mqtt.Topics{}.Ack(other))
	if len(acks) != 1 {
		t.Fatalf("acks on payload device topic = %d", len(acks))
	}
	if ack := decodeAck(t, acks[0]); ack.CommandID == "" || ack.DeviceID != other {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommand_MalformedPayload(t *testing.T) {
	tb := newTestBridge(t)

	tb.handleCommand(testDeviceID, []byte(`{not json`))

	if acks := tb.mqtt.GetPublished(mqtt.Topics{}.Ack(testDeviceID)); len(acks) != 0 {
		t.Errorf("published %d acks for malformed payload", len(acks))
	}
}

type auditEntry struct {
	source, subject, deviceID, command string
	failed                             bool
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAuditor) Command(_ context.Context, source, subject, deviceID, command string, cmdErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{source, subject, deviceID, command, cmdErr != nil})
}

func TestCommand_Audited(t *testing.T) {
	auditor := &fakeAuditor{}
	ctrl := newFakeController()
	ctrl.errs[cast.CmdStop] = cast.ErrNoActiveSession
	b, err := NewBridge(BridgeOptions{
		MQTTClient:   NewMockMQTTClient(),
		Controller:   ctrl,
		Registry:     cast.NewRegistry(nil, 0),
		Capabilities: cast.NewCapabilities(),
		Auditor:      auditor,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)

	b.handleCommand(testDeviceID, []byte(`{"command":"play","source":"scene"}`))
	b.handleCommand(testDeviceID, []byte(`{"command":"stop"}`))
	b.handleCommand(testDeviceID, []byte(`{not json`))

	want := []auditEntry{
		{"mqtt", "scene", testDeviceID, "play", false},
		{"mqtt", "", testDeviceID, "stop", true},
	}
	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if len(auditor.entries) != len(want) {
		t.Fatalf("audited %d commands, want %d: %+v", len(auditor.entries), len(want), auditor.entries)
	}
	for i, w := range want {
		if auditor.entries[i] != w {
			t.Errorf("entry %d = %+v, want %+v", i, auditor.entries[i], w)
		}
	}
}

func TestHandleMQTTMessage_RejectsForeignTopic(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.handleMQTTMessage("graylogic/command/knx/1", []byte(`{}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func decodeResponse(t *testing.T, m *MockMQTTClient, requestID string) ResponseMessage {
	t.Helper()
	pubs := m.GetPublished(mqtt.Topics{}.Response(requestID))
	if len(pubs) != 1 {
		t.Fatalf("%d responses for %s", len(pubs), requestID)
	}
	var resp ResponseMessage
	if err := json.Unmarshal(pubs[0].Payload, &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRequests(t *testing.T) {
	tb := newTestBridge(t)
	tb.controller.results[cast.CmdGetVolume] = cast.Volume{Level: 0.3}
	tb.controller.results[cast.CmdGetPlaying] = true
	tb.controller.caps[cast.CapVolumeSet] = 0.3
	tb.controller.caps[cast.CapVolumeMute] = false
	tb.controller.caps[cast.CapSpeakerPlaying] = true
	tb.controller.caps[cast.CapSpeakerPosition] = int64(1200)
	if _, _, err := tb.registry.Upsert(livingRoom()); err != nil {
		t.Fatal(err)
	}

	tb.handleRequest(testDeviceID, []byte(`{"request_id":"r1","action":"get_volume"}`))
	resp := decodeResponse(t, tb.mqtt, "r1")
	vol, _ := resp.Data["volume"].(map[string]any)
	if !resp.Success || vol["level"] != 0.3 {
		t.Errorf("get_volume response = %+v", resp)
	}

	tb.handleRequest(testDeviceID, []byte(`{"request_id":"r2","action":"get_playing"}`))
	if resp := decodeResponse(t, tb.mqtt, "r2"); resp.Data["playing"] != true {
		t.Errorf("get_playing response = %+v", resp)
	}

	tb.handleRequest(testDeviceID, []byte(`{"request_id":"r3","action":"get_capabilities"}`))
	resp = decodeResponse(t, tb.mqtt, "r3")
	if len(resp.Data) != 4 || resp.Data["speaker_position"] != float64(1200) || resp.Data["volume_mute"] != false {
		t.Errorf("get_capabilities data = %v", resp.Data)
	}

	tb.handleRequest("", []byte(`{"request_id":"r4","action":"list_devices"}`))
	resp = decodeResponse(t, tb.mqtt, "r4")
	if devices, _ := resp.Data["devices"].([]any); len(devices) != 1 {
		t.Errorf("list_devices data = %v", resp.Data)
	}
}

func TestRequests_Errors(t *testing.T) {
	tb := newTestBridge(t)
	tb.controller.errs[cast.CmdGetVolume] = cast.ErrUnknownDevice

	tb.handleRequest(testDeviceID, []byte(`{"request_id":"r1","action":"get_volume"}`))
	if resp := decodeResponse(t, tb.mqtt, "r1"); resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeNotConfigured {
		t.Errorf("response = %+v", resp)
	}

	tb.handleRequest(testDeviceID, []byte(`{"request_id":"r2","action":"reboot"}`))
	if resp := decodeResponse(t, tb.mqtt, "r2"); resp.Error == nil || resp.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("response = %+v", resp)
	}

	tb.handleRequest("", []byte(`{"request_id":"r3","action":"get_playing"}`))
	if resp := decodeResponse(t, tb.mqtt, "r3"); resp.Error == nil || resp.Error.Code != ErrCodeInvalidParameters {
		t.Errorf("response = %+v", resp)
	}

	tb.mqtt.ClearPublished()
	tb.handleRequest(testDeviceID, []byte(`{"action":"get_volume"}`))
	if len(tb.mqtt.published) != 0 {
		t.Error("response published for a request without request_id")
	}
}

func TestCapabilityChange_PublishesState(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tb.caps.Set(testDeviceID, cast.CapVolumeSet, 0.5)
	tb.caps.Set(testDeviceID, cast.CapVolumeMute, true)

	states := tb.mqtt.GetPublished(mqtt.Topics{}.State(testDeviceID))
	if len(states) != 2 {
		t.Fatalf("%d state messages, want 2", len(states))
	}
	last := states[1]
	if !last.Retained {
		t.Error("state not retained")
	}
	var msg StateMessage
	if err := json.Unmarshal(last.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Changed != "volume_mute" || msg.State["volume_set"] != 0.5 || msg.State["volume_mute"] != true {
		t.Errorf("state = %+v", msg)
	}
}

func TestDeviceKnown_RepublishesDiscovery(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	tb.mqtt.ClearPublished()

	if _, _, err := tb.registry.Upsert(livingRoom()); err != nil {
		t.Fatal(err)
	}
	// Unchanged address: no event.
	if _, _, err := tb.registry.Upsert(livingRoom()); err != nil {
		t.Fatal(err)
	}

	if disc := tb.mqtt.GetPublished(mqtt.Topics{}.Discovery()); len(disc) != 1 {
		t.Errorf("discovery published %d times, want 1", len(disc))
	}
}

func TestStop_IgnoresLateEvents(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	tb.Stop()
	tb.mqtt.ClearPublished()

	if err := tb.mqtt.SimulateMessage(mqtt.Topics{}.Command(testDeviceID), []byte(`{"command":"play"}`)); err != nil {
		t.Fatal(err)
	}
	tb.caps.Set(testDeviceID, cast.CapVolumeSet, 0.1)

	if len(tb.controller.getCalls()) != 0 || len(tb.mqtt.published) != 0 {
		t.Errorf("activity after Stop: calls %d, published %d", len(tb.controller.getCalls()), len(tb.mqtt.published))
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnknownCommand, ErrCodeInvalidCommand},
		{ErrUnknownAction, ErrCodeInvalidCommand},
		{ErrInvalidMessage, ErrCodeInvalidParameters},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{fmt.Errorf("%w: saving loop preference: disk I/O error", cast.ErrPrefsUnavailable), ErrCodePrefsUnavailable},
		{errors.New("boom"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
