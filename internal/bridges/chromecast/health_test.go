package chromecast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
)

type fakeStats []cast.ConnStats

func (f fakeStats) Stats() []cast.ConnStats { return f }

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		devices    int
		conns      fakeStats
		wantStatus HealthStatus
		wantReason string
	}{
		{"mqtt down", false, 3, nil, HealthDegraded, "MQTT disconnected"},
		{"nothing discovered", true, 0, nil, HealthDegraded, "no receivers discovered"},
		{"only connecting", true, 2, fakeStats{{State: cast.StateConnecting}}, HealthDegraded, "receivers connecting"},
		{"healthy idle", true, 2, nil, HealthHealthy, ""},
		{"healthy open", true, 2, fakeStats{{State: cast.StateOpen}, {State: cast.StateConnecting}}, HealthHealthy, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.setConnected(tt.connected)
			cfg := HealthReporterConfig{
				Publisher: pub,
				Devices:   func() int { return tt.devices },
			}
			if tt.conns != nil {
				cfg.Connections = tt.conns
			}
			h := NewHealthReporter(cfg)

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthMessage_Summary(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID: "chromecast",
		Version:  "1.2.3",
		Connections: fakeStats{
			{DeviceID: "a", State: cast.StateOpen, Leases: 2},
			{DeviceID: "b", State: cast.StateOpen, Leases: 1},
			{DeviceID: "c", State: cast.StateClosing},
		},
		Devices: func() int { return 4 },
	})

	msg := h.message(HealthHealthy, "")
	want := ConnectionSummary{Open: 2, Closing: 1, Leases: 3}
	if msg.Connections == nil || *msg.Connections != want {
		t.Errorf("connections = %+v, want %+v", msg.Connections, want)
	}
	if msg.DevicesKnown != 4 || msg.Version != "1.2.3" || msg.Bridge != "chromecast" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: pub,
		Interval:  10 * time.Millisecond,
		Devices:   func() int { return 1 },
	})

	h.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(pub.GetPublished(mqtt.Topics{}.Health())) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	msgs := pub.GetPublished(mqtt.Topics{}.Health())
	if len(msgs) < 3 {
		t.Fatalf("published %d health messages, want at least 3", len(msgs))
	}
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %q, want stopping", last.Status)
	}
	for _, m := range msgs {
		if !m.Retained || m.QoS != 1 {
			t.Errorf("health publish retained=%v qos=%d", m.Retained, m.QoS)
		}
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher = %v", err)
	}
	if h.interval != DefaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultHealthInterval)
	}
}
