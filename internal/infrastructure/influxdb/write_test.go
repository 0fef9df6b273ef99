package influxdb

import (
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, connected: true}, w
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestWriteCapability(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		value any
		want  float64
	}{
		{0.35, 0.35},
		{true, 1},
		{false, 0},
		{int64(91000), 91000},
		{7, 7},
	}
	for _, tt := range tests {
		c, w := newTestClient()
		c.WriteCapability("dev1", "volume_set", tt.value, at)

		if len(w.points) != 1 {
			t.Fatalf("value %v: %d points written", tt.value, len(w.points))
		}
		p := w.points[0]
		if p.Name() != MeasurementCapability || !p.Time().Equal(at) {
			t.Errorf("point = %s at %v", p.Name(), p.Time())
		}
		if tg := tags(p); tg["device_id"] != "dev1" || tg["capability"] != "volume_set" {
			t.Errorf("tags = %v", tg)
		}
		if got := fields(p)["value"]; got != tt.want {
			t.Errorf("value %v written as %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestWriteCapability_SkipsUnsupported(t *testing.T) {
	c, w := newTestClient()
	c.WriteCapability("dev1", "volume_set", "loud", time.Now())
	c.WriteCapability("dev1", "volume_set", nil, time.Now())
	if len(w.points) != 0 {
		t.Errorf("%d points written for unsupported values", len(w.points))
	}
}

func TestWriteDiscovery(t *testing.T) {
	c, w := newTestClient()
	c.WriteDiscovery(DiscoveryPoint{
		DeviceID: "dev1", Name: "Kitchen", Class: "chromecast_audio", Model: "Chromecast Audio",
		Address: "192.168.1.7", Port: 8009,
	})

	if len(w.points) != 1 {
		t.Fatalf("%d points written", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementDiscovery || p.Time().IsZero() {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}
	if tg := tags(p); tg["class"] != "chromecast_audio" || tg["model"] != "Chromecast Audio" {
		t.Errorf("tags = %v", tg)
	}
	f := fields(p)
	if f["name"] != "Kitchen" || f["address"] != "192.168.1.7" || f["port"] != int64(8009) {
		t.Errorf("fields = %v", f)
	}
}

func TestWritesAfterClose(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	c.WriteCapability("dev1", "volume_mute", true, time.Now())
	c.WriteDiscovery(DiscoveryPoint{DeviceID: "dev1"})
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("%d points written after Close", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close)", w.flushes)
	}
}

func TestForwardErrors(t *testing.T) {
	c, _ := newTestClient()
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- ErrNotConnected
	close(errs)
	c.forwardErrors(errs)

	select {
	case err := <-got:
		if err == nil {
			t.Fatal("nil error forwarded")
		}
	default:
		t.Fatal("error not forwarded")
	}
}
