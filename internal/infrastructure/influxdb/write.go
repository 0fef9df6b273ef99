package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCapability = "cast_capability"
	MeasurementDiscovery  = "cast_discovery"
)

// DiscoveryPoint describes a device seen by mDNS discovery.
type DiscoveryPoint struct {
	DeviceID string
	Name     string
	Class    string
	Model    string
	Address  string
	Port     int
	Seen     time.Time
}

// WriteCapability records a capability value. Values that are not numbers
// or booleans are skipped.
func (c *Client) WriteCapability(deviceID, capability string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	v, ok := toFloat(value)
	if !ok {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementCapability,
		map[string]string{"device_id": deviceID, "capability": capability},
		map[string]any{"value": v},
		at,
	))
}

// WriteDiscovery records a discovery event.
func (c *Client) WriteDiscovery(p DiscoveryPoint) {
	if !c.IsConnected() {
		return
	}

	at := p.Seen
	if at.IsZero() {
		at = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementDiscovery,
		map[string]string{"device_id": p.DeviceID, "class": p.Class, "model": p.Model},
		map[string]any{"name": p.Name, "address": p.Address, "port": p.Port},
		at,
	))
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
