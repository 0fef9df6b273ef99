package cast

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Capability is a device value exposed to the automation engine.
type Capability string

// Capabilities.
const (
	CapVolumeSet       Capability = "volume_set"
	CapVolumeMute      Capability = "volume_mute"
	CapSpeakerPlaying  Capability = "speaker_playing"
	CapSpeakerPosition Capability = "speaker_position"
	CapSpeakerPrev     Capability = "speaker_prev"
	CapSpeakerNext     Capability = "speaker_next"
)

// CapabilityChange is emitted when a cached value changes.
type CapabilityChange struct {
	DeviceID   string     `json:"device_id"`
	Capability Capability `json:"capability"`
	Value      any        `json:"value"`
	At         time.Time  `json:"at"`
}

// Capabilities caches the last known capability values per device.
type Capabilities struct {
	mu        sync.RWMutex
	values    map[string]map[Capability]any
	listeners []func(CapabilityChange)
}

// NewCapabilities creates an empty capability cache.
func NewCapabilities() *Capabilities {
	return &Capabilities{values: make(map[string]map[Capability]any)}
}

// OnChange registers fn to be called, outside the lock, on every change.
func (c *Capabilities) OnChange(fn func(CapabilityChange)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Set stores value and notifies listeners if it differs from the cached one.
func (c *Capabilities) Set(deviceID string, capability Capability, value any) bool {
	c.mu.Lock()
	values, ok := c.values[deviceID]
	if !ok {
		values = make(map[Capability]any)
		c.values[deviceID] = values
	}
	if old, seen := values[capability]; seen && old == value {
		c.mu.Unlock()
		return false
	}
	values[capability] = value
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	change := CapabilityChange{DeviceID: deviceID, Capability: capability, Value: value, At: time.Now()}
	for _, fn := range listeners {
		fn(change)
	}
	return true
}

// Get returns the cached value.
func (c *Capabilities) Get(deviceID string, capability Capability) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[deviceID][capability]
	return v, ok
}

// Snapshot returns a copy of every cached value for a device.
func (c *Capabilities) Snapshot(deviceID string) map[Capability]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Capability]any, len(c.values[deviceID]))
	for k, v := range c.values[deviceID] {
		out[k] = v
	}
	return out
}

// ApplyReceiverStatus records volume values from a status poll. It has the
// StatusHandler signature.
func (c *Capabilities) ApplyReceiverStatus(deviceID string, status ReceiverStatus) {
	c.applyVolume(deviceID, status.Volume)
}

func (c *Capabilities) applyVolume(deviceID string, v Volume) {
	c.Set(deviceID, CapVolumeSet, roundLevel(v.Level))
	c.Set(deviceID, CapVolumeMute, v.Muted)
}

func roundLevel(level float64) float64 {
	return math.Round(level*100) / 100
}
