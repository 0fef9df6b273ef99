package device

import "time"

// Class is the capability class of a paired receiver.
type Class string

// Known classes. Values match the cast registry class names.
const (
	ClassChromecast      Class = "chromecast"
	ClassChromecastAudio Class = "chromecast_audio"
	ClassChromecastGroup Class = "chromecast_group"
	ClassCastEnabled     Class = "cast_enabled"
)

// ValidClasses lists every recognised class.
var ValidClasses = []Class{
	ClassChromecast,
	ClassChromecastAudio,
	ClassChromecastGroup,
	ClassCastEnabled,
}

// Device is a paired Chromecast-family receiver.
type Device struct {
	// ID is the 32-character canonical cast identifier.
	ID string `json:"id"`

	// Name is the friendly name, initially the advertised fn value.
	Name string `json:"name"`

	Class Class  `json:"class"`
	Model string `json:"model,omitempty"`

	// Loop and Shuffle are applied to YouTube content on this device.
	Loop    bool `json:"loop"`
	Shuffle bool `json:"shuffle"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Prefs are the per-device playback preferences.
type Prefs struct {
	Loop    bool `json:"loop"`
	Shuffle bool `json:"shuffle"`
}

// Prefs returns the device's playback preferences.
func (d *Device) Prefs() Prefs {
	return Prefs{Loop: d.Loop, Shuffle: d.Shuffle}
}
