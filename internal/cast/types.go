package cast

import (
	"net"
	"strconv"
	"time"
)

// Class is the capability class of a receiver, derived from its model.
type Class string

// Device classes. The string values are shared with the device package.
const (
	ClassChromecast      Class = "chromecast"
	ClassChromecastAudio Class = "chromecast_audio"
	ClassChromecastGroup Class = "chromecast_group"
	ClassCastEnabled     Class = "cast_enabled"
)

// Advertisement is one raw mDNS announcement.
type Advertisement struct {
	// Name is the service instance name.
	Name string

	// Service is the advertised service type, e.g. "_googlecast._tcp".
	Service string

	// Addresses are candidate IPs, IPv4 first.
	Addresses []net.IP

	Port int

	// TXT holds the key/value metadata (id, md, fn, ...).
	TXT map[string]string
}

// Device is the registry's view of a discovered receiver.
type Device struct {
	// ID is the 32-character canonical identifier (TXT id without dashes).
	ID string `json:"id"`

	// Name is the friendly name (TXT fn).
	Name string `json:"name"`

	// Model is the advertised model string (TXT md).
	Model string `json:"model"`

	Class Class `json:"class"`

	// Address is the first advertised address, used to connect.
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
	Port      int      `json:"port"`

	TXT      map[string]string `json:"txt,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
}

// Endpoint returns the host:port used to reach the device.
func (d Device) Endpoint() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// Session is one receiver application reported in a receiver status.
type Session struct {
	AppID        string   `json:"appId"`
	DisplayName  string   `json:"displayName"`
	SessionID    string   `json:"sessionId"`
	TransportID  string   `json:"transportId"`
	StatusText   string   `json:"statusText,omitempty"`
	IsIdleScreen bool     `json:"isIdleScreen,omitempty"`
	Namespaces   []string `json:"namespaces,omitempty"`
}

// Volume is the receiver-level volume.
type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// VolumeChange sets the level, the mute flag, or both.
type VolumeChange struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

// ReceiverStatus is the result of a receiver GET_STATUS.
type ReceiverStatus struct {
	Applications []Session `json:"applications"`
	Volume       Volume    `json:"volume"`
}

// Player states reported in media status.
const (
	PlayerPlaying   = "PLAYING"
	PlayerPaused    = "PAUSED"
	PlayerBuffering = "BUFFERING"
	PlayerIdle      = "IDLE"
)

// MediaStatus is one entry of a media-namespace status message.
type MediaStatus struct {
	MediaSessionID int     `json:"mediaSessionId"`
	PlayerState    string  `json:"playerState"`
	CurrentTime    float64 `json:"currentTime"`
	IdleReason     string  `json:"idleReason,omitempty"`
}

// Station is an internet radio station.
type Station struct {
	// URL points at a playlist whose first line is the stream URL.
	URL   string `json:"url"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Artwork holds track images at several sizes.
type Artwork struct {
	Small  string `json:"small,omitempty"`
	Medium string `json:"medium,omitempty"`
	Large  string `json:"large,omitempty"`
}

// best returns the largest available image.
func (a Artwork) best() string {
	switch {
	case a.Large != "":
		return a.Large
	case a.Medium != "":
		return a.Medium
	default:
		return a.Small
	}
}

// Track is a speaker track.
type Track struct {
	StreamURL string   `json:"stream_url"`
	Title     string   `json:"title"`
	Artists   []string `json:"artists,omitempty"`
	Artwork   Artwork  `json:"artwork"`
}

// TrackOptions controls how SetTrack loads a track.
type TrackOptions struct {
	// Delay queues the load. A newer SetTrack cancels a queued one.
	Delay time.Duration `json:"delay"`

	// Position is the start offset.
	Position time.Duration `json:"position"`

	StartPlaying bool `json:"start_playing"`
}

// Prefs are the persisted per-device playback preferences.
type Prefs struct {
	Loop    bool
	Shuffle bool
}
