package chromecast

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

// Protocol is the protocol identifier carried in bridge messages.
const Protocol = "chromecast"

// CommandMessage is sent from Core to the bridge to run a device command.
// Topic: graylogic/command/chromecast/{device}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the 32-character receiver id. Defaults to the topic id.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "cast_youtube", "set_volume").
	Command string `json:"command"`

	// Parameters holds command-specific values, passed through to the
	// cast controller undecoded.
	// Examples:
	//   {"url": "http://host/clip.mp4"} for cast_media_url
	//   {"level": 0.4} for set_volume
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command ran on the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/chromecast/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Result is the command's return value, if it has one.
	Result any `json:"result,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage carries every cached capability value of a device.
// Topic: graylogic/state/chromecast/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`

	// Changed names the capability whose change triggered this message.
	Changed string `json:"changed,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/chromecast
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Connections summarises the receiver connections.
	Connections *ConnectionSummary `json:"connections,omitempty"`

	// DevicesKnown is the number of receivers in the registry.
	DevicesKnown int `json:"devices_known"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionSummary counts receiver connections by state.
type ConnectionSummary struct {
	Open       int `json:"open"`
	Connecting int `json:"connecting"`
	Closing    int `json:"closing"`
	Leases     int `json:"leases"`
}

// RequestMessage is sent from Core to the bridge for reads.
// Topic: graylogic/request/chromecast/{device}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of "get_volume", "get_playing", "get_capabilities"
	// and "list_devices".
	Action string `json:"action"`

	// DeviceID defaults to the topic id.
	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionGetVolume       = "get_volume"
	ActionGetPlaying      = "get_playing"
	ActionGetCapabilities = "get_capabilities"
	ActionListDevices     = "list_devices"
)

// ResponseMessage answers a request.
// Topic: graylogic/response/chromecast/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage lists every known receiver.
// Topic: graylogic/discovery/chromecast
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one receiver in a DiscoveryMessage.
type DiscoveredDevice struct {
	Protocol      string    `json:"protocol"`
	Address       string    `json:"address"`
	Type          string    `json:"type"`
	Capabilities  []string  `json:"capabilities"`
	Product       string    `json:"product,omitempty"`
	SuggestedName string    `json:"suggested_name,omitempty"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	LastSeen      time.Time `json:"last_seen"`
}

// routedCommands are the commands accepted on the command topic.
var routedCommands = map[cast.Command]bool{
	cast.CmdCastMediaURL:        true,
	cast.CmdCastYoutube:         true,
	cast.CmdCastYoutubePlaylist: true,
	cast.CmdCastRadio:           true,
	cast.CmdCastURL:             true,
	cast.CmdPlay:                true,
	cast.CmdPause:               true,
	cast.CmdStop:                true,
	cast.CmdNext:                true,
	cast.CmdPrevious:            true,
	cast.CmdSetVolume:           true,
	cast.CmdSetLoop:             true,
	cast.CmdSetShuffle:          true,
	cast.CmdSetTrack:            true,
	cast.CmdSetPosition:         true,
	cast.CmdSetActive:           true,
	cast.CmdSetCapability:       true,
}

// readableCapabilities are reported by get_capabilities.
var readableCapabilities = []cast.Capability{
	cast.CapVolumeSet,
	cast.CapVolumeMute,
	cast.CapSpeakerPlaying,
	cast.CapSpeakerPosition,
}

// NewAckMessage creates a success acknowledgment.
func NewAckMessage(cmd CommandMessage, result any) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
		Result:    result,
	}
}

// NewAckError creates a failed acknowledgment with the mapped error code.
func NewAckError(cmd CommandMessage, err error) AckMessage {
	code := ErrorCode(err)
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    status,
		Protocol:  Protocol,
		Error:     &AckError{Code: code, Message: err.Error()},
	}
}

// NewStateMessage creates a state message from a capability snapshot.
func NewStateMessage(deviceID string, snapshot map[cast.Capability]any, changed cast.Capability) StateMessage {
	state := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		state[string(k)] = v
	}
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Changed:   string(changed),
	}
}

// NewResponse creates a successful response.
func NewResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewResponseError creates a failed response with the mapped error code.
func NewResponseError(req RequestMessage, err error) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: ErrorCode(err), Message: err.Error()},
	}
}

// NewDiscoveredDevice converts a registry entry.
func NewDiscoveredDevice(d cast.Device) DiscoveredDevice {
	return DiscoveredDevice{
		Protocol:      Protocol,
		Address:       d.ID,
		Type:          string(d.Class),
		Capabilities:  classCapabilities(d.Class),
		Product:       d.Model,
		SuggestedName: d.Name,
		Host:          d.Address,
		Port:          d.Port,
		LastSeen:      d.LastSeen,
	}
}

// NewDiscoveryMessage creates a discovery message for every known device.
func NewDiscoveryMessage(bridgeID string, devices []cast.Device) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}
	for _, d := range devices {
		msg.Devices = append(msg.Devices, NewDiscoveredDevice(d))
	}
	return msg
}

// classCapabilities lists what the automation engine can drive on a class.
func classCapabilities(class cast.Class) []string {
	caps := []string{"volume", "media", "radio", "speaker"}
	if cast.Supports(class, cast.CmdCastYoutube) {
		caps = append(caps, "youtube", "browser")
	}
	return caps
}
