package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = "graylogic"

// Protocol is the protocol segment graycast owns in the bridge topic scheme.
const Protocol = "chromecast"

// Topics builds the flat bridge topics used by graycast:
//
//	graylogic/{category}/chromecast/{device_or_request_id}
//
// Device ids are 32-character hex strings and never need escaping.
type Topics struct{}

// Command returns the command topic for one device.
//
// Example: graylogic/command/chromecast/0123456789abcdef0123456789abcdef
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Request returns the request topic for one device.
func (Topics) Request(deviceID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Ack returns the command acknowledgement topic for one device.
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// State returns the capability state topic for one device.
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// Response returns the topic a request's answer is published on.
//
// Example: graylogic/response/chromecast/req-123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// Health returns the retained bridge health topic. It also carries the
// Last Will and Testament.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// Discovery returns the retained discovered-devices topic.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// AllCommands matches commands for every device.
//
// Pattern: graylogic/command/chromecast/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllRequests matches requests for every device.
//
// Pattern: graylogic/request/chromecast/+
func (Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// Split parses a graycast topic into its category and trailing id.
// ok is false for topics outside the chromecast scheme.
func (Topics) Split(topic string) (category, id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != Protocol || parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
