package cast

import (
	"context"
	"encoding/json"
)

// Cast channel namespaces.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

// Payload is a JSON message body. The transport stamps the request id.
type Payload interface {
	SetRequestId(id int)
}

// Header is the common part of every payload.
type Header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId,omitempty"`
}

// SetRequestId implements Payload.
func (h *Header) SetRequestId(id int) { h.RequestID = id }

// Dialer opens transport connections to receivers.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// Conn is an open connection to a receiver's platform endpoint.
//
// Done is closed when the underlying socket fails or is closed; Err then
// reports why.
type Conn interface {
	Status(ctx context.Context) (ReceiverStatus, error)
	Launch(ctx context.Context, appID string) (Session, error)
	StopSession(ctx context.Context, sessionID string) error
	SetVolume(ctx context.Context, change VolumeChange) error

	// Join opens a virtual connection to a running application.
	Join(ctx context.Context, session Session) (Channel, error)

	Done() <-chan struct{}
	Err() error
	Close() error
}

// Channel is a virtual connection to one receiver application.
//
// Done is closed when the application closes the channel, the parent Conn
// fails, or Close is called.
type Channel interface {
	Session() Session

	// Request sends payload and waits for the reply with the same request id.
	// Error replies such as LOAD_FAILED are returned as *RequestError.
	Request(ctx context.Context, namespace string, payload Payload) (json.RawMessage, error)

	// Send sends payload without waiting for a reply.
	Send(ctx context.Context, namespace string, payload Payload) error

	// Events delivers unsolicited messages, such as MEDIA_STATUS broadcasts.
	Events() <-chan Event

	Done() <-chan struct{}
	Close() error
}

// Event is an unsolicited message from an application.
type Event struct {
	Namespace string
	Type      string
	Payload   json.RawMessage
}
