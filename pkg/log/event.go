package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the peer device identifier (populated after identity exchange).
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`  // Transport layer
	Packet      *PacketEvent      `cbor:"9,keyasint,omitempty"`  // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Connection/pairing state
	Transfer    *TransferEvent    `cbor:"11,keyasint,omitempty"` // Payload transfer progress
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes over TLS).
	LayerTransport Layer = 0
	// LayerWire is the packet encoding layer (decoded JSON).
	LayerWire Layer = 1
	// LayerPlugin is the capability/plugin dispatch layer.
	LayerPlugin Layer = 2
	// LayerPayload is the plain-TCP payload side-channel.
	LayerPayload Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerPlugin:
		return "PLUGIN"
	case LayerPayload:
		return "PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPacket indicates a decoded protocol packet.
	CategoryPacket Category = 0
	// CategoryState indicates a connection or pairing state change.
	CategoryState Category = 1
	// CategoryTransfer indicates payload transfer progress.
	CategoryTransfer Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPacket:
		return "PACKET"
	case CategoryState:
		return "STATE"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes, excluding the terminating LF.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// PacketEvent captures a decoded protocol packet at the wire layer.
type PacketEvent struct {
	// ID is the packet's id field (typically a millisecond timestamp).
	ID int64 `cbor:"1,keyasint"`

	// Type is the packet type string, e.g. "kdeconnect.ping".
	Type string `cbor:"2,keyasint"`

	// BodySize is the encoded size of the body object in bytes.
	BodySize int `cbor:"3,keyasint,omitempty"`

	// HasPayload indicates the packet announced a bulk payload.
	HasPayload bool `cbor:"4,keyasint,omitempty"`

	// PayloadSize is the announced payload size, if any.
	PayloadSize int64 `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures connection and pairing lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityPairing indicates a pairing state change.
	StateEntityPairing StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityPairing:
		return "PAIRING"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent captures payload side-channel transfer progress.
type TransferEvent struct {
	// TransferID correlates the start/progress/end events of one transfer.
	TransferID string `cbor:"1,keyasint"`

	// Transferred is the cumulative number of bytes moved so far.
	Transferred int64 `cbor:"2,keyasint"`

	// Total is the expected total size, if known.
	Total int64 `cbor:"3,keyasint,omitempty"`

	// Done indicates the transfer completed (successfully or not).
	Done bool `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the protoerr.Kind, if applicable.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
