// Package eventbus implements the typed broadcast channel by which the
// core notifies the outer application of connection, pairing, and
// packet-receipt events.
package eventbus

import "github.com/kdeconnect-go/kdeconnect/pkg/wire"

// Type identifies the kind of event carried by an Event value.
type Type uint8

const (
	ManagerStarted Type = iota
	ManagerStopped
	Connected
	Disconnected
	PacketReceived
	RequestSent
	RequestReceived
	PairingAccepted
	PairingRejected
	PairingTimeout
	DeviceUnpaired
	Error
)

// String returns a human-readable event type name.
func (t Type) String() string {
	switch t {
	case ManagerStarted:
		return "ManagerStarted"
	case ManagerStopped:
		return "ManagerStopped"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case PacketReceived:
		return "PacketReceived"
	case RequestSent:
		return "RequestSent"
	case RequestReceived:
		return "RequestReceived"
	case PairingAccepted:
		return "PairingAccepted"
	case PairingRejected:
		return "PairingRejected"
	case PairingTimeout:
		return "PairingTimeout"
	case DeviceUnpaired:
		return "DeviceUnpaired"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is a single occurrence published on the bus. Only the fields
// relevant to Type are populated.
type Event struct {
	Type Type

	Port       int
	DeviceID   string
	RemoteAddr string
	Reason     string

	Packet *wire.Packet

	DeviceName             string
	OurFingerprint         string
	TheirFingerprint       string
	CertificateFingerprint string

	Message string
}
