// Package identity implements the device-identity record exchanged at
// the start of every connection.
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// CurrentProtocolVersion is the protocolVersion this module advertises
// in its own identity packets. At this version the post-TLS second
// identity exchange (transport.PostTLSVersionFloor) always applies.
const CurrentProtocolVersion = 8

// DeviceType enumerates the kinds of device a peer may advertise.
type DeviceType string

const (
	Phone   DeviceType = "phone"
	Tablet  DeviceType = "tablet"
	Desktop DeviceType = "desktop"
	Laptop  DeviceType = "laptop"
	TV      DeviceType = "tv"
)

// Identity is the device-identity record carried by a kdeconnect.identity
// packet. Field names mirror the stable JSON wire names.
type Identity struct {
	DeviceID             string     `json:"deviceId"`
	DeviceName           string     `json:"deviceName"`
	DeviceType           DeviceType `json:"deviceType"`
	ProtocolVersion      int        `json:"protocolVersion"`
	IncomingCapabilities []string   `json:"incomingCapabilities"`
	OutgoingCapabilities []string   `json:"outgoingCapabilities"`
	TCPPort              uint16     `json:"tcpPort,omitempty"`
}

// Validate checks that deviceId is present.
func (id *Identity) Validate() error {
	if id.DeviceID == "" {
		return fmt.Errorf("%w: missing deviceId", wire.ErrInvalidPacket)
	}
	// protocolVersion has no zero value distinct from "unset", so its
	// presence is checked on the wire body by FromPacket instead.
	return nil
}

// ToPacket wraps the identity in a kdeconnect.identity control packet.
func (id *Identity) ToPacket(packetID int64) (*wire.Packet, error) {
	body, err := toBody(id)
	if err != nil {
		return nil, err
	}
	return wire.New(packetID, wire.TypeIdentity, body), nil
}

// FromPacket extracts an Identity from a kdeconnect.identity packet.
func FromPacket(p *wire.Packet) (*Identity, error) {
	if p.Type != wire.TypeIdentity {
		return nil, fmt.Errorf("%w: not an identity packet", wire.ErrInvalidPacket)
	}
	if _, ok := p.Body["protocolVersion"]; !ok {
		return nil, fmt.Errorf("%w: missing protocolVersion", wire.ErrInvalidPacket)
	}
	raw, err := json.Marshal(p.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidPacket, err)
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidPacket, err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

func toBody(id *Identity) (map[string]any, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidPacket, err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidPacket, err)
	}
	return body, nil
}
