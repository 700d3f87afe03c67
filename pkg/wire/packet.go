package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxPacketSize is the maximum size in bytes of a single LF-terminated
// packet frame, including the body but excluding the terminating LF.
const MaxPacketSize = 10 * 1024 * 1024

// Well-known packet type strings.
const (
	TypeIdentity = "kdeconnect.identity"
	TypePair     = "kdeconnect.pair"
)

// ErrOversizeFrame is returned when a frame exceeds MaxPacketSize.
var ErrOversizeFrame = errors.New("wire: frame exceeds maximum packet size")

// ErrInvalidPacket is returned for malformed JSON or schema violations.
var ErrInvalidPacket = errors.New("wire: invalid packet")

// Packet is the single message envelope exchanged between peers.
//
// Field names follow the wire's stable JSON names; unknown fields in
// an incoming packet are preserved by nobody and simply ignored by
// encoding/json, satisfying the forward-compatibility requirement.
type Packet struct {
	ID                  int64          `json:"id"`
	Type                string         `json:"type"`
	Body                map[string]any `json:"body"`
	PayloadSize         *int64         `json:"payloadSize,omitempty"`
	PayloadTransferInfo map[string]any `json:"payloadTransferInfo,omitempty"`
}

// New creates a packet with the given id, type and body.
func New(id int64, typ string, body map[string]any) *Packet {
	if body == nil {
		body = map[string]any{}
	}
	return &Packet{ID: id, Type: typ, Body: body}
}

// HasPayload reports whether this packet announces a bulk payload.
func (p *Packet) HasPayload() bool {
	return p.PayloadSize != nil && *p.PayloadSize > 0
}

// Encode serializes the packet to its canonical JSON form, without the
// terminating LF (callers writing to the wire append it themselves).
func (p *Packet) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	return data, nil
}

// Decode parses a single JSON packet frame (without its terminating LF).
func Decode(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPacket)
	}
	return &p, nil
}

// NewPairPacket builds a kdeconnect.pair packet carrying the given
// boolean.
func NewPairPacket(id int64, pair bool) *Packet {
	return New(id, TypePair, map[string]any{"pair": pair})
}

// IsPair reports whether this packet is a pair packet, and if so
// returns its boolean value.
func (p *Packet) IsPair() (bool, bool) {
	if p.Type != TypePair {
		return false, false
	}
	v, ok := p.Body["pair"].(bool)
	return v, ok
}
