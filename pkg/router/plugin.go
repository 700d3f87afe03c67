// Package router implements the capability-based plugin registry and
// per-peer sequential packet dispatch.
package router

import (
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// DeviceContext is the per-peer handle passed to a plugin's lifecycle
// hooks and packet handler. It carries the device id and a send
// function bound to that peer's connection.
type DeviceContext struct {
	DeviceID string
	send     func(*wire.Packet) error
}

// NewDeviceContext creates a DeviceContext bound to a send function,
// typically the connection manager's SendPacket for this device id.
func NewDeviceContext(deviceID string, send func(*wire.Packet) error) *DeviceContext {
	return &DeviceContext{DeviceID: deviceID, send: send}
}

// Send delivers a packet to the peer this context belongs to.
func (d *DeviceContext) Send(p *wire.Packet) error {
	return d.send(p)
}

// Plugin handles one or more packet types for a capability, identified
// by a short lowercase name (e.g. "ping", "battery", "share").
// Incoming/outgoing capability strings follow the pattern
// kdeconnect.<plugin>[.<action>].
//
// Handle must be idempotent: the same packet delivered twice must not
// corrupt plugin state, and a handler must never assume any reply will
// ever arrive.
type Plugin interface {
	Name() string
	IncomingCapabilities() []string
	OutgoingCapabilities() []string

	Init(device *DeviceContext) error
	Start() error
	Stop() error

	Handle(packet *wire.Packet, device *DeviceContext) error
}
