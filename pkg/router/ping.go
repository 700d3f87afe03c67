package router

import (
	"sync/atomic"

	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// TypePing is the packet type for the ping plugin.
const TypePing = "kdeconnect.ping"

// PingPlugin replies to every ping it receives with a ping, and counts
// how many it has handled. It requires no device-specific init.
type PingPlugin struct {
	received atomic.Int64
}

// NewPingPlugin creates a ping plugin.
func NewPingPlugin() *PingPlugin {
	return &PingPlugin{}
}

func (p *PingPlugin) Name() string                     { return "ping" }
func (p *PingPlugin) IncomingCapabilities() []string   { return []string{TypePing} }
func (p *PingPlugin) OutgoingCapabilities() []string   { return []string{TypePing} }
func (p *PingPlugin) Init(device *DeviceContext) error { return nil }
func (p *PingPlugin) Start() error                     { return nil }
func (p *PingPlugin) Stop() error                      { return nil }
func (p *PingPlugin) Received() int64                  { return p.received.Load() }

// Handle acknowledges the ping. Idempotent: receiving the same ping
// twice just increments the counter and sends another ack.
func (p *PingPlugin) Handle(packet *wire.Packet, device *DeviceContext) error {
	p.received.Add(1)
	return device.Send(wire.New(packet.ID, TypePing, map[string]any{}))
}
