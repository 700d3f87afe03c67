package router

import (
	"log/slog"

	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// Router dispatches incoming packets to the plugin that claims their
// type. Ordering is provided by the caller: the daemon's single dispatch
// loop calls Dispatch for every peer, one packet at a time, so packets
// from one peer are always routed in receipt order and packets from
// different peers are not dispatched concurrently.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router bound to a plugin registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

// Dispatch routes a single packet to its owning plugin. An unknown
// packet type is logged at debug level and otherwise ignored, not
// treated as an error. A handler error or panic is logged and
// isolated: it never propagates to the caller, since a misbehaving
// plugin must not tear down the connection.
func (r *Router) Dispatch(packet *wire.Packet, device *DeviceContext) {
	plugin, ok := r.registry.Lookup(packet.Type)
	if !ok {
		r.logger.Debug("no plugin for packet type", "type", packet.Type, "device_id", device.DeviceID)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("plugin handler panicked", "plugin", plugin.Name(), "device_id", device.DeviceID, "panic", rec)
		}
	}()

	if err := plugin.Handle(packet, device); err != nil {
		r.logger.Warn("plugin handler failed", "plugin", plugin.Name(), "device_id", device.DeviceID, "err", err)
	}
}
