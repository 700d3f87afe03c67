// Package daemon wires the core packages into the running service that
// both cmd/kdeconnect-daemon and cmd/kdeconnect-cli embed: certificate
// store, connection manager, pairing service, plugin router, resource
// caps, optional mDNS discovery and protocol event logging, and the
// command surface (connect/disconnect/send/pairing/plugin
// registration) the outer application drives it through.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/config"
	"github.com/kdeconnect-go/kdeconnect/pkg/connection"
	"github.com/kdeconnect-go/kdeconnect/pkg/discovery"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	protolog "github.com/kdeconnect-go/kdeconnect/pkg/log"
	"github.com/kdeconnect-go/kdeconnect/pkg/pairing"
	"github.com/kdeconnect-go/kdeconnect/pkg/payload"
	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/kdeconnect-go/kdeconnect/pkg/resource"
	"github.com/kdeconnect-go/kdeconnect/pkg/router"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// Daemon owns one running instance of every core component for a
// single local device identity.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	store       cert.Store
	ownIdentity *identity.Identity

	Events    *eventbus.Bus
	Manager   *connection.Manager
	Pairing   *pairing.Service
	Registry  *router.Registry
	Router    *router.Router
	Resources *resource.Manager

	protoLog protolog.Logger
	mdnsStop func()

	connIDs   map[string]string // deviceID -> protocol-log connection id
	connIDsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Daemon from cfg but does not start it.
// deviceID identifies this device's own identity; deviceName and
// deviceType populate the identity packet this daemon advertises.
func New(cfg config.Config, deviceID, deviceName string, deviceType identity.DeviceType, logger *slog.Logger, protoLog protolog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if protoLog == nil {
		protoLog = protolog.NoopLogger{}
	}

	store, err := cert.NewFileStore(cfg.CertDir, logger)
	if err != nil {
		return nil, err
	}

	registry := router.NewRegistry()
	if err := registry.Register(router.NewPingPlugin()); err != nil {
		return nil, err
	}

	events := eventbus.New()
	own := identity.Identity{
		DeviceID:             deviceID,
		DeviceName:           deviceName,
		DeviceType:           deviceType,
		ProtocolVersion:      identity.CurrentProtocolVersion,
		IncomingCapabilities: registry.IncomingCapabilities(),
		OutgoingCapabilities: registry.OutgoingCapabilities(),
	}

	ownCert, err := store.LoadOrGenerateOwn(deviceID)
	if err != nil {
		return nil, err
	}

	manager := connection.NewManager(connection.Config{
		Own:         ownCert,
		OwnIdentity: &own,
		Store:       store,
		Events:      events,
		Logger:      logger,
	})

	var nextID int64
	var idMu sync.Mutex
	pairingSvc := pairing.NewService(deviceID, store, manager, events, func() int64 {
		idMu.Lock()
		defer idMu.Unlock()
		nextID++
		return nextID
	}, logger)

	return &Daemon{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		ownIdentity: &own,
		Events:      events,
		Manager:     manager,
		Pairing:     pairingSvc,
		Registry:    registry,
		Router:      router.NewRouter(registry, logger),
		Resources:   resource.NewManager(cfg.Resources, logger),
		protoLog:    protoLog,
		connIDs:     make(map[string]string),
	}, nil
}

// Identity returns this daemon's own advertised identity.
func (d *Daemon) Identity() *identity.Identity {
	return d.ownIdentity
}

// Start begins listening, the pairing timeout sweeper, the stale
// connection sweeper, the event dispatch loop, and, if enabled,
// mDNS advertising.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.Manager.Start(d.ctx, d.cfg.ListenAddr); err != nil {
		return err
	}
	d.Pairing.Start(d.ctx)

	ch, unsub := d.Events.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unsub()
		d.dispatchLoop(ch)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.staleSweepLoop()
	}()

	if d.cfg.Discovery.Enabled {
		if err := d.startDiscovery(); err != nil {
			d.logger.Warn("mDNS discovery disabled", "err", err)
		}
	}

	return nil
}

// Stop shuts down every component started by Start.
func (d *Daemon) Stop() {
	if d.mdnsStop != nil {
		d.mdnsStop()
	}
	d.Pairing.Stop()
	d.Manager.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Daemon) startDiscovery() error {
	port := uint16(d.Manager.ListenPort())
	server, err := discovery.Advertise(d.ownIdentity.DeviceID, d.ownIdentity.DeviceName, port)
	if err != nil {
		return err
	}
	d.mdnsStop = server.Shutdown
	return nil
}

// dispatchLoop routes PacketReceived events to the pairing service for
// kdeconnect.pair packets, and to the plugin router for everything
// else, enforces connection resource caps on Connected/Disconnected,
// and mirrors lifecycle events into the protocol event log.
func (d *Daemon) dispatchLoop(ch <-chan eventbus.Event) {
	for ev := range ch {
		switch ev.Type {
		case eventbus.Connected:
			d.handleConnected(ev)
		case eventbus.Disconnected:
			d.handleDisconnected(ev)
		case eventbus.PacketReceived:
			d.handlePacketReceived(ev)
		case eventbus.Error:
			d.logProtocolError(ev)
		}
	}
}

func (d *Daemon) handleConnected(ev eventbus.Event) {
	connID := uuid.NewString()
	d.connIDsMu.Lock()
	d.connIDs[ev.DeviceID] = connID
	d.connIDsMu.Unlock()

	if err := d.Resources.RegisterConnection(connID, ev.DeviceID); err != nil {
		d.logger.Warn("connection over cap, disconnecting", "device_id", ev.DeviceID, "err", err)
		d.Manager.Disconnect(ev.DeviceID)
		return
	}
	d.protoLog.Log(protolog.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    protolog.DirectionIn,
		Layer:        protolog.LayerTransport,
		Category:     protolog.CategoryState,
		DeviceID:     ev.DeviceID,
		RemoteAddr:   ev.RemoteAddr,
		StateChange: &protolog.StateChangeEvent{
			Entity:   protolog.StateEntityConnection,
			NewState: "connected",
		},
	})
}

func (d *Daemon) handleDisconnected(ev eventbus.Event) {
	d.connIDsMu.Lock()
	connID := d.connIDs[ev.DeviceID]
	delete(d.connIDs, ev.DeviceID)
	d.connIDsMu.Unlock()

	d.Resources.UnregisterConnection(connID)
	d.protoLog.Log(protolog.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    protolog.DirectionIn,
		Layer:        protolog.LayerTransport,
		Category:     protolog.CategoryState,
		DeviceID:     ev.DeviceID,
		StateChange: &protolog.StateChangeEvent{
			Entity:   protolog.StateEntityConnection,
			NewState: "disconnected",
			Reason:   ev.Reason,
		},
	})
}

func (d *Daemon) handlePacketReceived(ev eventbus.Event) {
	pkt := ev.Packet
	d.connIDsMu.Lock()
	connID := d.connIDs[ev.DeviceID]
	d.connIDsMu.Unlock()
	d.Resources.TouchConnection(connID)
	d.protoLog.Log(protolog.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    protolog.DirectionIn,
		Layer:        protolog.LayerWire,
		Category:     protolog.CategoryPacket,
		DeviceID:     ev.DeviceID,
		Packet: &protolog.PacketEvent{
			ID:          pkt.ID,
			Type:        pkt.Type,
			HasPayload:  pkt.HasPayload(),
			PayloadSize: payloadSizeOf(pkt),
		},
	})

	if pkt.Type == wire.TypePair {
		d.handlePairPacket(pkt, ev)
		return
	}

	if !d.Pairing.IsPaired(ev.DeviceID) {
		d.logger.Debug("dropping packet from unpaired peer", "device_id", ev.DeviceID, "type", pkt.Type)
		return
	}

	device := router.NewDeviceContext(ev.DeviceID, func(p *wire.Packet) error {
		return d.Manager.SendPacket(ev.DeviceID, p)
	})
	d.Router.Dispatch(pkt, device)
}

func (d *Daemon) handlePairPacket(pkt *wire.Packet, ev eventbus.Event) {
	peerIdentity, ok := d.Manager.PeerIdentity(ev.DeviceID)
	if !ok {
		d.logger.Warn("pair packet from unknown connection", "device_id", ev.DeviceID)
		return
	}
	certDER, _ := d.Manager.PeerCertificateDER(ev.DeviceID)

	reply, err := d.Pairing.HandlePacket(pkt, peerIdentity, certDER, ev.RemoteAddr)
	if err != nil {
		d.logger.Warn("pairing packet rejected", "device_id", ev.DeviceID, "err", err)
		return
	}
	if reply != nil {
		if err := d.Manager.SendPacket(ev.DeviceID, reply); err != nil {
			d.logger.Warn("failed to send pairing reply", "device_id", ev.DeviceID, "err", err)
		}
	}
}

func (d *Daemon) logProtocolError(ev eventbus.Event) {
	d.protoLog.Log(protolog.Event{
		Timestamp: time.Now(),
		DeviceID:  ev.DeviceID,
		Layer:     protolog.LayerPlugin,
		Category:  protolog.CategoryError,
		Error: &protolog.ErrorEventData{
			Layer:   protolog.LayerPlugin,
			Message: ev.Message,
		},
	})
}

func payloadSizeOf(p *wire.Packet) int64 {
	if p.PayloadSize == nil {
		return 0
	}
	return *p.PayloadSize
}

func (d *Daemon) staleSweepLoop() {
	interval := d.cfg.ActivityTimeout.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for _, connID := range d.Resources.StaleConnections(interval) {
				d.connIDsMu.Lock()
				var deviceID string
				for id, cid := range d.connIDs {
					if cid == connID {
						deviceID = id
						break
					}
				}
				d.connIDsMu.Unlock()
				if deviceID != "" {
					d.logger.Info("disconnecting stale connection", "device_id", deviceID)
					d.Manager.Disconnect(deviceID)
				}
			}
		}
	}
}

// Connect implements the upward connect(device_id, addr) command.
func (d *Daemon) Connect(ctx context.Context, deviceID, addr string) error {
	return d.Manager.Connect(ctx, deviceID, addr)
}

// Disconnect implements the upward disconnect(device_id) command.
func (d *Daemon) Disconnect(deviceID string) {
	d.Manager.Disconnect(deviceID)
}

// Send implements the upward send(device_id, packet) command.
func (d *Daemon) Send(deviceID string, pkt *wire.Packet) error {
	if !d.Pairing.IsPaired(deviceID) {
		return protoerr.New(protoerr.KindNotPaired)
	}
	return d.Manager.SendPacket(deviceID, pkt)
}

// SendFile implements send(device_id, packet) for a packet that
// announces a bulk payload: it opens a payload.Server, fills in the
// packet's payloadSize/payloadTransferInfo, registers the transfer
// with the resource manager, sends the control packet, then streams r
// to the first peer that connects.
func (d *Daemon) SendFile(deviceID string, pkt *wire.Packet, r io.Reader, total int64, progress payload.ProgressFunc) error {
	if !d.Pairing.IsPaired(deviceID) {
		return protoerr.New(protoerr.KindNotPaired)
	}

	transferID := uuid.NewString()
	if err := d.Resources.RegisterTransfer(transferID, deviceID, total); err != nil {
		return err
	}
	defer d.Resources.UnregisterTransfer(transferID)

	server, err := payload.NewServer()
	if err != nil {
		return err
	}

	pkt.PayloadSize = &total
	pkt.PayloadTransferInfo = map[string]any{"port": server.Port()}
	if err := d.Manager.SendPacket(deviceID, pkt); err != nil {
		server.Close()
		return err
	}

	return server.Send(r, total, progress)
}

// RequestPairing implements the upward request_pairing command.
func (d *Daemon) RequestPairing(ctx context.Context, peerIdentity *identity.Identity, remoteAddr string) error {
	return d.Pairing.RequestPairing(ctx, peerIdentity, remoteAddr)
}

// AcceptPairing implements the upward accept_pairing(device_id) command.
func (d *Daemon) AcceptPairing(ctx context.Context, deviceID string) error {
	return d.Pairing.AcceptPairing(ctx, deviceID)
}

// RejectPairing implements the upward reject_pairing(device_id) command.
func (d *Daemon) RejectPairing(deviceID string) error {
	return d.Pairing.RejectPairing(deviceID)
}

// Unpair implements the upward unpair(device_id) command.
func (d *Daemon) Unpair(deviceID string) error {
	return d.Pairing.Unpair(deviceID)
}

// RegisterPlugin implements the upward register_plugin(plugin) command.
func (d *Daemon) RegisterPlugin(p router.Plugin) error {
	if err := d.Registry.Register(p); err != nil {
		return err
	}
	return p.Start()
}

// UnregisterPlugin implements the upward unregister_plugin(name) command.
func (d *Daemon) UnregisterPlugin(name string) error {
	p, ok := d.Registry.Get(name)
	if !ok {
		return fmt.Errorf("daemon: no such plugin %q", name)
	}
	d.Registry.Unregister(name)
	return p.Stop()
}

// PairingStatus returns the current pairing status for a device id.
func (d *Daemon) PairingStatus(deviceID string) pairing.Status {
	return d.Pairing.Status(deviceID)
}
