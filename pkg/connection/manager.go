package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/kdeconnect-go/kdeconnect/pkg/transport"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// rapidReconnectWindow is the threshold under which a reconnect for the
// same peer is logged as a warning. It never gates or rejects.
const rapidReconnectWindow = 1 * time.Second

// commandQueueSize bounds the per-connection outbound command queue;
// once it is full, SendPacket returns KindResourceExhausted instead of
// blocking. The manager does not consult resource.Manager.
const commandQueueSize = 256

type cmdKind uint8

const (
	cmdSendPacket cmdKind = iota
	cmdClose
)

type command struct {
	kind   cmdKind
	packet *wire.Packet
}

type activeConnection struct {
	deviceID     string
	remoteAddr   string
	peerIdentity *identity.Identity
	commands     chan command
	transport    *transport.Transport
}

// Manager owns the listen socket, one task per live peer, and
// duplicate-connection replacement.
type Manager struct {
	own         *cert.Identity
	ownIdentity *identity.Identity
	store       cert.Store
	events      *eventbus.Bus
	logger      *slog.Logger
	idGen       func() int64

	mu              sync.RWMutex
	conns           map[string]*activeConnection
	lastConnectTime map[string]time.Time

	listener net.Listener
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config configures a Manager.
type Config struct {
	ListenAddr  string
	Own         *cert.Identity
	OwnIdentity *identity.Identity
	Store       cert.Store
	Events      *eventbus.Bus
	Logger      *slog.Logger
}

// DefaultListenAddr is the protocol's default listen address.
const DefaultListenAddr = "0.0.0.0:1716"

// NewManager creates a connection manager. It does not start listening
// until Start is called.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var counter int64
	return &Manager{
		own:             cfg.Own,
		ownIdentity:     cfg.OwnIdentity,
		store:           cfg.Store,
		events:          cfg.Events,
		logger:          cfg.Logger,
		idGen:           func() int64 { counter++; return counter },
		conns:           make(map[string]*activeConnection),
		lastConnectTime: make(map[string]time.Time),
	}
}

// resolvePeer implements transport.PeerResolver against the store: a
// peer not yet paired resolves to nil, which exempts it from
// fingerprint enforcement.
func (m *Manager) resolvePeer(deviceID string) (*cert.PeerCertificate, error) {
	return m.store.LoadPeer(deviceID)
}

// Start begins accepting connections on addr.
func (m *Manager) Start(ctx context.Context, addr string) error {
	if m.running.Load() {
		return protoerr.Wrapf(protoerr.KindConfiguration, nil, "connection manager already running")
	}
	if addr == "" {
		addr = DefaultListenAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	m.listener = ln
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running.Store(true)

	port := 0
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	m.events.Publish(eventbus.Event{Type: eventbus.ManagerStarted, Port: port})

	m.wg.Add(1)
	go m.acceptLoop()
	return nil
}

// Stop disconnects every peer and stops accepting connections.
func (m *Manager) Stop() {
	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	if m.cancel != nil {
		m.cancel()
	}
	if m.listener != nil {
		m.listener.Close()
	}

	m.mu.Lock()
	deviceIDs := make([]string, 0, len(m.conns))
	for id := range m.conns {
		deviceIDs = append(deviceIDs, id)
	}
	m.mu.Unlock()
	for _, id := range deviceIDs {
		m.Disconnect(id)
	}

	m.wg.Wait()
	m.events.Publish(eventbus.Event{Type: eventbus.ManagerStopped})
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for m.running.Load() {
		raw, err := m.listener.Accept()
		if err != nil {
			if m.running.Load() {
				m.logger.Error("accept failed", "err", err)
			}
			continue
		}
		m.wg.Add(1)
		go m.handleAccepted(raw)
	}
}

func (m *Manager) handleAccepted(raw net.Conn) {
	defer m.wg.Done()

	tr, peerIdentity, err := transport.Accept(raw, m.own, m.ownIdentity, m.resolvePeer, m.idGen)
	if err != nil {
		m.logger.Warn("handshake failed", "remote_addr", raw.RemoteAddr(), "err", err)
		raw.Close()
		return
	}

	m.installConnection(peerIdentity, tr)
}

// Connect dials a peer using TOFU (no certificate pinned yet): used to
// initiate pairing.
func (m *Manager) Connect(ctx context.Context, deviceID, remoteAddr string) error {
	return m.ConnectWithCert(ctx, deviceID, remoteAddr, nil)
}

// ConnectWithCert dials a peer. peerCertDER is accepted for callers
// that captured a certificate during an inbound pairing request, but
// verification always goes through resolvePeer/TOFU: a peer with no
// stored certificate is exempt from fingerprint enforcement regardless
// of what peerCertDER holds, so it is not consulted here.
func (m *Manager) ConnectWithCert(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) error {
	if m.HasConnection(deviceID) {
		return nil
	}

	now := time.Now()
	m.mu.Lock()
	last, seen := m.lastConnectTime[deviceID]
	m.lastConnectTime[deviceID] = now
	m.mu.Unlock()
	if seen && now.Sub(last) < rapidReconnectWindow {
		m.logger.Warn("rapid reconnect for peer", "device_id", deviceID, "since_last", now.Sub(last))
	}

	// The dial target, not the id the handshake passes in, selects the
	// stored certificate to enforce.
	resolve := func(string) (*cert.PeerCertificate, error) { return m.resolvePeer(deviceID) }
	tr, peerIdentity, err := transport.DialContext(ctx, remoteAddr, m.own, m.ownIdentity, resolve, m.idGen)
	if err != nil {
		return err
	}
	if peerIdentity.DeviceID != deviceID {
		// Pre-v8 peers never send a post-TLS identity, so DialContext
		// returns our own identity back; deviceID (the dial target) is
		// the only trustworthy peer id in that case.
		peerIdentity = &identity.Identity{DeviceID: deviceID, ProtocolVersion: peerIdentity.ProtocolVersion}
	}
	m.installConnection(peerIdentity, tr)
	return nil
}

// EnsureConnection implements pairing.ConnectionHandle.
func (m *Manager) EnsureConnection(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) error {
	return m.ConnectWithCert(ctx, deviceID, remoteAddr, peerCertDER)
}

// installConnection performs the duplicate-connection replacement
// sequence: close-and-Disconnected for any existing connection to this
// device id strictly before installing the new one and emitting
// Connected.
func (m *Manager) installConnection(peerIdentity *identity.Identity, tr *transport.Transport) {
	deviceID := peerIdentity.DeviceID
	ac := &activeConnection{
		deviceID:     deviceID,
		remoteAddr:   tr.RemoteAddr().String(),
		peerIdentity: peerIdentity,
		commands:     make(chan command, commandQueueSize),
		transport:    tr,
	}

	m.mu.Lock()
	old, existed := m.conns[deviceID]
	if existed {
		select {
		case old.commands <- command{kind: cmdClose}:
		default:
		}
	}
	m.conns[deviceID] = ac
	m.lastConnectTime[deviceID] = time.Now()
	m.mu.Unlock()

	if existed {
		m.events.Publish(eventbus.Event{Type: eventbus.Disconnected, DeviceID: deviceID, Reason: "Socket replaced"})
	}
	m.events.Publish(eventbus.Event{Type: eventbus.Connected, DeviceID: deviceID, RemoteAddr: ac.remoteAddr})

	m.wg.Add(1)
	go m.runConnection(ac)
}

func (m *Manager) runConnection(ac *activeConnection) {
	defer m.wg.Done()

	readErr := make(chan error, 1)
	readPacket := make(chan *wire.Packet, 1)
	go func() {
		for {
			pkt, err := ac.transport.Receive()
			if err != nil {
				readErr <- err
				return
			}
			readPacket <- pkt
		}
	}()

	reason := "Connection closed"
loop:
	for {
		select {
		case cmd := <-ac.commands:
			switch cmd.kind {
			case cmdSendPacket:
				if err := ac.transport.Send(cmd.packet); err != nil {
					m.logger.Warn("send failed", "device_id", ac.deviceID, "err", err)
				}
			case cmdClose:
				break loop
			}
		case pkt := <-readPacket:
			m.events.Publish(eventbus.Event{
				Type:       eventbus.PacketReceived,
				DeviceID:   ac.deviceID,
				Packet:     pkt,
				RemoteAddr: ac.remoteAddr,
			})
		case <-readErr:
			break loop
		}
	}

	ac.transport.Close()

	m.mu.Lock()
	current, ok := m.conns[ac.deviceID]
	stillCurrent := ok && current == ac
	if stillCurrent {
		delete(m.conns, ac.deviceID)
	}
	m.mu.Unlock()

	// A replaced connection is no longer in the table, and
	// installConnection has already emitted its Disconnected.
	if stillCurrent {
		m.events.Publish(eventbus.Event{Type: eventbus.Disconnected, DeviceID: ac.deviceID, Reason: reason})
	}
}

// ListenPort returns the bound listen port. Valid only after Start.
func (m *Manager) ListenPort() int {
	if m.listener == nil {
		return 0
	}
	if tcpAddr, ok := m.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// HasConnection reports whether a live connection to deviceID exists.
func (m *Manager) HasConnection(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[deviceID]
	return ok
}

// PeerIdentity returns the identity presented by a live peer.
func (m *Manager) PeerIdentity(deviceID string) (*identity.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ac, ok := m.conns[deviceID]
	if !ok {
		return nil, false
	}
	return ac.peerIdentity, true
}

// PeerCertificateDER returns the DER-encoded leaf certificate a live
// peer presented during its TLS handshake.
func (m *Manager) PeerCertificateDER(deviceID string) ([]byte, bool) {
	m.mu.RLock()
	ac, ok := m.conns[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	chain := ac.transport.ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, false
	}
	return chain[0].Raw, true
}

// SendPacket queues a packet for delivery to deviceID.
func (m *Manager) SendPacket(deviceID string, p *wire.Packet) error {
	m.mu.RLock()
	ac, ok := m.conns[deviceID]
	m.mu.RUnlock()
	if !ok {
		return protoerr.New(protoerr.KindDeviceNotFound)
	}
	select {
	case ac.commands <- command{kind: cmdSendPacket, packet: p}:
		return nil
	default:
		return protoerr.New(protoerr.KindResourceExhausted)
	}
}

// Disconnect closes the connection to deviceID, if any.
func (m *Manager) Disconnect(deviceID string) {
	m.mu.RLock()
	ac, ok := m.conns[deviceID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ac.commands <- command{kind: cmdClose}:
	default:
	}
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// MaintainConnection redials deviceID at remoteAddr with exponential
// backoff until ctx is cancelled or a connection succeeds, resetting
// the backoff on success. The daemon does not call it: neither the
// pairing dial nor a disconnect of a paired device leads to a redial
// through this method.
func (m *Manager) MaintainConnection(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) {
	if m.HasConnection(deviceID) {
		return
	}
	b := NewBackoff()
	for {
		if err := m.ConnectWithCert(ctx, deviceID, remoteAddr, peerCertDER); err == nil {
			b.Reset()
			return
		} else {
			m.logger.Warn("reconnect attempt failed", "device_id", deviceID, "attempt", b.Attempts()+1, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Next()):
		}
	}
}
