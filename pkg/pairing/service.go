package pairing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// Timeout is the hard-coded pairing request timeout.
const Timeout = 30 * time.Second

// sweepInterval is how often the pending-request table is checked for
// expired entries.
const sweepInterval = 5 * time.Second

// settleDelay is the pause observed after opening a connection for
// pairing purposes, before the first pairing packet is sent, giving
// the freshly-completed handshake a moment to stabilize.
const settleDelay = 100 * time.Millisecond

// ConnectionHandle is the narrow command-sender handle the pairing
// service uses to talk to the connection manager, avoiding an owning
// reference cycle between the two components.
type ConnectionHandle interface {
	HasConnection(deviceID string) bool
	EnsureConnection(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) error
	SendPacket(deviceID string, p *wire.Packet) error
}

type pendingRequest struct {
	startedAt  time.Time
	remoteAddr string
	certDER    []byte
}

// Service manages pairing for every known peer.
type Service struct {
	mu       sync.RWMutex
	statuses map[string]Status
	pending  map[string]*pendingRequest

	store    cert.Store
	conn     ConnectionHandle
	events   *eventbus.Bus
	logger   *slog.Logger
	nextID   func() int64
	deviceID string

	stopSweep context.CancelFunc
}

// NewService creates a pairing service. Call Start to begin the
// timeout sweeper.
func NewService(deviceID string, store cert.Store, conn ConnectionHandle, events *eventbus.Bus, nextID func() int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		statuses: make(map[string]Status),
		pending:  make(map[string]*pendingRequest),
		store:    store,
		conn:     conn,
		events:   events,
		nextID:   nextID,
		logger:   logger,
		deviceID: deviceID,
	}
}

// Start launches the background timeout sweeper. Call Stop to end it.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.stopSweep = cancel
	go s.sweepLoop(ctx)
}

// Stop ends the background timeout sweeper.
func (s *Service) Stop() {
	if s.stopSweep != nil {
		s.stopSweep()
	}
}

// Status returns the current pairing status for a device id.
func (s *Service) Status(deviceID string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[deviceID]
}

// IsPaired reports whether a device is paired: recorded status paired
// and a stored peer certificate both exist.
func (s *Service) IsPaired(deviceID string) bool {
	s.mu.RLock()
	status := s.statuses[deviceID]
	s.mu.RUnlock()
	if status != Paired {
		return false
	}
	peer, err := s.store.LoadPeer(deviceID)
	return err == nil && peer != nil
}

// RequestPairing initiates pairing with a peer. Idempotent if already
// paired.
func (s *Service) RequestPairing(ctx context.Context, peerIdentity *identity.Identity, remoteAddr string) error {
	deviceID := peerIdentity.DeviceID

	if s.IsPaired(deviceID) {
		s.logger.Warn("pairing requested but device is already paired", "device_id", deviceID)
		return nil
	}

	if err := s.ensureConnection(ctx, deviceID, remoteAddr, nil); err != nil {
		s.publishError(&deviceID, "failed to connect for pairing: "+err.Error())
		return err
	}

	pkt := wire.NewPairPacket(s.nextID(), true)
	if err := s.conn.SendPacket(deviceID, pkt); err != nil {
		s.publishError(&deviceID, "failed to send pairing request: "+err.Error())
		return err
	}

	s.mu.Lock()
	s.statuses[deviceID] = RequestedByUs
	s.pending[deviceID] = &pendingRequest{startedAt: time.Now(), remoteAddr: remoteAddr}
	s.mu.Unlock()

	s.events.Publish(eventbus.Event{
		Type:           eventbus.RequestSent,
		DeviceID:       deviceID,
		OurFingerprint: s.ownFingerprint(),
	})
	return nil
}

// HandlePacket processes an incoming kdeconnect.pair packet and
// returns an optional response packet for the caller to send back over
// the same connection.
func (s *Service) HandlePacket(pkt *wire.Packet, peerIdentity *identity.Identity, peerCertDER []byte, remoteAddr string) (*wire.Packet, error) {
	pairValue, ok := pkt.IsPair()
	if !ok {
		return nil, protoerr.Wrapf(protoerr.KindInvalidPacket, nil, "malformed pair packet")
	}
	deviceID := peerIdentity.DeviceID

	s.mu.Lock()
	current := s.statuses[deviceID]

	switch current {
	case Paired:
		s.mu.Unlock()
		if pairValue {
			// Idempotent: already paired, no state change, optional ack.
			return wire.NewPairPacket(s.nextID(), true), nil
		}
		s.unpairLocked(deviceID)
		return nil, nil

	case Unpaired:
		if !pairValue {
			s.mu.Unlock()
			return nil, nil
		}
		s.statuses[deviceID] = RequestedByPeer
		s.pending[deviceID] = &pendingRequest{startedAt: time.Now(), remoteAddr: remoteAddr, certDER: peerCertDER}
		s.mu.Unlock()

		s.events.Publish(eventbus.Event{
			Type:             eventbus.RequestReceived,
			DeviceID:         deviceID,
			DeviceName:       peerIdentity.DeviceName,
			TheirFingerprint: cert.Fingerprint(peerCertDER),
		})
		return nil, nil

	case RequestedByUs:
		delete(s.pending, deviceID)
		if pairValue {
			s.statuses[deviceID] = Paired
			s.mu.Unlock()
			if err := s.store.StorePeer(deviceID, peerCertDER); err != nil {
				return nil, err
			}
			s.events.Publish(eventbus.Event{
				Type:                   eventbus.PairingAccepted,
				DeviceID:               deviceID,
				DeviceName:             peerIdentity.DeviceName,
				CertificateFingerprint: cert.Fingerprint(peerCertDER),
			})
			return nil, nil
		}
		s.statuses[deviceID] = Unpaired
		s.mu.Unlock()
		s.events.Publish(eventbus.Event{Type: eventbus.PairingRejected, DeviceID: deviceID})
		return nil, nil

	case RequestedByPeer:
		if pairValue {
			s.mu.Unlock()
			return nil, nil
		}
		delete(s.pending, deviceID)
		s.statuses[deviceID] = Unpaired
		s.mu.Unlock()
		s.events.Publish(eventbus.Event{Type: eventbus.PairingRejected, DeviceID: deviceID, Reason: "peer cancelled"})
		return nil, nil

	default:
		s.mu.Unlock()
		return nil, nil
	}
}

// AcceptPairing accepts a pending requested_by_peer pairing. The
// application must call this in response to a RequestReceived event.
func (s *Service) AcceptPairing(ctx context.Context, deviceID string) error {
	s.mu.RLock()
	req, ok := s.pending[deviceID]
	s.mu.RUnlock()
	if !ok {
		return protoerr.Wrapf(protoerr.KindConfiguration, nil, "no active pairing request for device %s", deviceID)
	}

	if err := s.ensureConnection(ctx, deviceID, req.remoteAddr, req.certDER); err != nil {
		return err
	}

	if err := s.store.StorePeer(deviceID, req.certDER); err != nil {
		return err
	}

	pkt := wire.NewPairPacket(s.nextID(), true)
	if err := s.conn.SendPacket(deviceID, pkt); err != nil {
		return err
	}

	s.mu.Lock()
	s.statuses[deviceID] = Paired
	delete(s.pending, deviceID)
	s.mu.Unlock()

	s.events.Publish(eventbus.Event{
		Type:                   eventbus.PairingAccepted,
		DeviceID:               deviceID,
		CertificateFingerprint: cert.Fingerprint(req.certDER),
	})
	return nil
}

// RejectPairing declines a pending pairing request.
func (s *Service) RejectPairing(deviceID string) error {
	s.mu.Lock()
	delete(s.pending, deviceID)
	s.statuses[deviceID] = Unpaired
	s.mu.Unlock()

	pkt := wire.NewPairPacket(s.nextID(), false)
	if err := s.conn.SendPacket(deviceID, pkt); err != nil {
		s.logger.Warn("failed to send pairing reject", "device_id", deviceID, "err", err)
	}

	s.events.Publish(eventbus.Event{Type: eventbus.PairingRejected, DeviceID: deviceID, Reason: "User declined"})
	return nil
}

// Unpair removes a paired device's stored certificate.
func (s *Service) Unpair(deviceID string) error {
	s.mu.Lock()
	s.unpairLocked(deviceID)
	s.mu.Unlock()
	return nil
}

func (s *Service) unpairLocked(deviceID string) {
	s.statuses[deviceID] = Unpaired
	delete(s.pending, deviceID)
	if err := s.store.RemovePeer(deviceID); err != nil {
		s.logger.Warn("failed to remove peer certificate on unpair", "device_id", deviceID, "err", err)
	}
	s.events.Publish(eventbus.Event{Type: eventbus.DeviceUnpaired, DeviceID: deviceID})
}

func (s *Service) ensureConnection(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) error {
	if s.conn.HasConnection(deviceID) {
		return nil
	}
	if err := s.conn.EnsureConnection(ctx, deviceID, remoteAddr, peerCertDER); err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	time.Sleep(settleDelay)
	return nil
}

func (s *Service) ownFingerprint() string {
	own, err := s.store.LoadOrGenerateOwn(s.deviceID)
	if err != nil {
		return ""
	}
	return own.Fingerprint()
}

func (s *Service) publishError(deviceID *string, message string) {
	ev := eventbus.Event{Type: eventbus.Error, Message: message}
	if deviceID != nil {
		ev.DeviceID = *deviceID
	}
	s.events.Publish(ev)
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	now := time.Now()
	var timedOut []string

	s.mu.Lock()
	for deviceID, req := range s.pending {
		if now.Sub(req.startedAt) > Timeout {
			timedOut = append(timedOut, deviceID)
		}
	}
	for _, deviceID := range timedOut {
		delete(s.pending, deviceID)
		s.statuses[deviceID] = Unpaired
	}
	s.mu.Unlock()

	for _, deviceID := range timedOut {
		s.events.Publish(eventbus.Event{Type: eventbus.PairingTimeout, DeviceID: deviceID})
	}
}
