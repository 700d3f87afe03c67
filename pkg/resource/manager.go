package resource

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

type connectionInfo struct {
	deviceID     string
	lastActivity time.Time
}

type transferInfo struct {
	deviceID string
	size     int64
}

// Manager tracks and enforces the resource caps. All registration
// calls are ref-counted: a register must be paired with an
// unregister, never inferred from a connection closing on its own.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connectionInfo
	transfers   map[string]*transferInfo
	queueSizes  map[string]int

	transferMemory int64
	queueMemory    int64
}

// NewManager creates a resource manager with the given cap table.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		connections: make(map[string]*connectionInfo),
		transfers:   make(map[string]*transferInfo),
		queueSizes:  make(map[string]int),
	}
}

// RegisterConnection records a new connection under connectionID for
// deviceID, failing if it would exceed the total or per-device cap.
func (m *Manager) RegisterConnection(connectionID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.connections) >= m.cfg.MaxTotalConnections {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"maximum total connections (%d) reached", m.cfg.MaxTotalConnections)
	}
	if m.deviceConnectionCountLocked(deviceID) >= m.cfg.MaxConnectionsPerDevice {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"maximum connections per device (%d) reached for %s", m.cfg.MaxConnectionsPerDevice, deviceID)
	}

	m.connections[connectionID] = &connectionInfo{deviceID: deviceID, lastActivity: time.Now()}
	return nil
}

// UnregisterConnection removes a previously registered connection.
func (m *Manager) UnregisterConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, connectionID)
}

// TouchConnection updates a connection's last-activity time, used by
// the stale-connection sweep.
func (m *Manager) TouchConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.connections[connectionID]; ok {
		info.lastActivity = time.Now()
	}
}

func (m *Manager) deviceConnectionCountLocked(deviceID string) int {
	n := 0
	for _, info := range m.connections {
		if info.deviceID == deviceID {
			n++
		}
	}
	return n
}

// ConnectionCount returns the total number of registered connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// StaleConnections returns the ids of connections idle beyond
// maxIdle. The caller is responsible for closing them and calling
// UnregisterConnection; the manager itself does not own transports.
func (m *Manager) StaleConnections(maxIdle time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var stale []string
	for id, info := range m.connections {
		if now.Sub(info.lastActivity) > maxIdle {
			stale = append(stale, id)
		}
	}
	return stale
}

// RegisterTransfer records a new payload transfer of size bytes for
// deviceID, failing if it would exceed any transfer cap.
func (m *Manager) RegisterTransfer(transferID, deviceID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.cfg.MaxTransferSize {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"payload size (%d bytes) exceeds maximum allowed (%d bytes)", size, m.cfg.MaxTransferSize)
	}
	if len(m.transfers) >= m.cfg.MaxConcurrentTransfers {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"maximum concurrent transfers (%d) reached", m.cfg.MaxConcurrentTransfers)
	}
	if m.deviceTransferCountLocked(deviceID) >= m.cfg.MaxTransfersPerDevice {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"maximum transfers per device (%d) reached for %s", m.cfg.MaxTransfersPerDevice, deviceID)
	}
	if m.transferMemory+size > m.cfg.MaxTotalTransferSize {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"total transfer size limit (%d bytes) would be exceeded", m.cfg.MaxTotalTransferSize)
	}

	m.transfers[transferID] = &transferInfo{deviceID: deviceID, size: size}
	m.transferMemory += size
	m.checkMemoryPressureLocked()
	return nil
}

// UnregisterTransfer removes a previously registered transfer.
func (m *Manager) UnregisterTransfer(transferID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.transfers[transferID]
	if !ok {
		return
	}
	delete(m.transfers, transferID)
	m.transferMemory -= info.size
	if m.transferMemory < 0 {
		m.transferMemory = 0
	}
}

func (m *Manager) deviceTransferCountLocked(deviceID string) int {
	n := 0
	for _, info := range m.transfers {
		if info.deviceID == deviceID {
			n++
		}
	}
	return n
}

// TransferCount returns the number of active transfers.
func (m *Manager) TransferCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transfers)
}

// RegisterQueuedPacket increments deviceID's outbound queue count,
// failing if it is already at the per-peer cap.
func (m *Manager) RegisterQueuedPacket(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueSizes[deviceID] >= m.cfg.MaxQueuedPacketsPerDevice {
		return protoerr.Wrapf(protoerr.KindResourceExhausted, nil,
			"packet queue full for device %s (%d packets)", deviceID, m.cfg.MaxQueuedPacketsPerDevice)
	}
	m.queueSizes[deviceID]++
	m.queueMemory += estimatedPacketBytes
	m.checkMemoryPressureLocked()
	return nil
}

// estimatedPacketBytes is a rough per-queued-packet memory estimate
// used only for the memory-pressure warning, not for a hard cap.
const estimatedPacketBytes = 1024

// UnregisterQueuedPacket decrements deviceID's outbound queue count.
func (m *Manager) UnregisterQueuedPacket(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.queueSizes[deviceID]; ok && n > 0 {
		m.queueSizes[deviceID] = n - 1
		m.queueMemory -= estimatedPacketBytes
		if m.queueMemory < 0 {
			m.queueMemory = 0
		}
		if m.queueSizes[deviceID] == 0 {
			delete(m.queueSizes, deviceID)
		}
	}
}

// QueueSize returns the current queued-packet count for a device.
func (m *Manager) QueueSize(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueSizes[deviceID]
}

func (m *Manager) checkMemoryPressureLocked() {
	total := m.transferMemory + m.queueMemory
	if total >= m.cfg.MemoryPressureThreshold {
		m.logger.Warn("memory pressure detected",
			"total_mb", total/(1024*1024),
			"threshold_mb", m.cfg.MemoryPressureThreshold/(1024*1024))
	}
}
