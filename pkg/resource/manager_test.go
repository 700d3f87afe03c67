package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnectionsPerDevice = 2
	cfg.MaxTotalConnections = 5
	m := NewManager(cfg, nil)

	require.NoError(t, m.RegisterConnection("conn-1", "ccc"))
	require.NoError(t, m.RegisterConnection("conn-2", "ccc"))
	require.Error(t, m.RegisterConnection("conn-3", "ccc"))
	require.NoError(t, m.RegisterConnection("conn-4", "ddd"))

	m.UnregisterConnection("conn-1")
	require.NoError(t, m.RegisterConnection("conn-3", "ccc"))
}

func TestTransferCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentTransfers = 2
	cfg.MaxTransferSize = 1000
	cfg.MaxTotalTransferSize = 2000
	m := NewManager(cfg, nil)

	require.NoError(t, m.RegisterTransfer("t1", "device-1", 800))
	require.NoError(t, m.RegisterTransfer("t2", "device-2", 800))
	require.Error(t, m.RegisterTransfer("t3", "device-3", 500))

	m.UnregisterTransfer("t1")
	require.NoError(t, m.RegisterTransfer("t4", "device-3", 500))
	require.Error(t, m.RegisterTransfer("t5", "device-4", 500))
}

func TestQueuedPacketCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueuedPacketsPerDevice = 3
	m := NewManager(cfg, nil)

	require.NoError(t, m.RegisterQueuedPacket("device-1"))
	require.NoError(t, m.RegisterQueuedPacket("device-1"))
	require.NoError(t, m.RegisterQueuedPacket("device-1"))
	require.Error(t, m.RegisterQueuedPacket("device-1"))

	m.UnregisterQueuedPacket("device-1")
	require.NoError(t, m.RegisterQueuedPacket("device-1"))
}

func TestStaleConnectionSweep(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	require.NoError(t, m.RegisterConnection("conn-1", "ccc"))

	m.mu.Lock()
	m.connections["conn-1"].lastActivity = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	stale := m.StaleConnections(time.Minute)
	require.Equal(t, []string{"conn-1"}, stale)
}
