package daemon

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kdeconnect-go/kdeconnect/pkg/config"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/pairing"
	"github.com/kdeconnect-go/kdeconnect/pkg/router"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

func newTestDaemon(t *testing.T, deviceID, deviceName string, mutate func(*config.Config)) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.CertDir = filepath.Join(t.TempDir(), "certs")
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg, deviceID, deviceName, identity.Desktop, nil, nil)
	require.NoError(t, err)
	return d
}

func waitForEvent(t *testing.T, ch <-chan eventbus.Event, want eventbus.Type) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func addrOf(t *testing.T, d *Daemon) string {
	t.Helper()
	port := d.Manager.ListenPort()
	require.NotZero(t, port)
	return "127.0.0.1:" + strconv.Itoa(port)
}

func TestPairRequestAcceptAndSend(t *testing.T) {
	a := newTestDaemon(t, "device-a", "Desk A", nil)
	b := newTestDaemon(t, "device-b", "Desk B", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	chA, unsubA := a.Events.Subscribe()
	defer unsubA()
	chB, unsubB := b.Events.Subscribe()
	defer unsubB()

	require.NoError(t, b.RequestPairing(ctx, a.Identity(), addrOf(t, a)))
	waitForEvent(t, chA, eventbus.RequestReceived)
	waitForEvent(t, chB, eventbus.RequestSent)

	require.NoError(t, a.AcceptPairing(ctx, "device-b"))
	waitForEvent(t, chB, eventbus.PairingAccepted)

	require.Equal(t, pairing.Paired, a.PairingStatus("device-b"))
	require.True(t, b.Pairing.IsPaired("device-a"))

	pkt := wire.New(1, router.TypePing, map[string]any{})
	require.NoError(t, b.Send("device-a", pkt))
}

func TestSendRejectedWhenNotPaired(t *testing.T) {
	a := newTestDaemon(t, "device-a", "Desk A", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	pkt := wire.New(1, router.TypePing, map[string]any{})
	err := a.Send("device-unknown", pkt)
	require.Error(t, err)
}

func TestConnectionOverCapIsDisconnected(t *testing.T) {
	a := newTestDaemon(t, "device-a", "Desk A", func(cfg *config.Config) {
		cfg.Resources.MaxTotalConnections = 0
	})
	b := newTestDaemon(t, "device-b", "Desk B", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	chB, unsubB := b.Events.Subscribe()
	defer unsubB()

	require.NoError(t, b.Connect(ctx, "device-a", addrOf(t, a)))
	waitForEvent(t, chB, eventbus.Connected)
	waitForEvent(t, chB, eventbus.Disconnected)
}
