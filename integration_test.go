//go:build integration

package kdeconnect_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kdeconnect-go/kdeconnect/internal/daemon"
	"github.com/kdeconnect-go/kdeconnect/pkg/config"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/payload"
	"github.com/kdeconnect-go/kdeconnect/pkg/router"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

func newDaemon(t *testing.T, deviceID, deviceName string) *daemon.Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.CertDir = filepath.Join(t.TempDir(), "certs")
	d, err := daemon.New(cfg, deviceID, deviceName, identity.Desktop, nil, nil)
	require.NoError(t, err)
	return d
}

func addrOf(t *testing.T, d *daemon.Daemon) string {
	t.Helper()
	port := d.Manager.ListenPort()
	require.NotZero(t, port)
	return "127.0.0.1:" + strconv.Itoa(port)
}

func waitFor(t *testing.T, ch <-chan eventbus.Event, want eventbus.Type) eventbus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
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

// TestFreshPairingV8 exercises a complete pairing handshake between
// two freshly started daemons with no prior trust: A requests pairing
// with B, B's operator accepts, and both sides end up holding each
// other's certificate.
func TestFreshPairingV8(t *testing.T) {
	a := newDaemon(t, "aaa", "Device A")
	b := newDaemon(t, "bbb", "Device B")

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

	require.NoError(t, a.RequestPairing(ctx, b.Identity(), addrOf(t, b)))
	waitFor(t, chB, eventbus.RequestReceived)

	require.NoError(t, b.AcceptPairing(ctx, "aaa"))
	waitFor(t, chA, eventbus.PairingAccepted)

	require.True(t, a.Pairing.IsPaired("bbb"))
	require.True(t, b.Pairing.IsPaired("aaa"))
}

// TestDuplicateConnectionReplacement covers the socket-replacement
// case end to end: when a second daemon with the same device id opens
// another connection, the manager emits Disconnected for the old
// socket and Connected for the new one. A repeated Connect from the
// same daemon would not dial again, since it already holds a
// connection.
func TestDuplicateConnectionReplacement(t *testing.T) {
	a := newDaemon(t, "aaa", "Device A")
	b := newDaemon(t, "bbb", "Device B")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	chA, unsubA := a.Events.Subscribe()
	defer unsubA()

	require.NoError(t, b.Connect(ctx, "aaa", addrOf(t, a)))
	waitFor(t, chA, eventbus.Connected)

	b2 := newDaemon(t, "bbb", "Device B")
	require.NoError(t, b2.Start(ctx))
	defer b2.Stop()
	require.NoError(t, b2.Connect(ctx, "aaa", addrOf(t, a)))
	waitFor(t, chA, eventbus.Disconnected)
	waitFor(t, chA, eventbus.Connected)
}

// TestPayloadTransferRoundTrip drives SendFile end to end: A
// announces a payload to B via a control packet, and a plain TCP
// dial against the announced port receives exactly the bytes sent.
func TestPayloadTransferRoundTrip(t *testing.T) {
	a := newDaemon(t, "aaa", "Device A")
	b := newDaemon(t, "bbb", "Device B")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	chA, unsubA := a.Events.Subscribe()
	defer unsubA()
	chBPairing, unsubBPairing := b.Events.Subscribe()
	defer unsubBPairing()

	require.NoError(t, a.RequestPairing(ctx, b.Identity(), addrOf(t, b)))
	waitFor(t, chBPairing, eventbus.RequestReceived)
	require.NoError(t, b.AcceptPairing(ctx, "aaa"))
	waitFor(t, chA, eventbus.PairingAccepted)

	chB, unsubB := b.Events.Subscribe()
	defer unsubB()

	content := []byte("Hello, world!")
	pkt := wire.New(1, "kdeconnect.share.request", map[string]any{"filename": "a.bin"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.SendFile("bbb", pkt, bytes.NewReader(content), int64(len(content)), nil)
	}()

	ev := waitFor(t, chB, eventbus.PacketReceived)
	require.True(t, ev.Packet.HasPayload())

	portVal, ok := ev.Packet.PayloadTransferInfo["port"]
	require.True(t, ok)
	port := int(portVal.(float64))

	destPath := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, payload.Receive("127.0.0.1:"+strconv.Itoa(port), *ev.Packet.PayloadSize, destPath, nil))
	require.NoError(t, <-errCh)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// rivalPingPlugin claims the ping capability under a different plugin
// name, exercising capability-ownership conflicts distinct from a
// duplicate-name conflict.
type rivalPingPlugin struct{}

func (rivalPingPlugin) Name() string                                     { return "rival-ping" }
func (rivalPingPlugin) IncomingCapabilities() []string                   { return []string{router.TypePing} }
func (rivalPingPlugin) OutgoingCapabilities() []string                   { return nil }
func (rivalPingPlugin) Init(*router.DeviceContext) error                 { return nil }
func (rivalPingPlugin) Start() error                                     { return nil }
func (rivalPingPlugin) Stop() error                                      { return nil }
func (rivalPingPlugin) Handle(*wire.Packet, *router.DeviceContext) error { return nil }

// TestCapabilityConflict registers a second plugin claiming the ping
// capability already owned by the daemon's built-in ping plugin and
// checks the registration is rejected without disturbing the first.
func TestCapabilityConflict(t *testing.T) {
	a := newDaemon(t, "aaa", "Device A")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	require.Error(t, a.RegisterPlugin(rivalPingPlugin{}))
	p, ok := a.Registry.Lookup(router.TypePing)
	require.True(t, ok)
	require.Equal(t, "ping", p.Name())
}
