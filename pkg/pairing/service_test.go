package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	connected map[string]bool
	sent      []*wire.Packet
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: map[string]bool{}}
}

func (f *fakeConn) HasConnection(deviceID string) bool { return f.connected[deviceID] }
func (f *fakeConn) EnsureConnection(ctx context.Context, deviceID, remoteAddr string, peerCertDER []byte) error {
	f.connected[deviceID] = true
	return nil
}
func (f *fakeConn) SendPacket(deviceID string, p *wire.Packet) error {
	f.sent = append(f.sent, p)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeConn, *eventbus.Bus) {
	t.Helper()
	store, err := cert.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	conn := newFakeConn()
	bus := eventbus.New()
	var n int64
	svc := NewService("aaa", store, conn, bus, func() int64 { n++; return n }, nil)
	return svc, conn, bus
}

func TestRequestPairingThenPeerAccepts(t *testing.T) {
	svc, conn, bus := newTestService(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	peerID, err := cert.Generate("bbb")
	require.NoError(t, err)

	require.NoError(t, svc.RequestPairing(context.Background(), &identity.Identity{DeviceID: "bbb"}, "192.0.2.2:1716"))
	require.Equal(t, RequestedByUs, svc.Status("bbb"))
	requireEventType(t, ch, eventbus.RequestSent)
	require.Len(t, conn.sent, 1)

	resp, err := svc.HandlePacket(wire.NewPairPacket(1, true), &identity.Identity{DeviceID: "bbb"}, peerID.Certificate.Raw, "192.0.2.2:1716")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, Paired, svc.Status("bbb"))
	require.True(t, svc.IsPaired("bbb"))
	requireEventType(t, ch, eventbus.PairingAccepted)
}

func TestIncomingRequestRequiresExplicitAccept(t *testing.T) {
	svc, conn, bus := newTestService(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	peerID, err := cert.Generate("ccc")
	require.NoError(t, err)

	resp, err := svc.HandlePacket(wire.NewPairPacket(1, true), &identity.Identity{DeviceID: "ccc", DeviceName: "Phone"}, peerID.Certificate.Raw, "192.0.2.3:1716")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, RequestedByPeer, svc.Status("ccc"))
	requireEventType(t, ch, eventbus.RequestReceived)
	require.False(t, svc.IsPaired("ccc"))

	require.NoError(t, svc.AcceptPairing(context.Background(), "ccc"))
	require.Equal(t, Paired, svc.Status("ccc"))
	require.True(t, svc.IsPaired("ccc"))
	require.Len(t, conn.sent, 1)
}

func TestIdempotentReacceptWhilePaired(t *testing.T) {
	svc, _, _ := newTestService(t)
	peerID, err := cert.Generate("ddd")
	require.NoError(t, err)

	_, err = svc.HandlePacket(wire.NewPairPacket(1, true), &identity.Identity{DeviceID: "ddd"}, peerID.Certificate.Raw, "192.0.2.4:1716")
	require.NoError(t, err)
	require.NoError(t, svc.AcceptPairing(context.Background(), "ddd"))

	resp, err := svc.HandlePacket(wire.NewPairPacket(2, true), &identity.Identity{DeviceID: "ddd"}, peerID.Certificate.Raw, "192.0.2.4:1716")
	require.NoError(t, err)
	require.NotNil(t, resp)
	pairVal, ok := resp.IsPair()
	require.True(t, ok)
	require.True(t, pairVal)
	require.Equal(t, Paired, svc.Status("ddd"))
}

func TestPairingTimeoutSweeper(t *testing.T) {
	svc, _, bus := newTestService(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	svc.mu.Lock()
	svc.statuses["eee"] = RequestedByUs
	svc.pending["eee"] = &pendingRequest{startedAt: time.Now().Add(-Timeout - time.Second)}
	svc.mu.Unlock()

	svc.sweepOnce()
	require.Equal(t, Unpaired, svc.Status("eee"))
	requireEventType(t, ch, eventbus.PairingTimeout)
}

func requireEventType(t *testing.T, ch <-chan eventbus.Event, want eventbus.Type) {
	t.Helper()
	select {
	case ev := <-ch:
		require.Equal(t, want, ev.Type)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event %v", want)
	}
}
