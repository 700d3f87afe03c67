package pairing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/eventbus"
	"github.com/kdeconnect-go/kdeconnect/pkg/pairing/mocks"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

func TestRejectPairingSendsPairFalse(t *testing.T) {
	store, err := cert.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	conn := new(mocks.ConnectionHandle)
	conn.On("SendPacket", "fff", mock.MatchedBy(func(p *wire.Packet) bool {
		pairVal, ok := p.IsPair()
		return ok && !pairVal
	})).Return(nil).Once()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe()
	defer unsub()

	var n int64
	svc := NewService("aaa", store, conn, bus, func() int64 { n++; return n }, nil)

	require.NoError(t, svc.RejectPairing("fff"))
	require.Equal(t, Unpaired, svc.Status("fff"))
	requireEventType(t, ch, eventbus.PairingRejected)
	conn.AssertExpectations(t)
}

func TestAcceptPairingCallsEnsureConnectionOnlyWhenDisconnected(t *testing.T) {
	store, err := cert.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	peer, err := cert.Generate("ggg")
	require.NoError(t, err)

	conn := new(mocks.ConnectionHandle)
	conn.On("HasConnection", "ggg").Return(false).Once()
	conn.On("EnsureConnection", mock.Anything, "ggg", "192.0.2.5:1716", peer.Certificate.Raw).Return(nil).Once()
	conn.On("SendPacket", "ggg", mock.Anything).Return(nil).Once()

	bus := eventbus.New()
	var n int64
	svc := NewService("aaa", store, conn, bus, func() int64 { n++; return n }, nil)

	svc.mu.Lock()
	svc.statuses["ggg"] = RequestedByPeer
	svc.pending["ggg"] = &pendingRequest{remoteAddr: "192.0.2.5:1716", certDER: peer.Certificate.Raw}
	svc.mu.Unlock()

	require.NoError(t, svc.AcceptPairing(context.Background(), "ggg"))
	require.Equal(t, Paired, svc.Status("ggg"))
	conn.AssertExpectations(t)
}
