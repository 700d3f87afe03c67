package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/stretchr/testify/require"
)

func noopResolver(string) (*cert.PeerCertificate, error) { return nil, nil }

func TestHandshakeRoleInversionAndPostTLSIdentity(t *testing.T) {
	aCert, err := cert.Generate("aaa")
	require.NoError(t, err)
	bCert, err := cert.Generate("bbb")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	aIdentity := &identity.Identity{DeviceID: "aaa", DeviceName: "Device A", ProtocolVersion: 8}
	bIdentity := &identity.Identity{DeviceID: "bbb", DeviceName: "Device B", ProtocolVersion: 8}

	type result struct {
		tr  *Transport
		id  *identity.Identity
		err error
	}
	acceptCh := make(chan result, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			acceptCh <- result{err: err}
			return
		}
		tr, id, err := Accept(raw, bCert, bIdentity, noopResolver, sequentialIDGen())
		acceptCh <- result{tr: tr, id: id, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientTr, clientID, err := DialContext(ctx, ln.Addr().String(), aCert, aIdentity, noopResolver, sequentialIDGen())
	require.NoError(t, err)
	require.Equal(t, "bbb", clientID.DeviceID)

	res := <-acceptCh
	require.NoError(t, res.err)
	require.Equal(t, "aaa", res.id.DeviceID)

	defer clientTr.Close()
	defer res.tr.Close()
}

func sequentialIDGen() func() int64 {
	var n int64
	return func() int64 {
		n++
		return n
	}
}

// TestHandshakeAbortsOnPostTLSVersionMismatch drives Accept's real code
// path against a hand-rolled peer that sends a pre-TLS identity at v8
// but a different protocolVersion in the post-TLS identity exchange.
// validateIdentityMatch must reject the mismatch and Accept must hand
// back no usable transport.
func TestHandshakeAbortsOnPostTLSVersionMismatch(t *testing.T) {
	aCert, err := cert.Generate("aaa")
	require.NoError(t, err)
	bCert, err := cert.Generate("bbb")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	bIdentity := &identity.Identity{DeviceID: "bbb", DeviceName: "Device B", ProtocolVersion: 8}

	type result struct {
		tr  *Transport
		id  *identity.Identity
		err error
	}
	acceptCh := make(chan result, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			acceptCh <- result{err: err}
			return
		}
		tr, id, err := Accept(raw, bCert, bIdentity, noopResolver, sequentialIDGen())
		acceptCh <- result{tr: tr, id: id, err: err}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	preID := &identity.Identity{DeviceID: "aaa", DeviceName: "Device A", ProtocolVersion: 8}
	require.NoError(t, sendPlainIdentity(raw, preID, 1))

	tlsCfg := NewServerSideConfig(aCert)
	BindPeerVerification(tlsCfg, "bbb", noopResolver)
	tlsConn := tls.Server(raw, tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tlsConn.HandshakeContext(ctx))
	defer tlsConn.Close()

	_, err = recvIdentity(tlsConn)
	require.NoError(t, err)

	mismatched := &identity.Identity{DeviceID: "aaa", DeviceName: "Device A", ProtocolVersion: 7}
	require.NoError(t, sendIdentity(tlsConn, mismatched, 2))

	res := <-acceptCh
	require.Error(t, res.err)
	require.Nil(t, res.tr)
	require.Nil(t, res.id)

	var protoErr *protoerr.Error
	require.True(t, errors.As(res.err, &protoErr))
	require.Equal(t, protoerr.KindInvalidPacket, protoErr.Kind)
}
