package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
	"github.com/kdeconnect-go/kdeconnect/pkg/identity"
	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// PostTLSVersionFloor is the minimum pre-TLS protocolVersion that
// triggers a second, encrypted identity exchange after the handshake.
const PostTLSVersionFloor = 8

// DefaultIdleTimeout is the default read/write deadline for an
// established transport, deliberately long because no keepalive
// traffic is ever sent on it.
const DefaultIdleTimeout = 300 * time.Second

// HandshakeTimeout bounds the entire accept/connect handshake sequence.
const HandshakeTimeout = 30 * time.Second

// Accept completes the accepting side of the handshake on an already
// TCP-accepted connection: it is read byte-by-byte for a plain-text
// identity packet, then TLS is started with this side acting as the
// *client* (role inversion), then — for protocolVersion >= 8 — a
// second identity is exchanged over TLS, sent first by this side.
func Accept(raw net.Conn, own *cert.Identity, ownIdentity *identity.Identity, resolve PeerResolver, idGen func() int64) (*Transport, *identity.Identity, error) {
	raw.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer raw.SetDeadline(time.Time{})

	preID, err := readPlainIdentity(raw)
	if err != nil {
		return nil, nil, err
	}

	tlsCfg := NewClientSideConfig(own)
	BindPeerVerification(tlsCfg, preID.DeviceID, resolve)
	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, nil, protoerr.Wrap(protoerr.KindTLS, err)
	}

	finalID := preID
	if preID.ProtocolVersion >= PostTLSVersionFloor {
		if err := sendIdentity(tlsConn, ownIdentity, idGen()); err != nil {
			return nil, nil, err
		}
		postID, err := recvIdentity(tlsConn)
		if err != nil {
			return nil, nil, err
		}
		if err := validateIdentityMatch(preID, postID); err != nil {
			tlsConn.Close()
			return nil, nil, err
		}
		finalID = postID
	}

	return newTransport(tlsConn), finalID, nil
}

// DialContext completes the initiating side of the handshake: it
// dials addr, sends a plain-text identity, then starts TLS with this
// side acting as the *server* (role inversion), then — for
// protocolVersion >= 8 — reads the peer's second identity first before
// sending its own.
func DialContext(ctx context.Context, addr string, own *cert.Identity, ownIdentity *identity.Identity, resolve PeerResolver, idGen func() int64) (*Transport, *identity.Identity, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, protoerr.Wrap(protoerr.KindIO, err)
	}

	raw.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer raw.SetDeadline(time.Time{})

	if err := sendPlainIdentity(raw, ownIdentity, idGen()); err != nil {
		raw.Close()
		return nil, nil, err
	}

	tlsCfg := NewServerSideConfig(own)
	BindPeerVerification(tlsCfg, ownIdentity.DeviceID, resolve)
	tlsConn := tls.Server(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, nil, protoerr.Wrap(protoerr.KindTLS, err)
	}

	finalID := ownIdentity
	if ownIdentity.ProtocolVersion >= PostTLSVersionFloor {
		postID, err := recvIdentity(tlsConn)
		if err != nil {
			tlsConn.Close()
			return nil, nil, err
		}
		if err := sendIdentity(tlsConn, ownIdentity, idGen()); err != nil {
			tlsConn.Close()
			return nil, nil, err
		}
		// No pre-TLS identity was exchanged for the peer on this side
		// (only the dialer sends one, in the clear, before TLS starts),
		// so there is nothing to compare postID against; it becomes
		// authoritative on receipt.
		finalID = postID
	}

	return newTransport(tlsConn), finalID, nil
}

func validateIdentityMatch(pre, post *identity.Identity) error {
	if pre.DeviceID != post.DeviceID || pre.ProtocolVersion != post.ProtocolVersion {
		return protoerr.Wrapf(protoerr.KindInvalidPacket, nil,
			"post-TLS identity (%s, v%d) does not match pre-TLS identity (%s, v%d)",
			post.DeviceID, post.ProtocolVersion, pre.DeviceID, pre.ProtocolVersion)
	}
	return nil
}

func readPlainIdentity(conn net.Conn) (*identity.Identity, error) {
	lr := newLineReader(conn, wire.MaxPacketSize)
	frame, err := lr.ReadFrame()
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	pkt, err := wire.Decode(frame)
	if err != nil {
		return nil, err
	}
	return identity.FromPacket(pkt)
}

func sendPlainIdentity(conn net.Conn, id *identity.Identity, packetID int64) error {
	pkt, err := id.ToPacket(packetID)
	if err != nil {
		return err
	}
	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	return nil
}

func sendIdentity(conn net.Conn, id *identity.Identity, packetID int64) error {
	return sendPlainIdentity(conn, id, packetID)
}

func recvIdentity(conn net.Conn) (*identity.Identity, error) {
	br := newBufferedFrameReader(conn, wire.MaxPacketSize)
	frame, err := br.ReadFrame()
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	pkt, err := wire.Decode(frame)
	if err != nil {
		return nil, err
	}
	return identity.FromPacket(pkt)
}
