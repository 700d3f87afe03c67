package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// Transport is an established, authenticated, packet-framed channel to
// a single peer.
type Transport struct {
	conn        *tls.Conn
	reader      *bufferedFrameReader
	writer      *frameWriter
	idleTimeout time.Duration
	closeOnce   sync.Once
}

func newTransport(conn *tls.Conn) *Transport {
	return &Transport{
		conn:        conn,
		reader:      newBufferedFrameReader(conn, wire.MaxPacketSize),
		writer:      newFrameWriter(conn),
		idleTimeout: DefaultIdleTimeout,
	}
}

// SetIdleTimeout overrides the default read/write deadline.
func (t *Transport) SetIdleTimeout(d time.Duration) {
	t.idleTimeout = d
}

// RemoteAddr returns the peer's network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// ConnectionState returns the underlying TLS connection state, mainly
// so the observed peer leaf certificate can be inspected.
func (t *Transport) ConnectionState() tls.ConnectionState {
	return t.conn.ConnectionState()
}

// Send serializes and writes a packet, LF-terminated.
func (t *Transport) Send(p *wire.Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.idleTimeout))
	if err := t.writer.WriteFrame(data); err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	return nil
}

// Receive blocks until the next full packet frame has been read.
func (t *Transport) Receive() (*wire.Packet, error) {
	t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
	frame, err := t.reader.ReadFrame()
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	return wire.Decode(frame)
}

// Close closes the underlying connection. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
