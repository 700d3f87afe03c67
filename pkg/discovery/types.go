package discovery

import (
	"net"
	"strconv"
)

// Announcement is the resolved shape of one discovered peer, however
// it was found. A caller passes this to the connection manager's
// EnsureConnection/Connect to initiate contact.
type Announcement struct {
	// DeviceID is the peer's stable identifier.
	DeviceID string

	// DeviceName is a human-readable label for the peer.
	DeviceName string

	// Host is the peer's resolved address (IP or hostname, no port).
	Host string

	// Port is the peer's TCP listen port for the main protocol
	// connection (DefaultPort unless advertised otherwise).
	Port uint16

	// ProtocolVersion is the peer's advertised protocol version, if
	// known ahead of connecting (0 if unknown).
	ProtocolVersion int
}

// DefaultPort is the default listen port for the protocol's TLS
// connection, used when an Announcement source does not carry one.
const DefaultPort = 1716

// RemoteAddr returns the "host:port" string suitable for
// connection.Manager.Connect.
func (a Announcement) RemoteAddr() string {
	port := a.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(int(port)))
}
