package transport

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/kdeconnect-go/kdeconnect/pkg/cert"
)

// PeerResolver looks up the stored peer certificate for a device id
// that has already completed pairing, for TOFU fingerprint comparison.
// Returns (nil, nil) if the peer is not paired (and thus exempt from
// fingerprint enforcement).
type PeerResolver func(deviceID string) (*cert.PeerCertificate, error)

// newTOFUConfig builds a tls.Config that accepts any well-formed
// certificate during the handshake itself (InsecureSkipVerify) and
// defers identity binding to a custom VerifyPeerCertificate callback
// that compares fingerprints against the resolver, only once a device
// id is known. The device id is not known until after the plain-text
// identity packet is read, so callers bind the callback per-connection
// via BindPeerVerification rather than at config-construction time.
func newTOFUConfig(identity *cert.Identity) *tls.Config {
	return &tls.Config{
		MinVersion:             tls.VersionTLS13,
		Certificates:           []tls.Certificate{identity.TLSCertificate()},
		InsecureSkipVerify:     true,
		ClientAuth:             tls.RequireAnyClientCert,
		SessionTicketsDisabled: true,
	}
}

// NewServerSideConfig builds the tls.Config used when this process
// acts as the TLS *server* for a connection — i.e. the side that
// initiated the TCP connect (role-inverted from the usual convention).
func NewServerSideConfig(identity *cert.Identity) *tls.Config {
	return newTOFUConfig(identity)
}

// NewClientSideConfig builds the tls.Config used when this process
// acts as the TLS *client* for a connection — i.e. the side that
// accepted the TCP connect.
func NewClientSideConfig(identity *cert.Identity) *tls.Config {
	cfg := newTOFUConfig(identity)
	cfg.ClientAuth = 0
	return cfg
}

// BindPeerVerification attaches a TOFU VerifyPeerCertificate callback
// for a known device id to an existing tls.Config, to be called after
// the plain-text identity has revealed which peer this connection
// belongs to but before the TLS handshake completes.
func BindPeerVerification(cfg *tls.Config, deviceID string, resolve PeerResolver) {
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		expected, err := resolve(deviceID)
		if err != nil {
			return err
		}
		return cert.VerifyTOFU(rawCerts, expected)
	}
}
