package cert

import (
	"crypto/x509"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// VerifyTOFU implements the TOFU identity-binding predicate: the
// observed peer leaf certificate's fingerprint must equal the
// fingerprint recorded at pairing time. It is applied at the
// application layer, never inside the TLS library's own verification
// (the TLS handshake itself accepts any well-formed certificate).
//
// expected may be nil, meaning the peer is not yet paired and any
// certificate is accepted (pairing-in-progress peers are exempt, per
// the trust model's design notes).
func VerifyTOFU(rawCerts [][]byte, expected *PeerCertificate) error {
	if len(rawCerts) == 0 {
		return protoerr.Wrapf(protoerr.KindTLS, nil, "peer presented no certificate")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return protoerr.Wrap(protoerr.KindTLS, err)
	}
	if expected == nil {
		return nil
	}
	if Fingerprint(leaf.Raw) != expected.Fingerprint() {
		return protoerr.Wrapf(protoerr.KindTLS, nil, "peer certificate fingerprint does not match the one recorded at pairing time")
	}
	return nil
}
