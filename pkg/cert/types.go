// Package cert implements generation, persistence and fingerprinting
// of the self-signed certificates used for device identity and TOFU
// peer trust.
package cert

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
)

// KeyBits is the RSA key size used for generated certificates.
const KeyBits = 2048

// ValidityPeriodYears is the certificate lifetime.
const ValidityPeriodYears = 10

// SubjectOrg and friends make up the fixed distinguished name used for
// every generated certificate, matching the wire protocol's historical
// naming.
const (
	SubjectOrg     = "KDE"
	SubjectOrgUnit = "Kde connect"
)

// DistinguishedName builds the Subject/Issuer pkix.Name for a device id.
func DistinguishedName(deviceID string) pkix.Name {
	return pkix.Name{
		Organization:       []string{SubjectOrg},
		OrganizationalUnit: []string{SubjectOrgUnit},
		CommonName:         deviceID,
	}
}

// Identity is this device's own long-lived certificate and private key.
type Identity struct {
	DeviceID    string
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

// Fingerprint returns the SHA-256 fingerprint of this identity's
// certificate.
func (i *Identity) Fingerprint() string {
	return Fingerprint(i.Certificate.Raw)
}

// TLSCertificate adapts this identity into a tls.Certificate suitable
// for a tls.Config.Certificates list.
func (i *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{i.Certificate.Raw},
		PrivateKey:  i.PrivateKey,
		Leaf:        i.Certificate,
	}
}

// PeerCertificate is a certificate accepted from a peer during pairing.
// Only the public certificate is ever stored for peers; no private key
// material exists for a remote device.
type PeerCertificate struct {
	DeviceID    string
	Certificate *x509.Certificate
}

// Fingerprint returns the SHA-256 fingerprint of this peer's certificate.
func (p *PeerCertificate) Fingerprint() string {
	return Fingerprint(p.Certificate.Raw)
}
