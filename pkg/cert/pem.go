package cert

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// EncodeCertPEM encodes an X.509 certificate to PEM format.
func EncodeCertPEM(c *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
}

// DecodeCertPEM decodes a PEM-encoded X.509 certificate.
func DecodeCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, protoerr.Wrapf(protoerr.KindCertificateValidation, nil, "malformed certificate PEM")
	}
	c, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificateValidation, err)
	}
	return c, nil
}

// EncodeKeyPEM encodes an RSA private key to PEM (PKCS#1) format.
func EncodeKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// DecodeKeyPEM decodes a PEM-encoded RSA private key.
func DecodeKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, protoerr.Wrapf(protoerr.KindCertificateValidation, nil, "malformed private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificateValidation, err)
	}
	return key, nil
}

// WriteCertFile writes a certificate to a PEM file (world-readable:
// certificates are public).
func WriteCertFile(path string, c *x509.Certificate) error {
	if err := os.WriteFile(path, EncodeCertPEM(c), 0o644); err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	return nil
}

// ReadCertFile reads a certificate from a PEM file.
func ReadCertFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	return DecodeCertPEM(data)
}

// WriteKeyFile writes a private key to a PEM file with owner-only
// permissions.
func WriteKeyFile(path string, key *rsa.PrivateKey) error {
	if err := os.WriteFile(path, EncodeKeyPEM(key), 0o600); err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	return nil
}

// ReadKeyFile reads a private key from a PEM file.
func ReadKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	return DecodeKeyPEM(data)
}
