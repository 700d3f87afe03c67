package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"math/big"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// Generate produces a new long-lived self-signed RSA-2048 identity for
// the given device id.
func Generate(deviceID string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificate, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificate, err)
	}

	name := DistinguishedName(deviceID)
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             now,
		NotAfter:              now.AddDate(ValidityPeriodYears, 0, 0),
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageKeyAgreement,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificate, err)
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindCertificate, err)
	}

	return &Identity{DeviceID: deviceID, Certificate: parsed, PrivateKey: key}, nil
}

// ExtractDeviceID recovers the device id embedded in a certificate's
// Common Name. Returns an error if the CN is empty.
func ExtractDeviceID(c *x509.Certificate) (string, error) {
	if c.Subject.CommonName == "" {
		return "", protoerr.Wrapf(protoerr.KindCertificateValidation, nil, "certificate has no CommonName")
	}
	return c.Subject.CommonName, nil
}
