package cert

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint computes the SHA-256 fingerprint of a DER-encoded
// certificate, rendered as 32 uppercase hex pairs separated by ':'.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
