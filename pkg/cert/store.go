package cert

// OwnCertFilename and OwnKeyFilename are reserved filenames for this
// device's own identity, distinct from any valid device id so that a
// peer filename can never collide with them.
const (
	OwnCertFilename = "_own.pem"
	OwnKeyFilename  = "_own.key"
)

// Store persists this device's own identity and the set of peer
// certificates accepted at pairing time.
type Store interface {
	// LoadOrGenerateOwn loads the own identity from disk, generating
	// and persisting a fresh one if none exists.
	LoadOrGenerateOwn(deviceID string) (*Identity, error)

	// StorePeer persists a peer's certificate under its device id.
	StorePeer(deviceID string, der []byte) error

	// LoadPeer loads a previously stored peer certificate. Returns
	// (nil, nil) if no certificate is stored for this device id.
	LoadPeer(deviceID string) (*PeerCertificate, error)

	// RemovePeer deletes a stored peer certificate.
	RemovePeer(deviceID string) error

	// ListPeers returns every stored peer certificate.
	ListPeers() ([]*PeerCertificate, error)
}
