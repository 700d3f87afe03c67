package cert

import (
	"crypto/x509"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// FileStore persists own and peer certificates as PEM files under a
// base directory, one file per peer named "<device_id>.pem".
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) ownCertPath() string { return filepath.Join(s.dir, OwnCertFilename) }
func (s *FileStore) ownKeyPath() string  { return filepath.Join(s.dir, OwnKeyFilename) }

func (s *FileStore) peerPath(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".pem")
}

// LoadOrGenerateOwn implements Store.
func (s *FileStore) LoadOrGenerateOwn(deviceID string) (*Identity, error) {
	if _, err := os.Stat(s.ownCertPath()); err == nil {
		c, err := ReadCertFile(s.ownCertPath())
		if err != nil {
			return nil, err
		}
		key, err := ReadKeyFile(s.ownKeyPath())
		if err != nil {
			return nil, err
		}
		id, err := ExtractDeviceID(c)
		if err != nil {
			return nil, protoerr.Wrapf(protoerr.KindCertificateValidation, err, "own certificate missing device id")
		}
		return &Identity{DeviceID: id, Certificate: c, PrivateKey: key}, nil
	}

	identity, err := Generate(deviceID)
	if err != nil {
		return nil, err
	}
	if err := WriteCertFile(s.ownCertPath(), identity.Certificate); err != nil {
		return nil, err
	}
	if err := WriteKeyFile(s.ownKeyPath(), identity.PrivateKey); err != nil {
		return nil, err
	}
	return identity, nil
}

// StorePeer implements Store.
func (s *FileStore) StorePeer(deviceID string, der []byte) error {
	if isReservedFilename(deviceID) {
		return protoerr.Wrapf(protoerr.KindCertificateValidation, nil, "device id %q collides with a reserved filename", deviceID)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return protoerr.Wrap(protoerr.KindCertificateValidation, err)
	}
	return WriteCertFile(s.peerPath(deviceID), c)
}

// LoadPeer implements Store.
func (s *FileStore) LoadPeer(deviceID string) (*PeerCertificate, error) {
	path := s.peerPath(deviceID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	c, err := ReadCertFile(path)
	if err != nil {
		return nil, err
	}
	return &PeerCertificate{DeviceID: deviceID, Certificate: c}, nil
}

// RemovePeer implements Store.
func (s *FileStore) RemovePeer(deviceID string) error {
	err := os.Remove(s.peerPath(deviceID))
	if err != nil && !os.IsNotExist(err) {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	return nil
}

// ListPeers implements Store.
func (s *FileStore) ListPeers() ([]*PeerCertificate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindIO, err)
	}
	var peers []*PeerCertificate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		if isReservedFilename(strings.TrimSuffix(e.Name(), ".pem")) {
			continue
		}
		deviceID := strings.TrimSuffix(e.Name(), ".pem")
		c, err := ReadCertFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable peer certificate", "file", e.Name(), "err", err)
			continue
		}
		peers = append(peers, &PeerCertificate{DeviceID: deviceID, Certificate: c})
	}
	return peers, nil
}

func isReservedFilename(name string) bool {
	return name == strings.TrimSuffix(OwnCertFilename, ".pem") || name+".pem" == OwnCertFilename
}
