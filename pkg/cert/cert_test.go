package cert

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesValidDN(t *testing.T) {
	id, err := Generate("aaa-device")
	require.NoError(t, err)
	require.Equal(t, "aaa-device", id.Certificate.Subject.CommonName)
	require.Equal(t, []string{SubjectOrg}, id.Certificate.Subject.Organization)
	require.Equal(t, []string{SubjectOrgUnit}, id.Certificate.Subject.OrganizationalUnit)
	require.False(t, id.Certificate.IsCA)
}

func TestFingerprintIsPureAndFormatted(t *testing.T) {
	id, err := Generate("bbb-device")
	require.NoError(t, err)

	fp1 := id.Fingerprint()
	fp2 := Fingerprint(id.Certificate.Raw)
	require.Equal(t, fp1, fp2)

	require.Len(t, fp1, 95)
	require.Equal(t, 31, strings.Count(fp1, ":"))
	require.Equal(t, strings.ToUpper(fp1), fp1)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	own, err := store.LoadOrGenerateOwn("ccc-device")
	require.NoError(t, err)
	require.Equal(t, "ccc-device", own.DeviceID)

	again, err := store.LoadOrGenerateOwn("ccc-device")
	require.NoError(t, err)
	require.Equal(t, own.Fingerprint(), again.Fingerprint())

	peerID, err := Generate("ddd-peer")
	require.NoError(t, err)
	require.NoError(t, store.StorePeer("ddd-peer", peerID.Certificate.Raw))

	loaded, err := store.LoadPeer("ddd-peer")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, peerID.Fingerprint(), loaded.Fingerprint())

	peers, err := store.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)

	require.NoError(t, store.RemovePeer("ddd-peer"))
	missing, err := store.LoadPeer("ddd-peer")
	require.NoError(t, err)
	require.Nil(t, missing)
}
