package payload

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	data := []byte("Hello, world! This is a payload transfer test.")

	server, err := NewServer()
	require.NoError(t, err)
	require.GreaterOrEqual(t, server.Port(), PortRangeStart)
	require.LessOrEqual(t, server.Port(), PortRangeEnd)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- server.Send(bytes.NewReader(data), int64(len(data)), nil)
	}()

	destPath := filepath.Join(t.TempDir(), "received.bin")
	err = Receive(addrFor(server.Port()), int64(len(data)), destPath, nil)
	require.NoError(t, err)
	require.NoError(t, <-sendErr)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestShortReadDeletesPartialFile(t *testing.T) {
	data := []byte("short")

	server, err := NewServer()
	require.NoError(t, err)

	go func() {
		server.Send(bytes.NewReader(data), int64(len(data)), nil)
	}()

	destPath := filepath.Join(t.TempDir(), "partial.bin")
	err = Receive(addrFor(server.Port()), int64(len(data)+1), destPath, nil)
	require.Error(t, err)

	_, statErr := os.Stat(destPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestProgressCancelDeletesPartialFile(t *testing.T) {
	data := bytes.Repeat([]byte("x"), BufferSize*2)

	server, err := NewServer()
	require.NoError(t, err)

	go func() {
		server.Send(bytes.NewReader(data), int64(len(data)), nil)
	}()

	destPath := filepath.Join(t.TempDir(), "cancelled.bin")
	err = Receive(addrFor(server.Port()), int64(len(data)), destPath, func(transferred, total int64) bool {
		return false
	})
	require.Error(t, err)

	_, statErr := os.Stat(destPath)
	require.True(t, os.IsNotExist(statErr))
}

func addrFor(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
