// Package payload implements the plain-TCP side-channel used to move
// bulk binary data (files, screenshots, camera frames) announced by a
// control packet's payloadSize/payloadTransferInfo fields.
//
// The side-channel is deliberately plain TCP, not TLS: confidential
// payloads are an application-layer concern the core does not enforce,
// a property inherited from the wire protocol's compatibility
// requirements. Sender and receiver roles are independent of which
// side is the TLS client or server for the control connection.
package payload

import (
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kdeconnect-go/kdeconnect/pkg/protoerr"
)

// PortRangeStart and PortRangeEnd bound the ports a sender tries when
// opening its ephemeral listener.
const (
	PortRangeStart = 1739
	PortRangeEnd   = 1764
)

// ConnectTimeout bounds how long a sender waits for the receiver to
// connect, and how long a receiver's dial may take.
const ConnectTimeout = 30 * time.Second

// TransferTimeout bounds every individual read or write during the
// transfer itself.
const TransferTimeout = 60 * time.Second

// BufferSize is the chunk size used to stream bytes in both
// directions.
const BufferSize = 64 * 1024

// ProgressFunc reports bytes transferred so far out of total, and may
// cancel the transfer by returning false.
type ProgressFunc func(transferred, total int64) bool

// Server listens on one available port in the payload range and
// transfers exactly one source to exactly one connecting peer.
type Server struct {
	listener net.Listener
	port     int
}

// NewServer binds to the first available port in PortRangeStart..
// PortRangeEnd. Fails with KindIO (AddrInUse semantics) if none are
// free.
func NewServer() (*Server, error) {
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", portAddr(port))
		if err == nil {
			return &Server{listener: ln, port: port}, nil
		}
	}
	return nil, protoerr.Wrapf(protoerr.KindIO, nil,
		"no free port in range %d-%d for payload server", PortRangeStart, PortRangeEnd)
}

func portAddr(port int) string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
}

// Port returns the bound listen port, to be announced in a control
// packet's payloadTransferInfo.
func (s *Server) Port() int {
	return s.port
}

// Close releases the listener if the expected connection never
// arrives.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Send accepts exactly one connection and streams all of r's content
// to it. The listener is consumed whether or not the transfer
// succeeds.
func (s *Server) Send(r io.Reader, total int64, progress ProgressFunc) error {
	defer s.listener.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan acceptResult, 1)
	go func() {
		conn, err := s.listener.Accept()
		resultCh <- acceptResult{conn, err}
	}()

	var conn net.Conn
	select {
	case res := <-resultCh:
		if res.err != nil {
			return protoerr.Wrap(protoerr.KindIO, res.err)
		}
		conn = res.conn
	case <-time.After(ConnectTimeout):
		return protoerr.Wrapf(protoerr.KindTimeout, nil, "timed out waiting for payload connection")
	}
	defer conn.Close()

	buf := make([]byte, BufferSize)
	var sent int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(TransferTimeout))
			if _, err := conn.Write(buf[:n]); err != nil {
				return protoerr.Wrap(protoerr.KindIO, err)
			}
			sent += int64(n)
			if progress != nil && !progress(sent, total) {
				return protoerr.Wrapf(protoerr.KindCancelled, nil, "payload transfer cancelled")
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return protoerr.Wrap(protoerr.KindIO, readErr)
		}
	}
}

// Receive dials addr and reads exactly expectedSize bytes into
// destPath, deleting the partial file on any failure including
// cancellation or a short read.
func Receive(addr string, expectedSize int64, destPath string, progress ProgressFunc) error {
	d := net.Dialer{Timeout: ConnectTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}
	defer conn.Close()

	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return protoerr.Wrap(protoerr.KindIO, err)
	}

	if err := receiveInto(conn, f, expectedSize, progress); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	return f.Close()
}

func receiveInto(conn net.Conn, w io.Writer, expectedSize int64, progress ProgressFunc) error {
	buf := make([]byte, BufferSize)
	var received int64
	for received < expectedSize {
		toRead := int64(BufferSize)
		if remaining := expectedSize - received; remaining < toRead {
			toRead = remaining
		}
		conn.SetReadDeadline(time.Now().Add(TransferTimeout))
		n, err := conn.Read(buf[:toRead])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return protoerr.Wrap(protoerr.KindIO, werr)
			}
			received += int64(n)
			if progress != nil && !progress(received, expectedSize) {
				return protoerr.Wrapf(protoerr.KindCancelled, nil, "payload transfer cancelled")
			}
		}
		if err == io.EOF {
			if received < expectedSize {
				return protoerr.Wrapf(protoerr.KindIO, io.ErrUnexpectedEOF,
					"connection closed after %d of %d expected bytes", received, expectedSize)
			}
			return nil
		}
		if err != nil {
			return protoerr.Wrap(protoerr.KindIO, err)
		}
	}
	return nil
}
