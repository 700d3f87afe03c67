package transport

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/kdeconnect-go/kdeconnect/pkg/wire"
)

// lineReader reads LF-terminated frames one byte at a time so that no
// bytes beyond the terminating LF are buffered. This matters only for
// the very first plain-text identity read of an accepted connection,
// where over-buffering would swallow the TLS ClientHello that follows
// on the same socket. Reads after the TLS handshake go through
// bufferedFrameReader instead.
type lineReader struct {
	r       io.Reader
	maxSize int
}

func newLineReader(r io.Reader, maxSize int) *lineReader {
	return &lineReader{r: r, maxSize: maxSize}
}

// ReadFrame reads bytes up to and excluding the next LF.
func (lr *lineReader) ReadFrame() ([]byte, error) {
	buf := make([]byte, 0, 512)
	one := make([]byte, 1)
	for {
		n, err := lr.r.Read(one)
		if n == 1 {
			if one[0] == '\n' {
				return buf, nil
			}
			buf = append(buf, one[0])
			// Rejects only past maxSize, not at it: a frame of exactly
			// MaxPacketSize is accepted, matching the original's
			// bytes.len() > MAX_PACKET_SIZE check.
			if len(buf) > lr.maxSize {
				return nil, wire.ErrOversizeFrame
			}
		}
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
	}
}

// bufferedFrameReader is used once the connection is past the
// plain-text identity exchange, where buffered reads are safe and
// much faster than byte-at-a-time reads.
type bufferedFrameReader struct {
	r       *bufio.Reader
	maxSize int
}

func newBufferedFrameReader(r io.Reader, maxSize int) *bufferedFrameReader {
	return &bufferedFrameReader{r: bufio.NewReaderSize(r, 4096), maxSize: maxSize}
}

// ReadFrame reads bytes up to and excluding the next LF, enforcing
// maxSize.
func (br *bufferedFrameReader) ReadFrame() ([]byte, error) {
	line, err := br.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		if err != io.EOF {
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}
	line = trimLF(line)
	if len(line) > br.maxSize {
		return nil, wire.ErrOversizeFrame
	}
	return line, nil
}

func trimLF(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

// frameWriter writes LF-terminated frames. Thread-safe.
type frameWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

func (fw *frameWriter) WriteFrame(data []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := fw.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write frame terminator: %w", err)
	}
	return nil
}
