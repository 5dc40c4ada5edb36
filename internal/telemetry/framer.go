// Package telemetry decodes the motor controller's serial protocol: it frames a
// raw byte stream into '\r' delimited lines and interprets the !IOX telemetry
// carried in them.
package telemetry

import (
	"bytes"
	"errors"
	"io"
	"time"
)

const (
	Delimiter = '\r'

	readChunk = 512
)

// Framer accumulates raw bytes and splits them into delimited lines. Bytes are
// never dropped or reordered across calls.
type Framer struct {
	buf []byte
}

// Feed appends p and returns the first complete line (delimiter included), if any.
// Calling Feed with no data re-scans what is already buffered.
func (f *Framer) Feed(p []byte) ([]byte, bool) {
	f.buf = append(f.buf, p...)

	pos := bytes.IndexByte(f.buf, Delimiter)
	if pos < 0 {
		return nil, false
	}

	line := make([]byte, pos+1)
	copy(line, f.buf[:pos+1])
	f.buf = append(f.buf[:0], f.buf[pos+1:]...)
	return line, true
}

// Flush drains the buffer and returns whatever had accumulated.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	out := make([]byte, len(f.buf))
	copy(out, f.buf)
	f.buf = f.buf[:0]
	return out
}

// buffered reports how many bytes are waiting for a delimiter.
func (f *Framer) buffered() int {
	return len(f.buf)
}

// LineReader frames lines read from any byte stream whose Read returns after at
// most readTimeout when no data is available.
type LineReader struct {
	r           io.Reader
	readTimeout time.Duration
	framer      Framer
	chunk       []byte
}

func NewLineReader(r io.Reader, readTimeout time.Duration) *LineReader {
	if readTimeout < 10*time.Millisecond {
		readTimeout = 100 * time.Millisecond
	}
	return &LineReader{
		r:           r,
		readTimeout: readTimeout,
		chunk:       make([]byte, readChunk),
	}
}

// ReadLine returns the next delimited line. When no delimiter arrives within
// budget (counted in read attempts of readTimeout each) the partial buffer is
// returned and cleared, so a stalled link cannot block the caller forever. An
// empty string with a nil error means no data this tick.
func (lr *LineReader) ReadLine(budget time.Duration) (string, error) {
	if line, ok := lr.framer.Feed(nil); ok {
		return string(line), nil
	}

	tries := 0
	for {
		n, err := lr.r.Read(lr.chunk)
		if line, ok := lr.framer.Feed(lr.chunk[:n]); ok {
			return string(line), nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return string(lr.framer.Flush()), err
		}

		tries++
		if time.Duration(tries)*lr.readTimeout > budget {
			break
		}
	}

	return string(lr.framer.Flush()), nil
}
