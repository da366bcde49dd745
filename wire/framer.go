package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxLineBytes bounds a single buffered response line unless the
// connection configures its own limit.
const DefaultMaxLineBytes = 16 << 20

// ErrFrameTooLong is returned when the worker emits a line longer than the
// framer's limit. The condition is a transport failure; the stream cannot be
// resynchronized once a line has been abandoned mid-way.
var ErrFrameTooLong = errors.New("response line exceeds maximum frame size")

// Framer reassembles newline-terminated messages from an arbitrary sequence
// of byte chunks. Incomplete trailing bytes are retained between calls, so a
// message may arrive split across any number of reads, down to one byte at a
// time. A Framer belongs to exactly one connection.
type Framer struct {
	buf bytes.Buffer
	max int
}

// NewFramer returns a Framer that fails once a single buffered line exceeds
// max bytes. A max of zero or less selects DefaultMaxLineBytes.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &Framer{max: max}
}

// Feed appends chunk to the partial buffer and returns every complete line
// now available, with terminators stripped. Zero-length chunks are legal and
// produce no lines. If the partial buffer grows past the limit without a
// terminator, Feed returns ErrFrameTooLong and the Framer must not be used
// again.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	f.buf.Write(chunk)

	var lines [][]byte
	for {
		data := f.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, data[:i])
		lines = append(lines, line)
		f.buf.Next(i + 1)
	}

	if f.buf.Len() > f.max {
		return lines, fmt.Errorf("%w (%d buffered, limit %d)", ErrFrameTooLong, f.buf.Len(), f.max)
	}
	return lines, nil
}

// Pending reports how many bytes of an incomplete line are buffered.
func (f *Framer) Pending() int {
	return f.buf.Len()
}
