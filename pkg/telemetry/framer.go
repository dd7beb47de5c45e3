package telemetry

import "bytes"

// MaxLineLength bounds the partial line kept between reads.
const MaxLineLength = 4096

var terminator = []byte("\r\n")

// Framer splits a byte stream into CRLF-terminated lines. The partial line is
// kept across Feed calls until its terminator arrives. A line longer than
// MaxLineLength is dropped whole, however it is split across reads. A Framer
// belongs to a single connection; call Reset when the transport is reopened.
type Framer struct {
	buf        []byte
	overflows  uint64
	discarding bool // dropping the rest of an oversized line
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 256)}
}

// Feed appends chunk to the pending bytes and appends every completed line
// (without its terminator) to dst. Returns dst.
func (f *Framer) Feed(dst []string, chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	start := 0
	for {
		idx := bytes.Index(f.buf[start:], terminator)
		if idx < 0 {
			break
		}
		line := f.buf[start : start+idx]
		start += idx + len(terminator)

		switch {
		case f.discarding:
			f.discarding = false
		case len(line) > MaxLineLength:
			f.overflows++
		default:
			dst = append(dst, string(line))
		}
	}

	// Compact the remainder to the front of the buffer.
	rest := copy(f.buf, f.buf[start:])
	f.buf = f.buf[:rest]

	pending := len(f.buf)
	cr := pending > 0 && f.buf[pending-1] == '\r'
	if cr {
		pending--
	}
	if pending > MaxLineLength {
		if !f.discarding {
			f.overflows++
			f.discarding = true
		}
		// Keep a trailing '\r' so a terminator split across reads still matches.
		f.buf = f.buf[:0]
		if cr {
			f.buf = append(f.buf, '\r')
		}
	}

	return dst
}

// Pending returns the number of buffered bytes of the unterminated line.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Overflows returns how many oversized lines were dropped.
func (f *Framer) Overflows() uint64 {
	return f.overflows
}

// Reset discards the partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}
