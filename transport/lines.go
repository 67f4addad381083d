package transport

import "bytes"

// MaxFrameSize is the firmware's receive buffer size, the largest frame a board reports.
const MaxFrameSize = 16536

// DefaultMaxLineLength bounds an inbound line. It holds an RX_TRANSMIT event carrying a
// MaxFrameSize data frame, which base64 encodes to 22048 characters plus the tag, receive id
// and scout frame.
const DefaultMaxLineLength = 32 * 1024

// lineBuffer splits an inbound byte stream on LF and strips the preceding CR.
//
// A line longer than maxLen is discarded up to the next delimiter.
type lineBuffer struct {
	buf        []byte
	maxLen     int
	discarding bool
}

func newLineBuffer(maxLen int) *lineBuffer {
	return &lineBuffer{buf: make([]byte, 0, 256), maxLen: maxLen}
}

// push appends data and returns the lines it completes, plus the number of over-long lines
// that were dropped.
func (b *lineBuffer) push(data []byte) (lines []string, dropped int) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if !b.discarding {
				b.buf = append(b.buf, data...)
				if len(b.buf) > b.maxLen+1 {
					b.buf = b.buf[:0]
					b.discarding = true
					dropped++
				}
			}
			return lines, dropped
		}

		if b.discarding {
			b.discarding = false
		} else {
			b.buf = append(b.buf, data[:i]...)
			line := bytes.TrimSuffix(b.buf, []byte{'\r'})
			if len(line) > b.maxLen {
				dropped++
			} else {
				lines = append(lines, string(line))
			}
		}
		b.buf = b.buf[:0]
		data = data[i+1:]
	}

	return lines, dropped
}

// reset drops any partial line.
func (b *lineBuffer) reset() {
	b.buf = b.buf[:0]
	b.discarding = false
}
