package protocol

import "bytes"

// Framer turns a byte stream into lines. It is not safe for concurrent use;
// exactly one reader owns it.
type Framer struct {
	buf []byte
}

// Feed appends data and returns every line completed by it, in order and
// without the delimiter. An unterminated tail is kept for the next call.
func (f *Framer) Feed(data []byte) []string {
	f.buf = append(f.buf, data...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], Delimiter)
		if i < 0 {
			break
		}
		lines = append(lines, string(f.buf[start:start+i]))
		start += i + 1
	}

	if start > 0 {
		f.buf = append([]byte(nil), f.buf[start:]...)
	}
	return lines
}

// Remainder returns a copy of the bytes not yet terminated by a delimiter.
func (f *Framer) Remainder() []byte {
	return bytes.Clone(f.buf)
}

// Buffered reports how many unterminated bytes are held.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}
