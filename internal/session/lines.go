package session

import (
	"bytes"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// lineBuffer accumulates raw debugger output and hands out complete lines,
// each with its trailing newline. Invalid UTF-8 is replaced, never dropped.
type lineBuffer struct {
	pending []byte
	dec     *encoding.Decoder
}

func newLineBuffer() *lineBuffer {
	return &lineBuffer{dec: unicode.UTF8.NewDecoder()}
}

// Write appends p and returns every line it completed.
func (b *lineBuffer) Write(p []byte) []string {
	b.pending = append(b.pending, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, b.decode(b.pending[:idx+1]))
		b.pending = b.pending[idx+1:]
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return lines
}

// Pending returns the number of buffered bytes without a newline yet.
func (b *lineBuffer) Pending() int {
	return len(b.pending)
}

func (b *lineBuffer) decode(raw []byte) string {
	out, err := b.dec.Bytes(raw)
	if err != nil {
		return string(bytes.ToValidUTF8(raw, []byte("�")))
	}
	return string(out)
}
