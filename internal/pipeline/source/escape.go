package source

import (
	"bufio"
	"io"
)

type scanState int

const (
	fieldStart scanState = iota
	unquoted
	quoted
	quotedEscape
	quoteInQuoted
	quotedTail
)

// escapeReader rewrites the log's quoting into the doubled-quote form
// encoding/csv understands. Inside quoted fields \" becomes "" and \X becomes X.
// Text after a closing quote joins the field, so "ab"cd reads as abcd. A quote
// in that trailing text or in an unquoted field is literal. Backslashes outside
// quotes are literal.
type escapeReader struct {
	r       *bufio.Reader
	state   scanState
	scratch [2]byte
	pending []byte
	err     error
}

func newEscapeReader(r io.Reader) *escapeReader {
	return &escapeReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (e *escapeReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(e.pending) > 0 {
			c := copy(p[n:], e.pending)
			e.pending = e.pending[c:]
			n += c
			continue
		}
		if e.err != nil {
			break
		}
		b, err := e.r.ReadByte()
		if err != nil {
			e.err = err
			// A closing quote held back for lookahead.
			if e.state == quoteInQuoted {
				e.pending = append(e.scratch[:0], '"')
				e.state = fieldStart
			}
			continue
		}
		e.pending = e.translate(e.scratch[:0], b)
	}
	if n == 0 && e.err != nil {
		return 0, e.err
	}
	return n, nil
}

func isSeparator(b byte) bool {
	return b == ',' || b == '\n' || b == '\r'
}

func (e *escapeReader) translate(out []byte, b byte) []byte {
	switch e.state {
	case fieldStart:
		switch {
		case b == '"':
			e.state = quoted
		case isSeparator(b):
		default:
			e.state = unquoted
		}
		return append(out, b)

	case unquoted:
		if isSeparator(b) {
			e.state = fieldStart
		}
		return append(out, b)

	case quoted:
		switch b {
		case '\\':
			e.state = quotedEscape
			return out
		case '"':
			e.state = quoteInQuoted
			return out
		}
		return append(out, b)

	case quotedEscape:
		e.state = quoted
		if b == '"' {
			return append(out, '"', '"')
		}
		return append(out, b)

	case quoteInQuoted:
		switch {
		case b == '"':
			e.state = quoted
			return append(out, '"', '"')
		case isSeparator(b):
			e.state = fieldStart
			return append(out, '"', b)
		default:
			e.state = quotedTail
			return append(out, b)
		}

	case quotedTail:
		switch {
		case b == '"':
			return append(out, '"', '"')
		case isSeparator(b):
			e.state = fieldStart
			return append(out, '"', b)
		}
		return append(out, b)
	}
	return append(out, b)
}
