package cot

import (
	"errors"
)

// ErrFrameTooLarge is returned when a single document, or input that never
// becomes one, grows past the framer bound.
var ErrFrameTooLarge = errors.New("cot: frame exceeds buffer bound")

// DefaultMaxFrame is the default bound on one buffered document.
const DefaultMaxFrame = 1 << 20

type scanState int

const (
	stText scanState = iota
	stLT
	stBang
	stStartTag
	stQuote
	stEndTag
	stComment
	stCData
	stPI
	stDecl
)

// Framer cuts complete root elements out of an unframed byte stream.
// It tokenizes incrementally: every byte is inspected once and a frame is
// reported as soon as its root element closes. Prolog content between
// frames (whitespace, <?xml?> declarations, comments) is discarded, but
// every non-space byte of it counts toward the bound until the next frame
// completes, so a stream that never turns into XML still fails.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	max int

	buf   []byte
	pos   int // next byte to scan
	mark  int // start of the current root element, -1 when none
	state scanState
	depth int

	quote   byte
	slash   bool // last significant byte inside a start tag was '/'
	bang    []byte
	tail    int // progress through a terminator (-->, ]]>, ?>)
	lastLT  int
	junk    int // non-space bytes seen outside a root element since the last frame
	frames  [][]byte
	errored error
}

// NewFramer returns a framer that fails once one document exceeds max bytes.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Framer{max: max, mark: -1}
}

// Write feeds bytes into the framer. Completed documents become available
// through Next. Once ErrFrameTooLarge is returned the framer is unusable.
func (f *Framer) Write(p []byte) (int, error) {
	if f.errored != nil {
		return 0, f.errored
	}
	f.buf = append(f.buf, p...)
	for ; f.pos < len(f.buf); f.pos++ {
		c := f.buf[f.pos]
		if f.mark < 0 && !isSpace(c) {
			f.junk++
		}
		f.step(c)
	}
	f.compact()
	if f.junk > f.max || (f.mark >= 0 && len(f.buf)-f.mark > f.max) {
		f.errored = ErrFrameTooLarge
		return len(p), f.errored
	}
	return len(p), nil
}

// Next pops the oldest complete document.
func (f *Framer) Next() ([]byte, bool) {
	if len(f.frames) == 0 {
		return nil, false
	}
	frame := f.frames[0]
	f.frames[0] = nil
	f.frames = f.frames[1:]
	return frame, true
}

// Buffered returns the number of bytes held for an incomplete document.
func (f *Framer) Buffered() int {
	if f.mark < 0 {
		return 0
	}
	return len(f.buf) - f.mark
}

func (f *Framer) step(c byte) {
	switch f.state {
	case stText:
		if c == '<' {
			f.state = stLT
			f.lastLT = f.pos
		}

	case stLT:
		switch {
		case c == '/':
			f.state = stEndTag
		case c == '!':
			f.state = stBang
			f.bang = f.bang[:0]
		case c == '?':
			f.state = stPI
			f.tail = 0
		case isNameStart(c):
			if f.depth == 0 {
				f.mark = f.lastLT
			}
			f.state = stStartTag
			f.slash = false
		default:
			// stray '<', treat as text
			f.state = stText
		}

	case stBang:
		f.bang = append(f.bang, c)
		switch {
		case string(f.bang) == "--":
			f.state = stComment
			f.tail = 0
		case string(f.bang) == "[CDATA[":
			f.state = stCData
			f.tail = 0
		case hasPrefix("--", f.bang) || hasPrefix("[CDATA[", f.bang):
		default:
			f.state = stDecl
			if c == '>' {
				f.state = stText
			}
		}

	case stStartTag:
		switch c {
		case '"', '\'':
			f.quote = c
			f.state = stQuote
			f.slash = false
		case '/':
			f.slash = true
		case '>':
			f.state = stText
			if f.slash {
				if f.depth == 0 {
					f.emit()
				}
			} else {
				f.depth++
			}
		default:
			if !isSpace(c) {
				f.slash = false
			}
		}

	case stQuote:
		if c == f.quote {
			f.state = stStartTag
		}

	case stEndTag:
		if c == '>' {
			f.state = stText
			if f.depth > 0 {
				f.depth--
				if f.depth == 0 {
					f.emit()
				}
			}
		}

	case stComment:
		switch {
		case c == '-' && f.tail < 2:
			f.tail++
		case c == '>' && f.tail == 2:
			f.state = stText
		case c == '-':
		default:
			f.tail = 0
		}

	case stCData:
		switch {
		case c == ']' && f.tail < 2:
			f.tail++
		case c == '>' && f.tail == 2:
			f.state = stText
		case c == ']':
		default:
			f.tail = 0
		}

	case stPI:
		switch {
		case c == '?':
			f.tail = 1
		case c == '>' && f.tail == 1:
			f.state = stText
		default:
			f.tail = 0
		}

	case stDecl:
		if c == '>' {
			f.state = stText
		}
	}
}

func (f *Framer) emit() {
	frame := make([]byte, f.pos+1-f.mark)
	copy(frame, f.buf[f.mark:f.pos+1])
	f.frames = append(f.frames, frame)
	f.mark = -1
	f.junk = 0
}

// compact drops bytes that can no longer belong to a frame.
func (f *Framer) compact() {
	keep := f.mark
	if keep < 0 {
		if f.state == stLT {
			keep = f.lastLT
		} else {
			f.buf = f.buf[:0]
			f.pos = 0
			return
		}
	}
	if keep == 0 {
		return
	}
	n := copy(f.buf, f.buf[keep:])
	f.buf = f.buf[:n]
	f.pos -= keep
	f.lastLT -= keep
	if f.mark >= 0 {
		f.mark -= keep
	}
}

func isNameStart(c byte) bool {
	return c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func hasPrefix(full string, p []byte) bool {
	return len(p) <= len(full) && full[:len(p)] == string(p)
}
