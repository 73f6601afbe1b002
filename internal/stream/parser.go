// Package stream turns a byte stream of newline-delimited JSON records into
// individual records, independent of how the bytes were chunked in transit.
package stream

import (
	"bytes"
	"encoding/json"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/deepgram/chatrelay/pkg/logger"
)

const (
	// DefaultMaxLineSize caps how many bytes a single record may span
	DefaultMaxLineSize = 1024 * 1024

	logLineLimit = 200
)

var dataPrefix = []byte("data: ")

// EmitFunc receives each record as compact JSON. Returning an error stops
// the parser and is passed back to the caller of Write or Close.
type EmitFunc func(record json.RawMessage) error

// Stats counts what a parser has seen so far
type Stats struct {
	Emitted   int
	Dropped   int
	Oversized int
}

// Parser accumulates bytes, splits them on '\n', and emits every complete
// line that holds a JSON value, optionally prefixed with "data: ". Lines
// that fail to parse are logged and dropped without interrupting the stream.
//
// Parser implements io.WriteCloser: Write feeds a chunk, Close flushes any
// trailing fragment. A Parser is not safe for concurrent use.
type Parser struct {
	buf         []byte
	emit        EmitFunc
	log         zerolog.Logger
	maxLineSize int
	discarding  bool
	closed      bool
	stats       Stats
}

// Option configures a Parser
type Option func(*Parser)

// WithMaxLineSize overrides DefaultMaxLineSize. Lines longer than this are
// dropped in full.
func WithMaxLineSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

// WithLogger replaces the parser's logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Parser) {
		p.log = l
	}
}

// NewParser returns a Parser that hands each record to emit
func NewParser(emit EmitFunc, opts ...Option) *Parser {
	p := &Parser{
		emit:        emit,
		log:         logger.For(logger.PARSER),
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Write appends chunk to the buffer and emits every line it completes. The
// chunk may end anywhere, including inside a multi-byte character.
func (p *Parser) Write(chunk []byte) (int, error) {
	if p.closed {
		return 0, ErrParserClosed
	}

	rest := chunk
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			p.accumulate(rest)
			break
		}

		segment := rest[:i]
		rest = rest[i+1:]

		if p.discarding {
			p.discarding = false
			continue
		}

		var line []byte
		if len(p.buf) == 0 {
			line = segment
		} else {
			p.buf = append(p.buf, segment...)
			line = p.buf
		}

		err := p.handleLine(line)
		p.buf = p.buf[:0]
		if err != nil {
			return len(chunk), err
		}
	}

	return len(chunk), nil
}

// Close flushes a trailing fragment that was not newline-terminated. A
// fragment that does not parse is dropped silently.
func (p *Parser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if p.discarding || len(p.buf) == 0 {
		p.buf = nil
		return nil
	}

	line := p.buf
	p.buf = nil

	record, ok := parseLine(line)
	if !ok {
		p.stats.Dropped++
		p.log.Debug().Int("bytes", len(line)).Msg("Dropped unparseable trailing fragment")
		return nil
	}

	p.stats.Emitted++
	return p.emit(record)
}

// Stats returns counters for the records seen so far
func (p *Parser) Stats() Stats {
	return p.stats
}

func (p *Parser) accumulate(fragment []byte) {
	if p.discarding {
		return
	}

	if len(p.buf)+len(fragment) > p.maxLineSize {
		p.stats.Oversized++
		p.log.Warn().Int("limit", p.maxLineSize).Msg("Line exceeds maximum size, discarding until next newline")
		p.buf = p.buf[:0]
		p.discarding = true
		return
	}

	p.buf = append(p.buf, fragment...)
}

func (p *Parser) handleLine(line []byte) error {
	if len(line) > p.maxLineSize {
		p.stats.Oversized++
		p.log.Warn().Int("limit", p.maxLineSize).Int("bytes", len(line)).Msg("Dropped oversized line")
		return nil
	}

	if len(trim(line)) == 0 {
		return nil
	}

	record, ok := parseLine(line)
	if !ok {
		p.stats.Dropped++
		p.log.Warn().Str("line", truncate(line)).Msg("Failed to parse line")
		return nil
	}

	p.stats.Emitted++
	return p.emit(record)
}

// parseLine applies the per-line rules: decode as UTF-8 (invalid sequences
// become U+FFFD), trim, strip one "data: " prefix, then parse as JSON.
func parseLine(line []byte) (json.RawMessage, bool) {
	text := trim(toValidUTF8(line))
	if len(text) == 0 {
		return nil, false
	}

	text = bytes.TrimPrefix(text, dataPrefix)
	if len(text) == 0 {
		return nil, false
	}

	var out bytes.Buffer
	if err := json.Compact(&out, text); err != nil {
		return nil, false
	}

	return json.RawMessage(out.Bytes()), true
}

var replacementChar = []byte(string(utf8.RuneError))

// toValidUTF8 replaces each maximal invalid subsequence with one U+FFFD, the
// way a WHATWG UTF-8 decoder does. A run of stray bytes becomes one
// replacement per byte; a truncated multi-byte sequence becomes one in total.
func toValidUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}

	out := make([]byte, 0, len(b)+8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out = append(out, replacementChar...)
			b = b[invalidPrefixLen(b):]
			continue
		}
		out = append(out, b[:size]...)
		b = b[size:]
	}
	return out
}

// invalidPrefixLen returns how many bytes at the start of b form the maximal
// subpart of an ill-formed sequence: a valid lead byte and the continuation
// bytes that may follow it, or a single byte otherwise
func invalidPrefixLen(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var n int

	switch lead := b[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		n = 2
	case lead == 0xE0:
		n, lo = 3, 0xA0
	case lead == 0xED:
		n, hi = 3, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		n = 3
	case lead == 0xF0:
		n, lo = 4, 0x90
	case lead == 0xF4:
		n, hi = 4, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		n = 4
	default:
		return 1
	}

	i := 1
	for i < n && i < len(b) && b[i] >= lo && b[i] <= hi {
		lo, hi = 0x80, 0xBF
		i++
	}
	return i
}

// trim strips surrounding whitespace, treating a byte order mark as whitespace
func trim(b []byte) []byte {
	return bytes.TrimFunc(b, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}

func truncate(line []byte) string {
	if len(line) <= logLineLimit {
		return string(line)
	}
	return string(line[:logLineLimit]) + "..."
}
