package cfgparse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultChunkSize is the number of bytes read from the source per read call.
const DefaultChunkSize = 2048

// Parser errors.
var (
	// ErrInvalidParameter is returned for a nil reader or callback.
	ErrInvalidParameter = errors.New("invalid parser parameter")

	// ErrCallback is returned when the callback reports Error.
	ErrCallback = errors.New("parser callback failed")

	// ErrUnterminated is returned when the input ends inside a section.
	ErrUnterminated = errors.New("unterminated section")
)

// Status is returned by a Callback to steer parsing.
type Status int

const (
	// Continue asks for the next section.
	Continue Status = iota

	// Stop ends parsing successfully after the current section.
	Stop

	// Error ends parsing with ErrCallback.
	Error
)

// Pair is one key:value token pair of a section.
type Pair struct {
	Key   string
	Value string
}

// Record is the ordered list of pairs of one <...> section. A Record is only
// valid for the duration of the callback it is passed to.
type Record []Pair

// Get returns the value of the first pair with key.
func (r Record) Get(key string) (string, bool) {
	for _, p := range r {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Callback interprets one section.
type Callback func(Record) Status

// Result summarizes a parse.
type Result struct {
	// Sections is the number of sections handed to the callback
	Sections int

	// Offset is the byte offset just past the last section handed to the
	// callback. When the callback stopped parsing, this is where the next
	// document in a multi-document stream begins.
	Offset int64

	// Stopped is true when the callback returned Stop
	Stopped bool
}

type config struct {
	caseSensitive bool
	chunkSize     int
}

// Option configures a parse.
type Option func(*config)

// WithCaseSensitive disables lowercase folding of keys and values.
// Used for sections whose values are case-sensitive paths.
func WithCaseSensitive(sensitive bool) Option {
	return func(c *config) {
		c.caseSensitive = sensitive
	}
}

// WithChunkSize sets how many bytes are read from the source at a time.
func WithChunkSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// Parse parses the configuration file at path, invoking cb once per section.
//
// Example:
//
//	_, err := cfgparse.Parse("flash.cfg", func(r cfgparse.Record) cfgparse.Status {
//	    name, _ := r.Get("name")
//	    fmt.Println(name)
//	    return cfgparse.Continue
//	})
func Parse(path string, cb Callback, opts ...Option) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f, cb, opts...)
}

// ParseReader parses sections from any io.Reader. The source is consumed in
// fixed-size chunks; a token split across two chunks is completed by the
// second, so the records produced do not depend on how reads are split.
func ParseReader(r io.Reader, cb Callback, opts ...Option) (Result, error) {
	if r == nil || cb == nil {
		return Result{}, ErrInvalidParameter
	}

	cfg := config{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &parser{cfg: cfg, cb: cb}
	buf := make([]byte, cfg.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			done, ferr := p.feed(buf[:n])
			if ferr != nil {
				return p.result, ferr
			}
			if done {
				return p.result, nil
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.result, fmt.Errorf("read config: %w", err)
		}
	}

	if p.state == stateKey || p.state == stateValue {
		return p.result, fmt.Errorf("%w at byte %d", ErrUnterminated, p.offset)
	}
	return p.result, nil
}

type scanState int

const (
	stateOutside scanState = iota
	stateComment
	stateKey
	stateValue
)

// parser holds the scan state carried from one chunk to the next. tok is the
// partial token: bytes of the current key or value seen so far.
type parser struct {
	cfg    config
	cb     Callback
	state  scanState
	tok    strings.Builder
	key    string
	record Record
	offset int64
	result Result
}

func (p *parser) feed(chunk []byte) (bool, error) {
	for _, c := range chunk {
		p.offset++

		switch p.state {
		case stateOutside:
			switch c {
			case '<':
				p.state = stateKey
				p.record = nil
				p.tok.Reset()
			case '#':
				p.state = stateComment
			}

		case stateComment:
			if c == '\n' {
				p.state = stateOutside
			}

		case stateKey:
			switch c {
			case ':':
				p.key = p.token()
				p.state = stateValue
			case ';':
				if k := p.token(); k != "" {
					p.record = append(p.record, Pair{Key: k})
				}
			case '>':
				if k := p.token(); k != "" {
					p.record = append(p.record, Pair{Key: k})
				}
				if done, err := p.emit(); done || err != nil {
					return done, err
				}
			default:
				p.tok.WriteByte(p.fold(c))
			}

		case stateValue:
			switch c {
			case ';':
				p.record = append(p.record, Pair{Key: p.key, Value: p.token()})
				p.state = stateKey
			case '>':
				p.record = append(p.record, Pair{Key: p.key, Value: p.token()})
				if done, err := p.emit(); done || err != nil {
					return done, err
				}
			default:
				p.tok.WriteByte(p.fold(c))
			}
		}
	}
	return false, nil
}

// emit hands the completed section to the callback.
func (p *parser) emit() (bool, error) {
	p.state = stateOutside
	p.result.Sections++
	p.result.Offset = p.offset

	rec := p.record
	p.record = nil

	switch p.cb(rec) {
	case Stop:
		p.result.Stopped = true
		return true, nil
	case Error:
		return true, fmt.Errorf("section %d: %w", p.result.Sections, ErrCallback)
	}
	return false, nil
}

// token returns the trimmed pending token and clears it.
func (p *parser) token() string {
	t := strings.TrimSpace(p.tok.String())
	p.tok.Reset()
	return t
}

func (p *parser) fold(c byte) byte {
	if !p.cfg.caseSensitive && c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
