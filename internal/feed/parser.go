package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrFraming marks a corrupt record boundary. Unlike a malformed field
// value, a framing error is unrecoverable for the current pass.
var ErrFraming = errors.New("feed: corrupt record framing")

// Parser streams Records from a decompressed film list. It is lazy and
// forward-only; restarting requires reopening the underlying reader.
type Parser struct {
	dec *json.Decoder

	started    bool
	metaSeen   bool
	filmUpdate int64

	// channel and show carry over between records: the feed leaves
	// them blank when they repeat the previous record's values.
	lastChannel string
	lastShow    string
}

// NewParser wraps a decompressed feed stream. Nothing is read until the
// first call to Next.
func NewParser(r io.Reader) *Parser {
	return &Parser{dec: json.NewDecoder(r)}
}

// FilmUpdate returns the feed-declared freshness timestamp as a UNIX
// epoch, or 0 when the metadata header has not been seen (yet) or did
// not carry one. It is valid after the first call to Next.
func (p *Parser) FilmUpdate() int64 {
	return p.filmUpdate
}

// Next returns the next record of the feed. It returns io.EOF after the
// last record and ErrFraming (wrapped) when the record structure is
// corrupt, in which case the stream must be abandoned.
func (p *Parser) Next() (Record, error) {
	if !p.started {
		if err := p.start(); err != nil {
			return Record{}, err
		}
		p.started = true
	}

	for {
		key, err := p.nextKey()
		if err != nil {
			return Record{}, err
		}
		if key != "X" {
			// metadata or unknown list, consume and skip
			if err := p.skipValue(); err != nil {
				return Record{}, err
			}
			continue
		}
		rec, err := p.readRecord()
		if err != nil {
			return Record{}, err
		}
		return rec, nil
	}
}

// start consumes the opening object delimiter.
func (p *Parser) start() error {
	tok, err := p.dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object start, got %v", ErrFraming, tok)
	}
	return nil
}

// nextKey returns the next top-level key, or io.EOF at the closing
// object delimiter.
func (p *Parser) nextKey() (string, error) {
	tok, err := p.dec.Token()
	if err == io.EOF {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if d, ok := tok.(json.Delim); ok && d == '}' {
		return "", io.EOF
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected key, got %v", ErrFraming, tok)
	}
	return key, nil
}

// readRecord consumes one "X" list and assembles a Record from its
// positional values.
func (p *Parser) readRecord() (Record, error) {
	if err := p.expectArrayStart(); err != nil {
		return Record{}, err
	}
	state := recordState{rec: Record{Channel: p.lastChannel, Show: p.lastShow}}
	idx := Field(0)
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("%w: unterminated record: %v", ErrFraming, err)
		}
		if d, ok := tok.(json.Delim); ok {
			if d == ']' {
				break
			}
			return Record{}, fmt.Errorf("%w: nested value inside record", ErrFraming)
		}
		val := ""
		if s, ok := tok.(string); ok {
			val = strings.TrimSpace(s)
		}
		state.apply(idx, val)
		idx++
	}
	rec := state.finish()
	p.lastChannel = rec.Channel
	p.lastShow = rec.Show
	return rec, nil
}

// skipValue consumes one non-record value. The first metadata list
// carries the list creation timestamp, which becomes FilmUpdate.
func (p *Parser) skipValue() error {
	tok, err := p.dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFraming, err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil // scalar, already consumed
	}
	if d != '[' && d != '{' {
		return fmt.Errorf("%w: unexpected delimiter %v", ErrFraming, d)
	}
	depth := 1
	first := true
	for depth > 0 {
		tok, err := p.dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFraming, err)
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '[', '{':
				depth++
			case ']', '}':
				depth--
			}
			continue
		}
		if first && !p.metaSeen {
			if s, ok := tok.(string); ok {
				p.filmUpdate = parseListTime(s)
				p.metaSeen = true
			}
		}
		first = false
	}
	return nil
}

func (p *Parser) expectArrayStart() error {
	tok, err := p.dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("%w: expected record start, got %v", ErrFraming, tok)
	}
	return nil
}

// parseListTime parses the metadata header timestamp, e.g.
// "30.08.2026, 09:25". Returns 0 when the value has another shape.
func parseListTime(val string) int64 {
	t, err := time.Parse("02.01.2006, 15:04", val)
	if err != nil {
		return 0
	}
	return t.UTC().Unix()
}
