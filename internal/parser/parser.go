// Package parser decodes JSON log lines into records.
//
// The event time is taken from the first present time field ("time",
// "timestamp", "ts", "@timestamp" by default). Numeric values are Unix
// seconds; strings are tried as numbers and then against the configured
// timestamp layouts. A recognised time field is removed from the record; an
// unrecognised one is left in place and the event is stamped with the
// current time.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bimmerbailey/logstage/internal/record"
)

// DefaultTimestampFormats are tried in order against string time fields.
var DefaultTimestampFormats = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"Jan 02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

// DefaultTimeKeys are the fields consulted for the event time.
var DefaultTimeKeys = []string{"time", "timestamp", "ts", "@timestamp"}

// Result is a decoded line.
type Result struct {
	Time   int64
	Record *record.Record
}

// Parser decodes JSON lines. It is immutable after New.
type Parser struct {
	timestampFormats []string
	timeKeys         []string
	now              func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithTimeKeys replaces the fields consulted for the event time.
func WithTimeKeys(keys ...string) Option {
	return func(p *Parser) {
		if len(keys) > 0 {
			p.timeKeys = keys
		}
	}
}

// WithClock replaces time.Now as the source of default timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a new Parser with the given timestamp layouts.
func New(timestampFormats []string, opts ...Option) *Parser {
	if len(timestampFormats) == 0 {
		timestampFormats = DefaultTimestampFormats
	}
	p := &Parser{
		timestampFormats: timestampFormats,
		timeKeys:         DefaultTimeKeys,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes a single JSON object.
func (p *Parser) Parse(line string) (Result, error) {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Result{}, fmt.Errorf("not a JSON object")
	}

	rec := record.New()
	if err := json.Unmarshal([]byte(line), rec); err != nil {
		return Result{}, err
	}

	for _, key := range p.timeKeys {
		v, ok := rec.Get(key)
		if !ok {
			continue
		}
		if ts, ok := p.timeOf(v); ok {
			rec.Delete(key)
			return Result{Time: ts, Record: rec}, nil
		}
		break
	}

	return Result{Time: p.now().Unix(), Record: rec}, nil
}

func (p *Parser) timeOf(v record.Value) (int64, bool) {
	switch v.Kind() {
	case record.KindInt:
		return v.Int(), true
	case record.KindFloat:
		return int64(v.Float()), true
	case record.KindString:
		s := strings.TrimSpace(v.Str())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		if t := p.parseTimestamp(s); !t.IsZero() {
			return t.Unix(), true
		}
	}
	return 0, false
}

// parseTimestamp parses a known timestamp string.
func (p *Parser) parseTimestamp(s string) time.Time {
	for _, format := range p.timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
