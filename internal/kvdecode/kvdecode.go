// Package kvdecode turns logfmt lines into records.
//
// A line such as
//
//	time=1706270401 level=info msg="user logged in" user=alice admin
//
// decodes into {"level":"info","msg":"user logged in","user":"alice","admin":true}
// with the event time taken from (and removed from) the "time" field.
//
// In strict mode a line that produced a keyless flag is assumed to be
// something other than logfmt (free text with an "=" in it, usually), and is
// passed on untouched as {"message": line} instead.
package kvdecode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logfmt/logfmt"

	"github.com/bimmerbailey/logstage/internal/record"
)

// Defaults.
const (
	DefaultTimeKey = "time"
	MessageKey     = "message"
)

// Heuristic selects which values make strict mode reject a line.
type Heuristic string

const (
	// HeuristicFlag rejects lines containing a key with no value.
	HeuristicFlag Heuristic = "flag"
	// HeuristicAnyTrue rejects lines containing any boolean true value,
	// including an explicit key=true.
	HeuristicAnyTrue Heuristic = "any_true"
)

// ErrBadTime is wrapped by every TimeError.
var ErrBadTime = errors.New("bad time field")

// TimeError reports a time field that could not be read as a number.
type TimeError struct {
	Key   string
	Value string
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("the %s=%s is a bad time field", e.Key, e.Value)
}

// Unwrap lets errors.Is match ErrBadTime.
func (e *TimeError) Unwrap() error { return ErrBadTime }

// Config controls decoding.
type Config struct {
	Strict    bool      `mapstructure:"strict"`
	Heuristic Heuristic `mapstructure:"heuristic"`
	TimeKey   string    `mapstructure:"time_key"`
	// Types lists per field conversions as "field:type,field:type".
	// Types are string, integer, float, bool and array (optionally
	// array:<delimiter>, default ",").
	Types string `mapstructure:"types"`
}

// Result is a decoded line.
type Result struct {
	Time   int64
	Record *record.Record
	// Skipped is set when strict mode replaced the line with a raw message.
	Skipped bool
}

// Decoder decodes logfmt lines. It is immutable after New and safe for
// concurrent use.
type Decoder struct {
	strict     bool
	heuristic  Heuristic
	timeKey    string
	converters []converter
	now        func() time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithClock replaces time.Now as the source of default timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}

// New validates cfg and returns a Decoder.
func New(cfg Config, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	converters, err := parseTypes(cfg.Types)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		strict:     cfg.Strict,
		heuristic:  cfg.Heuristic,
		timeKey:    cfg.TimeKey,
		converters: converters,
		now:        time.Now,
	}
	if d.heuristic == "" {
		d.heuristic = HeuristicFlag
	}
	if d.timeKey == "" {
		d.timeKey = DefaultTimeKey
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch c.Heuristic {
	case "", HeuristicFlag, HeuristicAnyTrue:
	default:
		return fmt.Errorf("invalid strict heuristic %q: must be %s or %s", c.Heuristic, HeuristicFlag, HeuristicAnyTrue)
	}
	_, err := parseTypes(c.Types)
	return err
}

// TimeKey returns the field the event time is read from.
func (d *Decoder) TimeKey() string { return d.timeKey }

// Decode parses one line.
func (d *Decoder) Decode(line string) (Result, error) {
	rec, flags, err := parse(line)
	if err != nil {
		if d.strict {
			return d.skip(line), nil
		}
		return Result{}, err
	}

	if d.strict && d.rejects(rec, flags) {
		return d.skip(line), nil
	}

	for _, c := range d.converters {
		if err := c.apply(rec); err != nil {
			return Result{}, err
		}
	}

	ts, err := d.extractTime(rec)
	if err != nil {
		return Result{}, err
	}
	return Result{Time: ts, Record: rec}, nil
}

func (d *Decoder) skip(line string) Result {
	rec := record.New()
	rec.Set(MessageKey, record.String(line))
	return Result{Time: d.now().Unix(), Record: rec, Skipped: true}
}

func (d *Decoder) rejects(rec *record.Record, flags int) bool {
	if d.heuristic == HeuristicFlag {
		return flags > 0
	}
	rejected := false
	rec.Range(func(_ string, v record.Value) bool {
		rejected = v.IsTrue()
		return !rejected
	})
	return rejected
}

func (d *Decoder) extractTime(rec *record.Record) (int64, error) {
	v, ok := rec.Delete(d.timeKey)
	if !ok || v.Kind() == record.KindNull {
		return d.now().Unix(), nil
	}

	switch v.Kind() {
	case record.KindInt:
		return v.Int(), nil
	case record.KindFloat:
		return int64(v.Float()), nil
	case record.KindString:
		if ts, ok := parseNumber(v.Str()); ok {
			return ts, nil
		}
	}
	return 0, &TimeError{Key: d.timeKey, Value: v.Text()}
}

func parseNumber(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// parse tokenizes line and reports how many keyless flags it contained.
func parse(line string) (*record.Record, int, error) {
	rec := record.New()
	flags := 0

	dec := logfmt.NewDecoder(strings.NewReader(line))
	for dec.ScanRecord() {
		for dec.ScanKeyval() {
			key := string(dec.Key())
			raw := dec.Value()
			if raw == nil {
				flags++
				rec.Set(key, record.Bool(true))
				continue
			}
			rec.Set(key, typed(raw))
		}
	}
	if err := dec.Err(); err != nil {
		return nil, 0, fmt.Errorf("decode logfmt: %w", err)
	}
	return rec, flags, nil
}

// typed converts barewords into booleans and numbers.
func typed(raw []byte) record.Value {
	switch {
	case bytes.Equal(raw, []byte("true")):
		return record.Bool(true)
	case bytes.Equal(raw, []byte("false")):
		return record.Bool(false)
	}

	s := string(raw)
	if looksNumeric(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return record.Int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return record.Float(f)
		}
	}
	return record.String(s)
}

// looksNumeric accepts plain decimal integers and fractions, so values
// like "0x1f", "1e3" or "Inf" stay strings.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	digits, dots := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 || i == 0 || i == len(s)-1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}
