package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/stream"
	"go.uber.org/zap"

	"github.com/bimmerbailey/logstage/internal/kvdecode"
	"github.com/bimmerbailey/logstage/internal/parser"
	"github.com/bimmerbailey/logstage/internal/record"
)

// InputFormat says how a raw line becomes a record.
type InputFormat string

const (
	InputLogfmt InputFormat = "logfmt"
	InputJSON   InputFormat = "json"
	InputRaw    InputFormat = "raw"
)

// ParseInputFormat validates s as an InputFormat. Empty means InputLogfmt.
func ParseInputFormat(s string) (InputFormat, error) {
	switch f := InputFormat(s); f {
	case "":
		return InputLogfmt, nil
	case InputLogfmt, InputJSON, InputRaw:
		return f, nil
	default:
		return "", fmt.Errorf("invalid input.format %q", s)
	}
}

// maxLineSize bounds a single input line.
const maxLineSize = 1024 * 1024

// Stats counts events seen by a Pipeline.
type Stats struct {
	Processed int64 `json:"processed"`
	Emitted   int64 `json:"emitted"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// Pipeline runs events through an ordered chain of stages. It is safe for
// concurrent use once built.
type Pipeline struct {
	stages     []Stage
	reporter   ErrorReporter
	onError    OnError
	format     InputFormat
	decoder    *kvdecode.Decoder
	jsonParser *parser.Parser
	tag        string
	tagKey     string
	workers    int
	now        func() time.Time
	logger     *zap.Logger

	processed atomic.Int64
	emitted   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReporter sets where failed events are reported.
func WithReporter(r ErrorReporter) Option {
	return func(p *Pipeline) {
		p.reporter = r
	}
}

// WithOnError sets the failure mode.
func WithOnError(m OnError) Option {
	return func(p *Pipeline) {
		p.onError = m
	}
}

// WithInput sets the line format.
func WithInput(format InputFormat) Option {
	return func(p *Pipeline) {
		p.format = format
	}
}

// WithDecoder sets the logfmt decoder.
func WithDecoder(d *kvdecode.Decoder) Option {
	return func(p *Pipeline) {
		p.decoder = d
	}
}

// WithJSONParser sets the JSON line parser.
func WithJSONParser(jp *parser.Parser) Option {
	return func(p *Pipeline) {
		p.jsonParser = jp
	}
}

// WithTag sets the tag of events built from lines. When key is not empty
// and a decoded record holds a string under key, that value is the tag.
func WithTag(tag, key string) Option {
	return func(p *Pipeline) {
		p.tag = tag
		p.tagKey = key
	}
}

// WithWorkers sets how many lines are processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock replaces time.Now for events that carry no time of their own.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a Pipeline running stages in order.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:  stages,
		onError: SendOnError,
		format:  InputRaw,
		workers: 1,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reporter == nil {
		p.reporter = NewLogReporter(p.logger, p.onError.Quiet())
	}
	if p.decoder == nil {
		p.decoder, _ = kvdecode.New(kvdecode.Config{}, kvdecode.WithClock(p.now))
	}
	if p.jsonParser == nil {
		p.jsonParser = parser.New(nil, parser.WithClock(p.now))
	}
	return p
}

// Stages returns the names of the configured stages in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Emitted:   p.emitted.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Process runs ev through every stage. The record is copied before the first
// stage so a failure reports ev exactly as it was received. The boolean is
// false when the event should not be forwarded.
func (p *Pipeline) Process(ev Event) (Event, bool) {
	p.processed.Add(1)

	out := ev
	out.Record = ev.Record.Clone()

	for _, s := range p.stages {
		next, err := runStage(s, out)
		if err != nil {
			return p.fail(ev, fmt.Errorf("%s: %w", s.Name(), err))
		}
		out = next
	}

	p.emitted.Add(1)
	return out, true
}

func runStage(s Stage, ev Event) (out Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Process(ev)
}

func (p *Pipeline) fail(ev Event, err error) (Event, bool) {
	p.failed.Add(1)
	p.reporter.ReportError(ev.Tag, ev.Time, ev.Record, err)
	if p.onError.Sends() {
		p.emitted.Add(1)
		return ev, true
	}
	return Event{}, false
}

// ProcessLine decodes line and runs the result through the stages. Lines
// that cannot be decoded are reported with a {"message": line} record.
func (p *Pipeline) ProcessLine(line string) (Event, bool) {
	ev, err := p.decode(line)
	if err != nil {
		p.processed.Add(1)
		return p.fail(p.rawEvent(line), fmt.Errorf("decode: %w", err))
	}
	return p.Process(ev)
}

func (p *Pipeline) decode(line string) (Event, error) {
	switch p.format {
	case InputLogfmt:
		res, err := p.decoder.Decode(line)
		if err != nil {
			return Event{}, err
		}
		if res.Skipped {
			p.skipped.Add(1)
		}
		return Event{Tag: p.tagFor(res.Record), Time: res.Time, Record: res.Record}, nil
	case InputJSON:
		res, err := p.jsonParser.Parse(line)
		if err != nil {
			return Event{}, err
		}
		return Event{Tag: p.tagFor(res.Record), Time: res.Time, Record: res.Record}, nil
	default:
		return p.rawEvent(line), nil
	}
}

func (p *Pipeline) rawEvent(line string) Event {
	rec := record.New()
	rec.Set(kvdecode.MessageKey, record.String(line))
	return Event{Tag: p.tag, Time: p.now().Unix(), Record: rec}
}

func (p *Pipeline) tagFor(rec *record.Record) string {
	if p.tagKey == "" {
		return p.tag
	}
	if v, ok := rec.Get(p.tagKey); ok && v.Kind() == record.KindString && v.Str() != "" {
		return v.Str()
	}
	return p.tag
}

// Run processes lines until the channel is closed or ctx is done. Up to the
// configured number of workers decode and transform lines concurrently;
// emit is called from a single goroutine, in input order. Blank lines are
// ignored. Run stops at the first emit error and returns it.
func (p *Pipeline) Run(ctx context.Context, lines <-chan string, emit func(Event) error) error {
	s := stream.New().WithMaxGoroutines(p.workers)

	var emitErr error
	var halted atomic.Bool

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if halted.Load() {
				break loop
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			s.Go(func() stream.Callback {
				ev, ok := p.ProcessLine(line)
				return func() {
					if !ok || emitErr != nil {
						return
					}
					if err := emit(ev); err != nil {
						emitErr = err
						halted.Store(true)
					}
				}
			})
		}
	}

	s.Wait()
	if emitErr != nil {
		return emitErr
	}
	return ctx.Err()
}

// RunReader feeds every line of r to Run. When ctx is cancelled it returns
// without waiting for a pending read; the reading goroutine exits once that
// read completes.
func (p *Pipeline) RunReader(ctx context.Context, r io.Reader, emit func(Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string, p.workers)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	if err := p.Run(ctx, lines, emit); err != nil {
		return err
	}
	// Run only returns nil once lines is closed, so the scan is over.
	if err := <-scanErr; err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
