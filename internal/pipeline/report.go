package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/bimmerbailey/logstage/internal/record"
)

// OnError decides what happens to an event that failed a stage.
type OnError string

const (
	// SendOnError logs the failure at error level and forwards the original event.
	SendOnError OnError = "send"
	// SendOnErrorQuiet logs at debug level and forwards the original event.
	SendOnErrorQuiet OnError = "send_quiet"
	// DropOnError logs at error level and drops the event.
	DropOnError OnError = "drop"
	// DropOnErrorQuiet logs at debug level and drops the event.
	DropOnErrorQuiet OnError = "drop_quiet"
)

// ParseOnError validates s as an OnError mode. Empty means SendOnError.
func ParseOnError(s string) (OnError, error) {
	switch m := OnError(s); m {
	case "":
		return SendOnError, nil
	case SendOnError, SendOnErrorQuiet, DropOnError, DropOnErrorQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("invalid on_error %q", s)
	}
}

// Sends reports whether failed events are forwarded.
func (m OnError) Sends() bool { return m == SendOnError || m == SendOnErrorQuiet }

// Quiet reports whether failures are logged at debug level.
func (m OnError) Quiet() bool { return m == SendOnErrorQuiet || m == DropOnErrorQuiet }

// ErrorReporter receives events that failed processing. Implementations
// must be safe for concurrent use.
type ErrorReporter interface {
	ReportError(tag string, time int64, rec *record.Record, err error)
}

// LogReporter reports failures through a zap logger.
type LogReporter struct {
	logger *zap.Logger
	quiet  bool
}

// NewLogReporter returns a LogReporter. Quiet reporters log at debug level.
func NewLogReporter(logger *zap.Logger, quiet bool) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger, quiet: quiet}
}

func (r *LogReporter) ReportError(tag string, time int64, rec *record.Record, err error) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("tag", tag),
		zap.Int64("time", time),
		zap.Any("record", rec),
	}
	if r.quiet {
		r.logger.Debug("Failed to process event", fields...)
		return
	}
	r.logger.Error("Failed to process event", fields...)
}

// WriterReporter writes each failure as one JSON object per line.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterReporter returns a reporter writing to w.
func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

type errorEvent struct {
	Tag    string         `json:"tag"`
	Time   int64          `json:"time"`
	Record *record.Record `json:"record"`
	Error  string         `json:"error"`
}

func (r *WriterReporter) ReportError(tag string, time int64, rec *record.Record, err error) {
	data, mErr := json.Marshal(errorEvent{Tag: tag, Time: time, Record: rec, Error: err.Error()})
	if mErr != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.w.Write(append(data, '\n'))
}

// Reporters fans a failure out to several reporters.
type Reporters []ErrorReporter

func (rs Reporters) ReportError(tag string, time int64, rec *record.Record, err error) {
	for _, r := range rs {
		r.ReportError(tag, time, rec, err)
	}
}

// Failure is a failed event captured by a Collector.
type Failure struct {
	Event Event
	Err   error
}

// Collector keeps every reported failure in memory.
type Collector struct {
	mu       sync.Mutex
	failures []Failure
}

func (c *Collector) ReportError(tag string, time int64, rec *record.Record, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, Failure{Event: Event{Tag: tag, Time: time, Record: rec}, Err: err})
}

// Failures returns a copy of the reported failures.
func (c *Collector) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}
