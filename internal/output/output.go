// Package output renders processed events. It supports json, text, and
// table formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/bimmerbailey/logstage/internal/config"
	"github.com/bimmerbailey/logstage/internal/pipeline"
	"github.com/bimmerbailey/logstage/internal/record"
)

// Format represents an output format type.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ParseFormat converts a string to a Format, defaulting to json.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text":
		return FormatText
	case "table":
		return FormatTable
	default:
		return FormatJSON
	}
}

// levelKeys are the record fields consulted for an event's severity.
var levelKeys = []string{"level", "severity", "lvl"}

// Writer handles writing formatted output. Table output is buffered until
// Flush.
type Writer struct {
	w        io.Writer
	format   Format
	colorize bool
	table    *tabwriter.Writer
}

// New creates a new output Writer.
func New(w io.Writer, format Format, mode ColorMode) *Writer {
	return &Writer{w: w, format: format, colorize: shouldColorize(mode, w)}
}

type jsonEvent struct {
	Tag    string         `json:"tag"`
	Time   int64          `json:"time"`
	Record *record.Record `json:"record"`
}

// WriteEvent outputs one event in the configured format.
func (wr *Writer) WriteEvent(ev pipeline.Event) error {
	switch wr.format {
	case FormatTable:
		return wr.writeRow(ev)
	case FormatText:
		return wr.writeText(ev)
	default:
		data, err := json.Marshal(jsonEvent{Tag: ev.Tag, Time: ev.Time, Record: ev.Record})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(wr.w, string(data))
		return err
	}
}

// WriteJSON outputs any value as indented JSON.
func (wr *Writer) WriteJSON(v interface{}) error {
	enc := json.NewEncoder(wr.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Flush writes any buffered output.
func (wr *Writer) Flush() error {
	if wr.table == nil {
		return nil
	}
	return wr.table.Flush()
}

// LevelOf returns the severity recorded in rec, if any.
func LevelOf(rec *record.Record) config.LogLevel {
	for _, key := range levelKeys {
		if v, ok := rec.Get(key); ok && v.Kind() == record.KindString {
			return config.ParseLevel(v.Str())
		}
	}
	return config.LevelUnknown
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func (wr *Writer) writeText(ev pipeline.Event) error {
	data, err := json.Marshal(ev.Record)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %s %s", formatTime(ev.Time), ev.Tag, data)
	if wr.colorize {
		line = ColorizeLine(LevelOf(ev.Record), line)
	}
	_, err = fmt.Fprintln(wr.w, line)
	return err
}

func (wr *Writer) writeRow(ev pipeline.Event) error {
	if wr.table == nil {
		wr.table = tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(wr.table, "TIME\tTAG\tLEVEL\tRECORD")
		fmt.Fprintln(wr.table, "----\t---\t-----\t------")
	}

	data, err := json.Marshal(ev.Record)
	if err != nil {
		return err
	}
	rec := string(data)
	if len(rec) > 80 {
		rec = clip(rec, 77) + "..."
	}

	level := LevelOf(ev.Record)
	levelText := ""
	if level != config.LevelUnknown {
		levelText = level.String()
	}

	_, err = fmt.Fprintf(wr.table, "%s\t%s\t%s\t%s\n", formatTime(ev.Time), ev.Tag, levelText, rec)
	return err
}

// clip returns at most n bytes of s without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TagResult pairs a tag with its truncated form.
type TagResult struct {
	Tag       string `json:"tag"`
	Truncated string `json:"truncated"`
	Length    int    `json:"length"`
}

// WriteTags outputs truncation results in the configured format.
func (wr *Writer) WriteTags(results []TagResult) error {
	switch wr.format {
	case FormatJSON:
		return wr.WriteJSON(results)
	case FormatTable:
		tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TAG\tTRUNCATED\tLENGTH")
		fmt.Fprintln(tw, "---\t---------\t------")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Tag, r.Truncated, r.Length)
		}
		return tw.Flush()
	default:
		for _, r := range results {
			if _, err := fmt.Fprintln(wr.w, r.Truncated); err != nil {
				return err
			}
		}
		return nil
	}
}
