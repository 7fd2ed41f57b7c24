package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bimmerbailey/logstage/internal/config"
	"github.com/bimmerbailey/logstage/internal/pipeline"
	"github.com/bimmerbailey/logstage/internal/record"
)

func testEvent(t *testing.T, js string) pipeline.Event {
	t.Helper()
	rec := record.New()
	if err := json.Unmarshal([]byte(js), rec); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return pipeline.Event{Tag: "default.mypod.mycontainer", Time: 1706270401, Record: rec}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"json", FormatJSON},
		{"TEXT", FormatText},
		{"table", FormatTable},
		{"", FormatJSON},
		{"bogus", FormatJSON},
	}

	for _, tt := range tests {
		if got := ParseFormat(tt.input); got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWriter_WriteEventJSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatJSON, ColorNever)

	if err := w.WriteEvent(testEvent(t, `{"z":1,"a":"b"}`)); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}

	want := `{"tag":"default.mypod.mycontainer","time":1706270401,"record":{"z":1,"a":"b"}}` + "\n"
	if buf.String() != want {
		t.Errorf("WriteEvent() = %q, want %q", buf.String(), want)
	}
}

func TestWriter_WriteEventText(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(&buf, FormatText, ColorNever)

		if err := w.WriteEvent(testEvent(t, `{"level":"error","msg":"x"}`)); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}

		want := `2024-01-26T12:00:01Z default.mypod.mycontainer {"level":"error","msg":"x"}` + "\n"
		if buf.String() != want {
			t.Errorf("WriteEvent() = %q, want %q", buf.String(), want)
		}
	})

	t.Run("colored by level", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(&buf, FormatText, ColorAlways)

		if err := w.WriteEvent(testEvent(t, `{"level":"error","msg":"x"}`)); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
		if !strings.HasPrefix(buf.String(), colorRed) {
			t.Errorf("WriteEvent() = %q, want red line", buf.String())
		}
	})
}

func TestWriter_WriteEventTable(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatTable, ColorNever)

	if err := w.WriteEvent(testEvent(t, `{"severity":"warning","msg":"`+strings.Repeat("x", 100)+`"}`)); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("table written before Flush: %q", buf.String())
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"TIME", "TAG", "LEVEL", "RECORD", "WARN", "default.mypod.mycontainer", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestWriter_WriteEventTableMultibyte(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, FormatTable, ColorNever)

	if err := w.WriteEvent(testEvent(t, `{"msg":"`+strings.Repeat("é", 60)+`"}`)); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	out := buf.String()
	if !utf8.ValidString(out) {
		t.Errorf("table output is not valid UTF-8: %q", out)
	}
	if !strings.Contains(out, "...") {
		t.Errorf("long record not shortened:\n%s", out)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 5, "abc"},
		{"aé", 2, "a"},
		{"aéb", 3, "aé"},
	}

	for _, tt := range tests {
		if got := clip(tt.s, tt.n); got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
		}
	}
}

func TestWriter_FlushWithoutTable(t *testing.T) {
	w := New(&bytes.Buffer{}, FormatJSON, ColorNever)
	if err := w.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		js   string
		want config.LogLevel
	}{
		{`{"level":"info"}`, config.LevelInfo},
		{`{"severity":"ERROR"}`, config.LevelError},
		{`{"lvl":"dbg"}`, config.LevelDebug},
		{`{"level":3}`, config.LevelUnknown},
		{`{}`, config.LevelUnknown},
	}

	for _, tt := range tests {
		if got := LevelOf(testEvent(t, tt.js).Record); got != tt.want {
			t.Errorf("LevelOf(%s) = %v, want %v", tt.js, got, tt.want)
		}
	}
}

func TestWriter_WriteTags(t *testing.T) {
	results := []TagResult{{Tag: "kube.ns.pod.c", Truncated: "ns.pod.c", Length: 8}}

	var text bytes.Buffer
	if err := New(&text, FormatText, ColorNever).WriteTags(results); err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	if text.String() != "ns.pod.c\n" {
		t.Errorf("WriteTags(text) = %q", text.String())
	}

	var js bytes.Buffer
	if err := New(&js, FormatJSON, ColorNever).WriteTags(results); err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	var decoded []TagResult
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded) != 1 || decoded[0] != results[0] {
		t.Errorf("WriteTags(json) = %+v", decoded)
	}

	var table bytes.Buffer
	if err := New(&table, FormatTable, ColorNever).WriteTags(results); err != nil {
		t.Fatalf("WriteTags() error = %v", err)
	}
	if !strings.Contains(table.String(), "TRUNCATED") || !strings.Contains(table.String(), "ns.pod.c") {
		t.Errorf("WriteTags(table) = %q", table.String())
	}
}
