package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bimmerbailey/logstage/internal/dedot"
	"github.com/bimmerbailey/logstage/internal/extract"
	"github.com/bimmerbailey/logstage/internal/kvdecode"
	"github.com/bimmerbailey/logstage/internal/record"
	"github.com/bimmerbailey/logstage/internal/tagtrunc"
)

var fixedNow = time.Date(2025, 1, 26, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func mustRecord(t *testing.T, js string) *record.Record {
	t.Helper()
	rec := record.New()
	if err := json.Unmarshal([]byte(js), rec); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", js, err)
	}
	return rec
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(out)
}

func standardStages(t *testing.T) []Stage {
	t.Helper()
	n, err := dedot.New(dedot.Config{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("dedot.New() error = %v", err)
	}
	e, err := extract.New([]extract.RuleConfig{
		{Key: "message", Pattern: "/^hello-(world)$/", Set: "type", To: "greet.$1"},
	}, nil)
	if err != nil {
		t.Fatalf("extract.New() error = %v", err)
	}
	return []Stage{
		DedotStage{Normalizer: n},
		ExtractStage{Extractor: e},
		TruncateStage{Truncator: tagtrunc.New(32)},
	}
}

func failing(name string) Stage {
	return StageFunc{StageName: name, Fn: func(ev Event) (Event, error) {
		return ev, errors.New("boom")
	}}
}

func TestPipeline_Process(t *testing.T) {
	p := New(standardStages(t))

	in := Event{
		Tag:    "kube.monitoring.prometheus-server-5d8f7c9b6-xkq2p.prometheus",
		Time:   42,
		Record: mustRecord(t, `{"message":"hello-world","k8s.pod":{"app.name":"web"}}`),
	}
	out, ok := p.Process(in)
	if !ok {
		t.Fatal("Process() dropped event")
	}

	if out.Tag != "monitoring.prometheu*.prometheus" {
		t.Errorf("Process() tag = %q", out.Tag)
	}
	if out.Time != 42 {
		t.Errorf("Process() time = %d, want 42", out.Time)
	}
	want := `{"message":"hello-world","k8s_pod":{"app_name":"web"},"type":"greet.world"}`
	if got := toJSON(t, out.Record); got != want {
		t.Errorf("Process() record = %s, want %s", got, want)
	}

	if got := toJSON(t, in.Record); got != `{"message":"hello-world","k8s.pod":{"app.name":"web"}}` {
		t.Errorf("Process() modified input record: %s", got)
	}
}

func TestPipeline_FailureReportsOriginal(t *testing.T) {
	e, err := extract.New([]extract.RuleConfig{{Key: "a", Pattern: "/x/", Set: "b", To: "y"}}, nil)
	if err != nil {
		t.Fatalf("extract.New() error = %v", err)
	}

	tests := []struct {
		mode     OnError
		wantSent bool
	}{
		{SendOnError, true},
		{SendOnErrorQuiet, true},
		{DropOnError, false},
		{DropOnErrorQuiet, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			c := &Collector{}
			p := New([]Stage{ExtractStage{Extractor: e}, failing("broken")}, WithReporter(c), WithOnError(tt.mode))

			in := Event{Tag: "app", Time: 7, Record: mustRecord(t, `{"a":"x"}`)}
			out, ok := p.Process(in)
			if ok != tt.wantSent {
				t.Fatalf("Process() ok = %v, want %v", ok, tt.wantSent)
			}
			if ok && toJSON(t, out.Record) != `{"a":"x"}` {
				t.Errorf("Process() forwarded %s, want original record", toJSON(t, out.Record))
			}

			failures := c.Failures()
			if len(failures) != 1 {
				t.Fatalf("Failures() = %d, want 1", len(failures))
			}
			f := failures[0]
			if f.Event.Tag != "app" || f.Event.Time != 7 {
				t.Errorf("failure event = %+v", f.Event)
			}
			if got := toJSON(t, f.Event.Record); got != `{"a":"x"}` {
				t.Errorf("failure record = %s, want untouched original", got)
			}
			if !strings.Contains(f.Err.Error(), "broken: boom") {
				t.Errorf("failure error = %v, want stage name", f.Err)
			}

			stats := p.Stats()
			if stats.Failed != 1 || stats.Processed != 1 {
				t.Errorf("Stats() = %+v", stats)
			}
		})
	}
}

func TestPipeline_RecoversPanics(t *testing.T) {
	c := &Collector{}
	panicky := StageFunc{StageName: "panicky", Fn: func(Event) (Event, error) {
		panic("unexpected shape")
	}}
	p := New([]Stage{panicky}, WithReporter(c), WithOnError(DropOnError))

	if _, ok := p.Process(Event{Tag: "t", Record: record.New()}); ok {
		t.Error("Process() forwarded a panicking event")
	}
	failures := c.Failures()
	if len(failures) != 1 || !strings.Contains(failures[0].Err.Error(), "panic: unexpected shape") {
		t.Errorf("Failures() = %+v", failures)
	}

	if _, ok := p.Process(Event{Tag: "t", Record: record.New()}); ok {
		t.Error("second Process() forwarded")
	}
	if p.Stats().Failed != 2 {
		t.Errorf("Stats().Failed = %d, want 2", p.Stats().Failed)
	}
}

func TestPipeline_ProcessLine(t *testing.T) {
	strict, err := kvdecode.New(kvdecode.Config{Strict: true}, kvdecode.WithClock(clock))
	if err != nil {
		t.Fatalf("kvdecode.New() error = %v", err)
	}
	loose, err := kvdecode.New(kvdecode.Config{}, kvdecode.WithClock(clock))
	if err != nil {
		t.Fatalf("kvdecode.New() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    []Option
		line    string
		wantTag string
		want    string
		time    int64
	}{
		{
			name:    "logfmt",
			opts:    []Option{WithInput(InputLogfmt), WithDecoder(loose), WithTag("kube.default.mypod.mycontainer", "")},
			line:    "time=1706270401 level=info message=hello-world",
			wantTag: "default.mypod.mycontainer",
			want:    `{"level":"info","message":"hello-world","type":"greet.world"}`,
			time:    1706270401,
		},
		{
			name:    "strict logfmt skip passes through stages",
			opts:    []Option{WithInput(InputLogfmt), WithDecoder(strict), WithTag("app", "")},
			line:    "hello world a=b",
			wantTag: "app",
			want:    `{"message":"hello world a=b"}`,
			time:    fixedNow.Unix(),
		},
		{
			name:    "json with tag key",
			opts:    []Option{WithInput(InputJSON), WithTag("default", "tag")},
			line:    `{"tag":"kube.ns.pod.c.extra","log.level":"warn"}`,
			wantTag: "ns.pod.c",
			want:    `{"tag":"kube.ns.pod.c.extra","log_level":"warn"}`,
			time:    fixedNow.Unix(),
		},
		{
			name:    "tag key missing uses default",
			opts:    []Option{WithInput(InputJSON), WithTag("app.web", "tag")},
			line:    `{"a":1}`,
			wantTag: "app.web",
			want:    `{"a":1}`,
			time:    fixedNow.Unix(),
		},
		{
			name:    "raw",
			opts:    []Option{WithInput(InputRaw), WithTag("app", "")},
			line:    "hello-world",
			wantTag: "app",
			want:    `{"message":"hello-world","type":"greet.world"}`,
			time:    fixedNow.Unix(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithClock(clock)}, tt.opts...)
			p := New(standardStages(t), opts...)

			ev, ok := p.ProcessLine(tt.line)
			if !ok {
				t.Fatal("ProcessLine() dropped event")
			}
			if ev.Tag != tt.wantTag {
				t.Errorf("ProcessLine() tag = %q, want %q", ev.Tag, tt.wantTag)
			}
			if ev.Time != tt.time {
				t.Errorf("ProcessLine() time = %d, want %d", ev.Time, tt.time)
			}
			if got := toJSON(t, ev.Record); got != tt.want {
				t.Errorf("ProcessLine() record = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPipeline_ProcessLineDecodeError(t *testing.T) {
	c := &Collector{}
	p := New(nil, WithInput(InputLogfmt), WithTag("app", ""), WithClock(clock),
		WithReporter(c), WithOnError(DropOnError))

	if _, ok := p.ProcessLine("time=soon msg=x"); ok {
		t.Fatal("ProcessLine() forwarded a bad line")
	}

	failures := c.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures() = %d, want 1", len(failures))
	}
	if !errors.Is(failures[0].Err, kvdecode.ErrBadTime) {
		t.Errorf("failure error = %v, want ErrBadTime", failures[0].Err)
	}
	if got := toJSON(t, failures[0].Event.Record); got != `{"message":"time=soon msg=x"}` {
		t.Errorf("failure record = %s", got)
	}
	if failures[0].Event.Time != fixedNow.Unix() {
		t.Errorf("failure time = %d", failures[0].Event.Time)
	}
}

func TestPipeline_StrictSkipsAreCounted(t *testing.T) {
	dec, err := kvdecode.New(kvdecode.Config{Strict: true}, kvdecode.WithClock(clock))
	if err != nil {
		t.Fatalf("kvdecode.New() error = %v", err)
	}
	p := New(nil, WithInput(InputLogfmt), WithDecoder(dec))

	p.ProcessLine("level=info ok=1")
	p.ProcessLine("not logfmt at all")

	if got := p.Stats(); got.Processed != 2 || got.Emitted != 2 || got.Skipped != 1 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestPipeline_RunReaderKeepsOrder(t *testing.T) {
	p := New(standardStages(t), WithInput(InputLogfmt), WithTag("app", ""), WithWorkers(8), WithClock(clock))

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "time=%d n=%d\n", i, i)
		if i%50 == 0 {
			b.WriteString("\n")
		}
	}

	var got []int64
	err := p.RunReader(context.Background(), strings.NewReader(b.String()), func(ev Event) error {
		got = append(got, ev.Time)
		return nil
	})
	if err != nil {
		t.Fatalf("RunReader() error = %v", err)
	}

	if len(got) != 200 {
		t.Fatalf("RunReader() emitted %d events, want 200", len(got))
	}
	for i, ts := range got {
		if ts != int64(i) {
			t.Fatalf("event %d has time %d, order not preserved", i, ts)
		}
	}
}

func TestPipeline_RunReaderStopsOnEmitError(t *testing.T) {
	p := New(nil, WithInput(InputRaw), WithWorkers(2))
	stop := errors.New("stop")

	count := 0
	err := p.RunReader(context.Background(), strings.NewReader(strings.Repeat("line\n", 1000)), func(Event) error {
		count++
		if count == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("RunReader() error = %v, want stop", err)
	}
	if count != 3 {
		t.Errorf("emit called %d times after error, want 3", count)
	}
}

func TestPipeline_RunCancelled(t *testing.T) {
	p := New(nil, WithInput(InputRaw))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lines := make(chan string)
	if err := p.Run(ctx, lines, func(Event) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPipeline_RunReaderCancelWhileReading(t *testing.T) {
	p := New(nil, WithInput(InputRaw))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	emitted := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- p.RunReader(ctx, pr, func(Event) error {
			emitted <- struct{}{}
			return nil
		})
	}()

	if _, err := io.WriteString(pw, "first\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("first line was not emitted")
	}

	// The reader stays open, so the scanner is blocked in Read.
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunReader() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunReader() did not return after cancellation")
	}
}

func TestLogReporter(t *testing.T) {
	tests := []struct {
		quiet bool
		level zapcore.Level
	}{
		{false, zapcore.ErrorLevel},
		{true, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			r := NewLogReporter(zap.New(core), tt.quiet)

			r.ReportError("app", 1, mustRecord(t, `{"a":1}`), errors.New("boom"))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("logged %d entries, want 1", len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %s, want %s", entries[0].Level, tt.level)
			}
			fields := entries[0].ContextMap()
			if fields["tag"] != "app" || fields["error"] != "boom" {
				t.Errorf("fields = %v", fields)
			}
		})
	}
}

func TestWriterReporter(t *testing.T) {
	var b strings.Builder
	r := NewWriterReporter(&b)

	r.ReportError("app", 5, mustRecord(t, `{"a":1}`), errors.New("boom"))

	want := `{"tag":"app","time":5,"record":{"a":1},"error":"boom"}` + "\n"
	if b.String() != want {
		t.Errorf("ReportError() wrote %q, want %q", b.String(), want)
	}
}

func TestReporters(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	Reporters{a, b}.ReportError("t", 0, record.New(), errors.New("x"))
	if len(a.Failures()) != 1 || len(b.Failures()) != 1 {
		t.Error("Reporters did not fan out")
	}
}

func TestParseOnError(t *testing.T) {
	for _, s := range []string{"", "send", "send_quiet", "drop", "drop_quiet"} {
		if _, err := ParseOnError(s); err != nil {
			t.Errorf("ParseOnError(%q) error = %v", s, err)
		}
	}
	if _, err := ParseOnError("ignore"); err == nil {
		t.Error("ParseOnError(ignore) expected error")
	}
	if m, _ := ParseOnError(""); m != SendOnError {
		t.Errorf("ParseOnError(\"\") = %q, want send", m)
	}
}

func TestParseInputFormat(t *testing.T) {
	for _, s := range []string{"logfmt", "json", "raw"} {
		if f, err := ParseInputFormat(s); err != nil || string(f) != s {
			t.Errorf("ParseInputFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseInputFormat("xml"); err == nil {
		t.Error("ParseInputFormat(xml) expected error")
	}
}

func TestPipeline_Stages(t *testing.T) {
	p := New(standardStages(t))
	if got := strings.Join(p.Stages(), ","); got != "dedot,extract,truncate" {
		t.Errorf("Stages() = %s", got)
	}
}
