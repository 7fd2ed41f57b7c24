// Package pipeline runs records through the transformation stages.
//
// A Pipeline owns an ordered chain of stages. Each event is processed in
// isolation: a stage that fails, or panics, only affects the event in flight,
// which is handed to an ErrorReporter together with the record as it was
// before the first stage ran.
package pipeline

import (
	"github.com/bimmerbailey/logstage/internal/dedot"
	"github.com/bimmerbailey/logstage/internal/extract"
	"github.com/bimmerbailey/logstage/internal/record"
	"github.com/bimmerbailey/logstage/internal/tagtrunc"
)

// Event is a single log event moving through the pipeline.
type Event struct {
	Tag    string
	Time   int64 // Unix seconds
	Record *record.Record
}

// Stage transforms one event.
type Stage interface {
	Name() string
	Process(ev Event) (Event, error)
}

// DedotStage rewrites dotted keys.
type DedotStage struct {
	Normalizer *dedot.Normalizer
}

func (DedotStage) Name() string { return "dedot" }

func (s DedotStage) Process(ev Event) (Event, error) {
	ev.Record = s.Normalizer.Normalize(ev.Record)
	return ev, nil
}

// ExtractStage applies extraction rules to the record in place.
type ExtractStage struct {
	Extractor *extract.Extractor
}

func (ExtractStage) Name() string { return "extract" }

func (s ExtractStage) Process(ev Event) (Event, error) {
	ev.Record = s.Extractor.Apply(ev.Record)
	return ev, nil
}

// TruncateStage shortens the event tag.
type TruncateStage struct {
	Truncator *tagtrunc.Truncator
}

func (TruncateStage) Name() string { return "truncate" }

func (s TruncateStage) Process(ev Event) (Event, error) {
	ev.Tag = s.Truncator.Truncate(ev.Tag)
	return ev, nil
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(Event) (Event, error)
}

func (f StageFunc) Name() string { return f.StageName }

func (f StageFunc) Process(ev Event) (Event, error) { return f.Fn(ev) }
