package cmd

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/bimmerbailey/logstage/internal/config"
	"github.com/bimmerbailey/logstage/internal/dedot"
	"github.com/bimmerbailey/logstage/internal/extract"
	"github.com/bimmerbailey/logstage/internal/kvdecode"
	"github.com/bimmerbailey/logstage/internal/logging"
	"github.com/bimmerbailey/logstage/internal/parser"
	"github.com/bimmerbailey/logstage/internal/pipeline"
	"github.com/bimmerbailey/logstage/internal/tagtrunc"
)

// newLogger builds the diagnostic logger. Verbose forces debug level.
func newLogger(cfg config.Config, w io.Writer) (*zap.Logger, error) {
	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	return logging.New(w, level, cfg.Log.Format)
}

// buildPipeline compiles every configured stage. Any configuration error is
// returned before input is touched.
func buildPipeline(cfg config.Config, logger *zap.Logger, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	var stages []pipeline.Stage

	normalizer, err := dedot.New(cfg.Dedot, logger)
	if err != nil {
		return nil, err
	}
	if normalizer.Enabled() {
		stages = append(stages, pipeline.DedotStage{Normalizer: normalizer})
	}

	extractor, err := extract.New(cfg.Extract.Rules, logger)
	if err != nil {
		return nil, err
	}
	if len(extractor.Rules()) > 0 {
		stages = append(stages, pipeline.ExtractStage{Extractor: extractor})
	}

	if cfg.Truncate.Enabled {
		stages = append(stages, pipeline.TruncateStage{Truncator: tagtrunc.New(cfg.Truncate.MaxLength)})
	}

	format, err := pipeline.ParseInputFormat(cfg.Input.Format)
	if err != nil {
		return nil, err
	}
	decoder, err := kvdecode.New(cfg.Logfmt)
	if err != nil {
		return nil, fmt.Errorf("logfmt: %w", err)
	}
	onError, err := pipeline.ParseOnError(cfg.OnError)
	if err != nil {
		return nil, err
	}

	base := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithInput(format),
		pipeline.WithDecoder(decoder),
		pipeline.WithJSONParser(parser.New(cfg.Input.TimeFormats)),
		pipeline.WithTag(cfg.Input.Tag, cfg.Input.TagKey),
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithOnError(onError),
	}
	return pipeline.New(stages, append(base, opts...)...), nil
}

// errorReporter returns the reporter for failed events: the log, plus a JSON
// lines file when path is set. The returned close function must be called.
func errorReporter(logger *zap.Logger, quiet bool, path string) (pipeline.ErrorReporter, func() error, error) {
	logReporter := pipeline.NewLogReporter(logger, quiet)
	if path == "" {
		return logReporter, func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open error file: %w", err)
	}
	return pipeline.Reporters{logReporter, pipeline.NewWriterReporter(f)}, f.Close, nil
}
