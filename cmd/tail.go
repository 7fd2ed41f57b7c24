package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/logstage/internal/config"
	"github.com/bimmerbailey/logstage/internal/output"
	"github.com/bimmerbailey/logstage/internal/pipeline"
	"github.com/bimmerbailey/logstage/internal/tail"
)

var tailCmd = &cobra.Command{
	Use:   "tail [flags] <file>",
	Short: "Follow a log file and process new lines",
	Long: `Watch a log file in real-time, similar to 'tail -F', running every new
line through the configured stages.

Examples:
  logstage tail /var/log/app.log
  logstage tail -n 0 --strict --tag kube.default.web.nginx access.log
  logstage tail --pattern "request_id=abc" -f text app.log
  logstage tail --follow-rotate --rotate-timeout 1m /var/log/app.log`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindInputFlags,
	RunE:    runTail,
}

func init() {
	addInputFlags(tailCmd)
	tailCmd.Flags().StringP("pattern", "p", "", "only process lines matching regex pattern")
	tailCmd.Flags().IntP("lines", "n", 10, "number of existing lines to process first")
	tailCmd.Flags().Bool("no-follow", false, "process the last N lines and exit (don't follow)")
	tailCmd.Flags().Bool("follow-rotate", false, "follow through log rotations (continue when file is renamed/removed)")
	tailCmd.Flags().String("rotate-timeout", "10s", "how long to wait for a rotated file to reappear")
	tailCmd.Flags().String("errors", "", "also write failed events as JSON lines to this file")
	tailCmd.Flags().String("color", "auto", "colorize text output: auto, always, never")
	tailCmd.Flags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	lines, _ := cmd.Flags().GetInt("lines")
	noFollow, _ := cmd.Flags().GetBool("no-follow")
	followRotate, _ := cmd.Flags().GetBool("follow-rotate")
	patternStr, _ := cmd.Flags().GetString("pattern")
	rotateTimeoutStr, _ := cmd.Flags().GetString("rotate-timeout")
	errorsPath, _ := cmd.Flags().GetString("errors")

	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	var pattern *regexp.Regexp
	if patternStr != "" {
		var err error
		if pattern, err = regexp.Compile(patternStr); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}

	rotateTimeout, err := config.ParseDuration(rotateTimeoutStr)
	if err != nil {
		return fmt.Errorf("invalid rotate-timeout: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	mode, _ := pipeline.ParseOnError(cfg.OnError)
	reporter, closeReporter, err := errorReporter(logger, mode.Quiet(), errorsPath)
	if err != nil {
		return err
	}
	defer func() { _ = closeReporter() }()

	p, err := buildPipeline(cfg, logger, pipeline.WithReporter(reporter))
	if err != nil {
		return err
	}

	color, err := colorMode(cmd)
	if err != nil {
		return err
	}
	writer := output.New(cmd.OutOrStdout(), output.ParseFormat(cfg.Format), color)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Table output is flushed per event so followed lines show up.
	emit := func(ev pipeline.Event) error {
		if err := writer.WriteEvent(ev); err != nil {
			cancel()
			return err
		}
		return writer.Flush()
	}

	lineCh := make(chan string, cfg.Workers)
	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(ctx, lineCh, emit)
	}()

	tailer := tail.New(tail.Options{
		FilePath:      filePath,
		Lines:         lines,
		Follow:        !noFollow,
		FollowRotate:  followRotate,
		RotateTimeout: rotateTimeout,
		Pattern:       pattern,
		Logger:        logger,
		OutputFunc: func(line string) error {
			select {
			case lineCh <- line:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	tailErr := tailer.Run(ctx)
	close(lineCh)
	processErr := <-runErr

	if processErr != nil && !errors.Is(processErr, context.Canceled) {
		return processErr
	}
	if tailErr != nil && !errors.Is(tailErr, tail.ErrRotated) && !errors.Is(tailErr, context.Canceled) {
		return tailErr
	}
	return nil
}
