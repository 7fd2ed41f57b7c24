package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bimmerbailey/logstage/internal/config"
	"github.com/bimmerbailey/logstage/internal/output"
	"github.com/bimmerbailey/logstage/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [file...]",
	Short: "Process log lines through the configured stages",
	Long: `Read log lines from files (or stdin when no file, or "-", is given),
decode them, run every event through the configured stages, and write the
resulting events to stdout. Events that fail a stage are routed according to
--on-error and reported to the log and, with --errors, to a JSON lines file.

Examples:
  logstage run /var/log/app.log
  logstage run --input json --tag-key kubernetes_tag /var/log/containers/*.log
  cat app.log | logstage run --strict --tag kube.default.web.nginx -f text`,
	PreRunE: bindInputFlags,
	RunE:    runRun,
}

func init() {
	addInputFlags(runCmd)
	runCmd.Flags().String("errors", "", "also write failed events as JSON lines to this file")
	runCmd.Flags().Bool("stats", false, "print processing counters to stderr when done")
	runCmd.Flags().String("color", "auto", "colorize text output: auto, always, never")
	runCmd.Flags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(runCmd)
}

// addInputFlags registers the flags shared by run and tail.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "logfmt", "input format (logfmt, json, raw)")
	cmd.Flags().StringP("tag", "t", "logstage", "tag for events")
	cmd.Flags().String("tag-key", "", "record field to read the tag from")
	cmd.Flags().Bool("strict", false, "pass lines that do not look like logfmt through as a raw message")
	cmd.Flags().Bool("truncate", false, "truncate tags to truncate.max_length")
}

// bindInputFlags binds the input flags of the command being run. Binding
// happens at run time because run and tail share the keys.
func bindInputFlags(cmd *cobra.Command, _ []string) error {
	for key, flag := range map[string]string{
		"input.format":     "input",
		"input.tag":        "tag",
		"input.tag_key":    "tag-key",
		"logfmt.strict":    "strict",
		"truncate.enabled": "truncate",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// colorMode reads --color; --no-color wins.
func colorMode(cmd *cobra.Command) (output.ColorMode, error) {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		return output.ColorNever, nil
	}
	mode, _ := cmd.Flags().GetString("color")
	return output.ParseColorMode(mode)
}

func runRun(cmd *cobra.Command, args []string) error {
	errorsPath, _ := cmd.Flags().GetString("errors")
	showStats, _ := cmd.Flags().GetBool("stats")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	inputs, err := config.ExpandInputs(args)
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

	for _, name := range inputs {
		if err := runInput(ctx, cmd, p, name, writer); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	if showStats {
		return output.New(cmd.ErrOrStderr(), output.FormatJSON, output.ColorNever).WriteJSON(p.Stats())
	}
	return nil
}

func runInput(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, name string, writer *output.Writer) error {
	var r io.Reader = cmd.InOrStdin()
	if name != config.Stdin {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	if err := p.RunReader(ctx, r, writer.WriteEvent); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
