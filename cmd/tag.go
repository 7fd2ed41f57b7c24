package cmd

import (
	"bufio"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bimmerbailey/logstage/internal/output"
	"github.com/bimmerbailey/logstage/internal/tagtrunc"
)

var tagCmd = &cobra.Command{
	Use:   "tag [flags] [tag...]",
	Short: "Print tags truncated to the configured length",
	Long: `Shorten routing tags the way the truncate stage does. Tags following the
kube.<namespace>.<pod>.<container> convention keep their namespace and
container; the pod name is shortened and marked with '*'. Other tags are cut
to the maximum length. Tags are read from stdin, one per line, when none are
given.

Examples:
  logstage tag kube.monitoring.prometheus-server-5d8f7c9b6-xkq2p.prometheus
  logstage tag --max-length 20 -f table kube.default.mypod.mycontainer`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlag("truncate.max_length", cmd.Flags().Lookup("max-length"))
	},
	RunE: runTag,
}

func init() {
	tagCmd.Flags().IntP("max-length", "m", tagtrunc.DefaultMaxLength, "maximum tag length in bytes")

	rootCmd.AddCommand(tagCmd)
}

func runTag(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tags := args
	if len(tags) == 0 {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			if tag := strings.TrimSpace(scanner.Text()); tag != "" {
				tags = append(tags, tag)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	truncator := tagtrunc.New(cfg.Truncate.MaxLength)
	results := make([]output.TagResult, 0, len(tags))
	for _, tag := range tags {
		short := truncator.Truncate(tag)
		results = append(results, output.TagResult{Tag: tag, Truncated: short, Length: len(short)})
	}

	return output.New(cmd.OutOrStdout(), output.ParseFormat(cfg.Format), output.ColorNever).WriteTags(results)
}
