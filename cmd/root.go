package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bimmerbailey/logstage/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "logstage",
	Short: "Transform log records the way a log shipper would",
	Long: `Logstage runs log lines through a chain of record transformation stages:
logfmt decoding, de-dotting of field names, regex field extraction, and
tag truncation. Events are written to stdout, failures to the error route.

Examples:
  logstage run /var/log/app.log
  kubectl logs my-pod | logstage run --tag kube.default.my-pod.app
  logstage tail --follow-rotate /var/log/app.log
  logstage tag kube.monitoring.prometheus-server-5d8f7c9b6-xkq2p.prometheus
  logstage validate --config pipeline.yaml`,
	SilenceUsage: true,
}

// Execute is called by main.main(). It runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.logstage.yaml)")
	flags.StringP("format", "f", "json", "output format (json, text, table)")
	flags.BoolP("verbose", "v", false, "enable verbose output")
	flags.String("log-level", "info", "diagnostic log level (debug, info, warn, error)")
	flags.String("log-format", "console", "diagnostic log format (console, json)")
	flags.IntP("workers", "w", 4, "number of lines processed concurrently")
	flags.String("on-error", "send", "what to do with failed events (send, send_quiet, drop, drop_quiet)")

	_ = viper.BindPFlag("format", flags.Lookup("format"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("on_error", flags.Lookup("on-error"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error finding home directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".logstage")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LOGSTAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration from the global viper.
func loadConfig() (config.Config, error) {
	config.SetDefaults(viper.GetViper())
	return config.FromViper(viper.GetViper())
}
