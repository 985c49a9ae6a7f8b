package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/submerge/internal/logging"
	"github.com/John-Robertt/submerge/internal/model"
)

const envLogLevel = "SUBMERGE_LOG_LEVEL"

var rootFlags struct {
	logLevel  string
	logFormat string
}

// logger is replaced in PersistentPreRunE once flags are parsed.
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "submerge",
	Short: "Merge proxy subscriptions into one multi-port mihomo config",
	Long: `submerge merges several proxy subscriptions into a single mihomo config.

Every subscription keeps its own nodes, groups and rules under a "<name>/"
prefix and gets its own mixed listener port. Remote subscriptions are
referenced as proxy-providers so the running proxy keeps them up to date.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(rootFlags.logLevel, rootFlags.logFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	level := os.Getenv(envLogLevel)
	if level == "" {
		level = "info"
	}
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", level, "日志级别：debug | info | warn | error（环境变量 "+envLogLevel+"）")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logFormat, "log-format", logging.FormatConsole, "日志格式：console | json")
}

// printError writes err for a terminal. Coded errors show their location and
// hint on separate lines.
func printError(w io.Writer, err error) {
	var coded model.Coded
	if !errors.As(err, &coded) {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	app := coded.App()
	fmt.Fprintf(w, "error: %s [%s] %s\n", app.Code, app.Stage, app.Message)
	if app.Namespace != "" {
		fmt.Fprintf(w, "  namespace: %s\n", app.Namespace)
	}
	if app.Identifier != "" {
		fmt.Fprintf(w, "  identifier: %s\n", app.Identifier)
	}
	if app.URL != "" {
		if app.Line > 0 {
			fmt.Fprintf(w, "  at: %s:%d\n", app.URL, app.Line)
		} else {
			fmt.Fprintf(w, "  at: %s\n", app.URL)
		}
	}
	if app.Snippet != "" {
		fmt.Fprintf(w, "  snippet: %s\n", app.Snippet)
	}
	if app.Hint != "" {
		fmt.Fprintf(w, "  hint: %s\n", app.Hint)
	}
}
