package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/logging"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "widgetctl",
		Short:         "Estimate widget tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newPromptCmd())
	cmd.AddCommand(newEstimateCmd(opts))
	return cmd
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	l, err := logging.New(&logging.Config{
		Level:       o.logLevel,
		Format:      "console",
		Environment: "development",
		Output:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return l.Zap(), nil
}

func execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
