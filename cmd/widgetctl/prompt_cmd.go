package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkindrix/estimatebot/internal/prompt"
)

func newPromptCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system instruction a widget config produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readBusinessConfig(configPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), prompt.SystemInstruction(cfg))
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Widget config JSON (default: the built-in demo config)")
	return cmd
}
