package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ineyio/chatgate"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "chatgate",
		Short:         "Metered chat gateway: quota admission, usage accounting and billing webhooks",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newMigrateCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// loadConfig reads the config file, or validates the defaults when none is given.
func (o *rootOptions) loadConfig() (chatgate.Config, error) {
	if o.configPath == "" {
		cfg := chatgate.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return chatgate.LoadConfig(o.configPath)
}
