package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create store tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			applied, err := ensureSchema(cmd.Context(), store)
			if err != nil {
				return err
			}
			if !applied {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "store driver %q has no schema\n", cfg.Store.Driver)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema ready for %s store\n", cfg.Store.Driver)
			return err
		},
	}
}
