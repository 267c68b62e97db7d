package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the backend model listing as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			adapter, err := newAdapter(cfg, slog.Default())
			if err != nil {
				return err
			}

			models, err := adapter.Models.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML configuration file")
	return cmd
}
