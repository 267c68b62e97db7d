package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lls-openai-shim/internal/config"
	"lls-openai-shim/internal/server"
	"lls-openai-shim/internal/stack/factory"
	"lls-openai-shim/internal/translator"
	"lls-openai-shim/internal/usage"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath      string
		overridePort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			adapter, err := newAdapter(cfg, slog.Default())
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, adapter, slog.Default())
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().IntVarP(&overridePort, "port", "p", 0, "override server port from configuration")
	return cmd
}

// loadConfig reads .env from the working directory upwards, then the
// YAML file, then environment overrides.
func loadConfig(path string) (config.Config, error) {
	if wd, err := os.Getwd(); err == nil {
		envPath, err := config.LoadDotEnv(wd)
		if err != nil {
			return config.Config{}, err
		}
		if envPath != "" {
			slog.Debug("loaded environment file", "path", envPath)
		}
	}

	if path == "" {
		color.New(color.FgYellow).Fprintln(os.Stderr, "No --config given, using defaults and environment")
	}
	return config.Load(path)
}

func newAdapter(cfg config.Config, logger *slog.Logger) (*translator.Adapter, error) {
	backend, err := factory.NewClient(cfg.Backend)
	if err != nil {
		return nil, err
	}

	opts := []translator.Option{
		translator.WithLogger(logger),
		translator.WithDefaultMaxTokens(cfg.Adapter.DefaultMaxTokens),
		translator.WithMaxConcurrency(cfg.Adapter.MaxConcurrency),
	}
	if cfg.Adapter.CountUsage {
		opts = append(opts, translator.WithUsageCounter(usage.NewTiktokenCounter(cfg.Adapter.TokenizerEncoding, logger)))
	}

	return translator.New(backend, opts...)
}
