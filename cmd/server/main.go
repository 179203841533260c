package main

import (
	"context"
	"fmt"
	"os"

	"hls-relay/internal/platform/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "hls-relay",
		Short: "Relay live TV channels from an HLS server to a local socket",
		Long: `hls-relay tunes channels on an EyeTV-style live server and republishes
the channel's segmented HLS stream as one continuous byte stream on a
local TCP socket that any media player can open.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().String("log-format", "", "log format (json, text); overrides LOG_FORMAT")

	root.AddCommand(newServeCmd(), newProbeCmd())
	return root
}

// loadConfig reads the environment and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.LogLevel = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		cfg.LogFormat = f.Value.String()
	}
	return cfg
}
