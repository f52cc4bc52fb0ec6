package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sentinel1090/internal/app"
	"sentinel1090/internal/config"
)

func main() {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "sentinel1090",
		Short: "Ghost-aircraft detection for ADS-B receiver grids",
		Long: `Sentinel1090 recovers Mode S frames from Beast-format receiver streams,
resolves CPR positions, and cross-validates every aircraft against physical
law and against the rest of the receiver grid. Aircraft whose reports are
internally consistent but physically impossible are flagged as candidate
ghosts in the verdict log.

Example usage:
  sentinel1090 --config grid.yaml
  SENTINEL1090_NATS_URL=nats://localhost:4222 sentinel1090 -c grid.yaml -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				app.ShowVersion()
				return nil
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := logrus.New()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			} else {
				level, err := logrus.ParseLevel(cfg.LogLevel)
				if err != nil {
					return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
				}
				logger.SetLevel(level)
			}

			application, err := app.NewApplication(cfg, logger)
			if err != nil {
				return err
			}
			return application.Start()
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "sentinel1090.yaml", "Configuration file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
