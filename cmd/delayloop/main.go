package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/delayloop/internal/config"
	"github.com/yok-tottii/delayloop/internal/logger"
)

const version = "0.1.0"

// options holds the global flags
type options struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	runCmd := newRunCommand(opts)
	rootCmd := &cobra.Command{
		Use:     "delayloop",
		Short:   "Delayed audio loopback",
		Long:    "Play everything captured from an input device on an output device after a fixed delay",
		Version: version,
		// Bare "delayloop" behaves like "delayloop run".
		RunE:         runCmd.RunE,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newSelectCommand(opts))
	rootCmd.AddCommand(newDevicesCommand(opts))

	return rootCmd
}

// setup loads the configuration and opens the log file
func setup(opts *options) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", opts.configPath, err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info("delayloop starting", "version", version, "config", opts.configPath, "log", log.Path())
	return cfg, log, nil
}

// signalContext is cancelled by SIGINT or SIGTERM. While a bubbletea program
// owns the terminal, Ctrl+C arrives as a key instead.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
