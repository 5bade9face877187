// Package commands implements the voxpal command tree.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voxpal/voxpal/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "voxpal",
	Short: "Voice assistant device runtime",
	Long: `voxpal - the client runtime of a voice-assistant edge device.

It registers the device with the management backend, connects to the
assigned broker, waits for the wake word and streams encrypted audio
to the assistant service.

Examples:
  voxpal run -c /etc/voxpal/voxpal.yaml
  voxpal activate -c voxpal.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevice(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "voxpal.yaml", "configuration file")
}

// loadConfig loads the configuration file and installs the process logger
// it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Logger); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(lc config.Logger) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return fmt.Errorf("parse log level %q: %w", lc.Level, err)
	}

	var w io.Writer = os.Stderr
	if lc.Dir != "" {
		if err := os.MkdirAll(lc.Dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(lc.Dir, "voxpal.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}
