package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxpal/voxpal/pkg/app"
	"github.com/voxpal/voxpal/pkg/codec/opus"
	"github.com/voxpal/voxpal/pkg/display"
	"github.com/voxpal/voxpal/pkg/wakeword"
)

var (
	flagCapture  string
	flagPlayback string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device runtime",
	Long: `Run the device runtime: activate, connect to the broker and serve
wake-word sessions until interrupted.

Audio I/O is raw 16-bit little-endian mono PCM. The capture side reads
16kHz from a file or pipe ("-" for stdin); playback writes 24kHz ("-"
for stdout, empty to discard).`,
	RunE: runDevice,
}

func init() {
	runCmd.Flags().StringVar(&flagCapture, "capture", "-", "PCM capture source (path or - for stdin)")
	runCmd.Flags().StringVar(&flagPlayback, "playback", "", "PCM playback sink (path, - for stdout, empty to discard)")
	rootCmd.AddCommand(runCmd)
}

func runDevice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	capture, err := openCapture(flagCapture)
	if err != nil {
		return err
	}
	playback, err := openPlayback(flagPlayback)
	if err != nil {
		return err
	}

	enc, err := opus.NewEncoder()
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	dec, err := opus.NewDecoder()
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	a := app.New(app.Options{
		Config: cfg,
		Detector: &wakeword.Energy{
			Source:      capture,
			Sensitivity: cfg.Wakeword.Sensitivity,
			Word:        cfg.Wakeword.Word,
		},
		Display: &display.Log{},
		Speaker: playback,
		Encoder: enc,
		Decoder: dec,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openCapture(path string) (io.Reader, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture source: %w", err)
	}
	return f, nil
}

func openPlayback(path string) (io.Writer, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open playback sink: %w", err)
	}
	return f, nil
}
