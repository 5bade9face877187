// Package display abstracts the device's user-facing text surface.
package display

import "log/slog"

// Display accepts short status or transcript text for the user.
type Display interface {
	ShowText(text string)
}

// Log renders display text through the process logger, for headless builds
// and tests.
type Log struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (l *Log) ShowText(text string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("display", "text", text)
}
