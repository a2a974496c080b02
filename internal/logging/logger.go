package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
)

// ErrorsFileName collects error records from every run.
const ErrorsFileName = "errors.log"

// Options describes logger construction parameters.
type Options struct {
	// LogDir receives the daily JSON log and errors.log. Empty disables
	// file logging.
	LogDir  string
	Verbose bool
	Console io.Writer // Defaults to os.Stderr
	Now     func() time.Time
}

// Closer flushes and closes the log files opened by New.
type Closer func() error

// DailyFileName returns the name of the JSON log for the day of t.
func DailyFileName(t time.Time) string {
	return fmt.Sprintf("converter-%s.log", t.Format("2006-01-02"))
}

// New builds a logger that writes human readable records to the console and
// JSON records to the log directory.
func New(opts Options) (*slog.Logger, Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	consoleLevel := slog.LevelInfo
	if opts.Verbose {
		consoleLevel = slog.LevelDebug
	}
	handlers := []slog.Handler{newConsoleHandler(console, consoleLevel, shouldColorize(console))}

	var files []*os.File
	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure log directory: %w", err)
		}
		daily, err := openAppend(filepath.Join(opts.LogDir, DailyFileName(now())))
		if err != nil {
			return nil, nil, err
		}
		files = append(files, daily)

		errFile, err := openAppend(filepath.Join(opts.LogDir, ErrorsFileName))
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		files = append(files, errFile)

		handlers = append(handlers,
			slog.NewJSONHandler(daily, &slog.HandlerOptions{Level: slog.LevelDebug}),
			slog.NewJSONHandler(errFile, &slog.HandlerOptions{Level: slog.LevelError}),
		)
	}

	return slog.New(newFanoutHandler(handlers...)), closeAll, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// shouldColorize reports whether w is an interactive terminal that accepts
// ANSI colors.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
