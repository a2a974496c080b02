package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mkv-converter/internal/config"
	"mkv-converter/internal/logging"
)

// commandContext loads settings once per process, after flags are parsed.
type commandContext struct {
	configPath string
	viper      *viper.Viper
	bindErr    error

	settingsOnce sync.Once
	settings     config.Settings
	settingsErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{viper: config.NewViper()}
}

// bindFlag makes a changed flag override the settings key.
func (c *commandContext) bindFlag(flag *pflag.Flag, key string) {
	if err := c.viper.BindPFlag(key, flag); err != nil && c.bindErr == nil {
		c.bindErr = fmt.Errorf("bind flag %s: %w", flag.Name, err)
	}
}

func (c *commandContext) ensureSettings() (config.Settings, error) {
	c.settingsOnce.Do(func() {
		if c.bindErr != nil {
			c.settingsErr = c.bindErr
			return
		}
		c.settings, c.settingsErr = config.LoadWith(c.viper, strings.TrimSpace(c.configPath))
	})
	return c.settings, c.settingsErr
}

// newLogger builds the console + file logger for a command. File logging is
// skipped when withFiles is false so read-only commands leave no logs.
func newLogger(s config.Settings, console io.Writer, withFiles bool) (*slog.Logger, logging.Closer, error) {
	opts := logging.Options{Verbose: s.Verbose, Console: console}
	if withFiles {
		opts.LogDir = s.LogRoot
	}
	return logging.New(opts)
}
