package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override. Nested keys are
// joined with a double underscore: CONVERTER_VIDEO__QUALITY_FACTOR.
const EnvPrefix = "CONVERTER"

// Video codec tokens.
const (
	CodecH264Software = "h264-software"
	CodecH265Software = "h265-software"
	CodecH264Hardware = "h264-hardware"
	CodecHEVCHardware = "hevc-hardware"
)

// Worker bounds applied to max_workers.
const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Presets lists the speed/compression tiers from fastest to slowest.
var Presets = []string{
	"ultrafast", "superfast", "veryfast", "faster",
	"fast", "medium", "slow", "slower", "veryslow",
}

// codecAliases maps ffmpeg encoder names accepted in older config files to
// their codec token.
var codecAliases = map[string]string{
	"libx264": CodecH264Software,
	"libx265": CodecH265Software,
	"h264":    CodecH264Hardware,
	"hevc":    CodecHEVCHardware,
}

type Video struct {
	Resolution    int    `mapstructure:"resolution" yaml:"resolution" toml:"resolution" validate:"min=144,max=2160"`
	Codec         string `mapstructure:"codec" yaml:"codec" toml:"codec" validate:"oneof=h264-software h265-software h264-hardware hevc-hardware"`
	QualityFactor int    `mapstructure:"quality_factor" yaml:"quality_factor" toml:"quality_factor" validate:"min=0,max=51"`
	Preset        string `mapstructure:"preset" yaml:"preset" toml:"preset" validate:"oneof=ultrafast superfast veryfast faster fast medium slow slower veryslow"`
}

type Audio struct {
	Codec   string `mapstructure:"codec" yaml:"codec" toml:"codec" validate:"oneof=aac mp3 opus ac3"`
	Bitrate string `mapstructure:"bitrate" yaml:"bitrate" toml:"bitrate" validate:"bitrate"`
}

type Subtitles struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Language   string `mapstructure:"language" yaml:"language" toml:"language"`
	ForceStyle string `mapstructure:"force_style" yaml:"force_style" toml:"force_style"`
}

type Notify struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url" toml:"webhook_url" validate:"omitempty,url"`
}

// Settings is the immutable snapshot every component receives. It is passed
// by value; nothing in the program keeps a global copy.
type Settings struct {
	InputRoot       string `mapstructure:"input_root" yaml:"input_root" toml:"input_root" validate:"required"`
	OutputRoot      string `mapstructure:"output_root" yaml:"output_root" toml:"output_root" validate:"required"`
	LogRoot         string `mapstructure:"log_root" yaml:"log_root" toml:"log_root" validate:"required"`
	SourceExtension string `mapstructure:"source_extension" yaml:"source_extension" toml:"source_extension" validate:"required,startswith=."`

	Video     Video     `mapstructure:"video" yaml:"video" toml:"video"`
	Audio     Audio     `mapstructure:"audio" yaml:"audio" toml:"audio"`
	Subtitles Subtitles `mapstructure:"subtitles" yaml:"subtitles" toml:"subtitles"`

	ParallelProcessing bool `mapstructure:"parallel_processing" yaml:"parallel_processing" toml:"parallel_processing"`
	MaxWorkers         int  `mapstructure:"max_workers" yaml:"max_workers" toml:"max_workers" validate:"min=1,max=16"`
	SkipExisting       bool `mapstructure:"skip_existing" yaml:"skip_existing" toml:"skip_existing"`
	Verbose            bool `mapstructure:"verbose" yaml:"verbose" toml:"verbose"`

	JobTimeout       time.Duration `mapstructure:"job_timeout" yaml:"-" toml:"-" validate:"gt=0"`
	FFmpegPath       string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" toml:"ffmpeg_path" validate:"required"`
	FFprobePath      string        `mapstructure:"ffprobe_path" yaml:"ffprobe_path" toml:"ffprobe_path" validate:"required"`
	HeartbeatSeconds int           `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds" toml:"heartbeat_seconds" validate:"min=0"`
	HistoryEnabled   bool          `mapstructure:"history_enabled" yaml:"history_enabled" toml:"history_enabled"`

	Notify Notify `mapstructure:"notify" yaml:"notify" toml:"notify"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		InputRoot:       "input",
		OutputRoot:      "output",
		LogRoot:         "logs",
		SourceExtension: ".mkv",
		Video: Video{
			Resolution:    480,
			Codec:         CodecH264Software,
			QualityFactor: 24,
			Preset:        "medium",
		},
		Audio: Audio{
			Codec:   "aac",
			Bitrate: "128k",
		},
		Subtitles: Subtitles{
			Enabled: true,
		},
		ParallelProcessing: false,
		MaxWorkers:         2,
		SkipExisting:       true,
		Verbose:            false,
		JobTimeout:         6 * time.Hour,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		HeartbeatSeconds:   30,
		HistoryEnabled:     true,
	}
}

// Load merges defaults, the YAML file at path and CONVERTER_* environment
// variables into a validated Settings snapshot. A missing file is not an
// error.
func Load(path string) (Settings, error) {
	v := NewViper()
	return LoadWith(v, path)
}

// NewViper returns a viper instance with defaults and the environment
// convention registered. Callers may bind command-line flags on it before
// handing it to LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	return v
}

// LoadWith reads path (if present) into v and decodes the result.
func LoadWith(v *viper.Viper, path string) (Settings, error) {
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// Defaults plus environment only.
		default:
			return Settings{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	s = s.normalized()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) normalized() Settings {
	s.Video.Codec = strings.ToLower(strings.TrimSpace(s.Video.Codec))
	if token, ok := codecAliases[s.Video.Codec]; ok {
		s.Video.Codec = token
	}
	s.Video.Preset = strings.ToLower(strings.TrimSpace(s.Video.Preset))
	s.Audio.Codec = strings.ToLower(strings.TrimSpace(s.Audio.Codec))
	s.Audio.Bitrate = strings.TrimSpace(s.Audio.Bitrate)
	s.Subtitles.Language = strings.TrimSpace(s.Subtitles.Language)
	return s
}

// Workers returns max_workers clamped to [MinWorkers, MaxWorkers].
func (s Settings) Workers() int {
	n := s.MaxWorkers
	if n < MinWorkers {
		n = MinWorkers
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

// HeartbeatInterval returns the progress pulse period; zero disables it.
func (s Settings) HeartbeatInterval() time.Duration {
	if s.HeartbeatSeconds <= 0 {
		return 0
	}
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

// IsHardwareCodec reports whether the configured video codec needs a
// hardware encoder.
func (s Settings) IsHardwareCodec() bool {
	return s.Video.Codec == CodecH264Hardware || s.Video.Codec == CodecHEVCHardware
}

// OutputSuffix is the fixed token appended to every output stem.
func (s Settings) OutputSuffix() string {
	return fmt.Sprintf("_%dp", s.Video.Resolution)
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("input_root", d.InputRoot)
	v.SetDefault("output_root", d.OutputRoot)
	v.SetDefault("log_root", d.LogRoot)
	v.SetDefault("source_extension", d.SourceExtension)

	v.SetDefault("video.resolution", d.Video.Resolution)
	v.SetDefault("video.codec", d.Video.Codec)
	v.SetDefault("video.quality_factor", d.Video.QualityFactor)
	v.SetDefault("video.preset", d.Video.Preset)

	v.SetDefault("audio.codec", d.Audio.Codec)
	v.SetDefault("audio.bitrate", d.Audio.Bitrate)

	v.SetDefault("subtitles.enabled", d.Subtitles.Enabled)
	v.SetDefault("subtitles.language", d.Subtitles.Language)
	v.SetDefault("subtitles.force_style", d.Subtitles.ForceStyle)

	v.SetDefault("parallel_processing", d.ParallelProcessing)
	v.SetDefault("max_workers", d.MaxWorkers)
	v.SetDefault("skip_existing", d.SkipExisting)
	v.SetDefault("verbose", d.Verbose)

	v.SetDefault("job_timeout", d.JobTimeout.String())
	v.SetDefault("ffmpeg_path", d.FFmpegPath)
	v.SetDefault("ffprobe_path", d.FFprobePath)
	v.SetDefault("heartbeat_seconds", d.HeartbeatSeconds)
	v.SetDefault("history_enabled", d.HistoryEnabled)

	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
}
