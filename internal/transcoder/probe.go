package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

var (
	h264HardwareOrder = []string{EncoderNVENC, EncoderQSV, EncoderVAAPI, EncoderVideoToolbox}
	hevcHardwareOrder = []string{EncoderHEVCNVENC, EncoderHEVCQSV, EncoderHEVCVAAPI, EncoderHEVCToolbox}
	probedEncoders    = []string{EncoderX264, EncoderX265, "aac", "libmp3lame", "libopus", "ac3"}
)

// ProbeCapabilities asks ffmpeg for its version, encoders and filters.
func (e *Engine) ProbeCapabilities(ctx context.Context) error {
	// 1. Version line, only for the logs.
	version, err := e.run(ctx, "-hide_banner", "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg -version: %w", err)
	}
	e.Version = strings.TrimSpace(strings.SplitN(version, "\n", 2)[0])

	// 2. Encoder list. Decides which hardware encoder (if any) we can use.
	encoders, err := e.run(ctx, "-hide_banner", "-encoders")
	if err != nil {
		return fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	e.parseEncoders(encoders)

	// 3. Filter list. Burning subtitles needs the libass "subtitles" filter.
	filters, err := e.run(ctx, "-hide_banner", "-filters")
	if err != nil {
		return fmt.Errorf("ffmpeg -filters: %w", err)
	}
	e.HasSubtitleBurn = hasFilter(filters, "subtitles")
	return nil
}

func (e *Engine) parseEncoders(output string) {
	e.Encoders = map[string]bool{}
	names := encoderNames(output)
	for _, name := range append(append([]string{}, probedEncoders...), append(h264HardwareOrder, hevcHardwareOrder...)...) {
		e.Encoders[name] = names[name]
	}

	e.bestH264Hardware, e.bestHEVCHardware = "", ""
	for _, name := range h264HardwareOrder {
		if names[name] {
			e.bestH264Hardware = name
			break
		}
	}
	for _, name := range hevcHardwareOrder {
		if names[name] {
			e.bestHEVCHardware = name
			break
		}
	}
	e.HasHWAccel = e.bestH264Hardware != "" || e.bestHEVCHardware != ""
}

// HardwareEncoders returns the detected hardware encoders.
func (e *Engine) HardwareEncoders() []string {
	var out []string
	for _, name := range append(append([]string{}, h264HardwareOrder...), hevcHardwareOrder...) {
		if e.Encoders[name] {
			out = append(out, name)
		}
	}
	return out
}

func (e *Engine) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// encoderNames extracts the encoder column from `ffmpeg -encoders`. Lines
// look like " V....D libx264              libx264 H.264 ...".
func encoderNames(output string) map[string]bool {
	names := map[string]bool{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// hasFilter looks for name in the second column of `ffmpeg -filters`.
func hasFilter(output, name string) bool {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
