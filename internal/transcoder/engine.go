package transcoder

import (
	"errors"
	"fmt"
	"os/exec"

	"mkv-converter/internal/config"
)

// Hardware encoder names probed in order of preference. These are used by
// probe.go to record what ffmpeg can do and by EncoderFor to pick one.
const (
	EncoderX264         = "libx264"
	EncoderX265         = "libx265"
	EncoderH264Generic  = "h264"
	EncoderHEVCGeneric  = "hevc"
	EncoderNVENC        = "h264_nvenc"
	EncoderHEVCNVENC    = "hevc_nvenc"
	EncoderQSV          = "h264_qsv"
	EncoderHEVCQSV      = "hevc_qsv"
	EncoderVAAPI        = "h264_vaapi"
	EncoderHEVCVAAPI    = "hevc_vaapi"
	EncoderVideoToolbox = "h264_videotoolbox"
	EncoderHEVCToolbox  = "hevc_videotoolbox"
)

// ErrEngineUnavailable means the ffmpeg binary could not be located. The run
// cannot start without it.
var ErrEngineUnavailable = errors.New("transcoding engine unavailable")

// Engine describes the local ffmpeg installation. Its capability fields are
// filled by ProbeCapabilities.
type Engine struct {
	FFmpegPath  string
	FFprobePath string
	Version     string

	HasHWAccel       bool
	HasSubtitleBurn  bool
	Encoders         map[string]bool
	bestH264Hardware string
	bestHEVCHardware string
}

// NewEngine locates the ffmpeg and ffprobe binaries. A missing ffmpeg is
// reported as ErrEngineUnavailable. A missing ffprobe only disables subtitle
// stream selection, so it is not an error here.
func NewEngine(ffmpeg, ffprobe string) (*Engine, error) {
	// 1. Locate the ffmpeg binary (a bare name is searched on PATH).
	path, err := exec.LookPath(ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, ffmpeg, err)
	}

	// 2. Create the Engine. Capabilities stay empty until ProbeCapabilities.
	engine := &Engine{
		FFmpegPath: path,
		Encoders:   map[string]bool{},
	}
	// 3. ffprobe is optional; without it subtitle language selection is off.
	if probePath, err := exec.LookPath(ffprobe); err == nil {
		engine.FFprobePath = probePath
	}
	return engine, nil
}

// EncoderFor maps a configured codec token to the ffmpeg encoder name.
// Hardware tokens resolve to the best probed hardware encoder and fall back
// to ffmpeg's generic encoder name when none was detected.
func (e *Engine) EncoderFor(codec string) string {
	switch codec {
	case config.CodecH265Software:
		return EncoderX265
	case config.CodecH264Hardware:
		if e != nil && e.bestH264Hardware != "" {
			return e.bestH264Hardware
		}
		return EncoderH264Generic
	case config.CodecHEVCHardware:
		if e != nil && e.bestHEVCHardware != "" {
			return e.bestHEVCHardware
		}
		return EncoderHEVCGeneric
	default:
		return EncoderX264
	}
}

// StaticEncoderFor is EncoderFor without a probed engine.
func StaticEncoderFor(codec string) string {
	var e *Engine
	return e.EncoderFor(codec)
}
