package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// SubtitleStream is one subtitle track of an input file. Position is the
// index among subtitle streams only, which is what the subtitles filter's
// si option expects.
type SubtitleStream struct {
	Index    int
	Position int
	Codec    string
	Language string
	Default  bool
}

// Prober lists subtitle streams with ffprobe.
type Prober struct {
	probePath string
}

func NewProber(probePath string) *Prober {
	return &Prober{probePath: probePath}
}

// SubtitleStreams runs ffprobe against path and returns its subtitle streams.
func (p *Prober) SubtitleStreams(ctx context.Context, path string) ([]SubtitleStream, error) {
	if p == nil || p.probePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-select_streams", "s",
		"-show_entries", "stream=index,codec_name:stream_tags=language:stream_disposition=default",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, p.probePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseSubtitleStreams(output)
}

// ParseSubtitleStreams decodes ffprobe JSON output. Non-subtitle streams in
// the input are ignored when codec_type is present.
func ParseSubtitleStreams(data []byte) ([]SubtitleStream, error) {
	type probeResult struct {
		Streams []struct {
			Index       int               `json:"index"`
			CodecName   string            `json:"codec_name"`
			CodecType   string            `json:"codec_type"`
			Disposition map[string]int    `json:"disposition"`
			Tags        map[string]string `json:"tags"`
		} `json:"streams"`
	}
	var res probeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	var streams []SubtitleStream
	for _, s := range res.Streams {
		if s.CodecType != "" && s.CodecType != "subtitle" {
			continue
		}
		streams = append(streams, SubtitleStream{
			Index:    s.Index,
			Position: len(streams),
			Codec:    s.CodecName,
			Language: s.Tags["language"],
			Default:  s.Disposition["default"] == 1,
		})
	}
	return streams, nil
}
