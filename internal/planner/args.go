package planner

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"mkv-converter/internal/config"
	"mkv-converter/internal/transcoder"
)

// Subtitle describes the burn-in clause. Position < 0 leaves the stream
// choice to ffmpeg.
type Subtitle struct {
	Burn     bool
	Position int
}

// BuildArgs returns the ffmpeg argument vector. It depends only on its
// inputs.
func BuildArgs(input, output string, s config.Settings, videoEncoder string, sub Subtitle) []string {
	logLevel := "error"
	if s.Verbose {
		logLevel = "info"
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", logLevel,
		"-i", input,
		"-vf", FilterChain(input, s, sub),
		"-c:v", videoEncoder,
		"-crf", strconv.Itoa(s.Video.QualityFactor),
		"-preset", s.Video.Preset,
		"-c:a", audioEncoder(s.Audio.Codec),
		"-b:a", s.Audio.Bitrate,
		"-movflags", "+faststart",
		output,
	}
	return args
}

// FilterChain burns subtitles first so that scaling applies to the
// rasterized text as well.
func FilterChain(input string, s config.Settings, sub Subtitle) string {
	scale := fmt.Sprintf("scale=-2:%d", s.Video.Resolution)
	if !sub.Burn {
		return scale
	}

	var b strings.Builder
	b.WriteString("subtitles=filename=")
	b.WriteString(escapeFilterValue(input))
	if sub.Position >= 0 {
		fmt.Fprintf(&b, ":si=%d", sub.Position)
	}
	if s.Subtitles.ForceStyle != "" {
		fmt.Fprintf(&b, ":force_style='%s'", s.Subtitles.ForceStyle)
	}
	b.WriteString(",")
	b.WriteString(scale)
	return b.String()
}

var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphEscaper  = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`)
)

// escapeFilterValue applies the option-value and filtergraph escaping levels
// to a path embedded in a -vf string.
func escapeFilterValue(v string) string {
	return graphEscaper.Replace(optionEscaper.Replace(v))
}

func audioEncoder(codec string) string {
	switch codec {
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	default:
		return codec
	}
}

// SelectStream picks the first stream whose language matches lang, else the
// default stream, else the first. streams must not be empty.
func SelectStream(streams []transcoder.SubtitleStream, lang string) transcoder.SubtitleStream {
	if lang != "" {
		for _, st := range streams {
			if languageMatches(st.Language, lang) {
				return st
			}
		}
	}
	for _, st := range streams {
		if st.Default {
			return st
		}
	}
	return streams[0]
}

// languageMatches compares tags by base language so ISO 639-2 stream tags
// ("eng", "tha") match their two-letter forms.
func languageMatches(tag, want string) bool {
	if tag == "" {
		return false
	}
	if strings.EqualFold(tag, want) {
		return true
	}
	a, errA := language.Parse(tag)
	b, errB := language.Parse(want)
	if errA != nil || errB != nil {
		return false
	}
	baseA, confA := a.Base()
	baseB, confB := b.Base()
	if confA == language.No || confB == language.No {
		return false
	}
	return baseA == baseB && baseA.String() != "und"
}
