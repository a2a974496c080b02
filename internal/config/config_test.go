package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if s.Video.Resolution != d.Video.Resolution || s.Video.QualityFactor != d.Video.QualityFactor {
		t.Errorf("video = %+v, want defaults %+v", s.Video, d.Video)
	}
	if s.JobTimeout != 6*time.Hour {
		t.Errorf("JobTimeout = %v, want 6h", s.JobTimeout)
	}
	if !s.SkipExisting || !s.Subtitles.Enabled {
		t.Errorf("expected skip_existing and subtitles.enabled to default true")
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
input_root: /media/in
output_root: /media/out
video:
  resolution: 720
  codec: libx265
  quality_factor: 20
  preset: slow
audio:
  codec: opus
  bitrate: 96k
subtitles:
  enabled: true
  language: tha
  force_style: FontName=Tahoma,FontSize=24
parallel_processing: true
max_workers: 4
job_timeout: 45m
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.InputRoot != "/media/in" || s.OutputRoot != "/media/out" {
		t.Errorf("roots = %q %q", s.InputRoot, s.OutputRoot)
	}
	if s.Video.Codec != CodecH265Software {
		t.Errorf("codec alias not normalized: %q", s.Video.Codec)
	}
	if s.Video.Resolution != 720 || s.Video.Preset != "slow" {
		t.Errorf("video = %+v", s.Video)
	}
	if s.Subtitles.Language != "tha" || s.Subtitles.ForceStyle != "FontName=Tahoma,FontSize=24" {
		t.Errorf("subtitles = %+v", s.Subtitles)
	}
	if !s.ParallelProcessing || s.Workers() != 4 {
		t.Errorf("parallel=%v workers=%d", s.ParallelProcessing, s.Workers())
	}
	if s.JobTimeout != 45*time.Minute {
		t.Errorf("JobTimeout = %v", s.JobTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "video:\n  quality_factor: 20\n")
	t.Setenv("CONVERTER_VIDEO__QUALITY_FACTOR", "30")
	t.Setenv("CONVERTER_MAX_WORKERS", "8")
	t.Setenv("CONVERTER_SUBTITLES__LANGUAGE", "eng")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Video.QualityFactor != 30 {
		t.Errorf("quality_factor = %d, want 30 from env", s.Video.QualityFactor)
	}
	if s.MaxWorkers != 8 {
		t.Errorf("max_workers = %d, want 8", s.MaxWorkers)
	}
	if s.Subtitles.Language != "eng" {
		t.Errorf("language = %q, want eng", s.Subtitles.Language)
	}
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"video.quality_factor": "video:\n  quality_factor: -1\n",
		"video.resolution":     "video:\n  resolution: 100\n",
		"video.preset":         "video:\n  preset: ludicrous\n",
		"audio.codec":          "audio:\n  codec: flac\n",
		"audio.bitrate":        "audio:\n  bitrate: \"128\"\n",
		"max_workers":          "max_workers: 32\n",
	}
	for key, body := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Load err = %v, want ValidationError", err)
			}
			if !strings.Contains(verr.Error(), key) {
				t.Errorf("error %q does not mention %s", verr.Error(), key)
			}
		})
	}
}

func TestWorkersClamp(t *testing.T) {
	s := Default()
	for _, tc := range []struct{ in, want int }{{0, 1}, {1, 1}, {5, 5}, {16, 16}, {40, 16}} {
		s.MaxWorkers = tc.in
		if got := s.Workers(); got != tc.want {
			t.Errorf("Workers(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestOutputSuffix(t *testing.T) {
	s := Default()
	s.Video.Resolution = 720
	if got := s.OutputSuffix(); got != "_720p" {
		t.Errorf("OutputSuffix = %q", got)
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := Default()
			want.Video.Resolution = 1080
			want.Subtitles.Language = "eng"
			want.JobTimeout = 90 * time.Minute

			if err := WriteFile(want, path, false); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if err := WriteFile(want, path, false); err == nil {
				t.Fatalf("second WriteFile without overwrite should fail")
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Video.Resolution != 1080 || got.Subtitles.Language != "eng" || got.JobTimeout != 90*time.Minute {
				t.Errorf("round trip mismatch: %+v", got)
			}
		})
	}
}

func TestMarshal_UnknownFormat(t *testing.T) {
	if _, err := Marshal(Default(), "ini"); err == nil {
		t.Fatal("expected error for ini format")
	}
}
