package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MaxConcurrentConversions != 2 || cfg.MaxBatchFiles != 10 || !cfg.VideoPolicy.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	got := normalizeExtensions([]string{"MP4", ".mov", "mp4", "  .MKV", ""})
	if !slices.Equal(got, []string{".mp4", ".mov", ".mkv"}) {
		t.Fatalf("expected normalized set .mp4,.mov,.mkv got %v", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadReadsAndValidates(t *testing.T) {
	path := writeConfig(t, `port: 9090
data_dir: testdata
max_concurrent_conversions: 4
max_batch_files: 5
log_format: JSON
document_timeout: 2m
file_ttl: 1h
cleanup_on_startup: false
video_policy:
  enabled: false
  formats: [MP4, webm]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" || cfg.MaxConcurrentConversions != 4 || cfg.MaxBatchFiles != 5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.LogFormat != "json" || cfg.DocumentTimeout != 2*time.Minute || cfg.FileTTL != time.Hour || cfg.CleanupOnStartup {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CleanupInterval != defaultCleanupInterval || cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("unset fields should keep defaults: %+v", cfg)
	}
	if cfg.VideoPolicy.Enabled || !slices.Equal(cfg.VideoPolicy.Formats, []string{".mp4", ".webm"}) {
		t.Fatalf("video policy not loaded: %+v", cfg.VideoPolicy)
	}
	if cfg.VideoPolicy.Codec != "libx264" {
		t.Fatalf("policy codec should keep default, got %q", cfg.VideoPolicy.Codec)
	}
	if cfg.MaxUploadBytes() != 100<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for _, content := range []string{
		"max_concurrent_conversions: 0\n",
		"max_batch_files: -1\n",
		"log_format: xml\n",
		"port: 70000\n",
		"port: [\n",
	} {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}
