package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort                     = 8080
	defaultDataDir                  = "data"
	defaultMaxConcurrentConversions = 2
	defaultMaxBatchFiles            = 10
	defaultMaxUploadMB              = 100
	defaultLogLevel                 = "info"
	defaultLogFormat                = "console"
	defaultFFmpegPath               = "ffmpeg"
	defaultSofficePath              = "soffice"
	defaultDocumentTimeout          = 60 * time.Second
	defaultCleanupInterval          = 6 * time.Hour
	defaultFileTTL                  = 24 * time.Hour
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                     int           `yaml:"port"`
	DataDir                  string        `yaml:"data_dir"`
	MaxConcurrentConversions int           `yaml:"max_concurrent_conversions"`
	MaxBatchFiles            int           `yaml:"max_batch_files"`
	MaxUploadMB              int64         `yaml:"max_upload_mb"`
	LogLevel                 string        `yaml:"log_level"`
	LogFormat                string        `yaml:"log_format"`
	FFmpegPath               string        `yaml:"ffmpeg_path"`
	SofficePath              string        `yaml:"soffice_path"`
	DocumentTimeout          time.Duration `yaml:"document_timeout"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval"`
	FileTTL                  time.Duration `yaml:"file_ttl"`
	CleanupOnStartup         bool          `yaml:"cleanup_on_startup"`
	VideoPolicy              VideoPolicy   `yaml:"video_policy"`
}

// VideoPolicy controls the forced codec override for delivery formats.
type VideoPolicy struct {
	Enabled      bool     `yaml:"enabled"`
	Formats      []string `yaml:"formats"`
	Codec        string   `yaml:"codec"`
	AudioCodec   string   `yaml:"audio_codec"`
	AudioBitrate string   `yaml:"audio_bitrate"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                     defaultPort,
		DataDir:                  defaultDataDir,
		MaxConcurrentConversions: defaultMaxConcurrentConversions,
		MaxBatchFiles:            defaultMaxBatchFiles,
		MaxUploadMB:              defaultMaxUploadMB,
		LogLevel:                 defaultLogLevel,
		LogFormat:                defaultLogFormat,
		FFmpegPath:               defaultFFmpegPath,
		SofficePath:              defaultSofficePath,
		DocumentTimeout:          defaultDocumentTimeout,
		CleanupInterval:          defaultCleanupInterval,
		FileTTL:                  defaultFileTTL,
		CleanupOnStartup:         true,
		VideoPolicy: VideoPolicy{
			Enabled:      true,
			Formats:      []string{".mp4"},
			Codec:        "libx264",
			AudioCodec:   "aac",
			AudioBitrate: "128k",
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	def := Default()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.MaxBatchFiles == 0 {
		c.MaxBatchFiles = def.MaxBatchFiles
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.SofficePath == "" {
		c.SofficePath = def.SofficePath
	}
	if c.DocumentTimeout == 0 {
		c.DocumentTimeout = def.DocumentTimeout
	}
	c.VideoPolicy.Formats = normalizeExtensions(c.VideoPolicy.Formats)
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	// values < 1 are not allowed
	if c.MaxConcurrentConversions < 1 {
		return fmt.Errorf("invalid max_concurrent_conversions: %d (must be >= 1)", c.MaxConcurrentConversions)
	}
	if c.MaxBatchFiles < 1 {
		return fmt.Errorf("invalid max_batch_files: %d (must be >= 1)", c.MaxBatchFiles)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max_upload_mb: %d (must be >= 1)", c.MaxUploadMB)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %q (console or json)", c.LogFormat)
	}
	if c.DocumentTimeout < 0 || c.CleanupInterval < 0 || c.FileTTL < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// MaxUploadBytes is the request body limit derived from MaxUploadMB.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func normalizeExtensions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
