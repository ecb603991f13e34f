// Package config loads gallery client settings from defaults, an optional
// YAML file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/pixgallery/pkg/cdn"
	"github.com/NicolasHaas/pixgallery/pkg/images"
	"github.com/NicolasHaas/pixgallery/pkg/logging"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/upload"
)

// DefaultAPIBaseURL is used when no API base URL is configured.
const DefaultAPIBaseURL = "http://localhost:5000/api"

// Environment variables read by Load.
const (
	EnvAPIBaseURL      = "GALLERY_API_BASE_URL"
	EnvStaticBaseURL   = "GALLERY_BACKEND_BASE_URL"
	EnvMockHostURL     = "GALLERY_MOCKHOST_URL"
	EnvCDNBaseURL      = "GALLERY_CDN_BASE_URL"
	EnvCDNCloudName    = "GALLERY_CDN_CLOUD_NAME"
	EnvCDNUploadPreset = "GALLERY_CDN_UPLOAD_PRESET"
	EnvMode            = "GALLERY_MODE"
	EnvUploadMode      = "GALLERY_UPLOAD_MODE"
	EnvSessionFile     = "GALLERY_SESSION_FILE"
	EnvCheckDuplicates = "GALLERY_CHECK_DUPLICATES"
	EnvLogLevel        = "GALLERY_LOG_LEVEL"
	EnvLogFormat       = "GALLERY_LOG_FORMAT"
	EnvOTLPEndpoint    = "GALLERY_OTLP_ENDPOINT"
)

// Config holds client settings.
type Config struct {
	APIBaseURL      string `yaml:"api_base_url"`
	StaticBaseURL   string `yaml:"static_base_url"`
	MockHostURL     string `yaml:"mockhost_url"`
	CDNBaseURL      string `yaml:"cdn_base_url"`
	CDNCloudName    string `yaml:"cdn_cloud_name"`
	CDNUploadPreset string `yaml:"cdn_upload_preset"`
	Mode            string `yaml:"mode"`        // mockhost | backend
	UploadMode      string `yaml:"upload_mode"` // cdn | backend | inline
	SessionFile     string `yaml:"session_file"`
	CheckDuplicates bool   `yaml:"check_duplicates"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`

	// VerifySession is false unless an API base URL was set explicitly, so a
	// local default backend never overwrites the cached role.
	VerifySession bool `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIBaseURL:      DefaultAPIBaseURL,
		MockHostURL:     mockhost.DefaultURL,
		CDNBaseURL:      cdn.DefaultBaseURL,
		CDNCloudName:    cdn.DefaultCloudName,
		CDNUploadPreset: cdn.DefaultPreset,
		Mode:            images.ModeBackend.String(),
		UploadMode:      upload.ModeBackend.String(),
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds a Config. path may be empty; a missing file at path is not an
// error. envFile names a dotenv file; empty means ".env" in the working
// directory, and a missing one is ignored.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if cfg.APIBaseURL != "" && cfg.APIBaseURL != DefaultAPIBaseURL {
				cfg.VerifySession = true
			}
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	// godotenv does not override variables already set in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	applyEnv(&cfg)

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
		cfg.VerifySession = false
	}
	if cfg.StaticBaseURL == "" {
		cfg.StaticBaseURL = StaticBase(cfg.APIBaseURL)
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv(EnvAPIBaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.APIBaseURL = strings.TrimSpace(v)
		cfg.VerifySession = true
	}
	str(EnvStaticBaseURL, &cfg.StaticBaseURL)
	str(EnvMockHostURL, &cfg.MockHostURL)
	str(EnvCDNBaseURL, &cfg.CDNBaseURL)
	str(EnvCDNCloudName, &cfg.CDNCloudName)
	str(EnvCDNUploadPreset, &cfg.CDNUploadPreset)
	str(EnvMode, &cfg.Mode)
	str(EnvUploadMode, &cfg.UploadMode)
	str(EnvSessionFile, &cfg.SessionFile)
	str(EnvLogLevel, &cfg.LogLevel)
	str(EnvLogFormat, &cfg.LogFormat)
	str(EnvOTLPEndpoint, &cfg.OTLPEndpoint)
	if v, ok := os.LookupEnv(EnvCheckDuplicates); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.CheckDuplicates = b
		}
	}
}

// StaticBase strips a trailing /api from the API base URL.
func StaticBase(apiBase string) string {
	base := strings.TrimRight(apiBase, "/")
	return strings.TrimSuffix(base, "/api")
}

// ListMode returns the parsed listing mode.
func (c Config) ListMode() images.Mode { return images.ParseMode(c.Mode) }

// Validate checks enumerated fields.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != "mockhost" && c.Mode != "backend" {
		errs = append(errs, fmt.Errorf("config: mode %q must be mockhost or backend", c.Mode))
	}
	if _, err := upload.ParseMode(c.UploadMode); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if _, err := logging.New(logging.Options{Level: c.LogLevel, Format: c.LogFormat, Output: io.Discard}); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	return errors.Join(errs...)
}
