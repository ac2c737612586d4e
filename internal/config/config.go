// Package config loads configuration from environment variables and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cloud backend kinds.
const (
	CloudNone  = "none"
	CloudLocal = "local"
	CloudS3    = "s3"
)

// HostConfig holds the host (phone side) configuration.
type HostConfig struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Documents
	DocumentsPath   string
	PreferencesPath string
	WatchDocuments  bool

	// Cloud root ("none", "local" or "s3")
	CloudBackend       string
	CloudDocumentsPath string

	// S3 cloud root
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Pairing
	PairingSecret string

	// Presentation
	Language       string
	NameFormat     string
	ImageWorkers   int
	LockedAtLaunch bool
}

// CompanionConfig holds the companion (wrist side) configuration.
type CompanionConfig struct {
	HostURL        string
	PairingToken   string
	RequestTimeout time.Duration
	RecheckDelay   time.Duration
	Language       string

	LogLevel  string
	LogFormat string
}

// LoadHost reads host configuration from environment variables with defaults.
func LoadHost() (*HostConfig, error) {
	cfg, err := hostFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.validatePairing(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDocuments reads the document settings of the host configuration for
// tools that edit documents without serving them. No pairing secret is
// needed.
func LoadDocuments() (*HostConfig, error) {
	cfg, err := hostFromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hostFromEnv() (*HostConfig, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".cbnote")

	cfg := &HostConfig{
		ListenAddr:         src.str("LISTEN_ADDR", ":8787"),
		MetricsAddr:        src.str("METRICS_ADDR", ":9090"),
		LogLevel:           src.str("LOG_LEVEL", "info"),
		LogFormat:          src.str("LOG_FORMAT", "json"),
		DocumentsPath:      src.str("DOCUMENTS_PATH", filepath.Join(base, "Documents")),
		PreferencesPath:    src.str("PREFERENCES_PATH", filepath.Join(base, "preferences.json")),
		WatchDocuments:     src.boolean("WATCH_DOCUMENTS", true),
		CloudBackend:       src.str("CLOUD_BACKEND", CloudNone),
		CloudDocumentsPath: src.str("CLOUD_DOCUMENTS_PATH", ""),
		S3Endpoint:         src.str("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:           src.str("S3_BUCKET", "cbnote"),
		S3Prefix:           src.str("S3_PREFIX", "Documents/"),
		S3AccessKey:        src.str("S3_ACCESS_KEY", ""),
		S3SecretKey:        src.str("S3_SECRET_KEY", ""),
		S3Region:           src.str("S3_REGION", "us-east-1"),
		PairingSecret:      src.str("PAIRING_SECRET", ""),
		Language:           src.str("HOST_LANGUAGE", "en"),
		NameFormat:         src.str("NAME_FORMAT", "yyyy-MM-dd-HH-mm-ss"),
		ImageWorkers:       src.integer("IMAGE_WORKERS", 2),
		LockedAtLaunch:     src.boolean("LOCKED_AT_LAUNCH", false),
	}
	return cfg, nil
}

func (c *HostConfig) validatePairing() error {
	if c.PairingSecret == "" {
		return fmt.Errorf("PAIRING_SECRET is required")
	}
	if len(c.PairingSecret) < 16 {
		return fmt.Errorf("PAIRING_SECRET must be at least 16 characters")
	}
	return nil
}

func (c *HostConfig) validate() error {
	switch c.CloudBackend {
	case CloudNone:
	case CloudLocal:
		if c.CloudDocumentsPath == "" {
			return fmt.Errorf("CLOUD_DOCUMENTS_PATH is required when CLOUD_BACKEND=local")
		}
	case CloudS3:
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when CLOUD_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown CLOUD_BACKEND %q", c.CloudBackend)
	}
	if c.ImageWorkers < 1 {
		return fmt.Errorf("IMAGE_WORKERS must be positive")
	}
	return nil
}

// LoadCompanion reads companion configuration from environment variables.
func LoadCompanion() (*CompanionConfig, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}
	cfg := &CompanionConfig{
		HostURL:        src.str("HOST_URL", "ws://localhost:8787/session"),
		PairingToken:   src.str("PAIRING_TOKEN", ""),
		RequestTimeout: src.duration("REQUEST_TIMEOUT", 30*time.Second),
		RecheckDelay:   src.duration("RECHECK_DELAY", 2*time.Second),
		Language:       src.str("COMPANION_LANGUAGE", "en"),
		LogLevel:       src.str("LOG_LEVEL", "warn"),
		LogFormat:      src.str("LOG_FORMAT", "console"),
	}

	if cfg.PairingToken == "" {
		return nil, fmt.Errorf("PAIRING_TOKEN is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return cfg, nil
}

// source resolves settings: environment variables first, then the YAML
// file named by CBNOTE_CONFIG. File keys are the variable names in lower
// case, e.g. documents_path.
type source map[string]string

func newSource() (source, error) {
	src := source{}
	path := os.Getenv("CBNOTE_CONFIG")
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range values {
		src[strings.ToUpper(k)] = v
	}
	return src, nil
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s[key]
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (s source) integer(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
