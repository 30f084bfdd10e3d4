package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	PhotoBackendS3    = "s3"
	PhotoBackendLocal = "local"
	PhotoBackendNone  = "none"

	DetectionBackendYOLO   = "yolo"
	DetectionBackendClaude = "claude"
	DetectionBackendOllama = "ollama"
)

type S3Config struct {
	Bucket          string
	Region          string
	AWSRegion       string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	ForcePathStyle  bool
	PublicBaseURL   string
	ACL             string
}

type Config struct {
	ListenAddr string

	YOLOService      string
	DetectionBackend string
	ClaudeAPIKey     string
	ClaudeModel      string
	OllamaHost       string
	OllamaModel      string

	PhotoBackend   string
	PhotoPath      string
	PhotoPublicURL string
	S3             S3Config

	FetchTimeout    time.Duration
	UploadTimeout   time.Duration
	PredictTimeout  time.Duration
	MaxImageBytes   int64
	MaxRequestBytes int64

	DBPath             string
	AuditRetention     time.Duration
	AuditPruneSchedule string

	LogLevel  string
	LogFile   string
	LogFormat string
}

// Load builds the configuration from the environment. When CONFIG_FILE names
// a YAML file of KEY: value pairs, those values replace the built-in defaults;
// environment variables still win over the file.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:       src.get("LISTEN_ADDR", ":3000"),
		YOLOService:      src.get("YOLO_SERVICE", "localhost:8080"),
		DetectionBackend: src.get("DETECTION_BACKEND", DetectionBackendYOLO),
		ClaudeAPIKey:     src.get("CLAUDE_API_KEY", ""),
		ClaudeModel:      src.get("CLAUDE_MODEL", "claude-opus-4-6"),
		OllamaHost:       src.get("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      src.get("OLLAMA_MODEL", "moondream"),
		PhotoPath:        src.get("PHOTO_LOCAL_PATH", "/data/photos"),
		PhotoPublicURL:   src.get("PHOTO_PUBLIC_BASE_URL", ""),
		S3: S3Config{
			Bucket:          src.get("S3_BUCKET", ""),
			Region:          src.get("S3_REGION", ""),
			AWSRegion:       src.get("AWS_REGION", ""),
			AccessKeyID:     src.get("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: src.get("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        src.get("S3_ENDPOINT", ""),
			PublicBaseURL:   src.get("S3_PUBLIC_BASE_URL", ""),
			ACL:             src.get("S3_ACL", ""),
		},
		DBPath:             src.get("DB_PATH", ""),
		AuditPruneSchedule: src.get("AUDIT_PRUNE_SCHEDULE", "@hourly"),
		LogLevel:           src.get("LOG_LEVEL", "info"),
		LogFile:            src.get("LOG_FILE", ""),
		LogFormat:          src.get("LOG_FORMAT", "json"),
	}

	defaultPhotoBackend := PhotoBackendNone
	if cfg.S3.Bucket != "" {
		defaultPhotoBackend = PhotoBackendS3
	}
	cfg.PhotoBackend = src.get("PHOTO_BACKEND", defaultPhotoBackend)

	if cfg.S3.ForcePathStyle, err = src.getBool("S3_FORCE_PATH_STYLE", false); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = src.getDuration("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = src.getDuration("UPLOAD_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PredictTimeout, err = src.getDuration("PREDICT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuditRetention, err = src.getDuration("AUDIT_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxImageBytes, err = src.getInt64("MAX_IMAGE_BYTES", 20<<20); err != nil {
		return nil, err
	}
	if cfg.MaxRequestBytes, err = src.getInt64("MAX_REQUEST_BYTES", 128<<20); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enum and limit fields.
func (c *Config) Validate() error {
	switch c.PhotoBackend {
	case PhotoBackendS3, PhotoBackendLocal, PhotoBackendNone:
	default:
		return fmt.Errorf("PHOTO_BACKEND must be one of %q, %q or %q, got %q",
			PhotoBackendS3, PhotoBackendLocal, PhotoBackendNone, c.PhotoBackend)
	}

	switch c.DetectionBackend {
	case DetectionBackendYOLO, DetectionBackendOllama:
	case DetectionBackendClaude:
		if strings.TrimSpace(c.ClaudeAPIKey) == "" {
			return fmt.Errorf("CLAUDE_API_KEY must be set when DETECTION_BACKEND is %q", DetectionBackendClaude)
		}
	default:
		return fmt.Errorf("DETECTION_BACKEND must be one of %q, %q or %q, got %q",
			DetectionBackendYOLO, DetectionBackendClaude, DetectionBackendOllama, c.DetectionBackend)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\", got %q", c.LogFormat)
	}

	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive, got %d", c.MaxImageBytes)
	}
	// A data URI carries at least 4/3 of the image bytes.
	if c.MaxRequestBytes < c.MaxImageBytes/3*4 {
		return fmt.Errorf("MAX_REQUEST_BYTES (%d) must leave room for a base64 image of MAX_IMAGE_BYTES (%d)",
			c.MaxRequestBytes, c.MaxImageBytes)
	}
	for name, d := range map[string]time.Duration{
		"FETCH_TIMEOUT":   c.FetchTimeout,
		"UPLOAD_TIMEOUT":  c.UploadTimeout,
		"PREDICT_TIMEOUT": c.PredictTimeout,
		"AUDIT_RETENTION": c.AuditRetention,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	return nil
}

// StorageRegion is S3_REGION, falling back to AWS_REGION.
func (c *Config) StorageRegion() string {
	if c.S3.Region != "" {
		return c.S3.Region
	}
	return c.S3.AWSRegion
}

type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.file); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return s, nil
}

func (s *source) get(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	if val, exists := s.file[key]; exists {
		return val
	}
	return defaultVal
}

func (s *source) getBool(key string, defaultVal bool) (bool, error) {
	raw := strings.TrimSpace(s.get(key, ""))
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (s *source) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(s.get(key, ""))
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (s *source) getInt64(key string, defaultVal int64) (int64, error) {
	raw := strings.TrimSpace(s.get(key, ""))
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
