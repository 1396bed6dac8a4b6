// Package config provides configuration management for crowdwatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Defaults.
const (
	DefaultWorkerHost       = "0.0.0.0"
	DefaultWorkerPort       = 37810
	DefaultStoreBackend     = "sqlite"
	DefaultInferenceBackend = "http"
	DefaultInferenceURL     = "http://localhost:8000/infer"
	DefaultInferenceTimeout = 30
	DefaultNotifyTimeout    = 30
	DefaultDispatchPool     = 4
	DefaultRequestTimeout   = 120
	DefaultMaxFrameBytes    = 10 << 20
	DefaultSMTPPort         = 587
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
	StoreCOS      = "cos"
)

// Inference backends.
const (
	InferenceHTTP   = "http"
	InferenceGemini = "gemini"
	InferenceOpenAI = "openai"
)

// Config holds every crowdwatch setting. Keys in settings.json and the
// environment share the same CROWDWATCH_* names.
type Config struct {
	WorkerHost     string
	WorkerPort     int
	LogLevel       string
	RequestTimeout int // seconds
	MaxFrameBytes  int64

	StoreBackend  string
	DBPath        string
	PostgresDSN   string
	MaxConns      int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
	S3Prefix      string
	COSBucketURL  string
	COSSecretID   string
	COSSecretKey  string

	InferenceBackend string
	InferenceURL     string
	InferenceModel   string
	InferenceAPIKey  string
	InferenceBaseURL string
	InferenceTimeout int // seconds, per call

	AlertMinFrames      int
	AlertScoreThreshold float64
	AlertCriticalFrames int
	ReportRecentFrames  int
	ReportAttachments   int
	ReportGIF           bool
	DispatchPoolSize    int
	NotifyTimeout       int // seconds

	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	AlertFrom       string
	AlertRecipients []string
	WebhookURL      string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerHost:          DefaultWorkerHost,
		WorkerPort:          DefaultWorkerPort,
		LogLevel:            "info",
		RequestTimeout:      DefaultRequestTimeout,
		MaxFrameBytes:       DefaultMaxFrameBytes,
		StoreBackend:        DefaultStoreBackend,
		DBPath:              DBPath(),
		MaxConns:            4,
		RedisAddr:           "localhost:6379",
		RedisPrefix:         "crowdwatch:",
		InferenceBackend:    DefaultInferenceBackend,
		InferenceURL:        DefaultInferenceURL,
		InferenceTimeout:    DefaultInferenceTimeout,
		AlertMinFrames:      5,
		AlertScoreThreshold: 70,
		AlertCriticalFrames: 2,
		ReportRecentFrames:  5,
		ReportAttachments:   3,
		ReportGIF:           true,
		DispatchPoolSize:    DefaultDispatchPool,
		NotifyTimeout:       DefaultNotifyTimeout,
		SMTPPort:            DefaultSMTPPort,
		AlertRecipients:     []string{},
	}
}

// DataDir returns the crowdwatch data directory. CROWDWATCH_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("CROWDWATCH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".crowdwatch")
}

// DBPath returns the default sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "crowdwatch.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ZonesPath returns the zone registry path.
func ZonesPath() string {
	return filepath.Join(DataDir(), "zones.yaml")
}

// EnsureDataDir creates the data directory.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	d := Default()
	defaults := map[string]any{
		"CROWDWATCH_WORKER_PORT":       d.WorkerPort,
		"CROWDWATCH_STORE":             d.StoreBackend,
		"CROWDWATCH_INFERENCE_BACKEND": d.InferenceBackend,
		"CROWDWATCH_INFERENCE_URL":     d.InferenceURL,
		"CROWDWATCH_ALERT_RECIPIENTS":  "",
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// Load reads settings.json and then applies environment overrides.
// A missing or unparsable settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		var raw map[string]any
		if json.Unmarshal(data, &raw) == nil {
			cfg.apply(func(key string) (string, bool) {
				v, ok := raw[key]
				if !ok || v == nil {
					return "", false
				}
				return settingString(v), true
			})
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	cfg.apply(os.LookupEnv)
	return cfg, nil
}

var (
	globalOnce sync.Once
	globalCfg  *Config
)

// Get returns the process-wide config, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalCfg = cfg
	})
	return globalCfg
}

// GetWorkerPort returns CROWDWATCH_WORKER_PORT when it is a valid port,
// otherwise the configured port.
func GetWorkerPort() int {
	if v := os.Getenv("CROWDWATCH_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

func (c *Config) apply(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("CROWDWATCH_WORKER_HOST", &c.WorkerHost)
	integer("CROWDWATCH_WORKER_PORT", &c.WorkerPort)
	str("CROWDWATCH_LOG_LEVEL", &c.LogLevel)
	integer("CROWDWATCH_REQUEST_TIMEOUT", &c.RequestTimeout)
	if v, ok := lookup("CROWDWATCH_MAX_FRAME_BYTES"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			c.MaxFrameBytes = n
		}
	}

	str("CROWDWATCH_STORE", &c.StoreBackend)
	str("CROWDWATCH_DB_PATH", &c.DBPath)
	str("CROWDWATCH_POSTGRES_DSN", &c.PostgresDSN)
	integer("CROWDWATCH_MAX_CONNS", &c.MaxConns)
	str("CROWDWATCH_REDIS_ADDR", &c.RedisAddr)
	str("CROWDWATCH_REDIS_PASSWORD", &c.RedisPassword)
	integer("CROWDWATCH_REDIS_DB", &c.RedisDB)
	str("CROWDWATCH_REDIS_PREFIX", &c.RedisPrefix)
	str("CROWDWATCH_S3_BUCKET", &c.S3Bucket)
	str("CROWDWATCH_S3_REGION", &c.S3Region)
	str("CROWDWATCH_S3_ENDPOINT", &c.S3Endpoint)
	boolean("CROWDWATCH_S3_PATH_STYLE", &c.S3PathStyle)
	str("CROWDWATCH_S3_PREFIX", &c.S3Prefix)
	str("CROWDWATCH_COS_BUCKET_URL", &c.COSBucketURL)
	str("CROWDWATCH_COS_SECRET_ID", &c.COSSecretID)
	str("CROWDWATCH_COS_SECRET_KEY", &c.COSSecretKey)

	str("CROWDWATCH_INFERENCE_BACKEND", &c.InferenceBackend)
	str("CROWDWATCH_INFERENCE_URL", &c.InferenceURL)
	str("CROWDWATCH_INFERENCE_MODEL", &c.InferenceModel)
	str("CROWDWATCH_INFERENCE_API_KEY", &c.InferenceAPIKey)
	str("CROWDWATCH_INFERENCE_BASE_URL", &c.InferenceBaseURL)
	integer("CROWDWATCH_INFERENCE_TIMEOUT", &c.InferenceTimeout)

	integer("CROWDWATCH_ALERT_MIN_FRAMES", &c.AlertMinFrames)
	if v, ok := lookup("CROWDWATCH_ALERT_SCORE_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.AlertScoreThreshold = f
		}
	}
	integer("CROWDWATCH_ALERT_CRITICAL_FRAMES", &c.AlertCriticalFrames)
	integer("CROWDWATCH_REPORT_RECENT_FRAMES", &c.ReportRecentFrames)
	integer("CROWDWATCH_REPORT_ATTACHMENTS", &c.ReportAttachments)
	boolean("CROWDWATCH_REPORT_GIF", &c.ReportGIF)
	integer("CROWDWATCH_DISPATCH_POOL_SIZE", &c.DispatchPoolSize)
	integer("CROWDWATCH_NOTIFY_TIMEOUT", &c.NotifyTimeout)

	str("CROWDWATCH_SMTP_HOST", &c.SMTPHost)
	integer("CROWDWATCH_SMTP_PORT", &c.SMTPPort)
	str("CROWDWATCH_SMTP_USER", &c.SMTPUser)
	str("CROWDWATCH_SMTP_PASSWORD", &c.SMTPPassword)
	str("CROWDWATCH_ALERT_FROM", &c.AlertFrom)
	if v, ok := lookup("CROWDWATCH_ALERT_RECIPIENTS"); ok {
		c.AlertRecipients = splitTrim(v)
	}
	str("CROWDWATCH_WEBHOOK_URL", &c.WebhookURL)
}

// settingString flattens a decoded JSON value into its env-style text form.
func settingString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, settingString(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// splitTrim splits a comma-separated list, dropping empty items.
func splitTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
