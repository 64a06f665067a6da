// Package config loads docbridge configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file (if present) and finally DOCBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/wuyou/docbridge/internal/database"
	"github.com/wuyou/docbridge/internal/errs"
	"github.com/wuyou/docbridge/internal/filestore"
	"github.com/wuyou/docbridge/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCBRIDGE_"

// Config holds all runtime configuration for the service.
type Config struct {
	Server  ServerConfig     `yaml:"server"`
	Log     logger.Config    `yaml:"log"`
	Store   filestore.Config `yaml:"store"`
	Editor  EditorConfig     `yaml:"editor"`
	Journal JournalConfig    `yaml:"journal"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// EditorConfig covers the document server and the save workflow.
type EditorConfig struct {
	DocumentServerURL string `yaml:"document_server_url"`
	CallbackURL       string `yaml:"callback_url"`
	JWTSecret         string `yaml:"jwt_secret"`
	Lang              string `yaml:"lang"`

	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	DownloadTimeout    time.Duration `yaml:"download_timeout"`
	QueueTimeout       time.Duration `yaml:"queue_timeout"`
	MaxConcurrentSaves int64         `yaml:"max_concurrent_saves"`
	MaxDocumentBytes   int64         `yaml:"max_document_bytes"`
	SerializeSaves     bool          `yaml:"serialize_saves"`
	AllowedHosts       []string      `yaml:"allowed_hosts"`

	StagingDir    string        `yaml:"staging_dir"`
	StagingMaxAge time.Duration `yaml:"staging_max_age"`
}

type JournalConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Database database.Config `yaml:"database"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a configuration that runs against a local MinIO.
func Default() *Config {
	logCfg := logger.DefaultConfig()
	logCfg.Output = nil

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  100 << 20,
			CORSOrigins:     []string{"*"},
		},
		Log:   *logCfg,
		Store: *filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin"),
		Editor: EditorConfig{
			DocumentServerURL:  "http://localhost:8081",
			CallbackURL:        "http://localhost:8080/api/onlyoffice/callback",
			Lang:               "en",
			FetchTimeout:       8 * time.Second,
			DownloadTimeout:    2 * time.Minute,
			QueueTimeout:       30 * time.Second,
			MaxConcurrentSaves: 16,
			MaxDocumentBytes:   100 << 20,
			SerializeSaves:     true,
			StagingMaxAge:      24 * time.Hour,
		},
		Journal: JournalConfig{
			Database: *database.DefaultConfig(database.DriverPostgres, ""),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "docbridge",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read .env", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	bindings := []struct {
		name string
		set  func(string) error
	}{
		{"SERVER_ADDR", str(&c.Server.Addr)},
		{"SERVER_MAX_UPLOAD_BYTES", int64Of(&c.Server.MaxUploadBytes)},
		{"SERVER_CORS_ORIGINS", list(&c.Server.CORSOrigins)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FORMAT", str(&c.Log.Format)},
		{"STORE_PROVIDER", func(v string) error { c.Store.Provider = filestore.Provider(v); return nil }},
		{"STORE_ENDPOINT", str(&c.Store.Endpoint)},
		{"STORE_ACCESS_KEY", str(&c.Store.AccessKey)},
		{"STORE_SECRET_KEY", str(&c.Store.SecretKey)},
		{"STORE_USE_SSL", boolOf(&c.Store.UseSSL)},
		{"STORE_REGION", str(&c.Store.Region)},
		{"STORE_BUCKET", str(&c.Store.Bucket)},
		{"STORE_PRESIGN_TTL", duration(&c.Store.PresignTTL)},
		{"EDITOR_DOCUMENT_SERVER_URL", str(&c.Editor.DocumentServerURL)},
		{"EDITOR_CALLBACK_URL", str(&c.Editor.CallbackURL)},
		{"EDITOR_JWT_SECRET", str(&c.Editor.JWTSecret)},
		{"EDITOR_FETCH_TIMEOUT", duration(&c.Editor.FetchTimeout)},
		{"EDITOR_MAX_CONCURRENT_SAVES", int64Of(&c.Editor.MaxConcurrentSaves)},
		{"EDITOR_MAX_DOCUMENT_BYTES", int64Of(&c.Editor.MaxDocumentBytes)},
		{"EDITOR_SERIALIZE_SAVES", boolOf(&c.Editor.SerializeSaves)},
		{"EDITOR_ALLOWED_HOSTS", list(&c.Editor.AllowedHosts)},
		{"EDITOR_STAGING_DIR", str(&c.Editor.StagingDir)},
		{"JOURNAL_ENABLED", boolOf(&c.Journal.Enabled)},
		{"JOURNAL_DRIVER", func(v string) error { c.Journal.Database.Driver = database.Driver(v); return nil }},
		{"JOURNAL_DSN", str(&c.Journal.Database.DSN)},
		{"METRICS_ENABLED", boolOf(&c.Metrics.Enabled)},
	}

	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "invalid "+EnvPrefix+b.name, err)
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	switch c.Store.Provider {
	case filestore.ProviderMinIO:
		if c.Store.Endpoint == "" {
			add("store.endpoint is required for provider minio")
		}
		if c.Store.AccessKey == "" || c.Store.SecretKey == "" {
			add("store.access_key and store.secret_key are required for provider minio")
		}
	case filestore.ProviderMemory:
	default:
		add("store.provider %q is not supported", c.Store.Provider)
	}
	if c.Store.Bucket == "" {
		add("store.bucket is required")
	}
	if c.Store.PresignTTL <= 0 || c.Store.PresignTTL > 7*24*time.Hour {
		add("store.presign_ttl must be between 1s and 168h")
	}

	if !isAbsoluteURL(c.Editor.CallbackURL) {
		add("editor.callback_url must be an absolute http(s) URL")
	}
	if c.Editor.FetchTimeout <= 0 {
		add("editor.fetch_timeout must be positive")
	}
	if c.Editor.MaxConcurrentSaves <= 0 {
		add("editor.max_concurrent_saves must be positive")
	}
	if c.Editor.MaxDocumentBytes < 0 {
		add("editor.max_document_bytes must not be negative")
	}

	if c.Journal.Enabled {
		switch c.Journal.Database.Driver {
		case database.DriverPostgres, database.DriverMySQL:
		default:
			add("journal.database.driver %q is not supported", c.Journal.Database.Driver)
		}
		if c.Journal.Database.DSN == "" {
			add("journal.database.dsn is required when the journal is enabled")
		}
	}

	if len(problems) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func boolOf(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func int64Of(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func list(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
		return nil
	}
}
