package filestore

import "time"

// Provider identifies the object storage backend.
type Provider string

const (
	ProviderMinIO  Provider = "minio"
	ProviderMemory Provider = "memory"
)

// Config holds all settings needed to connect to an object storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string `yaml:"region"`

	// Bucket holds every document; it is created on startup when missing.
	Bucket string `yaml:"bucket"`

	// PresignTTL bounds the validity of retrieval URLs handed to the editor.
	PresignTTL time.Duration `yaml:"presign_ttl"`

	// UploadTimeout bounds a single PutObject call.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:      ProviderMinIO,
		Endpoint:      endpoint,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		UseSSL:        false,
		Bucket:        "documents",
		PresignTTL:    7 * 24 * time.Hour,
		UploadTimeout: 2 * time.Minute,
	}
}
