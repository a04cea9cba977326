// Package objectstore stages raw uploaded files in S3-compatible storage.
// Production points at AWS S3; local development uses MinIO through the
// endpoint override.
package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Config validation errors.
var (
	ErrBucketEmpty = errors.New("S3 bucket name cannot be empty")
)

// Config holds object storage connection settings.
type Config struct {
	// EndpointURL overrides the AWS endpoint for S3-compatible servers like
	// MinIO. Empty means real AWS S3.
	EndpointURL string

	AccessKey string
	secretKey string

	Bucket string
	Region string

	// UsePathStyle forces path-style addressing, required by MinIO.
	UsePathStyle bool
}

// LoadConfig loads object storage configuration from environment variables.
// Path-style addressing is enabled automatically when an endpoint override is
// set, since virtual-hosted style does not work against MinIO.
func LoadConfig() *Config {
	endpoint := config.GetEnvStr("S3_ENDPOINT_URL", "")

	return &Config{
		EndpointURL:  endpoint,
		AccessKey:    config.GetEnvStr("S3_ACCESS_KEY", ""),
		secretKey:    config.GetEnvStr("S3_SECRET_KEY", ""),
		Bucket:       config.GetEnvStr("S3_BUCKET_NAME", "floatchat-raw"),
		Region:       config.GetEnvStr("S3_REGION", "us-east-1"),
		UsePathStyle: config.GetEnvBool("S3_USE_PATH_STYLE", endpoint != ""),
	}
}

// Validate checks if the object storage configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return ErrBucketEmpty
	}

	return nil
}

// SecretKey returns the secret access key. Kept off the struct surface so it
// does not leak through reflection-based logging.
func (c *Config) SecretKey() string {
	return c.secretKey
}

// String returns a log-safe representation.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Endpoint: %s, Bucket: %s, Region: %s, PathStyle: %t}",
		c.EndpointURL, c.Bucket, c.Region, c.UsePathStyle)
}
