package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StorageType selects the optional object-storage mirror.
type StorageType string

const (
	StorageNone  StorageType = "none"
	StorageS3    StorageType = "s3"
	StorageMinio StorageType = "minio"
)

type StorageConfig struct {
	Type  StorageType `yaml:"type"`
	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
	// Retention prunes mirrored objects older than this at startup. Empty keeps everything.
	Retention string `yaml:"retention"`
}

type S3Config struct {
	BucketName string `yaml:"bucket_name"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

type MinioConfig struct {
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"use_ssl"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucket_name"`
}

func (c *StorageConfig) loadEnv() {
	if v := os.Getenv("SPLITTER_STORAGE_TYPE"); v != "" {
		c.Type = StorageType(v)
	}
	setIf(&c.Retention, os.Getenv("SPLITTER_STORAGE_RETENTION"))
	setIf(&c.S3.BucketName, os.Getenv("AWS_S3_BUCKET_NAME"))
	setIf(&c.S3.Region, os.Getenv("AWS_REGION"))
	setIf(&c.S3.Endpoint, os.Getenv("AWS_ENDPOINT"))
	setIf(&c.S3.AccessKey, os.Getenv("AWS_ACCESS_KEY"))
	setIf(&c.S3.SecretKey, os.Getenv("AWS_SECRET_KEY"))

	setIf(&c.Minio.AccessKey, os.Getenv("MINIO_ACCESS_KEY"))
	setIf(&c.Minio.SecretKey, os.Getenv("MINIO_SECRET_KEY"))
	setIf(&c.Minio.Endpoint, os.Getenv("MINIO_ENDPOINT"))
	setIf(&c.Minio.Region, os.Getenv("MINIO_REGION"))
	setIf(&c.Minio.BucketName, os.Getenv("MINIO_BUCKET_NAME"))
	if v, err := strconv.ParseBool(os.Getenv("MINIO_USE_SSL")); err == nil {
		c.Minio.UseSSL = v
	}
}

// RetentionDuration returns the configured retention, zero when pruning is off.
func (c *StorageConfig) RetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.Retention)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (c *StorageConfig) validate() error {
	if c.Retention != "" {
		if d, err := time.ParseDuration(c.Retention); err != nil || d < 0 {
			return fmt.Errorf("invalid retention %q", c.Retention)
		}
	}
	switch c.Type {
	case "", StorageNone:
		c.Type = StorageNone
	case StorageS3:
		if c.S3.BucketName == "" {
			return fmt.Errorf("s3 bucket_name is required")
		}
	case StorageMinio:
		if c.Minio.BucketName == "" || c.Minio.Endpoint == "" {
			return fmt.Errorf("minio endpoint and bucket_name are required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Type)
	}
	return nil
}

// StatusConfig configures the optional Redis status sink. Empty Addr disables it.
type StatusConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	TTL       string `yaml:"ttl"`
}

// TTLDuration returns how long statuses are kept, defaulting to 24h.
func (c *StatusConfig) TTLDuration() time.Duration {
	if d, err := time.ParseDuration(c.TTL); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

func (c *StatusConfig) loadEnv() {
	setIf(&c.RedisAddr, os.Getenv("SPLITTER_REDIS_ADDR"))
	if v, err := strconv.Atoi(os.Getenv("SPLITTER_REDIS_DB")); err == nil {
		c.RedisDB = v
	}
}
