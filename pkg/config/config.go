// Package config loads the settings shared by every command of the fs tool.
//
// Values come from three layers, each overriding the previous one: built-in
// defaults, an optional YAML file, and SIMPLEFS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"brenoafb.com/simplefs/pkg/codec"
	"brenoafb.com/simplefs/pkg/fs"
	"brenoafb.com/simplefs/pkg/objdev"
)

const envVarPrefix = "SIMPLEFS"

const (
	BackendFile  = "file"
	BackendMmap  = "mmap"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

type Config struct {
	Backend string `envconfig:"SIMPLEFS_BACKEND" yaml:"backend"`
	Image   string `envconfig:"SIMPLEFS_IMAGE"   yaml:"image"`

	BlockSize     int `envconfig:"SIMPLEFS_BLOCK_SIZE"      yaml:"blockSize"`
	InodeSize     int `envconfig:"SIMPLEFS_INODE_SIZE"      yaml:"inodeSize"`
	NumInodes     int `envconfig:"SIMPLEFS_NUM_INODES"      yaml:"numInodes"`
	NumDataBlocks int `envconfig:"SIMPLEFS_NUM_DATA_BLOCKS" yaml:"numDataBlocks"`
	MaxFileBlocks int `envconfig:"SIMPLEFS_MAX_FILE_BLOCKS" yaml:"maxFileBlocks"`
	MaxNameLength int `envconfig:"SIMPLEFS_MAX_NAME_LENGTH" yaml:"maxNameLength"`
	MaxOpenFiles  int `envconfig:"SIMPLEFS_MAX_OPEN_FILES"  yaml:"maxOpenFiles"`

	// IOLimit caps device throughput in bytes per second. 0 disables it.
	IOLimit int `envconfig:"SIMPLEFS_IO_LIMIT" yaml:"ioLimit"`

	Compression string        `envconfig:"SIMPLEFS_COMPRESSION" yaml:"compression"`
	Bucket      string        `envconfig:"SIMPLEFS_BUCKET"      yaml:"bucket"`
	Prefix      string        `envconfig:"SIMPLEFS_PREFIX"      yaml:"prefix"`
	Endpoint    string        `envconfig:"SIMPLEFS_ENDPOINT"    yaml:"endpoint"`
	AccessKey   string        `envconfig:"SIMPLEFS_ACCESS_KEY"  yaml:"accessKey"`
	SecretKey   string        `envconfig:"SIMPLEFS_SECRET_KEY"  yaml:"secretKey"`
	Region      string        `envconfig:"SIMPLEFS_REGION"      yaml:"region"`
	Secure      bool          `envconfig:"SIMPLEFS_SECURE"      yaml:"secure"`
	Concurrency int           `envconfig:"SIMPLEFS_CONCURRENCY" yaml:"concurrency"`
	Timeout     time.Duration `envconfig:"SIMPLEFS_TIMEOUT"     yaml:"timeout"`

	// CacheBlocks bounds the clean blocks an object-store device keeps.
	CacheBlocks int `envconfig:"SIMPLEFS_CACHE_BLOCKS" yaml:"cacheBlocks"`

	LogLevel  string `envconfig:"SIMPLEFS_LOG_LEVEL"  yaml:"logLevel"`
	LogFormat string `envconfig:"SIMPLEFS_LOG_FORMAT" yaml:"logFormat"`
}

// Default returns a configuration for a file-backed volume with the default
// geometry.
func Default() Config {
	g := fs.DefaultGeometry()
	return Config{
		Backend:       BackendFile,
		Image:         "simplefs.img",
		BlockSize:     g.BlockSize,
		InodeSize:     g.InodeSize,
		NumInodes:     g.NumInodes,
		NumDataBlocks: g.NumDataBlocks,
		MaxFileBlocks: g.MaxFileBlocks,
		MaxNameLength: g.MaxNameLength,
		MaxOpenFiles:  fs.DefaultMaxOpenFiles,
		Compression:   codec.None.String(),
		Prefix:        "simplefs",
		Region:        "us-east-1",
		Concurrency:   8,
		Timeout:       30 * time.Second,
		CacheBlocks:   objdev.DefaultCacheBlocks,
		LogLevel:      "warn",
		LogFormat:     "text",
	}
}

// Load reads the YAML file at path, if path is not empty, and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

// Geometry returns the volume geometry described by c.
func (c *Config) Geometry() fs.Geometry {
	return fs.Geometry{
		BlockSize:     c.BlockSize,
		InodeSize:     c.InodeSize,
		NumInodes:     c.NumInodes,
		NumDataBlocks: c.NumDataBlocks,
		MaxFileBlocks: c.MaxFileBlocks,
		MaxNameLength: c.MaxNameLength,
	}
}

// CompressionType parses the Compression setting.
func (c *Config) CompressionType() (codec.Type, error) {
	return codec.ParseType(c.Compression)
}

// Level parses the LogLevel setting.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level `%s`: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		switch c.Backend {
		case BackendFile, BackendMmap:
			if c.Image == "" {
				return "image", "IMAGE"
			}
		case BackendS3, BackendMinio:
			if c.Bucket == "" {
				return "bucket", "BUCKET"
			}
			if c.Backend == BackendMinio && c.Endpoint == "" {
				return "endpoint", "ENDPOINT"
			}
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing required configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}

	var errs []error
	switch c.Backend {
	case BackendFile, BackendMmap, BackendS3, BackendMinio:
	default:
		errs = append(errs, fmt.Errorf("unknown backend `%s`", c.Backend))
	}
	if err := c.Geometry().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxOpenFiles <= 0 {
		errs = append(errs, fmt.Errorf("maxOpenFiles must be positive, got %d", c.MaxOpenFiles))
	}
	if c.IOLimit < 0 {
		errs = append(errs, fmt.Errorf("ioLimit must not be negative, got %d", c.IOLimit))
	}
	if _, err := c.CompressionType(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format `%s`", c.LogFormat))
	}
	return errors.Join(errs...)
}
