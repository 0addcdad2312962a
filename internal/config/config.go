// Package config provides configuration for the martforge CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/martforge/martforge/internal/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a martforge run.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Workspace is the path of the workspace document
	Workspace string `json:"workspace" yaml:"workspace"`

	// Preview configuration
	Preview PreviewConfig `json:"preview" yaml:"preview"`

	// Source configuration
	Source SourceConfig `json:"source" yaml:"source"`

	// Snapshot configuration
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// PreviewConfig holds row preview configuration.
type PreviewConfig struct {
	// RowLimit is the default number of rows shown by preview
	RowLimit int `json:"row_limit" yaml:"row_limit"`
}

// SourceConfig holds row source configuration.
type SourceConfig struct {
	// CacheDir is where SQLite snapshots fetched from storage are kept
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Concurrency is the number of objects read in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// SnapshotConfig holds snapshot configuration.
type SnapshotConfig struct {
	// OutputDir is where new snapshots are written
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Upload controls whether snapshots are uploaded to storage
	Upload bool `json:"upload" yaml:"upload"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Verbose enables debug output
	Verbose bool `json:"verbose" yaml:"verbose"`

	// JSON switches to JSON log lines
	JSON bool `json:"json" yaml:"json"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./data/martforge",
		Workspace: "martforge.yaml",
		Preview: PreviewConfig{
			RowLimit: 20,
		},
		Source: SourceConfig{
			CacheDir:    "",
			Concurrency: 4,
		},
		Snapshot: SnapshotConfig{
			OutputDir: "",
			Upload:    true,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/martforge"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Source.CacheDir == "" {
		c.Source.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	if c.Snapshot.OutputDir == "" {
		c.Snapshot.OutputDir = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.NewConfigError("data_dir is required", nil)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return apperrors.NewConfigError(
			fmt.Sprintf("invalid storage type: %s (must be local or s3)", c.Storage.Type), nil)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return apperrors.NewConfigError("s3.bucket is required when storage type is s3", nil)
	}

	if c.Preview.RowLimit <= 0 {
		return apperrors.NewConfigError(
			fmt.Sprintf("preview.row_limit must be positive, got %d", c.Preview.RowLimit), nil)
	}

	if c.Source.Concurrency < 1 || c.Source.Concurrency > 64 {
		return apperrors.NewConfigError(
			fmt.Sprintf("source.concurrency must be between 1 and 64, got %d", c.Source.Concurrency), nil)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to parse JSON config", err)
		}
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported config file format: %s", ext), nil)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MARTFORGE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MARTFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MARTFORGE_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}

	// Preview configuration
	if v := os.Getenv("MARTFORGE_PREVIEW_ROW_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Preview.RowLimit)
	}

	// Source configuration
	if v := os.Getenv("MARTFORGE_SOURCE_CACHE_DIR"); v != "" {
		cfg.Source.CacheDir = v
	}
	if v := os.Getenv("MARTFORGE_SOURCE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Source.Concurrency)
	}

	// Snapshot configuration
	if v := os.Getenv("MARTFORGE_SNAPSHOT_OUTPUT_DIR"); v != "" {
		cfg.Snapshot.OutputDir = v
	}
	if v := os.Getenv("MARTFORGE_SNAPSHOT_UPLOAD"); v != "" {
		cfg.Snapshot.Upload = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("MARTFORGE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("MARTFORGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MARTFORGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("MARTFORGE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("MARTFORGE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("MARTFORGE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Log configuration
	if v := os.Getenv("MARTFORGE_LOG_VERBOSE"); v != "" {
		cfg.Log.Verbose = v == "true" || v == "1"
	}
	if v := os.Getenv("MARTFORGE_LOG_JSON"); v != "" {
		cfg.Log.JSON = v == "true" || v == "1"
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Source.CacheDir,
		c.Snapshot.OutputDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.NewConfigError(fmt.Sprintf("failed to create directory %s", dir), err)
		}
	}

	return nil
}
