// Package config loads the YAML configuration file and holds the
// runtime values discovered from the well-known-value service at
// startup.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk/environment configuration for the connector.
// Field names and YAML keys follow the values the connector has always
// accepted; defaults are applied by Load for every key absent from the
// file (and for an empty wkvs_api_url).
type Config struct {
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`
	MaxRetries             int    `yaml:"max_retries"`
	MaxWaitTime            int    `yaml:"max_wait_time"`
	PartSize               int    `yaml:"part_size"`
	WkvsAPIURL             string `yaml:"wkvs_api_url"`
	ExponentialBackoffMax  int    `yaml:"exponential_backoff_max"`
	RetryStatusCodes       []int  `yaml:"retry_status_codes"`

	DownloadDir string `yaml:"download_dir"`
}

// Defaults matching the documented configuration defaults.
const (
	DefaultMaxConcurrentDownloads = 5
	DefaultMaxRetries             = 5
	DefaultMaxWaitTime            = 3600
	DefaultPartSizeMiB            = 16
	DefaultWkvsAPIURL             = "https://data.ghga.de/.well-known"
	DefaultExponentialBackoffMax  = 60
)

// DefaultRetryStatusCodes is the status-code set retried by default.
var DefaultRetryStatusCodes = []int{408, 500, 502, 503, 504}

// Load reads a YAML config file at path, applying defaults for any field
// left unset. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := &Config{
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		MaxRetries:             DefaultMaxRetries,
		MaxWaitTime:            DefaultMaxWaitTime,
		PartSize:               DefaultPartSizeMiB,
		WkvsAPIURL:             DefaultWkvsAPIURL,
		ExponentialBackoffMax:  DefaultExponentialBackoffMax,
		RetryStatusCodes:       append([]int(nil), DefaultRetryStatusCodes...),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	// Decode into a map of keys so zero-valued fields in the file
	// don't clobber the defaults above when a field is simply absent.
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	// yaml.Unmarshal into a struct with zero-valued int fields that are
	// absent from the document leaves them at zero, not the default we
	// pre-populated, so explicit presence must be checked via raw.
	if _, ok := raw["max_concurrent_downloads"]; !ok {
		cfg.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if _, ok := raw["max_retries"]; !ok {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if _, ok := raw["max_wait_time"]; !ok {
		cfg.MaxWaitTime = DefaultMaxWaitTime
	}
	if _, ok := raw["part_size"]; !ok {
		cfg.PartSize = DefaultPartSizeMiB
	}
	if _, ok := raw["wkvs_api_url"]; !ok || cfg.WkvsAPIURL == "" {
		cfg.WkvsAPIURL = DefaultWkvsAPIURL
	}
	if _, ok := raw["exponential_backoff_max"]; !ok {
		cfg.ExponentialBackoffMax = DefaultExponentialBackoffMax
	}
	if _, ok := raw["retry_status_codes"]; !ok {
		cfg.RetryStatusCodes = append([]int(nil), DefaultRetryStatusCodes...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field bounds documented for the configuration schema.
func (c *Config) Validate() error {
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max_concurrent_downloads must be >= 1, got %d", c.MaxConcurrentDownloads)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxWaitTime < 1 {
		return fmt.Errorf("max_wait_time must be >= 1, got %d", c.MaxWaitTime)
	}
	if c.PartSize < 1 {
		return fmt.Errorf("part_size must be >= 1, got %d", c.PartSize)
	}
	if _, err := url.ParseRequestURI(c.WkvsAPIURL); err != nil {
		return fmt.Errorf("wkvs_api_url is not a valid URL: %w", err)
	}
	if c.ExponentialBackoffMax < 0 {
		return fmt.Errorf("exponential_backoff_max must be >= 0, got %d", c.ExponentialBackoffMax)
	}
	return nil
}

// PartSizeBytes returns the configured part size in bytes.
func (c *Config) PartSizeBytes() int64 {
	return int64(c.PartSize) * 1024 * 1024
}

// RuntimeConfig holds the values discovered once from the well-known-value
// service at process startup and then threaded explicitly through every
// component constructor that needs them. It replaces the ambient global
// mutable configuration the reference implementation keeps in a context
// variable: here, nothing is read from a package-level global, and every
// client that needs a URL or the archive public key receives this struct
// directly.
type RuntimeConfig struct {
	WorkPackageAPIURL string
	UploadAPIURL      string
	DownloadAPIURL    string
	ArchivePublicKey  []byte
}

// NewRuntimeConfig builds a RuntimeConfig from already-resolved values.
func NewRuntimeConfig(wpsURL, uploadURL, downloadURL string, archivePubKey []byte) *RuntimeConfig {
	return &RuntimeConfig{
		WorkPackageAPIURL: wpsURL,
		UploadAPIURL:      uploadURL,
		DownloadAPIURL:    downloadURL,
		ArchivePublicKey:  archivePubKey,
	}
}
