// Package config provides configuration management with validation.
//
// Settings come from environment variables; the CLI overrides some of them
// with persistent flags and validates the result once before any request
// is sent.
//
// SECURITY: All inputs are validated at the boundary (fail-fast).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flavioaiello/containerapps/pkg/arm"
)

// Environment variable names.
const (
	EnvSubscriptionID   = "AZURE_SUBSCRIPTION_ID"
	EnvResourceGroup    = "AZURE_RESOURCE_GROUP"
	EnvEndpoint         = "AZURE_ARM_ENDPOINT"
	EnvClientID         = "AZURE_CLIENT_ID"
	EnvAPIVersion       = "CONTAINERAPPS_API_VERSION"
	EnvPollTimeout      = "CONTAINERAPPS_POLL_TIMEOUT"
	EnvPollInterval     = "CONTAINERAPPS_POLL_INTERVAL"
	EnvCertPollTimeout  = "CONTAINERAPPS_CERT_POLL_TIMEOUT"
	EnvCertPollInterval = "CONTAINERAPPS_CERT_POLL_INTERVAL"
	EnvConfigDir        = "CONTAINERAPPS_CONFIG_DIR"
	EnvLogLevel         = "CONTAINERAPPS_LOG_LEVEL"
)

// Configuration constants with documented bounds.
const (
	DefaultPollInterval        = 2 * time.Second
	DefaultPollTimeout         = 1200 * time.Second
	DefaultCertPollInterval    = 4 * time.Second
	DefaultCertPollTimeout     = 1500 * time.Second
	MaxPollTimeout             = 4 * time.Hour
	MaxResourceGroupNameLength = 90
	DefaultLogLevel            = "warn"
	configDirName              = "containerapps"
)

// Input validation patterns.
var (
	// ValidSubscriptionIDPattern matches valid Azure subscription IDs.
	ValidSubscriptionIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	// ValidAPIVersionPattern matches ARM api-version values.
	ValidAPIVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(-preview)?$`)
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Configuration errors.
var (
	ErrMissingSubscriptionID = errors.New(EnvSubscriptionID + " is required")
	ErrInvalidSubscriptionID = errors.New(EnvSubscriptionID + " must be a valid GUID")
	ErrResourceGroupTooLong  = errors.New(EnvResourceGroup + " exceeds maximum length")
	ErrInvalidEndpoint       = errors.New(EnvEndpoint + " must be an https URL")
	ErrInvalidAPIVersion     = errors.New(EnvAPIVersion + " must look like 2024-03-01")
	ErrInvalidPollSettings   = errors.New("poll interval and timeout must be positive with interval below timeout")
	ErrInvalidLogLevel       = errors.New(EnvLogLevel + " must be debug, info, warn, or error")
)

// wrapErrWithValue wraps an error with an invalid value for context.
func wrapErrWithValue(err error, value string) error {
	return fmt.Errorf("%w: %s", err, value)
}

// Config holds CLI configuration loaded from environment variables.
type Config struct {
	// SubscriptionID is the Azure subscription ID.
	SubscriptionID string
	// ResourceGroup is the default resource group for verbs that need one.
	ResourceGroup string
	// Endpoint is the Resource Manager endpoint.
	Endpoint string
	// APIVersion is the Microsoft.App api-version sent with every request.
	APIVersion string
	// ClientID selects a user-assigned managed identity for authentication.
	ClientID string

	PollInterval     time.Duration
	PollTimeout      time.Duration
	CertPollInterval time.Duration
	CertPollTimeout  time.Duration

	// ConfigDir holds the credential cache and downloaded tools.
	ConfigDir string
	LogLevel  string
}

// Load reads configuration from environment variables without validating
// it, so callers can apply overrides first.
func Load() *Config {
	return &Config{
		SubscriptionID:   os.Getenv(EnvSubscriptionID),
		ResourceGroup:    os.Getenv(EnvResourceGroup),
		Endpoint:         getEnvOrDefault(EnvEndpoint, arm.DefaultEndpoint),
		APIVersion:       getEnvOrDefault(EnvAPIVersion, arm.DefaultAPIVersion),
		ClientID:         os.Getenv(EnvClientID),
		PollInterval:     getEnvDuration(EnvPollInterval, DefaultPollInterval),
		PollTimeout:      getEnvDuration(EnvPollTimeout, DefaultPollTimeout),
		CertPollInterval: getEnvDuration(EnvCertPollInterval, DefaultCertPollInterval),
		CertPollTimeout:  getEnvDuration(EnvCertPollTimeout, DefaultCertPollTimeout),
		ConfigDir:        getEnvOrDefault(EnvConfigDir, defaultConfigDir()),
		LogLevel:         strings.ToLower(getEnvOrDefault(EnvLogLevel, DefaultLogLevel)),
	}
}

// LoadFromEnv loads and validates configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.SubscriptionID == "" {
		errs = append(errs, ErrMissingSubscriptionID)
	} else if !ValidSubscriptionIDPattern.MatchString(strings.ToLower(c.SubscriptionID)) {
		errs = append(errs, wrapErrWithValue(ErrInvalidSubscriptionID, c.SubscriptionID))
	}

	if len(c.ResourceGroup) > MaxResourceGroupNameLength {
		errs = append(errs, fmt.Errorf("%w: %d chars", ErrResourceGroupTooLong, len(c.ResourceGroup)))
	}

	if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		errs = append(errs, wrapErrWithValue(ErrInvalidEndpoint, c.Endpoint))
	}

	if !ValidAPIVersionPattern.MatchString(c.APIVersion) {
		errs = append(errs, wrapErrWithValue(ErrInvalidAPIVersion, c.APIVersion))
	}

	if !validPoll(c.PollInterval, c.PollTimeout) {
		errs = append(errs, fmt.Errorf("%w: general %v/%v", ErrInvalidPollSettings, c.PollInterval, c.PollTimeout))
	}
	if !validPoll(c.CertPollInterval, c.CertPollTimeout) {
		errs = append(errs, fmt.Errorf("%w: certificate %v/%v", ErrInvalidPollSettings, c.CertPollInterval, c.CertPollTimeout))
	}

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, wrapErrWithValue(ErrInvalidLogLevel, c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// CredentialsFile is the persisted source control credential cache.
func (c *Config) CredentialsFile() string {
	return filepath.Join(c.ConfigDir, "credentials.json")
}

// BinDir holds downloaded tools such as the pack CLI.
func (c *Config) BinDir() string {
	return filepath.Join(c.ConfigDir, "bin")
}

func validPoll(interval, timeout time.Duration) bool {
	return interval > 0 && timeout > 0 && interval < timeout && timeout <= MaxPollTimeout
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, configDirName)
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvDuration parses a duration from seconds environment variable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
