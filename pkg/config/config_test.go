package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavioaiello/containerapps/pkg/arm"
)

// Test constants to avoid literal duplication.
const testSubscriptionID = "00000000-0000-0000-0000-000000000001"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvSubscriptionID, EnvResourceGroup, EnvEndpoint, EnvClientID, EnvAPIVersion,
		EnvPollTimeout, EnvPollInterval, EnvCertPollTimeout, EnvCertPollInterval,
		EnvConfigDir, EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvValidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSubscriptionID, testSubscriptionID)
	t.Setenv(EnvConfigDir, "/tmp/aca")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, testSubscriptionID, cfg.SubscriptionID)
	assert.Equal(t, arm.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, arm.DefaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	assert.Equal(t, DefaultCertPollInterval, cfg.CertPollInterval)
	assert.Equal(t, DefaultCertPollTimeout, cfg.CertPollTimeout)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, filepath.Join("/tmp/aca", "credentials.json"), cfg.CredentialsFile())
	assert.Equal(t, filepath.Join("/tmp/aca", "bin"), cfg.BinDir())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSubscriptionID, testSubscriptionID)
	t.Setenv(EnvResourceGroup, "rg1")
	t.Setenv(EnvAPIVersion, "2023-11-02-preview")
	t.Setenv(EnvPollTimeout, "60")
	t.Setenv(EnvPollInterval, "1")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvClientID, "client")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "rg1", cfg.ResourceGroup)
	assert.Equal(t, "2023-11-02-preview", cfg.APIVersion)
	assert.Equal(t, 60*time.Second, cfg.PollTimeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "client", cfg.ClientID)
}

func TestLoadFromEnvMissingSubscription(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSubscriptionID)
}

func TestLoadWithoutValidation(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Empty(t, cfg.SubscriptionID)

	cfg.SubscriptionID = testSubscriptionID
	assert.NoError(t, cfg.Validate())
}

func TestValidateAggregatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSubscriptionID, "not-a-guid")
	t.Setenv(EnvEndpoint, "http://management.azure.com")
	t.Setenv(EnvAPIVersion, "latest")
	t.Setenv(EnvLogLevel, "trace")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSubscriptionID)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.ErrorIs(t, err, ErrInvalidAPIVersion)
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestValidatePollSettings(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		timeout  time.Duration
		valid    bool
	}{
		{name: "defaults", interval: DefaultPollInterval, timeout: DefaultPollTimeout, valid: true},
		{name: "zero interval", interval: 0, timeout: DefaultPollTimeout},
		{name: "interval above timeout", interval: time.Minute, timeout: time.Second},
		{name: "timeout above bound", interval: time.Second, timeout: MaxPollTimeout + time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				SubscriptionID:   testSubscriptionID,
				Endpoint:         arm.DefaultEndpoint,
				APIVersion:       arm.DefaultAPIVersion,
				PollInterval:     tt.interval,
				PollTimeout:      tt.timeout,
				CertPollInterval: DefaultCertPollInterval,
				CertPollTimeout:  DefaultCertPollTimeout,
				LogLevel:         DefaultLogLevel,
			}
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPollSettings)
			}
		})
	}
}

func TestResourceGroupTooLong(t *testing.T) {
	cfg := &Config{
		SubscriptionID:   testSubscriptionID,
		ResourceGroup:    string(make([]byte, MaxResourceGroupNameLength+1)),
		Endpoint:         arm.DefaultEndpoint,
		APIVersion:       arm.DefaultAPIVersion,
		PollInterval:     DefaultPollInterval,
		PollTimeout:      DefaultPollTimeout,
		CertPollInterval: DefaultCertPollInterval,
		CertPollTimeout:  DefaultCertPollTimeout,
		LogLevel:         DefaultLogLevel,
	}
	assert.ErrorIs(t, cfg.Validate(), ErrResourceGroupTooLong)
}

func TestValidSubscriptionIDPattern(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{testSubscriptionID, true},
		{"abcdef00-abcd-abcd-abcd-abcdef123456", true},
		{"not-a-guid", false},
		{"12345678-1234-1234-1234-12345678901", false},   // Too short
		{"12345678-1234-1234-1234-1234567890123", false}, // Too long
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidSubscriptionIDPattern.MatchString(tt.id))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ACA_TEST_DURATION", "abc")
	assert.Equal(t, time.Minute, getEnvDuration("ACA_TEST_DURATION", time.Minute))
	t.Setenv("ACA_TEST_DURATION", "5")
	assert.Equal(t, 5*time.Second, getEnvDuration("ACA_TEST_DURATION", time.Minute))
}
