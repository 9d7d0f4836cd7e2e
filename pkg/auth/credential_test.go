package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewCredentialManagedIdentity(t *testing.T) {
	cred, err := NewCredential(Options{ClientID: "12345678-1234-1234-1234-123456789012"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, cred)
}

func TestNewCredentialDefaultChain(t *testing.T) {
	cred, err := NewCredential(Options{}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, cred)
}

func TestMaskID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"12345678-1234-1234-1234-123456789012", "12345678..."},
		{"short", "****"},
		{"12345678", "****"},
		{"123456789", "12345678..."},
		{"", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskID(tt.input))
		})
	}
}

func TestLogAuditEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	LogAuditEvent(zap.New(core), "role_assignment", "/subscriptions/x/acr", "aaaaaaaa-bbbb", "success")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["security_audit"])
	assert.Equal(t, "role_assignment", fields["event_type"])
	assert.Equal(t, "aaaaaaaa...", fields["principal"])
}
