// Package auth acquires the token credential used for every ARM request.
//
// Credential selection:
//  1. AZURE_CLIENT_ID set: user-assigned managed identity with that client id
//  2. Otherwise the default chain (environment, workload identity, managed
//     identity, Azure CLI, Azure Developer CLI)
//
// Identifiers written to logs are masked.
package auth

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"
)

// Credential kinds reported in logs.
const (
	KindManagedIdentity = "ManagedIdentity"
	KindDefaultChain    = "DefaultAzureCredential"
)

// ErrCredentialUnavailable is returned when no credential could be built.
var ErrCredentialUnavailable = errors.New("no Azure credential available")

// Options select the credential.
type Options struct {
	// ClientID selects a user-assigned managed identity.
	ClientID string
	// TenantID pins the tenant of the default chain.
	TenantID string
}

// NewCredential returns the credential for opts.
func NewCredential(opts Options, logger *zap.Logger) (azcore.TokenCredential, error) {
	if opts.ClientID != "" {
		logger.Debug("Using user-assigned managed identity",
			zap.String("credential_type", KindManagedIdentity),
			zap.String("client_id", MaskID(opts.ClientID)),
		)
		cred, err := azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(opts.ClientID),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: managed identity: %v", ErrCredentialUnavailable, err)
		}
		return cred, nil
	}

	logger.Debug("Using default credential chain", zap.String("credential_type", KindDefaultChain))
	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		TenantID: opts.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	return cred, nil
}

// MaskID masks a client or subscription id for logging.
func MaskID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:8] + "..."
}

// LogAuditEvent logs a security-relevant change such as a role assignment.
func LogAuditEvent(logger *zap.Logger, eventType, targetResource, principal, result string) {
	logger.Info("Security audit event",
		zap.Bool("security_audit", true),
		zap.String("event_type", eventType),
		zap.String("target_resource", targetResource),
		zap.String("principal", MaskID(principal)),
		zap.String("result", result),
	)
}
