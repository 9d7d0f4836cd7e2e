//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/arm"
	"github.com/flavioaiello/containerapps/pkg/auth"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/config"
	"github.com/flavioaiello/containerapps/pkg/graph"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

const (
	testTimeout = 60 * time.Second
)

func skipIfNoCredentials(t *testing.T) {
	t.Helper()
	if os.Getenv(config.EnvSubscriptionID) == "" {
		t.Skip("AZURE_SUBSCRIPTION_ID not set, skipping integration test")
	}
}

func getTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newCredential(t *testing.T, cfg *config.Config) azcore.TokenCredential {
	t.Helper()
	cred, err := auth.NewCredential(auth.Options{ClientID: cfg.ClientID}, zap.NewNop())
	require.NoError(t, err)
	return cred
}

func newReconciler(t *testing.T, cfg *config.Config) *reconciler.Reconciler {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	cred := newCredential(t, cfg)

	client, err := arm.NewClient(cred, cfg.Endpoint, logger, nil)
	require.NoError(t, err)
	poller := lro.NewPoller(client, logger,
		lro.WithGeneral(lro.Options{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout}),
	)
	discovery, err := graph.NewClient(cfg.SubscriptionID, cred, nil, logger)
	require.NoError(t, err)

	r, err := reconciler.New(reconciler.Deps{
		Clients: clients.New(client, poller, clients.Settings{
			Endpoint:       cfg.Endpoint,
			SubscriptionID: cfg.SubscriptionID,
			APIVersion:     cfg.APIVersion,
		}, logger),
		Poller:    poller,
		Discovery: discovery,
	}, logger)
	require.NoError(t, err)
	return r
}

func TestCredentialToken(t *testing.T) {
	skipIfNoCredentials(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	cred := newCredential(t, getTestConfig(t))
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
}

func TestListSubscriptionResources(t *testing.T) {
	skipIfNoCredentials(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	r := newReconciler(t, getTestConfig(t))

	envs, err := r.Environments.List(ctx, "")
	require.NoError(t, err)
	t.Logf("Found %d managed environments", len(envs))

	apps, err := r.Apps.List(ctx, "", "")
	require.NoError(t, err)
	t.Logf("Found %d container apps", len(apps))

	jobs, err := r.Jobs.List(ctx, "")
	require.NoError(t, err)
	t.Logf("Found %d jobs", len(jobs))
}

func TestCustomDomainVerificationID(t *testing.T) {
	skipIfNoCredentials(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	r := newReconciler(t, getTestConfig(t))

	id, err := r.Environments.CustomDomainVerificationID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestGraphFindRegistry(t *testing.T) {
	skipIfNoCredentials(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	cfg := getTestConfig(t)
	client, err := graph.NewClient(cfg.SubscriptionID, newCredential(t, cfg), nil, zap.NewNop())
	require.NoError(t, err)

	// A name that cannot exist; registry names are alphanumeric.
	found, err := client.FindRegistry(ctx, "acaintegrationmissing0")
	if err != nil {
		// May fail if the principal lacks Resource Graph access.
		t.Logf("FindRegistry failed (may be expected): %v", err)
		return
	}
	assert.Nil(t, found)
}
