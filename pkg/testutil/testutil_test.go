package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants to avoid literal duplication.
const (
	testApp       = "app1"
	testAppsPath  = "/subscriptions/00000000-0000-0000-0000-000000000001/resourceGroups/rg1/providers/Microsoft.App/containerApps"
	testAppPath   = testAppsPath + "/" + testApp
	testWorkspace = "11111111-2222-3333-4444-555555555555"
)

func TestFakeCredentialGetToken(t *testing.T) {
	errAuth := errors.New("auth failed")
	tests := []struct {
		name    string
		fail    error
		cancel  bool
		wantErr error
	}{
		{name: "issues token"},
		{name: "configured failure", fail: errAuth, wantErr: errAuth},
		{name: "cancelled", cancel: true, wantErr: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := NewFakeCredential()
			cred.Fail(tt.fail)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{"https://management.azure.com/.default"}})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "fake-token-1", token.Token)
			assert.True(t, token.ExpiresOn.After(time.Now()))
		})
	}
}

func TestClientRequestsEndpointScope(t *testing.T) {
	f := NewFakeARM(t)
	f.Seed(testAppPath, map[string]any{"name": testApp})

	resp, err := f.Client(t).Do(context.Background(), http.MethodGet, f.URL()+testAppPath+"?api-version=2024-03-01", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	scopes := f.Credential().Scopes()
	require.NotEmpty(t, scopes)
	assert.Equal(t, []string{f.URL() + "/.default"}, scopes[0])
}

func (f *FakeARM) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.URL()+path, reader)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestFakeARMStore(t *testing.T) {
	f := NewFakeARM(t)

	status, _ := f.do(t, http.MethodGet, testAppPath, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, put := f.do(t, http.MethodPut, testAppPath, map[string]any{
		"location": "westeurope",
		"properties": map[string]any{
			"configuration": map[string]any{
				"secrets": []any{map[string]any{"name": "pw", "value": "s3cret"}},
			},
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, testApp, put["name"])
	assert.Equal(t, "Succeeded", put["properties"].(map[string]any)["provisioningState"])

	t.Run("get redacts secrets", func(t *testing.T) {
		_, got := f.do(t, http.MethodGet, testAppPath, nil)
		secrets := got["properties"].(map[string]any)["configuration"].(map[string]any)["secrets"].([]any)
		require.Len(t, secrets, 1)
		assert.NotContains(t, secrets[0], "value")

		stored, ok := f.Resource(testAppPath)
		require.True(t, ok)
		storedSecret := stored["properties"].(map[string]any)["configuration"].(map[string]any)["secrets"].([]any)[0]
		assert.Equal(t, "s3cret", storedSecret.(map[string]any)["value"])
	})

	t.Run("list secrets", func(t *testing.T) {
		_, got := f.do(t, http.MethodPost, testAppPath+"/listSecrets", nil)
		assert.Len(t, got["value"], 1)
	})

	t.Run("collection lists children", func(t *testing.T) {
		_, got := f.do(t, http.MethodGet, testAppsPath, nil)
		assert.Len(t, got["value"], 1)
	})

	t.Run("patch merges", func(t *testing.T) {
		_, got := f.do(t, http.MethodPatch, testAppPath, map[string]any{"tags": map[string]any{"env": "prod"}})
		assert.Equal(t, map[string]any{"env": "prod"}, got["tags"])
		assert.Equal(t, "westeurope", got["location"])
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := f.do(t, http.MethodDelete, testAppPath, nil)
		assert.Equal(t, http.StatusOK, status)
		_, ok := f.Resource(testAppPath)
		assert.False(t, ok)
	})

	assert.NotEmpty(t, f.RequestsFor(http.MethodGet, testAppPath))
}

func TestFakeARMScriptedRoutes(t *testing.T) {
	f := NewFakeARM(t)
	f.Handle(http.MethodGet, testAppPath,
		FakeResponse{Status: http.StatusAccepted},
		FakeResponse{Body: map[string]any{"status": "Succeeded"}},
	)

	status, _ := f.do(t, http.MethodGet, testAppPath, nil)
	assert.Equal(t, http.StatusAccepted, status)
	for range 2 {
		status, body := f.do(t, http.MethodGet, testAppPath, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Succeeded", body["status"])
	}

	f.HandleFunc(http.MethodPut, testAppPath, func(req RecordedRequest) FakeResponse {
		return FakeResponse{Status: http.StatusCreated, Body: req.JSON()}
	})
	status, body := f.do(t, http.MethodPut, testAppPath, map[string]any{"location": "eastus"})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "eastus", body["location"])

	last, ok := f.LastRequest(http.MethodPut, testAppPath)
	require.True(t, ok)
	assert.Equal(t, "eastus", last.JSON()["location"])
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock()
	start := c.Now()

	<-c.After(time.Second)
	c.Sleep(2 * time.Second)

	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Waits())
}

func TestMockGraphClientFindRegistry(t *testing.T) {
	g := NewMockGraphClient()
	g.AddRegistry("MyACR", "rg1")

	found, err := g.FindRegistry(context.Background(), "myacr")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "rg1", found.ResourceGroup)
	assert.Equal(t, "myacr.azurecr.io", found.LoginServer())

	missing, err := g.FindRegistry(context.Background(), "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, []string{"myacr", "other"}, g.Lookups())
	assert.Equal(t, 2, g.QueryCount())
}

func TestMockGraphClientFindEnvironments(t *testing.T) {
	g := NewMockGraphClient()
	g.AddEnvironment("/env/a", "a", "West Europe", testWorkspace)
	g.AddEnvironment("/env/b", "b", "eastus", testWorkspace)
	g.AddEnvironment("/env/c", "c", "westeurope", "other")

	tests := []struct {
		name     string
		location string
		want     []string
	}{
		{"any location", "", []string{"a", "b"}},
		{"normalized location", "westeurope", []string{"a"}},
		{"no match", "northeurope", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := g.FindEnvironmentsByLogAnalytics(context.Background(), testWorkspace, tt.location)
			require.NoError(t, err)
			var names []string
			for _, e := range envs {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestMockGraphClientFailure(t *testing.T) {
	g := NewMockGraphClient()
	g.SetShouldFail(true, "graph down")

	_, err := g.FindRegistry(context.Background(), "myacr")
	assert.EqualError(t, err, "graph down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.SetShouldFail(false, "")
	_, err = g.FindEnvironmentsByLogAnalytics(ctx, testWorkspace, "")
	assert.ErrorIs(t, err, context.Canceled)
}
