package clients

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/progress"
	"github.com/flavioaiello/containerapps/pkg/testutil"
)

// Test constants to avoid literal duplication.
const (
	testSub     = "00000000-0000-0000-0000-000000000001"
	testRG      = "rg1"
	testApp     = "app1"
	testEnv     = "env1"
	testJob     = "job1"
	testAppPath = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/containerApps/" + testApp
	testEnvPath = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/managedEnvironments/" + testEnv
	testJobPath = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/jobs/" + testJob
	testOpPath  = "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/containerappOperationStatuses/op1"
)

func newTestClients(t *testing.T) (*Clients, *testutil.FakeARM, *progress.Recorder) {
	t.Helper()
	fake := testutil.NewFakeARM(t)
	client := fake.Client(t)
	rec := progress.NewRecorder()
	poller := lro.NewPoller(client, zap.NewNop(), lro.WithClock(testutil.NewFakeClock()), lro.WithProgress(rec))
	return New(client, poller, Settings{Endpoint: fake.URL(), SubscriptionID: testSub}, zap.NewNop()), fake, rec
}

func appBody(state string) map[string]any {
	return map[string]any{
		"id":         testAppPath,
		"name":       testApp,
		"location":   "westeurope",
		"properties": map[string]any{"provisioningState": state},
	}
}

func TestCreateOrUpdateFollowsAsyncOperation(t *testing.T) {
	c, fake, rec := newTestClients(t)
	fake.Handle(http.MethodPut, testAppPath, testutil.FakeResponse{
		Status: http.StatusCreated,
		Header: map[string]string{lro.HeaderAsyncOperation: fake.URL() + testOpPath},
		Body:   appBody(envelope.StateInProgress),
	})
	fake.Handle(http.MethodGet, testOpPath,
		testutil.FakeResponse{Status: http.StatusOK, Body: map[string]any{"status": "InProgress"}},
		testutil.FakeResponse{Status: http.StatusOK, Body: map[string]any{"status": "Succeeded"}},
	)
	fake.Handle(http.MethodGet, testAppPath, testutil.FakeResponse{Status: http.StatusOK, Body: appBody(envelope.StateSucceeded)})

	app, err := c.Apps.CreateOrUpdate(context.Background(), testRG, testApp, &envelope.ContainerApp{Location: "westeurope"}, false)
	require.NoError(t, err)
	assert.Equal(t, envelope.StateSucceeded, app.ProvisioningState())
	assert.Len(t, fake.RequestsFor(http.MethodGet, testOpPath), 2)
	assert.Equal(t, 2, rec.Ticks())
	assert.Equal(t, 1, rec.Flushes())

	put, ok := fake.LastRequest(http.MethodPut, testAppPath)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01", put.Query.Get("api-version"))
}

func TestCreateOrUpdateNoWaitReturnsInitialBody(t *testing.T) {
	c, fake, _ := newTestClients(t)
	fake.Handle(http.MethodPut, testAppPath, testutil.FakeResponse{
		Status: http.StatusCreated,
		Header: map[string]string{lro.HeaderAsyncOperation: fake.URL() + testOpPath},
		Body:   appBody(envelope.StateInProgress),
	})

	app, err := c.Apps.CreateOrUpdate(context.Background(), testRG, testApp, &envelope.ContainerApp{}, true)
	require.NoError(t, err)
	assert.Equal(t, envelope.StateInProgress, app.ProvisioningState())
	assert.Empty(t, fake.RequestsFor(http.MethodGet, testOpPath))
}

func TestCreateOrUpdateMissingAsyncHeader(t *testing.T) {
	c, fake, _ := newTestClients(t)
	fake.Handle(http.MethodPut, testAppPath, testutil.FakeResponse{Status: http.StatusCreated, Body: appBody(envelope.StateInProgress)})

	_, err := c.Apps.CreateOrUpdate(context.Background(), testRG, testApp, &envelope.ContainerApp{}, false)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}

func TestUpdateFollowsLocation(t *testing.T) {
	c, fake, _ := newTestClients(t)
	const resultPath = "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/containerappOperationResults/op1"
	fake.Handle(http.MethodPatch, testAppPath, testutil.FakeResponse{
		Status: http.StatusAccepted,
		Header: map[string]string{lro.HeaderLocation: fake.URL() + resultPath},
	})
	fake.Handle(http.MethodGet, resultPath,
		testutil.FakeResponse{Status: http.StatusAccepted},
		testutil.FakeResponse{Status: http.StatusOK, Body: appBody(envelope.StateSucceeded)},
	)

	app, err := c.Apps.Update(context.Background(), testRG, testApp, &envelope.ContainerApp{}, false)
	require.NoError(t, err)
	assert.Equal(t, testApp, app.Name)
}

func TestUpdateLocationGoneIsNotFound(t *testing.T) {
	c, fake, _ := newTestClients(t)
	const resultPath = "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/containerappOperationResults/op2"
	fake.Handle(http.MethodPatch, testAppPath, testutil.FakeResponse{
		Status: http.StatusAccepted,
		Header: map[string]string{lro.HeaderLocation: fake.URL() + resultPath},
	})

	_, err := c.Apps.Update(context.Background(), testRG, testApp, &envelope.ContainerApp{}, false)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateEmptyResult(t *testing.T) {
	const resultPath = "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/containerappOperationResults/op3"
	tests := []struct {
		name         string
		patch        testutil.FakeResponse
		noWait       bool
		wantNotFound bool
	}{
		{
			name:         "location result without body",
			patch:        testutil.FakeResponse{Status: http.StatusAccepted},
			wantNotFound: true,
		},
		{
			name:         "immediate reply without body",
			patch:        testutil.FakeResponse{Status: http.StatusOK},
			wantNotFound: true,
		},
		{
			name:   "no wait",
			patch:  testutil.FakeResponse{Status: http.StatusAccepted},
			noWait: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newTestClients(t)
			tt.patch.Header = map[string]string{lro.HeaderLocation: fake.URL() + resultPath}
			fake.Handle(http.MethodPatch, testAppPath, tt.patch)
			fake.Handle(http.MethodGet, resultPath, testutil.FakeResponse{Status: http.StatusOK})

			app, err := c.Apps.Update(context.Background(), testRG, testApp, &envelope.ContainerApp{}, tt.noWait)
			assert.Nil(t, app)
			if tt.wantNotFound {
				assert.True(t, apperrors.IsNotFound(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestShowNotFound(t *testing.T) {
	c, _, _ := newTestClients(t)

	app, found, err := c.Apps.Show(context.Background(), testRG, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, app)
}

func TestDeleteMissingSurfacesNotFound(t *testing.T) {
	c, _, _ := newTestClients(t)

	err := c.Apps.Delete(context.Background(), testRG, "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteFollowsLocation(t *testing.T) {
	c, fake, _ := newTestClients(t)
	const resultPath = "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/containerappOperationResults/del"
	fake.Handle(http.MethodDelete, testAppPath, testutil.FakeResponse{
		Status: http.StatusAccepted,
		Header: map[string]string{lro.HeaderLocation: fake.URL() + resultPath},
	})
	fake.Handle(http.MethodGet, resultPath,
		testutil.FakeResponse{Status: http.StatusAccepted},
		testutil.FakeResponse{Status: http.StatusNoContent},
	)

	require.NoError(t, c.Apps.Delete(context.Background(), testRG, testApp, false))
	assert.Len(t, fake.RequestsFor(http.MethodGet, resultPath), 2)
}

func TestListFollowsNextLink(t *testing.T) {
	c, fake, _ := newTestClients(t)
	collection := "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/containerApps"
	fake.Handle(http.MethodGet, collection,
		testutil.FakeResponse{Body: map[string]any{
			"value":    []any{map[string]any{"name": "a"}},
			"nextLink": fake.URL() + collection + "?api-version=2024-03-01&$skiptoken=1",
		}},
		testutil.FakeResponse{Body: map[string]any{"value": []any{map[string]any{"name": "b"}}}},
	)

	apps, err := c.Apps.ListByResourceGroup(context.Background(), testRG)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "a", apps[0].Name)
	assert.Equal(t, "b", apps[1].Name)
}

func TestListSecretsFromStore(t *testing.T) {
	c, fake, _ := newTestClients(t)
	fake.Seed(testAppPath, map[string]any{
		"name": testApp,
		"properties": map[string]any{"configuration": map[string]any{
			"secrets": []any{map[string]any{"name": "s1", "value": "v1"}},
		}},
	})

	secrets, err := c.Apps.ListSecrets(context.Background(), testRG, testApp)
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "v1", secrets[0].Value)

	app, found, err := c.Apps.Show(context.Background(), testRG, testApp)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, app.Properties.Configuration.Secrets[0].Value)
}

func TestEnvironmentUpdateOperationURLs(t *testing.T) {
	tests := []struct {
		name      string
		opPath    string
		opReplies []testutil.FakeResponse
		wantErr   bool
	}{
		{
			name:   "operation statuses use async protocol",
			opPath: "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/managedEnvironmentOperationStatuses/op1",
			opReplies: []testutil.FakeResponse{
				{Status: http.StatusOK, Body: map[string]any{"status": "Succeeded"}},
			},
		},
		{
			name:   "operation results use location protocol",
			opPath: "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/managedEnvironmentOperationResults/op1",
			opReplies: []testutil.FakeResponse{
				{Status: http.StatusAccepted},
				{Status: http.StatusOK, Body: map[string]any{"name": testEnv}},
			},
		},
		{
			name:    "unknown operation url",
			opPath:  "/subscriptions/" + testSub + "/providers/Microsoft.App/locations/westeurope/somethingElse/op1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newTestClients(t)
			fake.Handle(http.MethodPatch, testEnvPath, testutil.FakeResponse{
				Status: http.StatusAccepted,
				Header: map[string]string{lro.HeaderLocation: fake.URL() + tt.opPath},
			})
			if len(tt.opReplies) > 0 {
				fake.Handle(http.MethodGet, tt.opPath, tt.opReplies...)
			}
			fake.Handle(http.MethodGet, testEnvPath, testutil.FakeResponse{Body: map[string]any{"name": testEnv}})

			env, err := c.Environments.Update(context.Background(), testRG, testEnv, &envelope.ManagedEnvironment{}, false)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testEnv, env.Name)
		})
	}
}

func TestJobStopVariants(t *testing.T) {
	tests := []struct {
		name       string
		executions []string
		wantPath   string
		wantBody   map[string]any
	}{
		{name: "all executions", wantPath: testJobPath + "/stop"},
		{name: "single execution", executions: []string{"exec1"}, wantPath: testJobPath + "/stop/exec1"},
		{
			name:       "several executions",
			executions: []string{"exec1", "exec2"},
			wantPath:   testJobPath + "/stop",
			wantBody:   map[string]any{"jobExecutionName": []any{"exec1", "exec2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newTestClients(t)
			fake.Handle(http.MethodPost, tt.wantPath, testutil.FakeResponse{Status: http.StatusOK})

			require.NoError(t, c.Jobs.Stop(context.Background(), testRG, testJob, tt.executions...))

			req, ok := fake.LastRequest(http.MethodPost, tt.wantPath)
			require.True(t, ok)
			if tt.wantBody == nil {
				assert.Empty(t, req.Body)
				return
			}
			assert.Equal(t, tt.wantBody, req.JSON())
		})
	}
}

func TestJobStartWithTemplate(t *testing.T) {
	c, fake, _ := newTestClients(t)
	fake.Handle(http.MethodPost, testJobPath+"/start", testutil.FakeResponse{Body: map[string]any{"name": "job1-abc"}})

	tmpl := &envelope.JobExecutionTemplate{Containers: []envelope.Container{{Name: testJob, Image: "busybox"}}}
	exec, err := c.Jobs.Start(context.Background(), testRG, testJob, tmpl)
	require.NoError(t, err)
	assert.Equal(t, "job1-abc", exec.Name)

	req, _ := fake.LastRequest(http.MethodPost, testJobPath+"/start")
	containers := req.JSON()["containers"].([]any)
	assert.Equal(t, "busybox", containers[0].(map[string]any)["image"])
}

func TestCreateManagedCertificateReportsToken(t *testing.T) {
	c, fake, rec := newTestClients(t)
	certPath := testEnvPath + "/managedCertificates/mc1"
	fake.Handle(http.MethodPut, certPath, testutil.FakeResponse{Status: http.StatusCreated, Body: map[string]any{"name": "mc1"}})
	fake.Handle(http.MethodGet, certPath,
		testutil.FakeResponse{Body: map[string]any{"properties": map[string]any{"provisioningState": "Pending", "validationToken": "tok"}}},
		testutil.FakeResponse{Body: map[string]any{"properties": map[string]any{"provisioningState": "Succeeded", "validationToken": "tok"}}},
	)

	cert := &envelope.ManagedCertificate{Properties: &envelope.ManagedCertificateProperties{
		SubjectName:             "www.contoso.com",
		DomainControlValidation: envelope.ValidationTXT,
	}}
	out, err := c.Environments.CreateManagedCertificate(context.Background(), testRG, testEnv, "mc1", cert, false)
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", out.Properties.ProvisioningState)
	require.Len(t, rec.Messages(), 1)
	assert.Contains(t, rec.Messages()[0], "tok")
}

func TestSourceControlUsesResourceStatePolling(t *testing.T) {
	c, fake, _ := newTestClients(t)
	scPath := testAppPath + "/sourcecontrols/current"
	fake.Handle(http.MethodPut, scPath, testutil.FakeResponse{Status: http.StatusCreated, Body: map[string]any{"name": "current"}})
	fake.Handle(http.MethodGet, scPath,
		testutil.FakeResponse{Body: map[string]any{"properties": map[string]any{"operationState": "InProgress"}}},
		testutil.FakeResponse{Body: map[string]any{"name": "current", "properties": map[string]any{"operationState": "Succeeded", "repoUrl": "https://github.com/o/r"}}},
	)

	sc, err := c.SourceControls.CreateOrUpdate(context.Background(), testRG, testApp, &envelope.SourceControl{}, false)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/o/r", sc.Properties.RepoURL)
}

func TestChildResourcesRoundTrip(t *testing.T) {
	c, _, _ := newTestClients(t)
	ctx := context.Background()

	comp := &envelope.DaprComponent{Properties: &envelope.DaprComponentProperties{ComponentType: "state.redis", Version: "v1"}}
	_, err := c.DaprComponents.CreateOrUpdate(ctx, testRG, testEnv, "statestore", comp)
	require.NoError(t, err)

	list, err := c.DaprComponents.List(ctx, testRG, testEnv)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "statestore", list[0].Name)

	require.NoError(t, c.DaprComponents.Delete(ctx, testRG, testEnv, "statestore"))
	_, found, err := c.DaprComponents.Show(ctx, testRG, testEnv, "statestore")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubscriptionCustomDomainVerificationID(t *testing.T) {
	c, fake, _ := newTestClients(t)
	fake.Handle(http.MethodPost, "/subscriptions/"+testSub+"/providers/Microsoft.App/getCustomDomainVerificationId",
		testutil.FakeResponse{Body: `"ABC123"`})

	id, err := c.Subscription.GetCustomDomainVerificationID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", id)
}

func TestRegistryWaitRunFailure(t *testing.T) {
	c, fake, _ := newTestClients(t)
	runPath := "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.ContainerRegistry/registries/acr1/runs/ca1"
	fake.Handle(http.MethodGet, runPath,
		testutil.FakeResponse{Body: map[string]any{"properties": map[string]any{"runId": "ca1", "status": "Running"}}},
		testutil.FakeResponse{Body: map[string]any{"properties": map[string]any{"runId": "ca1", "status": "Failed", "runErrorMessage": "build failed"}}},
	)

	_, err := c.Registries.WaitRun(context.Background(), testRG, "acr1", "ca1")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRemoteOperationFailed, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "build failed")
}
