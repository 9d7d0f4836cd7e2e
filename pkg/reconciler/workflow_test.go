package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/testutil"
)

const (
	testRepo          = "octo/app"
	testWorkflow      = "app1-AutoDeployTrigger-0001"
	testSourceControl = testAppPath + "/sourcecontrols/current"
)

type fakeWatcher struct {
	sp     ServicePrincipal
	scopes [][]string
	// found answers FindWorkflow in order; the last answer repeats.
	found []bool
	finds int
	// runs answers LatestRun in order; the last answer repeats.
	runs     []*WorkflowRun
	runCalls int
}

func (f *fakeWatcher) CreateServicePrincipal(_ context.Context, scopes []string) (ServicePrincipal, error) {
	f.scopes = append(f.scopes, scopes)
	return f.sp, nil
}

func (f *fakeWatcher) FindWorkflow(context.Context, string, string, string, string) (string, bool, error) {
	i := min(f.finds, len(f.found)-1)
	f.finds++
	return testWorkflow, f.found[i], nil
}

func (f *fakeWatcher) LatestRun(context.Context, string, string, string) (*WorkflowRun, error) {
	i := min(f.runCalls, len(f.runs)-1)
	f.runCalls++
	return f.runs[i], nil
}

func withWatcher(w WorkflowWatcher) func(*Deps) {
	return func(d *Deps) { d.Workflows = w }
}

func TestFindWorkflowRetries(t *testing.T) {
	tests := []struct {
		name      string
		found     []bool
		wantErr   bool
		wantFinds int
		wantWaits []time.Duration
	}{
		{name: "present", found: []bool{true}, wantFinds: 1, wantWaits: []time.Duration{}},
		{
			name:      "appears on last attempt",
			found:     []bool{false, false, true},
			wantFinds: 3,
			wantWaits: []time.Duration{WorkflowDiscoveryBackoff, WorkflowDiscoveryBackoff},
		},
		{
			name:      "never appears",
			found:     []bool{false},
			wantErr:   true,
			wantFinds: WorkflowDiscoveryAttempts,
			wantWaits: []time.Duration{WorkflowDiscoveryBackoff, WorkflowDiscoveryBackoff},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWatcher{found: tt.found}
			h := newTestReconciler(t, withWatcher(w))

			name, err := h.r.Up.findWorkflow(context.Background(), testRepo, defaultBranch, testApp, "tok")
			assert.Equal(t, tt.wantFinds, w.finds)
			assert.Equal(t, tt.wantWaits, h.clock.Waits())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
				assert.Contains(t, err.Error(), ErrWorkflowNotFound.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testWorkflow, name)
		})
	}
}

func TestAwaitWorkflowRun(t *testing.T) {
	done := &WorkflowRun{ID: "7", Status: RunCompleted, Conclusion: RunSuccess, URL: "https://github.com/octo/app/actions/runs/7"}
	tests := []struct {
		name      string
		runs      []*WorkflowRun
		wantErr   bool
		wantKind  apperrors.Kind
		wantCalls int
	}{
		{
			name:      "queued then succeeds",
			runs:      []*WorkflowRun{nil, {Status: RunQueued}, {Status: RunInProgress}, done},
			wantCalls: 4,
		},
		{
			name:      "failed run",
			runs:      []*WorkflowRun{{Status: RunCompleted, Conclusion: "failure"}},
			wantErr:   true,
			wantKind:  apperrors.KindValidation,
			wantCalls: 1,
		},
		{
			name:      "never finishes",
			runs:      []*WorkflowRun{{Status: RunInProgress}},
			wantErr:   true,
			wantKind:  apperrors.KindInternal,
			wantCalls: int(WorkflowRunTimeout/WorkflowRunInterval) + 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWatcher{found: []bool{true}, runs: tt.runs}
			h := newTestReconciler(t, withWatcher(w))
			start := h.clock.Now()

			err := h.r.Up.awaitWorkflow(context.Background(), testRepo, defaultBranch, testApp, "tok")
			assert.Equal(t, tt.wantCalls, w.runCalls)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
			if tt.wantKind == apperrors.KindInternal {
				assert.Equal(t, WorkflowRunTimeout, h.clock.Now().Sub(start))
			}
		})
	}
}

func TestAwaitWorkflowCancelled(t *testing.T) {
	w := &fakeWatcher{found: []bool{true}, runs: []*WorkflowRun{{Status: RunQueued}}}
	h := newTestReconciler(t, withWatcher(w), func(d *Deps) {
		d.Poller = lro.NewPoller(nil, zap.NewNop(), lro.WithClock(testutil.BlockingClock{}))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.r.Up.awaitWorkflow(ctx, testRepo, defaultBranch, testApp, "tok")
	require.Error(t, err)
	assert.Equal(t, apperrors.ExitCancelled, apperrors.ExitCode(err))
}

func TestServicePrincipal(t *testing.T) {
	complete := ServicePrincipal{ClientID: "cid", ClientSecret: "sec", TenantID: "tid"}
	created := ServicePrincipal{ClientID: "new", ClientSecret: "pw", TenantID: "tid"}
	tests := []struct {
		name       string
		given      ServicePrincipal
		existing   bool
		watcher    bool
		envRG      string
		want       *ServicePrincipal
		wantScopes [][]string
		wantErr    error
	}{
		{name: "complete flags", given: complete, watcher: true, want: &complete},
		{name: "existing source control", given: ServicePrincipal{ClientID: "cid"}, existing: true, watcher: true},
		{name: "no watcher", given: ServicePrincipal{ClientID: "cid"}, wantErr: apperrors.ErrRequiredArgumentMissing},
		{
			name:       "created for both groups",
			watcher:    true,
			envRG:      "envrg",
			want:       &created,
			wantScopes: [][]string{{testRGPath, "/subscriptions/" + testSub + "/resourceGroups/envrg"}},
		},
		{
			name:       "created for one group",
			watcher:    true,
			envRG:      testRG,
			want:       &created,
			wantScopes: [][]string{{testRGPath}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWatcher{sp: created}
			var configure []func(*Deps)
			if tt.watcher {
				configure = append(configure, withWatcher(w))
			}
			h := newTestReconciler(t, configure...)
			if tt.existing {
				h.fake.Seed(testSourceControl, map[string]any{"properties": map[string]any{"repoUrl": "https://github.com/" + testRepo}})
			}

			got, err := h.r.Up.servicePrincipal(context.Background(), UpOptions{Name: testApp, ServicePrincipal: tt.given}, testRG, tt.envRG)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantScopes, w.scopes)
		})
	}
}

func TestRecordSourceControlFollowsWorkflow(t *testing.T) {
	w := &fakeWatcher{
		sp:    ServicePrincipal{ClientID: "new", ClientSecret: "pw", TenantID: "tid"},
		found: []bool{false, true},
		runs:  []*WorkflowRun{{Status: RunCompleted, Conclusion: RunSuccess}},
	}
	h := newTestReconciler(t, withWatcher(w))
	opts := UpOptions{Name: testApp, Repo: "https://github.com/" + testRepo, Token: "tok"}

	require.NoError(t, h.r.Up.recordSourceControl(context.Background(), opts, testRG, testEnvPath, nil))
	assert.Equal(t, 2, w.finds)
	assert.Equal(t, 1, w.runCalls)

	put, ok := h.fake.LastRequest(http.MethodPut, testSourceControl)
	require.True(t, ok)
	props, _ := put.JSON()["properties"].(map[string]any)
	assert.Equal(t, defaultBranch, props["branch"])
	raw, err := json.Marshal(props["githubActionConfiguration"])
	require.NoError(t, err)
	var cfg githubActionConfig
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, &azureCredentials{ClientID: "new", ClientSecret: "pw", TenantID: "tid", SubscriptionID: testSub}, cfg.AzureCredentials)
	assert.Equal(t, "tok", cfg.Token)
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, testRepo, repoName("https://github.com/octo/app"))
	assert.Equal(t, testRepo, repoName("https://github.com/octo/app/"))
	assert.Equal(t, "app", repoName("app"))
}
