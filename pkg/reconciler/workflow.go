package reconciler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Repository workflow bounds.
const (
	WorkflowDiscoveryTimeout  = 30 * time.Second
	WorkflowDiscoveryAttempts = 3
	WorkflowDiscoveryBackoff  = 10 * time.Second
	WorkflowRunTimeout        = 20 * time.Minute
	WorkflowRunInterval       = 10 * time.Second
)

// Workflow run states.
const (
	RunQueued     = "queued"
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunSuccess    = "success"
)

// ServicePrincipal holds the credentials a repository workflow signs in
// with.
type ServicePrincipal struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

func (sp ServicePrincipal) complete() bool {
	return sp.ClientID != "" && sp.ClientSecret != "" && sp.TenantID != ""
}

// WorkflowRun is one run of a repository workflow.
type WorkflowRun struct {
	ID         string
	Status     string
	Conclusion string
	URL        string
}

func (r *WorkflowRun) pending() bool {
	return r == nil || r.Status == "" || r.Status == RunQueued || r.Status == RunInProgress
}

// servicePrincipal returns the credentials recorded with the source
// control. Complete flags win; an app that already has a source control
// keeps its credentials; otherwise a principal scoped to the app and
// environment resource groups is created.
func (u *Up) servicePrincipal(ctx context.Context, opts UpOptions, rg, envRG string) (*ServicePrincipal, error) {
	if opts.ServicePrincipal.complete() {
		return &opts.ServicePrincipal, nil
	}
	_, found, err := u.Clients.SourceControls.Show(ctx, rg, opts.Name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, nil
	}
	if u.Workflows == nil {
		return nil, apperrors.RequiredArgument("usage error: --service-principal-client-id, --service-principal-client-secret and --service-principal-tenant-id are required with --repo")
	}
	scopes := []string{envelope.ResourceGroupID(u.subscriptionID, rg)}
	if envRG != "" && !strings.EqualFold(envRG, rg) {
		scopes = append(scopes, envelope.ResourceGroupID(u.subscriptionID, envRG))
	}
	u.logger.Warn("No valid service principal provided, creating a new service principal", zap.Strings("scopes", scopes))
	sp, err := u.Workflows.CreateServicePrincipal(ctx, scopes)
	if err != nil {
		return nil, err
	}
	u.logger.Info("Created service principal", zap.String("clientId", sp.ClientID))
	return &sp, nil
}

// awaitWorkflow waits for the workflow file to appear and then for its
// latest run to finish. A run that does not succeed is a ValidationError.
func (u *Up) awaitWorkflow(ctx context.Context, repo, branch, app, token string) error {
	name, err := u.findWorkflow(ctx, repo, branch, app, token)
	if err != nil {
		return err
	}
	u.logger.Info("Waiting for the repository workflow to complete", zap.String("repo", repo), zap.String("workflow", name))

	start := u.Poller.Now()
	var run *WorkflowRun
	for {
		if run, err = u.Workflows.LatestRun(ctx, repo, name, token); err != nil {
			return err
		}
		if !run.pending() {
			break
		}
		if u.Poller.Now().Sub(start) >= WorkflowRunTimeout {
			return apperrors.Internal("timed out after %s waiting for workflow %s of %s to complete", WorkflowRunTimeout, name, repo)
		}
		if err := u.Poller.Sleep(ctx, WorkflowRunInterval); err != nil {
			return err
		}
	}
	if run.Status != RunCompleted || run.Conclusion != RunSuccess {
		return apperrors.Validation("workflow %s of %s ended with %s %s, see %s", name, repo, run.Status, run.Conclusion, run.URL)
	}
	u.logger.Info("Repository workflow succeeded", zap.String("run", run.URL))
	return nil
}

// findWorkflow looks the workflow file up a bounded number of times.
func (u *Up) findWorkflow(ctx context.Context, repo, branch, app, token string) (string, error) {
	start := u.Poller.Now()
	for attempt := 1; ; attempt++ {
		name, found, err := u.Workflows.FindWorkflow(ctx, repo, branch, app, token)
		if err != nil {
			return "", err
		}
		if found {
			return name, nil
		}
		if attempt >= WorkflowDiscoveryAttempts || u.Poller.Now().Sub(start)+WorkflowDiscoveryBackoff > WorkflowDiscoveryTimeout {
			return "", apperrors.Internal("%v: no workflow for %s found in %s after %d attempts", ErrWorkflowNotFound, app, repo, attempt)
		}
		u.logger.Debug("Workflow file not found yet", zap.String("repo", repo), zap.Int("attempt", attempt))
		if err := u.Poller.Sleep(ctx, WorkflowDiscoveryBackoff); err != nil {
			return "", err
		}
	}
}
