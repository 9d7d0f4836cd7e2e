// Package reconciler turns sparse intents into complete Container Apps
// envelopes and drives the mutations to completion.
//
// The reconciler:
//  1. Resolves the intent (flags or a YAML document) against remote state
//  2. Builds a full PUT envelope or a minimal PATCH envelope
//  3. Issues the request and follows the long-running operation
//  4. Runs post-steps: AcrPull role assignments and registry identity patches
//
// Managers:
//   - Apps: create, update, delete and the app sub-resources (identity,
//     revisions, ingress, traffic, registries, secrets, dapr, auth, replicas)
//   - Jobs: create, update, start, stop, executions and job sub-resources
//   - Environments: environments, workload profiles, dapr components, storage
//   - Up: source or image to a running app in one call
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/certs"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/credcache"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/graph"
	"github.com/flavioaiello/containerapps/pkg/loader"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/registry"
)

// Defaults.
const (
	// DefaultImage is the quickstart image used when no image is given.
	DefaultImage = "mcr.microsoft.com/k8se/quickstart:latest"
	// DefaultTargetPort is the ingress port of the quickstart image.
	DefaultTargetPort int32 = 80
	// EnvironmentPollInterval is the wait between environment readiness checks.
	EnvironmentPollInterval = 5 * time.Second
	// AppPollInterval is the wait between app provisioning checks.
	AppPollInterval = 10 * time.Second
)

// Errors.
var (
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrNoIngress           = errors.New("ingress is not enabled")
	ErrUnsupported         = errors.New("capability is not available")
	ErrWorkflowNotFound    = errors.New("workflow not found")
)

// SourceBuilder turns a source directory into an image in a registry and
// returns the image reference.
type SourceBuilder interface {
	Build(ctx context.Context, req registry.BuildRequest) (string, error)
}

// LocalBuilder is a SourceBuilder that depends on host tooling.
type LocalBuilder interface {
	SourceBuilder
	Available(ctx context.Context) bool
}

// ComposeTranslator turns a compose file into app envelopes.
type ComposeTranslator interface {
	Translate(ctx context.Context, composeFile string) ([]*envelope.ContainerApp, error)
}

// WorkflowWatcher talks to the Git provider behind a repository
// deployment. It creates the service principal the workflow signs in with
// and reports workflow files and runs.
type WorkflowWatcher interface {
	CreateServicePrincipal(ctx context.Context, scopes []string) (ServicePrincipal, error)
	// FindWorkflow returns the workflow deploying app from branch; found
	// is false while the file does not exist yet.
	FindWorkflow(ctx context.Context, repo, branch, app, token string) (name string, found bool, err error)
	// LatestRun returns the newest run of workflow, or nil before the
	// first run is queued.
	LatestRun(ctx context.Context, repo, workflow, token string) (*WorkflowRun, error)
}

// RoleAssigner grants the AcrPull role. *identity.RoleAssigner implements it.
type RoleAssigner interface {
	AssignAcrPull(ctx context.Context, principalID, registryID string) error
}

// PrincipalResolver resolves a user-assigned identity to its principal.
// *identity.PrincipalResolver implements it.
type PrincipalResolver interface {
	PrincipalID(ctx context.Context, identityID string) (string, error)
}

// ResourceGroups checks and creates resource groups.
// *armresources.ResourceGroupsClient implements it.
type ResourceGroups interface {
	CheckExistence(ctx context.Context, resourceGroupName string, options *armresources.ResourceGroupsClientCheckExistenceOptions) (armresources.ResourceGroupsClientCheckExistenceResponse, error)
	CreateOrUpdate(ctx context.Context, resourceGroupName string, parameters armresources.ResourceGroup, options *armresources.ResourceGroupsClientCreateOrUpdateOptions) (armresources.ResourceGroupsClientCreateOrUpdateResponse, error)
}

// Discovery finds registries and environments across the subscription.
// *graph.Client implements it.
type Discovery interface {
	registry.Finder
	FindEnvironmentsByLogAnalytics(ctx context.Context, customerID, location string) ([]graph.Resource, error)
}

// LocationChecker validates a location for a Microsoft.App resource type.
// *validate.LocationChecker implements it.
type LocationChecker interface {
	Check(ctx context.Context, resourceType, location string) error
	Supported(ctx context.Context, resourceType string) ([]string, error)
}

// Confirm asks the user a yes/no question.
type Confirm func(question string) bool

// Deps are the collaborators shared by the managers. Clients and Poller
// are required; the rest degrade gracefully when nil.
type Deps struct {
	Clients      *clients.Clients
	Poller       *lro.Poller
	Certificates *certs.Manager
	Registries   *registry.Resolver
	Discovery    Discovery
	Roles        RoleAssigner
	Principals   PrincipalResolver
	Groups       ResourceGroups
	Locations    LocationChecker
	Loader       *loader.Loader
	Credentials  *credcache.Store
	// Builders are tried in order; a LocalBuilder that is not available
	// is skipped.
	Builders  []SourceBuilder
	Compose   ComposeTranslator
	Workflows WorkflowWatcher
	Confirm   Confirm
}

// base carries the dependencies every manager uses.
type base struct {
	Deps
	subscriptionID string
	logger         *zap.Logger
}

// Reconciler groups the resource managers.
type Reconciler struct {
	Apps         *Apps
	Jobs         *Jobs
	Environments *Environments
	Up           *Up
}

// New creates a Reconciler.
func New(deps Deps, logger *zap.Logger) (*Reconciler, error) {
	if deps.Clients == nil || deps.Poller == nil {
		return nil, fmt.Errorf("%w: clients and poller are required", ErrUnsupported)
	}
	if deps.Loader == nil {
		deps.Loader = loader.New(logger)
	}
	if deps.Certificates == nil {
		deps.Certificates = certs.NewManager(deps.Clients, logger, certs.WithConfirm(certs.Confirm(deps.Confirm)))
	}
	if deps.Registries == nil && deps.Discovery != nil {
		deps.Registries = registry.NewResolver(deps.Clients.Registries, deps.Discovery, logger)
	}

	b := &base{
		Deps:           deps,
		subscriptionID: deps.Clients.Apps.SubscriptionID(),
		logger:         logger,
	}
	apps := &Apps{base: b}
	envs := &Environments{base: b}
	return &Reconciler{
		Apps:         apps,
		Jobs:         &Jobs{base: b},
		Environments: envs,
		Up:           &Up{base: b, apps: apps, envs: envs},
	}, nil
}

// Compose rejects compose translation when no translator is configured.
func (r *Reconciler) Compose(ctx context.Context, composeFile string) ([]*envelope.ContainerApp, error) {
	if r.Apps.Compose == nil {
		return nil, apperrors.Validation("%v: compose file translation is not supported by this build", ErrUnsupported)
	}
	return r.Apps.Compose.Translate(ctx, composeFile)
}

// environmentRef resolves a name or id to (resource group, name, id).
func (b *base) environmentRef(rg, nameOrID string) (string, string, string, error) {
	if !envelope.IsResourceID(nameOrID) {
		if strings.HasPrefix(nameOrID, "/") {
			return "", "", "", apperrors.Validation("invalid environment id %q", nameOrID)
		}
		return rg, nameOrID, envelope.EnvironmentID(b.subscriptionID, rg, nameOrID), nil
	}
	rid, err := envelope.ParseResourceID(nameOrID)
	if err != nil {
		return "", "", "", apperrors.Validation("invalid environment id %q: %v", nameOrID, err)
	}
	envRG := rid.ResourceGroup
	if envRG == "" {
		envRG = rg
	}
	return envRG, rid.Name, nameOrID, nil
}

// readyEnvironment shows the environment and, unless noWait, waits while
// it is still provisioning. A missing environment is a ValidationError.
func (b *base) readyEnvironment(ctx context.Context, rg, nameOrID string, noWait bool) (*envelope.ManagedEnvironment, string, error) {
	envRG, name, id, err := b.environmentRef(rg, nameOrID)
	if err != nil {
		return nil, "", err
	}
	for {
		env, found, err := b.Clients.Environments.Show(ctx, envRG, name)
		if err != nil {
			return nil, "", err
		}
		if !found {
			return nil, "", apperrors.Validation("%v: the environment '%s' does not exist, specify a valid environment", ErrEnvironmentNotFound, nameOrID)
		}
		if noWait || !isProvisioning(env.ProvisioningState()) {
			if env.ID != "" {
				id = env.ID
			}
			return env, id, nil
		}
		b.logger.Info("Waiting for environment provisioning to finish",
			zap.String("environment", name),
			zap.String("state", env.ProvisioningState()),
		)
		if err := b.Poller.Sleep(ctx, EnvironmentPollInterval); err != nil {
			return nil, "", err
		}
	}
}

func isProvisioning(state string) bool {
	switch strings.ToLower(state) {
	case "inprogress", "updating", "running":
		return true
	}
	return false
}

// checkLocation validates location when a checker is configured.
func (b *base) checkLocation(ctx context.Context, resourceType, location string) error {
	if b.Locations == nil || location == "" {
		return nil
	}
	return b.Locations.Check(ctx, resourceType, location)
}

// registryID looks up the resource id of an ACR server.
func (b *base) registryID(ctx context.Context, server string) (string, error) {
	if b.Discovery == nil {
		return "", fmt.Errorf("%w: registry discovery is not configured", ErrUnsupported)
	}
	name := registry.NameFromServer(server)
	found, err := b.Discovery.FindRegistry(ctx, name)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", apperrors.NotFound("container registry %s was not found in the subscription", name)
	}
	return found.ID, nil
}

// assignAcrPull grants principalID pull access on the registry behind
// server.
func (b *base) assignAcrPull(ctx context.Context, server, principalID string) error {
	if b.Roles == nil {
		return fmt.Errorf("%w: role assignment is not configured", ErrUnsupported)
	}
	id, err := b.registryID(ctx, server)
	if err != nil {
		return err
	}
	return b.Roles.AssignAcrPull(ctx, principalID, id)
}

// assignIdentityAcrPull grants the user-assigned identity identityID pull
// access on server. Failures are logged; the caller continues.
func (b *base) assignIdentityAcrPull(ctx context.Context, server, identityID string) {
	if b.Principals == nil {
		b.logger.Warn("Skipping AcrPull role assignment, identity lookup is not configured", zap.String("identity", identityID))
		return
	}
	principal, err := b.Principals.PrincipalID(ctx, identityID)
	if err == nil {
		err = b.assignAcrPull(ctx, server, principal)
	}
	if err != nil {
		b.logger.Warn("Failed to assign the AcrPull role to the registry identity",
			zap.String("identity", identityID),
			zap.String("registry", server),
			zap.Error(err),
		)
	}
}
