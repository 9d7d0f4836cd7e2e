package clients

import (
	"context"
	"net/http"

	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Fixed child names.
const (
	sourceControlName = "current"
	// AuthConfigName is the only auth config an app carries.
	AuthConfigName = "current"
)

// SourceControls records the repository configuration of an app.
type SourceControls struct {
	r resource[envelope.SourceControl]
}

// CreateOrUpdate PUTs the source control and, on 201, polls the resource
// state. This is the only caller of the legacy resource-state protocol.
func (c *SourceControls) CreateOrUpdate(ctx context.Context, rg, app string, sc *envelope.SourceControl, noWait bool) (*envelope.SourceControl, error) {
	u := c.r.url(c.r.itemPath(rg, app, sourceControlName))
	resp, err := c.r.doer.Do(ctx, http.MethodPut, u, sc)
	if err != nil {
		return nil, err
	}
	if noWait || resp.StatusCode != http.StatusCreated {
		return decode[envelope.SourceControl](resp)
	}
	final, err := c.r.poller.PollResourceState(ctx, u, false)
	if err != nil {
		return nil, err
	}
	return decode[envelope.SourceControl](final)
}

// Delete removes the source control; on 202 the resource state is polled
// until the resource disappears.
func (c *SourceControls) Delete(ctx context.Context, rg, app string, noWait bool) error {
	u := c.r.url(c.r.itemPath(rg, app, sourceControlName))
	resp, err := c.r.doer.Do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	if noWait || resp.StatusCode != http.StatusAccepted {
		return nil
	}
	_, err = c.r.poller.PollResourceState(ctx, u, true)
	return err
}

// Show returns the source control of an app.
func (c *SourceControls) Show(ctx context.Context, rg, app string) (*envelope.SourceControl, bool, error) {
	return c.r.show(ctx, rg, app, sourceControlName)
}

// DaprComponents manages environment dapr components.
type DaprComponents struct {
	r resource[envelope.DaprComponent]
}

// CreateOrUpdate PUTs a component.
func (c *DaprComponents) CreateOrUpdate(ctx context.Context, rg, env, name string, comp *envelope.DaprComponent) (*envelope.DaprComponent, error) {
	return c.r.createOrUpdate(ctx, rg, comp, false, env, name)
}

// Delete deletes a component.
func (c *DaprComponents) Delete(ctx context.Context, rg, env, name string) error {
	return c.r.delete(ctx, rg, false, env, name)
}

// Show returns a component.
func (c *DaprComponents) Show(ctx context.Context, rg, env, name string) (*envelope.DaprComponent, bool, error) {
	return c.r.show(ctx, rg, env, name)
}

// List lists the components of an environment.
func (c *DaprComponents) List(ctx context.Context, rg, env string) ([]envelope.DaprComponent, error) {
	return c.r.list(ctx, rg, env)
}

// Storages manages environment Azure Files storages.
type Storages struct {
	r resource[envelope.ManagedEnvironmentStorage]
}

// CreateOrUpdate PUTs a storage.
func (c *Storages) CreateOrUpdate(ctx context.Context, rg, env, name string, st *envelope.ManagedEnvironmentStorage) (*envelope.ManagedEnvironmentStorage, error) {
	return c.r.createOrUpdate(ctx, rg, st, false, env, name)
}

// Delete deletes a storage.
func (c *Storages) Delete(ctx context.Context, rg, env, name string) error {
	return c.r.delete(ctx, rg, false, env, name)
}

// Show returns a storage.
func (c *Storages) Show(ctx context.Context, rg, env, name string) (*envelope.ManagedEnvironmentStorage, bool, error) {
	return c.r.show(ctx, rg, env, name)
}

// List lists the storages of an environment.
func (c *Storages) List(ctx context.Context, rg, env string) ([]envelope.ManagedEnvironmentStorage, error) {
	return c.r.list(ctx, rg, env)
}

// AuthConfigs manages the built-in authentication of an app.
type AuthConfigs struct {
	r resource[envelope.AuthConfig]
}

// CreateOrUpdate PUTs an auth config.
func (c *AuthConfigs) CreateOrUpdate(ctx context.Context, rg, app, name string, cfg *envelope.AuthConfig) (*envelope.AuthConfig, error) {
	return c.r.createOrUpdate(ctx, rg, cfg, false, app, name)
}

// Delete deletes an auth config.
func (c *AuthConfigs) Delete(ctx context.Context, rg, app, name string) error {
	return c.r.delete(ctx, rg, false, app, name)
}

// Show returns an auth config.
func (c *AuthConfigs) Show(ctx context.Context, rg, app, name string) (*envelope.AuthConfig, bool, error) {
	return c.r.show(ctx, rg, app, name)
}

// List lists the auth configs of an app.
func (c *AuthConfigs) List(ctx context.Context, rg, app string) ([]envelope.AuthConfig, error) {
	return c.r.list(ctx, rg, app)
}

// WorkloadProfiles reads workload profile catalogs and states.
type WorkloadProfiles struct {
	*base
}

// ListSupported lists the profile types offered in location.
func (c *WorkloadProfiles) ListSupported(ctx context.Context, location string) ([]envelope.AvailableWorkloadProfile, error) {
	path := c.subPath(envelope.NamespaceApp, segmentLocations, location, "availableManagedEnvironmentsWorkloadProfileTypes")
	return list[envelope.AvailableWorkloadProfile](ctx, c.base, c.url(path))
}

// ListStates lists the node counts of an environment's profiles.
func (c *WorkloadProfiles) ListStates(ctx context.Context, rg, env string) ([]envelope.WorkloadProfileState, error) {
	path := c.rgPath(rg, collectionManagedEnvironments, env, "workloadProfileStates")
	return list[envelope.WorkloadProfileState](ctx, c.base, c.url(path))
}

// Subscription reads subscription-scoped Microsoft.App data.
type Subscription struct {
	*base
}

// GetCustomDomainVerificationID returns the TXT record value proving
// domain ownership for the subscription.
func (c *Subscription) GetCustomDomainVerificationID(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, c.subPath(envelope.NamespaceApp, "getCustomDomainVerificationId"), nil)
	if err != nil {
		return "", err
	}
	var id string
	if err := resp.Decode(&id); err != nil {
		return "", err
	}
	return id, nil
}

// ListUsages lists the Microsoft.App quota usage in location.
func (c *Subscription) ListUsages(ctx context.Context, location string) ([]envelope.Usage, error) {
	path := c.subPath(envelope.NamespaceApp, segmentLocations, location, "usages")
	return list[envelope.Usage](ctx, c.base, c.url(path))
}
