package clients

import (
	"context"
	"net/url"

	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Collections.
const (
	collectionContainerApps       = "containerApps"
	collectionManagedEnvironments = "managedEnvironments"
	collectionJobs                = "jobs"
	collectionRevisions           = "revisions"
	collectionReplicas            = "replicas"
)

// ContainerApps manages Microsoft.App/containerApps.
type ContainerApps struct {
	resource[envelope.ContainerApp]
}

func newContainerApps(b *base) *ContainerApps {
	return &ContainerApps{resource: newResource[envelope.ContainerApp](b, collectionContainerApps)}
}

// CreateOrUpdate PUTs the full envelope.
func (c *ContainerApps) CreateOrUpdate(ctx context.Context, rg, name string, app *envelope.ContainerApp, noWait bool) (*envelope.ContainerApp, error) {
	return c.createOrUpdate(ctx, rg, app, noWait, name)
}

// Update PATCHes the app. body is usually *envelope.ContainerApp; a pruned
// document map is accepted for full-replace updates.
func (c *ContainerApps) Update(ctx context.Context, rg, name string, body any, noWait bool) (*envelope.ContainerApp, error) {
	return c.update(ctx, rg, body, noWait, name)
}

// Delete deletes the app.
func (c *ContainerApps) Delete(ctx context.Context, rg, name string, noWait bool) error {
	return c.delete(ctx, rg, noWait, name)
}

// Show returns the app; found is false on 404.
func (c *ContainerApps) Show(ctx context.Context, rg, name string) (*envelope.ContainerApp, bool, error) {
	return c.show(ctx, rg, name)
}

// ListBySubscription lists every app of the subscription.
func (c *ContainerApps) ListBySubscription(ctx context.Context) ([]envelope.ContainerApp, error) {
	return c.listBySubscription(ctx)
}

// ListByResourceGroup lists the apps of a resource group.
func (c *ContainerApps) ListByResourceGroup(ctx context.Context, rg string) ([]envelope.ContainerApp, error) {
	return c.list(ctx, rg)
}

// ListSecrets returns the secrets with values.
func (c *ContainerApps) ListSecrets(ctx context.Context, rg, name string) ([]envelope.ContainerAppSecret, error) {
	resp, err := c.post(ctx, c.itemPath(rg, name)+"/listSecrets", nil)
	if err != nil {
		return nil, err
	}
	page, err := decode[envelope.List[envelope.ContainerAppSecret]](resp)
	if err != nil || page == nil {
		return []envelope.ContainerAppSecret{}, err
	}
	return page.Value, nil
}

func (c *ContainerApps) revisionPath(rg, app string, segments ...string) string {
	p := c.itemPath(rg, app) + "/" + collectionRevisions
	for _, s := range segments {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// ListRevisions lists the revisions of an app.
func (c *ContainerApps) ListRevisions(ctx context.Context, rg, app string) ([]envelope.Revision, error) {
	return list[envelope.Revision](ctx, c.base, c.url(c.revisionPath(rg, app)))
}

// ShowRevision returns one revision.
func (c *ContainerApps) ShowRevision(ctx context.Context, rg, app, revision string) (*envelope.Revision, bool, error) {
	resp, found, err := c.get(ctx, c.revisionPath(rg, app, revision))
	if err != nil || !found {
		return nil, found, err
	}
	rev, err := decode[envelope.Revision](resp)
	return rev, rev != nil, err
}

func (c *ContainerApps) revisionAction(ctx context.Context, rg, app, revision, action string) error {
	_, err := c.post(ctx, c.revisionPath(rg, app, revision)+"/"+action, nil)
	return err
}

// RestartRevision restarts a revision.
func (c *ContainerApps) RestartRevision(ctx context.Context, rg, app, revision string) error {
	return c.revisionAction(ctx, rg, app, revision, "restart")
}

// ActivateRevision activates a revision.
func (c *ContainerApps) ActivateRevision(ctx context.Context, rg, app, revision string) error {
	return c.revisionAction(ctx, rg, app, revision, "activate")
}

// DeactivateRevision deactivates a revision.
func (c *ContainerApps) DeactivateRevision(ctx context.Context, rg, app, revision string) error {
	return c.revisionAction(ctx, rg, app, revision, "deactivate")
}

// ListReplicas lists the replicas of a revision.
func (c *ContainerApps) ListReplicas(ctx context.Context, rg, app, revision string) ([]envelope.Replica, error) {
	return list[envelope.Replica](ctx, c.base, c.url(c.revisionPath(rg, app, revision)+"/"+collectionReplicas))
}

// ShowReplica returns one replica.
func (c *ContainerApps) ShowReplica(ctx context.Context, rg, app, revision, replica string) (*envelope.Replica, bool, error) {
	resp, found, err := c.get(ctx, c.revisionPath(rg, app, revision)+"/"+collectionReplicas+"/"+url.PathEscape(replica))
	if err != nil || !found {
		return nil, found, err
	}
	r, err := decode[envelope.Replica](resp)
	return r, r != nil, err
}

// GetAuthToken returns a token for the log stream and exec endpoints.
func (c *ContainerApps) GetAuthToken(ctx context.Context, rg, name string) (*envelope.AuthToken, error) {
	resp, err := c.post(ctx, c.itemPath(rg, name)+"/getAuthToken", nil)
	if err != nil {
		return nil, err
	}
	return decode[envelope.AuthToken](resp)
}

// ListCustomHostnameAnalysis checks DNS records for hostname.
func (c *ContainerApps) ListCustomHostnameAnalysis(ctx context.Context, rg, name, hostname string) (*envelope.CustomHostnameAnalysis, error) {
	resp, err := c.post(ctx, c.itemPath(rg, name)+"/listCustomHostNameAnalysis", nil, "customHostname", hostname)
	if err != nil {
		return nil, err
	}
	return decode[envelope.CustomHostnameAnalysis](resp)
}
