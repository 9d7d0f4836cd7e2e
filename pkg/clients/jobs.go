package clients

import (
	"context"
	"net/url"

	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Jobs manages Microsoft.App/jobs and their executions.
type Jobs struct {
	resource[envelope.Job]
}

func newJobs(b *base) *Jobs {
	return &Jobs{resource: newResource[envelope.Job](b, collectionJobs)}
}

// CreateOrUpdate PUTs the job.
func (c *Jobs) CreateOrUpdate(ctx context.Context, rg, name string, job *envelope.Job, noWait bool) (*envelope.Job, error) {
	return c.createOrUpdate(ctx, rg, job, noWait, name)
}

// Update PATCHes the job. body is a *envelope.Job or a pruned document.
func (c *Jobs) Update(ctx context.Context, rg, name string, body any, noWait bool) (*envelope.Job, error) {
	return c.update(ctx, rg, body, noWait, name)
}

// Delete deletes the job.
func (c *Jobs) Delete(ctx context.Context, rg, name string, noWait bool) error {
	return c.delete(ctx, rg, noWait, name)
}

// Show returns the job; found is false on 404.
func (c *Jobs) Show(ctx context.Context, rg, name string) (*envelope.Job, bool, error) {
	return c.show(ctx, rg, name)
}

// ListBySubscription lists every job of the subscription.
func (c *Jobs) ListBySubscription(ctx context.Context) ([]envelope.Job, error) {
	return c.listBySubscription(ctx)
}

// ListByResourceGroup lists the jobs of a resource group.
func (c *Jobs) ListByResourceGroup(ctx context.Context, rg string) ([]envelope.Job, error) {
	return c.list(ctx, rg)
}

// Start starts an execution. template is optional and overrides the
// containers for this run only.
func (c *Jobs) Start(ctx context.Context, rg, name string, template *envelope.JobExecutionTemplate) (*envelope.JobExecutionBase, error) {
	var body any
	if template != nil {
		body = template
	}
	resp, err := c.post(ctx, c.itemPath(rg, name)+"/start", body)
	if err != nil {
		return nil, err
	}
	return decode[envelope.JobExecutionBase](resp)
}

// Stop stops executions. With no names every running execution stops; a
// single name is addressed in the path; several names are sent in the
// body.
func (c *Jobs) Stop(ctx context.Context, rg, name string, executions ...string) error {
	path := c.itemPath(rg, name) + "/stop"
	var body any
	switch len(executions) {
	case 0:
	case 1:
		path += "/" + url.PathEscape(executions[0])
	default:
		body = envelope.JobStopRequest{JobExecutionName: executions}
	}
	_, err := c.post(ctx, path, body)
	return err
}

// ListExecutions lists the executions of a job.
func (c *Jobs) ListExecutions(ctx context.Context, rg, name string) ([]envelope.JobExecution, error) {
	return list[envelope.JobExecution](ctx, c.base, c.url(c.itemPath(rg, name)+"/executions"))
}

// ShowExecution returns one execution.
func (c *Jobs) ShowExecution(ctx context.Context, rg, name, execution string) (*envelope.JobExecution, bool, error) {
	resp, found, err := c.get(ctx, c.itemPath(rg, name)+"/executions/"+url.PathEscape(execution))
	if err != nil || !found {
		return nil, found, err
	}
	e, err := decode[envelope.JobExecution](resp)
	return e, e != nil, err
}

// ListSecrets returns the job secrets with values.
func (c *Jobs) ListSecrets(ctx context.Context, rg, name string) ([]envelope.ContainerAppSecret, error) {
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
