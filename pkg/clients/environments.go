package clients

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/lro"
)

// Environment operation URL markers.
const (
	operationStatusesMarker = "managedEnvironmentOperationStatuses"
	operationResultsMarker  = "managedEnvironmentOperationResults"
)

// ManagedEnvironments manages Microsoft.App/managedEnvironments and their
// certificates.
type ManagedEnvironments struct {
	resource[envelope.ManagedEnvironment]
	certificates        resource[envelope.Certificate]
	managedCertificates resource[envelope.ManagedCertificate]
}

func newManagedEnvironments(b *base) *ManagedEnvironments {
	return &ManagedEnvironments{
		resource:            newResource[envelope.ManagedEnvironment](b, collectionManagedEnvironments),
		certificates:        newResource[envelope.Certificate](b, collectionManagedEnvironments, "certificates"),
		managedCertificates: newResource[envelope.ManagedCertificate](b, collectionManagedEnvironments, "managedCertificates"),
	}
}

// CreateOrUpdate PUTs the environment.
func (c *ManagedEnvironments) CreateOrUpdate(ctx context.Context, rg, name string, env *envelope.ManagedEnvironment, noWait bool) (*envelope.ManagedEnvironment, error) {
	return c.createOrUpdate(ctx, rg, env, noWait, name)
}

// Update PATCHes the environment. The returned location decides the
// protocol: operation statuses are polled as async operations, operation
// results with the location protocol.
func (c *ManagedEnvironments) Update(ctx context.Context, rg, name string, env *envelope.ManagedEnvironment, noWait bool) (*envelope.ManagedEnvironment, error) {
	path := c.itemPath(rg, name)
	resourceURL := c.url(path)
	resp, err := c.doer.Do(ctx, http.MethodPatch, resourceURL, env)
	if err != nil {
		return nil, err
	}
	if noWait || resp.StatusCode != http.StatusAccepted {
		return decode[envelope.ManagedEnvironment](resp)
	}
	operationURL, err := lro.LocationURL(resp)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(operationURL, operationStatusesMarker):
		final, err := c.poller.PollStatus(ctx, operationURL, resourceURL)
		if err != nil {
			return nil, err
		}
		return decode[envelope.ManagedEnvironment](final)
	case strings.Contains(operationURL, operationResultsMarker):
		final, err := c.poller.PollResult(ctx, operationURL)
		if err != nil {
			return nil, err
		}
		if final == nil {
			return nil, apperrors.NotFound("managed environment %q was not found after update", name)
		}
		return decode[envelope.ManagedEnvironment](final)
	default:
		c.logger.Debug("Unexpected environment operation URL", zap.String("url", operationURL))
		return nil, apperrors.Internal("invalid operation URL: %q", operationURL)
	}
}

// Delete deletes the environment.
func (c *ManagedEnvironments) Delete(ctx context.Context, rg, name string, noWait bool) error {
	return c.delete(ctx, rg, noWait, name)
}

// Show returns the environment; found is false on 404.
func (c *ManagedEnvironments) Show(ctx context.Context, rg, name string) (*envelope.ManagedEnvironment, bool, error) {
	return c.show(ctx, rg, name)
}

// ListBySubscription lists every environment of the subscription.
func (c *ManagedEnvironments) ListBySubscription(ctx context.Context) ([]envelope.ManagedEnvironment, error) {
	return c.listBySubscription(ctx)
}

// ListByResourceGroup lists the environments of a resource group.
func (c *ManagedEnvironments) ListByResourceGroup(ctx context.Context, rg string) ([]envelope.ManagedEnvironment, error) {
	return c.list(ctx, rg)
}

// ListCertificates lists the private certificates.
func (c *ManagedEnvironments) ListCertificates(ctx context.Context, rg, env string) ([]envelope.Certificate, error) {
	return c.certificates.list(ctx, rg, env)
}

// ShowCertificate returns a private certificate.
func (c *ManagedEnvironments) ShowCertificate(ctx context.Context, rg, env, name string) (*envelope.Certificate, bool, error) {
	return c.certificates.show(ctx, rg, env, name)
}

// CreateOrUpdateCertificate uploads a private certificate.
func (c *ManagedEnvironments) CreateOrUpdateCertificate(ctx context.Context, rg, env, name string, cert *envelope.Certificate) (*envelope.Certificate, error) {
	return c.certificates.createOrUpdate(ctx, rg, cert, false, env, name)
}

// DeleteCertificate deletes a private certificate.
func (c *ManagedEnvironments) DeleteCertificate(ctx context.Context, rg, env, name string) error {
	return c.certificates.delete(ctx, rg, false, env, name)
}

// ListManagedCertificates lists the managed certificates.
func (c *ManagedEnvironments) ListManagedCertificates(ctx context.Context, rg, env string) ([]envelope.ManagedCertificate, error) {
	return c.managedCertificates.list(ctx, rg, env)
}

// ShowManagedCertificate returns a managed certificate.
func (c *ManagedEnvironments) ShowManagedCertificate(ctx context.Context, rg, env, name string) (*envelope.ManagedCertificate, bool, error) {
	return c.managedCertificates.show(ctx, rg, env, name)
}

// CreateManagedCertificate requests a managed certificate and, on 201,
// polls it until issuance ends. For TXT validation the validation token
// is reported once while polling. noWait skips polling except for TXT,
// whose token the caller cannot obtain otherwise.
func (c *ManagedEnvironments) CreateManagedCertificate(ctx context.Context, rg, env, name string, cert *envelope.ManagedCertificate, noWait bool) (*envelope.ManagedCertificate, error) {
	certURL := c.url(c.managedCertificates.itemPath(rg, env, name))
	isTXT := cert.Properties != nil && strings.EqualFold(cert.Properties.DomainControlValidation, envelope.ValidationTXT)

	resp, err := c.doer.Do(ctx, http.MethodPut, certURL, cert)
	if err != nil {
		return nil, err
	}
	if (noWait && !isTXT) || resp.StatusCode != http.StatusCreated {
		return decode[envelope.ManagedCertificate](resp)
	}
	final, err := c.poller.PollManagedCertificate(ctx, certURL, isTXT)
	if err != nil {
		return nil, err
	}
	return decode[envelope.ManagedCertificate](final)
}

// DeleteManagedCertificate deletes a managed certificate.
func (c *ManagedEnvironments) DeleteManagedCertificate(ctx context.Context, rg, env, name string) error {
	return c.managedCertificates.delete(ctx, rg, false, env, name)
}

// CheckNameAvailability checks a certificate name inside the environment.
func (c *ManagedEnvironments) CheckNameAvailability(ctx context.Context, rg, env string, req envelope.CheckNameAvailabilityRequest) (*envelope.CheckNameAvailabilityResponse, error) {
	resp, err := c.post(ctx, c.itemPath(rg, env)+"/checkNameAvailability", req)
	if err != nil {
		return nil, err
	}
	return decode[envelope.CheckNameAvailabilityResponse](resp)
}

// GetAuthToken returns an environment-scoped token.
func (c *ManagedEnvironments) GetAuthToken(ctx context.Context, rg, name string) (*envelope.AuthToken, error) {
	resp, err := c.post(ctx, c.itemPath(rg, name)+"/getAuthToken", nil)
	if err != nil {
		return nil, err
	}
	return decode[envelope.AuthToken](resp)
}

// ListUsages lists the environment quota usage.
func (c *ManagedEnvironments) ListUsages(ctx context.Context, rg, name string) ([]envelope.Usage, error) {
	return list[envelope.Usage](ctx, c.base, c.url(c.itemPath(rg, name)+"/usages"))
}
