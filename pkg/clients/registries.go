package clients

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/arm"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/lro"
)

// Container registry API versions.
const (
	RegistryAPIVersion    = "2023-07-01"
	RegistryRunAPIVersion = "2019-06-01-preview"
)

// Registries talks to Microsoft.ContainerRegistry for the up flow: name
// checks, creation, admin credentials and task runs.
type Registries struct {
	*base
}

func (c *Registries) registryPath(rg, name string) string {
	return "/" + segmentSubscriptions + "/" + c.subscriptionID + "/" + segmentResourceGroups + "/" + url.PathEscape(rg) +
		"/" + segmentProviders + "/" + envelope.NamespaceRegistry + "/registries/" + url.PathEscape(name)
}

func (c *Registries) registryURL(rg, name, suffix, apiVersion string) string {
	return arm.ResourceURL(c.endpoint, c.registryPath(rg, name)+suffix, apiVersion)
}

// CheckNameAvailability reports whether a registry name is free.
func (c *Registries) CheckNameAvailability(ctx context.Context, name string) (*envelope.CheckNameAvailabilityResponse, error) {
	u := arm.ResourceURL(c.endpoint, c.subPath(envelope.NamespaceRegistry, "checkNameAvailability"), RegistryAPIVersion)
	resp, err := c.doer.Do(ctx, http.MethodPost, u, envelope.RegistryNameCheckRequest{Name: name, Type: envelope.TypeRegistry})
	if err != nil {
		return nil, err
	}
	return decode[envelope.CheckNameAvailabilityResponse](resp)
}

// Create creates a registry and waits for provisioning.
func (c *Registries) Create(ctx context.Context, rg string, reg *envelope.Registry) (*envelope.Registry, error) {
	resp, err := c.putURL(ctx, c.registryURL(rg, reg.Name, "", RegistryAPIVersion), reg, false)
	if err != nil {
		return nil, err
	}
	return decode[envelope.Registry](resp)
}

// Show returns a registry; found is false on 404.
func (c *Registries) Show(ctx context.Context, rg, name string) (*envelope.Registry, bool, error) {
	resp, err := c.doer.Do(ctx, http.MethodGet, c.registryURL(rg, name, "", RegistryAPIVersion), nil)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	r, err := decode[envelope.Registry](resp)
	return r, r != nil, err
}

// EnableAdminUser turns on the admin user so credentials can be listed.
func (c *Registries) EnableAdminUser(ctx context.Context, rg, name string) error {
	body := &envelope.Registry{Properties: &envelope.RegistryProperties{AdminUserEnabled: envelope.Ptr(true)}}
	_, err := c.doer.Do(ctx, http.MethodPatch, c.registryURL(rg, name, "", RegistryAPIVersion), body)
	return err
}

// ListCredentials returns the admin credentials.
func (c *Registries) ListCredentials(ctx context.Context, rg, name string) (*envelope.RegistryAdminCredentials, error) {
	resp, err := c.doer.Do(ctx, http.MethodPost, c.registryURL(rg, name, "/listCredentials", RegistryAPIVersion), nil)
	if err != nil {
		return nil, err
	}
	return decode[envelope.RegistryAdminCredentials](resp)
}

// GetBuildSourceUploadURL returns a writable location for a build context.
func (c *Registries) GetBuildSourceUploadURL(ctx context.Context, rg, name string) (*envelope.SourceUploadDefinition, error) {
	resp, err := c.doer.Do(ctx, http.MethodPost, c.registryURL(rg, name, "/listBuildSourceUploadUrl", RegistryRunAPIVersion), nil)
	if err != nil {
		return nil, err
	}
	return decode[envelope.SourceUploadDefinition](resp)
}

// ScheduleRun queues a task run and returns it once accepted.
func (c *Registries) ScheduleRun(ctx context.Context, rg, name string, req *envelope.EncodedTaskRunRequest) (*envelope.Run, error) {
	resp, err := c.doer.Do(ctx, http.MethodPost, c.registryURL(rg, name, "/scheduleRun", RegistryRunAPIVersion), req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusAccepted && len(resp.Body) == 0 {
		locationURL, err := lro.LocationURL(resp)
		if err != nil {
			return nil, err
		}
		final, err := c.poller.PollResult(ctx, locationURL)
		if err != nil {
			return nil, err
		}
		return decode[envelope.Run](final)
	}
	return decode[envelope.Run](resp)
}

// WaitRun polls a run until it reaches a terminal status. Failed runs
// surface as RemoteOperationFailed.
func (c *Registries) WaitRun(ctx context.Context, rg, name, runID string) (*envelope.Run, error) {
	u := c.registryURL(rg, name, "/runs/"+url.PathEscape(runID), RegistryRunAPIVersion)
	final, err := c.poller.PollUntil(ctx, u, func(resp *arm.Response) (bool, error) {
		run, err := decode[envelope.Run](resp)
		if err != nil || run == nil {
			return false, err
		}
		switch run.Status() {
		case envelope.RunQueued, envelope.RunStarted, envelope.RunRunning:
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	run, err := decode[envelope.Run](final)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(run.Status(), envelope.RunSucceeded) {
		msg := "registry run " + runID + " ended with status " + run.Status()
		if run.Properties != nil && run.Properties.RunErrorMessage != "" {
			msg += ": " + run.Properties.RunErrorMessage
		}
		return run, apperrors.RemoteFailed("RegistryRunFailed", msg)
	}
	return run, nil
}
