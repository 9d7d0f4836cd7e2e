package validate

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Microsoft.App resource types with location metadata.
const (
	ResourceTypeContainerApps       = "containerApps"
	ResourceTypeManagedEnvironments = "managedEnvironments"
	ResourceTypeJobs                = "jobs"
)

// ProviderGetter reads resource provider metadata.
// *armresources.ProvidersClient implements it.
type ProviderGetter interface {
	Get(ctx context.Context, resourceProviderNamespace string, options *armresources.ProvidersClientGetOptions) (armresources.ProvidersClientGetResponse, error)
}

// LocationChecker checks locations against the regions in which a
// Microsoft.App resource type is offered.
type LocationChecker struct {
	providers ProviderGetter
	logger    *zap.Logger
}

// NewLocationChecker creates a location checker.
func NewLocationChecker(providers ProviderGetter, logger *zap.Logger) *LocationChecker {
	return &LocationChecker{providers: providers, logger: logger}
}

// Supported lists the normalised locations of resourceType.
func (c *LocationChecker) Supported(ctx context.Context, resourceType string) ([]string, error) {
	resp, err := c.providers.Get(ctx, envelope.NamespaceApp, nil)
	if err != nil {
		return nil, apperrors.FromSDK(err)
	}
	for _, rt := range resp.ResourceTypes {
		if rt == nil || rt.ResourceType == nil || !strings.EqualFold(*rt.ResourceType, resourceType) {
			continue
		}
		out := make([]string, 0, len(rt.Locations))
		for _, l := range rt.Locations {
			if l != nil {
				out = append(out, NormalizeLocation(*l))
			}
		}
		return out, nil
	}
	return nil, apperrors.Internal("resource type %s/%s is not registered", envelope.NamespaceApp, resourceType)
}

// Check returns a ValidationError listing the supported locations when
// location is not one of them.
func (c *LocationChecker) Check(ctx context.Context, resourceType, location string) error {
	if err := Struct(struct {
		Location string `validate:"required,location"`
	}{location}); err != nil {
		return err
	}
	supported, err := c.Supported(ctx, resourceType)
	if err != nil {
		return err
	}
	want := NormalizeLocation(location)
	for _, l := range supported {
		if l == want {
			return nil
		}
	}
	c.logger.Debug("Location not supported",
		zap.String("resourceType", resourceType),
		zap.String("location", location),
	)
	return apperrors.Validation("location %q is not supported for %s/%s; supported locations: %s",
		location, envelope.NamespaceApp, resourceType, strings.Join(supported, ", "))
}
