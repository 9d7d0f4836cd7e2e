package envelope

import (
	"fmt"
	"strings"

	azarm "github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
)

// Provider namespaces.
const (
	NamespaceApp             = "Microsoft.App"
	NamespaceManagedIdentity = "Microsoft.ManagedIdentity"
	NamespaceRegistry        = "Microsoft.ContainerRegistry"
)

// ResourceID is a parsed ARM resource id.
type ResourceID struct {
	SubscriptionID string
	ResourceGroup  string
	Namespace      string
	Type           string
	Name           string
	Parent         *ResourceID
	raw            string
}

// ParseResourceID parses an ARM resource id.
func ParseResourceID(id string) (ResourceID, error) {
	parsed, err := azarm.ParseResourceID(id)
	if err != nil {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: %w", id, err)
	}
	return fromSDK(parsed, id), nil
}

func fromSDK(p *azarm.ResourceID, raw string) ResourceID {
	rid := ResourceID{
		SubscriptionID: p.SubscriptionID,
		ResourceGroup:  p.ResourceGroupName,
		Namespace:      p.ResourceType.Namespace,
		Type:           p.ResourceType.String(),
		Name:           p.Name,
		raw:            raw,
	}
	if p.Parent != nil && p.Parent.Name != "" && strings.EqualFold(p.Parent.ResourceType.Namespace, p.ResourceType.Namespace) {
		parent := fromSDK(p.Parent, p.Parent.String())
		rid.Parent = &parent
	}
	return rid
}

// String returns the id as it was parsed.
func (r ResourceID) String() string {
	return r.raw
}

// IsResourceID reports whether s looks like an ARM resource id rather than
// a bare name.
func IsResourceID(s string) bool {
	if !strings.HasPrefix(s, "/subscriptions/") {
		return false
	}
	_, err := azarm.ParseResourceID(s)
	return err == nil
}

// ResourceGroupID builds a resource group id.
func ResourceGroupID(sub, rg string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", sub, rg)
}

// EnvironmentID builds a managed environment resource id.
func EnvironmentID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/managedEnvironments/%s", sub, rg, NamespaceApp, name)
}

// ContainerAppID builds a container app resource id.
func ContainerAppID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/containerApps/%s", sub, rg, NamespaceApp, name)
}

// UserAssignedIdentityID builds a user-assigned identity resource id.
func UserAssignedIdentityID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/userAssignedIdentities/%s", sub, rg, NamespaceManagedIdentity, name)
}

// RegistryID builds a container registry resource id.
func RegistryID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/registries/%s", sub, rg, NamespaceRegistry, name)
}

// CertificateID builds a private certificate resource id.
func CertificateID(envID, name string) string {
	return envID + "/certificates/" + name
}

// ManagedCertificateID builds a managed certificate resource id.
func ManagedCertificateID(envID, name string) string {
	return envID + "/managedCertificates/" + name
}
