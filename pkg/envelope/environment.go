package envelope

import (
	"encoding/json"
	"strings"
)

// Log destinations.
const (
	LogsLogAnalytics = "log-analytics"
	LogsAzureMonitor = "azure-monitor"
	LogsNone         = "none"
)

// Workload profile defaults.
const (
	WorkloadProfileConsumption = "Consumption"
)

// ManagedEnvironment is a Microsoft.App/managedEnvironments resource.
type ManagedEnvironment struct {
	ID         string                        `json:"id,omitempty"`
	Name       string                        `json:"name,omitempty"`
	Type       string                        `json:"type,omitempty"`
	Location   string                        `json:"location,omitempty"`
	Tags       map[string]string             `json:"tags,omitzero"`
	Kind       string                        `json:"kind,omitempty"`
	SystemData json.RawMessage               `json:"systemData,omitempty"`
	Properties *ManagedEnvironmentProperties `json:"properties,omitempty"`
}

// ManagedEnvironmentProperties are the environment properties.
type ManagedEnvironmentProperties struct {
	ProvisioningState           string                         `json:"provisioningState,omitempty"`
	DaprAIInstrumentationKey    string                         `json:"daprAIInstrumentationKey,omitempty"`
	DaprAIConnectionString      string                         `json:"daprAIConnectionString,omitempty"`
	VnetConfiguration           *VnetConfiguration             `json:"vnetConfiguration,omitempty"`
	DeploymentErrors            string                         `json:"deploymentErrors,omitempty"`
	DefaultDomain               string                         `json:"defaultDomain,omitempty"`
	StaticIP                    string                         `json:"staticIp,omitempty"`
	AppLogsConfiguration        Nullable[AppLogsConfiguration] `json:"appLogsConfiguration,omitzero"`
	ZoneRedundant               *bool                          `json:"zoneRedundant,omitempty"`
	CustomDomainConfiguration   *CustomDomainConfiguration     `json:"customDomainConfiguration,omitempty"`
	EventStreamEndpoint         string                         `json:"eventStreamEndpoint,omitempty"`
	WorkloadProfiles            []WorkloadProfile              `json:"workloadProfiles,omitzero"`
	InfrastructureResourceGroup string                         `json:"infrastructureResourceGroup,omitempty"`
	PeerAuthentication          *PeerAuthentication            `json:"peerAuthentication,omitempty"`
	PeerTrafficConfiguration    *PeerTrafficConfiguration      `json:"peerTrafficConfiguration,omitempty"`
}

// VnetConfiguration places the environment in a virtual network.
type VnetConfiguration struct {
	Internal               *bool  `json:"internal,omitempty"`
	InfrastructureSubnetID string `json:"infrastructureSubnetId,omitempty"`
	DockerBridgeCidr       string `json:"dockerBridgeCidr,omitempty"`
	PlatformReservedCidr   string `json:"platformReservedCidr,omitempty"`
	PlatformReservedDNSIP  string `json:"platformReservedDnsIP,omitempty"`
}

// AppLogsConfiguration routes application logs.
type AppLogsConfiguration struct {
	Destination               string                     `json:"destination,omitempty"`
	LogAnalyticsConfiguration *LogAnalyticsConfiguration `json:"logAnalyticsConfiguration,omitempty"`
}

// LogAnalyticsConfiguration names the workspace.
type LogAnalyticsConfiguration struct {
	CustomerID string `json:"customerId,omitempty"`
	SharedKey  string `json:"sharedKey,omitempty"`
}

// CustomDomainConfiguration is the environment-wide DNS suffix.
type CustomDomainConfiguration struct {
	CustomDomainVerificationID string `json:"customDomainVerificationId,omitempty"`
	DNSSuffix                  string `json:"dnsSuffix,omitempty"`
	CertificateValue           string `json:"certificateValue,omitempty"`
	CertificatePassword        string `json:"certificatePassword,omitempty"`
	ExpirationDate             string `json:"expirationDate,omitempty"`
	Thumbprint                 string `json:"thumbprint,omitempty"`
	SubjectName                string `json:"subjectName,omitempty"`
}

// WorkloadProfile is a compute shape configured on the environment.
type WorkloadProfile struct {
	Name                string `json:"name"`
	WorkloadProfileType string `json:"workloadProfileType"`
	MinimumCount        *int32 `json:"minimumCount,omitempty"`
	MaximumCount        *int32 `json:"maximumCount,omitempty"`
}

// PeerAuthentication configures mTLS between apps.
type PeerAuthentication struct {
	Mtls *Toggle `json:"mtls,omitempty"`
}

// PeerTrafficConfiguration configures peer traffic encryption.
type PeerTrafficConfiguration struct {
	Encryption *Toggle `json:"encryption,omitempty"`
}

// Toggle is an {enabled} object.
type Toggle struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// EnsureProperties returns the properties, allocating them when absent.
func (e *ManagedEnvironment) EnsureProperties() *ManagedEnvironmentProperties {
	if e.Properties == nil {
		e.Properties = &ManagedEnvironmentProperties{}
	}
	return e.Properties
}

// ProvisioningState returns the provisioning state or "".
func (e *ManagedEnvironment) ProvisioningState() string {
	if e.Properties == nil {
		return ""
	}
	return e.Properties.ProvisioningState
}

// HasWorkloadProfiles reports whether the environment uses workload profiles.
func (e *ManagedEnvironment) HasWorkloadProfiles() bool {
	return e.Properties != nil && len(e.Properties.WorkloadProfiles) > 0
}

// WorkloadProfile returns the profile named name (case-insensitive).
func (e *ManagedEnvironment) WorkloadProfile(name string) (WorkloadProfile, bool) {
	if e.Properties == nil {
		return WorkloadProfile{}, false
	}
	for _, wp := range e.Properties.WorkloadProfiles {
		if strings.EqualFold(wp.Name, name) {
			return wp, true
		}
	}
	return WorkloadProfile{}, false
}

// DefaultWorkloadProfileName returns the name of the consumption profile,
// or the first profile when none is consumption.
func (e *ManagedEnvironment) DefaultWorkloadProfileName() string {
	if !e.HasWorkloadProfiles() {
		return ""
	}
	for _, wp := range e.Properties.WorkloadProfiles {
		if strings.EqualFold(wp.WorkloadProfileType, WorkloadProfileConsumption) {
			return wp.Name
		}
	}
	return e.Properties.WorkloadProfiles[0].Name
}

// LogAnalyticsCustomerID returns the workspace customer id or "".
func (e *ManagedEnvironment) LogAnalyticsCustomerID() string {
	if e.Properties == nil {
		return ""
	}
	logs, ok := e.Properties.AppLogsConfiguration.Get()
	if !ok || logs.LogAnalyticsConfiguration == nil {
		return ""
	}
	return logs.LogAnalyticsConfiguration.CustomerID
}

// StripReadOnly clears server-computed fields.
func (e *ManagedEnvironment) StripReadOnly() {
	e.ID = ""
	e.Name = ""
	e.Type = ""
	e.SystemData = nil
	if p := e.Properties; p != nil {
		p.ProvisioningState = ""
		p.DeploymentErrors = ""
		p.DefaultDomain = ""
		p.StaticIP = ""
		p.EventStreamEndpoint = ""
		if p.CustomDomainConfiguration != nil {
			p.CustomDomainConfiguration.CustomDomainVerificationID = ""
			p.CustomDomainConfiguration.ExpirationDate = ""
			p.CustomDomainConfiguration.Thumbprint = ""
			p.CustomDomainConfiguration.SubjectName = ""
		}
	}
}

// AvailableWorkloadProfile is a profile type offered in a region.
type AvailableWorkloadProfile struct {
	ID         string                             `json:"id,omitempty"`
	Name       string                             `json:"name,omitempty"`
	Location   string                             `json:"location,omitempty"`
	Properties *AvailableWorkloadProfileProperties `json:"properties,omitempty"`
}

// AvailableWorkloadProfileProperties describe an offered profile type.
type AvailableWorkloadProfileProperties struct {
	Category      string  `json:"category,omitempty"`
	Applicability string  `json:"applicability,omitempty"`
	Cores         int32   `json:"cores,omitempty"`
	MemoryGiB     float64 `json:"memoryGiB,omitempty"`
	DisplayName   string  `json:"displayName,omitempty"`
}

// WorkloadProfileState is the live node count of a profile.
type WorkloadProfileState struct {
	ID         string                          `json:"id,omitempty"`
	Name       string                          `json:"name,omitempty"`
	Properties *WorkloadProfileStateProperties `json:"properties,omitempty"`
}

// WorkloadProfileStateProperties are the node counts.
type WorkloadProfileStateProperties struct {
	MinimumCount int32 `json:"minimumCount,omitempty"`
	MaximumCount int32 `json:"maximumCount,omitempty"`
	CurrentCount int32 `json:"currentCount,omitempty"`
}

// ManagedEnvironmentStorage mounts an Azure Files share.
type ManagedEnvironmentStorage struct {
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Type       string             `json:"type,omitempty"`
	Properties *StorageProperties `json:"properties,omitempty"`
}

// StorageProperties wrap the share definition.
type StorageProperties struct {
	AzureFile *AzureFileProperties `json:"azureFile,omitempty"`
}

// Access modes.
const (
	AccessReadOnly  = "ReadOnly"
	AccessReadWrite = "ReadWrite"
)

// AzureFileProperties define an Azure Files share.
type AzureFileProperties struct {
	AccountName string `json:"accountName,omitempty"`
	AccountKey  string `json:"accountKey,omitempty"`
	AccessMode  string `json:"accessMode,omitempty"`
	ShareName   string `json:"shareName,omitempty"`
}

// DaprComponent is a sidecar component definition.
type DaprComponent struct {
	ID         string                   `json:"id,omitempty"`
	Name       string                   `json:"name,omitempty"`
	Type       string                   `json:"type,omitempty"`
	SystemData json.RawMessage          `json:"systemData,omitempty"`
	Properties *DaprComponentProperties `json:"properties,omitempty"`
}

// DaprComponentProperties are the component settings.
type DaprComponentProperties struct {
	ComponentType        string         `json:"componentType,omitempty"`
	Version              string         `json:"version,omitempty"`
	IgnoreErrors         *bool          `json:"ignoreErrors,omitempty"`
	InitTimeout          string         `json:"initTimeout,omitempty"`
	Secrets              []Secret       `json:"secrets,omitzero"`
	SecretStoreComponent string         `json:"secretStoreComponent,omitempty"`
	Metadata             []DaprMetadata `json:"metadata,omitzero"`
	Scopes               []string       `json:"scopes,omitzero"`
}

// DaprMetadata is one component metadata entry.
type DaprMetadata struct {
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
	SecretRef string `json:"secretRef,omitempty"`
}
