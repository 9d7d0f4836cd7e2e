// Package envelope models the JSON bodies exchanged with the Container Apps API.
//
// Conventions:
//  1. Pointer and string fields use omitempty: unset means "leave as is"
//  2. Slices and maps use omitzero: nil is absent, an empty non-nil value
//     is an explicit clear
//  3. Fields the API clears only on JSON null use Nullable[T]
//  4. Sub-trees the engine never edits are carried as json.RawMessage so a
//     read-modify-write cycle keeps them intact
package envelope

import (
	"encoding/json"
	"strings"
)

// Resource types.
const (
	TypeContainerApp       = "Microsoft.App/containerApps"
	TypeJob                = "Microsoft.App/jobs"
	TypeManagedEnvironment = "Microsoft.App/managedEnvironments"
)

// Revision modes.
const (
	RevisionModeSingle   = "single"
	RevisionModeMultiple = "multiple"
)

// Ingress transports.
const (
	TransportAuto  = "auto"
	TransportHTTP  = "http"
	TransportHTTP2 = "http2"
	TransportTCP   = "tcp"
)

// Provisioning states as reported by the service.
const (
	StateSucceeded  = "Succeeded"
	StateFailed     = "Failed"
	StateCanceled   = "Canceled"
	StateInProgress = "InProgress"
	StateWaiting    = "Waiting"
	StateUpdating   = "Updating"
)

// ContainerApp is a Microsoft.App/containerApps resource.
type ContainerApp struct {
	ID               string                  `json:"id,omitempty"`
	Name             string                  `json:"name,omitempty"`
	Type             string                  `json:"type,omitempty"`
	Location         string                  `json:"location,omitempty"`
	Tags             map[string]string       `json:"tags,omitzero"`
	Identity         *ManagedServiceIdentity `json:"identity,omitempty"`
	ManagedBy        string                  `json:"managedBy,omitempty"`
	ExtendedLocation json.RawMessage         `json:"extendedLocation,omitempty"`
	SystemData       json.RawMessage         `json:"systemData,omitempty"`
	Properties       *ContainerAppProperties `json:"properties,omitempty"`
}

// ContainerAppProperties are the app properties.
type ContainerAppProperties struct {
	ProvisioningState          string         `json:"provisioningState,omitempty"`
	RunningStatus              string         `json:"runningStatus,omitempty"`
	ManagedEnvironmentID       string         `json:"managedEnvironmentId,omitempty"`
	EnvironmentID              string         `json:"environmentId,omitempty"`
	WorkloadProfileName        string         `json:"workloadProfileName,omitempty"`
	LatestRevisionName         string         `json:"latestRevisionName,omitempty"`
	LatestReadyRevisionName    string         `json:"latestReadyRevisionName,omitempty"`
	LatestRevisionFqdn         string         `json:"latestRevisionFqdn,omitempty"`
	CustomDomainVerificationID string         `json:"customDomainVerificationId,omitempty"`
	OutboundIPAddresses        []string       `json:"outboundIpAddresses,omitzero"`
	EventStreamEndpoint        string         `json:"eventStreamEndpoint,omitempty"`
	Configuration              *Configuration `json:"configuration,omitempty"`
	Template                   *Template      `json:"template,omitempty"`
}

// ManagedServiceIdentity is the identity block of apps and jobs.
type ManagedServiceIdentity struct {
	Type                   string                           `json:"type,omitempty"`
	PrincipalID            string                           `json:"principalId,omitempty"`
	TenantID               string                           `json:"tenantId,omitempty"`
	UserAssignedIdentities map[string]*UserAssignedIdentity `json:"userAssignedIdentities,omitzero"`
}

// UserAssignedIdentity is one entry of userAssignedIdentities. The API
// expects an empty object on write.
type UserAssignedIdentity struct {
	PrincipalID string `json:"principalId,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
}

// Configuration is the non-versioned app configuration.
type Configuration struct {
	Secrets              []Secret              `json:"secrets,omitzero"`
	ActiveRevisionsMode  string                `json:"activeRevisionsMode,omitempty"`
	Ingress              *Ingress              `json:"ingress,omitempty"`
	Registries           []RegistryCredentials `json:"registries,omitzero"`
	Dapr                 *Dapr                 `json:"dapr,omitempty"`
	MaxInactiveRevisions *int32                `json:"maxInactiveRevisions,omitempty"`
	Service              json.RawMessage       `json:"service,omitempty"`
}

// Secret is a named secret; either Value or KeyVaultURL with Identity.
type Secret struct {
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	KeyVaultURL string `json:"keyVaultUrl,omitempty"`
	Identity    string `json:"identity,omitempty"`
}

// RegistryCredentials authenticate image pulls from one server.
type RegistryCredentials struct {
	Server            string `json:"server"`
	Username          string `json:"username,omitempty"`
	PasswordSecretRef string `json:"passwordSecretRef,omitempty"`
	Identity          string `json:"identity,omitempty"`
}

// Ingress configures inbound traffic.
type Ingress struct {
	Fqdn                   string                      `json:"fqdn,omitempty"`
	External               *bool                       `json:"external,omitempty"`
	TargetPort             *int32                      `json:"targetPort,omitempty"`
	ExposedPort            Nullable[int32]             `json:"exposedPort,omitzero"`
	Transport              string                      `json:"transport,omitempty"`
	Traffic                []TrafficWeight             `json:"traffic,omitzero"`
	CustomDomains          []CustomDomain              `json:"customDomains,omitzero"`
	AllowInsecure          *bool                       `json:"allowInsecure,omitempty"`
	IPSecurityRestrictions []IPSecurityRestrictionRule `json:"ipSecurityRestrictions,omitzero"`
	StickySessions         *StickySessions             `json:"stickySessions,omitempty"`
	ClientCertificateMode  Nullable[string]            `json:"clientCertificateMode,omitzero"`
	CorsPolicy             Nullable[CorsPolicy]        `json:"corsPolicy,omitzero"`
	AdditionalPortMappings json.RawMessage             `json:"additionalPortMappings,omitempty"`
}

// TrafficWeight routes a share of traffic to a revision, the latest
// revision, or a label.
type TrafficWeight struct {
	RevisionName   string `json:"revisionName,omitempty"`
	Weight         int32  `json:"weight"`
	LatestRevision bool   `json:"latestRevision,omitempty"`
	Label          string `json:"label,omitempty"`
}

// Binding types.
const (
	BindingDisabled   = "Disabled"
	BindingSniEnabled = "SniEnabled"
)

// CustomDomain binds a hostname to the app.
type CustomDomain struct {
	Name          string `json:"name"`
	BindingType   string `json:"bindingType,omitempty"`
	CertificateID string `json:"certificateId,omitempty"`
}

// IP restriction actions.
const (
	ActionAllow = "Allow"
	ActionDeny  = "Deny"
)

// IPSecurityRestrictionRule allows or denies one address range.
type IPSecurityRestrictionRule struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	IPAddressRange string `json:"ipAddressRange"`
	Action         string `json:"action"`
}

// StickySessions configures session affinity.
type StickySessions struct {
	Affinity string `json:"affinity"`
}

// CorsPolicy configures cross-origin requests.
type CorsPolicy struct {
	AllowedOrigins   []string        `json:"allowedOrigins"`
	AllowedMethods   []string        `json:"allowedMethods,omitzero"`
	AllowedHeaders   []string        `json:"allowedHeaders,omitzero"`
	ExposeHeaders    []string        `json:"exposeHeaders,omitzero"`
	MaxAge           Nullable[int32] `json:"maxAge,omitzero"`
	AllowCredentials *bool           `json:"allowCredentials,omitempty"`
}

// Dapr configures the sidecar.
type Dapr struct {
	Enabled            *bool  `json:"enabled,omitempty"`
	AppID              string `json:"appId,omitempty"`
	AppProtocol        string `json:"appProtocol,omitempty"`
	AppPort            *int32 `json:"appPort,omitempty"`
	HTTPReadBufferSize *int32 `json:"httpReadBufferSize,omitempty"`
	HTTPMaxRequestSize *int32 `json:"httpMaxRequestSize,omitempty"`
	LogLevel           string `json:"logLevel,omitempty"`
	EnableAPILogging   *bool  `json:"enableApiLogging,omitempty"`
}

// Template is the versioned part of an app; changing it creates a revision.
type Template struct {
	RevisionSuffix                Nullable[string] `json:"revisionSuffix,omitzero"`
	TerminationGracePeriodSeconds *int64           `json:"terminationGracePeriodSeconds,omitempty"`
	InitContainers                []Container      `json:"initContainers,omitzero"`
	Containers                    []Container      `json:"containers,omitzero"`
	Scale                         *Scale           `json:"scale,omitempty"`
	Volumes                       []Volume         `json:"volumes,omitzero"`
	ServiceBinds                  json.RawMessage  `json:"serviceBinds,omitempty"`
}

// Container is one container of a template.
type Container struct {
	Name         string              `json:"name,omitempty"`
	Image        string              `json:"image,omitempty"`
	Command      []string            `json:"command,omitzero"`
	Args         []string            `json:"args,omitzero"`
	Env          []EnvironmentVar    `json:"env,omitzero"`
	Resources    *ContainerResources `json:"resources,omitempty"`
	VolumeMounts []VolumeMount       `json:"volumeMounts,omitzero"`
	Probes       json.RawMessage     `json:"probes,omitempty"`
}

// EnvironmentVar is a literal value or a secret reference.
type EnvironmentVar struct {
	Name      string  `json:"name"`
	Value     *string `json:"value,omitempty"`
	SecretRef string  `json:"secretRef,omitempty"`
}

// ContainerResources are the cpu and memory requests.
type ContainerResources struct {
	CPU              *float64 `json:"cpu,omitempty"`
	Memory           string   `json:"memory,omitempty"`
	EphemeralStorage string   `json:"ephemeralStorage,omitempty"`
}

// VolumeMount mounts a template volume into a container.
type VolumeMount struct {
	VolumeName string `json:"volumeName"`
	MountPath  string `json:"mountPath"`
	SubPath    string `json:"subPath,omitempty"`
}

// Storage types.
const (
	StorageTypeAzureFile = "AzureFile"
	StorageTypeEmptyDir  = "EmptyDir"
	StorageTypeSecret    = "Secret"
)

// Volume is a template volume.
type Volume struct {
	Name         string             `json:"name"`
	StorageType  string             `json:"storageType,omitempty"`
	StorageName  string             `json:"storageName,omitempty"`
	Secrets      []SecretVolumeItem `json:"secrets,omitzero"`
	MountOptions string             `json:"mountOptions,omitempty"`
}

// SecretVolumeItem projects one secret into a secret volume.
type SecretVolumeItem struct {
	SecretRef string `json:"secretRef"`
	Path      string `json:"path,omitempty"`
}

// Scale bounds replicas and lists scale rules.
type Scale struct {
	MinReplicas *int32      `json:"minReplicas,omitempty"`
	MaxReplicas *int32      `json:"maxReplicas,omitempty"`
	Rules       []ScaleRule `json:"rules,omitzero"`
}

// EnsureProperties returns the properties, allocating them when absent.
func (a *ContainerApp) EnsureProperties() *ContainerAppProperties {
	if a.Properties == nil {
		a.Properties = &ContainerAppProperties{}
	}
	return a.Properties
}

// EnsureConfiguration returns the configuration, allocating it when absent.
func (a *ContainerApp) EnsureConfiguration() *Configuration {
	p := a.EnsureProperties()
	if p.Configuration == nil {
		p.Configuration = &Configuration{}
	}
	return p.Configuration
}

// EnsureTemplate returns the template, allocating it when absent.
func (a *ContainerApp) EnsureTemplate() *Template {
	p := a.EnsureProperties()
	if p.Template == nil {
		p.Template = &Template{}
	}
	return p.Template
}

// Ingress returns the ingress or nil.
func (a *ContainerApp) Ingress() *Ingress {
	if a == nil || a.Properties == nil || a.Properties.Configuration == nil {
		return nil
	}
	return a.Properties.Configuration.Ingress
}

// ProvisioningState returns the provisioning state or "".
func (a *ContainerApp) ProvisioningState() string {
	if a.Properties == nil {
		return ""
	}
	return a.Properties.ProvisioningState
}

// Fqdn returns the ingress fqdn or "".
func (a *ContainerApp) Fqdn() string {
	if ing := a.Ingress(); ing != nil {
		return ing.Fqdn
	}
	return ""
}

// RevisionsMode returns the active revisions mode, lowercased, defaulting
// to single.
func (a *ContainerApp) RevisionsMode() string {
	if a == nil || a.Properties == nil || a.Properties.Configuration == nil || a.Properties.Configuration.ActiveRevisionsMode == "" {
		return RevisionModeSingle
	}
	return strings.ToLower(a.Properties.Configuration.ActiveRevisionsMode)
}

// NormalizeEnvironmentID folds the managedEnvironmentId alias into
// environmentId.
func (p *ContainerAppProperties) NormalizeEnvironmentID() {
	if p.EnvironmentID == "" {
		p.EnvironmentID = p.ManagedEnvironmentID
	}
	p.ManagedEnvironmentID = ""
}

// StripReadOnly clears every server-computed field before a PUT or PATCH.
// Calling it twice is the same as calling it once.
func (a *ContainerApp) StripReadOnly() {
	a.ID = ""
	a.Name = ""
	a.Type = ""
	a.SystemData = nil
	if a.Identity != nil {
		a.Identity.PrincipalID = ""
		a.Identity.TenantID = ""
		for k := range a.Identity.UserAssignedIdentities {
			a.Identity.UserAssignedIdentities[k] = &UserAssignedIdentity{}
		}
	}
	if p := a.Properties; p != nil {
		p.ProvisioningState = ""
		p.RunningStatus = ""
		p.LatestRevisionName = ""
		p.LatestReadyRevisionName = ""
		p.LatestRevisionFqdn = ""
		p.CustomDomainVerificationID = ""
		p.OutboundIPAddresses = nil
		p.EventStreamEndpoint = ""
		p.NormalizeEnvironmentID()
		if p.Configuration != nil && p.Configuration.Ingress != nil {
			p.Configuration.Ingress.Fqdn = ""
		}
	}
}

// SecretNames returns the names of the configured secrets.
func (c *Configuration) SecretNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Secrets))
	for _, s := range c.Secrets {
		names = append(names, s.Name)
	}
	return names
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p or the zero value.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
