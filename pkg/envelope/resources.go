package envelope

import "encoding/json"

// List is one page of a collection GET.
type List[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"nextLink,omitempty"`
}

// Revision states.
const (
	RevisionHealthy   = "Healthy"
	RevisionUnhealthy = "Unhealthy"
)

// Revision is an immutable snapshot of an app template.
type Revision struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name,omitempty"`
	Type       string              `json:"type,omitempty"`
	Properties *RevisionProperties `json:"properties,omitempty"`
}

// RevisionProperties describe a revision.
type RevisionProperties struct {
	CreatedTime       string    `json:"createdTime,omitempty"`
	LastActiveTime    string    `json:"lastActiveTime,omitempty"`
	Fqdn              string    `json:"fqdn,omitempty"`
	Template          *Template `json:"template,omitempty"`
	Active            bool      `json:"active"`
	Replicas          int32     `json:"replicas,omitempty"`
	TrafficWeight     int32     `json:"trafficWeight,omitempty"`
	ProvisioningError string    `json:"provisioningError,omitempty"`
	HealthState       string    `json:"healthState,omitempty"`
	ProvisioningState string    `json:"provisioningState,omitempty"`
	RunningState      string    `json:"runningState,omitempty"`
}

// Replica is a running instance of a revision.
type Replica struct {
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Type       string             `json:"type,omitempty"`
	Properties *ReplicaProperties `json:"properties,omitempty"`
}

// ReplicaProperties describe a replica.
type ReplicaProperties struct {
	CreatedTime    string             `json:"createdTime,omitempty"`
	RunningState   string             `json:"runningState,omitempty"`
	Containers     []ReplicaContainer `json:"containers,omitzero"`
	InitContainers []ReplicaContainer `json:"initContainers,omitzero"`
}

// ReplicaContainer is the runtime state of one container.
type ReplicaContainer struct {
	Name              string `json:"name,omitempty"`
	ContainerID       string `json:"containerId,omitempty"`
	Ready             bool   `json:"ready"`
	Started           bool   `json:"started"`
	RestartCount      int32  `json:"restartCount,omitempty"`
	RunningState      string `json:"runningState,omitempty"`
	LogStreamEndpoint string `json:"logStreamEndpoint,omitempty"`
	ExecEndpoint      string `json:"execEndpoint,omitempty"`
}

// ContainerAppSecret is a secret with its value, as returned by listSecrets.
type ContainerAppSecret struct {
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	KeyVaultURL string `json:"keyVaultUrl,omitempty"`
	Identity    string `json:"identity,omitempty"`
}

// AuthConfig is the built-in authentication configuration of an app.
// Provider sections are carried verbatim.
type AuthConfig struct {
	ID         string                `json:"id,omitempty"`
	Name       string                `json:"name,omitempty"`
	Type       string                `json:"type,omitempty"`
	SystemData json.RawMessage       `json:"systemData,omitempty"`
	Properties *AuthConfigProperties `json:"properties,omitempty"`
}

// AuthConfigProperties are the auth settings.
type AuthConfigProperties struct {
	Platform           *AuthPlatform     `json:"platform,omitempty"`
	GlobalValidation   *GlobalValidation `json:"globalValidation,omitempty"`
	IdentityProviders  json.RawMessage   `json:"identityProviders,omitempty"`
	Login              json.RawMessage   `json:"login,omitempty"`
	HTTPSettings       json.RawMessage   `json:"httpSettings,omitempty"`
	EncryptionSettings json.RawMessage   `json:"encryptionSettings,omitempty"`
}

// AuthPlatform toggles the auth sidecar.
type AuthPlatform struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	RuntimeVersion string `json:"runtimeVersion,omitempty"`
}

// Unauthenticated client actions.
const (
	UnauthenticatedRedirect  = "RedirectToLoginPage"
	UnauthenticatedAllow     = "AllowAnonymous"
	UnauthenticatedReturn401 = "Return401"
	UnauthenticatedReturn403 = "Return403"
)

// GlobalValidation controls unauthenticated requests.
type GlobalValidation struct {
	UnauthenticatedClientAction string   `json:"unauthenticatedClientAction,omitempty"`
	RedirectToProvider          string   `json:"redirectToProvider,omitempty"`
	ExcludedPaths               []string `json:"excludedPaths,omitzero"`
}

// SourceControl records the repository an app is built from.
type SourceControl struct {
	ID         string                   `json:"id,omitempty"`
	Name       string                   `json:"name,omitempty"`
	Type       string                   `json:"type,omitempty"`
	Properties *SourceControlProperties `json:"properties,omitempty"`
}

// SourceControlProperties describe the repository and workflow.
type SourceControlProperties struct {
	OperationState            string          `json:"operationState,omitempty"`
	RepoURL                   string          `json:"repoUrl,omitempty"`
	Branch                    string          `json:"branch,omitempty"`
	GithubActionConfiguration json.RawMessage `json:"githubActionConfiguration,omitempty"`
}

// Usage is a quota counter.
type Usage struct {
	Unit         string     `json:"unit,omitempty"`
	CurrentValue float64    `json:"currentValue"`
	Limit        float64    `json:"limit"`
	Name         *UsageName `json:"name,omitempty"`
}

// UsageName names a quota.
type UsageName struct {
	Value          string `json:"value,omitempty"`
	LocalizedValue string `json:"localizedValue,omitempty"`
}

// AuthToken is a short-lived token for the log stream or exec endpoints.
type AuthToken struct {
	ID         string               `json:"id,omitempty"`
	Name       string               `json:"name,omitempty"`
	Location   string               `json:"location,omitempty"`
	Properties *AuthTokenProperties `json:"properties,omitempty"`
}

// AuthTokenProperties carry the token.
type AuthTokenProperties struct {
	Token   string `json:"token,omitempty"`
	Expires string `json:"expires,omitempty"`
}

// CustomHostnameAnalysis is the DNS readiness report for a hostname.
type CustomHostnameAnalysis struct {
	HostName                            string          `json:"hostName,omitempty"`
	IsHostnameAlreadyVerified           bool            `json:"isHostnameAlreadyVerified"`
	CustomDomainVerificationTest        string          `json:"customDomainVerificationTest,omitempty"`
	CustomDomainVerificationFailureInfo json.RawMessage `json:"customDomainVerificationFailureInfo,omitempty"`
	HasConflictOnManagedEnvironment     bool            `json:"hasConflictOnManagedEnvironment"`
	ConflictingContainerAppResourceID   string          `json:"conflictingContainerAppResourceId,omitempty"`
	CNameRecords                        []string        `json:"cNameRecords,omitzero"`
	TxtRecords                          []string        `json:"txtRecords,omitzero"`
	ARecords                            []string        `json:"aRecords,omitzero"`
	AlternateCNameRecords               []string        `json:"alternateCNameRecords,omitzero"`
	AlternateTxtRecords                 []string        `json:"alternateTxtRecords,omitzero"`
}

// CustomDomainVerificationID is the subscription-wide TXT record value.
type CustomDomainVerificationID struct {
	Value string `json:"value"`
}
