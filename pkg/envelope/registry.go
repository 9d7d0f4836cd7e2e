package envelope

// Registry resource type and defaults.
const (
	TypeRegistry       = "Microsoft.ContainerRegistry/registries"
	RegistrySkuBasic   = "Basic"
	RegistryHostSuffix = ".azurecr.io"
)

// Registry run states. Queued, Started and Running are non-terminal.
const (
	RunQueued    = "Queued"
	RunStarted   = "Started"
	RunRunning   = "Running"
	RunSucceeded = "Succeeded"
	RunFailed    = "Failed"
	RunCanceled  = "Canceled"
	RunError     = "Error"
	RunTimeout   = "Timeout"
)

// Registry is a Microsoft.ContainerRegistry/registries resource.
type Registry struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name,omitempty"`
	Type       string              `json:"type,omitempty"`
	Location   string              `json:"location,omitempty"`
	Tags       map[string]string   `json:"tags,omitzero"`
	Sku        *RegistrySku        `json:"sku,omitempty"`
	Properties *RegistryProperties `json:"properties,omitempty"`
}

// RegistrySku is the registry tier.
type RegistrySku struct {
	Name string `json:"name"`
}

// RegistryProperties describe a registry.
type RegistryProperties struct {
	LoginServer       string `json:"loginServer,omitempty"`
	AdminUserEnabled  *bool  `json:"adminUserEnabled,omitempty"`
	ProvisioningState string `json:"provisioningState,omitempty"`
}

// LoginServer returns the login server or "".
func (r *Registry) LoginServer() string {
	if r.Properties == nil {
		return ""
	}
	return r.Properties.LoginServer
}

// RegistryNameCheckRequest asks whether a registry name is free.
type RegistryNameCheckRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RegistryAdminCredentials are the admin user and passwords.
type RegistryAdminCredentials struct {
	Username  string             `json:"username"`
	Passwords []RegistryPassword `json:"passwords"`
}

// RegistryPassword is one admin password.
type RegistryPassword struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SourceUploadDefinition is where to upload a build context.
type SourceUploadDefinition struct {
	UploadURL    string `json:"uploadUrl"`
	RelativePath string `json:"relativePath"`
}

// RunPlatform is the build platform.
type RunPlatform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture,omitempty"`
}

// EncodedTaskRunRequest schedules a run from a base64 task file.
type EncodedTaskRunRequest struct {
	Type               string      `json:"type"`
	EncodedTaskContent string      `json:"encodedTaskContent"`
	Platform           RunPlatform `json:"platform"`
	SourceLocation     string      `json:"sourceLocation,omitempty"`
	Timeout            int32       `json:"timeout,omitempty"`
	IsArchiveEnabled   bool        `json:"isArchiveEnabled"`
}

// Run is a registry task run.
type Run struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Properties *RunProperties `json:"properties,omitempty"`
}

// RunProperties describe a run.
type RunProperties struct {
	RunID           string `json:"runId,omitempty"`
	Status          string `json:"status,omitempty"`
	RunErrorMessage string `json:"runErrorMessage,omitempty"`
}

// Status returns the run status or "".
func (r *Run) Status() string {
	if r.Properties == nil {
		return ""
	}
	return r.Properties.Status
}
