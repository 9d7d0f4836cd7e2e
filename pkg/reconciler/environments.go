package reconciler

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/certs"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/loader"
	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Environments manages managed environments and their sub-resources.
type Environments struct {
	*base
}

// CustomDomainOptions configure the environment DNS suffix.
type CustomDomainOptions struct {
	DNSSuffix           string
	CertificateFile     string
	CertificatePassword string
}

func (o *CustomDomainOptions) configuration() (*envelope.CustomDomainConfiguration, error) {
	if o.DNSSuffix == "" || o.CertificateFile == "" {
		return nil, apperrors.RequiredArgument("usage error: --custom-domain-dns-suffix and --custom-domain-certificate-file must be provided together")
	}
	if err := validate.Hostname(o.DNSSuffix); err != nil {
		return nil, err
	}
	file, err := certs.Load(o.CertificateFile, o.CertificatePassword)
	if err != nil {
		return nil, err
	}
	return &envelope.CustomDomainConfiguration{
		DNSSuffix:           o.DNSSuffix,
		CertificateValue:    file.Blob,
		CertificatePassword: o.CertificatePassword,
	}, nil
}

// CreateEnvironmentOptions is the environment create intent.
type CreateEnvironmentOptions struct {
	ResourceGroup string
	Name          string
	// Flags carry location, network, security and logs settings.
	Flags                    validate.EnvironmentFlags
	EnableWorkloadProfiles   bool
	CustomDomain             *CustomDomainOptions
	DaprAIInstrumentationKey string
	DaprAIConnectionString   string
	Tags                     map[string]string
	NoWait                   bool
}

// Create creates a managed environment.
func (e *Environments) Create(ctx context.Context, opts CreateEnvironmentOptions) (*envelope.ManagedEnvironment, error) {
	if opts.ResourceGroup == "" {
		return nil, apperrors.RequiredArgument("--resource-group is required")
	}
	if err := validate.Name(opts.Name); err != nil {
		return nil, err
	}
	f := opts.Flags
	if err := f.Check(); err != nil {
		return nil, err
	}
	location := validate.NormalizeLocation(f.Location)
	if location == "" {
		return nil, apperrors.RequiredArgument("usage error: --location is required")
	}
	if err := e.checkLocation(ctx, validate.ResourceTypeManagedEnvironments, location); err != nil {
		return nil, err
	}

	logs, err := logsConfiguration(f.LogsDestination, f.LogsCustomerID, f.LogsKey)
	if err != nil {
		return nil, err
	}
	env := &envelope.ManagedEnvironment{
		Location: location,
		Tags:     opts.Tags,
		Properties: &envelope.ManagedEnvironmentProperties{
			AppLogsConfiguration:     logs,
			DaprAIInstrumentationKey: opts.DaprAIInstrumentationKey,
			DaprAIConnectionString:   opts.DaprAIConnectionString,
		},
	}
	p := env.Properties
	if f.ZoneRedundant {
		p.ZoneRedundant = envelope.Ptr(true)
	}
	if f.InfrastructureSubnetID != "" {
		p.VnetConfiguration = &envelope.VnetConfiguration{
			InfrastructureSubnetID: f.InfrastructureSubnetID,
			DockerBridgeCidr:       f.DockerBridgeCidr,
			PlatformReservedCidr:   f.PlatformReservedCidr,
			PlatformReservedDNSIP:  f.PlatformReservedDNSIP,
		}
		if f.Internal {
			p.VnetConfiguration.Internal = envelope.Ptr(true)
		}
	}
	if f.MTLS != nil {
		p.PeerAuthentication = &envelope.PeerAuthentication{Mtls: &envelope.Toggle{Enabled: f.MTLS}}
	}
	if f.PeerEncryption != nil {
		p.PeerTrafficConfiguration = &envelope.PeerTrafficConfiguration{Encryption: &envelope.Toggle{Enabled: f.PeerEncryption}}
	}
	if opts.EnableWorkloadProfiles {
		p.WorkloadProfiles = []envelope.WorkloadProfile{{
			Name:                envelope.WorkloadProfileConsumption,
			WorkloadProfileType: envelope.WorkloadProfileConsumption,
		}}
	}
	if opts.CustomDomain != nil {
		if p.CustomDomainConfiguration, err = opts.CustomDomain.configuration(); err != nil {
			return nil, err
		}
	}

	created, err := e.Clients.Environments.CreateOrUpdate(ctx, opts.ResourceGroup, opts.Name, env, opts.NoWait)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Container Apps environment created",
		zap.String("environment", opts.Name),
		zap.String("location", location),
	)
	return created, nil
}

// logsConfiguration builds the app logs routing. An empty destination
// leaves the service default.
func logsConfiguration(destination, customerID, key string) (envelope.Nullable[envelope.AppLogsConfiguration], error) {
	switch destination {
	case "":
		return envelope.Nullable[envelope.AppLogsConfiguration]{}, nil
	case envelope.LogsNone:
		return envelope.Null[envelope.AppLogsConfiguration](), nil
	case envelope.LogsAzureMonitor:
		return envelope.Value(envelope.AppLogsConfiguration{Destination: envelope.LogsAzureMonitor}), nil
	case envelope.LogsLogAnalytics:
		if customerID == "" || key == "" {
			return envelope.Nullable[envelope.AppLogsConfiguration]{}, apperrors.RequiredArgument("usage error: --logs-workspace-id and --logs-workspace-key are required for the log-analytics destination")
		}
		return envelope.Value(envelope.AppLogsConfiguration{
			Destination:               envelope.LogsLogAnalytics,
			LogAnalyticsConfiguration: &envelope.LogAnalyticsConfiguration{CustomerID: customerID, SharedKey: key},
		}), nil
	}
	return envelope.Nullable[envelope.AppLogsConfiguration]{}, apperrors.Validation("invalid --logs-destination %q", destination)
}

// UpdateEnvironmentOptions is the environment update intent. Unset fields
// keep the remote value.
type UpdateEnvironmentOptions struct {
	ResourceGroup   string
	Name            string
	LogsDestination string `validate:"omitempty,oneof=log-analytics azure-monitor none"`
	LogsCustomerID  string
	LogsKey         string
	CustomDomain    *CustomDomainOptions
	// WorkloadProfile is upserted into the profile list.
	WorkloadProfile *WorkloadProfileOptions
	MTLS            *bool
	PeerEncryption  *bool
	Tags            map[string]string
	NoWait          bool
}

// Update patches a managed environment.
func (e *Environments) Update(ctx context.Context, opts UpdateEnvironmentOptions) (*envelope.ManagedEnvironment, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if opts.MTLS != nil && *opts.MTLS && opts.PeerEncryption != nil && !*opts.PeerEncryption {
		return nil, apperrors.Validation("usage error: mTLS requires peer-to-peer traffic encryption")
	}
	existing, err := e.Show(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}

	patch := &envelope.ManagedEnvironment{}
	p := patch.EnsureProperties()
	if opts.LogsDestination != "" {
		if p.AppLogsConfiguration, err = logsConfiguration(opts.LogsDestination, opts.LogsCustomerID, opts.LogsKey); err != nil {
			return nil, err
		}
	}
	if opts.CustomDomain != nil {
		if p.CustomDomainConfiguration, err = opts.CustomDomain.configuration(); err != nil {
			return nil, err
		}
	}
	if opts.WorkloadProfile != nil {
		profiles, err := e.upsertProfile(ctx, existing, *opts.WorkloadProfile)
		if err != nil {
			return nil, err
		}
		p.WorkloadProfiles = profiles
	}
	if opts.MTLS != nil {
		p.PeerAuthentication = &envelope.PeerAuthentication{Mtls: &envelope.Toggle{Enabled: opts.MTLS}}
	}
	if opts.PeerEncryption != nil {
		p.PeerTrafficConfiguration = &envelope.PeerTrafficConfiguration{Encryption: &envelope.Toggle{Enabled: opts.PeerEncryption}}
	}
	if opts.Tags != nil {
		patch.Tags = merge.MergeTags(existing.Tags, opts.Tags)
	}
	return e.Clients.Environments.Update(ctx, opts.ResourceGroup, opts.Name, patch, opts.NoWait)
}

// Delete deletes the environment. Deleting a missing environment succeeds.
func (e *Environments) Delete(ctx context.Context, rg, name string, noWait bool) error {
	err := e.Clients.Environments.Delete(ctx, rg, name, noWait)
	if apperrors.IsNotFound(err) {
		e.logger.Info("Container Apps environment does not exist", zap.String("environment", name))
		return nil
	}
	return err
}

// Show returns the environment or a ResourceNotFound error.
func (e *Environments) Show(ctx context.Context, rg, name string) (*envelope.ManagedEnvironment, error) {
	env, found, err := e.Clients.Environments.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("the Container Apps environment '%s' does not exist", name)
	}
	return env, nil
}

// List lists environments in rg, or in the subscription when rg is empty.
func (e *Environments) List(ctx context.Context, rg string) ([]envelope.ManagedEnvironment, error) {
	if rg == "" {
		return e.Clients.Environments.ListBySubscription(ctx)
	}
	return e.Clients.Environments.ListByResourceGroup(ctx, rg)
}

// ListUsages returns the quota usage of an environment, or of the
// subscription in location when name is empty.
func (e *Environments) ListUsages(ctx context.Context, rg, name, location string) ([]envelope.Usage, error) {
	if name != "" {
		return e.Clients.Environments.ListUsages(ctx, rg, name)
	}
	if location == "" {
		return nil, apperrors.RequiredArgument("usage error: --location is required without --name")
	}
	return e.Clients.Subscription.ListUsages(ctx, validate.NormalizeLocation(location))
}

// CustomDomainVerificationID returns the TXT record value proving domain
// ownership for the subscription.
func (e *Environments) CustomDomainVerificationID(ctx context.Context) (string, error) {
	return e.Clients.Subscription.GetCustomDomainVerificationID(ctx)
}

// WorkloadProfileOptions describe a dedicated workload profile.
type WorkloadProfileOptions struct {
	Name         string `validate:"required"`
	Type         string
	MinimumCount *int32 `validate:"omitempty,min=0"`
	MaximumCount *int32 `validate:"omitempty,min=0"`
}

// ListSupportedProfiles lists the profile types offered in location.
func (e *Environments) ListSupportedProfiles(ctx context.Context, location string) ([]envelope.AvailableWorkloadProfile, error) {
	if location == "" {
		return nil, apperrors.RequiredArgument("usage error: --location is required")
	}
	return e.Clients.WorkloadProfiles.ListSupported(ctx, validate.NormalizeLocation(location))
}

// ListProfiles lists the workload profiles of an environment.
func (e *Environments) ListProfiles(ctx context.Context, rg, name string) ([]envelope.WorkloadProfile, error) {
	env, err := e.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if env.Properties == nil {
		return nil, nil
	}
	return env.Properties.WorkloadProfiles, nil
}

// ListProfileStates lists the live node counts of the workload profiles.
func (e *Environments) ListProfileStates(ctx context.Context, rg, name string) ([]envelope.WorkloadProfileState, error) {
	return e.Clients.WorkloadProfiles.ListStates(ctx, rg, name)
}

// ShowProfile returns one workload profile.
func (e *Environments) ShowProfile(ctx context.Context, rg, name, profile string) (*envelope.WorkloadProfile, error) {
	env, err := e.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	wp, ok := env.WorkloadProfile(profile)
	if !ok {
		return nil, apperrors.NotFound("workload profile %s does not exist in environment %s", profile, name)
	}
	return &wp, nil
}

// AddProfile adds a dedicated workload profile.
func (e *Environments) AddProfile(ctx context.Context, rg, name string, opts WorkloadProfileOptions, noWait bool) (*envelope.ManagedEnvironment, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if opts.Type == "" {
		return nil, apperrors.RequiredArgument("usage error: --workload-profile-type is required")
	}
	env, err := e.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if _, ok := env.WorkloadProfile(opts.Name); ok {
		return nil, apperrors.AlreadyExists("workload profile %s already exists in environment %s", opts.Name, name)
	}
	profiles, err := e.upsertProfile(ctx, env, opts)
	if err != nil {
		return nil, err
	}
	return e.patchProfiles(ctx, rg, name, profiles, noWait)
}

// UpdateProfile changes the node counts of an existing workload profile.
func (e *Environments) UpdateProfile(ctx context.Context, rg, name string, opts WorkloadProfileOptions, noWait bool) (*envelope.ManagedEnvironment, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	env, err := e.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if _, ok := env.WorkloadProfile(opts.Name); !ok {
		return nil, apperrors.NotFound("workload profile %s does not exist in environment %s", opts.Name, name)
	}
	profiles, err := e.upsertProfile(ctx, env, opts)
	if err != nil {
		return nil, err
	}
	return e.patchProfiles(ctx, rg, name, profiles, noWait)
}

// DeleteProfile removes a workload profile. The Consumption profile cannot
// be removed.
func (e *Environments) DeleteProfile(ctx context.Context, rg, name, profile string, noWait bool) (*envelope.ManagedEnvironment, error) {
	if strings.EqualFold(profile, envelope.WorkloadProfileConsumption) {
		return nil, apperrors.Validation("cannot delete the %s workload profile", envelope.WorkloadProfileConsumption)
	}
	env, err := e.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if _, ok := env.WorkloadProfile(profile); !ok {
		return nil, apperrors.NotFound("workload profile %s does not exist in environment %s", profile, name)
	}
	profiles := slices.DeleteFunc(slices.Clone(env.Properties.WorkloadProfiles), func(wp envelope.WorkloadProfile) bool {
		return strings.EqualFold(wp.Name, profile)
	})
	return e.patchProfiles(ctx, rg, name, profiles, noWait)
}

// upsertProfile returns the profile list of env with opts applied. A new
// profile must have a type offered in the environment's location.
func (e *Environments) upsertProfile(ctx context.Context, env *envelope.ManagedEnvironment, opts WorkloadProfileOptions) ([]envelope.WorkloadProfile, error) {
	if !env.HasWorkloadProfiles() {
		return nil, apperrors.Validation("environment %s does not support workload profiles", env.Name)
	}
	profiles := slices.Clone(env.Properties.WorkloadProfiles)
	for i := range profiles {
		if strings.EqualFold(profiles[i].Name, opts.Name) {
			setIfPresent(&profiles[i].MinimumCount, opts.MinimumCount)
			setIfPresent(&profiles[i].MaximumCount, opts.MaximumCount)
			return profiles, nil
		}
	}
	profileType, err := e.supportedProfileType(ctx, env.Location, opts.Type)
	if err != nil {
		return nil, err
	}
	return append(profiles, envelope.WorkloadProfile{
		Name:                opts.Name,
		WorkloadProfileType: profileType,
		MinimumCount:        opts.MinimumCount,
		MaximumCount:        opts.MaximumCount,
	}), nil
}

// supportedProfileType returns the canonical name of profileType in
// location.
func (e *Environments) supportedProfileType(ctx context.Context, location, profileType string) (string, error) {
	supported, err := e.Clients.WorkloadProfiles.ListSupported(ctx, validate.NormalizeLocation(location))
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(supported))
	for _, s := range supported {
		if strings.EqualFold(s.Name, profileType) {
			return s.Name, nil
		}
		names = append(names, s.Name)
	}
	return "", apperrors.Validation("workload profile type %s is not supported in %s; supported types: %s", profileType, location, strings.Join(names, ", "))
}

func (e *Environments) patchProfiles(ctx context.Context, rg, name string, profiles []envelope.WorkloadProfile, noWait bool) (*envelope.ManagedEnvironment, error) {
	patch := &envelope.ManagedEnvironment{}
	patch.EnsureProperties().WorkloadProfiles = profiles
	return e.Clients.Environments.Update(ctx, rg, name, patch, noWait)
}

// SetDaprComponent creates or replaces a dapr component from a YAML
// document. Component fields may sit at the top level or under
// "properties".
func (e *Environments) SetDaprComponent(ctx context.Context, rg, env, name, path string) (*envelope.DaprComponent, error) {
	if _, err := e.Show(ctx, rg, env); err != nil {
		return nil, err
	}
	doc, err := e.Loader.Load(path, loader.KindRaw)
	if err != nil {
		return nil, err
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		doc = props
	}
	merge.StripReadOnly(doc)
	props, err := merge.Decode[envelope.DaprComponentProperties](doc)
	if err != nil {
		return nil, err
	}
	if props.ComponentType == "" || props.Version == "" {
		return nil, apperrors.Validation("dapr component %s requires componentType and version", name)
	}
	return e.Clients.DaprComponents.CreateOrUpdate(ctx, rg, env, name, &envelope.DaprComponent{Properties: props})
}

// ShowDaprComponent returns a dapr component.
func (e *Environments) ShowDaprComponent(ctx context.Context, rg, env, name string) (*envelope.DaprComponent, error) {
	comp, found, err := e.Clients.DaprComponents.Show(ctx, rg, env, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("dapr component %s does not exist in environment %s", name, env)
	}
	return comp, nil
}

// ListDaprComponents lists the dapr components of an environment.
func (e *Environments) ListDaprComponents(ctx context.Context, rg, env string) ([]envelope.DaprComponent, error) {
	return e.Clients.DaprComponents.List(ctx, rg, env)
}

// RemoveDaprComponent deletes a dapr component.
func (e *Environments) RemoveDaprComponent(ctx context.Context, rg, env, name string) error {
	if _, err := e.ShowDaprComponent(ctx, rg, env, name); err != nil {
		return err
	}
	if err := e.Clients.DaprComponents.Delete(ctx, rg, env, name); err != nil {
		return err
	}
	e.logger.Info("Dapr component removed", zap.String("component", name), zap.String("environment", env))
	return nil
}

// StorageOptions describe an Azure Files share. Unset fields of an
// existing storage keep their value.
type StorageOptions struct {
	AccountName string
	AccountKey  string
	ShareName   string
	AccessMode  string `validate:"omitempty,oneof=ReadOnly ReadWrite"`
}

// SetStorage creates or updates an environment storage.
func (e *Environments) SetStorage(ctx context.Context, rg, env, name string, opts StorageOptions) (*envelope.ManagedEnvironmentStorage, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	current, found, err := e.Clients.Storages.Show(ctx, rg, env, name)
	if err != nil {
		return nil, err
	}
	file := &envelope.AzureFileProperties{}
	if found && current.Properties != nil && current.Properties.AzureFile != nil {
		file = current.Properties.AzureFile
	}
	if opts.AccountName != "" {
		file.AccountName = opts.AccountName
	}
	if opts.AccountKey != "" {
		file.AccountKey = opts.AccountKey
	}
	if opts.ShareName != "" {
		file.ShareName = opts.ShareName
	}
	if opts.AccessMode != "" {
		file.AccessMode = opts.AccessMode
	}
	if file.AccountName == "" || file.AccountKey == "" || file.ShareName == "" || file.AccessMode == "" {
		return nil, apperrors.RequiredArgument("usage error: --account-name, --account-key, --share-name and --access-mode are required for a new storage")
	}
	return e.Clients.Storages.CreateOrUpdate(ctx, rg, env, name, &envelope.ManagedEnvironmentStorage{
		Properties: &envelope.StorageProperties{AzureFile: file},
	})
}

// ShowStorage returns an environment storage.
func (e *Environments) ShowStorage(ctx context.Context, rg, env, name string) (*envelope.ManagedEnvironmentStorage, error) {
	st, found, err := e.Clients.Storages.Show(ctx, rg, env, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("storage %s does not exist in environment %s", name, env)
	}
	return st, nil
}

// ListStorages lists the storages of an environment.
func (e *Environments) ListStorages(ctx context.Context, rg, env string) ([]envelope.ManagedEnvironmentStorage, error) {
	return e.Clients.Storages.List(ctx, rg, env)
}

// RemoveStorage deletes an environment storage.
func (e *Environments) RemoveStorage(ctx context.Context, rg, env, name string) error {
	if _, err := e.ShowStorage(ctx, rg, env, name); err != nil {
		return err
	}
	return e.Clients.Storages.Delete(ctx, rg, env, name)
}
