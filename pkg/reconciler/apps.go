package reconciler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/identity"
	"github.com/flavioaiello/containerapps/pkg/loader"
	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Apps manages container apps.
type Apps struct {
	*base
}

// DaprOptions are the sidecar flags of create and dapr enable.
type DaprOptions struct {
	AppID              string
	AppPort            *int32
	AppProtocol        string `validate:"omitempty,oneof=http grpc http2 grpcs https"`
	HTTPReadBufferSize *int32
	HTTPMaxRequestSize *int32
	LogLevel           string `validate:"omitempty,oneof=debug info warn error"`
	EnableAPILogging   *bool
}

func (o DaprOptions) dapr() *envelope.Dapr {
	return &envelope.Dapr{
		Enabled:            envelope.Ptr(true),
		AppID:              o.AppID,
		AppPort:            o.AppPort,
		AppProtocol:        o.AppProtocol,
		HTTPReadBufferSize: o.HTTPReadBufferSize,
		HTTPMaxRequestSize: o.HTTPMaxRequestSize,
		LogLevel:           o.LogLevel,
		EnableAPILogging:   o.EnableAPILogging,
	}
}

// CreateAppOptions is the create intent.
type CreateAppOptions struct {
	ResourceGroup string
	Name          string
	// Environment is a name or id; a YAML document may carry it instead.
	Environment string
	// YAML is a document path; when set the container flags are ignored.
	YAML           string
	Container      merge.ContainerPatch
	Scale          merge.ScalePatch
	Ingress        validate.IngressFlags
	RevisionsMode  string
	RevisionSuffix string
	Secrets        []string
	Registry       validate.RegistryFlags
	Dapr           *DaprOptions
	SystemIdentity bool
	UserIdentities []string
	Tags           map[string]string
	// WorkloadProfile defaults to the environment's Consumption profile.
	WorkloadProfile        string
	TerminationGracePeriod *int64
	NoWait                 bool
}

func (o *CreateAppOptions) check() error {
	if o.ResourceGroup == "" {
		return apperrors.RequiredArgument("--resource-group is required")
	}
	if err := validate.Name(o.Name); err != nil {
		return err
	}
	if o.YAML != "" {
		return nil
	}
	if o.Environment == "" {
		return apperrors.RequiredArgument("usage error: --environment is required if not using --yaml")
	}
	if err := o.Ingress.Check(false); err != nil {
		return err
	}
	if err := o.Registry.Check(o.NoWait); err != nil {
		return err
	}
	if err := validate.ReplicaBounds(o.Scale.MinReplicas, o.Scale.MaxReplicas); err != nil {
		return err
	}
	if o.RevisionSuffix != "" {
		if err := validate.RevisionSuffix(o.RevisionSuffix); err != nil {
			return err
		}
	}
	switch strings.ToLower(o.RevisionsMode) {
	case "", envelope.RevisionModeSingle, envelope.RevisionModeMultiple:
	default:
		return apperrors.Validation("invalid --revisions-mode %q: must be single or multiple", o.RevisionsMode)
	}
	if o.Dapr != nil {
		if err := validate.Struct(o.Dapr); err != nil {
			return err
		}
	}
	return nil
}

// Create creates a container app from flags or a YAML document.
func (a *Apps) Create(ctx context.Context, opts CreateAppOptions) (*envelope.ContainerApp, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}

	registryIdentity := opts.Registry.Identity
	systemRegistry := identity.IsSystem(registryIdentity)
	if registryIdentity != "" && !systemRegistry {
		registryIdentity = identity.ResourceID(a.subscriptionID, opts.ResourceGroup, registryIdentity)
		if !containsFold(opts.UserIdentities, registryIdentity) {
			opts.UserIdentities = append(opts.UserIdentities, registryIdentity)
		}
		a.assignIdentityAcrPull(ctx, opts.Registry.Server, registryIdentity)
	}

	if opts.YAML != "" {
		return a.createFromYAML(ctx, opts)
	}

	env, envID, err := a.readyEnvironment(ctx, opts.ResourceGroup, opts.Environment, false)
	if err != nil {
		return nil, err
	}
	if err := a.checkLocation(ctx, validate.ResourceTypeContainerApps, env.Location); err != nil {
		return nil, err
	}

	profile, err := workloadProfileFor(env, opts.WorkloadProfile)
	if err != nil {
		return nil, err
	}

	secrets, err := merge.ParseSecrets(opts.Secrets)
	if err != nil {
		return nil, err
	}

	var registries []envelope.RegistryCredentials
	if opts.Registry.Server != "" {
		switch {
		case systemRegistry:
			// Registered after the identity exists.
		case registryIdentity != "":
			registries = append(registries, merge.RegistryWithIdentity(opts.Registry.Server, registryIdentity))
		default:
			reg, out, err := a.passwordRegistry(ctx, secrets, opts.Registry)
			if err != nil {
				return nil, err
			}
			secrets = out
			registries = append(registries, reg)
		}
	}

	patch := opts.Container
	if patch.Name == "" {
		patch.Name = opts.Name
	}
	if patch.Image == "" {
		patch.Image = DefaultImage
	}
	// Dedicated profiles accept any shape.
	if !env.HasWorkloadProfiles() || strings.EqualFold(profile, envelope.WorkloadProfileConsumption) {
		patch.CPU, patch.Memory = validate.CoerceResources(patch.CPU, patch.Memory, a.logger)
	}
	containers, volumes, _, err := patch.Apply(nil, nil)
	if err != nil {
		return nil, err
	}
	merge.FillEmptyEnvValues(containers)

	scale, err := opts.Scale.Apply(nil)
	if err != nil {
		return nil, err
	}

	users := identity.ResourceIDs(a.subscriptionID, opts.ResourceGroup, opts.UserIdentities)
	users, _ = identity.Dedupe(users)
	state, _ := identity.State{Type: identity.None}.Assign(opts.SystemIdentity || systemRegistry, users)

	app := &envelope.ContainerApp{
		Location: env.Location,
		Tags:     opts.Tags,
		Properties: &envelope.ContainerAppProperties{
			EnvironmentID:       envID,
			WorkloadProfileName: profile,
			Configuration: &envelope.Configuration{
				Secrets:             secrets,
				ActiveRevisionsMode: opts.RevisionsMode,
				Ingress:             ingressFromFlags(opts.Ingress),
				Registries:          registries,
			},
			Template: &envelope.Template{
				TerminationGracePeriodSeconds: opts.TerminationGracePeriod,
				Containers:                    containers,
				Scale:                         scale,
				Volumes:                       volumes,
			},
		},
	}
	if state.Type != identity.None {
		app.Identity = state.Envelope()
	}
	if opts.RevisionSuffix != "" {
		app.Properties.Template.RevisionSuffix = envelope.Value(opts.RevisionSuffix)
	}
	if opts.Dapr != nil {
		app.Properties.Configuration.Dapr = opts.Dapr.dapr()
	}

	if unresolved := merge.UnresolvedVolumeMounts(containers, volumes); len(unresolved) > 0 {
		return nil, apperrors.Validation("volume mounts reference undefined volumes: %s", strings.Join(unresolved, ", "))
	}

	var created *envelope.ContainerApp
	if systemRegistry {
		created, err = a.createWithSystemRegistry(ctx, opts, app)
	} else {
		created, err = a.Clients.Apps.CreateOrUpdate(ctx, opts.ResourceGroup, opts.Name, app, opts.NoWait)
	}
	if err != nil {
		return nil, err
	}
	a.reportEndpoint(created, opts.NoWait)
	return created, nil
}

// createWithSystemRegistry creates the app on the quickstart image, waits
// for its system identity, grants it AcrPull and then applies the real
// images pulled with that identity.
func (a *Apps) createWithSystemRegistry(ctx context.Context, opts CreateAppOptions, app *envelope.ContainerApp) (*envelope.ContainerApp, error) {
	images := make([]string, len(app.Properties.Template.Containers))
	for i := range app.Properties.Template.Containers {
		images[i] = app.Properties.Template.Containers[i].Image
		app.Properties.Template.Containers[i].Image = DefaultImage
	}
	suffix := app.Properties.Template.RevisionSuffix
	app.Properties.Template.RevisionSuffix = envelope.Nullable[string]{}

	if _, err := a.Clients.Apps.CreateOrUpdate(ctx, opts.ResourceGroup, opts.Name, app, false); err != nil {
		return nil, err
	}
	ready, err := a.waitApp(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}
	if ready.Identity == nil || ready.Identity.PrincipalID == "" {
		return nil, apperrors.Internal("container app %s has no system assigned identity principal", opts.Name)
	}
	if err := a.assignAcrPull(ctx, opts.Registry.Server, ready.Identity.PrincipalID); err != nil {
		return nil, err
	}

	for i := range app.Properties.Template.Containers {
		app.Properties.Template.Containers[i].Image = images[i]
	}
	app.Properties.Template.RevisionSuffix = suffix
	cfg := app.EnsureConfiguration()
	cfg.Registries = merge.SetRegistry(cfg.Registries, merge.RegistryWithIdentity(opts.Registry.Server, merge.RegistryIdentitySystem))
	return a.Clients.Apps.CreateOrUpdate(ctx, opts.ResourceGroup, opts.Name, app, false)
}

// waitApp polls the app until it leaves the InProgress state.
func (a *Apps) waitApp(ctx context.Context, rg, name string) (*envelope.ContainerApp, error) {
	for {
		app, found, err := a.Clients.Apps.Show(ctx, rg, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperrors.NotFound("container app %s was not found", name)
		}
		if !strings.EqualFold(app.ProvisioningState(), envelope.StateInProgress) {
			return app, nil
		}
		if err := a.Poller.Sleep(ctx, AppPollInterval); err != nil {
			return nil, err
		}
	}
}

// passwordRegistry turns username/password flags into a registry entry
// and its coupled secret. An ACR server without credentials uses the
// admin credentials of the registry.
func (b *base) passwordRegistry(ctx context.Context, secrets []envelope.Secret, flags validate.RegistryFlags) (envelope.RegistryCredentials, []envelope.Secret, error) {
	user, password := flags.Username, flags.Password
	if user == "" && password == "" {
		if !validate.IsACRServer(flags.Server) {
			return envelope.RegistryCredentials{}, nil, apperrors.RequiredArgument("usage error: --registry-username and --registry-password are required for non-Azure registries")
		}
		var err error
		user, password, err = b.acrCredentials(ctx, flags.Server)
		if err != nil {
			return envelope.RegistryCredentials{}, nil, err
		}
	}
	out, name, _, err := merge.StorePassword(secrets, flags.Server, user, password, true)
	if err != nil {
		return envelope.RegistryCredentials{}, nil, err
	}
	return envelope.RegistryCredentials{Server: flags.Server, Username: user, PasswordSecretRef: name}, out, nil
}

// acrCredentials reads the admin credentials of an ACR server.
func (b *base) acrCredentials(ctx context.Context, server string) (string, string, error) {
	id, err := b.registryID(ctx, server)
	if err != nil {
		return "", "", apperrors.RequiredArgument("unable to retrieve the credentials of %s, provide --registry-username and --registry-password: %v", server, err)
	}
	rid, err := envelope.ParseResourceID(id)
	if err != nil {
		return "", "", err
	}
	b.logger.Info("No credential was provided to access the registry, using admin credentials",
		zap.String("registry", rid.Name),
	)
	creds, err := b.Clients.Registries.ListCredentials(ctx, rid.ResourceGroup, rid.Name)
	if err != nil {
		return "", "", err
	}
	if creds.Username == "" || len(creds.Passwords) == 0 {
		return "", "", apperrors.RequiredArgument("registry %s has no admin credentials, provide --registry-username and --registry-password", rid.Name)
	}
	return creds.Username, creds.Passwords[0].Value, nil
}

func (a *Apps) createFromYAML(ctx context.Context, opts CreateAppOptions) (*envelope.ContainerApp, error) {
	doc, err := a.Loader.Load(opts.YAML, loader.KindApp)
	if err != nil {
		return nil, err
	}
	if err := merge.CheckType(doc, envelope.TypeContainerApp); err != nil {
		return nil, err
	}
	name := opts.Name
	if docName := merge.StringOf(doc, "name"); docName != "" && !strings.EqualFold(docName, opts.Name) {
		a.logger.Warn("The app name in the document differs from --name; using the document name",
			zap.String("document", docName),
			zap.String("name", opts.Name),
		)
		name = docName
	}

	envRef := merge.EnvironmentIDOf(doc)
	switch {
	case envRef == "":
		envRef = opts.Environment
	case opts.Environment != "" && !strings.EqualFold(lastSegment(envRef), lastSegment(opts.Environment)):
		a.logger.Warn("The environment in the document differs from --environment; using the document environment",
			zap.String("document", envRef),
			zap.String("environment", opts.Environment),
		)
	}
	if envRef == "" {
		return nil, apperrors.RequiredArgument("environmentId is required in the document or through --environment")
	}
	env, envID, err := a.readyEnvironment(ctx, opts.ResourceGroup, envRef, false)
	if err != nil {
		return nil, err
	}
	merge.SetEnvironmentID(doc, envID)
	merge.StripReadOnly(doc)
	merge.StripAdditionalProperties(doc)

	app, err := merge.Decode[envelope.ContainerApp](merge.PruneDocument(doc))
	if err != nil {
		return nil, err
	}
	app.StripReadOnly()
	if app.Location == "" {
		app.Location = env.Location
	}
	if err := a.checkLocation(ctx, validate.ResourceTypeContainerApps, app.Location); err != nil {
		return nil, err
	}
	if tpl := app.Properties.Template; tpl != nil {
		merge.FillEmptyEnvValues(tpl.Containers)
		if unresolved := merge.UnresolvedVolumeMounts(tpl.Containers, tpl.Volumes); len(unresolved) > 0 {
			return nil, apperrors.Validation("volume mounts reference undefined volumes: %s", strings.Join(unresolved, ", "))
		}
	}

	created, err := a.Clients.Apps.CreateOrUpdate(ctx, opts.ResourceGroup, name, app, opts.NoWait)
	if err != nil {
		return nil, err
	}
	a.reportEndpoint(created, opts.NoWait)
	return created, nil
}

// UpdateAppOptions is the update intent. Unset fields keep the remote
// value.
type UpdateAppOptions struct {
	ResourceGroup string
	Name          string
	// YAML replaces the app with a document.
	YAML string
	// FromRevision starts the new template from an existing revision.
	FromRevision string
	Container    merge.ContainerPatch
	Scale        merge.ScalePatch
	// RevisionSuffix nil lets the service generate a new suffix.
	RevisionSuffix         *string
	Ingress                validate.IngressFlags
	Registry               validate.RegistryFlags
	Tags                   map[string]string
	WorkloadProfile        string
	TerminationGracePeriod *int64
	NoWait                 bool
}

// revisionTemplate returns the template of revision, ready to start a new
// revision of app from.
func (a *Apps) revisionTemplate(ctx context.Context, rg, app, revision string) (*envelope.Template, error) {
	rev, found, err := a.Clients.Apps.ShowRevision(ctx, rg, app, revision)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("revision %s was not found in container app %s", revision, app)
	}
	return merge.CopyRevisionTemplate(rev, app)
}

// Update patches a container app.
func (a *Apps) Update(ctx context.Context, opts UpdateAppOptions) (*envelope.ContainerApp, error) {
	if err := validate.ReplicaBounds(opts.Scale.MinReplicas, opts.Scale.MaxReplicas); err != nil {
		return nil, err
	}
	if opts.RevisionSuffix != nil && *opts.RevisionSuffix != "" {
		if err := validate.RevisionSuffix(*opts.RevisionSuffix); err != nil {
			return nil, err
		}
	}
	if err := opts.Registry.Check(opts.NoWait); err != nil {
		return nil, err
	}
	existing, err := a.Show(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}
	if opts.YAML != "" {
		return a.updateFromYAML(ctx, opts, existing)
	}
	if err := opts.Ingress.Check(existing.Ingress() != nil); err != nil {
		return nil, err
	}

	tpl := existing.EnsureTemplate()
	if opts.FromRevision != "" {
		if tpl, err = a.revisionTemplate(ctx, opts.ResourceGroup, opts.Name, opts.FromRevision); err != nil {
			return nil, err
		}
	}

	if !opts.Container.IsZero() {
		patch := opts.Container
		if patch.CPU != nil || patch.Memory != "" {
			if a.consumptionProfile(ctx, existing, opts.WorkloadProfile) {
				patch.CPU, patch.Memory = validate.CoerceResources(patch.CPU, patch.Memory, a.logger)
			}
		}
		containers, volumes, missing, err := patch.Apply(tpl.Containers, tpl.Volumes)
		if err != nil {
			return nil, err
		}
		for _, name := range missing {
			a.logger.Warn("Environment variable does not exist in the container", zap.String("env", name))
		}
		tpl.Containers, tpl.Volumes = containers, volumes
	}
	if tpl.Scale, err = opts.Scale.Apply(tpl.Scale); err != nil {
		return nil, err
	}
	if opts.TerminationGracePeriod != nil {
		tpl.TerminationGracePeriodSeconds = opts.TerminationGracePeriod
	}
	tpl.RevisionSuffix = merge.RevisionSuffix(opts.RevisionSuffix)
	merge.FillEmptyEnvValues(tpl.Containers)
	merge.FillEmptyEnvValues(tpl.InitContainers)

	patch := &envelope.ContainerApp{
		Properties: &envelope.ContainerAppProperties{Template: tpl},
	}
	if opts.Tags != nil {
		patch.Tags = merge.MergeTags(existing.Tags, opts.Tags)
	}
	if ing := ingressPatch(opts.Ingress); ing != nil {
		patch.EnsureConfiguration().Ingress = ing
	}
	if opts.Registry.Server != "" {
		cfg, err := a.registryUpdate(ctx, opts.ResourceGroup, existing, opts.Registry)
		if err != nil {
			return nil, err
		}
		c := patch.EnsureConfiguration()
		c.Registries, c.Secrets = cfg.Registries, cfg.Secrets
	}
	if opts.WorkloadProfile != "" {
		env, err := a.appEnvironment(ctx, opts.ResourceGroup, existing)
		if err != nil {
			return nil, err
		}
		if _, err := workloadProfileFor(env, opts.WorkloadProfile); err != nil {
			return nil, err
		}
		patch.Properties.WorkloadProfileName = opts.WorkloadProfile
	}

	updated, err := a.Clients.Apps.Update(ctx, opts.ResourceGroup, opts.Name, patch, opts.NoWait)
	if err != nil {
		return nil, err
	}
	a.reportEndpoint(updated, opts.NoWait)
	return updated, nil
}

func (a *Apps) updateFromYAML(ctx context.Context, opts UpdateAppOptions, existing *envelope.ContainerApp) (*envelope.ContainerApp, error) {
	doc, err := a.Loader.Load(opts.YAML, loader.KindApp)
	if err != nil {
		return nil, err
	}
	if err := merge.CheckType(doc, envelope.TypeContainerApp); err != nil {
		return nil, err
	}
	if envID := merge.EnvironmentIDOf(doc); envID != "" {
		current := existing.Properties.EnvironmentID
		if current == "" {
			current = existing.Properties.ManagedEnvironmentID
		}
		if !strings.EqualFold(envID, current) {
			return nil, apperrors.Validation("the environment of a container app cannot be changed; the document names %s", envID)
		}
		merge.DropEnvironmentID(doc)
	}

	values, err := a.Clients.Apps.ListSecrets(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}
	patch, err := merge.PrepareAppPatch(doc, values)
	if err != nil {
		return nil, err
	}
	patch.StripReadOnly()
	if opts.FromRevision != "" {
		// The revision template replaces the document template.
		tpl, err := a.revisionTemplate(ctx, opts.ResourceGroup, opts.Name, opts.FromRevision)
		if err != nil {
			return nil, err
		}
		tpl.RevisionSuffix = merge.RevisionSuffix(opts.RevisionSuffix)
		patch.EnsureProperties().Template = tpl
	}
	if p := patch.Properties; p != nil && p.Template != nil {
		tpl := p.Template
		if tpl.RevisionSuffix.IsZero() {
			tpl.RevisionSuffix = merge.RevisionSuffix(opts.RevisionSuffix)
		}
		merge.FillEmptyEnvValues(tpl.Containers)
		merge.FillEmptyEnvValues(tpl.InitContainers)
	}

	updated, err := a.Clients.Apps.Update(ctx, opts.ResourceGroup, opts.Name, patch, opts.NoWait)
	if err != nil {
		return nil, err
	}
	a.reportEndpoint(updated, opts.NoWait)
	return updated, nil
}

// Delete deletes the app. Deleting a missing app succeeds.
func (a *Apps) Delete(ctx context.Context, rg, name string, noWait bool) error {
	err := a.Clients.Apps.Delete(ctx, rg, name, noWait)
	if apperrors.IsNotFound(err) {
		a.logger.Info("Container app does not exist", zap.String("app", name))
		return nil
	}
	return err
}

// Show returns the app or a ResourceNotFound error.
func (a *Apps) Show(ctx context.Context, rg, name string) (*envelope.ContainerApp, error) {
	app, found, err := a.Clients.Apps.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("the containerapp '%s' does not exist", name)
	}
	return app, nil
}

// List lists apps in rg, or in the subscription when rg is empty. A
// non-empty environment keeps only the apps in that environment.
func (a *Apps) List(ctx context.Context, rg, environment string) ([]envelope.ContainerApp, error) {
	var apps []envelope.ContainerApp
	var err error
	if rg == "" {
		apps, err = a.Clients.Apps.ListBySubscription(ctx)
	} else {
		apps, err = a.Clients.Apps.ListByResourceGroup(ctx, rg)
	}
	if err != nil || environment == "" {
		return apps, err
	}

	out := apps[:0]
	for _, app := range apps {
		if app.Properties == nil {
			continue
		}
		id := app.Properties.EnvironmentID
		if id == "" {
			id = app.Properties.ManagedEnvironmentID
		}
		if strings.EqualFold(id, environment) || strings.EqualFold(lastSegment(id), environment) {
			out = append(out, app)
		}
	}
	return out, nil
}

// appEnvironment shows the environment an app lives in.
func (b *base) appEnvironment(ctx context.Context, rg string, app *envelope.ContainerApp) (*envelope.ManagedEnvironment, error) {
	id := ""
	if app.Properties != nil {
		id = app.Properties.EnvironmentID
		if id == "" {
			id = app.Properties.ManagedEnvironmentID
		}
	}
	if id == "" {
		return nil, apperrors.Internal("container app %s does not name its environment", app.Name)
	}
	env, _, err := b.readyEnvironment(ctx, rg, id, true)
	return env, err
}

// consumptionProfile reports whether cpu and memory must follow the
// consumption grid for app.
func (a *Apps) consumptionProfile(ctx context.Context, app *envelope.ContainerApp, profile string) bool {
	if profile == "" && app.Properties != nil {
		profile = app.Properties.WorkloadProfileName
	}
	if profile != "" {
		return strings.EqualFold(profile, envelope.WorkloadProfileConsumption)
	}
	env, err := a.appEnvironment(ctx, "", app)
	if err != nil {
		return true
	}
	return !env.HasWorkloadProfiles()
}

// reportEndpoint logs where the app can be reached.
func (a *Apps) reportEndpoint(app *envelope.ContainerApp, noWait bool) {
	if noWait || app == nil {
		return
	}
	if fqdn := app.Fqdn(); fqdn != "" {
		a.logger.Info("Container app is reachable", zap.String("app", app.Name), zap.String("url", "https://"+fqdn))
		return
	}
	if app.Ingress() == nil {
		a.logger.Warn("Ingress is not enabled; enable it to expose the container app", zap.String("app", app.Name))
	}
	if strings.EqualFold(app.ProvisioningState(), envelope.StateWaiting) {
		a.logger.Warn("Container app is waiting for capacity in the environment", zap.String("app", app.Name))
	}
}

// workloadProfileFor resolves the profile an app or job runs on.
// Environments without profiles take none.
func workloadProfileFor(env *envelope.ManagedEnvironment, profile string) (string, error) {
	if !env.HasWorkloadProfiles() {
		if profile != "" {
			return "", apperrors.Validation("environment %s does not support workload profiles", env.Name)
		}
		return "", nil
	}
	if profile == "" {
		return env.DefaultWorkloadProfileName(), nil
	}
	wp, ok := env.WorkloadProfile(profile)
	if !ok {
		return "", apperrors.Validation("workload profile %s does not exist in environment %s", profile, env.Name)
	}
	return wp.Name, nil
}

// ingressFromFlags returns the create ingress, or nil when --ingress is
// unset. The transport defaults to auto; exposedPort is sent only for tcp.
func ingressFromFlags(f validate.IngressFlags) *envelope.Ingress {
	if f.Ingress == "" {
		return nil
	}
	ing := &envelope.Ingress{
		External:   envelope.Ptr(strings.EqualFold(f.Ingress, validate.IngressExternal)),
		TargetPort: f.TargetPort,
		Transport:  strings.ToLower(f.Transport),
	}
	if ing.Transport == "" {
		ing.Transport = envelope.TransportAuto
	}
	if ing.Transport == envelope.TransportTCP && f.ExposedPort != nil {
		ing.ExposedPort = envelope.Value(*f.ExposedPort)
	}
	if f.AllowInsecure {
		ing.AllowInsecure = envelope.Ptr(true)
	}
	return ing
}

// ingressPatch returns the ingress fields set by f, or nil. exposedPort
// is cleared when the transport moves away from tcp.
func ingressPatch(f validate.IngressFlags) *envelope.Ingress {
	if f == (validate.IngressFlags{}) {
		return nil
	}
	ing := &envelope.Ingress{
		TargetPort: f.TargetPort,
		Transport:  strings.ToLower(f.Transport),
	}
	if f.Ingress != "" {
		ing.External = envelope.Ptr(strings.EqualFold(f.Ingress, validate.IngressExternal))
	}
	switch {
	case ing.Transport == envelope.TransportTCP && f.ExposedPort != nil:
		ing.ExposedPort = envelope.Value(*f.ExposedPort)
	case ing.Transport != "" && ing.Transport != envelope.TransportTCP:
		ing.ExposedPort = envelope.Null[int32]()
	}
	if f.AllowInsecure {
		ing.AllowInsecure = envelope.Ptr(true)
	}
	return ing
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func lastSegment(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
