package reconciler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/registry"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

const (
	helloWorldImage    = "mcr.microsoft.com/azuredocs/containerapps-helloworld"
	dockerfileName     = "Dockerfile"
	defaultGroupPrefix = "containerapps"
	environmentSuffix  = "-env"
	githubURLPrefix    = "https://github.com/"
	defaultBranch      = "main"
	repoOS             = "Linux"
)

// groupSuffix returns the random suffix of generated resource group names.
var groupSuffix = func() int { return rand.IntN(10000) }

// Up takes a source directory, an image or a repository to a running app.
type Up struct {
	*base
	apps *Apps
	envs *Environments
}

// UpOptions is the up intent.
type UpOptions struct {
	Name          string
	ResourceGroup string
	// Environment is a name or id; empty finds or creates one.
	Environment string
	Location    string
	Image       string
	Source      string
	Repo        string
	Branch      string
	// Token is the GitHub token used with Repo; empty reads the cache.
	Token string
	// ServicePrincipal signs the repository workflow in; an incomplete
	// one is created through the WorkflowWatcher.
	ServicePrincipal ServicePrincipal
	ContextPath      string
	Ingress     string
	TargetPort  *int32
	Registry    validate.RegistryFlags
	EnvVars     []string
	// LogsCustomerID and LogsKey select or configure the log analytics
	// workspace of the environment.
	LogsCustomerID  string
	LogsKey         string
	WorkloadProfile string
	// User names generated resource groups.
	User string
}

func (o *UpOptions) check() error {
	if err := validate.Name(o.Name); err != nil {
		return err
	}
	if o.Source == "" && o.Image == "" && o.Repo == "" {
		return apperrors.RequiredArgument("usage error: --source, --image or --repo is required")
	}
	if o.Source != "" && o.Repo != "" {
		return apperrors.Validation("usage error: --source and --repo cannot be used together")
	}
	if o.Repo != "" && !strings.HasPrefix(strings.ToLower(o.Repo), githubURLPrefix) && strings.Count(o.Repo, "/") != 1 {
		return apperrors.Validation("invalid --repo %q: expected owner/name or a GitHub URL", o.Repo)
	}
	if o.Ingress != "" {
		if err := validate.Struct(validate.IngressFlags{Ingress: o.Ingress, TargetPort: o.TargetPort}); err != nil {
			return err
		}
	}
	if (o.LogsCustomerID == "") != (o.LogsKey == "") {
		return apperrors.RequiredArgument("usage error: --logs-workspace-id and --logs-workspace-key must be provided together")
	}
	return nil
}

// UpResult reports what an up run did.
type UpResult struct {
	App           *envelope.ContainerApp
	ResourceGroup string
	Environment   string
	Registry      string
	Image         string
	// Created is set when the app did not exist before.
	Created   bool
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns how long the run took.
func (r *UpResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// URL returns the browse URL of the app, or "" without ingress.
func (r *UpResult) URL() string {
	if r.App == nil || r.App.Fqdn() == "" {
		return ""
	}
	return "http://" + r.App.Fqdn()
}

// upTarget is where the app lands.
type upTarget struct {
	rg       string
	rgExists bool
	env      string
	location string
}

// Run executes the up flow.
func (u *Up) Run(ctx context.Context, opts UpOptions) (*UpResult, error) {
	result := &UpResult{StartTime: time.Now()}
	if err := opts.check(); err != nil {
		return nil, err
	}
	u.defaultIngress(&opts)
	if opts.Source != "" {
		if err := u.ingressFromDockerfile(&opts); err != nil {
			return nil, err
		}
	}

	target := upTarget{rg: opts.ResourceGroup, env: opts.Environment, location: validate.NormalizeLocation(opts.Location)}
	var err error
	if target.rg != "" {
		if target.rgExists, err = u.groupExists(ctx, target.rg); err != nil {
			return nil, err
		}
	}
	if err := u.locate(ctx, opts, &target); err != nil {
		return nil, err
	}
	if err := u.ensureGroup(ctx, opts, &target); err != nil {
		return nil, err
	}
	env, envID, err := u.ensureEnvironment(ctx, opts, &target)
	if err != nil {
		return nil, err
	}
	result.ResourceGroup = target.rg
	result.Environment = envID

	existing, found, err := u.Clients.Apps.Show(ctx, target.rg, opts.Name)
	if err != nil {
		return nil, err
	}
	if found && isProvisioning(existing.ProvisioningState()) {
		return nil, apperrors.Validation("containerapp %s is currently being provisioned, wait for the operation to finish and retry", opts.Name)
	}
	if !found {
		existing = nil
	}

	reg, err := u.resolveRegistry(ctx, opts, existing, target, env)
	if err != nil {
		return nil, err
	}
	image := opts.Image
	if opts.Source != "" {
		if image, err = u.build(ctx, opts, reg); err != nil {
			return nil, err
		}
	}
	if opts.Repo != "" && image == "" {
		image = DefaultImage
	}
	result.Image = image

	regFlags := validate.RegistryFlags{}
	if reg != nil {
		result.Registry = reg.Server
		regFlags = validate.RegistryFlags{Server: reg.Server, Username: reg.Username, Password: reg.Password}
	}
	ingress := validate.IngressFlags{Ingress: opts.Ingress, TargetPort: opts.TargetPort}

	var app *envelope.ContainerApp
	if existing == nil {
		app, err = u.apps.Create(ctx, CreateAppOptions{
			ResourceGroup:   target.rg,
			Name:            opts.Name,
			Environment:     envID,
			Container:       merge.ContainerPatch{Name: opts.Name, Image: image, Env: merge.EnvPatch{Set: opts.EnvVars}},
			Ingress:         ingress,
			Registry:        regFlags,
			WorkloadProfile: opts.WorkloadProfile,
		})
		result.Created = true
	} else {
		app, err = u.apps.Update(ctx, UpdateAppOptions{
			ResourceGroup:   target.rg,
			Name:            opts.Name,
			Container:       merge.ContainerPatch{Name: opts.Name, Image: image, Env: merge.EnvPatch{Set: opts.EnvVars}},
			Ingress:         ingress,
			Registry:        regFlags,
			WorkloadProfile: opts.WorkloadProfile,
		})
	}
	if err != nil {
		return nil, err
	}
	result.App = app

	if opts.Repo != "" {
		if err := u.recordSourceControl(ctx, opts, target.rg, envID, reg); err != nil {
			return nil, err
		}
	}

	result.EndTime = time.Now()
	if url := result.URL(); url != "" {
		u.logger.Info("Browse to your container app", zap.String("url", url))
	}
	u.logger.Info("Up completed",
		zap.String("app", opts.Name),
		zap.String("resourceGroup", target.rg),
		zap.Bool("created", result.Created),
		zap.Duration("duration", result.Duration()),
	)
	return result, nil
}

// defaultIngress applies the image based ingress defaults.
func (u *Up) defaultIngress(opts *UpOptions) {
	if opts.Source != "" && opts.Image != "" {
		// The image is a repository name to build into.
		opts.Image = strings.ReplaceAll(lastSegment(opts.Image), ":", "")
		return
	}
	if opts.Image == "" {
		return
	}
	if strings.HasPrefix(strings.ToLower(opts.Image), helloWorldImage) && opts.Ingress == "" && opts.TargetPort == nil {
		opts.Ingress = validate.IngressExternal
		opts.TargetPort = envelope.Ptr(DefaultTargetPort)
		return
	}
	if opts.Ingress != "" && opts.TargetPort == nil {
		u.logger.Warn("No ingress target port given, using the default", zap.Int32("targetPort", DefaultTargetPort))
		opts.TargetPort = envelope.Ptr(DefaultTargetPort)
	}
}

// ingressFromDockerfile enables external ingress on the first EXPOSE port
// of the source Dockerfile when no ingress flag is given.
func (u *Up) ingressFromDockerfile(opts *UpOptions) error {
	if opts.Ingress != "" || opts.TargetPort != nil {
		return nil
	}
	port, found, err := exposedPort(filepath.Join(opts.Source, dockerfileName))
	if err != nil || !found {
		return err
	}
	u.logger.Info("Adding external ingress from the Dockerfile", zap.Int32("targetPort", port))
	opts.Ingress = validate.IngressExternal
	opts.TargetPort = envelope.Ptr(port)
	return nil
}

// exposedPort reads the first EXPOSE port of a Dockerfile. A missing file
// reports not found.
func exposedPort(path string) (int32, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Validation("cannot read %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		raw, _, _ := strings.Cut(fields[1], "/")
		port, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || port < 1 || port > 65535 {
			return 0, false, apperrors.Validation("invalid EXPOSE port %q in %s", fields[1], path)
		}
		return int32(port), true, nil
	}
	return 0, false, scanner.Err()
}

func (u *Up) groupExists(ctx context.Context, rg string) (bool, error) {
	if u.Groups == nil {
		return true, nil
	}
	resp, err := u.Groups.CheckExistence(ctx, rg, nil)
	if err != nil {
		return false, apperrors.FromSDK(err)
	}
	return resp.Success, nil
}

// locate fills the resource group and environment from existing
// resources: an app of the same name, an environment writing to the
// workspace, or an environment of the given name.
func (u *Up) locate(ctx context.Context, opts UpOptions, t *upTarget) error {
	if t.rg == "" || t.rgExists {
		if err := u.locateByApp(ctx, opts, t); err != nil {
			return err
		}
	}
	if t.env == "" && (opts.ResourceGroup == "" || t.rgExists) {
		if err := u.locateByLogs(ctx, opts, t); err != nil {
			return err
		}
	}
	if t.env != "" && t.rg == "" {
		if envelope.IsResourceID(t.env) {
			rg, _, _, err := u.environmentRef("", t.env)
			if err != nil {
				return err
			}
			t.rg = rg
			return nil
		}
		return u.locateByEnvironment(ctx, t)
	}
	return nil
}

func (u *Up) locateByApp(ctx context.Context, opts UpOptions, t *upTarget) error {
	var apps []envelope.ContainerApp
	var err error
	if t.rg == "" {
		apps, err = u.Clients.Apps.ListBySubscription(ctx)
	} else {
		apps, err = u.Clients.Apps.ListByResourceGroup(ctx, t.rg)
	}
	if err != nil {
		return err
	}
	var matched []envelope.ContainerApp
	for _, a := range apps {
		if !strings.EqualFold(a.Name, opts.Name) {
			continue
		}
		envID := ""
		if a.Properties != nil {
			envID = a.Properties.EnvironmentID
		}
		if t.env != "" && !strings.EqualFold(lastSegment(envID), lastSegment(t.env)) {
			continue
		}
		if t.location != "" && validate.NormalizeLocation(a.Location) != t.location {
			continue
		}
		matched = append(matched, a)
	}
	switch len(matched) {
	case 0:
		return nil
	case 1:
	default:
		return apperrors.Validation("there are multiple containerapps with name %s on the subscription, specify which resource group the containerapp is in", opts.Name)
	}
	rid, err := envelope.ParseResourceID(matched[0].ID)
	if err != nil {
		return apperrors.Internal("invalid container app id %q: %v", matched[0].ID, err)
	}
	t.rg, t.rgExists = rid.ResourceGroup, true
	if matched[0].Properties != nil && matched[0].Properties.EnvironmentID != "" {
		t.env = matched[0].Properties.EnvironmentID
	}
	u.logger.Debug("Found existing container app", zap.String("app", opts.Name), zap.String("resourceGroup", t.rg))
	return nil
}

func (u *Up) locateByLogs(ctx context.Context, opts UpOptions, t *upTarget) error {
	type candidate struct{ id, rg string }
	var found []candidate
	if opts.LogsCustomerID != "" && u.Discovery != nil {
		res, err := u.Discovery.FindEnvironmentsByLogAnalytics(ctx, opts.LogsCustomerID, t.location)
		if err != nil {
			return err
		}
		for _, r := range res {
			if t.rg == "" || strings.EqualFold(r.ResourceGroup, t.rg) {
				found = append(found, candidate{id: r.ID, rg: r.ResourceGroup})
			}
		}
	} else {
		var envs []envelope.ManagedEnvironment
		var err error
		if t.rg == "" {
			envs, err = u.Clients.Environments.ListBySubscription(ctx)
		} else {
			envs, err = u.Clients.Environments.ListByResourceGroup(ctx, t.rg)
		}
		if err != nil {
			return err
		}
		for i := range envs {
			e := &envs[i]
			if opts.LogsCustomerID != "" && e.LogAnalyticsCustomerID() != opts.LogsCustomerID {
				continue
			}
			if t.location != "" && validate.NormalizeLocation(e.Location) != t.location {
				continue
			}
			rid, err := envelope.ParseResourceID(e.ID)
			if err != nil {
				continue
			}
			found = append(found, candidate{id: e.ID, rg: rid.ResourceGroup})
		}
	}
	if len(found) == 0 {
		return nil
	}
	t.env = found[0].id
	t.rg, t.rgExists = found[0].rg, true
	u.logger.Debug("Using existing environment", zap.String("environment", t.env))
	return nil
}

func (u *Up) locateByEnvironment(ctx context.Context, t *upTarget) error {
	envs, err := u.Clients.Environments.ListBySubscription(ctx)
	if err != nil {
		return err
	}
	var ids []string
	for _, e := range envs {
		if e.Name != t.env {
			continue
		}
		if t.location != "" && validate.NormalizeLocation(e.Location) != t.location {
			continue
		}
		ids = append(ids, e.ID)
	}
	switch len(ids) {
	case 0:
		return nil
	case 1:
	default:
		return apperrors.Validation("there are multiple environments with name %s on the subscription, specify which resource group the environment is in", t.env)
	}
	rid, err := envelope.ParseResourceID(ids[0])
	if err != nil {
		return apperrors.Internal("invalid environment id %q: %v", ids[0], err)
	}
	t.rg, t.rgExists = rid.ResourceGroup, true
	t.env = ids[0]
	return nil
}

// ensureGroup creates the resource group when it does not exist, naming it
// after the user when none was given.
func (u *Up) ensureGroup(ctx context.Context, opts UpOptions, t *upTarget) error {
	if t.rg != "" && t.rgExists {
		u.logger.Info("Using resource group", zap.String("resourceGroup", t.rg))
		return nil
	}
	if u.Groups == nil {
		return fmt.Errorf("%w: resource group creation is not configured", ErrUnsupported)
	}
	if t.rg == "" {
		t.rg = GroupName(opts.User)
	}
	location := t.location
	if location == "" {
		location = registry.DefaultLocation
	}
	u.logger.Info("Creating resource group", zap.String("resourceGroup", t.rg), zap.String("location", location))
	if _, err := u.Groups.CreateOrUpdate(ctx, t.rg, armresources.ResourceGroup{Location: to.Ptr(location)}, nil); err != nil {
		return apperrors.FromSDK(err)
	}
	t.rgExists = true
	return nil
}

// GroupName derives a resource group name from a user principal:
// {user}_rg_{0000-9999}. Only the part before "@" and after "#" is kept.
func GroupName(user string) string {
	if i := strings.Index(user, "@"); i >= 0 {
		user = user[:i]
	}
	if i := strings.LastIndex(user, "#"); i >= 0 {
		user = user[i+1:]
	}
	user = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return -1
	}, user)
	if user == "" {
		user = defaultGroupPrefix
	}
	return fmt.Sprintf("%s_rg_%04d", user, groupSuffix())
}

// ensureEnvironment returns the ready environment, creating it when it
// does not exist. Without a location every supported region is tried.
func (u *Up) ensureEnvironment(ctx context.Context, opts UpOptions, t *upTarget) (*envelope.ManagedEnvironment, string, error) {
	if t.env == "" {
		t.env = strings.ReplaceAll(opts.Name, "_", "-") + environmentSuffix
	}
	envRG, name, _, err := u.environmentRef(t.rg, t.env)
	if err != nil {
		return nil, "", err
	}
	_, found, err := u.Clients.Environments.Show(ctx, envRG, name)
	if err != nil {
		return nil, "", err
	}
	if found {
		u.logger.Info("Using environment", zap.String("environment", name), zap.String("resourceGroup", envRG))
		return u.readyEnvironment(ctx, envRG, name, false)
	}

	create := CreateEnvironmentOptions{
		ResourceGroup: envRG,
		Name:          name,
		Flags: validate.EnvironmentFlags{
			LogsCustomerID: opts.LogsCustomerID,
			LogsKey:        opts.LogsKey,
		},
	}
	if opts.LogsCustomerID != "" {
		create.Flags.LogsDestination = envelope.LogsLogAnalytics
	}
	locations := []string{t.location}
	if t.location == "" {
		if locations, err = u.environmentLocations(ctx); err != nil {
			return nil, "", err
		}
	}
	for _, loc := range locations {
		create.Flags.Location = loc
		u.logger.Info("Creating environment", zap.String("environment", name), zap.String("location", loc))
		env, err := u.envs.Create(ctx, create)
		if err == nil {
			t.location = validate.NormalizeLocation(env.Location)
			id := env.ID
			if id == "" {
				id = envelope.EnvironmentID(u.subscriptionID, envRG, name)
			}
			return env, id, nil
		}
		if ctx.Err() != nil || len(locations) == 1 {
			return nil, "", err
		}
		u.logger.Info("Failed to create environment", zap.String("location", loc), zap.Error(err))
	}
	return nil, "", apperrors.Validation("can not find a region with quota to create the environment")
}

func (u *Up) environmentLocations(ctx context.Context) ([]string, error) {
	if u.Locations == nil {
		return []string{registry.DefaultLocation}, nil
	}
	locations, err := u.Locations.Supported(ctx, validate.ResourceTypeManagedEnvironments)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return []string{registry.DefaultLocation}, nil
	}
	return locations, nil
}

// resolveRegistry picks the registry the app pulls from. Images outside
// Azure container registries need none unless flags name one.
func (u *Up) resolveRegistry(ctx context.Context, opts UpOptions, app *envelope.ContainerApp, t upTarget, env *envelope.ManagedEnvironment) (*registry.Registry, error) {
	fromSource := opts.Source != "" || opts.Repo != ""
	server := opts.Registry.Server
	if server == "" {
		server = registry.ServerFromApp(app, fromSource)
	}
	if server == "" && opts.Image != "" && !fromSource {
		server = registry.ServerFromImage(opts.Image)
	}
	if server == "" && !fromSource {
		return nil, nil
	}
	if u.Registries == nil {
		return nil, fmt.Errorf("%w: registry lookup is not configured", ErrUnsupported)
	}

	envRG, envName, _, err := u.environmentRef(t.rg, t.env)
	if err != nil {
		return nil, err
	}
	reg, err := u.Registries.Resolve(ctx, registry.Request{
		Server:           server,
		Username:         opts.Registry.Username,
		Password:         opts.Registry.Password,
		FromSource:       fromSource,
		ResourceGroup:    t.rg,
		EnvResourceGroup: envRG,
		EnvName:          envName,
	})
	if err != nil {
		return nil, err
	}
	if opts.Repo != "" {
		if err := validate.RegistryNameForRepo(reg.Name); err != nil {
			return nil, err
		}
	}
	if reg.Create {
		location := t.location
		if env != nil && env.Location != "" {
			location = env.Location
		}
		if err := u.Registries.Create(ctx, reg, location); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// build runs the first usable builder on the source. Local builders are
// skipped when the source has a Dockerfile or the host lacks their
// tooling, and a failing local build falls through to the next builder.
func (u *Up) build(ctx context.Context, opts UpOptions, reg *registry.Registry) (string, error) {
	if reg == nil {
		return "", apperrors.Internal("source build without a registry")
	}
	image := opts.Image
	if image == "" {
		image = opts.Name
	}
	_, statErr := os.Stat(filepath.Join(opts.Source, dockerfileName))
	hasDockerfile := statErr == nil

	req := registry.BuildRequest{SourceDir: opts.Source, Image: image, Registry: reg}
	if opts.TargetPort != nil {
		req.TargetPort = *opts.TargetPort
	}
	var lastErr error
	for _, b := range u.Builders {
		local, isLocal := b.(LocalBuilder)
		if isLocal && (hasDockerfile || !local.Available(ctx)) {
			continue
		}
		built, err := b.Build(ctx, req)
		if err == nil {
			return built, nil
		}
		if !isLocal || ctx.Err() != nil {
			return "", err
		}
		u.logger.Warn("Local build failed, falling back to a registry build", zap.Error(err))
		lastErr = err
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: no source builder is configured", ErrUnsupported)
}

type githubActionConfig struct {
	RegistryInfo     *registryInfo     `json:"registryInfo,omitempty"`
	AzureCredentials *azureCredentials `json:"azureCredentials,omitempty"`
	ContextPath      string            `json:"contextPath,omitempty"`
	Image            string            `json:"image,omitempty"`
	OS               string            `json:"os,omitempty"`
	Token            string            `json:"githubPersonalAccessToken,omitempty"`
}

type azureCredentials struct {
	ClientID       string `json:"clientId,omitempty"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

type registryInfo struct {
	RegistryURL      string `json:"registryUrl,omitempty"`
	RegistryUserName string `json:"registryUserName,omitempty"`
	RegistryPassword string `json:"registryPassword,omitempty"`
}

// recordSourceControl stores the repository configuration of the app and,
// when a WorkflowWatcher is configured, waits for the deployment workflow.
func (u *Up) recordSourceControl(ctx context.Context, opts UpOptions, rg, envID string, reg *registry.Registry) error {
	token, err := u.repoToken(opts)
	if err != nil {
		return err
	}
	var envRG string
	if rid, err := envelope.ParseResourceID(envID); err == nil {
		envRG = rid.ResourceGroup
	}
	sp, err := u.servicePrincipal(ctx, opts, rg, envRG)
	if err != nil {
		return err
	}
	repoURL := opts.Repo
	if !strings.HasPrefix(strings.ToLower(repoURL), githubURLPrefix) {
		repoURL = githubURLPrefix + repoURL
	}
	branch := opts.Branch
	if branch == "" {
		branch = defaultBranch
	}
	cfg := githubActionConfig{
		ContextPath: opts.ContextPath,
		Image:       opts.Image,
		OS:          repoOS,
		Token:       token,
	}
	if cfg.ContextPath == "" {
		cfg.ContextPath = "./"
	}
	if reg != nil {
		cfg.RegistryInfo = &registryInfo{RegistryURL: reg.Server, RegistryUserName: reg.Username, RegistryPassword: reg.Password}
	}
	if sp != nil {
		cfg.AzureCredentials = &azureCredentials{
			ClientID:       sp.ClientID,
			ClientSecret:   sp.ClientSecret,
			TenantID:       sp.TenantID,
			SubscriptionID: u.subscriptionID,
		}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return apperrors.Internal("encoding github action configuration: %v", err)
	}
	u.logger.Info("Recording source control", zap.String("repo", repoURL), zap.String("branch", branch))
	_, err = u.Clients.SourceControls.CreateOrUpdate(ctx, rg, opts.Name, &envelope.SourceControl{
		Properties: &envelope.SourceControlProperties{
			RepoURL:                   repoURL,
			Branch:                    branch,
			GithubActionConfiguration: raw,
		},
	}, false)
	if err != nil {
		return err
	}
	if u.Workflows == nil {
		u.logger.Warn("Not following the repository workflow, no workflow watcher is configured", zap.String("repo", repoURL))
		return nil
	}
	return u.awaitWorkflow(ctx, repoName(repoURL), branch, opts.Name, token)
}

// repoName returns the owner/name part of a repository URL.
func repoName(repoURL string) string {
	parts := strings.Split(strings.Trim(repoURL, "/"), "/")
	if len(parts) < 2 {
		return repoURL
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

// repoToken returns the GitHub token for the repository, caching a given
// token and falling back to the cache.
func (u *Up) repoToken(opts UpOptions) (string, error) {
	if opts.Token != "" {
		if u.Credentials != nil {
			if err := u.Credentials.Put(opts.Token, opts.Repo); err != nil {
				u.logger.Warn("Failed to cache the GitHub token", zap.Error(err))
			}
		}
		return opts.Token, nil
	}
	if u.Credentials != nil {
		token, found, err := u.Credentials.Get(opts.Repo)
		if err != nil {
			return "", err
		}
		if found {
			return token, nil
		}
	}
	return "", apperrors.RequiredArgument("a GitHub token is required with --repo, pass --token")
}
