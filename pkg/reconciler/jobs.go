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

// Jobs manages container apps jobs.
type Jobs struct {
	*base
}

// TriggerOptions are the trigger flags of job create and update. An empty
// TriggerType on update edits the current trigger.
type TriggerOptions struct {
	TriggerType            string
	ReplicaCompletionCount *int32
	Parallelism            *int32
	CronExpression         string
	PollingInterval        *int32
	MinExecutions          *int32
	MaxExecutions          *int32
	// Rule adds or replaces an event scale rule.
	Rule *merge.ScaleRulePatch
}

// IsZero reports whether no trigger flag is set.
func (o TriggerOptions) IsZero() bool {
	return o.TriggerType == "" && o.ReplicaCompletionCount == nil && o.Parallelism == nil &&
		o.CronExpression == "" && o.PollingInterval == nil && o.MinExecutions == nil &&
		o.MaxExecutions == nil && o.Rule == nil
}

func triggerKind(s string) (string, error) {
	for _, kind := range []string{envelope.TriggerManual, envelope.TriggerSchedule, envelope.TriggerEvent} {
		if strings.EqualFold(s, kind) {
			return kind, nil
		}
	}
	return "", apperrors.Validation("invalid --trigger-type %q: must be Manual, Schedule or Event", s)
}

// apply installs the trigger described by o on cfg. Fields of a trigger of
// the same kind are kept unless o sets them.
func (o TriggerOptions) apply(cfg *envelope.JobConfiguration) error {
	kind := cfg.TriggerType
	if o.TriggerType != "" {
		kind = o.TriggerType
	}
	kind, err := triggerKind(kind)
	if err != nil {
		return err
	}
	var current envelope.JobTrigger
	if t, err := cfg.Trigger(); err == nil && t.TriggerType() == kind {
		current = t
	}

	switch kind {
	case envelope.TriggerManual:
		t, _ := current.(*envelope.ManualTriggerConfig)
		if t == nil {
			t = &envelope.ManualTriggerConfig{}
		}
		setIfPresent(&t.ReplicaCompletionCount, o.ReplicaCompletionCount)
		setIfPresent(&t.Parallelism, o.Parallelism)
		cfg.SetTrigger(t)
	case envelope.TriggerSchedule:
		t, _ := current.(*envelope.ScheduleTriggerConfig)
		if t == nil {
			t = &envelope.ScheduleTriggerConfig{}
		}
		setIfPresent(&t.ReplicaCompletionCount, o.ReplicaCompletionCount)
		setIfPresent(&t.Parallelism, o.Parallelism)
		if o.CronExpression != "" {
			t.CronExpression = o.CronExpression
		}
		if t.CronExpression == "" {
			return apperrors.RequiredArgument("usage error: --cron-expression is required for a Schedule trigger")
		}
		cfg.SetTrigger(t)
	case envelope.TriggerEvent:
		t, _ := current.(*envelope.EventTriggerConfig)
		if t == nil {
			t = &envelope.EventTriggerConfig{}
		}
		setIfPresent(&t.ReplicaCompletionCount, o.ReplicaCompletionCount)
		setIfPresent(&t.Parallelism, o.Parallelism)
		if t.Scale == nil {
			t.Scale = &envelope.JobScale{}
		}
		setIfPresent(&t.Scale.PollingInterval, o.PollingInterval)
		setIfPresent(&t.Scale.MinExecutions, o.MinExecutions)
		setIfPresent(&t.Scale.MaxExecutions, o.MaxExecutions)
		if o.Rule != nil && o.Rule.Name != "" {
			rule, err := jobScaleRule(*o.Rule)
			if err != nil {
				return err
			}
			t.Scale.Rules = setJobScaleRule(t.Scale.Rules, rule)
		}
		cfg.SetTrigger(t)
	}
	return nil
}

func setIfPresent[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

// jobScaleRule builds a KEDA rule. Event jobs take custom scalers only, so
// the type is required.
func jobScaleRule(p merge.ScaleRulePatch) (envelope.JobScaleRule, error) {
	if p.Type == "" {
		return envelope.JobScaleRule{}, apperrors.RequiredArgument("usage error: --scale-rule-type is required with --scale-rule-name")
	}
	metadata := map[string]string{}
	if err := merge.ParseMetadata(p.Metadata, metadata); err != nil {
		return envelope.JobScaleRule{}, err
	}
	auth, err := merge.ParseAuth(p.Auth)
	if err != nil {
		return envelope.JobScaleRule{}, err
	}
	return envelope.JobScaleRule{Name: p.Name, Type: p.Type, Metadata: metadata, Auth: auth}, nil
}

func setJobScaleRule(rules []envelope.JobScaleRule, rule envelope.JobScaleRule) []envelope.JobScaleRule {
	for i := range rules {
		if strings.EqualFold(rules[i].Name, rule.Name) {
			rules[i] = rule
			return rules
		}
	}
	return append(rules, rule)
}

// CreateJobOptions is the job create intent.
type CreateJobOptions struct {
	ResourceGroup     string
	Name              string
	Environment       string
	YAML              string
	Trigger           TriggerOptions
	ReplicaTimeout    *int32
	ReplicaRetryLimit *int32
	Container         merge.ContainerPatch
	Secrets           []string
	Registry          validate.RegistryFlags
	SystemIdentity    bool
	UserIdentities    []string
	Tags              map[string]string
	WorkloadProfile   string
	NoWait            bool
}

func (o *CreateJobOptions) check() error {
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
	if o.Trigger.TriggerType == "" {
		return apperrors.RequiredArgument("usage error: --trigger-type is required if not using --yaml")
	}
	if o.ReplicaTimeout == nil || o.ReplicaRetryLimit == nil {
		return apperrors.RequiredArgument("usage error: --replica-timeout and --replica-retry-limit are required if not using --yaml")
	}
	return o.Registry.Check(o.NoWait)
}

// Create creates a job from flags or a YAML document.
func (j *Jobs) Create(ctx context.Context, opts CreateJobOptions) (*envelope.Job, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	if opts.YAML != "" {
		return j.createFromYAML(ctx, opts)
	}

	env, envID, err := j.readyEnvironment(ctx, opts.ResourceGroup, opts.Environment, false)
	if err != nil {
		return nil, err
	}
	if err := j.checkLocation(ctx, validate.ResourceTypeJobs, env.Location); err != nil {
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

	registryIdentity := opts.Registry.Identity
	systemRegistry := identity.IsSystem(registryIdentity)
	if registryIdentity != "" && !systemRegistry {
		registryIdentity = identity.ResourceID(j.subscriptionID, opts.ResourceGroup, registryIdentity)
		if !containsFold(opts.UserIdentities, registryIdentity) {
			opts.UserIdentities = append(opts.UserIdentities, registryIdentity)
		}
		j.assignIdentityAcrPull(ctx, opts.Registry.Server, registryIdentity)
	}
	var registries []envelope.RegistryCredentials
	if opts.Registry.Server != "" && !systemRegistry {
		if registryIdentity != "" {
			registries = append(registries, merge.RegistryWithIdentity(opts.Registry.Server, registryIdentity))
		} else {
			reg, out, err := j.passwordRegistry(ctx, secrets, opts.Registry)
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
	if !env.HasWorkloadProfiles() || strings.EqualFold(profile, envelope.WorkloadProfileConsumption) {
		patch.CPU, patch.Memory = validate.CoerceResources(patch.CPU, patch.Memory, j.logger)
	}
	containers, volumes, _, err := patch.Apply(nil, nil)
	if err != nil {
		return nil, err
	}
	merge.FillEmptyEnvValues(containers)

	users, _ := identity.Dedupe(identity.ResourceIDs(j.subscriptionID, opts.ResourceGroup, opts.UserIdentities))
	state, _ := identity.State{Type: identity.None}.Assign(opts.SystemIdentity || systemRegistry, users)

	job := &envelope.Job{
		Location: env.Location,
		Tags:     opts.Tags,
		Properties: &envelope.JobProperties{
			EnvironmentID:       envID,
			WorkloadProfileName: profile,
			Configuration: &envelope.JobConfiguration{
				Secrets:           secrets,
				ReplicaTimeout:    opts.ReplicaTimeout,
				ReplicaRetryLimit: opts.ReplicaRetryLimit,
				Registries:        registries,
			},
			Template: &envelope.JobTemplate{Containers: containers, Volumes: volumes},
		},
	}
	if err := opts.Trigger.apply(job.Properties.Configuration); err != nil {
		return nil, err
	}
	if state.Type != identity.None {
		job.Identity = state.Envelope()
	}
	if unresolved := merge.UnresolvedVolumeMounts(containers, volumes); len(unresolved) > 0 {
		return nil, apperrors.Validation("volume mounts reference undefined volumes: %s", strings.Join(unresolved, ", "))
	}

	created, err := j.Clients.Jobs.CreateOrUpdate(ctx, opts.ResourceGroup, opts.Name, job, opts.NoWait && !systemRegistry)
	if err != nil {
		return nil, err
	}
	if systemRegistry {
		return j.attachSystemRegistry(ctx, opts.ResourceGroup, created, opts.Registry.Server)
	}
	return created, nil
}

// attachSystemRegistry grants the system identity of job AcrPull on server
// and registers the registry with that identity.
func (j *Jobs) attachSystemRegistry(ctx context.Context, rg string, job *envelope.Job, server string) (*envelope.Job, error) {
	if job.Identity == nil || job.Identity.PrincipalID == "" {
		return nil, apperrors.Internal("job %s has no system assigned identity principal", job.Name)
	}
	if err := j.assignAcrPull(ctx, server, job.Identity.PrincipalID); err != nil {
		return nil, err
	}
	cfg := job.EnsureConfiguration()
	patch := &envelope.Job{}
	patch.EnsureConfiguration().Registries = merge.SetRegistry(cfg.Registries, merge.RegistryWithIdentity(server, merge.RegistryIdentitySystem))
	return j.Clients.Jobs.Update(ctx, rg, job.Name, patch, false)
}

func (j *Jobs) createFromYAML(ctx context.Context, opts CreateJobOptions) (*envelope.Job, error) {
	doc, err := j.Loader.Load(opts.YAML, loader.KindJob)
	if err != nil {
		return nil, err
	}
	if err := merge.CheckType(doc, envelope.TypeJob); err != nil {
		return nil, err
	}
	name := opts.Name
	if docName := merge.StringOf(doc, "name"); docName != "" && !strings.EqualFold(docName, opts.Name) {
		j.logger.Warn("The job name in the document differs from --name; using the document name",
			zap.String("document", docName),
			zap.String("name", opts.Name),
		)
		name = docName
	}
	envRef := merge.EnvironmentIDOf(doc)
	if envRef == "" {
		envRef = opts.Environment
	}
	if envRef == "" {
		return nil, apperrors.RequiredArgument("environmentId is required in the document or through --environment")
	}
	env, envID, err := j.readyEnvironment(ctx, opts.ResourceGroup, envRef, false)
	if err != nil {
		return nil, err
	}
	merge.SetEnvironmentID(doc, envID)
	merge.StripReadOnly(doc)
	merge.StripAdditionalProperties(doc)

	job, err := merge.Decode[envelope.Job](merge.PruneDocument(doc))
	if err != nil {
		return nil, err
	}
	job.StripReadOnly()
	if job.Location == "" {
		job.Location = env.Location
	}
	cfg := job.EnsureConfiguration()
	if _, err := cfg.Trigger(); err != nil {
		return nil, apperrors.Validation("invalid job document: %v", err)
	}
	if tpl := job.Properties.Template; tpl != nil {
		merge.FillEmptyEnvValues(tpl.Containers)
	}
	return j.Clients.Jobs.CreateOrUpdate(ctx, opts.ResourceGroup, name, job, opts.NoWait)
}

// UpdateJobOptions is the job update intent.
type UpdateJobOptions struct {
	ResourceGroup     string
	Name              string
	YAML              string
	Trigger           TriggerOptions
	ReplicaTimeout    *int32
	ReplicaRetryLimit *int32
	Container         merge.ContainerPatch
	Tags              map[string]string
	WorkloadProfile   string
	NoWait            bool
}

// Update patches a job.
func (j *Jobs) Update(ctx context.Context, opts UpdateJobOptions) (*envelope.Job, error) {
	existing, err := j.Show(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}
	if opts.YAML != "" {
		return j.updateFromYAML(ctx, opts, existing)
	}

	patch := &envelope.Job{}
	if !opts.Container.IsZero() {
		tpl := existing.EnsureTemplate()
		containers, volumes, missing, err := opts.Container.Apply(tpl.Containers, tpl.Volumes)
		if err != nil {
			return nil, err
		}
		for _, name := range missing {
			j.logger.Warn("Environment variable does not exist in the container", zap.String("env", name))
		}
		merge.FillEmptyEnvValues(containers)
		patch.EnsureTemplate().Containers, patch.EnsureTemplate().Volumes = containers, volumes
	}
	if !opts.Trigger.IsZero() {
		cfg := *existing.EnsureConfiguration()
		if err := opts.Trigger.apply(&cfg); err != nil {
			return nil, err
		}
		pc := patch.EnsureConfiguration()
		pc.TriggerType = cfg.TriggerType
		pc.ManualTriggerConfig = cfg.ManualTriggerConfig
		pc.ScheduleTriggerConfig = cfg.ScheduleTriggerConfig
		pc.EventTriggerConfig = cfg.EventTriggerConfig
	}
	if opts.ReplicaTimeout != nil {
		patch.EnsureConfiguration().ReplicaTimeout = opts.ReplicaTimeout
	}
	if opts.ReplicaRetryLimit != nil {
		patch.EnsureConfiguration().ReplicaRetryLimit = opts.ReplicaRetryLimit
	}
	if opts.Tags != nil {
		patch.Tags = merge.MergeTags(existing.Tags, opts.Tags)
	}
	if opts.WorkloadProfile != "" {
		env, err := j.jobEnvironment(ctx, existing)
		if err != nil {
			return nil, err
		}
		if _, err := workloadProfileFor(env, opts.WorkloadProfile); err != nil {
			return nil, err
		}
		patch.EnsureProperties().WorkloadProfileName = opts.WorkloadProfile
	}
	return j.Clients.Jobs.Update(ctx, opts.ResourceGroup, opts.Name, patch, opts.NoWait)
}

func (j *Jobs) updateFromYAML(ctx context.Context, opts UpdateJobOptions, existing *envelope.Job) (*envelope.Job, error) {
	doc, err := j.Loader.Load(opts.YAML, loader.KindJob)
	if err != nil {
		return nil, err
	}
	if err := merge.CheckType(doc, envelope.TypeJob); err != nil {
		return nil, err
	}
	if envID := merge.EnvironmentIDOf(doc); envID != "" {
		if !strings.EqualFold(envID, jobEnvironmentID(existing)) {
			return nil, apperrors.Validation("the environment of a job cannot be changed; the document names %s", envID)
		}
		merge.DropEnvironmentID(doc)
	}
	values, err := j.Clients.Jobs.ListSecrets(ctx, opts.ResourceGroup, opts.Name)
	if err != nil {
		return nil, err
	}
	merge.StripReadOnly(doc)
	merge.StripAdditionalProperties(doc)
	patch, err := merge.Decode[envelope.Job](merge.PruneDocument(doc))
	if err != nil {
		return nil, err
	}
	patch.StripReadOnly()
	p := patch.EnsureProperties()
	if p.Configuration != nil {
		merge.PopulateSecretValues(p.Configuration.Secrets, values)
	}
	if tpl := p.Template; tpl != nil {
		merge.FillEmptyEnvValues(tpl.Containers)
		merge.FillEmptyEnvValues(tpl.InitContainers)
	}
	return j.Clients.Jobs.Update(ctx, opts.ResourceGroup, opts.Name, patch, opts.NoWait)
}

// Delete deletes the job. Deleting a missing job succeeds.
func (j *Jobs) Delete(ctx context.Context, rg, name string, noWait bool) error {
	err := j.Clients.Jobs.Delete(ctx, rg, name, noWait)
	if apperrors.IsNotFound(err) {
		j.logger.Info("Job does not exist", zap.String("job", name))
		return nil
	}
	return err
}

// Show returns the job or a ResourceNotFound error.
func (j *Jobs) Show(ctx context.Context, rg, name string) (*envelope.Job, error) {
	job, found, err := j.Clients.Jobs.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("the job '%s' does not exist", name)
	}
	return job, nil
}

// List lists jobs in rg, or in the subscription when rg is empty.
func (j *Jobs) List(ctx context.Context, rg string) ([]envelope.Job, error) {
	if rg == "" {
		return j.Clients.Jobs.ListBySubscription(ctx)
	}
	return j.Clients.Jobs.ListByResourceGroup(ctx, rg)
}

// StartJobOptions override the containers of one execution.
type StartJobOptions struct {
	ResourceGroup string
	Name          string
	// YAML is an execution template document with containers and
	// initContainers, optionally under "template".
	YAML      string
	Container merge.ContainerPatch
}

// Start starts an execution.
func (j *Jobs) Start(ctx context.Context, opts StartJobOptions) (*envelope.JobExecutionBase, error) {
	var tpl *envelope.JobExecutionTemplate
	switch {
	case opts.YAML != "":
		doc, err := j.Loader.Load(opts.YAML, loader.KindRaw)
		if err != nil {
			return nil, err
		}
		if inner, ok := doc["template"].(map[string]any); ok {
			doc = inner
		}
		if tpl, err = merge.Decode[envelope.JobExecutionTemplate](doc); err != nil {
			return nil, err
		}
	case !opts.Container.IsZero():
		job, err := j.Show(ctx, opts.ResourceGroup, opts.Name)
		if err != nil {
			return nil, err
		}
		current := job.EnsureTemplate()
		containers, _, _, err := opts.Container.Apply(current.Containers, current.Volumes)
		if err != nil {
			return nil, err
		}
		tpl = &envelope.JobExecutionTemplate{Containers: containers, InitContainers: current.InitContainers}
	}
	exec, err := j.Clients.Jobs.Start(ctx, opts.ResourceGroup, opts.Name, tpl)
	if err != nil {
		return nil, err
	}
	j.logger.Info("Job execution started", zap.String("job", opts.Name), zap.String("execution", exec.Name))
	return exec, nil
}

// Stop stops the given executions, or every running one when none is
// named.
func (j *Jobs) Stop(ctx context.Context, rg, name string, executions []string) error {
	return j.Clients.Jobs.Stop(ctx, rg, name, executions...)
}

// ListExecutions lists the executions of a job.
func (j *Jobs) ListExecutions(ctx context.Context, rg, name string) ([]envelope.JobExecution, error) {
	return j.Clients.Jobs.ListExecutions(ctx, rg, name)
}

// ShowExecution returns one execution.
func (j *Jobs) ShowExecution(ctx context.Context, rg, name, execution string) (*envelope.JobExecution, error) {
	exec, found, err := j.Clients.Jobs.ShowExecution(ctx, rg, name, execution)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("execution %s was not found in job %s", execution, name)
	}
	return exec, nil
}

// AssignIdentity assigns identities to a job.
func (j *Jobs) AssignIdentity(ctx context.Context, rg, name string, identities []string) (*envelope.ManagedServiceIdentity, error) {
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, changed, err := j.assignIdentities(rg, job.Identity, identities)
	if err != nil || !changed {
		return job.Identity, err
	}
	updated, err := j.Clients.Jobs.Update(ctx, rg, name, &envelope.Job{Identity: next}, false)
	if err != nil {
		return nil, err
	}
	return updated.Identity, nil
}

// RemoveIdentity removes identities from a job.
func (j *Jobs) RemoveIdentity(ctx context.Context, rg, name string, identities []string, all bool) (*envelope.ManagedServiceIdentity, error) {
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, err := j.removeIdentities(rg, job.Identity, identities, all)
	if err != nil {
		return nil, err
	}
	for _, r := range job.EnsureConfiguration().Registries {
		if r.Identity != "" && !identityKept(next, r.Identity) {
			return nil, apperrors.Validation("identity %s is used to pull from registry %s; remove the registry first", r.Identity, r.Server)
		}
	}
	updated, err := j.Clients.Jobs.Update(ctx, rg, name, &envelope.Job{Identity: next}, false)
	if err != nil {
		return nil, err
	}
	return updated.Identity, nil
}

// ShowIdentity returns the identity block of a job.
func (j *Jobs) ShowIdentity(ctx context.Context, rg, name string) (*envelope.ManagedServiceIdentity, error) {
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if job.Identity == nil {
		return &envelope.ManagedServiceIdentity{Type: string(identity.None)}, nil
	}
	return job.Identity, nil
}

// jobSecrets returns the job registries and the secrets with values.
func (j *Jobs) jobSecrets(ctx context.Context, rg string, job *envelope.Job) ([]envelope.RegistryCredentials, []envelope.Secret, error) {
	values, err := j.Clients.Jobs.ListSecrets(ctx, rg, job.Name)
	if err != nil {
		return nil, nil, err
	}
	registries := append([]envelope.RegistryCredentials{}, job.EnsureConfiguration().Registries...)
	secrets := merge.SecretsFromList(values)
	if secrets == nil {
		secrets = []envelope.Secret{}
	}
	return registries, secrets, nil
}

func (j *Jobs) patchSecrets(ctx context.Context, rg, name string, registries []envelope.RegistryCredentials, secrets []envelope.Secret) (*envelope.Job, error) {
	patch := &envelope.Job{}
	cfg := patch.EnsureConfiguration()
	cfg.Registries, cfg.Secrets = registries, secrets
	return j.Clients.Jobs.Update(ctx, rg, name, patch, false)
}

// SetSecrets upserts job secrets.
func (j *Jobs) SetSecrets(ctx context.Context, rg, name string, pairs []string) ([]string, error) {
	updates, err := merge.ParseSecrets(pairs)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --secrets is required")
	}
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	registries, secrets, err := j.jobSecrets(ctx, rg, job)
	if err != nil {
		return nil, err
	}
	secrets = merge.SetSecrets(secrets, updates)
	if _, err := j.patchSecrets(ctx, rg, name, registries, secrets); err != nil {
		return nil, err
	}
	return secretNames(secrets), nil
}

// RemoveSecrets deletes job secrets.
func (j *Jobs) RemoveSecrets(ctx context.Context, rg, name string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --secret-names is required")
	}
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	registries, secrets, err := j.jobSecrets(ctx, rg, job)
	if err != nil {
		return nil, err
	}
	for _, r := range registries {
		if r.PasswordSecretRef != "" && containsFold(names, r.PasswordSecretRef) {
			return nil, apperrors.Validation("secret %s holds the password of registry %s; remove the registry first", r.PasswordSecretRef, r.Server)
		}
	}
	secrets, missing := merge.RemoveSecrets(secrets, names)
	if len(missing) > 0 {
		return nil, apperrors.Validation("secrets %s do not exist in job %s", strings.Join(missing, ", "), name)
	}
	if secrets == nil {
		secrets = []envelope.Secret{}
	}
	if _, err := j.patchSecrets(ctx, rg, name, registries, secrets); err != nil {
		return nil, err
	}
	return secretNames(secrets), nil
}

// ListSecrets lists job secrets, with values when showValues is set.
func (j *Jobs) ListSecrets(ctx context.Context, rg, name string, showValues bool) ([]envelope.ContainerAppSecret, error) {
	if showValues {
		return j.Clients.Jobs.ListSecrets(ctx, rg, name)
	}
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	var out []envelope.ContainerAppSecret
	for _, s := range job.EnsureConfiguration().Secrets {
		out = append(out, envelope.ContainerAppSecret{Name: s.Name, KeyVaultURL: s.KeyVaultURL, Identity: s.Identity})
	}
	return out, nil
}

// ShowSecret returns one job secret with its value.
func (j *Jobs) ShowSecret(ctx context.Context, rg, name, secret string) (*envelope.ContainerAppSecret, error) {
	values, err := j.Clients.Jobs.ListSecrets(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	for i := range values {
		if strings.EqualFold(values[i].Name, secret) {
			return &values[i], nil
		}
	}
	return nil, apperrors.NotFound("secret %s does not exist in job %s", secret, name)
}

// SetRegistry upserts the registry credentials of a job.
func (j *Jobs) SetRegistry(ctx context.Context, rg, name string, flags validate.RegistryFlags) ([]envelope.RegistryCredentials, error) {
	if flags.Server == "" {
		return nil, apperrors.RequiredArgument("usage error: --server is required")
	}
	if err := flags.Check(false); err != nil {
		return nil, err
	}
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	registries, secrets, err := j.jobSecrets(ctx, rg, job)
	if err != nil {
		return nil, err
	}
	registries, secrets, _ = merge.RemoveRegistry(registries, secrets, flags.Server)

	var reg envelope.RegistryCredentials
	switch {
	case identity.IsSystem(flags.Identity):
		if !identityKept(job.Identity, merge.RegistryIdentitySystem) {
			return nil, apperrors.Validation("job %s has no system assigned identity; assign one before using it for the registry", name)
		}
		if err := j.assignAcrPull(ctx, flags.Server, job.Identity.PrincipalID); err != nil {
			j.logger.Warn("Failed to assign the AcrPull role to the system identity", zap.Error(err))
		}
		reg = merge.RegistryWithIdentity(flags.Server, merge.RegistryIdentitySystem)
	case flags.Identity != "":
		id := identity.ResourceID(j.subscriptionID, rg, flags.Identity)
		if !identityKept(job.Identity, id) {
			return nil, apperrors.Validation("identity %s is not assigned to job %s", id, name)
		}
		j.assignIdentityAcrPull(ctx, flags.Server, id)
		reg = merge.RegistryWithIdentity(flags.Server, id)
	default:
		if reg, secrets, err = j.passwordRegistry(ctx, secrets, flags); err != nil {
			return nil, err
		}
	}
	registries = merge.SetRegistry(registries, reg)
	if _, err := j.patchSecrets(ctx, rg, name, registries, secrets); err != nil {
		return nil, err
	}
	return registries, nil
}

// RemoveRegistry removes a registry and its password secret from a job.
func (j *Jobs) RemoveRegistry(ctx context.Context, rg, name, server string) ([]envelope.RegistryCredentials, error) {
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	registries, secrets, err := j.jobSecrets(ctx, rg, job)
	if err != nil {
		return nil, err
	}
	registries, secrets, found := merge.RemoveRegistry(registries, secrets, server)
	if !found {
		return nil, apperrors.NotFound("registry %s is not configured on job %s", server, name)
	}
	if registries == nil {
		registries = []envelope.RegistryCredentials{}
	}
	if secrets == nil {
		secrets = []envelope.Secret{}
	}
	if _, err := j.patchSecrets(ctx, rg, name, registries, secrets); err != nil {
		return nil, err
	}
	return registries, nil
}

// ListRegistries returns the registry credentials of a job.
func (j *Jobs) ListRegistries(ctx context.Context, rg, name string) ([]envelope.RegistryCredentials, error) {
	job, err := j.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	return job.EnsureConfiguration().Registries, nil
}

// ShowRegistry returns the credentials for server.
func (j *Jobs) ShowRegistry(ctx context.Context, rg, name, server string) (*envelope.RegistryCredentials, error) {
	registries, err := j.ListRegistries(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if reg := merge.FindRegistry(registries, server); reg != nil {
		return reg, nil
	}
	return nil, apperrors.NotFound("registry %s is not configured on job %s", server, name)
}

func (j *Jobs) jobEnvironment(ctx context.Context, job *envelope.Job) (*envelope.ManagedEnvironment, error) {
	id := jobEnvironmentID(job)
	if id == "" {
		return nil, apperrors.Internal("job %s does not name its environment", job.Name)
	}
	env, _, err := j.readyEnvironment(ctx, "", id, true)
	return env, err
}

func jobEnvironmentID(job *envelope.Job) string {
	if job.Properties == nil {
		return ""
	}
	if job.Properties.EnvironmentID != "" {
		return job.Properties.EnvironmentID
	}
	return job.Properties.ManagedEnvironmentID
}

func secretNames(secrets []envelope.Secret) []string {
	names := make([]string, 0, len(secrets))
	for _, s := range secrets {
		names = append(names, s.Name)
	}
	return names
}
