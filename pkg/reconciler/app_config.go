package reconciler

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/identity"
	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/traffic"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// AssignIdentity assigns the system identity and user identities given by
// name or id. Identities already assigned are skipped.
func (a *Apps) AssignIdentity(ctx context.Context, rg, name string, identities []string) (*envelope.ManagedServiceIdentity, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, changed, err := a.assignIdentities(rg, app.Identity, identities)
	if err != nil || !changed {
		return app.Identity, err
	}
	updated, err := a.Clients.Apps.Update(ctx, rg, name, &envelope.ContainerApp{Identity: next}, false)
	if err != nil {
		return nil, err
	}
	return updated.Identity, nil
}

// RemoveIdentity removes the system identity and user identities; all
// removes every user identity.
func (a *Apps) RemoveIdentity(ctx context.Context, rg, name string, identities []string, all bool) (*envelope.ManagedServiceIdentity, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, err := a.removeIdentities(rg, app.Identity, identities, all)
	if err != nil {
		return nil, err
	}
	if app.Properties != nil && app.Properties.Configuration != nil {
		for _, r := range app.Properties.Configuration.Registries {
			if r.Identity != "" && !identityKept(next, r.Identity) {
				return nil, apperrors.Validation("identity %s is used to pull from registry %s; remove the registry first", r.Identity, r.Server)
			}
		}
	}
	updated, err := a.Clients.Apps.Update(ctx, rg, name, &envelope.ContainerApp{Identity: next}, false)
	if err != nil {
		return nil, err
	}
	return updated.Identity, nil
}

// ShowIdentity returns the identity block; an app without one reports None.
func (a *Apps) ShowIdentity(ctx context.Context, rg, name string) (*envelope.ManagedServiceIdentity, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if app.Identity == nil {
		return &envelope.ManagedServiceIdentity{Type: string(identity.None)}, nil
	}
	return app.Identity, nil
}

// assignIdentities computes the identity block after an assign. changed
// is false when every identity was already assigned.
func (b *base) assignIdentities(rg string, current *envelope.ManagedServiceIdentity, identities []string) (*envelope.ManagedServiceIdentity, bool, error) {
	if len(identities) == 0 {
		return nil, false, apperrors.RequiredArgument("usage error: at least one identity is required")
	}
	state, err := identity.FromEnvelope(current)
	if err != nil {
		return nil, false, err
	}
	system, users := identity.Split(identities)
	users, dup := identity.Dedupe(identity.ResourceIDs(b.subscriptionID, rg, users))
	if dup {
		b.logger.Warn("Duplicate identities were given and are assigned once")
	}
	next, already := state.Assign(system, users)
	for _, id := range already {
		b.logger.Info("Identity is already assigned", zap.String("identity", id))
	}
	requested := len(users)
	if system {
		requested++
	}
	return next.Envelope(), len(already) < requested, nil
}

func (b *base) removeIdentities(rg string, current *envelope.ManagedServiceIdentity, identities []string, all bool) (*envelope.ManagedServiceIdentity, error) {
	if len(identities) == 0 && !all {
		return nil, apperrors.RequiredArgument("usage error: at least one identity is required")
	}
	state, err := identity.FromEnvelope(current)
	if err != nil {
		return nil, err
	}
	system, users := identity.Split(identities)
	users, _ = identity.Dedupe(identity.ResourceIDs(b.subscriptionID, rg, users))
	next, err := state.Remove(system, users, all)
	if err != nil {
		return nil, err
	}
	return identity.Removal(state, next), nil
}

// identityKept reports whether a registry pull identity survives msi.
func identityKept(msi *envelope.ManagedServiceIdentity, id string) bool {
	state, err := identity.FromEnvelope(msi)
	if err != nil {
		return false
	}
	if identity.IsSystem(id) {
		return state.Type.HasSystem()
	}
	return state.HasUserID(id)
}

// ListRevisions lists the active revisions, or all with all set.
func (a *Apps) ListRevisions(ctx context.Context, rg, name string, all bool) ([]envelope.Revision, error) {
	revisions, err := a.Clients.Apps.ListRevisions(ctx, rg, name)
	if err != nil || all {
		return revisions, err
	}
	return slices.DeleteFunc(revisions, func(r envelope.Revision) bool {
		return r.Properties == nil || !r.Properties.Active
	}), nil
}

// ShowRevision returns one revision.
func (a *Apps) ShowRevision(ctx context.Context, rg, name, revision string) (*envelope.Revision, error) {
	name, err := appOfRevision(name, revision)
	if err != nil {
		return nil, err
	}
	rev, found, err := a.Clients.Apps.ShowRevision(ctx, rg, name, revision)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("revision %s was not found in container app %s", revision, name)
	}
	return rev, nil
}

// RevisionAction names a revision verb.
type RevisionAction string

// Revision verbs.
const (
	RevisionRestart    RevisionAction = "restart"
	RevisionActivate   RevisionAction = "activate"
	RevisionDeactivate RevisionAction = "deactivate"
)

// ReviseRevision restarts, activates or deactivates a revision. An empty
// app name is derived from the revision name.
func (a *Apps) ReviseRevision(ctx context.Context, rg, name, revision string, action RevisionAction) error {
	name, err := appOfRevision(name, revision)
	if err != nil {
		return err
	}
	switch action {
	case RevisionRestart:
		err = a.Clients.Apps.RestartRevision(ctx, rg, name, revision)
	case RevisionActivate:
		err = a.Clients.Apps.ActivateRevision(ctx, rg, name, revision)
	case RevisionDeactivate:
		err = a.Clients.Apps.DeactivateRevision(ctx, rg, name, revision)
	default:
		return apperrors.Validation("unknown revision action %q", action)
	}
	if err != nil {
		return err
	}
	a.logger.Info("Revision updated",
		zap.String("app", name),
		zap.String("revision", revision),
		zap.String("action", string(action)),
	)
	return nil
}

// CopyRevision creates a revision from an existing one, the latest by
// default, with the changes in opts applied.
func (a *Apps) CopyRevision(ctx context.Context, opts UpdateAppOptions) (*envelope.ContainerApp, error) {
	if opts.YAML != "" {
		return nil, apperrors.Validation("usage error: --yaml cannot be used to copy a revision")
	}
	if opts.FromRevision == "" {
		app, err := a.Show(ctx, opts.ResourceGroup, opts.Name)
		if err != nil {
			return nil, err
		}
		if app.Properties == nil || app.Properties.LatestRevisionName == "" {
			return nil, apperrors.Validation("container app %s has no revision to copy", opts.Name)
		}
		opts.FromRevision = app.Properties.LatestRevisionName
	}
	return a.Update(ctx, opts)
}

// SetRevisionMode sets the active revisions mode.
func (a *Apps) SetRevisionMode(ctx context.Context, rg, name, mode string) (string, error) {
	mode = strings.ToLower(mode)
	if mode != envelope.RevisionModeSingle && mode != envelope.RevisionModeMultiple {
		return "", apperrors.Validation("invalid --mode %q: must be single or multiple", mode)
	}
	if _, err := a.Show(ctx, rg, name); err != nil {
		return "", err
	}
	patch := &envelope.ContainerApp{}
	patch.EnsureConfiguration().ActiveRevisionsMode = mode
	updated, err := a.Clients.Apps.Update(ctx, rg, name, patch, false)
	if err != nil {
		return "", err
	}
	return updated.RevisionsMode(), nil
}

func appOfRevision(name, revision string) (string, error) {
	if name != "" {
		return name, nil
	}
	app, err := traffic.AppFromRevision(revision)
	if err != nil {
		return "", err
	}
	if app == "" {
		return "", apperrors.RequiredArgument("usage error: --name is required when the revision name does not contain the app name")
	}
	return app, nil
}

// configurationWithSecrets returns the app configuration with secret
// values filled from listSecrets, ready for a configuration PATCH.
func (a *Apps) configurationWithSecrets(ctx context.Context, rg string, app *envelope.ContainerApp) (*envelope.Configuration, error) {
	values, err := a.Clients.Apps.ListSecrets(ctx, rg, app.Name)
	if err != nil {
		return nil, err
	}
	cfg := envelope.Configuration{}
	if app.Properties != nil && app.Properties.Configuration != nil {
		cfg.Registries = append(cfg.Registries, app.Properties.Configuration.Registries...)
	}
	cfg.Secrets = merge.SecretsFromList(values)
	if cfg.Secrets == nil {
		cfg.Secrets = []envelope.Secret{}
	}
	if cfg.Registries == nil {
		cfg.Registries = []envelope.RegistryCredentials{}
	}
	return &cfg, nil
}

// registryUpdate returns the registries and secrets of app after
// upserting the registry described by flags.
func (a *Apps) registryUpdate(ctx context.Context, rg string, app *envelope.ContainerApp, flags validate.RegistryFlags) (*envelope.Configuration, error) {
	cfg, err := a.configurationWithSecrets(ctx, rg, app)
	if err != nil {
		return nil, err
	}
	cfg.Registries, cfg.Secrets, _ = merge.RemoveRegistry(cfg.Registries, cfg.Secrets, flags.Server)

	var reg envelope.RegistryCredentials
	switch {
	case identity.IsSystem(flags.Identity):
		if app.Identity == nil || !identityKept(app.Identity, merge.RegistryIdentitySystem) {
			return nil, apperrors.Validation("container app %s has no system assigned identity; assign one before using it for the registry", app.Name)
		}
		if err := a.assignAcrPull(ctx, flags.Server, app.Identity.PrincipalID); err != nil {
			a.logger.Warn("Failed to assign the AcrPull role to the system identity", zap.Error(err))
		}
		reg = merge.RegistryWithIdentity(flags.Server, merge.RegistryIdentitySystem)
	case flags.Identity != "":
		id := identity.ResourceID(a.subscriptionID, rg, flags.Identity)
		if !identityKept(app.Identity, id) {
			return nil, apperrors.Validation("identity %s is not assigned to container app %s", id, app.Name)
		}
		a.assignIdentityAcrPull(ctx, flags.Server, id)
		reg = merge.RegistryWithIdentity(flags.Server, id)
	default:
		reg, cfg.Secrets, err = a.passwordRegistry(ctx, cfg.Secrets, flags)
		if err != nil {
			return nil, err
		}
	}
	cfg.Registries = merge.SetRegistry(cfg.Registries, reg)
	return cfg, nil
}

// patchConfiguration sends the registries and secrets of cfg.
func (a *Apps) patchConfiguration(ctx context.Context, rg, name string, cfg *envelope.Configuration, noWait bool) (*envelope.ContainerApp, error) {
	patch := &envelope.ContainerApp{}
	c := patch.EnsureConfiguration()
	c.Registries, c.Secrets = cfg.Registries, cfg.Secrets
	return a.Clients.Apps.Update(ctx, rg, name, patch, noWait)
}

// SetRegistry upserts the registry credentials of an app.
func (a *Apps) SetRegistry(ctx context.Context, rg, name string, flags validate.RegistryFlags, noWait bool) ([]envelope.RegistryCredentials, error) {
	if flags.Server == "" {
		return nil, apperrors.RequiredArgument("usage error: --server is required")
	}
	if err := flags.Check(noWait); err != nil {
		return nil, err
	}
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	cfg, err := a.registryUpdate(ctx, rg, app, flags)
	if err != nil {
		return nil, err
	}
	updated, err := a.patchConfiguration(ctx, rg, name, cfg, noWait)
	if err != nil {
		return nil, err
	}
	return registriesOf(updated, cfg), nil
}

// RemoveRegistry removes a registry and its password secret.
func (a *Apps) RemoveRegistry(ctx context.Context, rg, name, server string, noWait bool) ([]envelope.RegistryCredentials, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	cfg, err := a.configurationWithSecrets(ctx, rg, app)
	if err != nil {
		return nil, err
	}
	var found bool
	cfg.Registries, cfg.Secrets, found = merge.RemoveRegistry(cfg.Registries, cfg.Secrets, server)
	if !found {
		return nil, apperrors.NotFound("registry %s is not configured on container app %s", server, name)
	}
	if cfg.Registries == nil {
		cfg.Registries = []envelope.RegistryCredentials{}
	}
	if cfg.Secrets == nil {
		cfg.Secrets = []envelope.Secret{}
	}
	updated, err := a.patchConfiguration(ctx, rg, name, cfg, noWait)
	if err != nil {
		return nil, err
	}
	return registriesOf(updated, cfg), nil
}

// ListRegistries returns the registry credentials of an app.
func (a *Apps) ListRegistries(ctx context.Context, rg, name string) ([]envelope.RegistryCredentials, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if app.Properties == nil || app.Properties.Configuration == nil {
		return nil, nil
	}
	return app.Properties.Configuration.Registries, nil
}

// ShowRegistry returns the credentials for server.
func (a *Apps) ShowRegistry(ctx context.Context, rg, name, server string) (*envelope.RegistryCredentials, error) {
	registries, err := a.ListRegistries(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if reg := merge.FindRegistry(registries, server); reg != nil {
		return reg, nil
	}
	return nil, apperrors.NotFound("registry %s is not configured on container app %s", server, name)
}

func registriesOf(app *envelope.ContainerApp, fallback *envelope.Configuration) []envelope.RegistryCredentials {
	if app != nil && app.Properties != nil && app.Properties.Configuration != nil && app.Properties.Configuration.Registries != nil {
		return app.Properties.Configuration.Registries
	}
	return fallback.Registries
}

// SetSecrets upserts secrets given as "name=value" or Key Vault
// references. It returns the secret names.
func (a *Apps) SetSecrets(ctx context.Context, rg, name string, pairs []string, noWait bool) ([]string, error) {
	updates, err := merge.ParseSecrets(pairs)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --secrets is required")
	}
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	cfg, err := a.configurationWithSecrets(ctx, rg, app)
	if err != nil {
		return nil, err
	}
	cfg.Secrets = merge.SetSecrets(cfg.Secrets, updates)
	if _, err := a.patchConfiguration(ctx, rg, name, cfg, noWait); err != nil {
		return nil, err
	}
	a.logger.Warn("Containers referencing updated secrets need a revision restart to pick up the new values", zap.String("app", name))
	return cfg.SecretNames(), nil
}

// RemoveSecrets deletes secrets. Every name must exist and no registry may
// use it.
func (a *Apps) RemoveSecrets(ctx context.Context, rg, name string, names []string, noWait bool) ([]string, error) {
	if len(names) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --secret-names is required")
	}
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	cfg, err := a.configurationWithSecrets(ctx, rg, app)
	if err != nil {
		return nil, err
	}
	for _, r := range cfg.Registries {
		if r.PasswordSecretRef != "" && containsFold(names, r.PasswordSecretRef) {
			return nil, apperrors.Validation("secret %s holds the password of registry %s; remove the registry first", r.PasswordSecretRef, r.Server)
		}
	}
	secrets, missing := merge.RemoveSecrets(cfg.Secrets, names)
	if len(missing) > 0 {
		return nil, apperrors.Validation("secrets %s do not exist in container app %s", strings.Join(missing, ", "), name)
	}
	if secrets == nil {
		secrets = []envelope.Secret{}
	}
	cfg.Secrets = secrets
	if _, err := a.patchConfiguration(ctx, rg, name, cfg, noWait); err != nil {
		return nil, err
	}
	return cfg.SecretNames(), nil
}

// ListSecrets lists secrets, with their values when showValues is set.
func (a *Apps) ListSecrets(ctx context.Context, rg, name string, showValues bool) ([]envelope.ContainerAppSecret, error) {
	if showValues {
		return a.Clients.Apps.ListSecrets(ctx, rg, name)
	}
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	var out []envelope.ContainerAppSecret
	if app.Properties != nil && app.Properties.Configuration != nil {
		for _, s := range app.Properties.Configuration.Secrets {
			out = append(out, envelope.ContainerAppSecret{Name: s.Name, KeyVaultURL: s.KeyVaultURL, Identity: s.Identity})
		}
	}
	return out, nil
}

// ShowSecret returns one secret with its value.
func (a *Apps) ShowSecret(ctx context.Context, rg, name, secret string) (*envelope.ContainerAppSecret, error) {
	values, err := a.Clients.Apps.ListSecrets(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	for i := range values {
		if strings.EqualFold(values[i].Name, secret) {
			return &values[i], nil
		}
	}
	return nil, apperrors.NotFound("secret %s does not exist in container app %s", secret, name)
}

// EnableDapr turns the sidecar on with opts.
func (a *Apps) EnableDapr(ctx context.Context, rg, name string, opts DaprOptions) (*envelope.Dapr, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	return a.patchDapr(ctx, rg, name, opts.dapr())
}

// DisableDapr turns the sidecar off.
func (a *Apps) DisableDapr(ctx context.Context, rg, name string) (*envelope.Dapr, error) {
	return a.patchDapr(ctx, rg, name, &envelope.Dapr{Enabled: envelope.Ptr(false)})
}

func (a *Apps) patchDapr(ctx context.Context, rg, name string, dapr *envelope.Dapr) (*envelope.Dapr, error) {
	if _, err := a.Show(ctx, rg, name); err != nil {
		return nil, err
	}
	patch := &envelope.ContainerApp{}
	patch.EnsureConfiguration().Dapr = dapr
	updated, err := a.Clients.Apps.Update(ctx, rg, name, patch, false)
	if err != nil {
		return nil, err
	}
	if updated != nil && updated.Properties != nil && updated.Properties.Configuration != nil && updated.Properties.Configuration.Dapr != nil {
		return updated.Properties.Configuration.Dapr, nil
	}
	return dapr, nil
}

// ListReplicas lists the replicas of a revision, the latest by default.
func (a *Apps) ListReplicas(ctx context.Context, rg, name, revision string) ([]envelope.Replica, error) {
	revision, err := a.revisionOrLatest(ctx, rg, name, revision)
	if err != nil {
		return nil, err
	}
	return a.Clients.Apps.ListReplicas(ctx, rg, name, revision)
}

// ShowReplica returns one replica of a revision, the latest by default.
func (a *Apps) ShowReplica(ctx context.Context, rg, name, revision, replica string) (*envelope.Replica, error) {
	revision, err := a.revisionOrLatest(ctx, rg, name, revision)
	if err != nil {
		return nil, err
	}
	r, found, err := a.Clients.Apps.ShowReplica(ctx, rg, name, revision, replica)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("replica %s was not found in revision %s", replica, revision)
	}
	return r, nil
}

func (a *Apps) revisionOrLatest(ctx context.Context, rg, name, revision string) (string, error) {
	if revision != "" {
		return revision, nil
	}
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return "", err
	}
	if app.Properties == nil || app.Properties.LatestRevisionName == "" {
		return "", apperrors.Validation("container app %s has no revision yet", name)
	}
	return app.Properties.LatestRevisionName, nil
}
