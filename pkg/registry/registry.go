// Package registry resolves the container registry used by the up flow and
// builds images remotely with registry tasks.
//
// Features:
//  1. Registry server parsing for images and apps
//  2. Deterministic default registry names per environment
//  3. Registry discovery, creation and admin credential lookup
//  4. Remote source builds through encoded task runs
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/graph"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Registry defaults.
const (
	// DefaultLocation is used when the environment location is unknown or
	// a staging region.
	DefaultLocation = "eastus"

	defaultNamePrefix   = "ca"
	defaultNameSuffix   = "acr"
	defaultNameHashLen  = 10
	stagingLocation     = "northcentralusstage"
	registryPathDivider = "/"
)

// Registry is a resolved registry.
type Registry struct {
	Name          string
	ResourceGroup string
	Server        string
	Username      string
	Password      string
	// Create is set when the registry does not exist yet.
	Create bool
}

// IsACR reports whether the registry is an Azure container registry.
func (r *Registry) IsACR() bool {
	return validate.IsACRServer(r.Server)
}

// HasCredentials reports whether username and password are both set.
func (r *Registry) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// DefaultName is the registry name derived from the environment:
// ca{sha256(sub/rg/env)[:10]}acr.
func DefaultName(subscriptionID, envResourceGroup, envName string) string {
	sum := sha256.Sum256([]byte(subscriptionID + "/" + envResourceGroup + "/" + envName))
	return defaultNamePrefix + hex.EncodeToString(sum[:])[:defaultNameHashLen] + defaultNameSuffix
}

// NameFromServer returns the registry name of a login server, the part
// before the first dot. A scheme is ignored.
func NameFromServer(server string) string {
	s := server
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "./"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// ServerFromImage returns the registry host of an ACR image, or "".
func ServerFromImage(image string) string {
	host, _, found := strings.Cut(image, registryPathDivider)
	if !found || !validate.IsACRServer(host) {
		return ""
	}
	return host
}

// ServerFromApp infers the registry of an existing app. With fromSource
// only ACR registries qualify. Several candidates resolve to the one
// serving the image of the container named after the app.
func ServerFromApp(app *envelope.ContainerApp, fromSource bool) string {
	if app == nil || app.Properties == nil || app.Properties.Configuration == nil {
		return ""
	}
	var servers []string
	for _, r := range app.Properties.Configuration.Registries {
		if fromSource && !validate.IsACRServer(r.Server) {
			continue
		}
		servers = append(servers, r.Server)
	}
	switch len(servers) {
	case 0:
		return ""
	case 1:
		return servers[0]
	}
	if app.Properties.Template == nil {
		return ""
	}
	for _, c := range app.Properties.Template.Containers {
		if !strings.EqualFold(c.Name, app.Name) {
			continue
		}
		host, _, _ := strings.Cut(c.Image, registryPathDivider)
		for _, s := range servers {
			if strings.EqualFold(s, host) {
				return s
			}
		}
	}
	return ""
}

// Finder looks registries up by name. *graph.Client implements it.
type Finder interface {
	FindRegistry(ctx context.Context, name string) (*graph.Resource, error)
}

// Resolver resolves and creates registries.
type Resolver struct {
	registries *clients.Registries
	finder     Finder
	logger     *zap.Logger
}

// NewResolver creates a registry resolver.
func NewResolver(registries *clients.Registries, finder Finder, logger *zap.Logger) *Resolver {
	return &Resolver{registries: registries, finder: finder, logger: logger}
}

// Request describes the registry intent of an up run.
type Request struct {
	Server     string
	Username   string
	Password   string
	FromSource bool
	// ResourceGroup receives a registry that has to be created.
	ResourceGroup    string
	EnvResourceGroup string
	EnvName          string
}

// Resolve picks the registry for req: the given server, an existing
// registry of the default name, or a default-named registry to create.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Registry, error) {
	if req.Server != "" {
		return r.resolveServer(ctx, req)
	}

	name := DefaultName(r.registries.SubscriptionID(), req.EnvResourceGroup, req.EnvName)
	found, err := r.finder.FindRegistry(ctx, name)
	if err != nil {
		return nil, err
	}
	if found == nil {
		r.logger.Info("No registry found, a new one will be created",
			zap.String("registry", name),
			zap.String("resourceGroup", req.ResourceGroup),
		)
		return &Registry{
			Name:          name,
			ResourceGroup: req.ResourceGroup,
			Server:        name + envelope.RegistryHostSuffix,
			Create:        true,
		}, nil
	}

	reg := &Registry{Name: found.Name, ResourceGroup: found.ResourceGroup, Server: found.LoginServer()}
	if reg.Server == "" {
		reg.Server = name + envelope.RegistryHostSuffix
	}
	if err := r.fillCredentials(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Resolver) resolveServer(ctx context.Context, req Request) (*Registry, error) {
	reg := &Registry{Server: req.Server, Username: req.Username, Password: req.Password}
	if !reg.IsACR() {
		if req.FromSource {
			return nil, apperrors.Validation("cannot supply non-Azure registry when using --source")
		}
		return reg, nil
	}

	reg.Name = NameFromServer(req.Server)
	found, err := r.finder.FindRegistry(ctx, reg.Name)
	if err != nil {
		return nil, err
	}
	if found == nil {
		if reg.HasCredentials() {
			return reg, nil
		}
		return nil, apperrors.RequiredArgument("failed to retrieve credentials for container registry %s, please provide the registry username and password", reg.Name)
	}
	reg.ResourceGroup = found.ResourceGroup
	if !reg.HasCredentials() {
		if err := r.fillCredentials(ctx, reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// fillCredentials enables the admin user and reads its credentials.
func (r *Resolver) fillCredentials(ctx context.Context, reg *Registry) error {
	r.logger.Info("No credential was provided to access the registry, looking up admin credentials",
		zap.String("registry", reg.Name),
	)
	if err := r.registries.EnableAdminUser(ctx, reg.ResourceGroup, reg.Name); err != nil {
		return credentialsError(reg.Name, err)
	}
	creds, err := r.registries.ListCredentials(ctx, reg.ResourceGroup, reg.Name)
	if err != nil {
		return credentialsError(reg.Name, err)
	}
	if creds.Username == "" || len(creds.Passwords) == 0 {
		return credentialsError(reg.Name, nil)
	}
	reg.Username = creds.Username
	reg.Password = creds.Passwords[0].Value
	return nil
}

func credentialsError(name string, cause error) error {
	return &apperrors.Error{
		Kind:    apperrors.KindRequiredArgumentMissing,
		Message: "failed to retrieve credentials for container registry " + name + ", please provide the registry username and password",
		Target:  name,
		Err:     cause,
	}
}

// Create creates reg with the Basic sku and admin user enabled, then
// fills its login server and credentials.
func (r *Resolver) Create(ctx context.Context, reg *Registry, location string) error {
	if location == "" || strings.EqualFold(location, stagingLocation) {
		location = DefaultLocation
	}
	r.logger.Info("Creating container registry",
		zap.String("registry", reg.Name),
		zap.String("resourceGroup", reg.ResourceGroup),
		zap.String("location", location),
	)
	created, err := r.registries.Create(ctx, reg.ResourceGroup, &envelope.Registry{
		Name:       reg.Name,
		Location:   location,
		Sku:        &envelope.RegistrySku{Name: envelope.RegistrySkuBasic},
		Properties: &envelope.RegistryProperties{AdminUserEnabled: envelope.Ptr(true)},
	})
	if err != nil {
		return err
	}
	if server := created.LoginServer(); server != "" {
		reg.Server = server
	}
	reg.Create = false

	creds, err := r.registries.ListCredentials(ctx, reg.ResourceGroup, reg.Name)
	if err != nil {
		return credentialsError(reg.Name, err)
	}
	if len(creds.Passwords) > 0 {
		reg.Username = creds.Username
		reg.Password = creds.Passwords[0].Value
	}
	return nil
}
