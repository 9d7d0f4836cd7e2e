package reconciler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Identity providers of built-in authentication, keyed as in the auth
// config.
const (
	ProviderMicrosoft = "azureActiveDirectory"
	ProviderFacebook  = "facebook"
	ProviderGitHub    = "gitHub"
	ProviderGoogle    = "google"
	ProviderTwitter   = "twitter"
	ProviderApple     = "apple"

	customOIDCProviders = "customOpenIdConnectProviders"
)

// DefaultAuthority is the Microsoft Entra authority a tenant id resolves
// against when no issuer is given.
const DefaultAuthority = "https://login.microsoftonline.com"

// Microsoft registration keys.
const (
	msSecretSettingName = "clientSecretSettingName"
	msCertThumbprint    = "clientSecretCertificateThumbprint"
	msCertSAN           = "clientSecretCertificateSubjectAlternativeName"
	msCertIssuer        = "clientSecretCertificateIssuer"
)

// providerShape names the registration keys of a provider, the app secret
// a client secret is stored in, and which optional sections it takes.
type providerShape struct {
	idKey     string
	secretKey string
	secret    string
	scopes    bool
	audiences bool
}

var providerShapes = map[string]providerShape{
	ProviderMicrosoft: {idKey: "clientId", secretKey: msSecretSettingName, secret: "microsoft-provider-authentication-secret", audiences: true},
	ProviderFacebook:  {idKey: "appId", secretKey: "appSecretSettingName", secret: "facebook-provider-authentication-secret", scopes: true},
	ProviderGitHub:    {idKey: "clientId", secretKey: "clientSecretSettingName", secret: "github-provider-authentication-secret", scopes: true},
	ProviderGoogle:    {idKey: "clientId", secretKey: "clientSecretSettingName", secret: "google-provider-authentication-secret", scopes: true, audiences: true},
	ProviderTwitter:   {idKey: "consumerKey", secretKey: "consumerSecretSettingName", secret: "twitter-provider-authentication-secret"},
	ProviderApple:     {idKey: "clientId", secretKey: "clientSecretSettingName", secret: "apple-provider-authentication-secret", scopes: true},
}

// AuthOptions are the platform and global validation settings of built-in
// authentication. Unset fields keep the current value.
type AuthOptions struct {
	Enabled                     *bool
	RuntimeVersion              string
	UnauthenticatedClientAction string `validate:"omitempty,oneof=RedirectToLoginPage AllowAnonymous Return401 Return403"`
	RedirectProvider            string
	ExcludedPaths               []string
}

// ProviderOptions configure one identity provider. Unset fields keep the
// current value. ClientSecret is stored as an app secret and referenced by
// name, which needs SecretConfirmed.
type ProviderOptions struct {
	ClientID                string
	ClientSecret            string
	ClientSecretSettingName string
	SecretConfirmed         bool

	// Microsoft only.
	Issuer                string `validate:"omitempty,url"`
	TenantID              string
	Authority             string
	CertificateThumbprint string
	CertificateSAN        string
	CertificateIssuer     string

	// Facebook only.
	GraphAPIVersion string

	// OpenID Connect only.
	OpenIDConfiguration string `validate:"omitempty,url"`

	Scopes           []string
	AllowedAudiences []string
}

func (o ProviderOptions) check(provider string) error {
	shape := providerShapes[provider]
	if o.ClientSecret != "" && o.ClientSecretSettingName != "" {
		return apperrors.Validation("usage error: --client-secret and --client-secret-setting-name cannot both be set")
	}
	if o.Scopes != nil && !shape.scopes {
		return apperrors.Validation("usage error: provider %s does not take scopes", provider)
	}
	if o.AllowedAudiences != nil && !shape.audiences {
		return apperrors.Validation("usage error: provider %s does not take allowed audiences", provider)
	}
	if o.GraphAPIVersion != "" && provider != ProviderFacebook {
		return apperrors.Validation("usage error: --graph-api-version applies to the Facebook provider only")
	}
	if o.OpenIDConfiguration != "" {
		return apperrors.Validation("usage error: --openid-configuration applies to custom OpenID Connect providers only")
	}
	if provider != ProviderMicrosoft {
		if o.Issuer != "" || o.TenantID != "" || o.CertificateThumbprint != "" || o.CertificateSAN != "" || o.CertificateIssuer != "" {
			return apperrors.Validation("usage error: issuer, tenant and certificate settings apply to the Microsoft provider only")
		}
		return nil
	}

	secret := o.ClientSecret != "" || o.ClientSecretSettingName != ""
	if secret && (o.CertificateThumbprint != "" || o.CertificateSAN != "") {
		return apperrors.Validation("usage error: a client secret cannot be combined with --thumbprint or --san")
	}
	if o.CertificateThumbprint != "" && o.CertificateSAN != "" {
		return apperrors.Validation("usage error: --thumbprint and --san cannot both be set")
	}
	if (o.CertificateSAN == "") != (o.CertificateIssuer == "") {
		return apperrors.Validation("usage error: --san and --certificate-issuer must be set together")
	}
	if o.Issuer != "" && o.TenantID != "" {
		return apperrors.Validation("usage error: --issuer and --tenant-id cannot both be set")
	}
	return nil
}

func (o ProviderOptions) checkOIDC(provider string) error {
	if provider == "" {
		return apperrors.RequiredArgument("usage error: --provider-name is required")
	}
	if o.ClientSecret != "" && o.ClientSecretSettingName != "" {
		return apperrors.Validation("usage error: --client-secret and --client-secret-setting-name cannot both be set")
	}
	if o.Issuer != "" || o.TenantID != "" || o.CertificateThumbprint != "" || o.CertificateSAN != "" ||
		o.CertificateIssuer != "" || o.GraphAPIVersion != "" || o.AllowedAudiences != nil {
		return apperrors.Validation("usage error: custom OpenID Connect providers take a client, a secret, an OpenID configuration and scopes only")
	}
	return nil
}

// openIDIssuer is the explicit issuer or the v2.0 issuer of the tenant.
func (o ProviderOptions) openIDIssuer() string {
	if o.Issuer != "" || o.TenantID == "" {
		return o.Issuer
	}
	authority := o.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimRight(authority, "/") + "/" + o.TenantID + "/v2.0"
}

func (o ProviderOptions) microsoftRegistration() bool {
	return o.Issuer != "" || o.TenantID != "" || o.CertificateThumbprint != "" || o.CertificateSAN != ""
}

// applyMicrosoft sets the credential and issuer of a Microsoft
// registration. A secret, a thumbprint and a SAN/issuer pair replace each
// other.
func (o ProviderOptions) applyMicrosoft(reg map[string]any, secretSet bool) {
	if secretSet {
		delete(reg, msCertThumbprint)
		delete(reg, msCertSAN)
		delete(reg, msCertIssuer)
	}
	if o.CertificateThumbprint != "" {
		reg[msCertThumbprint] = o.CertificateThumbprint
		delete(reg, msSecretSettingName)
		delete(reg, msCertSAN)
		delete(reg, msCertIssuer)
	}
	if o.CertificateSAN != "" {
		reg[msCertSAN] = o.CertificateSAN
		reg[msCertIssuer] = o.CertificateIssuer
		delete(reg, msSecretSettingName)
		delete(reg, msCertThumbprint)
	}
	if issuer := o.openIDIssuer(); issuer != "" {
		reg["openIdIssuer"] = issuer
	}
}

// oidcSecretName is the app secret holding the client secret of a custom
// OpenID Connect provider.
func oidcSecretName(provider string) string {
	prefix := strings.ToLower(provider)
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return prefix + "-authentication-secret"
}

// UpdateAuth upserts the auth config of an app.
func (a *Apps) UpdateAuth(ctx context.Context, rg, name string, opts AuthOptions) (*envelope.AuthConfig, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if _, err := a.Show(ctx, rg, name); err != nil {
		return nil, err
	}
	cfg, _, err := a.authConfigFor(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	props := cfg.Properties

	if opts.Enabled != nil || opts.RuntimeVersion != "" {
		if props.Platform == nil {
			props.Platform = &envelope.AuthPlatform{}
		}
		if opts.Enabled != nil {
			props.Platform.Enabled = opts.Enabled
		}
		if opts.RuntimeVersion != "" {
			props.Platform.RuntimeVersion = opts.RuntimeVersion
		}
	}
	if opts.UnauthenticatedClientAction != "" || opts.RedirectProvider != "" || opts.ExcludedPaths != nil {
		if props.GlobalValidation == nil {
			props.GlobalValidation = &envelope.GlobalValidation{}
		}
		gv := props.GlobalValidation
		if opts.UnauthenticatedClientAction != "" {
			gv.UnauthenticatedClientAction = opts.UnauthenticatedClientAction
		}
		if opts.RedirectProvider != "" {
			gv.RedirectToProvider = opts.RedirectProvider
		}
		if opts.ExcludedPaths != nil {
			gv.ExcludedPaths = opts.ExcludedPaths
		}
		if gv.UnauthenticatedClientAction == envelope.UnauthenticatedRedirect && gv.RedirectToProvider == "" && props.IdentityProviders != nil {
			a.logger.Warn("Unauthenticated requests redirect to a login page but no redirect provider is set")
		}
	}
	return a.Clients.AuthConfigs.CreateOrUpdate(ctx, rg, name, clients.AuthConfigName, cfg)
}

// ShowAuth returns the auth config; an app without one reports an empty
// config.
func (a *Apps) ShowAuth(ctx context.Context, rg, name string) (*envelope.AuthConfig, error) {
	cfg, found, err := a.Clients.AuthConfigs.Show(ctx, rg, name, clients.AuthConfigName)
	if err != nil {
		return nil, err
	}
	if !found {
		return &envelope.AuthConfig{}, nil
	}
	return cfg, nil
}

// UpdateAuthProvider configures one built-in identity provider and returns
// its settings as reported by the service.
func (a *Apps) UpdateAuthProvider(ctx context.Context, rg, name, provider string, opts ProviderOptions) (map[string]any, error) {
	shape, ok := providerShapes[provider]
	if !ok {
		return nil, apperrors.Validation("unknown identity provider %q", provider)
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if err := opts.check(provider); err != nil {
		return nil, err
	}
	if err := a.authPrecheck(ctx, rg, name, opts); err != nil {
		return nil, err
	}
	cfg, providers, err := a.providersFor(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	section, exists := providers[provider].(map[string]any)
	if !exists {
		section = map[string]any{}
		providers[provider] = section
	}
	if provider == ProviderMicrosoft && !exists && opts.Issuer == "" && opts.TenantID == "" {
		return nil, apperrors.RequiredArgument("usage error: --issuer or --tenant-id is required to register the Microsoft provider")
	}

	secretName, err := a.storeProviderSecret(ctx, rg, name, shape.secret, opts)
	if err != nil {
		return nil, err
	}
	if opts.ClientID != "" || secretName != "" || (provider == ProviderMicrosoft && opts.microsoftRegistration()) {
		reg := child(section, "registration")
		if opts.ClientID != "" {
			reg[shape.idKey] = opts.ClientID
		}
		if secretName != "" {
			reg[shape.secretKey] = secretName
		}
		if provider == ProviderMicrosoft {
			opts.applyMicrosoft(reg, secretName != "")
		}
	}
	if opts.Scopes != nil {
		child(section, "login")["scopes"] = opts.Scopes
	}
	if opts.AllowedAudiences != nil {
		child(section, "validation")["allowedAudiences"] = opts.AllowedAudiences
	}
	if opts.GraphAPIVersion != "" {
		section["graphApiVersion"] = opts.GraphAPIVersion
	}

	updated, err := a.putProviders(ctx, rg, name, cfg, providers)
	if err != nil {
		return nil, err
	}
	return sectionOf(updated, provider), nil
}

// ShowAuthProvider returns the settings of a built-in identity provider,
// empty when it is not configured.
func (a *Apps) ShowAuthProvider(ctx context.Context, rg, name, provider string) (map[string]any, error) {
	if _, ok := providerShapes[provider]; !ok {
		return nil, apperrors.Validation("unknown identity provider %q", provider)
	}
	providers, err := a.currentProviders(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	return sectionOf(providers, provider), nil
}

// AddOIDCProvider registers a custom OpenID Connect provider. Scopes
// default to openid.
func (a *Apps) AddOIDCProvider(ctx context.Context, rg, name, provider string, opts ProviderOptions) (map[string]any, error) {
	if err := opts.checkOIDC(provider); err != nil {
		return nil, err
	}
	if opts.ClientID == "" || opts.OpenIDConfiguration == "" {
		return nil, apperrors.RequiredArgument("usage error: --client-id and --openid-configuration are required")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if err := a.authPrecheck(ctx, rg, name, opts); err != nil {
		return nil, err
	}
	cfg, providers, err := a.providersFor(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	custom := child(providers, customOIDCProviders)
	if _, ok := custom[provider]; ok {
		return nil, apperrors.AlreadyExists("custom OpenID Connect provider %s is already configured; update it instead", provider)
	}

	secretName, err := a.storeProviderSecret(ctx, rg, name, oidcSecretName(provider), opts)
	if err != nil {
		return nil, err
	}
	reg := map[string]any{
		"clientId":                   opts.ClientID,
		"openIdConnectConfiguration": map[string]any{"wellKnownOpenIdConfiguration": opts.OpenIDConfiguration},
	}
	if secretName != "" {
		reg["clientCredential"] = map[string]any{"clientSecretSettingName": secretName}
	}
	scopes := opts.Scopes
	if scopes == nil {
		scopes = []string{"openid"}
	}
	custom[provider] = map[string]any{
		"registration": reg,
		"login":        map[string]any{"scopes": scopes},
	}

	updated, err := a.putProviders(ctx, rg, name, cfg, providers)
	if err != nil {
		return nil, err
	}
	return sectionOf(sectionOf(updated, customOIDCProviders), provider), nil
}

// UpdateOIDCProvider changes a configured custom OpenID Connect provider.
func (a *Apps) UpdateOIDCProvider(ctx context.Context, rg, name, provider string, opts ProviderOptions) (map[string]any, error) {
	if err := opts.checkOIDC(provider); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	if err := a.authPrecheck(ctx, rg, name, opts); err != nil {
		return nil, err
	}
	cfg, providers, err := a.providersFor(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	section, err := oidcSection(providers, provider)
	if err != nil {
		return nil, err
	}

	secretName, err := a.storeProviderSecret(ctx, rg, name, oidcSecretName(provider), opts)
	if err != nil {
		return nil, err
	}
	if opts.ClientID != "" || secretName != "" || opts.OpenIDConfiguration != "" {
		reg := child(section, "registration")
		if opts.ClientID != "" {
			reg["clientId"] = opts.ClientID
		}
		if secretName != "" {
			child(reg, "clientCredential")["clientSecretSettingName"] = secretName
		}
		if opts.OpenIDConfiguration != "" {
			child(reg, "openIdConnectConfiguration")["wellKnownOpenIdConfiguration"] = opts.OpenIDConfiguration
		}
	}
	if opts.Scopes != nil {
		child(section, "login")["scopes"] = opts.Scopes
	}

	updated, err := a.putProviders(ctx, rg, name, cfg, providers)
	if err != nil {
		return nil, err
	}
	return sectionOf(sectionOf(updated, customOIDCProviders), provider), nil
}

// ShowOIDCProvider returns a configured custom OpenID Connect provider.
func (a *Apps) ShowOIDCProvider(ctx context.Context, rg, name, provider string) (map[string]any, error) {
	providers, err := a.currentProviders(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	return oidcSection(providers, provider)
}

// RemoveOIDCProvider drops a custom OpenID Connect provider. The app
// secret holding its client secret is kept.
func (a *Apps) RemoveOIDCProvider(ctx context.Context, rg, name, provider string) error {
	cfg, providers, err := a.providersFor(ctx, rg, name)
	if err != nil {
		return err
	}
	if _, err := oidcSection(providers, provider); err != nil {
		return err
	}
	delete(sectionOf(providers, customOIDCProviders), provider)
	_, err = a.putProviders(ctx, rg, name, cfg, providers)
	return err
}

// authConfigFor returns the auth config of an app ready for a PUT, or an
// empty one when the app has none.
func (a *Apps) authConfigFor(ctx context.Context, rg, name string) (*envelope.AuthConfig, bool, error) {
	cfg, found, err := a.Clients.AuthConfigs.Show(ctx, rg, name, clients.AuthConfigName)
	if err != nil {
		return nil, false, err
	}
	if !found {
		cfg = &envelope.AuthConfig{}
	}
	cfg.ID, cfg.Name, cfg.Type, cfg.SystemData = "", "", "", nil
	if cfg.Properties == nil {
		cfg.Properties = &envelope.AuthConfigProperties{}
	}
	return cfg, found, nil
}

// providersFor returns the auth config with its decoded identity
// providers. A new config starts with the platform enabled.
func (a *Apps) providersFor(ctx context.Context, rg, name string) (*envelope.AuthConfig, map[string]any, error) {
	cfg, found, err := a.authConfigFor(ctx, rg, name)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		cfg.Properties.Platform = &envelope.AuthPlatform{Enabled: envelope.Ptr(true)}
	}
	providers, err := decodeProviders(cfg.Properties.IdentityProviders)
	if err != nil {
		return nil, nil, err
	}
	return cfg, providers, nil
}

func (a *Apps) currentProviders(ctx context.Context, rg, name string) (map[string]any, error) {
	cfg, err := a.ShowAuth(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if cfg.Properties == nil {
		return map[string]any{}, nil
	}
	return decodeProviders(cfg.Properties.IdentityProviders)
}

// putProviders writes providers into cfg and returns the identity
// providers the service reports back.
func (a *Apps) putProviders(ctx context.Context, rg, name string, cfg *envelope.AuthConfig, providers map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(providers)
	if err != nil {
		return nil, apperrors.Internal("encode identity providers: %v", err)
	}
	cfg.Properties.IdentityProviders = raw
	updated, err := a.Clients.AuthConfigs.CreateOrUpdate(ctx, rg, name, clients.AuthConfigName, cfg)
	if err != nil {
		return nil, err
	}
	if updated == nil || updated.Properties == nil {
		return providers, nil
	}
	return decodeProviders(updated.Properties.IdentityProviders)
}

// authPrecheck rejects providers on apps without ingress and client
// secrets the caller did not agree to store.
func (a *Apps) authPrecheck(ctx context.Context, rg, name string, opts ProviderOptions) error {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return err
	}
	if app.Ingress() == nil {
		return apperrors.Validation("%v: authentication requires ingress on container app %s", ErrNoIngress, name)
	}
	if opts.ClientSecret != "" && !opts.SecretConfirmed {
		return apperrors.Validation("usage error: --client-secret adds a secret to container app %s; confirm the prompt or pass --yes", name)
	}
	return nil
}

// storeProviderSecret saves a client secret as the app secret named secret
// and returns the setting name the provider should reference.
func (a *Apps) storeProviderSecret(ctx context.Context, rg, name, secret string, opts ProviderOptions) (string, error) {
	if opts.ClientSecret == "" {
		return opts.ClientSecretSettingName, nil
	}
	if _, err := a.SetSecrets(ctx, rg, name, []string{secret + "=" + opts.ClientSecret}, false); err != nil {
		return "", err
	}
	return secret, nil
}

func decodeProviders(raw json.RawMessage) (map[string]any, error) {
	providers := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return providers, nil
	}
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, apperrors.Internal("decode identity providers: %v", err)
	}
	if providers == nil {
		providers = map[string]any{}
	}
	return providers, nil
}

func oidcSection(providers map[string]any, provider string) (map[string]any, error) {
	if provider == "" {
		return nil, apperrors.RequiredArgument("usage error: --provider-name is required")
	}
	section, ok := sectionOf(providers, customOIDCProviders)[provider].(map[string]any)
	if !ok {
		return nil, apperrors.NotFound("custom OpenID Connect provider %s is not configured", provider)
	}
	return section, nil
}

// child returns m[key] as a map, creating it when absent.
func child(m map[string]any, key string) map[string]any {
	c, ok := m[key].(map[string]any)
	if !ok {
		c = map[string]any{}
		m[key] = c
	}
	return c
}

// sectionOf returns m[key] as a map without creating it.
func sectionOf(m map[string]any, key string) map[string]any {
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	return map[string]any{}
}
